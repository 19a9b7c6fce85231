// File: internal/usecase/access_uc.go
package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/repository"
	"sanskrit-enrollment/internal/infra/logging"
	"sanskrit-enrollment/internal/infra/metrics"
)

// Compile-time check
var _ AccessUseCase = (*accessUC)(nil)

// AccessUseCase gates content delivery per device.
type AccessUseCase interface {
	// CheckAccess admits known devices and registers new ones under the
	// limit. At the limit it denies; it never evicts.
	CheckAccess(ctx context.Context, userID, courseID string, fp model.DeviceFingerprint) (model.AccessDecision, error)
	// RegisterDevice is the explicit path that may evict the least recently
	// used device when evictLeastRecent is set.
	RegisterDevice(ctx context.Context, userID, courseID string, fp model.DeviceFingerprint, evictLeastRecent bool) (model.AccessDecision, error)
	ListDevices(ctx context.Context, userID, courseID string) ([]model.Device, error)
	DeactivateDevice(ctx context.Context, userID, courseID, deviceID string) error
	GetEnrollment(ctx context.Context, userID, courseID string) (*model.Enrollment, error)
}

type accessUC struct {
	enrollments repository.EnrollmentRepository
	tm          repository.TransactionManager
	policy      model.SubscriptionPolicy
	log         *zerolog.Logger
}

func NewAccessUseCase(enrollments repository.EnrollmentRepository, tm repository.TransactionManager, policy model.SubscriptionPolicy, logger *zerolog.Logger) *accessUC {
	l := logger.With().Str("component", "access").Logger()
	return &accessUC{enrollments: enrollments, tm: tm, policy: policy, log: &l}
}

func notEnrolled(err error, courseID string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: no enrollment for course %s", domain.ErrNotFound, courseID)
	}
	return err
}

// withEnrollment locks the learner's enrollment, applies lazy subscription
// transitions and runs fn. The row is saved when either changed it.
func (u *accessUC) withEnrollment(ctx context.Context, userID, courseID string, fn func(e *model.Enrollment, now time.Time) (bool, error)) error {
	return u.tm.WithTx(ctx, ledgerTxOptions, func(ctx context.Context, tx repository.Tx) error {
		e, err := u.enrollments.FindByUserAndCourse(ctx, tx, userID, courseID)
		if err != nil {
			return notEnrolled(err, courseID)
		}
		now := time.Now().UTC()
		refreshed := e.Refresh(now, u.policy)
		changed, fnErr := fn(e, now)
		if refreshed || changed {
			if err := u.enrollments.Update(ctx, tx, e); err != nil {
				return err
			}
		}
		return fnErr
	})
}

func (u *accessUC) CheckAccess(ctx context.Context, userID, courseID string, fp model.DeviceFingerprint) (model.AccessDecision, error) {
	defer logging.TraceDuration(u.log, "AccessUC.CheckAccess")()

	var decision model.AccessDecision
	err := u.withEnrollment(ctx, userID, courseID, func(e *model.Enrollment, now time.Time) (bool, error) {
		if !e.GrantsAccess(now) {
			decision = model.AccessDecision{
				Reason:        model.DecisionEnrollmentClosed,
				DeviceLimit:   e.Access.DeviceLimit,
				ActiveDevices: e.ActiveDeviceCount(),
			}
			return false, nil
		}
		d, err := e.CheckDevice(fp, now)
		if err != nil {
			return false, err
		}
		decision = d
		return d.Allowed, nil
	})
	if err != nil {
		return model.AccessDecision{}, err
	}
	metrics.IncDeviceDecision(decision.Reason)
	if !decision.Allowed {
		logging.With(ctx, u.log).Info().
			Str("course_id", courseID).
			Str("reason", decision.Reason).
			Int("active_devices", decision.ActiveDevices).
			Msg("access denied")
	}
	return decision, nil
}

func (u *accessUC) RegisterDevice(ctx context.Context, userID, courseID string, fp model.DeviceFingerprint, evictLeastRecent bool) (model.AccessDecision, error) {
	defer logging.TraceDuration(u.log, "AccessUC.RegisterDevice")()

	var decision model.AccessDecision
	err := u.withEnrollment(ctx, userID, courseID, func(e *model.Enrollment, now time.Time) (bool, error) {
		if !e.GrantsAccess(now) {
			return false, domain.ErrAccessInactive
		}
		d, err := e.RegisterDevice(fp, evictLeastRecent, now)
		decision = d
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if errors.Is(err, domain.ErrDeviceLimitReached) {
		metrics.IncDeviceDecision(decision.Reason)
		return decision, err
	}
	if err != nil {
		return model.AccessDecision{}, err
	}
	metrics.IncDeviceDecision(decision.Reason)
	if decision.EvictedDeviceID != "" {
		logging.With(ctx, u.log).Info().
			Str("course_id", courseID).
			Str("evicted", decision.EvictedDeviceID).
			Msg("least recently used device evicted")
	}
	return decision, nil
}

func (u *accessUC) ListDevices(ctx context.Context, userID, courseID string) ([]model.Device, error) {
	defer logging.TraceDuration(u.log, "AccessUC.ListDevices")()
	e, err := u.enrollments.FindByUserAndCourse(ctx, repository.NoTX, userID, courseID)
	if err != nil {
		return nil, notEnrolled(err, courseID)
	}
	return e.ActiveDevices(), nil
}

func (u *accessUC) DeactivateDevice(ctx context.Context, userID, courseID, deviceID string) error {
	defer logging.TraceDuration(u.log, "AccessUC.DeactivateDevice")()
	return u.withEnrollment(ctx, userID, courseID, func(e *model.Enrollment, now time.Time) (bool, error) {
		if !e.DeactivateDevice(deviceID, now) {
			return false, fmt.Errorf("%w: device %s", domain.ErrNotFound, deviceID)
		}
		return true, nil
	})
}

// GetEnrollment returns the enrollment with lazy transitions applied but not
// saved; reads never take a row lock.
func (u *accessUC) GetEnrollment(ctx context.Context, userID, courseID string) (*model.Enrollment, error) {
	defer logging.TraceDuration(u.log, "AccessUC.GetEnrollment")()
	e, err := u.enrollments.FindByUserAndCourse(ctx, repository.NoTX, userID, courseID)
	if err != nil {
		return nil, notEnrolled(err, courseID)
	}
	e.Refresh(time.Now().UTC(), u.policy)
	return e, nil
}
