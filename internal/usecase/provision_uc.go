// File: internal/usecase/provision_uc.go
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

// Provisioning triggers, recorded as a metric label and on the ledger event.
const (
	TriggerVerify         = "verify"
	TriggerVerifyFallback = "verify_fallback"
	TriggerWebhook        = "webhook"
	TriggerReconcile      = "reconcile"
)

// Compile-time check
var _ ProvisionUseCase = (*provisionUC)(nil)

// ProvisionUseCase is the single entry point that turns a paid transaction
// into an enrollment. Every trigger calls Provision; the (user, course)
// unique constraint settles races between them.
type ProvisionUseCase interface {
	// Provision returns the enrollment for (userID, courseID), creating it
	// from t if none exists. created is false when an enrollment was already
	// there, whichever transaction produced it.
	Provision(ctx context.Context, userID, courseID string, t *model.Transaction, trigger string) (e *model.Enrollment, created bool, err error)
	// RevokeForRefund withdraws access granted by a fully refunded transaction.
	RevokeForRefund(ctx context.Context, t *model.Transaction) (*model.Enrollment, bool, error)
}

type provisionUC struct {
	enrollments        repository.EnrollmentRepository
	courses            repository.CourseRepository
	ledger             LedgerUseCase
	tm                 repository.TransactionManager
	defaultDeviceLimit int
	log                *zerolog.Logger
}

func NewProvisionUseCase(
	enrollments repository.EnrollmentRepository,
	courses repository.CourseRepository,
	ledger LedgerUseCase,
	tm repository.TransactionManager,
	defaultDeviceLimit int,
	logger *zerolog.Logger,
) *provisionUC {
	l := logger.With().Str("component", "provisioner").Logger()
	return &provisionUC{
		enrollments:        enrollments,
		courses:            courses,
		ledger:             ledger,
		tm:                 tm,
		defaultDeviceLimit: defaultDeviceLimit,
		log:                &l,
	}
}

func (u *provisionUC) Provision(ctx context.Context, userID, courseID string, t *model.Transaction, trigger string) (*model.Enrollment, bool, error) {
	defer logging.TraceDuration(u.log, "ProvisionUC.Provision")()

	if t == nil {
		return nil, false, domain.ErrInvalidArgument
	}
	if t.UserID != userID || t.CourseID != courseID {
		return nil, false, fmt.Errorf("%w: transaction %s belongs to another user or course", domain.ErrValidation, t.ID)
	}

	// 1. existing enrollment wins, unchanged
	existing, err := u.enrollments.FindByUserAndCourse(ctx, repository.NoTX, userID, courseID)
	if err == nil && existing != nil {
		metrics.IncProvisioned(trigger, false)
		return existing, false, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	// 2. course resolves the instructor and device limit
	course, err := u.courses.FindByID(ctx, repository.NoTX, courseID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, false, fmt.Errorf("%w %s", domain.ErrCourseNotFound, courseID)
	}
	if err != nil {
		return nil, false, err
	}

	// 3. build
	e, err := model.NewEnrollment(t, course, u.defaultDeviceLimit, time.Now().UTC())
	if err != nil {
		return nil, false, err
	}

	// 4. insert; a lost race surfaces as ErrAlreadyExists
	if err := u.enrollments.Save(ctx, repository.NoTX, e); err != nil {
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, false, err
		}
		winner, ferr := u.enrollments.FindByUserAndCourse(ctx, repository.NoTX, userID, courseID)
		if ferr != nil {
			return nil, false, ferr
		}
		logging.With(ctx, u.log).Info().Str("enrollment_id", winner.ID).Str("trigger", trigger).Msg("concurrent provisioning lost the race")
		metrics.IncProvisioned(trigger, false)
		return winner, false, nil
	}

	metrics.IncProvisioned(trigger, true)
	logging.With(ctx, u.log).Info().
		Str("enrollment_id", e.ID).
		Str("transaction_id", t.ID).
		Str("trigger", trigger).
		Msg("enrollment provisioned")

	if err := u.ledger.AddEvent(ctx, model.TransactionRef{ID: t.ID}, model.EventEnrollmentProvisioned, map[string]any{
		"enrollmentId": e.ID,
		"trigger":      trigger,
	}, model.SourceSystem); err != nil {
		u.log.Warn().Err(err).Str("transaction_id", t.ID).Msg("could not record provisioning on the ledger")
	}
	return e, true, nil
}

func (u *provisionUC) RevokeForRefund(ctx context.Context, t *model.Transaction) (*model.Enrollment, bool, error) {
	defer logging.TraceDuration(u.log, "ProvisionUC.RevokeForRefund")()

	if t == nil || !t.FullyRefunded() {
		return nil, false, nil
	}
	var (
		out     *model.Enrollment
		revoked bool
	)
	err := u.tm.WithTx(ctx, ledgerTxOptions, func(ctx context.Context, tx repository.Tx) error {
		e, err := u.enrollments.FindByTransactionID(ctx, tx, t.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out = e
		if !e.RevokeForRefund(t.ID, time.Now().UTC()) {
			return nil
		}
		revoked = true
		return u.enrollments.Update(ctx, tx, e)
	})
	if err != nil || !revoked {
		return out, false, err
	}

	logging.With(ctx, u.log).Info().Str("enrollment_id", out.ID).Str("transaction_id", t.ID).Msg("access revoked after full refund")
	if err := u.ledger.AddEvent(ctx, model.TransactionRef{ID: t.ID}, model.EventAccessRevoked, map[string]any{
		"enrollmentId": out.ID,
	}, model.SourceSystem); err != nil {
		u.log.Warn().Err(err).Str("transaction_id", t.ID).Msg("could not record revocation on the ledger")
	}
	return out, true, nil
}
