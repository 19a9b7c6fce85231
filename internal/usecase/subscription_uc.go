// File: internal/usecase/subscription_uc.go
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
	ucport "sanskrit-enrollment/internal/domain/ports/usecase"
	"sanskrit-enrollment/internal/infra/logging"
	"sanskrit-enrollment/internal/infra/metrics"
)

// EnrollmentRef locates an enrollment. Lookup order: ID, gateway
// subscription id, then (UserID, CourseID).
type EnrollmentRef struct {
	ID                    string
	GatewaySubscriptionID string
	UserID                string
	CourseID              string
}

func (r EnrollmentRef) String() string {
	switch {
	case r.ID != "":
		return r.ID
	case r.GatewaySubscriptionID != "":
		return "subscription:" + r.GatewaySubscriptionID
	}
	return r.UserID + "/" + r.CourseID
}

// Compile-time checks
var (
	_ SubscriptionUseCase       = (*subscriptionUC)(nil)
	_ ucport.SubscriptionSweeper = (*subscriptionUC)(nil)
)

// SubscriptionUseCase drives the billing lifecycle of subscription
// enrollments. The grace window and attempt ceiling are fixed at construction.
type SubscriptionUseCase interface {
	RenewSubscription(ctx context.Context, ref EnrollmentRef, paymentID string, amount int64) (*model.Enrollment, bool, error)
	HandleFailedPayment(ctx context.Context, ref EnrollmentRef, reason string) (*model.Enrollment, bool, error)
	CancelSubscription(ctx context.Context, ref EnrollmentRef, reason, userReason string, immediate bool) (*model.Enrollment, bool, error)
	// SweepDue applies time-driven transitions to subscriptions whose period
	// or grace window has ended.
	SweepDue(ctx context.Context, now time.Time) (int, error)
}

type subscriptionUC struct {
	enrollments repository.EnrollmentRepository
	tm          repository.TransactionManager
	policy      model.SubscriptionPolicy
	batch       int
	log         *zerolog.Logger
}

func NewSubscriptionUseCase(enrollments repository.EnrollmentRepository, tm repository.TransactionManager, policy model.SubscriptionPolicy, logger *zerolog.Logger) *subscriptionUC {
	l := logger.With().Str("component", "subscriptions").Logger()
	return &subscriptionUC{
		enrollments: enrollments,
		tm:          tm,
		policy:      policy,
		batch:       200,
		log:         &l,
	}
}

func findEnrollment(ctx context.Context, repo repository.EnrollmentRepository, tx repository.Tx, ref EnrollmentRef) (*model.Enrollment, error) {
	switch {
	case ref.ID != "":
		return repo.FindByID(ctx, tx, ref.ID)
	case ref.GatewaySubscriptionID != "":
		e, err := repo.FindByGatewaySubscriptionID(ctx, tx, ref.GatewaySubscriptionID)
		if !errors.Is(err, domain.ErrNotFound) || ref.UserID == "" || ref.CourseID == "" {
			return e, err
		}
	}
	if ref.UserID == "" || ref.CourseID == "" {
		return nil, fmt.Errorf("%w: enrollment reference is empty", domain.ErrValidation)
	}
	return repo.FindByUserAndCourse(ctx, tx, ref.UserID, ref.CourseID)
}

// apply locks the enrollment, runs op and saves on change.
func (u *subscriptionUC) apply(ctx context.Context, name string, ref EnrollmentRef, op func(e *model.Enrollment, now time.Time) (bool, error)) (*model.Enrollment, bool, error) {
	var (
		out     *model.Enrollment
		changed bool
	)
	err := u.tm.WithTx(ctx, ledgerTxOptions, func(ctx context.Context, tx repository.Tx) error {
		e, err := findEnrollment(ctx, u.enrollments, tx, ref)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		// catch up on anything the sweeper has not applied yet
		refreshed := e.Refresh(now, u.policy)
		c, err := op(e, now)
		if err != nil {
			return err
		}
		out, changed = e, c
		if c || refreshed {
			return u.enrollments.Update(ctx, tx, e)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if changed {
		metrics.IncSubscriptionTransition(name, string(out.Subscription.Status))
		logging.With(ctx, u.log).Info().
			Str("enrollment_id", out.ID).
			Str("op", name).
			Str("status", string(out.Subscription.Status)).
			Str("access", string(out.Access.Status)).
			Msg("subscription updated")
	}
	return out, changed, nil
}

func (u *subscriptionUC) RenewSubscription(ctx context.Context, ref EnrollmentRef, paymentID string, amount int64) (*model.Enrollment, bool, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.RenewSubscription")()
	return u.apply(ctx, "renew", ref, func(e *model.Enrollment, now time.Time) (bool, error) {
		return e.Renew(paymentID, amount, now)
	})
}

func (u *subscriptionUC) HandleFailedPayment(ctx context.Context, ref EnrollmentRef, reason string) (*model.Enrollment, bool, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.HandleFailedPayment")()
	return u.apply(ctx, "payment_failed", ref, func(e *model.Enrollment, now time.Time) (bool, error) {
		return e.RecordFailedPayment(reason, now, u.policy)
	})
}

func (u *subscriptionUC) CancelSubscription(ctx context.Context, ref EnrollmentRef, reason, userReason string, immediate bool) (*model.Enrollment, bool, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.CancelSubscription")()
	op := "cancel_scheduled"
	if immediate {
		op = "cancel_immediate"
	}
	return u.apply(ctx, op, ref, func(e *model.Enrollment, now time.Time) (bool, error) {
		return e.CancelSubscription(reason, userReason, immediate, now)
	})
}

func (u *subscriptionUC) SweepDue(ctx context.Context, now time.Time) (int, error) {
	defer logging.TraceDuration(u.log, "SubscriptionUC.SweepDue")()

	due, err := u.enrollments.ListSubscriptionsDue(ctx, repository.NoTX, now, u.batch)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, candidate := range due {
		if ctx.Err() != nil {
			break
		}
		var status model.SubscriptionStatus
		err := u.tm.WithTx(ctx, ledgerTxOptions, func(ctx context.Context, tx repository.Tx) error {
			e, err := u.enrollments.FindByID(ctx, tx, candidate.ID)
			if err != nil {
				return err
			}
			if !e.Refresh(now, u.policy) {
				return nil
			}
			status = e.Subscription.Status
			return u.enrollments.Update(ctx, tx, e)
		})
		if err != nil {
			u.log.Error().Err(err).Str("enrollment_id", candidate.ID).Msg("sweep failed for enrollment")
			continue
		}
		if status != "" {
			n++
			metrics.IncSubscriptionTransition("sweep", string(status))
		}
	}
	metrics.IncSubscriptionsSwept(n)
	if n > 0 {
		u.log.Info().Int("count", n).Msg("subscriptions swept")
	}
	return n, ctx.Err()
}
