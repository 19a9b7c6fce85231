package model

import (
	"fmt"
	"strings"
	"time"

	"sanskrit-enrollment/internal/domain"
)

type SubscriptionStatus string

const (
	SubscriptionActive      SubscriptionStatus = "active"
	SubscriptionCancelled   SubscriptionStatus = "cancelled"
	SubscriptionExpired     SubscriptionStatus = "expired"
	SubscriptionPaused      SubscriptionStatus = "paused"
	SubscriptionGracePeriod SubscriptionStatus = "grace_period"
)

const (
	DefaultGraceWindow     = 7 * 24 * time.Hour
	DefaultMaxRenewalTries = 3
)

// SubscriptionPolicy is fixed per deployment; callers never pass it per call.
type SubscriptionPolicy struct {
	GraceWindow time.Duration
	MaxAttempts int
}

func DefaultSubscriptionPolicy() SubscriptionPolicy {
	return SubscriptionPolicy{GraceWindow: DefaultGraceWindow, MaxAttempts: DefaultMaxRenewalTries}
}

func (p SubscriptionPolicy) normalized() SubscriptionPolicy {
	if p.GraceWindow <= 0 {
		p.GraceWindow = DefaultGraceWindow
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxRenewalTries
	}
	return p
}

type GracePeriod struct {
	StartedAt time.Time `json:"startedAt"`
	EndsAt    time.Time `json:"endsAt"`
	Attempts  int       `json:"attempts"`
}

type Renewal struct {
	PaymentID   string    `json:"paymentId"`
	Amount      int64     `json:"amount"`
	RenewedAt   time.Time `json:"renewedAt"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}

type Subscription struct {
	Status                  SubscriptionStatus `json:"status"`
	StartDate               time.Time          `json:"startDate"`
	EndDate                 time.Time          `json:"endDate"`
	NextBillingDate         time.Time          `json:"nextBillingDate"`
	AutoRenew               bool               `json:"autoRenew"`
	CancelledAt             *time.Time         `json:"cancelledAt,omitempty"`
	CancellationEffectiveAt *time.Time         `json:"cancellationEffectiveAt,omitempty"`
	CancellationReason      string             `json:"cancellationReason,omitempty"`
	UserReason              string             `json:"userReason,omitempty"`
	GracePeriod             *GracePeriod       `json:"gracePeriod,omitempty"`
	FailedAttempts          int                `json:"failedAttempts"`
	LastFailureReason       string             `json:"lastFailureReason,omitempty"`
	Renewals                []Renewal          `json:"renewals"`
	GatewaySubscriptionID   string             `json:"gatewaySubscriptionId,omitempty"`
}

func newSubscription(t EnrollmentType, now time.Time) *Subscription {
	end := t.PeriodEnd(now)
	return &Subscription{
		Status:          SubscriptionActive,
		StartDate:       now,
		EndDate:         end,
		NextBillingDate: end,
		AutoRenew:       true,
		Renewals:        []Renewal{},
	}
}

func (s *Subscription) clone() *Subscription {
	cp := *s
	cp.Renewals = append([]Renewal(nil), s.Renewals...)
	if s.GracePeriod != nil {
		g := *s.GracePeriod
		cp.GracePeriod = &g
	}
	if s.CancelledAt != nil {
		t := *s.CancelledAt
		cp.CancelledAt = &t
	}
	if s.CancellationEffectiveAt != nil {
		t := *s.CancellationEffectiveAt
		cp.CancellationEffectiveAt = &t
	}
	return &cp
}

func (s *Subscription) hasRenewal(paymentID string) bool {
	for _, r := range s.Renewals {
		if r.PaymentID == paymentID {
			return true
		}
	}
	return false
}

// Renew extends the subscription by one period counted from the previous end
// date, never from now, so late renewals do not drift. Idempotent on paymentID.
func (e *Enrollment) Renew(paymentID string, amount int64, now time.Time) (bool, error) {
	s := e.Subscription
	if s == nil {
		return false, fmt.Errorf("%w (enrollment=%s type=%s)", domain.ErrNotSubscription, e.ID, e.Type)
	}
	if strings.TrimSpace(paymentID) == "" {
		return false, fmt.Errorf("%w: renewal payment id is required", domain.ErrValidation)
	}
	if paymentID == e.Payment.PaymentID || s.hasRenewal(paymentID) {
		return false, nil
	}
	if s.Status == SubscriptionCancelled {
		return false, domain.NewTransitionError("subscription "+e.ID, string(s.Status), string(SubscriptionActive))
	}
	start := s.EndDate
	end := e.Type.PeriodEnd(start)
	s.Renewals = append(s.Renewals, Renewal{
		PaymentID:   paymentID,
		Amount:      amount,
		RenewedAt:   now,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	s.EndDate = end
	s.NextBillingDate = end
	s.GracePeriod = nil
	s.Status = SubscriptionActive
	if e.Access.Status == AccessSuspended || e.Access.Status == AccessExpired {
		e.Access.Status = AccessActive
	}
	e.Access.ExpiresAt = &end
	e.UpdatedAt = now
	return true, nil
}

// RecordFailedPayment opens (or continues) the grace period. Reaching the
// attempt ceiling expires the subscription and suspends access; further calls
// are no-ops.
func (e *Enrollment) RecordFailedPayment(reason string, now time.Time, policy SubscriptionPolicy) (bool, error) {
	s := e.Subscription
	if s == nil {
		return false, fmt.Errorf("%w (enrollment=%s type=%s)", domain.ErrNotSubscription, e.ID, e.Type)
	}
	if s.Status == SubscriptionExpired || s.Status == SubscriptionCancelled {
		return false, nil
	}
	p := policy.normalized()
	s.FailedAttempts++
	s.LastFailureReason = reason
	if s.GracePeriod == nil {
		s.GracePeriod = &GracePeriod{StartedAt: now, EndsAt: now.Add(p.GraceWindow)}
	}
	s.GracePeriod.Attempts++
	s.Status = SubscriptionGracePeriod
	if s.GracePeriod.Attempts >= p.MaxAttempts {
		s.Status = SubscriptionExpired
		e.Access.Status = AccessSuspended
	}
	e.UpdatedAt = now
	return true, nil
}

// CancelSubscription either ends the subscription now or turns off auto-renew
// and lets it run to the end of the paid period.
func (e *Enrollment) CancelSubscription(reason, userReason string, immediate bool, now time.Time) (bool, error) {
	s := e.Subscription
	if s == nil {
		return false, fmt.Errorf("%w (enrollment=%s type=%s)", domain.ErrNotSubscription, e.ID, e.Type)
	}
	if s.Status == SubscriptionCancelled {
		return false, nil
	}
	if !immediate && s.Status == SubscriptionExpired {
		// already lapsed: stop renewals and keep the record; access stays as it is
		if !s.AutoRenew && s.CancelledAt != nil {
			return false, nil
		}
		s.AutoRenew = false
		s.CancelledAt = &now
		s.CancellationReason = reason
		s.UserReason = userReason
		e.UpdatedAt = now
		return true, nil
	}
	if !immediate {
		if !s.AutoRenew && s.CancellationEffectiveAt != nil {
			return false, nil
		}
		end := s.EndDate
		s.AutoRenew = false
		s.CancelledAt = &now
		s.CancellationEffectiveAt = &end
		s.CancellationReason = reason
		s.UserReason = userReason
		e.UpdatedAt = now
		return true, nil
	}
	s.Status = SubscriptionCancelled
	s.AutoRenew = false
	s.CancelledAt = &now
	s.CancellationEffectiveAt = &now
	s.CancellationReason = reason
	s.UserReason = userReason
	s.GracePeriod = nil
	if e.Access.Status == AccessActive || e.Access.Status == AccessSuspended {
		e.Access.Status = AccessExpired
	}
	e.Access.ExpiresAt = &now
	e.UpdatedAt = now
	return true, nil
}

// Refresh applies time-driven transitions lazily: scheduled cancellations that
// reached their date, overdue renewals entering grace, and grace windows that
// ran out.
func (e *Enrollment) Refresh(now time.Time, policy SubscriptionPolicy) bool {
	s := e.Subscription
	if s == nil {
		return false
	}
	p := policy.normalized()
	changed := false
	if s.Status == SubscriptionActive && !now.Before(s.EndDate) {
		if !s.AutoRenew {
			s.Status = SubscriptionCancelled
			if e.Access.Status == AccessActive {
				e.Access.Status = AccessExpired
			}
		} else {
			s.Status = SubscriptionGracePeriod
			s.GracePeriod = &GracePeriod{StartedAt: s.EndDate, EndsAt: s.EndDate.Add(p.GraceWindow)}
		}
		changed = true
	}
	if s.Status == SubscriptionGracePeriod && s.GracePeriod != nil && !now.Before(s.GracePeriod.EndsAt) {
		s.Status = SubscriptionExpired
		if e.Access.Status == AccessActive {
			e.Access.Status = AccessSuspended
		}
		changed = true
	}
	if changed {
		e.UpdatedAt = now
	}
	return changed
}
