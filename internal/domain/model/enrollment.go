package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"sanskrit-enrollment/internal/domain"
)

type EnrollmentType string

const (
	OneTimePurchase     EnrollmentType = "one_time_purchase"
	MonthlySubscription EnrollmentType = "monthly_subscription"
	YearlySubscription  EnrollmentType = "yearly_subscription"
)

func (t EnrollmentType) Valid() bool {
	switch t {
	case OneTimePurchase, MonthlySubscription, YearlySubscription:
		return true
	}
	return false
}

func (t EnrollmentType) IsSubscription() bool {
	return t == MonthlySubscription || t == YearlySubscription
}

// PeriodEnd returns the end of one billing period starting at start.
func (t EnrollmentType) PeriodEnd(start time.Time) time.Time {
	switch t {
	case MonthlySubscription:
		return start.AddDate(0, 1, 0)
	case YearlySubscription:
		return start.AddDate(1, 0, 0)
	}
	return start
}

type AccessStatus string

const (
	AccessActive    AccessStatus = "active"
	AccessExpired   AccessStatus = "expired"
	AccessSuspended AccessStatus = "suspended"
	AccessRevoked   AccessStatus = "revoked"
)

type SnapshotStatus string

const (
	SnapshotCompleted SnapshotStatus = "completed"
	SnapshotRefunded  SnapshotStatus = "refunded"
)

// PaymentSnapshot is the copy of the confirming transaction kept on the enrollment.
type PaymentSnapshot struct {
	TransactionID string         `json:"transactionId"`
	OrderID       string         `json:"orderId"`
	PaymentID     string         `json:"paymentId"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	Status        SnapshotStatus `json:"status"`
	PaidAt        time.Time      `json:"paidAt"`
}

type Access struct {
	Status         AccessStatus `json:"status"`
	GrantedAt      time.Time    `json:"grantedAt"`
	ExpiresAt      *time.Time   `json:"expiresAt,omitempty"`
	DeviceLimit    int          `json:"deviceLimit"`
	Devices        []Device     `json:"devices"`
	AccessCount    int64        `json:"accessCount"`
	LastAccessedAt *time.Time   `json:"lastAccessedAt,omitempty"`
}

// Enrollment is a learner's entitlement to one course. There is at most one
// per (UserID, CourseID) and it is never deleted.
type Enrollment struct {
	ID           string
	UserID       string
	CourseID     string
	GuruID       string
	Type         EnrollmentType
	Payment      PaymentSnapshot
	Access       Access
	Subscription *Subscription
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewEnrollment builds the entitlement granted by a successful transaction.
func NewEnrollment(tx *Transaction, course *Course, defaultDeviceLimit int, now time.Time) (*Enrollment, error) {
	if tx == nil || course == nil {
		return nil, domain.ErrInvalidArgument
	}
	if tx.Status != TransactionSuccess {
		return nil, domain.NewTransitionError("enrollment for "+tx.ID, string(tx.Status), "provisioned")
	}
	if tx.CourseID != course.ID {
		return nil, fmt.Errorf("%w: transaction course %s does not match %s", domain.ErrValidation, tx.CourseID, course.ID)
	}
	limit := course.DeviceLimit
	if limit <= 0 {
		limit = defaultDeviceLimit
	}
	if limit <= 0 {
		limit = DefaultDeviceLimit
	}
	paidAt := now
	if tx.CompletedAt != nil {
		paidAt = *tx.CompletedAt
	}
	guruID := course.GuruID
	if guruID == "" {
		guruID = tx.GuruID
	}
	e := &Enrollment{
		ID:       uuid.NewString(),
		UserID:   tx.UserID,
		CourseID: tx.CourseID,
		GuruID:   guruID,
		Type:     tx.EnrollmentType,
		Payment: PaymentSnapshot{
			TransactionID: tx.ID,
			OrderID:       tx.GatewayOrderID,
			PaymentID:     tx.GatewayPaymentID,
			Amount:        tx.Amount,
			Currency:      tx.Currency,
			Status:        SnapshotCompleted,
			PaidAt:        paidAt,
		},
		Access: Access{
			Status:      AccessActive,
			GrantedAt:   now,
			DeviceLimit: limit,
			Devices:     []Device{},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if tx.EnrollmentType.IsSubscription() {
		sub := newSubscription(tx.EnrollmentType, now)
		if v, ok := tx.Metadata["subscription_id"].(string); ok {
			sub.GatewaySubscriptionID = v
		}
		e.Subscription = sub
		end := sub.EndDate
		e.Access.ExpiresAt = &end
	}
	return e, nil
}

// GrantsAccess reports whether content may be served right now.
func (e *Enrollment) GrantsAccess(now time.Time) bool {
	if e.Access.Status != AccessActive || e.Payment.Status != SnapshotCompleted {
		return false
	}
	if e.Subscription == nil {
		return true
	}
	// a subscription grants access only inside a paid period; grace keeps the
	// enrollment renewable, not readable
	return e.Subscription.Status == SubscriptionActive && now.Before(e.Subscription.EndDate)
}

// Touch counts one access.
func (e *Enrollment) Touch(now time.Time) {
	e.Access.AccessCount++
	e.Access.LastAccessedAt = &now
	e.UpdatedAt = now
}

// RevokeForRefund withdraws access after the confirming payment was fully refunded.
func (e *Enrollment) RevokeForRefund(transactionID string, now time.Time) bool {
	if e.Payment.TransactionID != transactionID {
		return false
	}
	if e.Payment.Status == SnapshotRefunded && e.Access.Status == AccessRevoked {
		return false
	}
	e.Payment.Status = SnapshotRefunded
	e.Access.Status = AccessRevoked
	if e.Subscription != nil && e.Subscription.Status != SubscriptionCancelled {
		e.Subscription.Status = SubscriptionCancelled
		e.Subscription.AutoRenew = false
		e.Subscription.CancelledAt = &now
		e.Subscription.CancellationEffectiveAt = &now
		e.Subscription.CancellationReason = "refunded"
	}
	e.UpdatedAt = now
	return true
}

// Clone copies nested slices so in-memory stores do not alias.
func (e *Enrollment) Clone() *Enrollment {
	cp := *e
	cp.Access.Devices = append([]Device(nil), e.Access.Devices...)
	if e.Access.ExpiresAt != nil {
		t := *e.Access.ExpiresAt
		cp.Access.ExpiresAt = &t
	}
	if e.Access.LastAccessedAt != nil {
		t := *e.Access.LastAccessedAt
		cp.Access.LastAccessedAt = &t
	}
	if e.Subscription != nil {
		cp.Subscription = e.Subscription.clone()
	}
	return &cp
}
