//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"sanskrit-enrollment/internal/domain"
)

var t0 = time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)

func newEnrollment(t *testing.T, typ EnrollmentType) *Enrollment {
	t.Helper()
	tx, err := NewPendingTransaction(NewTransactionParams{
		UserID: "user-1", CourseID: "course-1", GuruID: "guru-1",
		EnrollmentType: typ, Amount: 49900, GuruPercent: 80, GatewayOrderID: "order_1",
	}, t0)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if _, err := tx.MarkSuccess("pay_1", "sig", nil, SourceUser, t0); err != nil {
		t.Fatalf("mark success: %v", err)
	}
	course := &Course{ID: "course-1", GuruID: "guru-1", Title: "Devanagari I", Price: 49900}
	e, err := NewEnrollment(tx, course, 0, t0)
	if err != nil {
		t.Fatalf("new enrollment: %v", err)
	}
	return e
}

func TestNewEnrollment(t *testing.T) {
	t.Run("should grant access for a one-time purchase without a subscription block", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		if e.Subscription != nil {
			t.Error("one-time purchase must not carry a subscription")
		}
		if !e.GrantsAccess(t0) {
			t.Error("expected access to be granted")
		}
		if e.Access.DeviceLimit != DefaultDeviceLimit {
			t.Errorf("expected default device limit, got %d", e.Access.DeviceLimit)
		}
		if e.Payment.Status != SnapshotCompleted || e.Payment.PaymentID != "pay_1" {
			t.Errorf("unexpected snapshot %+v", e.Payment)
		}
	})

	t.Run("should initialize subscription dates for a monthly plan", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		if e.Subscription == nil {
			t.Fatal("expected subscription block")
		}
		want := t0.AddDate(0, 1, 0)
		if !e.Subscription.EndDate.Equal(want) || !e.Subscription.NextBillingDate.Equal(want) {
			t.Errorf("unexpected dates: end=%v next=%v", e.Subscription.EndDate, e.Subscription.NextBillingDate)
		}
	})

	t.Run("should refuse a transaction that is not successful", func(t *testing.T) {
		tx, _ := NewPendingTransaction(NewTransactionParams{
			UserID: "u", CourseID: "c", GuruID: "g", EnrollmentType: OneTimePurchase, Amount: 1, GuruPercent: 80, GatewayOrderID: "o",
		}, t0)
		_, err := NewEnrollment(tx, &Course{ID: "c", GuruID: "g"}, 3, t0)
		if !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected invalid transition, got %v", err)
		}
	})
}

func TestEnrollment_Renew(t *testing.T) {
	t.Run("should extend from the previous end date, not from now", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		d := e.Subscription.EndDate
		late := d.Add(3 * 24 * time.Hour)

		changed, err := e.Renew("pay_2", 49900, late)
		if err != nil || !changed {
			t.Fatalf("renew: changed=%v err=%v", changed, err)
		}
		if want := d.AddDate(0, 1, 0); !e.Subscription.EndDate.Equal(want) {
			t.Errorf("expected end date %v, got %v", want, e.Subscription.EndDate)
		}
	})

	t.Run("should be idempotent on the renewal payment id", func(t *testing.T) {
		e := newEnrollment(t, YearlySubscription)
		_, _ = e.Renew("pay_2", 100, t0)
		end := e.Subscription.EndDate

		changed, err := e.Renew("pay_2", 100, t0)
		if err != nil || changed {
			t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
		}
		if !e.Subscription.EndDate.Equal(end) || len(e.Subscription.Renewals) != 1 {
			t.Error("repeat renewal changed the subscription")
		}
	})

	t.Run("should clear the grace period and restore access", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		policy := DefaultSubscriptionPolicy()
		_, _ = e.RecordFailedPayment("insufficient funds", t0, policy)

		_, _ = e.Renew("pay_3", 49900, t0.Add(time.Hour))
		if e.Subscription.GracePeriod != nil || e.Subscription.Status != SubscriptionActive {
			t.Errorf("grace not cleared: %+v", e.Subscription)
		}
	})

	t.Run("should fail fast for a one-time purchase", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		if _, err := e.Renew("pay_2", 1, t0); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Errorf("expected domain error, got %v", err)
		}
	})
}

func TestEnrollment_RecordFailedPayment(t *testing.T) {
	policy := DefaultSubscriptionPolicy()

	t.Run("should expire and suspend after three failures, fourth is a no-op", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)

		for i := 1; i <= 3; i++ {
			changed, err := e.RecordFailedPayment("declined", t0.Add(time.Duration(i)*time.Hour), policy)
			if err != nil || !changed {
				t.Fatalf("attempt %d: changed=%v err=%v", i, changed, err)
			}
		}
		if e.Subscription.Status != SubscriptionExpired || e.Access.Status != AccessSuspended {
			t.Fatalf("expected expired/suspended, got %s/%s", e.Subscription.Status, e.Access.Status)
		}

		changed, err := e.RecordFailedPayment("declined", t0.Add(4*time.Hour), policy)
		if err != nil || changed {
			t.Fatalf("fourth attempt: changed=%v err=%v", changed, err)
		}
		if e.Subscription.GracePeriod.Attempts != 3 || e.Subscription.FailedAttempts != 3 {
			t.Errorf("counters moved past the ceiling: %+v", e.Subscription)
		}
	})

	t.Run("should open a fixed seven day window on the first failure", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		_, _ = e.RecordFailedPayment("declined", t0, policy)

		g := e.Subscription.GracePeriod
		if g == nil || !g.EndsAt.Equal(t0.Add(7*24*time.Hour)) || g.Attempts != 1 {
			t.Fatalf("unexpected grace period %+v", g)
		}
		if e.GrantsAccess(t0) {
			t.Error("expected no access while the subscription is in grace")
		}
	})

	t.Run("should restore access when a renewal lands during grace", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		end := e.Subscription.EndDate
		_, _ = e.RecordFailedPayment("declined", end, policy)

		if _, err := e.Renew("pay_retry", 49900, end.Add(time.Hour)); err != nil {
			t.Fatalf("renew: %v", err)
		}
		if !e.GrantsAccess(end.Add(time.Hour)) {
			t.Errorf("expected access after renewal, got %+v", e.Subscription)
		}
	})
}

func TestEnrollment_GrantsAccess(t *testing.T) {
	t.Run("should stop at the end date even with auto-renew on", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		end := e.Subscription.EndDate
		if !e.Subscription.AutoRenew {
			t.Fatal("fixture should auto-renew")
		}
		if !e.GrantsAccess(end.Add(-time.Second)) {
			t.Error("expected access before the end date")
		}
		if e.GrantsAccess(end) || e.GrantsAccess(end.Add(time.Hour)) {
			t.Error("expected no access from the end date on")
		}
	})

	t.Run("should not depend on a subscription for one-time purchases", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		if !e.GrantsAccess(t0.AddDate(5, 0, 0)) {
			t.Error("expected lifetime access")
		}
	})
}

func TestEnrollment_CancelSubscription(t *testing.T) {
	t.Run("should keep access until the end date when scheduled", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		end := e.Subscription.EndDate

		changed, err := e.CancelSubscription("user_request", "too busy", false, t0)
		if err != nil || !changed {
			t.Fatalf("cancel: changed=%v err=%v", changed, err)
		}
		if e.Subscription.AutoRenew || e.Subscription.Status != SubscriptionActive {
			t.Errorf("unexpected state %+v", e.Subscription)
		}
		if !e.GrantsAccess(end.Add(-time.Minute)) {
			t.Error("expected access before the end date")
		}
		if e.GrantsAccess(end) {
			t.Error("expected no access at the end date")
		}
		if !e.Refresh(end, DefaultSubscriptionPolicy()) || e.Subscription.Status != SubscriptionCancelled {
			t.Errorf("refresh should cancel at the end date, got %s", e.Subscription.Status)
		}
	})

	t.Run("should end access immediately when requested", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		_, _ = e.CancelSubscription("admin", "", true, t0)
		if e.Subscription.Status != SubscriptionCancelled || e.GrantsAccess(t0) {
			t.Errorf("expected immediate cancellation, got %+v", e.Subscription)
		}
	})

	t.Run("should only stop renewals when an expired subscription is cancelled on schedule", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		policy := DefaultSubscriptionPolicy()
		for i := 0; i < policy.MaxAttempts; i++ {
			_, _ = e.RecordFailedPayment("declined", t0, policy)
		}
		if e.Subscription.Status != SubscriptionExpired || e.Access.Status != AccessSuspended {
			t.Fatalf("fixture should be expired/suspended, got %s/%s", e.Subscription.Status, e.Access.Status)
		}

		changed, err := e.CancelSubscription("cancelled at gateway", "", false, t0.Add(time.Hour))

		if err != nil || !changed {
			t.Fatalf("cancel: changed=%v err=%v", changed, err)
		}
		s := e.Subscription
		if s.Status != SubscriptionExpired || s.AutoRenew || s.CancelledAt == nil || s.CancellationEffectiveAt != nil {
			t.Errorf("unexpected subscription after cancel: %+v", s)
		}
		if e.Access.Status != AccessSuspended {
			t.Errorf("expected access to stay suspended, got %s", e.Access.Status)
		}
		if again, _ := e.CancelSubscription("cancelled at gateway", "", false, t0.Add(2*time.Hour)); again {
			t.Error("expected a repeated cancel to be a no-op")
		}
	})

	t.Run("should fail fast for a one-time purchase", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		if _, err := e.CancelSubscription("x", "", true, t0); !errors.Is(err, domain.ErrNotSubscription) {
			t.Errorf("expected ErrNotSubscription, got %v", err)
		}
	})
}

func TestEnrollment_Refresh(t *testing.T) {
	t.Run("should move an overdue renewal into grace and then expire it", func(t *testing.T) {
		e := newEnrollment(t, MonthlySubscription)
		policy := DefaultSubscriptionPolicy()
		end := e.Subscription.EndDate

		if !e.Refresh(end.Add(time.Hour), policy) || e.Subscription.Status != SubscriptionGracePeriod {
			t.Fatalf("expected grace period, got %s", e.Subscription.Status)
		}
		if !e.Refresh(end.Add(policy.GraceWindow), policy) || e.Subscription.Status != SubscriptionExpired {
			t.Fatalf("expected expired, got %s", e.Subscription.Status)
		}
		if e.Access.Status != AccessSuspended {
			t.Errorf("expected suspended access, got %s", e.Access.Status)
		}
	})
}

func TestEnrollment_Devices(t *testing.T) {
	fp := func(id string) DeviceFingerprint { return DeviceFingerprint{Primary: id, Secondary: "coarse-" + id} }

	t.Run("should deny a fourth device without evicting", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		for i, id := range []string{"a", "b", "c"} {
			d, err := e.CheckDevice(fp(id), t0.Add(time.Duration(i)*time.Minute))
			if err != nil || !d.Allowed {
				t.Fatalf("device %s: %+v err=%v", id, d, err)
			}
		}

		d, err := e.CheckDevice(fp("d"), t0.Add(time.Hour))
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if d.Allowed || d.DeviceLimit != 3 || d.ActiveDevices != 3 || d.CanRegisterDevice {
			t.Errorf("unexpected denial payload %+v", d)
		}
		if e.ActiveDeviceCount() != 3 {
			t.Error("check must not evict")
		}
	})

	t.Run("should evict the least recently used device on explicit registration", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		_, _ = e.CheckDevice(fp("a"), t0)
		_, _ = e.CheckDevice(fp("b"), t0.Add(time.Minute))
		_, _ = e.CheckDevice(fp("c"), t0.Add(2*time.Minute))
		_, _ = e.CheckDevice(fp("a"), t0.Add(3*time.Minute)) // a is now the most recent

		if _, err := e.RegisterDevice(fp("d"), false, t0.Add(4*time.Minute)); !errors.Is(err, domain.ErrDeviceLimitReached) {
			t.Fatalf("expected ErrDeviceLimitReached without eviction, got %v", err)
		}
		d, err := e.RegisterDevice(fp("d"), true, t0.Add(4*time.Minute))
		if err != nil || !d.Allowed {
			t.Fatalf("register with eviction: %+v err=%v", d, err)
		}
		if d.EvictedDeviceID != "b" {
			t.Errorf("expected b to be evicted, got %q", d.EvictedDeviceID)
		}
		if e.ActiveDeviceCount() != 3 {
			t.Errorf("expected 3 active devices, got %d", e.ActiveDeviceCount())
		}
	})

	t.Run("should match a changed primary id via the coarse fingerprint", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		_, _ = e.CheckDevice(DeviceFingerprint{Primary: "p1", Secondary: "s1"}, t0)

		d, _ := e.CheckDevice(DeviceFingerprint{Primary: "p2", Secondary: "s1"}, t0.Add(time.Minute))
		if !d.Allowed || d.Reason != DecisionAllowed || e.ActiveDeviceCount() != 1 {
			t.Errorf("expected fallback match, got %+v active=%d", d, e.ActiveDeviceCount())
		}
	})

	t.Run("should keep the device history bounded", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		for i := 0; i < 40; i++ {
			id := string(rune('a' + i%26)) + string(rune('A'+i/26))
			_, _ = e.RegisterDevice(DeviceFingerprint{Primary: id}, true, t0.Add(time.Duration(i)*time.Minute))
		}
		if n := len(e.Access.Devices); n > DefaultDeviceLimit*maxDeviceHistory {
			t.Errorf("device history grew to %d", n)
		}
	})
}

func TestEnrollment_RevokeForRefund(t *testing.T) {
	t.Run("should revoke access for the confirming transaction only", func(t *testing.T) {
		e := newEnrollment(t, OneTimePurchase)
		if e.RevokeForRefund("txn_other", t0) {
			t.Error("unrelated transaction must not revoke")
		}
		if !e.RevokeForRefund(e.Payment.TransactionID, t0) {
			t.Fatal("expected revocation")
		}
		if e.GrantsAccess(t0) || e.Access.Status != AccessRevoked {
			t.Errorf("expected revoked access, got %s", e.Access.Status)
		}
	})
}
