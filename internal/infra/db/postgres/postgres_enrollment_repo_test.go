//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/infra/security"
)

func TestEnrollmentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	cipher, _ := security.NewEncryptionService("0123456789abcdef0123456789abcdef")
	txRepo := NewTransactionRepo(testPool, cipher)
	repo := NewEnrollmentRepo(testPool)

	setup := func(t *testing.T, orderID string, typ model.EnrollmentType) (*model.Course, *model.Transaction) {
		t.Helper()
		c := seedCourse(t, ctx)
		txn := newPending(t, orderID, typ)
		if _, err := txn.MarkSuccess("pay_"+orderID, "sig", nil, model.SourceUser, time.Now().UTC()); err != nil {
			t.Fatalf("mark success: %v", err)
		}
		if err := txRepo.Save(ctx, nil, txn); err != nil {
			t.Fatalf("save transaction: %v", err)
		}
		return c, txn
	}

	t.Run("should allow one enrollment per user and course", func(t *testing.T) {
		cleanup(t)
		c, txn := setup(t, "order_1", model.OneTimePurchase)
		first, _ := model.NewEnrollment(txn, c, 3, time.Now().UTC())
		second, _ := model.NewEnrollment(txn, c, 3, time.Now().UTC())

		if err := repo.Save(ctx, nil, first); err != nil {
			t.Fatalf("first save failed: %v", err)
		}
		err := repo.Save(ctx, nil, second)

		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
		found, err := repo.FindByTransactionID(ctx, nil, txn.ID)
		if err != nil || found.ID != first.ID {
			t.Fatalf("expected the first enrollment back, got %v, %v", found, err)
		}
	})

	t.Run("should round-trip subscription state and list due rows", func(t *testing.T) {
		cleanup(t)
		c, txn := setup(t, "order_2", model.MonthlySubscription)
		start := time.Now().UTC().AddDate(0, -2, 0).Truncate(time.Microsecond)
		e, _ := model.NewEnrollment(txn, c, 3, start)
		e.Subscription.GatewaySubscriptionID = "sub_1"
		if err := repo.Save(ctx, nil, e); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		due, err := repo.ListSubscriptionsDue(ctx, nil, time.Now().UTC(), 10)
		if err != nil {
			t.Fatalf("list due failed: %v", err)
		}
		if len(due) != 1 || due[0].ID != e.ID {
			t.Fatalf("expected the lapsed subscription to be due, got %d", len(due))
		}

		due[0].Refresh(time.Now().UTC(), model.DefaultSubscriptionPolicy())
		if err := repo.Update(ctx, nil, due[0]); err != nil {
			t.Fatalf("update failed: %v", err)
		}
		found, err := repo.FindByGatewaySubscriptionID(ctx, nil, "sub_1")
		if err != nil {
			t.Fatalf("find by subscription failed: %v", err)
		}
		if found.Subscription.Status != model.SubscriptionGracePeriod {
			t.Errorf("expected grace_period, got %s", found.Subscription.Status)
		}
	})
}
