//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v4"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/repository"
	"sanskrit-enrollment/internal/infra/security"
)

func seedCourse(t *testing.T, ctx context.Context) *model.Course {
	t.Helper()
	c, _ := model.NewCourse("gita-101", "guru-1", "Bhagavad Gita", 49900, "INR", 3)
	if err := NewCourseRepo(testPool).Save(ctx, nil, c); err != nil {
		t.Fatalf("failed to save course: %v", err)
	}
	return c
}

func newPending(t *testing.T, orderID string, typ model.EnrollmentType) *model.Transaction {
	t.Helper()
	tx, err := model.NewPendingTransaction(model.NewTransactionParams{
		UserID: "learner-1", CourseID: "gita-101", GuruID: "guru-1", EnrollmentType: typ,
		Amount: 49900, Currency: "INR", GuruPercent: 80, Gateway: "razorpay", GatewayOrderID: orderID,
	}, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		t.Fatalf("failed to build transaction: %v", err)
	}
	return tx
}

func TestTransactionRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	cipher, _ := security.NewEncryptionService("0123456789abcdef0123456789abcdef")
	repo := NewTransactionRepo(testPool, cipher)
	tm := NewTxManager(testPool)

	t.Run("should save and find a transaction with its events", func(t *testing.T) {
		cleanup(t)
		seedCourse(t, ctx)
		txn := newPending(t, "order_A", model.OneTimePurchase)

		if err := repo.Save(ctx, nil, txn); err != nil {
			t.Fatalf("Failed to save transaction: %v", err)
		}

		found, err := repo.FindByOrderID(ctx, nil, "order_A")
		if err != nil {
			t.Fatalf("Failed to find by order: %v", err)
		}
		if found.ID != txn.ID || found.Split.GuruShare != 39920 || found.Split.PlatformShare != 9980 {
			t.Errorf("unexpected row: %+v", found)
		}
		if len(found.Events) != 1 || found.Events[0].Type != model.EventOrderCreated {
			t.Errorf("expected one order_created event, got %+v", found.Events)
		}
	})

	t.Run("should reject a second row for the same order", func(t *testing.T) {
		cleanup(t)
		seedCourse(t, ctx)
		if err := repo.Save(ctx, nil, newPending(t, "order_dup", model.OneTimePurchase)); err != nil {
			t.Fatalf("first save failed: %v", err)
		}

		err := repo.Save(ctx, nil, newPending(t, "order_dup", model.OneTimePurchase))

		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("should persist success with sealed method details and appended events", func(t *testing.T) {
		cleanup(t)
		seedCourse(t, ctx)
		txn := newPending(t, "order_B", model.OneTimePurchase)
		if err := repo.Save(ctx, nil, txn); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		err := tm.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(ctx context.Context, tx repository.Tx) error {
			locked, err := repo.FindByID(ctx, tx, txn.ID)
			if err != nil {
				return err
			}
			m := model.UPIMethod(model.UPIDetails{VPA: "learner@okicici"})
			if _, err := locked.MarkSuccess("pay_1", "sig", &m, model.SourceUser, time.Now().UTC()); err != nil {
				return err
			}
			return repo.Update(ctx, tx, locked)
		})
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}

		var raw string
		if err := testPool.QueryRow(ctx, `SELECT payment_method_details FROM payment_transactions WHERE id=$1`, txn.ID).Scan(&raw); err != nil {
			t.Fatalf("raw read failed: %v", err)
		}
		if raw == "" || raw[0] == '{' {
			t.Errorf("expected sealed method details, got %q", raw)
		}

		found, err := repo.FindByPaymentID(ctx, nil, "pay_1")
		if err != nil {
			t.Fatalf("find by payment failed: %v", err)
		}
		if found.Status != model.TransactionSuccess || found.Method == nil || found.Method.UPI.VPA != "learner@okicici" {
			t.Errorf("unexpected row after success: %+v", found)
		}
		if found.CountEvents(model.EventPaymentSuccess) != 1 || len(found.Events) != 2 {
			t.Errorf("expected two events, got %+v", found.Events)
		}
	})

	t.Run("should refuse to rewrite stored events", func(t *testing.T) {
		cleanup(t)
		seedCourse(t, ctx)
		txn := newPending(t, "order_C", model.OneTimePurchase)
		if err := repo.Save(ctx, nil, txn); err != nil {
			t.Fatalf("save failed: %v", err)
		}

		_, err := testPool.Exec(ctx, `UPDATE payment_transaction_events SET type='tampered' WHERE transaction_id=$1`, txn.ID)

		if err == nil {
			t.Fatal("expected the append-only trigger to reject the update")
		}
	})

	t.Run("should list stale pending orders oldest first", func(t *testing.T) {
		cleanup(t)
		seedCourse(t, ctx)
		old := newPending(t, "order_old", model.OneTimePurchase)
		old.CreatedAt = old.CreatedAt.Add(-time.Hour)
		fresh := newPending(t, "order_fresh", model.OneTimePurchase)
		for _, x := range []*model.Transaction{old, fresh} {
			if err := repo.Save(ctx, nil, x); err != nil {
				t.Fatalf("save failed: %v", err)
			}
		}

		list, err := repo.ListPendingOlderThan(ctx, nil, time.Now().Add(-30*time.Minute), 10)

		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(list) != 1 || list[0].GatewayOrderID != "order_old" {
			t.Errorf("expected only order_old, got %d rows", len(list))
		}
	})

	t.Run("should return ErrNotFound for unknown order", func(t *testing.T) {
		cleanup(t)
		_, err := repo.FindByOrderID(ctx, nil, "order_missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
