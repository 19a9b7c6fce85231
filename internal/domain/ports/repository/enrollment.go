package repository

import (
	"context"
	"time"

	"sanskrit-enrollment/internal/domain/model"
)

type EnrollmentRepository interface {
	// Save inserts; a second enrollment for the same (user, course) fails
	// with domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, e *model.Enrollment) error
	Update(ctx context.Context, tx Tx, e *model.Enrollment) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Enrollment, error)
	FindByUserAndCourse(ctx context.Context, tx Tx, userID, courseID string) (*model.Enrollment, error)
	FindByTransactionID(ctx context.Context, tx Tx, transactionID string) (*model.Enrollment, error)
	FindByGatewaySubscriptionID(ctx context.Context, tx Tx, subscriptionID string) (*model.Enrollment, error)
	// ListSubscriptionsDue returns subscriptions whose period or grace window
	// ended at or before now.
	ListSubscriptionsDue(ctx context.Context, tx Tx, now time.Time, limit int) ([]*model.Enrollment, error)
}
