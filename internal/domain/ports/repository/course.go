package repository

import (
	"context"

	"sanskrit-enrollment/internal/domain/model"
)

// CourseRepository is the read side of the catalog. Save exists for seeding.
type CourseRepository interface {
	Save(ctx context.Context, tx Tx, c *model.Course) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Course, error)
}
