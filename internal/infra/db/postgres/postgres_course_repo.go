package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/repository"
)

var _ repository.CourseRepository = (*courseRepo)(nil)

type courseRepo struct{ pool *pgxpool.Pool }

func NewCourseRepo(pool *pgxpool.Pool) *courseRepo {
	return &courseRepo{pool: pool}
}

func (r *courseRepo) Save(ctx context.Context, tx repository.Tx, c *model.Course) error {
	if c == nil || c.ID == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO courses (id, guru_id, title, price, currency, device_limit, published, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
  guru_id=$2, title=$3, price=$4, currency=$5, device_limit=$6, published=$7;`
	_, err := execSQL(ctx, r.pool, tx, q, c.ID, c.GuruID, c.Title, c.Price, c.Currency, c.DeviceLimit, c.Published, c.CreatedAt)
	return mapWriteErr(err)
}

func (r *courseRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Course, error) {
	const q = `SELECT id, guru_id, title, price, currency, device_limit, published, created_at FROM courses WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	c := &model.Course{}
	if err := row.Scan(&c.ID, &c.GuruID, &c.Title, &c.Price, &c.Currency, &c.DeviceLimit, &c.Published, &c.CreatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	return c, nil
}
