package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"sanskrit-enrollment/internal/domain"
	"sanskrit-enrollment/internal/domain/model"
	"sanskrit-enrollment/internal/domain/ports/repository"
)

var _ repository.EnrollmentRepository = (*enrollmentRepo)(nil)

// enrollmentRepo keeps the nested payment/access/subscription documents as
// JSONB and copies the fields the sweeper filters on into plain columns.
type enrollmentRepo struct{ pool *pgxpool.Pool }

func NewEnrollmentRepo(pool *pgxpool.Pool) *enrollmentRepo {
	return &enrollmentRepo{pool: pool}
}

const enrollmentColumns = `id, user_id, course_id, guru_id, enrollment_type, transaction_id, payment, access,
  subscription, created_at, updated_at`

func (r *enrollmentRepo) Save(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	const q = `
INSERT INTO enrollments (id, user_id, course_id, guru_id, enrollment_type, transaction_id, payment, access,
  subscription, access_status, subscription_status, auto_renew, subscription_end_at, grace_ends_at,
  gateway_subscription_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17);`
	args, err := enrollmentArgs(e)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q, args...)
	return mapWriteErr(err)
}

func (r *enrollmentRepo) Update(ctx context.Context, tx repository.Tx, e *model.Enrollment) error {
	const q = `
UPDATE enrollments SET
  transaction_id=$2, payment=$3, access=$4, subscription=$5, access_status=$6, subscription_status=$7,
  auto_renew=$8, subscription_end_at=$9, grace_ends_at=$10, gateway_subscription_id=$11, updated_at=$12
WHERE id=$1;`
	args, err := enrollmentArgs(e)
	if err != nil {
		return err
	}
	// mutable columns only, positions as in enrollmentArgs
	args = []interface{}{args[0], args[5], args[6], args[7], args[8], args[9], args[10], args[11], args[12], args[13], args[14], args[16]}
	tag, err := execSQL(ctx, r.pool, tx, q, args...)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func enrollmentArgs(e *model.Enrollment) ([]interface{}, error) {
	if e == nil || e.ID == "" {
		return nil, domain.ErrInvalidArgument
	}
	payment, err := json.Marshal(e.Payment)
	if err != nil {
		return nil, domain.ErrInvalidArgument
	}
	access, err := json.Marshal(e.Access)
	if err != nil {
		return nil, domain.ErrInvalidArgument
	}
	var (
		sub       []byte
		subStatus *string
		autoRenew bool
		endAt     *time.Time
		graceEnds *time.Time
		gwSubID   *string
	)
	if s := e.Subscription; s != nil {
		if sub, err = json.Marshal(s); err != nil {
			return nil, domain.ErrInvalidArgument
		}
		st := string(s.Status)
		subStatus = &st
		autoRenew = s.AutoRenew
		end := s.EndDate
		endAt = &end
		if s.GracePeriod != nil {
			g := s.GracePeriod.EndsAt
			graceEnds = &g
		}
		gwSubID = nullIfEmpty(s.GatewaySubscriptionID)
	}
	return []interface{}{
		e.ID, e.UserID, e.CourseID, e.GuruID, string(e.Type), e.Payment.TransactionID, payment, access,
		sub, string(e.Access.Status), subStatus, autoRenew, endAt, graceEnds, gwSubID, e.CreatedAt, e.UpdatedAt,
	}, nil
}

func (r *enrollmentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE id=$1`, id)
}

func (r *enrollmentRepo) FindByUserAndCourse(ctx context.Context, tx repository.Tx, userID, courseID string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE user_id=$1 AND course_id=$2`, userID, courseID)
}

func (r *enrollmentRepo) FindByTransactionID(ctx context.Context, tx repository.Tx, transactionID string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE transaction_id=$1 LIMIT 1`, transactionID)
}

func (r *enrollmentRepo) FindByGatewaySubscriptionID(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Enrollment, error) {
	return r.findOne(ctx, tx, `SELECT `+enrollmentColumns+` FROM enrollments WHERE gateway_subscription_id=$1 LIMIT 1`, subscriptionID)
}

func (r *enrollmentRepo) ListSubscriptionsDue(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Enrollment, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT ` + enrollmentColumns + ` FROM enrollments
WHERE (subscription_status = 'active' AND subscription_end_at <= $1)
   OR (subscription_status = 'grace_period' AND grace_ends_at <= $1)
ORDER BY subscription_end_at ASC LIMIT $2;`
	rows, err := queryRows(ctx, r.pool, tx, q, now, limit)
	if err != nil {
		return nil, mapWriteErr(err)
	}
	defer rows.Close()
	var out []*model.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *enrollmentRepo) findOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Enrollment, error) {
	row, err := pickRow(ctx, r.pool, tx, forUpdate(q, tx), args...)
	if err != nil {
		return nil, err
	}
	return scanEnrollment(row)
}

func scanEnrollment(row pgx.Row) (*model.Enrollment, error) {
	var (
		e                    model.Enrollment
		typ, transactionID   string
		payment, access, sub []byte
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.CourseID, &e.GuruID, &typ, &transactionID, &payment, &access,
		&sub, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, mapScanErr(err)
	}
	e.Type = model.EnrollmentType(typ)
	if err := json.Unmarshal(payment, &e.Payment); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if err := json.Unmarshal(access, &e.Access); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	if len(sub) > 0 {
		var s model.Subscription
		if err := json.Unmarshal(sub, &s); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		e.Subscription = &s
	}
	if e.Payment.TransactionID == "" {
		e.Payment.TransactionID = transactionID
	}
	return &e, nil
}
