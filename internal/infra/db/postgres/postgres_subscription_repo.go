package postgres

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, purchaser_id, purchaser_role, plan_id, plan_category, payment_id, status, period_start, period_end, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, purchaser_id, purchaser_role, plan_id, plan_category, payment_id, status, period_start, period_end, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (id) DO UPDATE SET
  status=EXCLUDED.status, period_start=EXCLUDED.period_start, period_end=EXCLUDED.period_end, updated_at=EXCLUDED.updated_at;`

	_, err := execSQL(ctx, r.pool, tx, q, subscriptionArgs(s)...)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Mark(errors.Wrap(err, "save subscription"), domain.ErrAlreadyExists)
		}
		return mapExecErr(err, "save subscription")
	}
	return nil
}

// InsertActiveFree relies on subscriptions_free_active_uniq: a concurrent twin
// hits the conflict and inserts nothing.
func (r *subscriptionRepo) InsertActiveFree(ctx context.Context, tx repository.Tx, s *model.Subscription) (bool, error) {
	const q = `
INSERT INTO subscriptions (
  id, purchaser_id, purchaser_role, plan_id, plan_category, payment_id, status, period_start, period_end, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (purchaser_id, plan_category) WHERE status = 'active' AND payment_id IS NULL DO NOTHING;`

	if s.PaymentID != nil || s.Status != model.SubscriptionStatusActive {
		return false, domain.ErrInvalidArgument
	}
	cmd, err := execSQL(ctx, r.pool, tx, q, subscriptionArgs(s)...)
	if err != nil {
		return false, mapExecErr(err, "insert free subscription")
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) FindActive(ctx context.Context, tx repository.Tx, userID string, category model.Role) (*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE purchaser_id=$1 AND plan_category=$2 AND status='active'
 ORDER BY period_end DESC
 LIMIT 1;`
	return r.queryOne(ctx, tx, q, userID, string(category))
}

func (r *subscriptionRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Subscription, error) {
	const q = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE payment_id=$1;`
	return r.queryOne(ctx, tx, q, paymentID)
}

func (r *subscriptionRepo) ExpireElapsed(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	const q = `
UPDATE subscriptions
   SET status = 'expired', updated_at = NOW()
 WHERE status = 'active' AND period_end <= $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, now)
	if err != nil {
		return 0, mapExecErr(err, "expire subscriptions")
	}
	return cmd.RowsAffected(), nil
}

func (r *subscriptionRepo) ExpireElapsedFor(ctx context.Context, tx repository.Tx, userID string, category model.Role, now time.Time) (int64, error) {
	const q = `
UPDATE subscriptions
   SET status = 'expired', updated_at = NOW()
 WHERE purchaser_id = $1 AND plan_category = $2 AND status = 'active' AND period_end <= $3;`
	cmd, err := execSQL(ctx, r.pool, tx, q, userID, string(category), now)
	if err != nil {
		return 0, mapExecErr(err, "expire purchaser subscriptions")
	}
	return cmd.RowsAffected(), nil
}

// LockPurchaser takes a transaction scoped advisory lock keyed by purchaser and
// category. It is released on commit or rollback.
func (r *subscriptionRepo) LockPurchaser(ctx context.Context, tx repository.Tx, userID string, category model.Role) error {
	if !isInTx(tx) {
		return domain.ErrInvalidExecContext
	}
	if _, err := execSQL(ctx, r.pool, tx, "SELECT pg_advisory_xact_lock($1)", purchaserLockKey(userID, category)); err != nil {
		return mapExecErr(err, "lock purchaser")
	}
	return nil
}

func purchaserLockKey(userID string, category model.Role) int64 {
	h := fnv.New64a()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(category))
	return int64(h.Sum64() & ((1 << 63) - 1))
}

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var (
		s        model.Subscription
		role     string
		category string
		status   string
	)
	if err := row.Scan(&s.ID, &s.Purchaser.UserID, &role, &s.PlanID, &category, &s.PaymentID, &status,
		&s.PeriodStart, &s.PeriodEnd, &s.CreatedAt, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Mark(errors.Wrap(err, "scan subscription"), domain.ErrReadDatabaseRow)
	}
	s.Purchaser.Role = model.Role(role)
	s.PlanCategory = model.Role(category)
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

func subscriptionArgs(s *model.Subscription) []interface{} {
	return []interface{}{
		s.ID, s.Purchaser.UserID, string(s.Purchaser.Role), s.PlanID, string(s.PlanCategory), s.PaymentID,
		string(s.Status), s.PeriodStart, s.PeriodEnd, s.CreatedAt, s.UpdatedAt,
	}
}
