package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v4/pgxpool"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/repository"
)

var _ repository.OutboxRepository = (*outboxRepo)(nil)

type outboxRepo struct{ pool *pgxpool.Pool }

func NewOutboxRepo(pool *pgxpool.Pool) *outboxRepo {
	return &outboxRepo{pool: pool}
}

func (r *outboxRepo) Insert(ctx context.Context, tx repository.Tx, m *model.OutboxMessage) error {
	const q = `
INSERT INTO outbox (event_id, aggregate_type, aggregate_id, event_type, routing_key, payload, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id;`

	row, err := pickRow(ctx, r.pool, tx, q, m.EventID, m.AggregateType, m.AggregateID, m.EventType, m.RoutingKey, m.Payload, m.CreatedAt)
	if err != nil {
		return err
	}
	if err := row.Scan(&m.ID); err != nil {
		if isUniqueViolation(err) {
			return errors.Mark(errors.Wrap(err, "insert outbox"), domain.ErrAlreadyExists)
		}
		return mapExecErr(err, "insert outbox")
	}
	return nil
}

// FetchUnpublished locks due rows with SKIP LOCKED so several relays can run side by side.
// Call it inside a transaction for the locks to hold.
func (r *outboxRepo) FetchUnpublished(ctx context.Context, tx repository.Tx, limit int) ([]*model.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT id, event_id, aggregate_type, aggregate_id, event_type, routing_key, payload, created_at, retry_count, last_error, next_retry_at
  FROM outbox
 WHERE published_at IS NULL
   AND dead_lettered_at IS NULL
   AND (next_retry_at IS NULL OR next_retry_at <= NOW())
 ORDER BY id
 LIMIT $1`
	if isInTx(tx) {
		q += " FOR UPDATE SKIP LOCKED"
	}
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, mapExecErr(err, "fetch outbox")
	}
	defer rows.Close()

	var out []*model.OutboxMessage
	for rows.Next() {
		m := new(model.OutboxMessage)
		if err := rows.Scan(&m.ID, &m.EventID, &m.AggregateType, &m.AggregateID, &m.EventType, &m.RoutingKey,
			&m.Payload, &m.CreatedAt, &m.RetryCount, &m.LastError, &m.NextRetryAt); err != nil {
			return nil, errors.Mark(errors.Wrap(err, "scan outbox"), domain.ErrReadDatabaseRow)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *outboxRepo) MarkPublished(ctx context.Context, tx repository.Tx, id int64) error {
	const q = `UPDATE outbox SET published_at=NOW(), last_error=NULL WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, id); err != nil {
		return mapExecErr(err, "mark outbox published")
	}
	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, tx repository.Tx, id int64, errMsg string, nextRetryAt time.Time) error {
	const q = `UPDATE outbox SET retry_count=retry_count+1, last_error=$2, next_retry_at=$3 WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, id, errMsg, nextRetryAt); err != nil {
		return mapExecErr(err, "mark outbox failed")
	}
	return nil
}

func (r *outboxRepo) MarkDead(ctx context.Context, tx repository.Tx, id int64, errMsg string) error {
	const q = `UPDATE outbox SET retry_count=retry_count+1, last_error=$2, dead_lettered_at=NOW() WHERE id=$1;`
	if _, err := execSQL(ctx, r.pool, tx, q, id, errMsg); err != nil {
		return mapExecErr(err, "mark outbox dead")
	}
	return nil
}

func (r *outboxRepo) CleanupPublished(ctx context.Context, tx repository.Tx, olderThan time.Time) (int64, error) {
	const q = `DELETE FROM outbox WHERE published_at IS NOT NULL AND published_at < $1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, olderThan)
	if err != nil {
		return 0, mapExecErr(err, "cleanup outbox")
	}
	return cmd.RowsAffected(), nil
}
