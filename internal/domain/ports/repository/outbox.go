package repository

import (
	"context"
	"time"

	"propmarket-payments/internal/domain/model"
)

type OutboxRepository interface {
	Insert(ctx context.Context, tx Tx, msg *model.OutboxMessage) error
	// FetchUnpublished claims up to limit messages that are due for delivery.
	FetchUnpublished(ctx context.Context, tx Tx, limit int) ([]*model.OutboxMessage, error)
	MarkPublished(ctx context.Context, tx Tx, id int64) error
	MarkFailed(ctx context.Context, tx Tx, id int64, errMsg string, nextRetryAt time.Time) error
	MarkDead(ctx context.Context, tx Tx, id int64, errMsg string) error
	CleanupPublished(ctx context.Context, tx Tx, olderThan time.Time) (int64, error)
}
