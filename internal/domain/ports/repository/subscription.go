package repository

import (
	"context"
	"time"

	"propmarket-payments/internal/domain/model"
)

type SubscriptionRepository interface {
	Save(ctx context.Context, tx Tx, sub *model.Subscription) error
	// InsertActiveFree inserts a free active subscription unless one already exists for
	// the purchaser and category. It returns false when the insert lost the race.
	InsertActiveFree(ctx context.Context, tx Tx, sub *model.Subscription) (bool, error)
	// FindActive returns the purchaser's active subscription in a category with the
	// furthest period end, or domain.ErrNotFound.
	FindActive(ctx context.Context, tx Tx, userID string, category model.Role) (*model.Subscription, error)
	FindByPaymentID(ctx context.Context, tx Tx, paymentID string) (*model.Subscription, error)
	// ExpireElapsed moves active subscriptions whose period ended at or before
	// now to expired and returns how many changed.
	ExpireElapsed(ctx context.Context, tx Tx, now time.Time) (int64, error)
	// ExpireElapsedFor does the same for one purchaser and category.
	ExpireElapsedFor(ctx context.Context, tx Tx, userID string, category model.Role, now time.Time) (int64, error)
	// LockPurchaser serializes activations for a purchaser and category until
	// tx ends. It requires a live transaction.
	LockPurchaser(ctx context.Context, tx Tx, userID string, category model.Role) error
}
