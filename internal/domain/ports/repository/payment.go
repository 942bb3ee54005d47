package repository

import (
	"context"
	"time"

	"propmarket-payments/internal/domain/model"
)

type PaymentRepository interface {
	Save(ctx context.Context, tx Tx, p *model.Payment) error
	FindByGatewayOrderID(ctx context.Context, tx Tx, orderID string) (*model.Payment, error)

	// MarkPaidIfPayable moves created or failed -> paid in one conditional write.
	// It returns the updated row, or nil when no unpaid row matched.
	MarkPaidIfPayable(ctx context.Context, tx Tx, orderID, gatewayPaymentID string, paidAt time.Time) (*model.Payment, error)
	// MarkFailedIfCreated moves created -> failed; paid rows are untouched.
	MarkFailedIfCreated(ctx context.Context, tx Tx, orderID string) (bool, error)
	LinkSubscription(ctx context.Context, tx Tx, paymentID, subscriptionID string) error
}
