package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, purchaser_id, purchaser_role, plan_id, gateway_order_id, gateway_payment_id, receipt, amount, currency, status, subscription_id, created_at, updated_at, paid_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	const q = `
INSERT INTO payments (
  id, purchaser_id, purchaser_role, plan_id, gateway_order_id, gateway_payment_id, receipt, amount, currency, status, subscription_id, created_at, updated_at, paid_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
);`

	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.Purchaser.UserID, string(p.Purchaser.Role), p.PlanID, p.GatewayOrderID, p.GatewayPaymentID,
		p.Receipt, p.Amount, p.Currency, string(p.Status), p.SubscriptionID, p.CreatedAt, p.UpdatedAt, p.PaidAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.Mark(errors.Wrap(err, "save payment"), domain.ErrAlreadyExists)
		}
		return mapExecErr(err, "save payment")
	}
	return nil
}

func (r *paymentRepo) FindByGatewayOrderID(ctx context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway_order_id=$1`
	if isInTx(tx) {
		q += " FOR UPDATE"
	}
	row, err := pickRow(ctx, r.pool, tx, q, orderID)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, errors.Mark(errors.Wrap(err, "find payment"), domain.ErrReadDatabaseRow)
	}
	return p, nil
}

// MarkPaidIfPayable is the single guard that makes activation exactly-once:
// only the caller whose UPDATE matches an unpaid row gets it back. A failed
// row is still payable because the gateway allows another attempt on the
// same order.
func (r *paymentRepo) MarkPaidIfPayable(ctx context.Context, tx repository.Tx, orderID, gatewayPaymentID string, paidAt time.Time) (*model.Payment, error) {
	q := `
    UPDATE payments
       SET status = 'paid',
           gateway_payment_id = $2,
           paid_at = $3,
           updated_at = NOW()
     WHERE gateway_order_id = $1
       AND status IN ('created', 'failed')
 RETURNING ` + paymentColumns

	row, err := pickRow(ctx, r.pool, tx, q, orderID, gatewayPaymentID, paidAt)
	if err != nil {
		return nil, err
	}
	p, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, mapExecErr(err, "mark payment paid")
	}
	return p, nil
}

func (r *paymentRepo) MarkFailedIfCreated(ctx context.Context, tx repository.Tx, orderID string) (bool, error) {
	const q = `
    UPDATE payments
       SET status = 'failed',
           updated_at = NOW()
     WHERE gateway_order_id = $1
       AND status = 'created'`

	cmd, err := execSQL(ctx, r.pool, tx, q, orderID)
	if err != nil {
		return false, mapExecErr(err, "mark payment failed")
	}
	return cmd.RowsAffected() >= 1, nil
}

func (r *paymentRepo) LinkSubscription(ctx context.Context, tx repository.Tx, paymentID, subscriptionID string) error {
	const q = `UPDATE payments SET subscription_id=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, paymentID, subscriptionID)
	if err != nil {
		return mapExecErr(err, "link subscription")
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var (
		p      model.Payment
		role   string
		status string
	)
	err := row.Scan(&p.ID, &p.Purchaser.UserID, &role, &p.PlanID, &p.GatewayOrderID, &p.GatewayPaymentID,
		&p.Receipt, &p.Amount, &p.Currency, &status, &p.SubscriptionID, &p.CreatedAt, &p.UpdatedAt, &p.PaidAt)
	if err != nil {
		return nil, err
	}
	p.Purchaser.Role = model.Role(role)
	p.Status = model.PaymentStatus(status)
	return &p, nil
}
