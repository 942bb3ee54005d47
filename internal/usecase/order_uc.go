package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/adapter"
	"propmarket-payments/internal/domain/ports/repository"
	"propmarket-payments/internal/infra/logging"
	"propmarket-payments/internal/infra/metrics"
)

// OrderResult is either a gateway order awaiting checkout or, for free plans,
// an already active subscription.
type OrderResult struct {
	OrderID    string
	Amount     int64
	Currency   string
	GatewayKey string

	Activated     bool
	AlreadyActive bool
	Subscription  *model.Subscription
}

type OrderUseCase struct {
	plans    repository.PlanRepository
	payments repository.PaymentRepository
	gateway  adapter.PaymentGateway
	subs     *SubscriptionUseCase
	logger   *zerolog.Logger
}

func NewOrderUseCase(plans repository.PlanRepository, payments repository.PaymentRepository, gateway adapter.PaymentGateway, subs *SubscriptionUseCase, logger *zerolog.Logger) *OrderUseCase {
	return &OrderUseCase{plans: plans, payments: payments, gateway: gateway, subs: subs, logger: logger}
}

// CreateOrder starts a purchase. Free plans are activated immediately; paid
// plans get a gateway order and a Payment in status created. Nothing is
// persisted when the gateway call fails.
func (u *OrderUseCase) CreateOrder(ctx context.Context, planID, purchaserID string, purchaserRole model.Role) (*OrderResult, error) {
	planID = strings.TrimSpace(planID)
	purchaserID = strings.TrimSpace(purchaserID)
	if planID == "" || purchaserID == "" {
		return nil, domain.NewError("plan and purchaser are required").
			WithHint("planId and purchaserId are required").
			Mark(domain.ErrInvalidArgument)
	}
	if !purchaserRole.Valid() {
		return nil, domain.NewError("unknown purchaser role").
			WithHintf("purchaserRole must be one of %s, %s, %s", model.RoleBuyer, model.RoleOwner, model.RoleAgent).
			Mark(domain.ErrInvalidArgument)
	}

	ctx = logging.WithUserID(ctx, purchaserID)
	log := logging.With(ctx, u.logger)

	plan, err := u.plans.FindByID(ctx, repository.NoTX, planID)
	if err != nil {
		metrics.IncOrder("lookup", "error")
		return nil, err
	}
	purchaser := model.Purchaser{UserID: purchaserID, Role: purchaserRole}

	if plan.IsFree() {
		act, err := u.subs.ActivateFree(ctx, purchaser, plan)
		if err != nil {
			metrics.IncOrder("free", "error")
			return nil, err
		}
		metrics.IncOrder("free", "ok")
		return &OrderResult{
			Currency:      plan.Currency,
			Activated:     true,
			AlreadyActive: act.AlreadyActive,
			Subscription:  act.Subscription,
		}, nil
	}

	if !plan.Chargeable() {
		metrics.IncOrder("paid", "error")
		log.Error().Str("plan_id", plan.ID).Str("price", plan.Price.String()).Msg("plan price rounds to zero minor units")
		return nil, domain.NewError("plan price below smallest chargeable amount").
			WithHint("plan cannot be purchased").
			Mark(domain.ErrInvalidArgument)
	}

	req := adapter.OrderRequest{
		Amount:   plan.MinorUnits(),
		Currency: plan.Currency,
		Receipt:  "rcpt_" + ulid.Make().String(),
		Notes: map[string]string{
			"purchaser_id": purchaserID,
			"plan_id":      plan.ID,
		},
	}
	order, err := u.gateway.CreateOrder(ctx, req)
	if err != nil {
		metrics.IncOrder("paid", "gateway_error")
		log.Warn().Err(err).Str("plan_id", plan.ID).Str("gateway", u.gateway.Name()).Msg("gateway order failed")
		if !errors.Is(err, domain.ErrGatewayUnavailable) {
			err = domain.WithError(err).WithHint("payment gateway unavailable").Mark(domain.ErrGatewayUnavailable)
		}
		return nil, err
	}

	now := time.Now().UTC()
	p := &model.Payment{
		ID:             uuid.NewString(),
		Purchaser:      purchaser,
		PlanID:         plan.ID,
		GatewayOrderID: order.ID,
		Receipt:        req.Receipt,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Status:         model.PaymentStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := u.payments.Save(ctx, repository.NoTX, p); err != nil {
		metrics.IncOrder("paid", "error")
		log.Error().Err(err).Str("order_id", order.ID).Msg("persist payment failed")
		return nil, err
	}

	metrics.IncOrder("paid", "ok")
	metrics.IncPayment(string(model.PaymentStatusCreated))
	log.Info().Str("order_id", order.ID).Int64("amount", p.Amount).Str("currency", p.Currency).Msg("order created")
	return &OrderResult{
		OrderID:    order.ID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		GatewayKey: u.gateway.PublicKey(),
	}, nil
}

// ListPlans returns the active catalog.
func (u *OrderUseCase) ListPlans(ctx context.Context) ([]*model.Plan, error) {
	return u.plans.ListActive(ctx, repository.NoTX)
}
