package usecase

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/adapter"
	"propmarket-payments/internal/domain/ports/repository"
	"propmarket-payments/internal/infra/logging"
	"propmarket-payments/internal/infra/metrics"
	"propmarket-payments/internal/infra/security"
)

// SubscriptionUseCase owns every payment -> subscription transition. Each
// transition is a single conditional write inside one transaction, so replays
// and concurrent confirmations activate at most once.
type SubscriptionUseCase struct {
	plans    repository.PlanRepository
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	tm       repository.TransactionManager
	events   adapter.EventPublisher
	logger   *zerolog.Logger

	// proofSecret signs the client checkout proof (the gateway key secret).
	proofSecret string
	now         func() time.Time
}

func NewSubscriptionUseCase(
	plans repository.PlanRepository,
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	tm repository.TransactionManager,
	events adapter.EventPublisher,
	proofSecret string,
	logger *zerolog.Logger,
) *SubscriptionUseCase {
	return &SubscriptionUseCase{
		plans:       plans,
		payments:    payments,
		subs:        subs,
		tm:          tm,
		events:      events,
		proofSecret: proofSecret,
		logger:      logger,
		now:         time.Now,
	}
}

// ActivateFree activates a free plan for the purchaser. Calling it again while
// the purchaser already has an active subscription in the plan's category
// returns that subscription with AlreadyActive set and publishes nothing.
func (uc *SubscriptionUseCase) ActivateFree(ctx context.Context, purchaser model.Purchaser, plan *model.Plan) (*model.Activation, error) {
	if plan.IsZero() || !plan.IsFree() || purchaser.UserID == "" {
		return nil, domain.WithError(domain.ErrInvalidArgument).
			WithHint("plan is not free").
			Mark(domain.ErrInvalidArgument)
	}
	log := logging.With(ctx, uc.logger)

	var (
		out     *model.Activation
		expired int64
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := uc.subs.LockPurchaser(ctx, tx, purchaser.UserID, plan.Category); err != nil {
			return err
		}
		now := uc.now().UTC()
		// an elapsed row the sweep has not reached yet must not hold the free slot
		var err error
		expired, err = uc.subs.ExpireElapsedFor(ctx, tx, purchaser.UserID, plan.Category, now)
		if err != nil {
			return err
		}

		existing, err := uc.subs.FindActive(ctx, tx, purchaser.UserID, plan.Category)
		if err == nil {
			out = &model.Activation{Subscription: existing, AlreadyActive: true}
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		sub, err := model.NewPendingSubscription(uuid.NewString(), purchaser, plan, nil)
		if err != nil {
			return err
		}
		if err := sub.Activate(plan, now); err != nil {
			return err
		}
		inserted, err := uc.subs.InsertActiveFree(ctx, tx, sub)
		if err != nil {
			return err
		}
		if !inserted {
			// lost the race to a concurrent twin; return the winner
			winner, err := uc.subs.FindActive(ctx, tx, purchaser.UserID, plan.Category)
			if err != nil {
				return errors.Wrap(err, "re-read free subscription")
			}
			out = &model.Activation{Subscription: winner, AlreadyActive: true}
			return nil
		}

		if err := uc.publishActivated(ctx, tx, sub, plan); err != nil {
			return err
		}
		out = &model.Activation{Subscription: sub}
		return nil
	})
	if err != nil {
		metrics.IncActivation("free", "error")
		log.Error().Err(err).Str("plan_id", plan.ID).Msg("free activation failed")
		return nil, err
	}
	if expired > 0 {
		metrics.IncSubscriptionsExpired(int(expired))
	}

	if out.AlreadyActive {
		metrics.IncActivation("free", "already_active")
	} else {
		metrics.IncActivation("free", "activated")
		log.Info().Str("subscription_id", out.Subscription.ID).Str("plan_id", plan.ID).Msg("free subscription activated")
	}
	return out, nil
}

// ActivateFromPayment records a captured payment and activates its subscription.
// Only the first confirmation for an order wins the transition to paid;
// later ones return AlreadyProcessed without side effects.
func (uc *SubscriptionUseCase) ActivateFromPayment(ctx context.Context, gatewayOrderID string, proof model.PaymentProof) (*model.Activation, error) {
	if gatewayOrderID == "" || proof.GatewayPaymentID == "" {
		return nil, domain.ErrInvalidArgument
	}
	ctx = logging.WithOrderID(ctx, gatewayOrderID)
	log := logging.With(ctx, uc.logger)

	var (
		out  *model.Activation
		paid *model.Payment
	)
	err := uc.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		now := uc.now().UTC()
		payment, err := uc.payments.MarkPaidIfPayable(ctx, tx, gatewayOrderID, proof.GatewayPaymentID, now)
		if err != nil {
			return err
		}
		if payment == nil {
			out, err = uc.resolveLostTransition(ctx, tx, gatewayOrderID)
			return err
		}

		if proof.Amount != 0 && proof.Amount != payment.Amount {
			return domain.NewError("captured amount differs from order").
				WithHintf("expected %d, got %d", payment.Amount, proof.Amount).
				Mark(domain.ErrAmountMismatch)
		}

		// the plan may have been retired after checkout; the purchaser still paid for it
		plan, err := uc.plans.FindAnyByID(ctx, tx, payment.PlanID)
		if err != nil {
			return errors.Wrap(err, "load plan for payment")
		}

		// concurrent captures for the same purchaser must see each other's coverage
		if err := uc.subs.LockPurchaser(ctx, tx, payment.Purchaser.UserID, plan.Category); err != nil {
			return err
		}
		start := now
		if current, err := uc.subs.FindActive(ctx, tx, payment.Purchaser.UserID, plan.Category); err == nil {
			if current.PeriodEnd.After(start) {
				start = current.PeriodEnd
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		paymentID := payment.ID
		sub, err := model.NewPendingSubscription(uuid.NewString(), payment.Purchaser, plan, &paymentID)
		if err != nil {
			return err
		}
		if err := sub.Activate(plan, start); err != nil {
			return err
		}
		if err := uc.subs.Save(ctx, tx, sub); err != nil {
			return err
		}
		if err := uc.payments.LinkSubscription(ctx, tx, payment.ID, sub.ID); err != nil {
			return err
		}
		if err := uc.publishActivated(ctx, tx, sub, plan); err != nil {
			return err
		}
		out = &model.Activation{Subscription: sub}
		paid = payment
		return nil
	})
	if err != nil {
		metrics.IncActivation("paid", "error")
		log.Error().Err(err).Msg("payment activation failed")
		return nil, err
	}

	if out.AlreadyProcessed {
		metrics.IncActivation("paid", "already_processed")
		log.Debug().Msg("payment already processed")
	} else {
		metrics.IncActivation("paid", "activated")
		metrics.IncPayment(string(model.PaymentStatusPaid))
		metrics.AddPaymentRevenue(paid.Currency, paid.Amount)
		log.Info().
			Str("subscription_id", out.Subscription.ID).
			Time("period_end", out.Subscription.PeriodEnd).
			Msg("subscription activated")
	}
	return out, nil
}

// resolveLostTransition explains why the conditional update matched no row.
func (uc *SubscriptionUseCase) resolveLostTransition(ctx context.Context, tx repository.Tx, gatewayOrderID string) (*model.Activation, error) {
	p, err := uc.payments.FindByGatewayOrderID(ctx, tx, gatewayOrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrPaymentNotFound) {
			return nil, domain.WithError(err).
				WithHint("payment not found").
				Mark(domain.ErrPaymentNotFound)
		}
		return nil, err
	}
	switch p.Status {
	case model.PaymentStatusPaid:
		act := &model.Activation{AlreadyProcessed: true}
		if p.SubscriptionID != nil {
			sub, err := uc.subs.FindByPaymentID(ctx, tx, p.ID)
			if err == nil {
				act.Subscription = sub
			}
		}
		return act, nil
	default:
		return nil, domain.NewError("payment is " + string(p.Status)).
			WithHint("payment can no longer be completed").
			Mark(domain.ErrPaymentNotPayable)
	}
}

// VerifyClientPayment checks the checkout proof returned to the client and
// activates the subscription when it is valid. Verifying twice succeeds twice.
func (uc *SubscriptionUseCase) VerifyClientPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*model.Activation, error) {
	start := time.Now()
	if !security.VerifyClientProof(gatewayOrderID, gatewayPaymentID, signature, uc.proofSecret) {
		metrics.PaymentVerifyRequests.WithLabelValues("fail", "invalid_signature").Inc()
		metrics.PaymentVerifyDuration.WithLabelValues("fail").Observe(time.Since(start).Seconds())
		return nil, domain.NewError("client proof mismatch").
			WithHint("invalid signature").
			Mark(domain.ErrInvalidSignature)
	}

	act, err := uc.ActivateFromPayment(ctx, gatewayOrderID, model.PaymentProof{GatewayPaymentID: gatewayPaymentID})
	if err != nil {
		reason := "internal"
		switch {
		case errors.Is(err, domain.ErrPaymentNotFound):
			reason = "not_found"
		case errors.Is(err, domain.ErrPaymentNotPayable):
			reason = "not_payable"
		}
		metrics.PaymentVerifyRequests.WithLabelValues("fail", reason).Inc()
		metrics.PaymentVerifyDuration.WithLabelValues("fail").Observe(time.Since(start).Seconds())
		return nil, err
	}
	metrics.PaymentVerifyRequests.WithLabelValues("ok", "").Inc()
	metrics.PaymentVerifyDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	return act, nil
}

// FailPayment moves a created payment to failed. Paid payments are never
// touched; it reports whether a row changed.
func (uc *SubscriptionUseCase) FailPayment(ctx context.Context, gatewayOrderID string) (bool, error) {
	if gatewayOrderID == "" {
		return false, domain.ErrInvalidArgument
	}
	changed, err := uc.payments.MarkFailedIfCreated(ctx, repository.NoTX, gatewayOrderID)
	if err != nil {
		return false, err
	}
	if changed {
		metrics.IncPayment(string(model.PaymentStatusFailed))
		logging.With(logging.WithOrderID(ctx, gatewayOrderID), uc.logger).Info().Msg("payment marked failed")
	}
	return changed, nil
}

// GetActive returns the purchaser's current subscription in a category.
func (uc *SubscriptionUseCase) GetActive(ctx context.Context, purchaserID string, category model.Role) (*model.Subscription, error) {
	if purchaserID == "" || !category.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	sub, err := uc.subs.FindActive(ctx, repository.NoTX, purchaserID, category)
	if err != nil {
		return nil, err
	}
	// the row may start in the future when coverage was extended; only a
	// fully elapsed period counts as gone
	if !sub.PeriodEnd.After(uc.now()) {
		return nil, domain.ErrNotFound
	}
	return sub, nil
}

// FinishExpired closes every subscription whose period has ended. Expiring a
// free subscription lets the purchaser activate the free plan again.
func (uc *SubscriptionUseCase) FinishExpired(ctx context.Context) (int, error) {
	n, err := uc.subs.ExpireElapsed(ctx, repository.NoTX, uc.now().UTC())
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (uc *SubscriptionUseCase) publishActivated(ctx context.Context, tx repository.Tx, sub *model.Subscription, plan *model.Plan) error {
	evt := model.NewSubscriptionActivatedEvent(uuid.NewString(), sub, plan)
	if err := uc.events.Publish(ctx, tx, model.EventSubscriptionActivated, sub.ID, evt); err != nil {
		return errors.Wrap(err, "publish activation event")
	}
	return nil
}
