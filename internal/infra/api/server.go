package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/adapter"
	"propmarket-payments/internal/infra/logging"
	"propmarket-payments/internal/usecase"
)

type OrderService interface {
	CreateOrder(ctx context.Context, planID, purchaserID string, purchaserRole model.Role) (*usecase.OrderResult, error)
	ListPlans(ctx context.Context) ([]*model.Plan, error)
}

type SubscriptionService interface {
	VerifyClientPayment(ctx context.Context, gatewayOrderID, gatewayPaymentID, signature string) (*model.Activation, error)
	ActivateFromPayment(ctx context.Context, gatewayOrderID string, proof model.PaymentProof) (*model.Activation, error)
	FailPayment(ctx context.Context, gatewayOrderID string) (bool, error)
	GetActive(ctx context.Context, purchaserID string, category model.Role) (*model.Subscription, error)
}

type Options struct {
	WebhookSecret   string
	MaxWebhookBytes int64
	RequestTimeout  time.Duration

	// Optional.
	Auth       *Authenticator
	EventStore adapter.WebhookEventStore
	Health     func(ctx context.Context) error
}

type Server struct {
	orders OrderService
	subs   SubscriptionService
	opts   Options
	logger *zerolog.Logger
}

func NewServer(orders OrderService, subs SubscriptionService, opts Options, logger *zerolog.Logger) *Server {
	if opts.MaxWebhookBytes <= 0 {
		opts.MaxWebhookBytes = 1 << 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	return &Server{orders: orders, subs: subs, opts: opts, logger: logger}
}

// Routes builds the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.logger), RequestLog(s.logger), Timeout(s.opts.RequestTimeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/plans", s.handleListPlans)
	r.Post("/webhooks/gateway", s.handleWebhook)

	r.Group(func(r chi.Router) {
		if s.opts.Auth != nil {
			r.Use(s.opts.Auth.Middleware)
		}
		r.Post("/payments/create", s.handleCreateOrder)
		r.Post("/payments/verify", s.handleVerifyPayment)
		r.Get("/subscriptions/active", s.handleGetActive)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.opts.Health != nil {
		if err := s.opts.Health(r.Context()); err != nil {
			l := logging.With(r.Context(), s.logger)
			l.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.orders.ListPlans(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		items = append(items, toPlanResponse(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := authorizePurchaser(r.Context(), req.PurchaserID); err != nil {
		writeError(w, err)
		return
	}

	res, err := s.orders.CreateOrder(r.Context(), req.PlanID, req.PurchaserID, model.Role(req.PurchaserRole))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.Activated {
		writeJSON(w, http.StatusCreated, freeActivationResponse{
			Activated:      true,
			AlreadyActive:  res.AlreadyActive,
			SubscriptionID: res.Subscription.ID,
			PeriodEnd:      res.Subscription.PeriodEnd,
		})
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResponse{
		OrderID:    res.OrderID,
		Amount:     res.Amount,
		Currency:   res.Currency,
		GatewayKey: res.GatewayKey,
	})
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyPaymentRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}
	act, err := s.subs.VerifyClientPayment(r.Context(), req.OrderID, req.PaymentID, req.Signature)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := verifyPaymentResponse{Success: true, AlreadyProcessed: act.AlreadyProcessed}
	if act.Subscription != nil {
		resp.SubscriptionID = act.Subscription.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetActive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	purchaserID := q.Get("purchaserId")
	category := model.Role(q.Get("category"))
	if purchaserID == "" || !category.Valid() {
		writeError(w, domain.NewError("bad query").
			WithHint("purchaserId and category (buyer|owner|agent) are required").
			Mark(domain.ErrInvalidArgument))
		return
	}
	if err := authorizePurchaser(r.Context(), purchaserID); err != nil {
		writeError(w, err)
		return
	}
	sub, err := s.subs.GetActive(r.Context(), purchaserID, category)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// fail logs server side failures before mapping them.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if status, _ := statusFor(err); status >= http.StatusInternalServerError {
		l := logging.With(r.Context(), s.logger)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, err)
}
