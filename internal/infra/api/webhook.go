package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cockroachdb/errors"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/infra/logging"
	"propmarket-payments/internal/infra/metrics"
	"propmarket-payments/internal/infra/security"
)

const (
	webhookPaymentCaptured = "payment.captured"
	webhookPaymentFailed   = "payment.failed"
)

// gatewayEvent is the subset of the gateway's webhook envelope we act on.
// Notes are left out on purpose: the gateway sends them as [] or {}.
type gatewayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity gatewayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
	CreatedAt int64 `json:"created_at"`
}

type gatewayPayment struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

func headerOf(r *http.Request, names ...string) string {
	for _, n := range names {
		if v := r.Header.Get(n); v != "" {
			return v
		}
	}
	return ""
}

// handleWebhook authenticates the raw body before anything is parsed. Any
// failure after authentication answers 5xx so the gateway redelivers; replays
// are harmless because activation is a conditional write.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxWebhookBytes))
	if err != nil {
		metrics.IncWebhook("unknown", "unreadable")
		writeError(w, domain.WithError(err).WithHint("body too large or unreadable").Mark(domain.ErrMalformedWebhookBody))
		return
	}

	if !security.VerifyWebhookSignature(body, headerOf(r, "X-Signature", "X-Razorpay-Signature"), s.opts.WebhookSecret) {
		metrics.IncWebhook("unknown", "invalid_signature")
		l := logging.With(ctx, s.logger)
		l.Warn().Int("bytes", len(body)).Msg("webhook signature rejected")
		writeError(w, domain.ErrInvalidSignature)
		return
	}

	eventID := headerOf(r, "X-Event-Id", "X-Razorpay-Event-Id")
	if eventID != "" {
		ctx = logging.WithEventID(ctx, eventID)
	}
	log := logging.With(ctx, s.logger)

	if eventID != "" && s.opts.EventStore != nil {
		seen, err := s.opts.EventStore.Seen(ctx, eventID)
		if err != nil {
			// the store is only a shortcut; the database still guards replays
			log.Warn().Err(err).Msg("webhook event store unavailable")
		} else if seen {
			metrics.IncWebhook("unknown", "duplicate")
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
	}

	var evt gatewayEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.Event == "" {
		metrics.IncWebhook("unknown", "malformed")
		writeError(w, domain.NewError("cannot decode webhook").Mark(domain.ErrMalformedWebhookBody))
		return
	}
	entity := evt.Payload.Payment.Entity

	switch evt.Event {
	case webhookPaymentCaptured:
		if entity.ID == "" || entity.OrderID == "" {
			metrics.IncWebhook(evt.Event, "malformed")
			writeError(w, domain.NewError("captured event without payment ids").Mark(domain.ErrMalformedWebhookBody))
			return
		}
		ctx = logging.WithOrderID(ctx, entity.OrderID)
		_, err := s.subs.ActivateFromPayment(ctx, entity.OrderID, model.PaymentProof{GatewayPaymentID: entity.ID, Amount: entity.Amount})
		switch {
		case err == nil:
		case errors.Is(err, domain.ErrAmountMismatch), errors.Is(err, domain.ErrPaymentNotPayable):
			// redelivery cannot change the outcome
			metrics.IncWebhook(evt.Event, "rejected")
			log.Error().Err(err).Str("order_id", entity.OrderID).Msg("captured payment rejected")
			s.markProcessed(r, eventID)
			writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
			return
		default:
			metrics.IncWebhook(evt.Event, "error")
			log.Error().Err(err).Str("order_id", entity.OrderID).Msg("webhook processing failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "processing failed"})
			return
		}

	case webhookPaymentFailed:
		if entity.OrderID == "" {
			metrics.IncWebhook(evt.Event, "malformed")
			writeError(w, domain.NewError("failed event without order id").Mark(domain.ErrMalformedWebhookBody))
			return
		}
		if _, err := s.subs.FailPayment(ctx, entity.OrderID); err != nil {
			metrics.IncWebhook(evt.Event, "error")
			log.Error().Err(err).Str("order_id", entity.OrderID).Msg("webhook processing failed")
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "processing failed"})
			return
		}

	default:
		metrics.IncWebhook(evt.Event, "ignored")
		s.markProcessed(r, eventID)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	metrics.IncWebhook(evt.Event, "ok")
	s.markProcessed(r, eventID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) markProcessed(r *http.Request, eventID string) {
	if eventID == "" || s.opts.EventStore == nil {
		return
	}
	if err := s.opts.EventStore.MarkProcessed(r.Context(), eventID); err != nil {
		l := logging.With(r.Context(), s.logger)
		l.Warn().Err(err).Msg("mark webhook event processed failed")
	}
}
