package api

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"

	"propmarket-payments/internal/domain"
)

type errorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// statusFor maps domain sentinels to HTTP status codes and a fallback message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusBadRequest, "invalid signature"
	case errors.Is(err, domain.ErrMalformedWebhookBody):
		return http.StatusBadRequest, "malformed webhook body"
	case errors.Is(err, domain.ErrPlanNotFound):
		return http.StatusBadRequest, "plan not found"
	case errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusBadRequest, "payment not found"
	case errors.Is(err, domain.ErrPaymentNotPayable):
		return http.StatusBadRequest, "payment is not payable"
	case errors.Is(err, domain.ErrAmountMismatch):
		return http.StatusBadRequest, "payment amount mismatch"
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, "payment gateway unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// writeError is the single place domain errors become HTTP responses. Hints
// are client safe; internal messages are not, so 5xx never echo them.
func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if status < http.StatusInternalServerError {
		if hint := domain.Hint(err); hint != "" {
			msg = hint
		}
	}
	resp := errorResponse{Error: msg}
	var verr *validationError
	if errors.As(err, &verr) {
		resp.Details = verr.fields
	}
	writeJSON(w, status, resp)
}
