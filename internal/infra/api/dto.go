package api

import (
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json names so clients see the fields they sent
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type validationError struct {
	fields map[string]string
}

func (e *validationError) Error() string {
	parts := make([]string, 0, len(e.fields))
	for k, v := range e.fields {
		parts = append(parts, k+": "+v)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// decodeAndValidate reads a JSON body into dst and runs struct validation.
func decodeAndValidate(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.WithError(err).
			WithHint("request body must be valid JSON").
			Mark(domain.ErrInvalidArgument)
	}
	if err := validate.Struct(dst); err != nil {
		fields := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				fields[fe.Field()] = describe(fe)
			}
		}
		return domain.WithError(&validationError{fields: fields}).
			WithHint("request validation failed").
			Mark(domain.ErrInvalidArgument)
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

type createOrderRequest struct {
	PlanID        string `json:"planId" validate:"required,max=64"`
	PurchaserID   string `json:"purchaserId" validate:"required,max=128"`
	PurchaserRole string `json:"purchaserRole" validate:"required,oneof=buyer owner agent"`
}

type createOrderResponse struct {
	OrderID    string `json:"orderId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	GatewayKey string `json:"gatewayKey"`
}

type freeActivationResponse struct {
	Activated      bool      `json:"activated"`
	AlreadyActive  bool      `json:"alreadyActive"`
	SubscriptionID string    `json:"subscriptionId"`
	PeriodEnd      time.Time `json:"periodEnd"`
}

type verifyPaymentRequest struct {
	OrderID   string `json:"orderId" validate:"required,max=64"`
	PaymentID string `json:"paymentId" validate:"required,max=64"`
	Signature string `json:"signature" validate:"required,max=128"`
}

type verifyPaymentResponse struct {
	Success          bool   `json:"success"`
	AlreadyProcessed bool   `json:"alreadyProcessed"`
	SubscriptionID   string `json:"subscriptionId,omitempty"`
}

type planResponse struct {
	ID           string         `json:"id"`
	Category     string         `json:"category"`
	Name         string         `json:"name"`
	Price        string         `json:"price"`
	Amount       int64          `json:"amount"`
	Currency     string         `json:"currency"`
	DurationDays int            `json:"durationDays"`
	Features     map[string]any `json:"features"`
}

func toPlanResponse(p *model.Plan) planResponse {
	return planResponse{
		ID:           p.ID,
		Category:     string(p.Category),
		Name:         p.Name,
		Price:        p.Price.StringFixed(2),
		Amount:       p.MinorUnits(),
		Currency:     p.Currency,
		DurationDays: p.DurationDays,
		Features:     p.Features,
	}
}

type subscriptionResponse struct {
	SubscriptionID string    `json:"subscriptionId"`
	PurchaserID    string    `json:"purchaserId"`
	PlanID         string    `json:"planId"`
	Category       string    `json:"category"`
	Status         string    `json:"status"`
	PeriodStart    time.Time `json:"periodStart"`
	PeriodEnd      time.Time `json:"periodEnd"`
}

func toSubscriptionResponse(s *model.Subscription) subscriptionResponse {
	return subscriptionResponse{
		SubscriptionID: s.ID,
		PurchaserID:    s.Purchaser.UserID,
		PlanID:         s.PlanID,
		Category:       string(s.PlanCategory),
		Status:         string(s.Status),
		PeriodStart:    s.PeriodStart,
		PeriodEnd:      s.PeriodEnd,
	}
}
