package domain

import "github.com/cockroachdb/errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrOperationFailed    = errors.New("operation failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")

	// Payment and subscription errors
	ErrPlanNotFound         = errors.New("plan not found")
	ErrGatewayUnavailable   = errors.New("payment gateway unavailable")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentNotPayable    = errors.New("payment is not payable")
	ErrAmountMismatch       = errors.New("payment amount mismatch")
	ErrMalformedWebhookBody = errors.New("malformed webhook body")
	ErrInvalidTransition    = errors.New("invalid subscription status transition")
)
