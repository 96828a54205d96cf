package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrLocked             = errors.New("resource is locked")
	ErrRateLimited        = errors.New("too many requests")
	ErrInvalidToken       = errors.New("invalid or expired token")

	// Pricing
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrUnsupportedCurrency  = errors.New("unsupported currency")
	ErrImplausiblePricing   = errors.New("existing subscription pricing is implausible")
	ErrPaymentsDisabled     = errors.New("payments are disabled")
	ErrGateway              = errors.New("payment gateway error")
	ErrGatewayOrderCreation = errors.New("gateway order creation failed")
	ErrSignatureMismatch    = errors.New("payment signature verification failed")

	// Orders
	ErrOrderNotFound = errors.New("order not found")
	ErrOrderExpired  = errors.New("order expired")

	// Subscriptions
	ErrNoActiveSubscription        = errors.New("no active subscription")
	ErrDowngradeNotAllowedMidCycle = errors.New("downgrade or same-plan purchase not allowed mid-cycle")
	ErrInvalidDowngrade            = errors.New("target plan is not a downgrade")
	ErrNotCancelled                = errors.New("subscription is not pending cancellation")
	ErrDuplicateActivation         = errors.New("concurrent activation for the same user")
)

// GatewayError carries the failing gateway operation and the provider code.
// It matches ErrGateway and, for order creation, ErrGatewayOrderCreation.
type GatewayError struct {
	Op     string
	Status int
	Code   string
	Err    error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %s", e.Op)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (http %d)", e.Status)
	}
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	errs := []error{ErrGateway}
	if e.Op == "create_order" {
		errs = append(errs, ErrGatewayOrderCreation)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
