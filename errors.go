package billing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/subscription"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound         = errors.New("billing: not found")
	ErrAlreadyExists    = errors.New("billing: already exists")
	ErrInvalidInput     = errors.New("billing: invalid input")
	ErrInvalidAmount    = gateway.ErrInvalidAmount
	ErrConcurrentUpdate = errors.New("billing: concurrent update")

	// Plan errors
	ErrPlanNotFound = errors.New("billing: plan not found")
	ErrInvalidPlan  = errors.New("billing: invalid plan")
	ErrPlanInactive = errors.New("billing: plan is not active")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrAlreadyActive        = errors.New("billing: subscription already active")
	ErrNotReactivatable     = errors.New("billing: subscription cannot be reactivated, subscribe again")
	ErrIllegalTransition    = errors.New("billing: illegal subscription transition")
	ErrStalePayment         = errors.New("billing: payment predates the subscription's current state")
	ErrOutcomeApplied       = errors.New("billing: payment outcome already applied")

	// Ledger errors
	ErrTransactionNotFound  = errors.New("billing: transaction not found")
	ErrDuplicateReference   = errors.New("billing: duplicate transaction reference")
	ErrDuplicateExternalID  = errors.New("billing: duplicate external transaction id")
	ErrRefundExceedsBalance = gateway.ErrRefundExceedsBalance
	ErrNotRefundable        = errors.New("billing: transaction is not a completed charge")
	ErrTokenNotFound        = errors.New("billing: payment token not found")

	// Coupon errors
	ErrCouponNotFound    = errors.New("billing: coupon not found")
	ErrCouponIneligible  = errors.New("billing: coupon not eligible")
	ErrCouponAlreadyUsed = errors.New("billing: coupon already used by account")
	ErrCouponExhausted   = errors.New("billing: coupon usage limit reached")

	// Gateway errors
	ErrUnknownProvider        = errors.New("billing: unknown payment provider")
	ErrProviderNotConfigured  = errors.New("billing: payment provider not configured")
	ErrInvalidSignature       = errors.New("billing: invalid callback signature")
	ErrMalformedNotification  = errors.New("billing: malformed provider notification")
	ErrGatewayUnavailable     = errors.New("billing: payment gateway unavailable")
	ErrGatewayRejected        = errors.New("billing: payment gateway rejected request")
	ErrTokenChargeUnsupported = errors.New("billing: payment gateway cannot charge saved tokens")

	// Store errors
	ErrStoreClosed     = errors.New("billing: store is closed")
	ErrMigrationFailed = errors.New("billing: migration failed")
)

// ──────────────────────────────────────────────────
// Error taxonomy
// ──────────────────────────────────────────────────

// ValidationError is bad caller input. It is never retried and its message
// is safe to show to the caller.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("billing: validation failed for %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps err as a validation failure of field.
func NewValidationError(field string, err error) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: strings.TrimPrefix(err.Error(), "billing: "),
		Err:     err,
	}
}

// StateConflictError is an illegal lifecycle transition. Current carries the
// status the subscription actually had when the guard was checked.
type StateConflictError struct {
	Op      string
	Current subscription.Status
	Err     error
}

func (e *StateConflictError) Error() string {
	if e.Current == "" {
		return fmt.Sprintf("billing: cannot %s: no subscription", e.Op)
	}
	return fmt.Sprintf("billing: cannot %s subscription in status %s", e.Op, e.Current)
}

func (e *StateConflictError) Unwrap() error {
	if e.Err == nil {
		return ErrIllegalTransition
	}
	return e.Err
}

// GatewayTransientError is a network, timeout, or provider-side outage. The
// same request may be retried with the same reference.
type GatewayTransientError struct {
	Provider string
	Op       string
	Err      error
}

func (e *GatewayTransientError) Error() string {
	return fmt.Sprintf("billing: %s %s unavailable: %v", e.Provider, e.Op, e.Err)
}

func (e *GatewayTransientError) Unwrap() []error { return []error{ErrGatewayUnavailable, e.Err} }

// GatewayRejectedError is a terminal refusal by the provider.
type GatewayRejectedError struct {
	Provider string
	Code     string
	Reason   string
}

func (e *GatewayRejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("billing: %s rejected: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("billing: %s rejected (%s): %s", e.Provider, e.Code, e.Reason)
}

func (e *GatewayRejectedError) Unwrap() error { return ErrGatewayRejected }

// ReconciliationNoop reports a callback that was acknowledged without any
// state change: an unknown reference, a replay, or a lost race.
type ReconciliationNoop struct {
	Reference string
	Reason    string
}

func (e *ReconciliationNoop) Error() string {
	return fmt.Sprintf("billing: callback %q ignored: %s", e.Reference, e.Reason)
}

// ──────────────────────────────────────────────────
// MultiError
// ──────────────────────────────────────────────────

// MultiError collects independent failures, e.g. from a sweep.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "billing: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("billing: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrOrNil returns e when it holds errors, nil otherwise.
func (e MultiError) ErrOrNil() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// ──────────────────────────────────────────────────
// Classification helpers
// ──────────────────────────────────────────────────

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrCouponNotFound)
}

// IsRetryable returns true if the operation can be retried unchanged.
func IsRetryable(err error) bool {
	var transient *GatewayTransientError
	return errors.As(err, &transient) ||
		errors.Is(err, ErrConcurrentUpdate) ||
		errors.Is(err, ErrGatewayUnavailable)
}

// IsValidation returns true for caller input errors.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsStateConflict returns true for illegal lifecycle transitions.
func IsStateConflict(err error) bool {
	var c *StateConflictError
	return errors.As(err, &c)
}

// IsRejected returns true when a provider refused the request.
func IsRejected(err error) bool {
	var r *GatewayRejectedError
	return errors.As(err, &r)
}

// IsNoop returns true for acknowledged-but-ignored callbacks.
func IsNoop(err error) bool {
	var n *ReconciliationNoop
	return errors.As(err, &n)
}
