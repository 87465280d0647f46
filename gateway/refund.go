package gateway

import (
	"errors"
	"fmt"

	"github.com/xraph/billing/types"
)

var (
	ErrInvalidAmount        = errors.New("billing: amount must be positive")
	ErrCurrencyMismatch     = errors.New("billing: currency does not match original charge")
	ErrRefundExceedsBalance = errors.New("billing: refund exceeds remaining refundable amount")
	ErrMissingReference     = errors.New("billing: reference is required")
)

// CheckRefund rejects a refund that is non-positive, in another currency,
// or larger than Original minus AlreadyRefunded.
func CheckRefund(req RefundRequest) error {
	if !req.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !req.Amount.SameCurrency(req.Original) {
		return ErrCurrencyMismatch
	}
	remaining := req.Original.Amount - req.AlreadyRefunded.Amount
	if req.Amount.Amount > remaining {
		return fmt.Errorf("%w: requested %s, remaining %s",
			ErrRefundExceedsBalance, req.Amount, req.Original.Subtract(req.AlreadyRefunded))
	}
	return nil
}

// CheckCharge rejects a charge without a reference or a positive amount.
func CheckCharge(reference string, amount types.Money) error {
	if reference == "" {
		return ErrMissingReference
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
