package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/juju/clock"

	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/types"
)

// Ledger records charge and refund attempts. Every attempt is written as
// pending before the gateway is contacted, and terminal outcomes are single
// conditional writes, so the ledger rather than any HTTP response is the
// source of truth for money movement.
type Ledger struct {
	store   payment.Store
	clock   clock.Clock
	plugins *plugin.Registry
	logger  *slog.Logger
}

// Attempt describes a charge or refund about to be sent to a gateway.
type Attempt struct {
	AccountID   string
	Provider    string
	Reference   string
	Kind        payment.Kind
	Amount      types.Money
	Context     payment.Context
	ContextID   string
	PlanID      id.PlanID
	CouponID    id.CouponID
	OriginalID  id.TransactionID
	Description string
	Metadata    map[string]string
}

// RefundAttempt asks for part or all of a completed charge back. A zero
// Amount refunds whatever is left.
type RefundAttempt struct {
	OriginalID id.TransactionID
	Amount     types.Money
	Reason     string
	Reference  string
}

// RecordAttempt inserts a pending transaction. When Reference is already
// in the ledger for the same account, kind and amount, the existing row is
// returned instead, so retried initiations map to one row. An empty
// Reference is replaced by the transaction id.
func (l *Ledger) RecordAttempt(ctx context.Context, a Attempt) (*payment.Transaction, error) {
	if !a.Amount.IsPositive() {
		return nil, NewValidationError("amount", ErrInvalidAmount)
	}
	if a.AccountID == "" {
		return nil, &ValidationError{Field: "account_id", Message: "is required", Err: ErrInvalidInput}
	}

	if a.Reference != "" {
		existing, err := l.store.GetTransactionByReference(ctx, a.Reference)
		switch {
		case err == nil:
			return l.sameAttempt(existing, a)
		case !errors.Is(err, ErrTransactionNotFound):
			return nil, err
		}
	}

	now := l.clock.Now()
	txn := &payment.Transaction{
		Entity:      types.NewEntityAt(now),
		ID:          id.NewTransactionID(),
		AccountID:   a.AccountID,
		Provider:    a.Provider,
		Reference:   a.Reference,
		Amount:      a.Amount,
		Kind:        a.Kind,
		Status:      payment.StatusPending,
		Context:     a.Context,
		ContextID:   a.ContextID,
		PlanID:      a.PlanID,
		CouponID:    a.CouponID,
		OriginalID:  a.OriginalID,
		Description: a.Description,
		Metadata:    a.Metadata,
	}
	if txn.Reference == "" {
		txn.Reference = txn.ID.String()
	}

	if err := l.store.CreateTransaction(ctx, txn); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			// Lost an insert race on the same reference.
			existing, getErr := l.store.GetTransactionByReference(ctx, txn.Reference)
			if getErr != nil {
				return nil, getErr
			}
			return l.sameAttempt(existing, a)
		}
		return nil, fmt.Errorf("billing: record attempt: %w", err)
	}

	l.logger.Debug("transaction recorded",
		"transaction_id", txn.ID.String(),
		"reference", txn.Reference,
		"kind", txn.Kind,
		"amount", txn.Amount.String(),
	)

	return txn, nil
}

// sameAttempt returns existing when it is a replay of a, and a validation
// error when the reference was used for something else.
func (l *Ledger) sameAttempt(existing *payment.Transaction, a Attempt) (*payment.Transaction, error) {
	if existing.AccountID != a.AccountID || existing.Kind != a.Kind || !existing.Amount.Equal(a.Amount) {
		return nil, NewValidationError("reference", ErrDuplicateReference)
	}
	return existing, nil
}

// MarkTerminal moves a pending transaction to completed or failed. It
// reports whether this call made the transition; a second call, with the
// same or a conflicting outcome, changes nothing and returns false. A
// failed refund releases its reservation on the original charge.
func (l *Ledger) MarkTerminal(ctx context.Context, txnID id.TransactionID, outcome payment.Outcome) (bool, error) {
	if outcome.Status != payment.StatusCompleted && outcome.Status != payment.StatusFailed {
		return false, &ValidationError{Field: "status", Message: "must be completed or failed", Err: ErrInvalidInput}
	}
	if outcome.At.IsZero() {
		outcome.At = l.clock.Now()
	}
	outcome.At = outcome.At.UTC()

	ok, err := l.store.CompleteTransaction(ctx, txnID, outcome)
	if err != nil {
		return false, err
	}
	if !ok {
		l.logger.Debug("transaction already terminal", "transaction_id", txnID.String())
		return false, nil
	}

	txn, err := l.store.GetTransaction(ctx, txnID)
	if err != nil {
		return true, err
	}

	if txn.Kind == payment.KindRefund && txn.Status == payment.StatusFailed {
		if err := l.store.ReleaseRefund(ctx, txn.OriginalID, txn.Amount.Amount, outcome.At); err != nil {
			return true, fmt.Errorf("billing: release refund reservation: %w", err)
		}
	}

	l.logger.Info("transaction terminal",
		"transaction_id", txn.ID.String(),
		"reference", txn.Reference,
		"kind", txn.Kind,
		"status", txn.Status,
	)
	l.plugins.EmitTransactionTerminal(ctx, txn)

	return true, nil
}

// ApplyRefund reserves the amount on the original charge and records a
// pending refund linked to it. The reservation is one conditional write, so
// concurrent refunds can never take more than the original amount. A
// reused Reference returns the existing refund without reserving again.
func (l *Ledger) ApplyRefund(ctx context.Context, r RefundAttempt) (*payment.Transaction, error) {
	refund, _, _, err := l.reserveRefund(ctx, r)
	return refund, err
}

// reserveRefund is ApplyRefund returning the original as it stands after
// the reservation and whether the refund row already existed.
func (l *Ledger) reserveRefund(ctx context.Context, r RefundAttempt) (refund, original *payment.Transaction, reused bool, err error) {
	if r.Reference != "" {
		existing, err := l.store.GetTransactionByReference(ctx, r.Reference)
		switch {
		case err == nil:
			if existing.Kind != payment.KindRefund || existing.OriginalID.String() != r.OriginalID.String() {
				return nil, nil, false, NewValidationError("reference", ErrDuplicateReference)
			}
			original, err := l.store.GetTransaction(ctx, existing.OriginalID)
			if err != nil {
				return nil, nil, false, err
			}
			return existing, original, true, nil
		case !errors.Is(err, ErrTransactionNotFound):
			return nil, nil, false, err
		}
	}

	current, err := l.store.GetTransaction(ctx, r.OriginalID)
	if err != nil {
		return nil, nil, false, err
	}
	if current.Kind != payment.KindCharge {
		return nil, nil, false, NewValidationError("transaction_id", ErrNotRefundable)
	}

	amount := r.Amount
	if amount.IsZero() && amount.Currency == "" {
		amount = current.Refundable()
	}
	if amount.Currency == "" {
		amount.Currency = current.Amount.Currency
	}
	if !amount.SameCurrency(current.Amount) {
		return nil, nil, false, NewValidationError("amount", gateway.ErrCurrencyMismatch)
	}
	if !amount.IsPositive() {
		return nil, nil, false, NewValidationError("amount", ErrInvalidAmount)
	}

	now := l.clock.Now().UTC()
	original, err = l.store.ReserveRefund(ctx, r.OriginalID, amount.Amount, now)
	if err != nil {
		switch {
		case errors.Is(err, ErrRefundExceedsBalance), errors.Is(err, ErrNotRefundable), errors.Is(err, ErrInvalidAmount):
			return nil, nil, false, NewValidationError("amount", err)
		default:
			return nil, nil, false, err
		}
	}

	refund = &payment.Transaction{
		Entity:      types.NewEntityAt(now),
		ID:          id.NewTransactionID(),
		AccountID:   original.AccountID,
		Provider:    original.Provider,
		Reference:   r.Reference,
		Amount:      amount,
		Kind:        payment.KindRefund,
		Status:      payment.StatusPending,
		Context:     payment.ContextRefund,
		ContextID:   original.ID.String(),
		PlanID:      original.PlanID,
		OriginalID:  original.ID,
		Description: r.Reason,
	}
	if refund.Reference == "" {
		refund.Reference = refund.ID.String()
	}

	if err := l.store.CreateTransaction(ctx, refund); err != nil {
		if relErr := l.store.ReleaseRefund(ctx, original.ID, amount.Amount, now); relErr != nil {
			l.logger.Error("failed to release refund reservation",
				"transaction_id", original.ID.String(),
				"amount", amount.String(),
				"error", relErr,
			)
		}
		if errors.Is(err, ErrDuplicateReference) {
			return l.reserveRefund(ctx, r)
		}
		return nil, nil, false, fmt.Errorf("billing: record refund: %w", err)
	}

	l.logger.Info("refund reserved",
		"transaction_id", original.ID.String(),
		"refund_id", refund.ID.String(),
		"amount", amount.String(),
		"refunded", types.New(original.RefundedAmount, original.Amount.Currency).String(),
	)

	return refund, original, false, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// Transaction returns a transaction by id.
func (l *Ledger) Transaction(ctx context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	return l.store.GetTransaction(ctx, txnID)
}

// TransactionByReference returns the transaction recorded under a caller reference.
func (l *Ledger) TransactionByReference(ctx context.Context, reference string) (*payment.Transaction, error) {
	return l.store.GetTransactionByReference(ctx, reference)
}

// RecentTransactions returns the newest transactions of an account.
func (l *Ledger) RecentTransactions(ctx context.Context, accountID string, limit int) ([]*payment.Transaction, error) {
	return l.store.ListTransactions(ctx, accountID, payment.ListOpts{Limit: limit})
}

// HasPaidSubscription reports whether the account ever completed a
// subscription or renewal charge.
func (l *Ledger) HasPaidSubscription(ctx context.Context, accountID string) (bool, error) {
	return l.store.HasCompletedCharge(ctx, accountID, payment.ContextSubscription, payment.ContextRenewal)
}
