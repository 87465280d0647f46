package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/juju/clock"

	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/types"
)

// Reconciler applies verified provider notifications. It is the only path
// that changes a subscription purely from external input.
type Reconciler struct {
	ledger    *Ledger
	lifecycle *Lifecycle
	payments  payment.Store
	coupons   coupon.Store
	clock     clock.Clock
	logger    *slog.Logger
}

// Reconcile terminalizes the transaction the notification refers to and
// feeds the outcome into the subscription lifecycle. Unknown references
// return *ReconciliationNoop without changing anything. A notification for
// a transaction that is already terminal re-applies its outcome when an
// earlier delivery terminalized the row but failed before the lifecycle
// caught up; otherwise it is a no-op.
func (r *Reconciler) Reconcile(ctx context.Context, n *gateway.Notification) error {
	txn, err := r.ledger.TransactionByReference(ctx, n.Reference)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return &ReconciliationNoop{Reference: n.Reference, Reason: "unknown reference"}
		}
		return err
	}
	if txn.Status.IsTerminal() {
		return r.resume(ctx, txn, n)
	}

	if n.Approved && !n.Amount.IsZero() && !n.Amount.Equal(txn.Amount) {
		r.logger.Warn("notification amount differs from ledger",
			"reference", n.Reference,
			"ledger_amount", txn.Amount.String(),
			"notified_amount", n.Amount.String(),
		)
	}

	outcome := payment.Outcome{
		Status:     payment.StatusFailed,
		ExternalID: n.ProviderRef,
		At:         r.clock.Now().UTC(),
	}
	if n.Approved {
		outcome.Status = payment.StatusCompleted
	} else {
		outcome.FailureReason = n.Reason
		if outcome.FailureReason == "" {
			outcome.FailureReason = n.Code
		}
	}

	ok, err := r.ledger.MarkTerminal(ctx, txn.ID, outcome)
	if err != nil {
		return err
	}
	if !ok {
		current, err := r.ledger.Transaction(ctx, txn.ID)
		if err != nil {
			return err
		}
		return r.resume(ctx, current, n)
	}
	txn.Status = outcome.Status
	txn.CompletedAt = &outcome.At

	err = r.apply(ctx, txn, n)
	if errors.Is(err, ErrStalePayment) {
		return nil
	}
	return err
}

// resume handles a notification for a transaction that is already
// terminal. The ledger outcome wins over the notification.
func (r *Reconciler) resume(ctx context.Context, txn *payment.Transaction, n *gateway.Notification) error {
	noop := &ReconciliationNoop{Reference: n.Reference, Reason: "already terminal"}
	if !affectsSubscription(txn) || n.Approved != (txn.Status == payment.StatusCompleted) {
		return noop
	}

	err := r.apply(ctx, txn, n)
	switch {
	case err == nil:
		r.logger.Info("payment outcome resumed",
			"reference", txn.Reference,
			"account_id", txn.AccountID,
			"status", txn.Status,
		)
		return nil
	case IsStateConflict(err):
		return noop
	default:
		return err
	}
}

func affectsSubscription(txn *payment.Transaction) bool {
	return txn.Kind == payment.KindCharge &&
		(txn.Context == payment.ContextSubscription || txn.Context == payment.ContextRenewal)
}

func (r *Reconciler) apply(ctx context.Context, txn *payment.Transaction, n *gateway.Notification) error {
	if !affectsSubscription(txn) {
		return nil
	}
	if txn.Status == payment.StatusCompleted {
		return r.confirmed(ctx, txn, n)
	}
	return r.failed(ctx, txn)
}

func (r *Reconciler) confirmed(ctx context.Context, txn *payment.Transaction, n *gateway.Notification) error {
	if _, err := r.lifecycle.PaymentConfirmed(ctx, txn); err != nil {
		if errors.Is(err, ErrStalePayment) {
			r.logger.Warn("paid charge predates subscription end, refund required",
				"reference", txn.Reference,
				"transaction_id", txn.ID.String(),
				"account_id", txn.AccountID,
				"error", err,
			)
		}
		return err
	}

	if n.Token != nil && n.Token.Token != "" {
		if err := r.saveToken(ctx, txn, n); err != nil {
			r.logger.Error("failed to save payment token",
				"account_id", txn.AccountID,
				"error", err,
			)
		}
	}

	if !txn.CouponID.IsNil() {
		r.ensureRedeemed(ctx, txn)
	}
	return nil
}

func (r *Reconciler) failed(ctx context.Context, txn *payment.Transaction) error {
	if _, err := r.lifecycle.PaymentFailed(ctx, txn.AccountID, txn); err != nil {
		if !IsStateConflict(err) || errors.Is(err, ErrOutcomeApplied) || errors.Is(err, ErrStalePayment) {
			return err
		}
		r.logger.Debug("payment failure not applied",
			"account_id", txn.AccountID,
			"error", err,
		)
	}

	// A declined first payment did not use the coupon.
	if txn.Context == payment.ContextSubscription && !txn.CouponID.IsNil() {
		if err := r.coupons.ReleaseCoupon(ctx, txn.CouponID, txn.AccountID); err != nil {
			r.logger.Error("failed to release coupon",
				"coupon_id", txn.CouponID.String(),
				"account_id", txn.AccountID,
				"error", err,
			)
		}
	}
	return nil
}

func (r *Reconciler) saveToken(ctx context.Context, txn *payment.Transaction, n *gateway.Notification) error {
	now := r.clock.Now().UTC()
	return r.payments.SaveToken(ctx, &payment.Token{
		Entity:      types.NewEntityAt(now),
		ID:          id.NewTokenID(),
		AccountID:   txn.AccountID,
		Provider:    string(n.Provider),
		Token:       n.Token.Token,
		CustomerRef: n.Token.CustomerRef,
		Last4:       n.Token.Last4,
		Brand:       n.Token.Brand,
		ExpMonth:    n.Token.ExpMonth,
		ExpYear:     n.Token.ExpYear,
		Primary:     true,
		Active:      true,
		LastUsedAt:  &now,
	})
}

// ensureRedeemed records the coupon usage of a paid charge whose
// redemption was released after a gateway timeout.
func (r *Reconciler) ensureRedeemed(ctx context.Context, txn *payment.Transaction) {
	used, err := r.coupons.HasCouponUsage(ctx, txn.CouponID, txn.AccountID)
	if err != nil || used {
		return
	}
	err = r.coupons.RedeemCoupon(ctx, &coupon.Usage{
		Entity:        types.NewEntityAt(r.clock.Now()),
		ID:            id.NewCouponUsageID(),
		CouponID:      txn.CouponID,
		AccountID:     txn.AccountID,
		TransactionID: txn.ID,
	})
	if err != nil {
		r.logger.Warn("failed to record coupon usage for paid charge",
			"coupon_id", txn.CouponID.String(),
			"transaction_id", txn.ID.String(),
			"error", err,
		)
	}
}
