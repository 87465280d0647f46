package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/xraph/billing/account"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

// maxTransitionAttempts bounds the reload-and-recheck loop on version conflicts.
const maxTransitionAttempts = 3

// Lifecycle operation names, used in errors, logs and plugin events.
const (
	OpSubscribe        = "subscribe"
	OpPaymentConfirmed = "payment_confirmed"
	OpPaymentFailed    = "payment_failed"
	OpCancel           = "cancel"
	OpReactivate       = "reactivate"
	OpExpire           = "expire"
	OpBlockTrial       = "block_expired_trial"
	OpExtendTrial      = "extend_trial"
	OpDeferPayment     = "defer_next_payment"
	OpBindCoupon       = "bind_coupon"
)

// Lifecycle is the subscription state machine. Every transition loads the
// row, checks its guard against the current status, and saves with a
// version check; on a version conflict the row is reloaded and the guard
// checked again. Illegal transitions return *StateConflictError and leave
// the row untouched.
type Lifecycle struct {
	subs     subscription.Store
	plans    plan.Store
	accounts account.Directory
	clock    clock.Clock
	plugins  *plugin.Registry
	logger   *slog.Logger

	trialDays              int
	failedPaymentThreshold int
}

// mutation applies a guarded change to sub in place.
type mutation func(sub *subscription.Subscription, now time.Time) error

func conflict(op string, sub *subscription.Subscription, err error) *StateConflictError {
	return &StateConflictError{Op: op, Current: sub.Status, Err: err}
}

// transition runs fn against the account's subscription and persists it.
func (l *Lifecycle) transition(ctx context.Context, op, accountID string, fn mutation) (*subscription.Subscription, error) {
	for attempt := 1; ; attempt++ {
		sub, err := l.subs.GetSubscriptionByAccount(ctx, accountID)
		if err != nil {
			if errors.Is(err, ErrSubscriptionNotFound) {
				return nil, &StateConflictError{Op: op, Err: ErrSubscriptionNotFound}
			}
			return nil, err
		}

		from := sub.Status
		now := l.clock.Now().UTC()
		if err := fn(sub, now); err != nil {
			return nil, err
		}
		sub.Touch(now)
		if err := sub.CheckConsistency(); err != nil {
			return nil, fmt.Errorf("billing: %s: %w", op, err)
		}

		err = l.subs.UpdateSubscription(ctx, sub)
		if errors.Is(err, ErrConcurrentUpdate) && attempt < maxTransitionAttempts {
			l.logger.Debug("subscription version conflict, retrying",
				"op", op,
				"account_id", accountID,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, err
		}

		l.applied(ctx, op, from, sub)
		return sub, nil
	}
}

func (l *Lifecycle) applied(ctx context.Context, op string, from subscription.Status, sub *subscription.Subscription) {
	l.logger.Info("subscription transition",
		"op", op,
		"account_id", sub.AccountID,
		"subscription_id", sub.ID.String(),
		"from", from,
		"to", sub.Status,
	)
	l.plugins.EmitSubscriptionChanged(ctx, sub, plugin.Transition{Op: op, From: from, To: sub.Status})
}

// create inserts a new subscription. It reports false when another writer
// created one for the account first.
func (l *Lifecycle) create(ctx context.Context, op string, sub *subscription.Subscription) (bool, error) {
	if err := sub.CheckConsistency(); err != nil {
		return false, fmt.Errorf("billing: %s: %w", op, err)
	}
	if err := l.subs.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return false, nil
		}
		return false, err
	}
	l.applied(ctx, op, "", sub)
	return true, nil
}

// setStorefront toggles storefront access. The subscription write already
// happened, so directory failures are logged rather than returned.
func (l *Lifecycle) setStorefront(ctx context.Context, accountID string, active bool) {
	if err := l.accounts.SetActive(ctx, accountID, active); err != nil {
		l.logger.Error("failed to update storefront access",
			"account_id", accountID,
			"active", active,
			"error", err,
		)
	}
}

// ──────────────────────────────────────────────────
// Transitions
// ──────────────────────────────────────────────────

// Subscribe starts a trial when the account has no subscription. Otherwise
// it points the subscription at p without resetting an in-progress trial;
// an active subscription is a conflict.
func (l *Lifecycle) Subscribe(ctx context.Context, accountID string, p *plan.Plan) (*subscription.Subscription, error) {
	if _, err := l.subs.GetSubscriptionByAccount(ctx, accountID); errors.Is(err, ErrSubscriptionNotFound) {
		now := l.clock.Now().UTC()
		trialEnds := now.AddDate(0, 0, l.trialDays)
		sub := &subscription.Subscription{
			Entity:      types.NewEntityAt(now),
			ID:          id.NewSubscriptionID(),
			AccountID:   accountID,
			PlanID:      p.ID,
			Status:      subscription.StatusTrial,
			TrialEndsAt: &trialEnds,
		}
		created, err := l.create(ctx, OpSubscribe, sub)
		if err != nil {
			return nil, err
		}
		if created {
			l.setStorefront(ctx, accountID, true)
			return sub, nil
		}
	} else if err != nil {
		return nil, err
	}

	return l.transition(ctx, OpSubscribe, accountID, func(sub *subscription.Subscription, _ time.Time) error {
		if sub.Status == subscription.StatusActive {
			return conflict(OpSubscribe, sub, ErrAlreadyActive)
		}
		sub.PlanID = p.ID
		return nil
	})
}

// PaymentConfirmed applies a completed charge: the subscription becomes
// active for a new billing period. A missing subscription is created
// active.
//
// The charge must not predate the subscription's current state. A charge
// created before an immediate cancellation, expiry or block returns
// *StateConflictError wrapping ErrStalePayment; the money stays on the
// ledger so it can be refunded, and so does a charge from a cycle that a
// later subscribe replaced. A charge created before a period-end
// cancellation pays for a new period but leaves the cancellation in force.
// Applying the same charge twice returns a conflict wrapping
// ErrOutcomeApplied.
func (l *Lifecycle) PaymentConfirmed(ctx context.Context, txn *payment.Transaction) (*subscription.Subscription, error) {
	var p *plan.Plan
	loadPlan := func(fallback id.PlanID) error {
		target := txn.PlanID
		if target.IsNil() {
			target = fallback
		}
		if p != nil && p.ID.String() == target.String() {
			return nil
		}
		loaded, err := l.plans.GetPlan(ctx, target)
		if err != nil {
			return err
		}
		p = loaded
		return nil
	}
	settledAt := l.settledAt(txn)

	if _, err := l.subs.GetSubscriptionByAccount(ctx, txn.AccountID); errors.Is(err, ErrSubscriptionNotFound) {
		if txn.PlanID.IsNil() {
			return nil, &StateConflictError{Op: OpPaymentConfirmed, Err: ErrSubscriptionNotFound}
		}
		if err := loadPlan(txn.PlanID); err != nil {
			return nil, err
		}
		now := l.clock.Now().UTC()
		end := now.Add(p.Period())
		sub := &subscription.Subscription{
			Entity:             types.NewEntityAt(now),
			ID:                 id.NewSubscriptionID(),
			AccountID:          txn.AccountID,
			PlanID:             p.ID,
			Status:             subscription.StatusActive,
			CurrentPeriodStart: &now,
			CurrentPeriodEnd:   &end,
			NextPaymentDate:    &end,
			LastPaymentID:      txn.ID,
			LastPaymentAt:      &settledAt,
		}
		created, err := l.create(ctx, OpPaymentConfirmed, sub)
		if err != nil {
			return nil, err
		}
		if created {
			l.activated(ctx, txn.AccountID, p)
			return sub, nil
		}
	} else if err != nil {
		return nil, err
	}

	sub, err := l.transition(ctx, OpPaymentConfirmed, txn.AccountID, func(sub *subscription.Subscription, now time.Time) error {
		if alreadyApplied(sub, txn) {
			return conflict(OpPaymentConfirmed, sub, ErrOutcomeApplied)
		}
		keepCancel := false
		switch sub.Status {
		case subscription.StatusTrial, subscription.StatusActive, subscription.StatusPastDue:
			if fromEndedCycle(sub, txn) {
				return conflict(OpPaymentConfirmed, sub, ErrStalePayment)
			}
		case subscription.StatusCancelled:
			switch {
			case !sub.CancelAtPeriodEnd:
				if !chargedAfterEnd(sub, txn) {
					return conflict(OpPaymentConfirmed, sub, ErrStalePayment)
				}
			case fromEndedCycle(sub, txn):
				return conflict(OpPaymentConfirmed, sub, ErrStalePayment)
			default:
				keepCancel = sub.CancelledAt != nil && !txn.CreatedAt.After(*sub.CancelledAt)
			}
		default:
			if !chargedAfterEnd(sub, txn) {
				return conflict(OpPaymentConfirmed, sub, ErrStalePayment)
			}
		}
		if err := loadPlan(sub.PlanID); err != nil {
			return err
		}

		start := now
		paidThrough := sub.Status == subscription.StatusActive || (keepCancel && sub.CurrentPeriodStart != nil)
		if paidThrough && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
			start = *sub.CurrentPeriodEnd
		}
		end := start.Add(p.Period())

		sub.PlanID = p.ID
		sub.CurrentPeriodStart = &start
		sub.CurrentPeriodEnd = &end
		sub.FailedPaymentCount = 0
		sub.TrialEndsAt = nil
		sub.LastPaymentID = txn.ID
		sub.LastPaymentAt = &settledAt
		if keepCancel {
			return nil
		}
		sub.Status = subscription.StatusActive
		sub.NextPaymentDate = &end
		sub.CancelAtPeriodEnd = false
		sub.CancelledAt = nil
		sub.CancellationReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.activated(ctx, txn.AccountID, p)
	return sub, nil
}

// alreadyApplied reports whether txn's outcome, or a newer one, is already on sub.
func alreadyApplied(sub *subscription.Subscription, txn *payment.Transaction) bool {
	if !sub.LastPaymentID.IsNil() && sub.LastPaymentID.String() == txn.ID.String() {
		return true
	}
	return sub.LastPaymentAt != nil && txn.CompletedAt != nil && txn.CompletedAt.Before(*sub.LastPaymentAt)
}

// chargedAfterEnd reports whether txn was created after sub ended, that is
// for a fresh subscribe on a cancelled, expired or blocked subscription. An
// expiry only carries out an earlier cancellation, so a cancelled or expired
// subscription ended when the cancellation was made.
func chargedAfterEnd(sub *subscription.Subscription, txn *payment.Transaction) bool {
	ended := sub.CancelledAt
	if sub.Status == subscription.StatusBlocked || ended == nil {
		ended = sub.EndedAt
	}
	return ended != nil && txn.CreatedAt.After(*ended)
}

// fromEndedCycle reports whether txn was created before sub last ended, so
// it belongs to a cycle a later subscribe replaced.
func fromEndedCycle(sub *subscription.Subscription, txn *payment.Transaction) bool {
	return sub.EndedAt != nil && !txn.CreatedAt.After(*sub.EndedAt)
}

func (l *Lifecycle) settledAt(txn *payment.Transaction) time.Time {
	if txn.CompletedAt != nil {
		return txn.CompletedAt.UTC()
	}
	return l.clock.Now().UTC()
}

func (l *Lifecycle) activated(ctx context.Context, accountID string, p *plan.Plan) {
	l.setStorefront(ctx, accountID, true)
	flags := account.PlanFlags{PlanName: p.Name, CheckoutEnabled: p.CheckoutEnabled}
	if err := l.accounts.ApplyPlan(ctx, accountID, flags); err != nil {
		l.logger.Error("failed to apply plan flags",
			"account_id", accountID,
			"plan", p.Name,
			"error", err,
		)
	}
}

// PaymentFailed counts a failed charge. Reaching the failed payment
// threshold blocks the subscription and closes the storefront; below it an
// active subscription becomes past due. txn is the declined ledger row, or
// nil when the attempt never reached a gateway. A declined charge created
// before the newest applied payment is stale and changes nothing.
func (l *Lifecycle) PaymentFailed(ctx context.Context, accountID string, txn *payment.Transaction) (*subscription.Subscription, error) {
	sub, err := l.transition(ctx, OpPaymentFailed, accountID, func(sub *subscription.Subscription, now time.Time) error {
		switch sub.Status {
		case subscription.StatusTrial, subscription.StatusActive, subscription.StatusPastDue:
		default:
			return conflict(OpPaymentFailed, sub, nil)
		}
		if txn != nil {
			if alreadyApplied(sub, txn) {
				return conflict(OpPaymentFailed, sub, ErrOutcomeApplied)
			}
			if fromEndedCycle(sub, txn) || (sub.LastPaymentAt != nil && txn.CreatedAt.Before(*sub.LastPaymentAt)) {
				return conflict(OpPaymentFailed, sub, ErrStalePayment)
			}
			settledAt := l.settledAt(txn)
			sub.LastPaymentID = txn.ID
			sub.LastPaymentAt = &settledAt
		}

		sub.FailedPaymentCount++
		switch {
		case sub.FailedPaymentCount >= l.failedPaymentThreshold:
			sub.Status = subscription.StatusBlocked
			sub.NextPaymentDate = nil
			sub.EndedAt = &now
		case sub.Status == subscription.StatusActive:
			sub.Status = subscription.StatusPastDue
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if sub.Status == subscription.StatusBlocked {
		l.setStorefront(ctx, accountID, false)
	}
	return sub, nil
}

// Cancel cancels the account's subscription. An immediate cancellation
// closes the storefront now and cannot be undone; a period-end cancellation
// keeps access until the current period (or trial) ends and can be
// reactivated until then.
func (l *Lifecycle) Cancel(ctx context.Context, accountID, reason string, immediate bool) (*subscription.Subscription, error) {
	sub, err := l.transition(ctx, OpCancel, accountID, func(sub *subscription.Subscription, now time.Time) error {
		switch sub.Status {
		case subscription.StatusTrial, subscription.StatusActive, subscription.StatusPastDue:
		case subscription.StatusCancelled:
			if !immediate || !sub.CancelAtPeriodEnd {
				return conflict(OpCancel, sub, nil)
			}
		default:
			return conflict(OpCancel, sub, nil)
		}

		if !immediate && sub.Status == subscription.StatusTrial {
			end := *sub.TrialEndsAt
			sub.CurrentPeriodEnd = &end
		}
		if !immediate && sub.CurrentPeriodEnd == nil {
			end := now
			if sub.NextPaymentDate != nil {
				end = *sub.NextPaymentDate
			}
			sub.CurrentPeriodEnd = &end
		}

		sub.Status = subscription.StatusCancelled
		sub.CancelAtPeriodEnd = !immediate
		sub.CancelledAt = &now
		if immediate {
			sub.EndedAt = &now
		}
		sub.CancellationReason = reason
		sub.NextPaymentDate = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	if immediate {
		l.setStorefront(ctx, accountID, false)
	}
	return sub, nil
}

// Reactivate undoes a period-end cancellation before the period ends. A
// subscription that was cancelled during its trial goes back to trial.
func (l *Lifecycle) Reactivate(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	sub, err := l.transition(ctx, OpReactivate, accountID, func(sub *subscription.Subscription, now time.Time) error {
		if !sub.Reactivatable(now) {
			return conflict(OpReactivate, sub, ErrNotReactivatable)
		}

		if sub.CurrentPeriodStart == nil && sub.TrialEndsAt != nil {
			sub.Status = subscription.StatusTrial
			sub.CurrentPeriodEnd = nil
		} else {
			sub.Status = subscription.StatusActive
			end := *sub.CurrentPeriodEnd
			sub.NextPaymentDate = &end
		}
		sub.CancelAtPeriodEnd = false
		sub.CancelledAt = nil
		sub.CancellationReason = ""
		return nil
	})
	if err != nil {
		var sc *StateConflictError
		if errors.As(err, &sc) && errors.Is(err, ErrSubscriptionNotFound) {
			return nil, &StateConflictError{Op: OpReactivate, Err: ErrNotReactivatable}
		}
		return nil, err
	}
	return sub, nil
}

// Expire ends a period-end cancellation whose period is over.
func (l *Lifecycle) Expire(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	sub, err := l.transition(ctx, OpExpire, accountID, func(sub *subscription.Subscription, now time.Time) error {
		if sub.Status != subscription.StatusCancelled || !sub.CancelAtPeriodEnd ||
			sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.After(now) {
			return conflict(OpExpire, sub, nil)
		}
		sub.Status = subscription.StatusExpired
		sub.CancelAtPeriodEnd = false
		sub.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.setStorefront(ctx, accountID, false)
	return sub, nil
}

// BlockExpiredTrial blocks a trial that ended without a payment.
func (l *Lifecycle) BlockExpiredTrial(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	sub, err := l.transition(ctx, OpBlockTrial, accountID, func(sub *subscription.Subscription, now time.Time) error {
		if sub.Status != subscription.StatusTrial || sub.TrialEndsAt == nil || !sub.TrialEndsAt.Before(now) {
			return conflict(OpBlockTrial, sub, nil)
		}
		sub.Status = subscription.StatusBlocked
		sub.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.setStorefront(ctx, accountID, false)
	return sub, nil
}

// ExtendTrial adds days to a running trial.
func (l *Lifecycle) ExtendTrial(ctx context.Context, accountID string, days int) (*subscription.Subscription, error) {
	if days <= 0 {
		return nil, &ValidationError{Field: "days", Message: "must be positive", Err: ErrInvalidInput}
	}
	return l.transition(ctx, OpExtendTrial, accountID, func(sub *subscription.Subscription, _ time.Time) error {
		if sub.Status != subscription.StatusTrial {
			return conflict(OpExtendTrial, sub, nil)
		}
		end := sub.TrialEndsAt.AddDate(0, 0, days)
		sub.TrialEndsAt = &end
		return nil
	})
}

// DeferNextPayment grants free billing periods. A trial is lengthened by
// the periods; a paying subscription has its next payment and current
// period pushed back.
func (l *Lifecycle) DeferNextPayment(ctx context.Context, accountID string, periods int) (*subscription.Subscription, error) {
	if periods <= 0 {
		return nil, &ValidationError{Field: "periods", Message: "must be positive", Err: ErrInvalidInput}
	}
	return l.transition(ctx, OpDeferPayment, accountID, func(sub *subscription.Subscription, now time.Time) error {
		p, err := l.plans.GetPlan(ctx, sub.PlanID)
		if err != nil {
			return err
		}
		shift := time.Duration(periods) * p.Period()

		switch sub.Status {
		case subscription.StatusTrial:
			end := sub.TrialEndsAt.Add(shift)
			sub.TrialEndsAt = &end
		case subscription.StatusActive, subscription.StatusPastDue:
			base := now
			if sub.NextPaymentDate != nil {
				base = *sub.NextPaymentDate
			}
			next := base.Add(shift)
			sub.NextPaymentDate = &next
			sub.CurrentPeriodEnd = &next
		default:
			return conflict(OpDeferPayment, sub, nil)
		}
		return nil
	})
}

// BindCoupon attaches a recurring discount to the subscription.
func (l *Lifecycle) BindCoupon(ctx context.Context, accountID string, couponID id.CouponID) (*subscription.Subscription, error) {
	return l.transition(ctx, OpBindCoupon, accountID, func(sub *subscription.Subscription, _ time.Time) error {
		switch sub.Status {
		case subscription.StatusTrial, subscription.StatusActive, subscription.StatusPastDue:
		default:
			return conflict(OpBindCoupon, sub, nil)
		}
		sub.CouponID = couponID
		return nil
	})
}
