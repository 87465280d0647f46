package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

// renewalConcurrency bounds concurrent token charges within one sweep.
const renewalConcurrency = 4

// SweepReport summarises one Sweep run. Errors holds per-subscription
// failures; the sweep keeps going past them.
type SweepReport struct {
	TrialsBlocked        int           `json:"trials_blocked"`
	CancellationsExpired int           `json:"cancellations_expired"`
	RenewalsCharged      int           `json:"renewals_charged"`
	RenewalsFailed       int           `json:"renewals_failed"`
	Elapsed              time.Duration `json:"elapsed"`
	Errors               MultiError    `json:"-"`
}

// Sweep runs the time-driven transitions: it blocks expired trials,
// expires period-end cancellations whose period is over, and charges due
// renewals with the saved payment token. Each phase handles at most the
// configured batch size. Sweep is safe to run repeatedly; renewal
// references are derived from the due date so a rerun never charges twice.
func (b *Billing) Sweep(ctx context.Context) (*SweepReport, error) {
	start := b.clock.Now()
	now := start.UTC()
	rep := &SweepReport{}

	trials, err := b.store.ListExpiredTrials(ctx, now, b.sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("billing: sweep expired trials: %w", err)
	}
	for _, sub := range trials {
		if _, err := b.lifecycle.BlockExpiredTrial(ctx, sub.AccountID); err != nil {
			rep.Errors.Add(err)
			continue
		}
		rep.TrialsBlocked++
	}

	ended, err := b.store.ListEndedCancellations(ctx, now, b.sweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("billing: sweep ended cancellations: %w", err)
	}
	for _, sub := range ended {
		if _, err := b.lifecycle.Expire(ctx, sub.AccountID); err != nil {
			rep.Errors.Add(err)
			continue
		}
		rep.CancellationsExpired++
	}

	if err := b.sweepRenewals(ctx, now, rep); err != nil {
		return nil, err
	}

	rep.Elapsed = b.clock.Now().Sub(start)
	b.plugins.EmitSweepCompleted(ctx, plugin.SweepStats{
		TrialsBlocked:      rep.TrialsBlocked,
		CancellationsEnded: rep.CancellationsExpired,
		RenewalsCharged:    rep.RenewalsCharged,
		Failures:           rep.RenewalsFailed + len(rep.Errors.Errors),
		Elapsed:            rep.Elapsed,
	})
	b.logger.Info("sweep completed",
		"trials_blocked", rep.TrialsBlocked,
		"cancellations_expired", rep.CancellationsExpired,
		"renewals_charged", rep.RenewalsCharged,
		"renewals_failed", rep.RenewalsFailed,
		"errors", len(rep.Errors.Errors),
		"elapsed", rep.Elapsed,
	)

	return rep, nil
}

func (b *Billing) sweepRenewals(ctx context.Context, now time.Time, rep *SweepReport) error {
	due, err := b.store.ListDueRenewals(ctx, now, b.sweepBatchSize)
	if err != nil {
		return fmt.Errorf("billing: sweep due renewals: %w", err)
	}
	if len(due) == 0 {
		return nil
	}

	charger, ok := b.gateway.(gateway.TokenCharger)
	if !ok {
		b.logger.Warn("due renewals skipped, gateway cannot charge tokens",
			"provider", b.gateway.Name(),
			"due", len(due),
		)
		rep.Errors.Add(ErrTokenChargeUnsupported)
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renewalConcurrency)
	for _, sub := range due {
		g.Go(func() error {
			charged, err := b.renew(gctx, charger, sub)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Errors.Add(err)
				if !IsRetryable(err) {
					rep.RenewalsFailed++
				}
			case charged:
				rep.RenewalsCharged++
			}
			return nil
		})
	}
	return g.Wait()
}

// renewalReference is deterministic per due date and attempt so that a
// rerun reuses the pending row and a retry after a failure gets a new one.
func renewalReference(sub *subscription.Subscription) string {
	ref := fmt.Sprintf("renew_%s_%s", sub.ID.String(), sub.NextPaymentDate.UTC().Format("20060102"))
	if sub.FailedPaymentCount > 0 {
		ref = fmt.Sprintf("%s_%d", ref, sub.FailedPaymentCount+1)
	}
	return ref
}

// renew charges one due subscription. It reports whether a charge
// completed in this call.
func (b *Billing) renew(ctx context.Context, charger gateway.TokenCharger, sub *subscription.Subscription) (bool, error) {
	tok, err := b.store.GetPrimaryToken(ctx, sub.AccountID)
	if errors.Is(err, ErrTokenNotFound) {
		b.logger.Warn("renewal has no saved payment method", "account_id", sub.AccountID)
		if _, failErr := b.lifecycle.PaymentFailed(ctx, sub.AccountID, nil); failErr != nil {
			return false, failErr
		}
		return false, fmt.Errorf("billing: renew %s: %w", sub.AccountID, ErrTokenNotFound)
	}
	if err != nil {
		return false, err
	}

	p, err := b.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return false, err
	}

	discount := types.Zero(p.Price.Currency)
	if !sub.CouponID.IsNil() {
		c, cErr := b.store.GetCoupon(ctx, sub.CouponID)
		switch {
		case cErr == nil:
			if c.Type == coupon.TypeRecurringDiscount {
				discount = c.Discount(p.Price)
			}
		case !errors.Is(cErr, ErrCouponNotFound):
			return false, cErr
		}
	}
	q := p.Quote(discount)

	txn, err := b.ledger.RecordAttempt(ctx, Attempt{
		AccountID:   sub.AccountID,
		Provider:    string(b.gateway.Name()),
		Reference:   renewalReference(sub),
		Kind:        payment.KindCharge,
		Amount:      q.Total,
		Context:     payment.ContextRenewal,
		ContextID:   sub.ID.String(),
		PlanID:      p.ID,
		CouponID:    sub.CouponID,
		Description: p.DisplayName,
	})
	if err != nil {
		return false, err
	}
	if txn.Status != payment.StatusPending {
		return b.resumeRenewal(ctx, txn)
	}
	b.plugins.EmitChargeInitiated(ctx, txn)

	gctx, cancel := context.WithTimeout(ctx, b.gatewayTimeout)
	res, err := charger.ChargeToken(gctx, gateway.TokenChargeRequest{
		Reference:   txn.Reference,
		Token:       tok.Token,
		CustomerRef: tok.CustomerRef,
		Amount:      txn.Amount,
		Customer:    b.customer(ctx, sub.AccountID),
		Description: p.DisplayName,
		PlanName:    p.Name,
	})
	cancel()
	if err != nil {
		err = b.gatewayFailed(ctx, txn, "charge_token", err)
		if IsRetryable(err) {
			return false, err
		}
		if _, failErr := b.lifecycle.PaymentFailed(ctx, sub.AccountID, txn); failErr != nil {
			b.logger.Error("failed to record renewal failure",
				"account_id", sub.AccountID,
				"error", failErr,
			)
		}
		return false, err
	}

	now := b.clock.Now().UTC()
	done, err := b.ledger.MarkTerminal(ctx, txn.ID, payment.Outcome{
		Status:     payment.StatusCompleted,
		ExternalID: res.ProviderRef,
		At:         now,
	})
	if err != nil {
		return false, err
	}
	if !done {
		return false, nil
	}

	txn.Status = payment.StatusCompleted
	txn.CompletedAt = &now
	if _, err := b.lifecycle.PaymentConfirmed(ctx, txn); err != nil {
		return true, err
	}
	tok.LastUsedAt = &now
	tok.Touch(now)
	if err := b.store.SaveToken(ctx, tok); err != nil {
		b.logger.Warn("failed to update payment token", "account_id", sub.AccountID, "error", err)
	}

	b.logger.Info("subscription renewed",
		"account_id", sub.AccountID,
		"reference", txn.Reference,
		"total", q.Total.String(),
	)
	return true, nil
}

// resumeRenewal applies the outcome of a renewal row that an earlier sweep
// terminalized without updating the subscription. Outcomes already applied
// are conflicts and report nothing.
func (b *Billing) resumeRenewal(ctx context.Context, txn *payment.Transaction) (bool, error) {
	var err error
	switch txn.Status {
	case payment.StatusCompleted:
		_, err = b.lifecycle.PaymentConfirmed(ctx, txn)
	case payment.StatusFailed:
		_, err = b.lifecycle.PaymentFailed(ctx, txn.AccountID, txn)
	default:
		return false, nil
	}
	if IsStateConflict(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	b.logger.Info("renewal outcome resumed",
		"account_id", txn.AccountID,
		"reference", txn.Reference,
		"status", txn.Status,
	)
	return txn.Status == payment.StatusCompleted, nil
}
