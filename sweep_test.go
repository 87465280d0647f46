package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xraph/billing"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/gateway/fake"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

const day = 24 * time.Hour

func (h *harness) sweep() *billing.SweepReport {
	h.t.Helper()
	rep, err := h.b.Sweep(h.ctx)
	if err != nil {
		h.t.Fatalf("Sweep: %v", err)
	}
	return rep
}

func TestSweepBlocksExpiredTrials(t *testing.T) {
	h := newHarness(t)
	h.subscribe("42")

	h.clock.Advance(6 * day)
	if rep := h.sweep(); rep.TrialsBlocked != 0 {
		t.Fatalf("blocked a running trial: %+v", rep)
	}

	h.clock.Advance(2 * day)
	rep := h.sweep()
	if rep.TrialsBlocked != 1 {
		t.Fatalf("trials blocked = %d, want 1", rep.TrialsBlocked)
	}
	if sub := h.subscription("42"); sub.Status != subscription.StatusBlocked {
		t.Errorf("status = %q, want blocked", sub.Status)
	}
	acct, _ := h.dir.GetAccount(h.ctx, "42")
	if acct.Active {
		t.Error("storefront should be closed")
	}
}

func TestSweepExpiresEndedCancellations(t *testing.T) {
	h := newHarness(t)
	h.activate("42")
	if _, err := h.b.Cancel(h.ctx, "42", "", false); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(29 * day)
	if rep := h.sweep(); rep.CancellationsExpired != 0 {
		t.Fatalf("expired before period end: %+v", rep)
	}

	h.clock.Advance(2 * day)
	rep := h.sweep()
	if rep.CancellationsExpired != 1 || rep.RenewalsCharged != 0 {
		t.Fatalf("report = %+v", rep)
	}
	sub := h.subscription("42")
	if sub.Status != subscription.StatusExpired || sub.CancelAtPeriodEnd {
		t.Errorf("status = %q cancel_at_period_end=%v", sub.Status, sub.CancelAtPeriodEnd)
	}
	if len(h.gw.TokenCharges()) != 0 {
		t.Error("cancelled subscription was charged")
	}
}

func TestSweepRenews(t *testing.T) {
	h := newHarness(t)
	h.activate("42")

	h.clock.Advance(31 * day)
	rep := h.sweep()
	if rep.RenewalsCharged != 1 || rep.Errors.HasErrors() {
		t.Fatalf("report = %+v errors=%v", rep, rep.Errors.Errors)
	}

	charges := h.gw.TokenCharges()
	if len(charges) != 1 {
		t.Fatalf("token charges = %d", len(charges))
	}
	if charges[0].Token != "tok_42" || !charges[0].Amount.Equal(types.ILS(5733)) {
		t.Errorf("charge = %+v", charges[0])
	}

	txn := h.transaction(charges[0].Reference)
	if txn.Status != payment.StatusCompleted || txn.Context != payment.ContextRenewal {
		t.Errorf("renewal transaction = %s/%s", txn.Status, txn.Context)
	}

	sub := h.subscription("42")
	wantNext := h.clock.Now().Add(30 * day)
	if sub.Status != subscription.StatusActive || !sub.NextPaymentDate.Equal(wantNext) {
		t.Errorf("after renewal: %s next=%v want %v", sub.Status, sub.NextPaymentDate, wantNext)
	}

	if rep := h.sweep(); rep.RenewalsCharged != 0 {
		t.Errorf("second sweep charged again: %+v", rep)
	}
	if n := len(h.gw.TokenCharges()); n != 1 {
		t.Errorf("token charges after rerun = %d", n)
	}
}

func TestSweepRenewalWithRecurringCoupon(t *testing.T) {
	h := newHarness(t)

	if err := h.b.CreateCoupon(h.ctx, &coupon.Coupon{
		Code:   "LOYAL",
		Type:   coupon.TypeRecurringDiscount,
		Value:  decimal.NewFromInt(10),
		Active: true,
	}); err != nil {
		t.Fatal(err)
	}
	res, err := h.b.Subscribe(h.ctx, billing.SubscribeInput{AccountID: "42", PlanName: "lite", CouponCode: "LOYAL"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Subscription.CouponID.IsNil() {
		t.Fatal("recurring coupon not bound to the subscription")
	}
	h.activateReference(res.Reference)

	h.clock.Advance(31 * day)
	h.sweep()

	charges := h.gw.TokenCharges()
	if len(charges) != 1 || !charges[0].Amount.Equal(types.ILS(5160)) {
		t.Fatalf("renewal charges = %+v", charges)
	}
}

func TestSweepRenewalDeclined(t *testing.T) {
	h := newHarness(t, billing.WithFailedPaymentThreshold(2))
	h.activate("42")
	h.gw.FailTokenCharges(&billing.GatewayRejectedError{Provider: "fake", Code: "006", Reason: "card expired"})

	h.clock.Advance(31 * day)
	rep := h.sweep()
	if rep.RenewalsFailed != 1 || rep.RenewalsCharged != 0 {
		t.Fatalf("report = %+v", rep)
	}
	sub := h.subscription("42")
	if sub.Status != subscription.StatusPastDue || sub.FailedPaymentCount != 1 {
		t.Fatalf("after first decline: %s count=%d", sub.Status, sub.FailedPaymentCount)
	}
	first := h.gw.TokenCharges()[0].Reference
	if txn := h.transaction(first); txn.Status != payment.StatusFailed || txn.FailureReason != "card expired" {
		t.Errorf("failed renewal = %s %q", txn.Status, txn.FailureReason)
	}

	h.clock.Advance(day)
	h.sweep()
	charges := h.gw.TokenCharges()
	if len(charges) != 2 || charges[1].Reference == first {
		t.Fatalf("retry should use a new reference: %+v", charges)
	}
	if sub := h.subscription("42"); sub.Status != subscription.StatusBlocked {
		t.Errorf("status after threshold = %q", sub.Status)
	}
}

func TestSweepRenewalTransient(t *testing.T) {
	h := newHarness(t)
	h.activate("42")
	h.gw.FailTokenCharges(&billing.GatewayTransientError{Provider: "fake", Op: "charge_token", Err: context.DeadlineExceeded})

	h.clock.Advance(31 * day)
	rep := h.sweep()
	if rep.RenewalsFailed != 0 || len(rep.Errors.Errors) != 1 || !billing.IsRetryable(rep.Errors.Errors[0]) {
		t.Fatalf("report = %+v errors=%v", rep, rep.Errors.Errors)
	}
	ref := h.gw.TokenCharges()[0].Reference
	if txn := h.transaction(ref); txn.Status != payment.StatusPending {
		t.Fatalf("transient failure should leave the charge pending, got %s", txn.Status)
	}
	if sub := h.subscription("42"); sub.FailedPaymentCount != 0 {
		t.Errorf("transient failure counted: %d", sub.FailedPaymentCount)
	}

	h.gw.FailTokenCharges(nil)
	rep = h.sweep()
	if rep.RenewalsCharged != 1 {
		t.Fatalf("retry report = %+v", rep)
	}
	charges := h.gw.TokenCharges()
	if len(charges) != 2 || charges[1].Reference != ref {
		t.Errorf("retry should reuse reference %q: %+v", ref, charges)
	}
}

func TestSweepRenewalWithoutToken(t *testing.T) {
	h := newHarness(t)
	res := h.subscribe("42")
	h.callback(fake.Approve(res.Reference))

	h.clock.Advance(31 * day)
	rep := h.sweep()
	if rep.RenewalsFailed != 1 || !errors.Is(rep.Errors.Errors[0], billing.ErrTokenNotFound) {
		t.Fatalf("report = %+v errors=%v", rep, rep.Errors.Errors)
	}
	if sub := h.subscription("42"); sub.Status != subscription.StatusPastDue {
		t.Errorf("status = %q, want past_due", sub.Status)
	}
}
