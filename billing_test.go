package billing_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/shopspring/decimal"

	"github.com/xraph/billing"
	"github.com/xraph/billing/account"
	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/gateway/fake"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	t     *testing.T
	ctx   context.Context
	b     *billing.Billing
	store *memory.Store
	gw    *fake.Gateway
	clock *testclock.Clock
	dir   *account.MemoryDirectory
	lite  *plan.Plan
}

func newHarness(t *testing.T, opts ...billing.Option) *harness {
	t.Helper()
	return newHarnessOn(t, nil, opts...)
}

// newHarnessOn is newHarness with the engine running on wrap(h.store).
func newHarnessOn(t *testing.T, wrap func(*memory.Store) store.Store, opts ...billing.Option) *harness {
	t.Helper()

	h := &harness{
		t:     t,
		ctx:   context.Background(),
		store: memory.New(),
		gw:    fake.New(),
		clock: testclock.NewClock(epoch),
		dir: account.NewMemoryDirectory(&account.Account{
			ID:    "42",
			Name:  "Store 42",
			Email: "owner@store42.test",
		}),
	}

	base := []billing.Option{
		billing.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		billing.WithClock(h.clock),
		billing.WithAccountDirectory(h.dir),
	}
	var st store.Store = h.store
	if wrap != nil {
		st = wrap(h.store)
	}
	h.b = billing.New(st, h.gw, append(base, opts...)...)
	if err := h.b.Start(h.ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = h.b.Stop() })

	h.lite = &plan.Plan{
		Name:            "lite",
		DisplayName:     "Lite",
		Price:           types.ILS(4900),
		TaxPercent:      decimal.NewFromInt(17),
		PeriodDays:      30,
		CheckoutEnabled: true,
		Active:          true,
	}
	if err := h.b.CreatePlan(h.ctx, h.lite); err != nil {
		t.Fatalf("CreatePlan: %v", err)
	}
	return h
}

func (h *harness) subscribe(accountID string) *billing.SubscribeResult {
	h.t.Helper()
	res, err := h.b.Subscribe(h.ctx, billing.SubscribeInput{AccountID: accountID, PlanName: "lite"})
	if err != nil {
		h.t.Fatalf("Subscribe: %v", err)
	}
	return res
}

func (h *harness) callback(payload []byte) billing.Ack {
	h.t.Helper()
	return h.b.HandleProviderCallback(h.ctx, payload, "")
}

func (h *harness) subscription(accountID string) *subscription.Subscription {
	h.t.Helper()
	sub, err := h.store.GetSubscriptionByAccount(h.ctx, accountID)
	if err != nil {
		h.t.Fatalf("GetSubscriptionByAccount: %v", err)
	}
	return sub
}

func (h *harness) transaction(reference string) *payment.Transaction {
	h.t.Helper()
	txn, err := h.b.Ledger().TransactionByReference(h.ctx, reference)
	if err != nil {
		h.t.Fatalf("TransactionByReference: %v", err)
	}
	return txn
}

// activate subscribes accountID and confirms the first payment.
func (h *harness) activate(accountID string) *subscription.Subscription {
	h.t.Helper()
	res := h.subscribe(accountID)
	h.activateReference(res.Reference)
	return h.subscription(accountID)
}

// activateReference approves the pending charge and saves a card.
func (h *harness) activateReference(reference string) {
	h.t.Helper()
	txn := h.transaction(reference)
	ack := h.callback(fake.ApproveWithToken(reference, gateway.SavedMethod{
		Token: "tok_" + txn.AccountID, Last4: "4242", Brand: "visa", ExpMonth: 12, ExpYear: 2030,
	}))
	if ack.Status != "processed" {
		h.t.Fatalf("activate callback status = %q", ack.Status)
	}
}

func TestSubscribeAndConfirm(t *testing.T) {
	h := newHarness(t)

	res := h.subscribe("42")
	if !res.Quote.Total.Equal(types.ILS(5733)) {
		t.Fatalf("total = %v, want 57.33", res.Quote.Total)
	}
	if res.PaymentURL == "" {
		t.Fatal("expected payment url")
	}
	if res.Subscription.Status != subscription.StatusTrial {
		t.Fatalf("status after subscribe = %q, want trial", res.Subscription.Status)
	}

	txn := h.transaction(res.Reference)
	if txn.Status != payment.StatusPending || !txn.Amount.Equal(types.ILS(5733)) {
		t.Fatalf("pending charge = %s %v", txn.Status, txn.Amount)
	}

	charges := h.gw.Charges()
	if len(charges) != 1 || charges[0].Customer.Email != "owner@store42.test" {
		t.Fatalf("gateway charges = %+v", charges)
	}

	h.clock.Advance(time.Hour)
	ack := h.callback(fake.Approve(res.Reference))
	if ack.Status != "processed" {
		t.Fatalf("ack status = %q", ack.Status)
	}

	sub := h.subscription("42")
	if sub.Status != subscription.StatusActive {
		t.Fatalf("status = %q, want active", sub.Status)
	}
	wantEnd := epoch.Add(time.Hour).Add(30 * 24 * time.Hour)
	if !sub.CurrentPeriodEnd.Equal(wantEnd) {
		t.Errorf("current_period_end = %v, want %v", sub.CurrentPeriodEnd, wantEnd)
	}
	if sub.TrialEndsAt != nil {
		t.Error("trial_ends_at should be cleared")
	}

	if flags, ok := h.dir.Flags("42"); !ok || flags.PlanName != "lite" || !flags.CheckoutEnabled {
		t.Errorf("plan flags = %+v, %v", flags, ok)
	}
	acct, _ := h.dir.GetAccount(h.ctx, "42")
	if !acct.Active {
		t.Error("storefront should be active")
	}
}

func TestSubscribeValidation(t *testing.T) {
	h := newHarness(t)

	inactive := &plan.Plan{Name: "legacy", Price: types.ILS(1000)}
	if err := h.b.CreatePlan(h.ctx, inactive); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		in    billing.SubscribeInput
		check func(error) bool
	}{
		{"missing account", billing.SubscribeInput{PlanName: "lite"}, billing.IsValidation},
		{"unknown plan", billing.SubscribeInput{AccountID: "42", PlanName: "gold"}, func(err error) bool {
			return errors.Is(err, billing.ErrInvalidPlan)
		}},
		{"inactive plan", billing.SubscribeInput{AccountID: "42", PlanName: "legacy"}, func(err error) bool {
			return errors.Is(err, billing.ErrPlanInactive)
		}},
		{"unknown coupon", billing.SubscribeInput{AccountID: "42", PlanName: "lite", CouponCode: "NOPE"}, func(err error) bool {
			return errors.Is(err, billing.ErrCouponIneligible)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.b.Subscribe(h.ctx, tt.in)
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	if n := len(h.gw.Charges()); n != 0 {
		t.Errorf("gateway called %d times for invalid input", n)
	}
}

func TestSubscribeWhileActive(t *testing.T) {
	h := newHarness(t)
	h.activate("42")

	_, err := h.b.Subscribe(h.ctx, billing.SubscribeInput{AccountID: "42", PlanName: "lite"})
	if !errors.Is(err, billing.ErrAlreadyActive) || !billing.IsStateConflict(err) {
		t.Fatalf("expected already-active conflict, got %v", err)
	}
}

func TestSubscribeIdempotencyKey(t *testing.T) {
	h := newHarness(t)

	in := billing.SubscribeInput{AccountID: "42", PlanName: "lite", IdempotencyKey: "checkout-1"}
	first, err := h.b.Subscribe(h.ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.b.Subscribe(h.ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if first.TransactionID.String() != second.TransactionID.String() {
		t.Errorf("retry created a second transaction")
	}

	txns, err := h.b.Ledger().RecentTransactions(h.ctx, "42", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(txns) != 1 {
		t.Fatalf("ledger rows = %d, want 1", len(txns))
	}

	h.callback(fake.Approve("checkout-1"))
	h.clock.Advance(time.Hour)
	if _, err := h.b.Cancel(h.ctx, "42", "", true); err != nil {
		t.Fatal(err)
	}
	_, err = h.b.Subscribe(h.ctx, in)
	if !errors.Is(err, billing.ErrDuplicateReference) {
		t.Fatalf("reusing a finished key: got %v", err)
	}
}

func TestSubscribeGatewayFailure(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus payment.Status
		retryable  bool
	}{
		{"rejected", &billing.GatewayRejectedError{Provider: "fake", Code: "403", Reason: "terminal disabled"}, payment.StatusFailed, false},
		{"transient", &billing.GatewayTransientError{Provider: "fake", Op: "initiate_charge", Err: context.DeadlineExceeded}, payment.StatusPending, true},
		{"unclassified", errors.New("connection reset"), payment.StatusPending, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.gw.FailCharges(tt.err)

			_, err := h.b.Subscribe(h.ctx, billing.SubscribeInput{AccountID: "42", PlanName: "lite", IdempotencyKey: "k1"})
			if err == nil {
				t.Fatal("expected error")
			}
			if got := billing.IsRetryable(err); got != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v (%v)", got, tt.retryable, err)
			}

			txn := h.transaction("k1")
			if txn.Status != tt.wantStatus {
				t.Errorf("transaction status = %q, want %q", txn.Status, tt.wantStatus)
			}
			if _, err := h.store.GetSubscriptionByAccount(h.ctx, "42"); !errors.Is(err, billing.ErrSubscriptionNotFound) {
				t.Errorf("subscription should not exist after a failed initiation, got %v", err)
			}
		})
	}
}

func TestCouponFirstTimeOnly(t *testing.T) {
	h := newHarness(t)

	welcome := &coupon.Coupon{
		Code:          "welcome10",
		Type:          coupon.TypeFirstPaymentDiscount,
		Value:         decimal.NewFromInt(10),
		ValueType:     coupon.ValuePercent,
		FirstTimeOnly: true,
		Active:        true,
	}
	if err := h.b.CreateCoupon(h.ctx, welcome); err != nil {
		t.Fatal(err)
	}

	check, err := h.b.ValidateCoupon(h.ctx, "7", "WELCOME10", "lite")
	if err != nil {
		t.Fatal(err)
	}
	if !check.Eligible {
		t.Fatalf("new store should be eligible: %+v", check)
	}

	h.activate("42")
	check, err = h.b.ValidateCoupon(h.ctx, "42", "WELCOME10", "lite")
	if err != nil {
		t.Fatal(err)
	}
	if check.Eligible || check.Reason != coupon.ReasonFirstTimeOnly {
		t.Fatalf("got %+v, want ineligible %q", check, coupon.ReasonFirstTimeOnly)
	}
}

func TestCouponSingleUse(t *testing.T) {
	h := newHarness(t)

	if err := h.b.CreateCoupon(h.ctx, &coupon.Coupon{
		Code:   "TENOFF",
		Type:   coupon.TypeFirstPaymentDiscount,
		Value:  decimal.NewFromInt(10),
		Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := h.b.Subscribe(h.ctx, billing.SubscribeInput{AccountID: "42", PlanName: "lite", CouponCode: "tenoff"})
	if err != nil {
		t.Fatal(err)
	}
	// 49.00 - 4.90 = 44.10, plus 17% VAT = 51.60
	if !res.Quote.Total.Equal(types.ILS(5160)) {
		t.Fatalf("discounted total = %v", res.Quote.Total)
	}

	check, err := h.b.ValidateCoupon(h.ctx, "42", "TENOFF", "lite")
	if err != nil {
		t.Fatal(err)
	}
	if check.Eligible || check.Reason != coupon.ReasonAlreadyUsed {
		t.Fatalf("second use: %+v", check)
	}

	c, err := h.store.GetCouponByCode(h.ctx, "TENOFF")
	if err != nil {
		t.Fatal(err)
	}
	if c.CurrentUses != 1 {
		t.Errorf("current_uses = %d, want 1", c.CurrentUses)
	}
}

func TestCouponReleasedOnDecline(t *testing.T) {
	h := newHarness(t)

	if err := h.b.CreateCoupon(h.ctx, &coupon.Coupon{
		Code:   "TENOFF",
		Type:   coupon.TypeFirstPaymentDiscount,
		Value:  decimal.NewFromInt(10),
		Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	res, err := h.b.Subscribe(h.ctx, billing.SubscribeInput{AccountID: "42", PlanName: "lite", CouponCode: "TENOFF"})
	if err != nil {
		t.Fatal(err)
	}
	h.callback(fake.Decline(res.Reference, "insufficient funds"))

	c, err := h.store.GetCouponByCode(h.ctx, "TENOFF")
	if err != nil {
		t.Fatal(err)
	}
	used, err := h.store.HasCouponUsage(h.ctx, c.ID, "42")
	if err != nil {
		t.Fatal(err)
	}
	if used || c.CurrentUses != 0 {
		t.Errorf("coupon still held after decline: used=%v uses=%d", used, c.CurrentUses)
	}
	if txn := h.transaction(res.Reference); txn.FailureReason != "insufficient funds" {
		t.Errorf("failure reason = %q", txn.FailureReason)
	}
}

func TestApplyCoupon(t *testing.T) {
	h := newHarness(t)
	h.subscribe("42")
	before := *h.subscription("42").TrialEndsAt

	if err := h.b.CreateCoupon(h.ctx, &coupon.Coupon{
		Code:   "EXTRA14",
		Type:   coupon.TypeExtraTrialDays,
		Value:  decimal.NewFromInt(14),
		Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	check, err := h.b.ApplyCoupon(h.ctx, "42", "EXTRA14", "")
	if err != nil {
		t.Fatal(err)
	}
	if !check.Eligible {
		t.Fatalf("check = %+v", check)
	}
	after := *h.subscription("42").TrialEndsAt
	if got := after.Sub(before); got != 14*24*time.Hour {
		t.Errorf("trial extended by %v, want 14 days", got)
	}

	if _, err := h.b.ApplyCoupon(h.ctx, "42", "EXTRA14", ""); !errors.Is(err, billing.ErrCouponIneligible) {
		t.Errorf("second apply: got %v", err)
	}
}

func TestRefunds(t *testing.T) {
	h := newHarness(t)

	txn, err := h.b.Ledger().RecordAttempt(h.ctx, billing.Attempt{
		AccountID: "42",
		Provider:  "fake",
		Reference: "order-1",
		Kind:      payment.KindCharge,
		Amount:    types.ILS(10000),
		Context:   payment.ContextOrder,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.b.Ledger().MarkTerminal(h.ctx, txn.ID, payment.Outcome{
		Status: payment.StatusCompleted, ExternalID: "ext-1",
	}); err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		name    string
		amount  int64
		wantErr error
	}{
		{"refund 40", 4000, nil},
		{"refund 70 exceeds remaining 60", 7000, billing.ErrRefundExceedsBalance},
		{"refund 60", 6000, nil},
		{"nothing left", 100, billing.ErrRefundExceedsBalance},
	}

	for _, s := range steps {
		t.Run(s.name, func(t *testing.T) {
			res, err := h.b.Refund(h.ctx, billing.RefundInput{TransactionID: txn.ID, Amount: types.ILS(s.amount)})
			if s.wantErr != nil {
				if !errors.Is(err, s.wantErr) {
					t.Fatalf("got %v, want %v", err, s.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if res.Refund.Status != payment.StatusCompleted || res.Pending {
				t.Errorf("refund status = %q pending=%v", res.Refund.Status, res.Pending)
			}
		})
	}

	original, err := h.b.Ledger().Transaction(h.ctx, txn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if original.Status != payment.StatusRefunded || original.RefundedAmount != 10000 {
		t.Errorf("original = %s refunded %d", original.Status, original.RefundedAmount)
	}
	if n := len(h.gw.Refunds()); n != 2 {
		t.Errorf("gateway refunds = %d, want 2", n)
	}
}

func TestRefundRejectedReleasesReservation(t *testing.T) {
	h := newHarness(t)

	txn, _ := h.b.Ledger().RecordAttempt(h.ctx, billing.Attempt{
		AccountID: "42", Provider: "fake", Reference: "order-1",
		Kind: payment.KindCharge, Amount: types.ILS(10000), Context: payment.ContextOrder,
	})
	if _, err := h.b.Ledger().MarkTerminal(h.ctx, txn.ID, payment.Outcome{Status: payment.StatusCompleted}); err != nil {
		t.Fatal(err)
	}

	h.gw.FailRefunds(&billing.GatewayRejectedError{Provider: "fake", Reason: "too late"})
	if _, err := h.b.Refund(h.ctx, billing.RefundInput{TransactionID: txn.ID, Amount: types.ILS(4000)}); !billing.IsRejected(err) {
		t.Fatalf("expected rejection, got %v", err)
	}

	original, _ := h.b.Ledger().Transaction(h.ctx, txn.ID)
	if original.RefundedAmount != 0 || original.Status != payment.StatusCompleted {
		t.Errorf("reservation kept: %s refunded %d", original.Status, original.RefundedAmount)
	}
}

func TestCancelAndReactivate(t *testing.T) {
	h := newHarness(t)
	start := h.activate("42")
	periodEnd := *start.CurrentPeriodEnd

	h.clock.Advance(5 * 24 * time.Hour)
	res, err := h.b.Cancel(h.ctx, "42", "too expensive", false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != subscription.StatusCancelled || !res.EffectiveDate.Equal(periodEnd) {
		t.Fatalf("cancel result = %+v", res)
	}
	sub := h.subscription("42")
	if !sub.CancelAtPeriodEnd || !sub.HasAccess(h.clock.Now()) {
		t.Fatal("period-end cancellation should keep access")
	}

	h.clock.Advance(5 * 24 * time.Hour)
	if err := h.b.Reactivate(h.ctx, "42"); err != nil {
		t.Fatalf("reactivate on day 10: %v", err)
	}
	sub = h.subscription("42")
	if sub.Status != subscription.StatusActive || !sub.NextPaymentDate.Equal(periodEnd) {
		t.Fatalf("after reactivate: %s next=%v", sub.Status, sub.NextPaymentDate)
	}

	if _, err := h.b.Cancel(h.ctx, "42", "", false); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(21 * 24 * time.Hour)
	if err := h.b.Reactivate(h.ctx, "42"); !errors.Is(err, billing.ErrNotReactivatable) {
		t.Fatalf("reactivate on day 31: got %v", err)
	}
}

func TestReactivateIllegal(t *testing.T) {
	h := newHarness(t)

	if err := h.b.Reactivate(h.ctx, "nobody"); !errors.Is(err, billing.ErrNotReactivatable) {
		t.Errorf("no subscription: got %v", err)
	}

	h.activate("42")
	if _, err := h.b.Cancel(h.ctx, "42", "", true); err != nil {
		t.Fatal(err)
	}
	if err := h.b.Reactivate(h.ctx, "42"); !errors.Is(err, billing.ErrNotReactivatable) {
		t.Errorf("immediate cancel: got %v", err)
	}
	acct, _ := h.dir.GetAccount(h.ctx, "42")
	if acct.Active {
		t.Error("storefront should be closed after immediate cancel")
	}
}

func TestCallbackReplay(t *testing.T) {
	h := newHarness(t)
	res := h.subscribe("42")

	first := h.callback(fake.Approve(res.Reference))
	after := h.subscription("42")

	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{"replayed approval", fake.Approve(res.Reference), "ignored"},
		{"late decline", fake.Decline(res.Reference, "declined"), "ignored"},
		{"unknown reference", fake.Approve("nope"), "ignored"},
		{"garbage", []byte("{"), "ignored"},
	}

	if first.Status != "processed" {
		t.Fatalf("first callback = %q", first.Status)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ack := h.callback(tt.payload)
			if !ack.Received || string(ack.Status) != tt.want {
				t.Errorf("ack = %+v, want %s", ack, tt.want)
			}
		})
	}

	sub := h.subscription("42")
	if sub.Version != after.Version || sub.Status != subscription.StatusActive {
		t.Errorf("replays changed the subscription: version %d -> %d", after.Version, sub.Version)
	}
	if txn := h.transaction(res.Reference); txn.Status != payment.StatusCompleted {
		t.Errorf("transaction status = %q", txn.Status)
	}

	logged, err := h.b.Callbacks(h.ctx, callback.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) != len(tests)+1 {
		t.Errorf("logged callbacks = %d, want %d", len(logged), len(tests)+1)
	}
}

func TestDeclinesBlockAtThreshold(t *testing.T) {
	h := newHarness(t, billing.WithFailedPaymentThreshold(2))

	for i := range 2 {
		res, err := h.b.Subscribe(h.ctx, billing.SubscribeInput{AccountID: "42", PlanName: "lite"})
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		h.callback(fake.Decline(res.Reference, "declined"))
	}

	sub := h.subscription("42")
	if sub.Status != subscription.StatusBlocked || sub.FailedPaymentCount != 2 {
		t.Fatalf("status = %s count = %d", sub.Status, sub.FailedPaymentCount)
	}
	acct, _ := h.dir.GetAccount(h.ctx, "42")
	if acct.Active {
		t.Error("storefront should be closed when blocked")
	}
}

func TestGetStatus(t *testing.T) {
	h := newHarness(t)

	st, err := h.b.GetStatus(h.ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if st.Subscription != nil || st.HasAccess || st.Transactions == nil {
		t.Fatalf("empty status = %+v", st)
	}

	h.activate("42")
	st, err = h.b.GetStatus(h.ctx, "42")
	if err != nil {
		t.Fatal(err)
	}
	if !st.HasAccess || st.Plan == nil || st.Plan.Name != "lite" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Transactions) != 1 {
		t.Errorf("transactions = %d", len(st.Transactions))
	}
	if st.PaymentMethod == nil || st.PaymentMethod.Last4 != "4242" {
		t.Errorf("payment method = %+v", st.PaymentMethod)
	}
}
