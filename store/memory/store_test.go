package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/store/memory"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func completedCharge(t *testing.T, s *memory.Store, amount int64) *payment.Transaction {
	t.Helper()
	ctx := context.Background()
	txn := &payment.Transaction{
		Entity:    types.NewEntityAt(t0),
		ID:        id.NewTransactionID(),
		AccountID: "acct_1",
		Provider:  "fake",
		Reference: "ref_" + id.NewTransactionID().String(),
		Amount:    types.ILS(amount),
		Kind:      payment.KindCharge,
		Status:    payment.StatusPending,
		Context:   payment.ContextSubscription,
	}
	if err := s.CreateTransaction(ctx, txn); err != nil {
		t.Fatal(err)
	}
	ok, err := s.CompleteTransaction(ctx, txn.ID, payment.Outcome{Status: payment.StatusCompleted, At: t0})
	if err != nil || !ok {
		t.Fatalf("complete: ok=%v err=%v", ok, err)
	}
	return txn
}

func TestTransactionReferenceUnique(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	txn := &payment.Transaction{ID: id.NewTransactionID(), Reference: "dup", Status: payment.StatusPending}
	if err := s.CreateTransaction(ctx, txn); err != nil {
		t.Fatal(err)
	}
	other := &payment.Transaction{ID: id.NewTransactionID(), Reference: "dup", Status: payment.StatusPending}
	if err := s.CreateTransaction(ctx, other); !errors.Is(err, billing.ErrDuplicateReference) {
		t.Fatalf("expected ErrDuplicateReference, got %v", err)
	}
}

func TestCompleteTransactionOnce(t *testing.T) {
	s := memory.New()
	txn := completedCharge(t, s, 1000)

	ok, err := s.CompleteTransaction(context.Background(), txn.ID, payment.Outcome{Status: payment.StatusFailed, At: t0})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second completion should not transition")
	}
	got, _ := s.GetTransaction(context.Background(), txn.ID)
	if got.Status != payment.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestReserveRefund(t *testing.T) {
	tests := []struct {
		name    string
		amounts []int64
		wantErr error
		status  payment.Status
	}{
		{"partial", []int64{400}, nil, payment.StatusCompleted},
		{"full", []int64{1000}, nil, payment.StatusRefunded},
		{"two partials to zero", []int64{600, 400}, nil, payment.StatusRefunded},
		{"over balance", []int64{600, 500}, billing.ErrRefundExceedsBalance, payment.StatusCompleted},
		{"after full refund", []int64{1000, 1}, billing.ErrRefundExceedsBalance, payment.StatusRefunded},
		{"zero", []int64{0}, billing.ErrInvalidAmount, payment.StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := memory.New()
			txn := completedCharge(t, s, 1000)

			var err error
			for _, a := range tt.amounts {
				if _, err = s.ReserveRefund(context.Background(), txn.ID, a, t0); err != nil {
					break
				}
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			got, _ := s.GetTransaction(context.Background(), txn.ID)
			if got.Status != tt.status {
				t.Errorf("status = %s, want %s", got.Status, tt.status)
			}
			if got.RefundedAmount > got.Amount.Amount {
				t.Errorf("refunded %d exceeds amount %d", got.RefundedAmount, got.Amount.Amount)
			}
		})
	}
}

func TestReserveRefundConcurrent(t *testing.T) {
	s := memory.New()
	txn := completedCharge(t, s, 1000)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ReserveRefund(context.Background(), txn.ID, 300, t0); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 3 {
		t.Errorf("successful reservations = %d, want 3", ok)
	}
}

func TestReleaseRefund(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	txn := completedCharge(t, s, 1000)

	if _, err := s.ReserveRefund(ctx, txn.ID, 1000, t0); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseRefund(ctx, txn.ID, 1000, t0); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetTransaction(ctx, txn.ID)
	if got.Status != payment.StatusCompleted || got.RefundedAmount != 0 {
		t.Errorf("got status %s refunded %d", got.Status, got.RefundedAmount)
	}
}

func TestReserveRefundRejectsPending(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	txn := &payment.Transaction{
		ID: id.NewTransactionID(), Reference: "p", Kind: payment.KindCharge,
		Status: payment.StatusPending, Amount: types.ILS(100),
	}
	if err := s.CreateTransaction(ctx, txn); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReserveRefund(ctx, txn.ID, 10, t0); !errors.Is(err, billing.ErrNotRefundable) {
		t.Fatalf("expected ErrNotRefundable, got %v", err)
	}
}

func TestUpdateSubscriptionVersion(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	sub := &subscription.Subscription{ID: id.NewSubscriptionID(), AccountID: "acct_1", Status: subscription.StatusActive}
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	a, _ := s.GetSubscription(ctx, sub.ID)
	b, _ := s.GetSubscription(ctx, sub.ID)

	a.Status = subscription.StatusCancelled
	if err := s.UpdateSubscription(ctx, a); err != nil {
		t.Fatal(err)
	}
	b.Status = subscription.StatusBlocked
	if err := s.UpdateSubscription(ctx, b); !errors.Is(err, billing.ErrConcurrentUpdate) {
		t.Fatalf("expected ErrConcurrentUpdate, got %v", err)
	}

	got, _ := s.GetSubscription(ctx, sub.ID)
	if got.Status != subscription.StatusCancelled || got.Version != 2 {
		t.Errorf("got status %s version %d", got.Status, got.Version)
	}
}

func TestSubscriptionOnePerAccount(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.CreateSubscription(ctx, &subscription.Subscription{ID: id.NewSubscriptionID(), AccountID: "a"}); err != nil {
		t.Fatal(err)
	}
	err := s.CreateSubscription(ctx, &subscription.Subscription{ID: id.NewSubscriptionID(), AccountID: "a"})
	if !errors.Is(err, billing.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSweepQueries(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	past := t0.Add(-time.Hour)
	future := t0.Add(time.Hour)

	subs := []*subscription.Subscription{
		{ID: id.NewSubscriptionID(), AccountID: "trial-old", Status: subscription.StatusTrial, TrialEndsAt: &past},
		{ID: id.NewSubscriptionID(), AccountID: "trial-new", Status: subscription.StatusTrial, TrialEndsAt: &future},
		{ID: id.NewSubscriptionID(), AccountID: "cancel-old", Status: subscription.StatusCancelled, CancelAtPeriodEnd: true, CurrentPeriodEnd: &past},
		{ID: id.NewSubscriptionID(), AccountID: "cancel-now", Status: subscription.StatusCancelled, CurrentPeriodEnd: &past},
		{ID: id.NewSubscriptionID(), AccountID: "renew", Status: subscription.StatusActive, NextPaymentDate: &past},
		{ID: id.NewSubscriptionID(), AccountID: "renew-later", Status: subscription.StatusActive, NextPaymentDate: &future},
	}
	for _, sub := range subs {
		if err := s.CreateSubscription(ctx, sub); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name string
		list func(context.Context, time.Time, int) ([]*subscription.Subscription, error)
		want string
	}{
		{"expired trials", s.ListExpiredTrials, "trial-old"},
		{"ended cancellations", s.ListEndedCancellations, "cancel-old"},
		{"due renewals", s.ListDueRenewals, "renew"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.list(ctx, t0, 10)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 1 || got[0].AccountID != tt.want {
				t.Fatalf("got %d results, want only %s", len(got), tt.want)
			}
		})
	}
}

func TestRedeemCoupon(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	limit := 1
	c := &coupon.Coupon{ID: id.NewCouponID(), Code: " welcome ", Active: true, MaxUses: &limit}
	if err := s.CreateCoupon(ctx, c); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetCouponByCode(ctx, "WELCOME"); err != nil {
		t.Fatalf("lookup by normalized code: %v", err)
	}

	redeem := func(account string) error {
		return s.RedeemCoupon(ctx, &coupon.Usage{ID: id.NewCouponUsageID(), CouponID: c.ID, AccountID: account})
	}

	if err := redeem("a"); err != nil {
		t.Fatal(err)
	}
	if err := redeem("a"); !errors.Is(err, billing.ErrCouponAlreadyUsed) {
		t.Errorf("expected ErrCouponAlreadyUsed, got %v", err)
	}
	if err := redeem("b"); !errors.Is(err, billing.ErrCouponExhausted) {
		t.Errorf("expected ErrCouponExhausted, got %v", err)
	}

	if err := s.ReleaseCoupon(ctx, c.ID, "a"); err != nil {
		t.Fatal(err)
	}
	if err := redeem("b"); err != nil {
		t.Errorf("redeem after release: %v", err)
	}
	got, _ := s.GetCoupon(ctx, c.ID)
	if got.CurrentUses != 1 {
		t.Errorf("current uses = %d, want 1", got.CurrentUses)
	}
}

func TestSaveTokenPrimary(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	first := &payment.Token{ID: id.NewTokenID(), AccountID: "a", Provider: "fake", Token: "t1", Primary: true, Active: true}
	second := &payment.Token{ID: id.NewTokenID(), AccountID: "a", Provider: "fake", Token: "t2", Primary: true, Active: true}
	for _, tok := range []*payment.Token{first, second} {
		if err := s.SaveToken(ctx, tok); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.GetPrimaryToken(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if got.Token != "t2" {
		t.Errorf("primary token = %s, want t2", got.Token)
	}

	if _, err := s.GetPrimaryToken(ctx, "b"); !errors.Is(err, billing.ErrTokenNotFound) {
		t.Errorf("expected ErrTokenNotFound, got %v", err)
	}
}
