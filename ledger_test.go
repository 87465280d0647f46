package billing_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/xraph/billing"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/types"
)

// completedCharge records an order charge and settles it.
func (h *harness) completedCharge(reference string, amount types.Money) *payment.Transaction {
	h.t.Helper()
	l := h.b.Ledger()
	txn, err := l.RecordAttempt(h.ctx, billing.Attempt{
		AccountID: "42",
		Provider:  "fake",
		Reference: reference,
		Kind:      payment.KindCharge,
		Amount:    amount,
		Context:   payment.ContextOrder,
	})
	if err != nil {
		h.t.Fatalf("RecordAttempt: %v", err)
	}
	if _, err := l.MarkTerminal(h.ctx, txn.ID, payment.Outcome{Status: payment.StatusCompleted, ExternalID: "ext_" + reference}); err != nil {
		h.t.Fatalf("MarkTerminal: %v", err)
	}
	got, err := l.Transaction(h.ctx, txn.ID)
	if err != nil {
		h.t.Fatal(err)
	}
	return got
}

func TestRecordAttemptIdempotent(t *testing.T) {
	h := newHarness(t)
	l := h.b.Ledger()
	attempt := billing.Attempt{
		AccountID: "42",
		Reference: "order-1",
		Kind:      payment.KindCharge,
		Amount:    types.ILS(1000),
		Context:   payment.ContextOrder,
	}

	first, err := l.RecordAttempt(h.ctx, attempt)
	if err != nil {
		t.Fatal(err)
	}
	again, err := l.RecordAttempt(h.ctx, attempt)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID.String() != first.ID.String() {
		t.Errorf("retry created a second row: %s vs %s", again.ID, first.ID)
	}

	tests := []struct {
		name   string
		mutate func(*billing.Attempt)
		want   error
	}{
		{"reference reused for another amount", func(a *billing.Attempt) { a.Amount = types.ILS(999) }, billing.ErrDuplicateReference},
		{"reference reused for another account", func(a *billing.Attempt) { a.AccountID = "43" }, billing.ErrDuplicateReference},
		{"zero amount", func(a *billing.Attempt) { a.Reference, a.Amount = "order-2", types.ILS(0) }, billing.ErrInvalidAmount},
		{"missing account", func(a *billing.Attempt) { a.Reference, a.AccountID = "order-3", "" }, billing.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := attempt
			tt.mutate(&a)
			_, err := l.RecordAttempt(h.ctx, a)
			if !errors.Is(err, tt.want) || !billing.IsValidation(err) {
				t.Errorf("got %v, want validation error wrapping %v", err, tt.want)
			}
		})
	}
}

func TestMarkTerminalAtMostOnce(t *testing.T) {
	h := newHarness(t)
	l := h.b.Ledger()
	txn, err := l.RecordAttempt(h.ctx, billing.Attempt{
		AccountID: "42", Kind: payment.KindCharge, Amount: types.ILS(500), Context: payment.ContextOrder,
	})
	if err != nil {
		t.Fatal(err)
	}
	if txn.Reference != txn.ID.String() {
		t.Errorf("empty reference should default to the id, got %q", txn.Reference)
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		status := payment.StatusCompleted
		if i%2 == 1 {
			status = payment.StatusFailed
		}
		wg.Add(1)
		go func(status payment.Status) {
			defer wg.Done()
			ok, err := l.MarkTerminal(h.ctx, txn.ID, payment.Outcome{Status: status})
			if err != nil {
				t.Error(err)
			}
			if ok {
				wins.Add(1)
			}
		}(status)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("transitions = %d, want exactly 1", wins.Load())
	}
	if _, err := l.MarkTerminal(h.ctx, txn.ID, payment.Outcome{Status: payment.StatusPending}); !billing.IsValidation(err) {
		t.Errorf("pending outcome: %v", err)
	}
}

func TestApplyRefundNeverExceedsOriginal(t *testing.T) {
	h := newHarness(t)
	charge := h.completedCharge("order-9", types.ILS(1000))

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			refund, err := h.b.Ledger().ApplyRefund(h.ctx, billing.RefundAttempt{
				OriginalID: charge.ID,
				Amount:     types.ILS(300),
			})
			switch {
			case err == nil:
				granted.Add(refund.Amount.Amount)
			case !errors.Is(err, billing.ErrRefundExceedsBalance) && !errors.Is(err, billing.ErrNotRefundable):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != 900 {
		t.Errorf("refunded %d, want 900", granted.Load())
	}
	after, err := h.b.Ledger().Transaction(h.ctx, charge.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.RefundedAmount != 900 || after.Status != payment.StatusCompleted {
		t.Errorf("original = %s refunded=%d", after.Status, after.RefundedAmount)
	}
	if !after.Refundable().Equal(types.ILS(100)) {
		t.Errorf("refundable = %v, want 1.00", after.Refundable())
	}
}

func TestApplyRefundRules(t *testing.T) {
	h := newHarness(t)
	charge := h.completedCharge("order-10", types.ILS(1000))
	l := h.b.Ledger()

	t.Run("unknown original", func(t *testing.T) {
		_, err := l.ApplyRefund(h.ctx, billing.RefundAttempt{OriginalID: id.NewTransactionID(), Amount: types.ILS(1)})
		if !errors.Is(err, billing.ErrTransactionNotFound) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("currency mismatch", func(t *testing.T) {
		_, err := l.ApplyRefund(h.ctx, billing.RefundAttempt{OriginalID: charge.ID, Amount: types.USD(100)})
		if !billing.IsValidation(err) {
			t.Errorf("got %v", err)
		}
	})

	t.Run("failed refund releases its reservation", func(t *testing.T) {
		refund, err := l.ApplyRefund(h.ctx, billing.RefundAttempt{OriginalID: charge.ID, Amount: types.ILS(400), Reference: "rf-1"})
		if err != nil {
			t.Fatal(err)
		}
		if ok, err := l.MarkTerminal(h.ctx, refund.ID, payment.Outcome{Status: payment.StatusFailed, FailureReason: "rejected"}); err != nil || !ok {
			t.Fatalf("MarkTerminal = %v, %v", ok, err)
		}
		after, _ := l.Transaction(h.ctx, charge.ID)
		if after.RefundedAmount != 0 {
			t.Errorf("refunded = %d after failed refund", after.RefundedAmount)
		}
	})

	t.Run("reused reference does not reserve twice", func(t *testing.T) {
		first, err := l.ApplyRefund(h.ctx, billing.RefundAttempt{OriginalID: charge.ID, Amount: types.ILS(250), Reference: "rf-2"})
		if err != nil {
			t.Fatal(err)
		}
		second, err := l.ApplyRefund(h.ctx, billing.RefundAttempt{OriginalID: charge.ID, Amount: types.ILS(250), Reference: "rf-2"})
		if err != nil {
			t.Fatal(err)
		}
		if first.ID.String() != second.ID.String() {
			t.Error("replayed refund created a new row")
		}
		after, _ := l.Transaction(h.ctx, charge.ID)
		if after.RefundedAmount != 250 {
			t.Errorf("refunded = %d, want 250", after.RefundedAmount)
		}
	})

	t.Run("zero amount refunds the rest", func(t *testing.T) {
		refund, err := l.ApplyRefund(h.ctx, billing.RefundAttempt{OriginalID: charge.ID})
		if err != nil {
			t.Fatal(err)
		}
		if !refund.Amount.Equal(types.ILS(750)) {
			t.Errorf("refund amount = %v, want 7.50", refund.Amount)
		}
		after, _ := l.Transaction(h.ctx, charge.ID)
		if after.Status != payment.StatusRefunded {
			t.Errorf("status = %s, want refunded", after.Status)
		}
	})
}
