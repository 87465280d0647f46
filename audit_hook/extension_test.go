package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	audithook "github.com/xraph/billing/audit_hook"
	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

type sink struct {
	events []*audithook.AuditEvent
	err    error
}

func (s *sink) Record(_ context.Context, ev *audithook.AuditEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func quiet() audithook.Option {
	return audithook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSubscriptionChanged(t *testing.T) {
	s := &sink{}
	ext := audithook.New(s, quiet())

	sub := &subscription.Subscription{AccountID: "42", FailedPaymentCount: 3}
	err := ext.OnSubscriptionChanged(context.Background(), sub, plugin.Transition{
		Op:   "payment_failed",
		From: subscription.StatusPastDue,
		To:   subscription.StatusBlocked,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(s.events) != 1 {
		t.Fatalf("events = %d", len(s.events))
	}
	ev := s.events[0]
	if ev.Action != "subscription.payment_failed" || ev.AccountID != "42" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Severity != audithook.SeverityWarning {
		t.Errorf("severity = %q", ev.Severity)
	}
	if ev.Metadata["to"] != "blocked" || ev.Metadata["failed_payment_count"] != 3 {
		t.Errorf("metadata = %v", ev.Metadata)
	}
}

func TestTransactionTerminal(t *testing.T) {
	tests := []struct {
		name    string
		txn     *payment.Transaction
		action  string
		outcome string
	}{
		{
			"charge completed",
			&payment.Transaction{Kind: payment.KindCharge, Status: payment.StatusCompleted, Amount: types.ILS(5733)},
			audithook.ActionChargeCompleted, audithook.OutcomeSuccess,
		},
		{
			"charge failed",
			&payment.Transaction{Kind: payment.KindCharge, Status: payment.StatusFailed, FailureReason: "declined"},
			audithook.ActionChargeFailed, audithook.OutcomeFailure,
		},
		{
			"refund completed",
			&payment.Transaction{Kind: payment.KindRefund, Status: payment.StatusCompleted},
			audithook.ActionRefundCompleted, audithook.OutcomeSuccess,
		},
		{
			"refund failed",
			&payment.Transaction{Kind: payment.KindRefund, Status: payment.StatusFailed, FailureReason: "rejected"},
			audithook.ActionRefundFailed, audithook.OutcomeFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &sink{}
			ext := audithook.New(s, quiet())
			if err := ext.OnTransactionTerminal(context.Background(), tt.txn); err != nil {
				t.Fatal(err)
			}
			ev := s.events[0]
			if ev.Action != tt.action || ev.Outcome != tt.outcome {
				t.Errorf("got %s/%s, want %s/%s", ev.Action, ev.Outcome, tt.action, tt.outcome)
			}
			if tt.txn.FailureReason != "" && ev.Reason != tt.txn.FailureReason {
				t.Errorf("reason = %q", ev.Reason)
			}
		})
	}
}

func TestCallbackProcessed(t *testing.T) {
	s := &sink{}
	ext := audithook.New(s, quiet())
	ctx := context.Background()

	_ = ext.OnCallbackProcessed(ctx, &callback.Entry{Status: callback.StatusProcessed})
	_ = ext.OnCallbackProcessed(ctx, &callback.Entry{Status: callback.StatusIgnored})
	_ = ext.OnCallbackProcessed(ctx, &callback.Entry{Status: callback.StatusFailed, Error: "bad signature"})

	want := []string{audithook.ActionCallbackProcessed, audithook.ActionCallbackIgnored, audithook.ActionCallbackFailed}
	if len(s.events) != len(want) {
		t.Fatalf("events = %d", len(s.events))
	}
	for i, action := range want {
		if s.events[i].Action != action {
			t.Errorf("event %d action = %q, want %q", i, s.events[i].Action, action)
		}
	}
	if s.events[2].Reason != "bad signature" {
		t.Errorf("reason = %q", s.events[2].Reason)
	}
}

func TestActionFilters(t *testing.T) {
	ctx := context.Background()
	stats := plugin.SweepStats{RenewalsCharged: 2}

	s := &sink{}
	ext := audithook.New(s, quiet(), audithook.WithEnabledActions(audithook.ActionGatewayError))
	_ = ext.OnSweepCompleted(ctx, stats)
	_ = ext.OnGatewayError(ctx, "payplus", "charge_token", errors.New("timeout"))
	if len(s.events) != 1 || s.events[0].Action != audithook.ActionGatewayError {
		t.Errorf("enabled filter: %+v", s.events)
	}

	s = &sink{}
	ext = audithook.New(s, quiet(), audithook.WithDisabledActions(audithook.ActionSweepCompleted))
	_ = ext.OnSweepCompleted(ctx, stats)
	if len(s.events) != 0 {
		t.Errorf("disabled action recorded: %+v", s.events)
	}
}

func TestRecorderFailureIsSwallowed(t *testing.T) {
	s := &sink{err: errors.New("audit store down")}
	ext := audithook.New(s, quiet())
	if err := ext.OnSweepCompleted(context.Background(), plugin.SweepStats{}); err != nil {
		t.Errorf("recorder failure leaked: %v", err)
	}
}
