package subscription_test

import (
	"testing"
	"time"

	"github.com/xraph/billing/subscription"
)

func ptr(t time.Time) *time.Time { return &t }

func TestReactivatable(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		sub  subscription.Subscription
		want bool
	}{
		{"period-end cancel before end", subscription.Subscription{Status: subscription.StatusCancelled, CancelAtPeriodEnd: true, CurrentPeriodEnd: ptr(future)}, true},
		{"period-end cancel after end", subscription.Subscription{Status: subscription.StatusCancelled, CancelAtPeriodEnd: true, CurrentPeriodEnd: ptr(past)}, false},
		{"period-end cancel at end", subscription.Subscription{Status: subscription.StatusCancelled, CancelAtPeriodEnd: true, CurrentPeriodEnd: ptr(now)}, false},
		{"immediate cancel", subscription.Subscription{Status: subscription.StatusCancelled, CurrentPeriodEnd: ptr(future)}, false},
		{"active", subscription.Subscription{Status: subscription.StatusActive, CurrentPeriodEnd: ptr(future)}, false},
		{"expired", subscription.Subscription{Status: subscription.StatusExpired}, false},
		{"blocked", subscription.Subscription{Status: subscription.StatusBlocked}, false},
		{"trial", subscription.Subscription{Status: subscription.StatusTrial, TrialEndsAt: ptr(future)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Reactivatable(now); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheckConsistency(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		sub     subscription.Subscription
		wantErr bool
	}{
		{"trial ok", subscription.Subscription{Status: subscription.StatusTrial, TrialEndsAt: ptr(end)}, false},
		{"trial without end", subscription.Subscription{Status: subscription.StatusTrial}, true},
		{"trial with period", subscription.Subscription{Status: subscription.StatusTrial, TrialEndsAt: ptr(end), CurrentPeriodEnd: ptr(end)}, true},
		{"flag on active", subscription.Subscription{Status: subscription.StatusActive, CancelAtPeriodEnd: true, CurrentPeriodEnd: ptr(end)}, true},
		{"flag without end", subscription.Subscription{Status: subscription.StatusCancelled, CancelAtPeriodEnd: true}, true},
		{"period-end cancel ok", subscription.Subscription{Status: subscription.StatusCancelled, CancelAtPeriodEnd: true, CurrentPeriodEnd: ptr(end)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sub.CheckConsistency()
			if (err != nil) != tt.wantErr {
				t.Errorf("got err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestHasAccess(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		sub  subscription.Subscription
		want bool
	}{
		{"active", subscription.Subscription{Status: subscription.StatusActive}, true},
		{"past due", subscription.Subscription{Status: subscription.StatusPastDue}, true},
		{"running trial", subscription.Subscription{Status: subscription.StatusTrial, TrialEndsAt: ptr(now.Add(time.Hour))}, true},
		{"ended trial", subscription.Subscription{Status: subscription.StatusTrial, TrialEndsAt: ptr(now.Add(-time.Hour))}, false},
		{"blocked", subscription.Subscription{Status: subscription.StatusBlocked}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.HasAccess(now); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
