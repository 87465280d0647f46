package subscription

import (
	"errors"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

type Status string

const (
	StatusTrial     Status = "trial"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusBlocked   Status = "blocked"
)

type Subscription struct {
	types.Entity
	ID                 id.SubscriptionID `json:"id"`
	AccountID          string            `json:"account_id"`
	PlanID             id.PlanID         `json:"plan_id"`
	Status             Status            `json:"status"`
	TrialEndsAt        *time.Time        `json:"trial_ends_at,omitempty"`
	CurrentPeriodStart *time.Time        `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time        `json:"current_period_end,omitempty"`
	NextPaymentDate    *time.Time        `json:"next_payment_date,omitempty"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CancelledAt        *time.Time        `json:"cancelled_at,omitempty"`
	CancellationReason string            `json:"cancellation_reason,omitempty"`
	// EndedAt is when the subscription last reached cancelled (immediate),
	// expired or blocked. Charges created before it belong to the ended
	// cycle; a later subscribe and payment start a new one.
	EndedAt            *time.Time        `json:"ended_at,omitempty"`
	FailedPaymentCount int               `json:"failed_payment_count"`
	// LastPaymentID and LastPaymentAt name the newest settled charge whose
	// outcome has been applied, so replayed outcomes apply once.
	LastPaymentID      id.TransactionID  `json:"last_payment_id,omitempty"`
	LastPaymentAt      *time.Time        `json:"last_payment_at,omitempty"`
	CouponID           id.CouponID       `json:"coupon_id,omitempty"`
	Version            int64             `json:"version"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Reactivatable reports whether a period-end cancellation can still be undone.
func (s *Subscription) Reactivatable(now time.Time) bool {
	return s.Status == StatusCancelled &&
		s.CancelAtPeriodEnd &&
		s.CurrentPeriodEnd != nil &&
		s.CurrentPeriodEnd.After(now)
}

// AccessUntil returns the instant storefront access ends, or nil when access
// is open-ended (paid and renewing) or already gone.
func (s *Subscription) AccessUntil() *time.Time {
	switch s.Status {
	case StatusTrial:
		return s.TrialEndsAt
	case StatusCancelled:
		if s.CancelAtPeriodEnd {
			return s.CurrentPeriodEnd
		}
	}
	return nil
}

// HasAccess reports whether the storefront should be reachable at now.
func (s *Subscription) HasAccess(now time.Time) bool {
	switch s.Status {
	case StatusActive, StatusPastDue:
		return true
	case StatusTrial:
		return s.TrialEndsAt != nil && now.Before(*s.TrialEndsAt)
	case StatusCancelled:
		return s.Reactivatable(now)
	default:
		return false
	}
}

var (
	errTrialFields     = errors.New("subscription: trial requires trial_ends_at and no current period")
	errCancelFlag      = errors.New("subscription: cancel_at_period_end requires status cancelled")
	errCancelPeriodEnd = errors.New("subscription: cancel_at_period_end requires current_period_end")
)

// CheckConsistency verifies that status and the trial/cancel fields agree.
func (s *Subscription) CheckConsistency() error {
	if s.Status == StatusTrial {
		if s.TrialEndsAt == nil || s.CurrentPeriodStart != nil || s.CurrentPeriodEnd != nil {
			return errTrialFields
		}
	}
	if s.CancelAtPeriodEnd {
		if s.Status != StatusCancelled {
			return errCancelFlag
		}
		if s.CurrentPeriodEnd == nil {
			return errCancelPeriodEnd
		}
	}
	return nil
}
