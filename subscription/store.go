package subscription

import (
	"context"
	"time"

	"github.com/xraph/billing/id"
)

// Store persists subscriptions. UpdateSubscription is a compare-and-swap on
// Version: it succeeds only when the stored version equals s.Version, and
// increments s.Version on success.
type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetSubscriptionByAccount(ctx context.Context, accountID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	ListSubscriptions(ctx context.Context, opts ListOpts) ([]*Subscription, error)

	ListExpiredTrials(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)
	ListEndedCancellations(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)
	ListDueRenewals(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
