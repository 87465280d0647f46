package memory

import (
	"context"
	"slices"
	"time"

	"github.com/xraph/billing"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/subscription"
)

func cloneSubscription(sub *subscription.Subscription) *subscription.Subscription {
	cp := *sub
	cp.Metadata = cloneMeta(sub.Metadata)
	return &cp
}

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	for _, existing := range s.subscriptions {
		if existing.AccountID == sub.AccountID {
			return billing.ErrAlreadyExists
		}
	}
	if sub.Version == 0 {
		sub.Version = 1
	}
	s.subscriptions[sub.ID.String()] = cloneSubscription(sub)
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return cloneSubscription(sub), nil
	}
	return nil, billing.ErrSubscriptionNotFound
}

func (s *Store) GetSubscriptionByAccount(_ context.Context, accountID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.AccountID == accountID {
			return cloneSubscription(sub), nil
		}
	}
	return nil, billing.ErrSubscriptionNotFound
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.subscriptions[sub.ID.String()]
	if !ok {
		return billing.ErrSubscriptionNotFound
	}
	if stored.Version != sub.Version {
		return billing.ErrConcurrentUpdate
	}
	sub.Version++
	s.subscriptions[sub.ID.String()] = cloneSubscription(sub)
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if opts.Status == "" || sub.Status == opts.Status {
			result = append(result, cloneSubscription(sub))
		}
	}
	slices.SortFunc(result, func(a, b *subscription.Subscription) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) ListExpiredTrials(_ context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(limit, func(sub *subscription.Subscription) *time.Time {
		if sub.Status == subscription.StatusTrial && sub.TrialEndsAt != nil && sub.TrialEndsAt.Before(before) {
			return sub.TrialEndsAt
		}
		return nil
	}), nil
}

func (s *Store) ListEndedCancellations(_ context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(limit, func(sub *subscription.Subscription) *time.Time {
		if sub.Status == subscription.StatusCancelled && sub.CancelAtPeriodEnd &&
			sub.CurrentPeriodEnd != nil && !sub.CurrentPeriodEnd.After(before) {
			return sub.CurrentPeriodEnd
		}
		return nil
	}), nil
}

func (s *Store) ListDueRenewals(_ context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(limit, func(sub *subscription.Subscription) *time.Time {
		if (sub.Status == subscription.StatusActive || sub.Status == subscription.StatusPastDue) &&
			sub.NextPaymentDate != nil && !sub.NextPaymentDate.After(before) {
			return sub.NextPaymentDate
		}
		return nil
	}), nil
}

// listDue returns matching subscriptions ordered by the instant due returns.
func (s *Store) listDue(limit int, due func(*subscription.Subscription) *time.Time) []*subscription.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		at  time.Time
		sub *subscription.Subscription
	}
	matched := make([]entry, 0)
	for _, sub := range s.subscriptions {
		if at := due(sub); at != nil {
			matched = append(matched, entry{at: *at, sub: cloneSubscription(sub)})
		}
	}
	slices.SortFunc(matched, func(a, b entry) int { return a.at.Compare(b.at) })

	result := make([]*subscription.Subscription, 0, len(matched))
	for _, e := range matched {
		result = append(result, e.sub)
	}
	return page(result, limit, 0)
}
