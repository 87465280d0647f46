// Package memory is an in-process store.Store used by tests and
// single-binary deployments. Records are copied on the way in and out so
// callers never share state with the store, which keeps the version and
// reservation checks honest.
package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/store"
	"github.com/xraph/billing/subscription"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

type Store struct {
	mu sync.RWMutex

	plans         map[string]*plan.Plan
	subscriptions map[string]*subscription.Subscription
	transactions  map[string]*payment.Transaction
	references    map[string]string // reference -> transaction id
	tokens        map[string]*payment.Token
	coupons       map[string]*coupon.Coupon
	usages        map[string]*coupon.Usage // coupon id + "/" + account id
	callbacks     map[string]*callback.Entry
}

func New() *Store {
	return &Store{
		plans:         make(map[string]*plan.Plan),
		subscriptions: make(map[string]*subscription.Subscription),
		transactions:  make(map[string]*payment.Transaction),
		references:    make(map[string]string),
		tokens:        make(map[string]*payment.Token),
		coupons:       make(map[string]*coupon.Coupon),
		usages:        make(map[string]*coupon.Usage),
		callbacks:     make(map[string]*callback.Entry),
	}
}

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
