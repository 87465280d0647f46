package store

import (
	"context"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/subscription"
)

// Store is the unified storage interface for all billing entities. Each
// domain package declares its own slice of it with entity-prefixed method
// names so the slices compose without conflicts.
type Store interface {
	plan.Store
	subscription.Store
	payment.Store
	coupon.Store
	callback.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
