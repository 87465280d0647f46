// Package billing provides a subscription billing core for a multi-store
// commerce platform.
//
// Billing is designed as a library, not a service. Import it into your Go
// application, hand it a store and a payment gateway, and call its use
// cases from your own HTTP or RPC layer. It provides:
//
//   - A transaction ledger with caller-chosen, unique references
//   - A subscription state machine (trial, active, past_due, cancelled,
//     expired, blocked) with optimistic concurrency
//   - Idempotent reconciliation of provider webhooks
//   - Coupon evaluation and single-use redemption
//   - Bounded partial refunds
//   - PayPlus and Stripe gateway adapters plus a scriptable fake
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/billing"
//	    "github.com/xraph/billing/gateway/payplus"
//	    "github.com/xraph/billing/store/postgres"
//	)
//
//	gw, err := payplus.New(payplus.Config{APIKey: key, SecretKey: secret})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	b := billing.New(postgres.New(db), gw,
//	    billing.WithRedirects(gateway.Redirects{CallbackURL: "https://example.com/billing/callback"}),
//	)
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
//
//	http.Handle("/billing/callback", b.CallbackHandler())
//
// # Payment flow
//
// Subscribe records a pending charge under a unique reference before the
// provider is contacted and returns the hosted payment page:
//
//	res, err := b.Subscribe(ctx, billing.SubscribeInput{
//	    AccountID: "store-42",
//	    PlanName:  "lite",
//	})
//
// The provider later posts a callback. The reconciler finds the charge by
// its reference, settles it exactly once, and activates the subscription.
// Replayed or out-of-order callbacks are acknowledged and ignored.
//
// Time-driven transitions (trial expiry, period-end cancellation, renewal
// charges) run in Sweep, which an external scheduler calls.
//
// # Money
//
// Amounts are integers in the smallest currency unit (agorot for ILS,
// cents for USD). Discounts are applied before VAT.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	plan_01h2xcejqtf2nbrexx3vqjhp41  // Plan ID
//	sub_01h2xcejqtf2nbrexx3vqjhp41   // Subscription ID
//	txn_01h455vb4pex5vsknk084sn02q   // Transaction ID
package billing
