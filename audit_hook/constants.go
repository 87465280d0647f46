package audithook

// Action constants for audit events.
const (
	// Catalog actions
	ActionPlanCreated   = "plan.created"
	ActionCouponCreated = "coupon.created"

	// Subscription actions. Lifecycle transitions are recorded as
	// "subscription." + the transition op, e.g. "subscription.cancel".
	ActionSubscriptionPrefix = "subscription."

	// Payment actions
	ActionChargeInitiated = "payment.initiated"
	ActionChargeCompleted = "payment.completed"
	ActionChargeFailed    = "payment.failed"
	ActionRefundIssued    = "refund.issued"
	ActionRefundCompleted = "refund.completed"
	ActionRefundFailed    = "refund.failed"
	ActionGatewayError    = "gateway.error"

	// Coupon actions
	ActionCouponRedeemed = "coupon.redeemed"

	// Callback actions
	ActionCallbackProcessed = "callback.processed"
	ActionCallbackIgnored   = "callback.ignored"
	ActionCallbackFailed    = "callback.failed"

	// Sweep actions
	ActionSweepCompleted = "sweep.completed"
)

// Resource constants for audit events.
const (
	ResourcePlan         = "plan"
	ResourceCoupon       = "coupon"
	ResourceSubscription = "subscription"
	ResourceTransaction  = "transaction"
	ResourceGateway      = "gateway"
	ResourceCallback     = "callback"
	ResourceSweep        = "sweep"
)

// Category constants for audit events.
const (
	CategoryCatalog      = "catalog"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryIntegration  = "integration"
	CategoryScheduler    = "scheduler"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
