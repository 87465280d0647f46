package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/billing"
	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	billingstore "github.com/xraph/billing/store"
	"github.com/xraph/billing/subscription"
)

// compile-time interface check
var _ billingstore.Store = (*Store)(nil)

// Store implements store.Store using SQLite via Grove ORM. It issues the
// same conditional updates as the postgres store, so a single-node
// deployment keeps the exactly-once guarantees.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("billing/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("billing/sqlite: %w: %w", billing.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *plan.Plan) error {
	_, err := s.sdb.NewInsert(toPlanModel(p)).Exec(ctx)
	if isUniqueViolation(err, "") {
		return billing.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanByName(ctx context.Context, name string) (*plan.Plan, error) {
	m := new(planModel)
	err := s.sdb.NewSelect(m).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel
	q := s.sdb.NewSelect(&models)
	if opts.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("name ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *plan.Plan) error {
	res, err := s.sdb.NewUpdate(toPlanModel(p)).WherePK().Exec(ctx)
	if err != nil {
		if isUniqueViolation(err, "billing_plans.name") {
			return billing.ErrAlreadyExists
		}
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return billing.ErrPlanNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	_, err := s.sdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	if isUniqueViolation(err, "") {
		return billing.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetSubscriptionByAccount(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

// UpdateSubscription writes sub only if the stored version still equals
// sub.Version, then advances sub.Version.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	res, err := s.sdb.NewUpdate((*subscriptionModel)(nil)).
		Set("plan_id = ?", m.PlanID).
		Set("status = ?", m.Status).
		Set("trial_ends_at = ?", m.TrialEndsAt).
		Set("current_period_start = ?", m.CurrentPeriodStart).
		Set("current_period_end = ?", m.CurrentPeriodEnd).
		Set("next_payment_date = ?", m.NextPaymentDate).
		Set("cancel_at_period_end = ?", m.CancelAtPeriodEnd).
		Set("cancelled_at = ?", m.CancelledAt).
		Set("cancellation_reason = ?", m.CancellationReason).
		Set("ended_at = ?", m.EndedAt).
		Set("failed_payment_count = ?", m.FailedPaymentCount).
		Set("last_payment_id = ?", m.LastPaymentID).
		Set("last_payment_at = ?", m.LastPaymentAt).
		Set("coupon_id = ?", m.CouponID).
		Set("metadata = ?", m.Metadata).
		Set("updated_at = ?", m.UpdatedAt).
		Set("version = version + 1").
		Where("id = ?", m.ID).
		Where("version = ?", m.Version).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if _, err := s.GetSubscription(ctx, sub.ID); err != nil {
			return err
		}
		return billing.ErrConcurrentUpdate
	}
	sub.Version++
	return nil
}

func (s *Store) ListSubscriptions(ctx context.Context, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models)
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ListExpiredTrials(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(ctx, "trial_ends_at", limit,
		"status = 'trial' AND trial_ends_at < ?", before)
}

func (s *Store) ListEndedCancellations(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(ctx, "current_period_end", limit,
		"status = 'cancelled' AND cancel_at_period_end AND current_period_end <= ?", before)
}

func (s *Store) ListDueRenewals(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(ctx, "next_payment_date", limit,
		"status IN ('active', 'past_due') AND next_payment_date <= ?", before)
}

func (s *Store) listDue(ctx context.Context, orderBy string, limit int, where string, before time.Time) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.sdb.NewSelect(&models).
		Where(where, before).
		OrderExpr(orderBy + " ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return fromSubscriptionModels(models)
}

func fromSubscriptionModels(models []subscriptionModel) ([]*subscription.Subscription, error) {
	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ==================== Transaction Store ====================

func (s *Store) CreateTransaction(ctx context.Context, t *payment.Transaction) error {
	_, err := s.sdb.NewInsert(toTransactionModel(t)).Exec(ctx)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err, "billing_transactions.reference"):
		return billing.ErrDuplicateReference
	case isUniqueViolation(err, "billing_transactions.external_id"):
		return billing.ErrDuplicateExternalID
	case isUniqueViolation(err, ""):
		return billing.ErrAlreadyExists
	default:
		return err
	}
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", txnID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*payment.Transaction, error) {
	m := new(transactionModel)
	err := s.sdb.NewSelect(m).
		Where("reference = ?", reference).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrTransactionNotFound
		}
		return nil, err
	}
	return fromTransactionModel(m)
}

// CompleteTransaction moves a pending transaction to its terminal outcome.
// It reports false when another writer already settled the row.
func (s *Store) CompleteTransaction(ctx context.Context, txnID id.TransactionID, outcome payment.Outcome) (bool, error) {
	res, err := s.sdb.NewUpdate((*transactionModel)(nil)).
		Set("status = ?", string(outcome.Status)).
		Set("external_id = CASE WHEN ? <> '' THEN ? ELSE external_id END", outcome.ExternalID, outcome.ExternalID).
		Set("failure_reason = ?", outcome.FailureReason).
		Set("completed_at = ?", outcome.At).
		Set("updated_at = ?", outcome.At).
		Where("id = ?", txnID.String()).
		Where("status = ?", string(payment.StatusPending)).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err, "billing_transactions.external_id") {
			return false, billing.ErrDuplicateExternalID
		}
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		if _, err := s.GetTransaction(ctx, txnID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, opts payment.ListOpts) ([]*payment.Transaction, error) {
	var models []transactionModel
	q := s.sdb.NewSelect(&models).Where("account_id = ?", accountID)

	if opts.Kind != "" {
		q = q.Where("kind = ?", string(opts.Kind))
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC, id DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*payment.Transaction, len(models))
	for i := range models {
		t, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = t
	}
	return result, nil
}

func (s *Store) HasCompletedCharge(ctx context.Context, accountID string, contexts ...payment.Context) (bool, error) {
	query := `SELECT EXISTS (
		SELECT 1 FROM billing_transactions
		WHERE account_id = ? AND kind = 'charge' AND status IN ('completed', 'refunded')`
	args := []any{accountID}
	if len(contexts) > 0 {
		placeholders := make([]string, len(contexts))
		for i, c := range contexts {
			args = append(args, string(c))
			placeholders[i] = "?"
		}
		query += " AND context IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += ")"

	var found bool
	if err := s.sdb.NewRaw(query, args...).Scan(ctx, &found); err != nil {
		return false, err
	}
	return found, nil
}

// ReserveRefund adds amount to the original charge's refunded total in one
// conditional UPDATE, so concurrent refunds can never over-refund.
func (s *Store) ReserveRefund(ctx context.Context, originalID id.TransactionID, amount int64, at time.Time) (*payment.Transaction, error) {
	if amount > 0 {
		res, err := s.sdb.NewUpdate((*transactionModel)(nil)).
			Set("refunded_amount = refunded_amount + ?", amount).
			Set("status = CASE WHEN refunded_amount + ? = amount THEN 'refunded' ELSE status END", amount).
			Set("updated_at = ?", at).
			Where("id = ?", originalID.String()).
			Where("kind = 'charge' AND status IN ('completed', 'refunded')").
			Where("amount - refunded_amount >= ?", amount).
			Exec(ctx)
		if err != nil {
			return nil, err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if rows == 1 {
			return s.GetTransaction(ctx, originalID)
		}
	}

	t, err := s.GetTransaction(ctx, originalID)
	if err != nil {
		return nil, err
	}
	return nil, refundError(t, amount)
}

// refundError explains why a reservation against t was refused.
func refundError(t *payment.Transaction, amount int64) error {
	switch {
	case t.Kind != payment.KindCharge,
		t.Status != payment.StatusCompleted && t.Status != payment.StatusRefunded:
		return billing.ErrNotRefundable
	case amount <= 0:
		return billing.ErrInvalidAmount
	default:
		return billing.ErrRefundExceedsBalance
	}
}

func (s *Store) ReleaseRefund(ctx context.Context, originalID id.TransactionID, amount int64, at time.Time) error {
	res, err := s.sdb.NewUpdate((*transactionModel)(nil)).
		Set("refunded_amount = MAX(refunded_amount - ?, 0)", amount).
		Set("status = CASE WHEN status = 'refunded' THEN 'completed' ELSE status END").
		Set("updated_at = ?", at).
		Where("id = ?", originalID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return billing.ErrTransactionNotFound
	}
	return nil
}

// ==================== Token Store ====================

func (s *Store) SaveToken(ctx context.Context, t *payment.Token) error {
	if t.Primary {
		_, err := s.sdb.NewUpdate((*tokenModel)(nil)).
			Set("is_primary = ?", false).
			Where("account_id = ?", t.AccountID).
			Where("NOT (provider = ? AND token = ?)", t.Provider, t.Token).
			Exec(ctx)
		if err != nil {
			return err
		}
	}

	_, err := s.sdb.NewInsert(toTokenModel(t)).
		OnConflict("(account_id, provider, token) DO UPDATE").
		Set("customer_ref = EXCLUDED.customer_ref").
		Set("last4 = EXCLUDED.last4").
		Set("brand = EXCLUDED.brand").
		Set("exp_month = EXCLUDED.exp_month").
		Set("exp_year = EXCLUDED.exp_year").
		Set("is_primary = EXCLUDED.is_primary").
		Set("active = EXCLUDED.active").
		Set("last_used_at = EXCLUDED.last_used_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return err
	}

	// An upsert keeps the original row identity; reflect it back.
	m := new(tokenModel)
	err = s.sdb.NewSelect(m).
		Where("account_id = ?", t.AccountID).
		Where("provider = ?", t.Provider).
		Where("token = ?", t.Token).
		Scan(ctx)
	if err != nil {
		return err
	}
	stored, err := fromTokenModel(m)
	if err != nil {
		return err
	}
	t.ID = stored.ID
	t.CreatedAt = stored.CreatedAt
	return nil
}

func (s *Store) GetPrimaryToken(ctx context.Context, accountID string) (*payment.Token, error) {
	m := new(tokenModel)
	err := s.sdb.NewSelect(m).
		Where("account_id = ?", accountID).
		Where("is_primary AND active").
		OrderExpr("updated_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrTokenNotFound
		}
		return nil, err
	}
	return fromTokenModel(m)
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	c.Code = coupon.NormalizeCode(c.Code)
	_, err := s.sdb.NewInsert(toCouponModel(c)).Exec(ctx)
	if isUniqueViolation(err, "") {
		return billing.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetCoupon(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", couponID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrCouponNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	m := new(couponModel)
	err := s.sdb.NewSelect(m).
		Where("code = ?", coupon.NormalizeCode(code)).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, billing.ErrCouponNotFound
		}
		return nil, err
	}
	return fromCouponModel(m)
}

func (s *Store) ListCoupons(ctx context.Context, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	var models []couponModel
	q := s.sdb.NewSelect(&models)
	if opts.ActiveOnly {
		q = q.Where("active = ?", true)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("code ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*coupon.Coupon, len(models))
	for i := range models {
		c, err := fromCouponModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

// UpdateCoupon rewrites the coupon definition. current_uses is owned by
// RedeemCoupon and ReleaseCoupon and is left untouched.
func (s *Store) UpdateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m := toCouponModel(c)
	res, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("code = ?", coupon.NormalizeCode(m.Code)).
		Set("type = ?", m.Type).
		Set("value = ?", m.Value).
		Set("value_type = ?", m.ValueType).
		Set("max_discount_amount = ?", m.MaxDiscountAmount).
		Set("max_discount_currency = ?", m.MaxDiscountCurrency).
		Set("applicable_plans = ?", m.ApplicablePlans).
		Set("first_time_only = ?", m.FirstTimeOnly).
		Set("max_uses = ?", m.MaxUses).
		Set("starts_at = ?", m.StartsAt).
		Set("expires_at = ?", m.ExpiresAt).
		Set("active = ?", m.Active).
		Set("description = ?", m.Description).
		Set("metadata = ?", m.Metadata).
		Set("updated_at = ?", m.UpdatedAt).
		Where("id = ?", m.ID).
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err, "billing_coupons.code") {
			return billing.ErrAlreadyExists
		}
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return billing.ErrCouponNotFound
	}
	return nil
}

// RedeemCoupon claims the (coupon, account) usage row first, then takes a
// slot from the usage counter. Losing the counter race gives the row back.
func (s *Store) RedeemCoupon(ctx context.Context, u *coupon.Usage) error {
	if _, err := s.GetCoupon(ctx, u.CouponID); err != nil {
		return err
	}
	_, err := s.sdb.NewInsert(toCouponUsageModel(u)).Exec(ctx)
	switch {
	case err == nil:
	case isUniqueViolation(err, "billing_coupon_usages.coupon_id"):
		return billing.ErrCouponAlreadyUsed
	default:
		return err
	}

	res, err := s.sdb.NewUpdate((*couponModel)(nil)).
		Set("current_uses = current_uses + 1").
		Set("updated_at = ?", u.CreatedAt).
		Where("id = ?", u.CouponID.String()).
		Where("(max_uses IS NULL OR current_uses < max_uses)").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		if err := s.deleteUsage(ctx, u.CouponID, u.AccountID); err != nil {
			return err
		}
		return billing.ErrCouponExhausted
	}
	return nil
}

func (s *Store) ReleaseCoupon(ctx context.Context, couponID id.CouponID, accountID string) error {
	res, err := s.sdb.NewDelete((*couponUsageModel)(nil)).
		Where("coupon_id = ?", couponID.String()).
		Where("account_id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return nil
	}
	_, err = s.sdb.NewUpdate((*couponModel)(nil)).
		Set("current_uses = current_uses - 1").
		Where("id = ?", couponID.String()).
		Where("current_uses > 0").
		Exec(ctx)
	return err
}

func (s *Store) HasCouponUsage(ctx context.Context, couponID id.CouponID, accountID string) (bool, error) {
	var found bool
	err := s.sdb.NewRaw(`
		SELECT EXISTS (SELECT 1 FROM billing_coupon_usages WHERE coupon_id = ? AND account_id = ?)
	`, couponID.String(), accountID).Scan(ctx, &found)
	if err != nil {
		return false, err
	}
	return found, nil
}

func (s *Store) deleteUsage(ctx context.Context, couponID id.CouponID, accountID string) error {
	_, err := s.sdb.NewDelete((*couponUsageModel)(nil)).
		Where("coupon_id = ?", couponID.String()).
		Where("account_id = ?", accountID).
		Exec(ctx)
	return err
}

// ==================== Callback Store ====================

func (s *Store) CreateCallback(ctx context.Context, e *callback.Entry) error {
	_, err := s.sdb.NewInsert(toCallbackModel(e)).Exec(ctx)
	if isUniqueViolation(err, "") {
		return billing.ErrAlreadyExists
	}
	return err
}

func (s *Store) UpdateCallback(ctx context.Context, e *callback.Entry) error {
	res, err := s.sdb.NewUpdate(toCallbackModel(e)).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (s *Store) ListCallbacks(ctx context.Context, opts callback.ListOpts) ([]*callback.Entry, error) {
	var models []callbackModel
	q := s.sdb.NewSelect(&models)

	if opts.Reference != "" {
		q = q.Where("reference = ?", opts.Reference)
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*callback.Entry, len(models))
	for i := range models {
		e, err := fromCallbackModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}
