package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/billing"
	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	billingstore "github.com/xraph/billing/store"
	"github.com/xraph/billing/subscription"
)

// Collection name constants.
const (
	colPlans         = "billing_plans"
	colSubscriptions = "billing_subscriptions"
	colTransactions  = "billing_transactions"
	colTokens        = "billing_payment_tokens"
	colCoupons       = "billing_coupons"
	colCouponUsages  = "billing_coupon_usages"
	colCallbacks     = "billing_callbacks"
)

// Unique index names, matched against duplicate key errors.
const (
	idxTransactionReference  = "uniq_transaction_reference"
	idxTransactionExternalID = "uniq_transaction_external_id"
)

// compile-time interface check
var _ billingstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
//
// Single-document updates are atomic in MongoDB, so each guarded transition
// is expressed as a filtered update: the filter carries the precondition and
// MatchedCount tells whether this writer won.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all billing collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("billing/mongo: migrate %s indexes: %w: %w", col, billing.ErrMigrationFailed, err)
		}
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
	m := toPlanModel(p)
	m.Name = strings.ToLower(m.Name)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanByName(ctx context.Context, name string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"name": strings.ToLower(name)}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrPlanNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get plan by name: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "name", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("billing/mongo: list plans: %w", err)
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
	m := toPlanModel(p)
	m.Name = strings.ToLower(m.Name)

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrPlanNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if sub.Version == 0 {
		sub.Version = 1
	}
	_, err := s.mdb.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"_id": subID.String()})
}

func (s *Store) GetSubscriptionByAccount(ctx context.Context, accountID string) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.M{"account_id": accountID})
}

func (s *Store) findSubscription(ctx context.Context, filter bson.M) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

// UpdateSubscription replaces the document only while its version still
// equals sub.Version, then advances sub.Version.
func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)

	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{"_id": m.ID, "version": m.Version}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"plan_id":              m.PlanID,
				"status":               m.Status,
				"trial_ends_at":        m.TrialEndsAt,
				"current_period_start": m.CurrentPeriodStart,
				"current_period_end":   m.CurrentPeriodEnd,
				"next_payment_date":    m.NextPaymentDate,
				"cancel_at_period_end": m.CancelAtPeriodEnd,
				"cancelled_at":         m.CancelledAt,
				"cancellation_reason":  m.CancellationReason,
				"ended_at":             m.EndedAt,
				"failed_payment_count": m.FailedPaymentCount,
				"last_payment_id":      m.LastPaymentID,
				"last_payment_at":      m.LastPaymentAt,
				"coupon_id":            m.CouponID,
				"metadata":             m.Metadata,
				"updated_at":           m.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
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

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("billing/mongo: list subscriptions: %w", err)
	}
	return fromSubscriptionModels(models)
}

func (s *Store) ListExpiredTrials(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(ctx, "trial_ends_at", limit, bson.M{
		"status":        string(subscription.StatusTrial),
		"trial_ends_at": bson.M{"$lt": before},
	})
}

func (s *Store) ListEndedCancellations(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(ctx, "current_period_end", limit, bson.M{
		"status":               string(subscription.StatusCancelled),
		"cancel_at_period_end": true,
		"current_period_end":   bson.M{"$lte": before},
	})
}

func (s *Store) ListDueRenewals(ctx context.Context, before time.Time, limit int) ([]*subscription.Subscription, error) {
	return s.listDue(ctx, "next_payment_date", limit, bson.M{
		"status": bson.M{"$in": bson.A{
			string(subscription.StatusActive),
			string(subscription.StatusPastDue),
		}},
		"next_payment_date": bson.M{"$lte": before},
	})
}

func (s *Store) listDue(ctx context.Context, sortKey string, limit int, filter bson.M) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: sortKey, Value: 1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("billing/mongo: list due subscriptions: %w", err)
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
	_, err := s.mdb.NewInsert(toTransactionModel(t)).Exec(ctx)
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		switch msg := err.Error(); {
		case strings.Contains(msg, idxTransactionReference):
			return billing.ErrDuplicateReference
		case strings.Contains(msg, idxTransactionExternalID):
			return billing.ErrDuplicateExternalID
		default:
			return billing.ErrAlreadyExists
		}
	}
	return fmt.Errorf("billing/mongo: create transaction: %w", err)
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*payment.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"_id": txnID.String()})
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*payment.Transaction, error) {
	return s.findTransaction(ctx, bson.M{"reference": reference})
}

func (s *Store) findTransaction(ctx context.Context, filter bson.M) (*payment.Transaction, error) {
	var m transactionModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get transaction: %w", err)
	}
	return fromTransactionModel(&m)
}

func (s *Store) CompleteTransaction(ctx context.Context, txnID id.TransactionID, outcome payment.Outcome) (bool, error) {
	q := s.mdb.NewUpdate((*transactionModel)(nil)).
		Filter(bson.M{"_id": txnID.String(), "status": string(payment.StatusPending)}).
		Set("status", string(outcome.Status)).
		Set("failure_reason", outcome.FailureReason).
		Set("completed_at", outcome.At).
		Set("updated_at", outcome.At)
	if outcome.ExternalID != "" {
		q = q.Set("external_id", outcome.ExternalID)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, billing.ErrDuplicateExternalID
		}
		return false, fmt.Errorf("billing/mongo: complete transaction: %w", err)
	}
	if res.MatchedCount() == 0 {
		if _, err := s.GetTransaction(ctx, txnID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID string, opts payment.ListOpts) ([]*payment.Transaction, error) {
	var models []transactionModel

	filter := bson.M{"account_id": accountID}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("billing/mongo: list transactions: %w", err)
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
	filter := bson.M{
		"account_id": accountID,
		"kind":       string(payment.KindCharge),
		"status": bson.M{"$in": bson.A{
			string(payment.StatusCompleted),
			string(payment.StatusRefunded),
		}},
	}
	if len(contexts) > 0 {
		in := make(bson.A, len(contexts))
		for i, c := range contexts {
			in[i] = string(c)
		}
		filter["context"] = bson.M{"$in": in}
	}

	n, err := s.mdb.Collection(colTransactions).CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("billing/mongo: has completed charge: %w", err)
	}
	return n > 0, nil
}

// ReserveRefund raises refunded_amount with an update pipeline whose filter
// requires enough remaining balance, so racing refunds cannot over-refund.
func (s *Store) ReserveRefund(ctx context.Context, originalID id.TransactionID, amount int64, at time.Time) (*payment.Transaction, error) {
	if amount > 0 {
		filter := bson.M{
			"_id":  originalID.String(),
			"kind": string(payment.KindCharge),
			"status": bson.M{"$in": bson.A{
				string(payment.StatusCompleted),
				string(payment.StatusRefunded),
			}},
			"$expr": bson.M{"$gte": bson.A{
				bson.M{"$subtract": bson.A{"$amount", "$refunded_amount"}},
				amount,
			}},
		}
		newTotal := bson.M{"$add": bson.A{"$refunded_amount", amount}}
		update := mongo.Pipeline{
			{{Key: "$set", Value: bson.M{
				"refunded_amount": newTotal,
				"status": bson.M{"$cond": bson.A{
					bson.M{"$eq": bson.A{newTotal, "$amount"}},
					string(payment.StatusRefunded),
					"$status",
				}},
				"updated_at": at,
			}}},
		}

		res, err := s.mdb.Collection(colTransactions).UpdateOne(ctx, filter, update)
		if err != nil {
			return nil, fmt.Errorf("billing/mongo: reserve refund: %w", err)
		}
		if res.MatchedCount == 1 {
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
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"refunded_amount": bson.M{"$max": bson.A{
				bson.M{"$subtract": bson.A{"$refunded_amount", amount}},
				0,
			}},
			"status": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", string(payment.StatusRefunded)}},
				string(payment.StatusCompleted),
				"$status",
			}},
			"updated_at": at,
		}}},
	}

	res, err := s.mdb.Collection(colTransactions).UpdateOne(ctx, bson.M{"_id": originalID.String()}, update)
	if err != nil {
		return fmt.Errorf("billing/mongo: release refund: %w", err)
	}
	if res.MatchedCount == 0 {
		return billing.ErrTransactionNotFound
	}
	return nil
}

// ==================== Token Store ====================

func (s *Store) SaveToken(ctx context.Context, t *payment.Token) error {
	m := toTokenModel(t)
	key := bson.M{"account_id": m.AccountID, "provider": m.Provider, "token": m.Token}

	if m.IsPrimary {
		_, err := s.mdb.Collection(colTokens).UpdateMany(ctx,
			bson.M{"account_id": m.AccountID, "$nor": bson.A{bson.M{"provider": m.Provider, "token": m.Token}}},
			bson.M{"$set": bson.M{"is_primary": false}},
		)
		if err != nil {
			return fmt.Errorf("billing/mongo: demote tokens: %w", err)
		}
	}

	_, err := s.mdb.NewUpdate(m).
		Filter(key).
		SetUpdate(bson.M{
			"$set": bson.M{
				"customer_ref": m.CustomerRef,
				"last4":        m.Last4,
				"brand":        m.Brand,
				"exp_month":    m.ExpMonth,
				"exp_year":     m.ExpYear,
				"is_primary":   m.IsPrimary,
				"active":       m.Active,
				"last_used_at": m.LastUsedAt,
				"updated_at":   m.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        m.ID,
				"created_at": m.CreatedAt,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: save token: %w", err)
	}

	var stored tokenModel
	if err := s.mdb.NewFind(&stored).Filter(key).Scan(ctx); err != nil {
		return fmt.Errorf("billing/mongo: reload token: %w", err)
	}
	tok, err := fromTokenModel(&stored)
	if err != nil {
		return err
	}
	t.ID = tok.ID
	t.CreatedAt = tok.CreatedAt
	return nil
}

func (s *Store) GetPrimaryToken(ctx context.Context, accountID string) (*payment.Token, error) {
	var m tokenModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"account_id": accountID, "is_primary": true, "active": true}).
		Sort(bson.D{{Key: "updated_at", Value: -1}}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrTokenNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get primary token: %w", err)
	}
	return fromTokenModel(&m)
}

// ==================== Coupon Store ====================

func (s *Store) CreateCoupon(ctx context.Context, c *coupon.Coupon) error {
	c.Code = coupon.NormalizeCode(c.Code)
	_, err := s.mdb.NewInsert(toCouponModel(c)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: create coupon: %w", err)
	}
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	return s.findCoupon(ctx, bson.M{"_id": couponID.String()})
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	return s.findCoupon(ctx, bson.M{"code": coupon.NormalizeCode(code)})
}

func (s *Store) findCoupon(ctx context.Context, filter bson.M) (*coupon.Coupon, error) {
	var m couponModel
	err := s.mdb.NewFind(&m).
		Filter(filter).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, billing.ErrCouponNotFound
		}
		return nil, fmt.Errorf("billing/mongo: get coupon: %w", err)
	}
	return fromCouponModel(&m)
}

func (s *Store) ListCoupons(ctx context.Context, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	var models []couponModel

	filter := bson.M{}
	if opts.ActiveOnly {
		filter["active"] = true
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "code", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("billing/mongo: list coupons: %w", err)
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

// UpdateCoupon rewrites the coupon definition but never current_uses,
// which belongs to RedeemCoupon and ReleaseCoupon.
func (s *Store) UpdateCoupon(ctx context.Context, c *coupon.Coupon) error {
	m := toCouponModel(c)

	res, err := s.mdb.NewUpdate((*couponModel)(nil)).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": bson.M{
			"code":                  coupon.NormalizeCode(m.Code),
			"type":                  m.Type,
			"value":                 m.Value,
			"value_type":            m.ValueType,
			"max_discount_amount":   m.MaxDiscountAmount,
			"max_discount_currency": m.MaxDiscountCurrency,
			"applicable_plans":      m.ApplicablePlans,
			"first_time_only":       m.FirstTimeOnly,
			"max_uses":              m.MaxUses,
			"starts_at":             m.StartsAt,
			"expires_at":            m.ExpiresAt,
			"active":                m.Active,
			"description":           m.Description,
			"metadata":              m.Metadata,
			"updated_at":            m.UpdatedAt,
		}}).
		Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: update coupon: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrCouponNotFound
	}
	return nil
}

func (s *Store) RedeemCoupon(ctx context.Context, u *coupon.Usage) error {
	if _, err := s.GetCoupon(ctx, u.CouponID); err != nil {
		return err
	}

	_, err := s.mdb.NewInsert(toCouponUsageModel(u)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrCouponAlreadyUsed
		}
		return fmt.Errorf("billing/mongo: redeem coupon: %w", err)
	}

	res, err := s.mdb.Collection(colCoupons).UpdateOne(ctx,
		bson.M{
			"_id": u.CouponID.String(),
			"$or": bson.A{
				bson.M{"max_uses": nil},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$current_uses", "$max_uses"}}},
			},
		},
		bson.M{
			"$inc": bson.M{"current_uses": 1},
			"$set": bson.M{"updated_at": u.CreatedAt},
		},
	)
	if err != nil {
		return fmt.Errorf("billing/mongo: count coupon use: %w", err)
	}
	if res.MatchedCount == 0 {
		if err := s.deleteUsage(ctx, u.CouponID, u.AccountID); err != nil {
			return err
		}
		return billing.ErrCouponExhausted
	}
	return nil
}

func (s *Store) ReleaseCoupon(ctx context.Context, couponID id.CouponID, accountID string) error {
	res, err := s.mdb.NewDelete((*couponUsageModel)(nil)).
		Filter(bson.M{"coupon_id": couponID.String(), "account_id": accountID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: release coupon: %w", err)
	}
	if res.DeletedCount() == 0 {
		return nil
	}
	_, err = s.mdb.Collection(colCoupons).UpdateOne(ctx,
		bson.M{"_id": couponID.String(), "current_uses": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"current_uses": -1}},
	)
	if err != nil {
		return fmt.Errorf("billing/mongo: release coupon: %w", err)
	}
	return nil
}

func (s *Store) HasCouponUsage(ctx context.Context, couponID id.CouponID, accountID string) (bool, error) {
	n, err := s.mdb.Collection(colCouponUsages).CountDocuments(ctx,
		bson.M{"coupon_id": couponID.String(), "account_id": accountID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("billing/mongo: has coupon usage: %w", err)
	}
	return n > 0, nil
}

func (s *Store) deleteUsage(ctx context.Context, couponID id.CouponID, accountID string) error {
	_, err := s.mdb.NewDelete((*couponUsageModel)(nil)).
		Filter(bson.M{"coupon_id": couponID.String(), "account_id": accountID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: delete coupon usage: %w", err)
	}
	return nil
}

// ==================== Callback Store ====================

func (s *Store) CreateCallback(ctx context.Context, e *callback.Entry) error {
	_, err := s.mdb.NewInsert(toCallbackModel(e)).Exec(ctx)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return billing.ErrAlreadyExists
		}
		return fmt.Errorf("billing/mongo: create callback: %w", err)
	}
	return nil
}

func (s *Store) UpdateCallback(ctx context.Context, e *callback.Entry) error {
	m := toCallbackModel(e)
	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("billing/mongo: update callback: %w", err)
	}
	if res.MatchedCount() == 0 {
		return billing.ErrNotFound
	}
	return nil
}

func (s *Store) ListCallbacks(ctx context.Context, opts callback.ListOpts) ([]*callback.Entry, error) {
	var models []callbackModel

	filter := bson.M{}
	if opts.Reference != "" {
		filter["reference"] = opts.Reference
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("billing/mongo: list callbacks: %w", err)
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

// ==================== Helpers ====================

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all billing collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSubscriptions: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "trial_ends_at", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "current_period_end", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_payment_date", Value: 1}}},
		},
		colTransactions: {
			{
				Keys:    bson.D{{Key: "reference", Value: 1}},
				Options: options.Index().SetUnique(true).SetName(idxTransactionReference),
			},
			{
				Keys: bson.D{{Key: "external_id", Value: 1}},
				Options: options.Index().
					SetUnique(true).
					SetName(idxTransactionExternalID).
					SetPartialFilterExpression(bson.M{"external_id": bson.M{"$gt": ""}}),
			},
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colTokens: {
			{
				Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "provider", Value: 1}, {Key: "token", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colCoupons: {
			{
				Keys:    bson.D{{Key: "code", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colCouponUsages: {
			{
				Keys:    bson.D{{Key: "coupon_id", Value: 1}, {Key: "account_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colCallbacks: {
			{Keys: bson.D{{Key: "reference", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		},
	}
}
