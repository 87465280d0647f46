package mongo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xraph/grove"

	"github.com/xraph/billing/callback"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:billing_plans"`

	ID              string            `grove:"id,pk" bson:"_id"`
	Name            string            `grove:"name" bson:"name"`
	DisplayName     string            `grove:"display_name" bson:"display_name"`
	Description     string            `grove:"description" bson:"description"`
	PriceAmount     int64             `grove:"price_amount" bson:"price_amount"`
	Currency        string            `grove:"currency" bson:"currency"`
	TaxPercent      string            `grove:"tax_percent" bson:"tax_percent"`
	PeriodDays      int               `grove:"period_days" bson:"period_days"`
	CheckoutEnabled bool              `grove:"checkout_enabled" bson:"checkout_enabled"`
	Active          bool              `grove:"active" bson:"active"`
	Metadata        map[string]string `grove:"metadata" bson:"metadata"`
	CreatedAt       time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at" bson:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	return &planModel{
		ID:              p.ID.String(),
		Name:            p.Name,
		DisplayName:     p.DisplayName,
		Description:     p.Description,
		PriceAmount:     p.Price.Amount,
		Currency:        p.Price.Currency,
		TaxPercent:      p.TaxPercent.String(),
		PeriodDays:      p.PeriodDays,
		CheckoutEnabled: p.CheckoutEnabled,
		Active:          p.Active,
		Metadata:        p.Metadata,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	taxPercent, err := decimal.NewFromString(m.TaxPercent)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: plan %s tax_percent: %w", m.ID, err)
	}
	return &plan.Plan{
		Entity:          types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              planID,
		Name:            m.Name,
		DisplayName:     m.DisplayName,
		Description:     m.Description,
		Price:           types.New(m.PriceAmount, m.Currency),
		TaxPercent:      taxPercent,
		PeriodDays:      m.PeriodDays,
		CheckoutEnabled: m.CheckoutEnabled,
		Active:          m.Active,
		Metadata:        m.Metadata,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:billing_subscriptions"`

	ID                 string            `grove:"id,pk" bson:"_id"`
	AccountID          string            `grove:"account_id" bson:"account_id"`
	PlanID             string            `grove:"plan_id" bson:"plan_id"`
	Status             string            `grove:"status" bson:"status"`
	TrialEndsAt        *time.Time        `grove:"trial_ends_at" bson:"trial_ends_at"`
	CurrentPeriodStart *time.Time        `grove:"current_period_start" bson:"current_period_start"`
	CurrentPeriodEnd   *time.Time        `grove:"current_period_end" bson:"current_period_end"`
	NextPaymentDate    *time.Time        `grove:"next_payment_date" bson:"next_payment_date"`
	CancelAtPeriodEnd  bool              `grove:"cancel_at_period_end" bson:"cancel_at_period_end"`
	CancelledAt        *time.Time        `grove:"cancelled_at" bson:"cancelled_at"`
	CancellationReason string            `grove:"cancellation_reason" bson:"cancellation_reason"`
	EndedAt            *time.Time        `grove:"ended_at" bson:"ended_at"`
	FailedPaymentCount int               `grove:"failed_payment_count" bson:"failed_payment_count"`
	LastPaymentID      string            `grove:"last_payment_id" bson:"last_payment_id"`
	LastPaymentAt      *time.Time        `grove:"last_payment_at" bson:"last_payment_at"`
	CouponID           string            `grove:"coupon_id" bson:"coupon_id"`
	Version            int64             `grove:"version" bson:"version"`
	Metadata           map[string]string `grove:"metadata" bson:"metadata"`
	CreatedAt          time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt          time.Time         `grove:"updated_at" bson:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                 s.ID.String(),
		AccountID:          s.AccountID,
		PlanID:             s.PlanID.String(),
		Status:             string(s.Status),
		TrialEndsAt:        s.TrialEndsAt,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		NextPaymentDate:    s.NextPaymentDate,
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CancelledAt:        s.CancelledAt,
		CancellationReason: s.CancellationReason,
		EndedAt:            s.EndedAt,
		FailedPaymentCount: s.FailedPaymentCount,
		LastPaymentID:      s.LastPaymentID.String(),
		LastPaymentAt:      s.LastPaymentAt,
		CouponID:           s.CouponID.String(),
		Version:            s.Version,
		Metadata:           s.Metadata,
		CreatedAt:          s.CreatedAt,
		UpdatedAt:          s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParseOptional(m.PlanID, id.PrefixPlan)
	if err != nil {
		return nil, err
	}
	couponID, err := id.ParseOptional(m.CouponID, id.PrefixCoupon)
	if err != nil {
		return nil, err
	}
	lastPaymentID, err := id.ParseOptional(m.LastPaymentID, id.PrefixTransaction)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		Entity:             types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:                 subID,
		AccountID:          m.AccountID,
		PlanID:             planID,
		Status:             subscription.Status(m.Status),
		TrialEndsAt:        m.TrialEndsAt,
		CurrentPeriodStart: m.CurrentPeriodStart,
		CurrentPeriodEnd:   m.CurrentPeriodEnd,
		NextPaymentDate:    m.NextPaymentDate,
		CancelAtPeriodEnd:  m.CancelAtPeriodEnd,
		CancelledAt:        m.CancelledAt,
		CancellationReason: m.CancellationReason,
		EndedAt:            m.EndedAt,
		FailedPaymentCount: m.FailedPaymentCount,
		LastPaymentID:      lastPaymentID,
		LastPaymentAt:      m.LastPaymentAt,
		CouponID:           couponID,
		Version:            m.Version,
		Metadata:           m.Metadata,
	}, nil
}

// ==================== Transaction models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:billing_transactions"`

	ID             string            `grove:"id,pk" bson:"_id"`
	AccountID      string            `grove:"account_id" bson:"account_id"`
	Provider       string            `grove:"provider" bson:"provider"`
	Reference      string            `grove:"reference" bson:"reference"`
	ExternalID     string            `grove:"external_id" bson:"external_id"`
	Amount         int64             `grove:"amount" bson:"amount"`
	Currency       string            `grove:"currency" bson:"currency"`
	Kind           string            `grove:"kind" bson:"kind"`
	Status         string            `grove:"status" bson:"status"`
	Context        string            `grove:"context" bson:"context"`
	ContextID      string            `grove:"context_id" bson:"context_id"`
	PlanID         string            `grove:"plan_id" bson:"plan_id"`
	CouponID       string            `grove:"coupon_id" bson:"coupon_id"`
	OriginalID     string            `grove:"original_id" bson:"original_id"`
	RefundedAmount int64             `grove:"refunded_amount" bson:"refunded_amount"`
	FailureReason  string            `grove:"failure_reason" bson:"failure_reason"`
	Description    string            `grove:"description" bson:"description"`
	Metadata       map[string]string `grove:"metadata" bson:"metadata"`
	CompletedAt    *time.Time        `grove:"completed_at" bson:"completed_at"`
	CreatedAt      time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at" bson:"updated_at"`
}

func toTransactionModel(t *payment.Transaction) *transactionModel {
	return &transactionModel{
		ID:             t.ID.String(),
		AccountID:      t.AccountID,
		Provider:       t.Provider,
		Reference:      t.Reference,
		ExternalID:     t.ExternalID,
		Amount:         t.Amount.Amount,
		Currency:       t.Amount.Currency,
		Kind:           string(t.Kind),
		Status:         string(t.Status),
		Context:        string(t.Context),
		ContextID:      t.ContextID,
		PlanID:         t.PlanID.String(),
		CouponID:       t.CouponID.String(),
		OriginalID:     t.OriginalID.String(),
		RefundedAmount: t.RefundedAmount,
		FailureReason:  t.FailureReason,
		Description:    t.Description,
		Metadata:       t.Metadata,
		CompletedAt:    t.CompletedAt,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*payment.Transaction, error) {
	txnID, err := id.ParseTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParseOptional(m.PlanID, id.PrefixPlan)
	if err != nil {
		return nil, err
	}
	couponID, err := id.ParseOptional(m.CouponID, id.PrefixCoupon)
	if err != nil {
		return nil, err
	}
	originalID, err := id.ParseOptional(m.OriginalID, id.PrefixTransaction)
	if err != nil {
		return nil, err
	}
	return &payment.Transaction{
		Entity:         types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             txnID,
		AccountID:      m.AccountID,
		Provider:       m.Provider,
		Reference:      m.Reference,
		ExternalID:     m.ExternalID,
		Amount:         types.New(m.Amount, m.Currency),
		Kind:           payment.Kind(m.Kind),
		Status:         payment.Status(m.Status),
		Context:        payment.Context(m.Context),
		ContextID:      m.ContextID,
		PlanID:         planID,
		CouponID:       couponID,
		OriginalID:     originalID,
		RefundedAmount: m.RefundedAmount,
		FailureReason:  m.FailureReason,
		Description:    m.Description,
		Metadata:       m.Metadata,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// ==================== Token models ====================

type tokenModel struct {
	grove.BaseModel `grove:"table:billing_payment_tokens"`

	ID          string     `grove:"id,pk" bson:"_id"`
	AccountID   string     `grove:"account_id" bson:"account_id"`
	Provider    string     `grove:"provider" bson:"provider"`
	Token       string     `grove:"token" bson:"token"`
	CustomerRef string     `grove:"customer_ref" bson:"customer_ref"`
	Last4       string     `grove:"last4" bson:"last4"`
	Brand       string     `grove:"brand" bson:"brand"`
	ExpMonth    int        `grove:"exp_month" bson:"exp_month"`
	ExpYear     int        `grove:"exp_year" bson:"exp_year"`
	IsPrimary   bool       `grove:"is_primary" bson:"is_primary"`
	Active      bool       `grove:"active" bson:"active"`
	LastUsedAt  *time.Time `grove:"last_used_at" bson:"last_used_at"`
	CreatedAt   time.Time  `grove:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at" bson:"updated_at"`
}

func toTokenModel(t *payment.Token) *tokenModel {
	return &tokenModel{
		ID:          t.ID.String(),
		AccountID:   t.AccountID,
		Provider:    t.Provider,
		Token:       t.Token,
		CustomerRef: t.CustomerRef,
		Last4:       t.Last4,
		Brand:       t.Brand,
		ExpMonth:    t.ExpMonth,
		ExpYear:     t.ExpYear,
		IsPrimary:   t.Primary,
		Active:      t.Active,
		LastUsedAt:  t.LastUsedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func fromTokenModel(m *tokenModel) (*payment.Token, error) {
	tokID, err := id.ParseTokenID(m.ID)
	if err != nil {
		return nil, err
	}
	return &payment.Token{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          tokID,
		AccountID:   m.AccountID,
		Provider:    m.Provider,
		Token:       m.Token,
		CustomerRef: m.CustomerRef,
		Last4:       m.Last4,
		Brand:       m.Brand,
		ExpMonth:    m.ExpMonth,
		ExpYear:     m.ExpYear,
		Primary:     m.IsPrimary,
		Active:      m.Active,
		LastUsedAt:  m.LastUsedAt,
	}, nil
}

// ==================== Coupon models ====================

type couponModel struct {
	grove.BaseModel `grove:"table:billing_coupons"`

	ID                  string            `grove:"id,pk" bson:"_id"`
	Code                string            `grove:"code" bson:"code"`
	Type                string            `grove:"type" bson:"type"`
	Value               string            `grove:"value" bson:"value"`
	ValueType           string            `grove:"value_type" bson:"value_type"`
	MaxDiscountAmount   *int64            `grove:"max_discount_amount" bson:"max_discount_amount"`
	MaxDiscountCurrency string            `grove:"max_discount_currency" bson:"max_discount_currency"`
	ApplicablePlans     []string          `grove:"applicable_plans" bson:"applicable_plans"`
	FirstTimeOnly       bool              `grove:"first_time_only" bson:"first_time_only"`
	MaxUses             *int              `grove:"max_uses" bson:"max_uses"`
	CurrentUses         int               `grove:"current_uses" bson:"current_uses"`
	StartsAt            *time.Time        `grove:"starts_at" bson:"starts_at"`
	ExpiresAt           *time.Time        `grove:"expires_at" bson:"expires_at"`
	Active              bool              `grove:"active" bson:"active"`
	Description         string            `grove:"description" bson:"description"`
	Metadata            map[string]string `grove:"metadata" bson:"metadata"`
	CreatedAt           time.Time         `grove:"created_at" bson:"created_at"`
	UpdatedAt           time.Time         `grove:"updated_at" bson:"updated_at"`
}

func toCouponModel(c *coupon.Coupon) *couponModel {
	m := &couponModel{
		ID:              c.ID.String(),
		Code:            c.Code,
		Type:            string(c.Type),
		Value:           c.Value.String(),
		ValueType:       string(c.ValueType),
		ApplicablePlans: c.ApplicablePlans,
		FirstTimeOnly:   c.FirstTimeOnly,
		MaxUses:         c.MaxUses,
		CurrentUses:     c.CurrentUses,
		StartsAt:        c.StartsAt,
		ExpiresAt:       c.ExpiresAt,
		Active:          c.Active,
		Description:     c.Description,
		Metadata:        c.Metadata,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
	if c.MaxDiscount != nil {
		amount := c.MaxDiscount.Amount
		m.MaxDiscountAmount = &amount
		m.MaxDiscountCurrency = c.MaxDiscount.Currency
	}
	return m
}

func fromCouponModel(m *couponModel) (*coupon.Coupon, error) {
	couponID, err := id.ParseCouponID(m.ID)
	if err != nil {
		return nil, err
	}
	value, err := decimal.NewFromString(m.Value)
	if err != nil {
		return nil, fmt.Errorf("billing/mongo: coupon %s value: %w", m.ID, err)
	}
	c := &coupon.Coupon{
		Entity:          types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:              couponID,
		Code:            m.Code,
		Type:            coupon.Type(m.Type),
		Value:           value,
		ValueType:       coupon.ValueType(m.ValueType),
		ApplicablePlans: m.ApplicablePlans,
		FirstTimeOnly:   m.FirstTimeOnly,
		MaxUses:         m.MaxUses,
		CurrentUses:     m.CurrentUses,
		StartsAt:        m.StartsAt,
		ExpiresAt:       m.ExpiresAt,
		Active:          m.Active,
		Description:     m.Description,
		Metadata:        m.Metadata,
	}
	if m.MaxDiscountAmount != nil {
		limit := types.New(*m.MaxDiscountAmount, m.MaxDiscountCurrency)
		c.MaxDiscount = &limit
	}
	return c, nil
}

type couponUsageModel struct {
	grove.BaseModel `grove:"table:billing_coupon_usages"`

	ID             string    `grove:"id,pk" bson:"_id"`
	CouponID       string    `grove:"coupon_id" bson:"coupon_id"`
	AccountID      string    `grove:"account_id" bson:"account_id"`
	SubscriptionID string    `grove:"subscription_id" bson:"subscription_id"`
	TransactionID  string    `grove:"transaction_id" bson:"transaction_id"`
	SavingsAmount  int64     `grove:"savings_amount" bson:"savings_amount"`
	Currency       string    `grove:"currency" bson:"currency"`
	CreatedAt      time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at" bson:"updated_at"`
}

func toCouponUsageModel(u *coupon.Usage) *couponUsageModel {
	return &couponUsageModel{
		ID:             u.ID.String(),
		CouponID:       u.CouponID.String(),
		AccountID:      u.AccountID,
		SubscriptionID: u.SubscriptionID.String(),
		TransactionID:  u.TransactionID.String(),
		SavingsAmount:  u.Savings.Amount,
		Currency:       u.Savings.Currency,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

// ==================== Callback models ====================

type callbackModel struct {
	grove.BaseModel `grove:"table:billing_callbacks"`

	ID          string     `grove:"id,pk" bson:"_id"`
	Provider    string     `grove:"provider" bson:"provider"`
	Reference   string     `grove:"reference" bson:"reference"`
	ProviderRef string     `grove:"provider_ref" bson:"provider_ref"`
	Payload     []byte     `grove:"payload" bson:"payload"`
	Status      string     `grove:"status" bson:"status"`
	Error       string     `grove:"error" bson:"error"`
	ProcessedAt *time.Time `grove:"processed_at" bson:"processed_at"`
	CreatedAt   time.Time  `grove:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at" bson:"updated_at"`
}

func toCallbackModel(e *callback.Entry) *callbackModel {
	return &callbackModel{
		ID:          e.ID.String(),
		Provider:    e.Provider,
		Reference:   e.Reference,
		ProviderRef: e.ProviderRef,
		Payload:     e.Payload,
		Status:      string(e.Status),
		Error:       e.Error,
		ProcessedAt: e.ProcessedAt,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromCallbackModel(m *callbackModel) (*callback.Entry, error) {
	cbID, err := id.ParseCallbackID(m.ID)
	if err != nil {
		return nil, err
	}
	return &callback.Entry{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          cbID,
		Provider:    m.Provider,
		Reference:   m.Reference,
		ProviderRef: m.ProviderRef,
		Payload:     m.Payload,
		Status:      callback.Status(m.Status),
		Error:       m.Error,
		ProcessedAt: m.ProcessedAt,
	}, nil
}
