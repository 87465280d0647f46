package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/gateway"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/payment"
	"github.com/xraph/billing/plan"
	"github.com/xraph/billing/subscription"
	"github.com/xraph/billing/types"
)

// statusTransactionLimit is how many recent transactions GetStatus returns.
const statusTransactionLimit = 10

type SubscribeInput struct {
	AccountID  string
	PlanName   string
	CouponCode string
	// IdempotencyKey becomes the ledger reference. Retrying with the same
	// key reuses the pending charge instead of creating another.
	IdempotencyKey string
}

type SubscribeResult struct {
	PaymentURL    string                     `json:"payment_url"`
	TransactionID id.TransactionID           `json:"transaction_id"`
	Reference     string                     `json:"reference"`
	Plan          plan.Summary               `json:"plan"`
	Quote         plan.Quote                 `json:"quote"`
	Coupon        *CouponCheck               `json:"coupon,omitempty"`
	Subscription  *subscription.Subscription `json:"subscription"`
}

type CancelResult struct {
	Status        subscription.Status `json:"status"`
	EffectiveDate time.Time           `json:"effective_date"`
	AccessUntil   *time.Time          `json:"access_until,omitempty"`
}

// Status is the account's billing overview.
type Status struct {
	Subscription  *subscription.Subscription `json:"subscription,omitempty"`
	Plan          *plan.Plan                 `json:"plan,omitempty"`
	HasAccess     bool                       `json:"has_access"`
	AccessUntil   *time.Time                 `json:"access_until,omitempty"`
	Transactions  []*payment.Transaction     `json:"transactions"`
	PaymentMethod *payment.MethodSummary     `json:"payment_method,omitempty"`
}

// Subscribe prices the plan, records a pending charge, and returns the
// hosted payment page for it. The subscription itself only changes after
// the gateway accepted the charge; activation happens when the provider
// confirms the payment.
func (b *Billing) Subscribe(ctx context.Context, in SubscribeInput) (*SubscribeResult, error) {
	if strings.TrimSpace(in.AccountID) == "" {
		return nil, &ValidationError{Field: "account_id", Message: "is required", Err: ErrInvalidInput}
	}

	p, err := b.planForCheckout(ctx, in.PlanName)
	if err != nil {
		return nil, err
	}

	current, err := b.store.GetSubscriptionByAccount(ctx, in.AccountID)
	switch {
	case err == nil:
		if current.Status == subscription.StatusActive {
			return nil, &StateConflictError{Op: OpSubscribe, Current: current.Status, Err: ErrAlreadyActive}
		}
	case !errors.Is(err, ErrSubscriptionNotFound):
		return nil, err
	}

	// A retry with the same key resumes the recorded attempt, including
	// the coupon it already redeemed.
	var prior *payment.Transaction
	if in.IdempotencyKey != "" {
		prior, err = b.ledger.TransactionByReference(ctx, in.IdempotencyKey)
		switch {
		case err == nil:
			if prior.Status != payment.StatusPending {
				return nil, &ValidationError{
					Field:   "idempotency_key",
					Message: "already used by a finished payment",
					Err:     ErrDuplicateReference,
				}
			}
		case errors.Is(err, ErrTransactionNotFound):
			prior = nil
		default:
			return nil, err
		}
	}
	reused := prior != nil

	var (
		c     *coupon.Coupon
		check *CouponCheck
	)
	switch {
	case reused && !prior.CouponID.IsNil():
		c, err = b.store.GetCoupon(ctx, prior.CouponID)
		if err != nil {
			return nil, err
		}
		check = &CouponCheck{Code: c.Code, Eligible: true, Benefit: c.Benefit()}
	case !reused && in.CouponCode != "":
		check, c, err = b.checkCoupon(ctx, in.AccountID, in.CouponCode, p.Name)
		if err != nil {
			return nil, err
		}
		if !check.Eligible {
			return nil, &ValidationError{Field: "coupon_code", Message: check.Reason, Err: ErrCouponIneligible}
		}
	}

	discount := types.Zero(p.Price.Currency)
	if c != nil && c.IsDiscount() {
		discount = c.Discount(p.Price)
	}
	q := p.Quote(discount)

	redeemed := false
	if c != nil && !reused {
		if err := b.redeem(ctx, c, in.AccountID, current, q.Discount); err != nil {
			return nil, err
		}
		redeemed = true
	}
	release := func() {
		if redeemed {
			b.releaseCoupon(ctx, c.ID, in.AccountID)
		}
	}

	attempt := Attempt{
		AccountID:   in.AccountID,
		Provider:    string(b.gateway.Name()),
		Reference:   in.IdempotencyKey,
		Kind:        payment.KindCharge,
		Amount:      q.Total,
		Context:     payment.ContextSubscription,
		PlanID:      p.ID,
		Description: p.DisplayName,
	}
	if current != nil {
		attempt.ContextID = current.ID.String()
	}
	if c != nil {
		attempt.CouponID = c.ID
	}
	txn, err := b.ledger.RecordAttempt(ctx, attempt)
	if err != nil {
		release()
		return nil, err
	}

	res, err := b.initiateCharge(ctx, txn, p)
	if err != nil {
		release()
		return nil, err
	}
	b.plugins.EmitChargeInitiated(ctx, txn)

	sub, err := b.lifecycle.Subscribe(ctx, in.AccountID, p)
	if err != nil {
		if redeemed {
			// The charge is live at the provider, so the redemption stays.
			b.logger.Error("subscription not updated after charge initiated, coupon kept",
				"account_id", in.AccountID,
				"coupon_id", c.ID.String(),
				"reference", txn.Reference,
				"error", err,
			)
		}
		return nil, err
	}
	if redeemed {
		if updated := b.applyCouponEffect(ctx, c, in.AccountID); updated != nil {
			sub = updated
		}
	}

	b.logger.Info("subscribe initiated",
		"account_id", in.AccountID,
		"plan", p.Name,
		"reference", txn.Reference,
		"total", q.Total.String(),
	)

	return &SubscribeResult{
		PaymentURL:    res.PaymentURL,
		TransactionID: txn.ID,
		Reference:     txn.Reference,
		Plan:          p.Summarize(q),
		Quote:         q,
		Coupon:        check,
		Subscription:  sub,
	}, nil
}

func (b *Billing) planForCheckout(ctx context.Context, name string) (*plan.Plan, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, NewValidationError("plan_name", ErrInvalidPlan)
	}
	p, err := b.store.GetPlanByName(ctx, name)
	if err != nil {
		if errors.Is(err, ErrPlanNotFound) {
			return nil, NewValidationError("plan_name", ErrInvalidPlan)
		}
		return nil, err
	}
	if !p.Active {
		return nil, NewValidationError("plan_name", ErrPlanInactive)
	}
	return p, nil
}

// initiateCharge sends a recorded charge to the gateway. A rejection fails
// the transaction; a transient error leaves it pending for the webhook.
func (b *Billing) initiateCharge(ctx context.Context, txn *payment.Transaction, p *plan.Plan) (*gateway.ChargeResult, error) {
	gctx, cancel := context.WithTimeout(ctx, b.gatewayTimeout)
	defer cancel()

	res, err := b.gateway.InitiateCharge(gctx, gateway.ChargeRequest{
		Reference:   txn.Reference,
		Amount:      txn.Amount,
		Customer:    b.customer(ctx, txn.AccountID),
		Redirects:   b.redirects,
		Description: p.DisplayName,
		PlanName:    p.Name,
		CreateToken: true,
		Metadata: map[string]string{
			"account_id": txn.AccountID,
			"plan":       p.Name,
		},
	})
	if err != nil {
		return nil, b.gatewayFailed(ctx, txn, "initiate_charge", err)
	}
	return res, nil
}

// gatewayFailed classifies a gateway error, fails the transaction when the
// provider refused it, and returns the error for the caller.
func (b *Billing) gatewayFailed(ctx context.Context, txn *payment.Transaction, op string, err error) error {
	provider := string(b.gateway.Name())
	b.plugins.EmitGatewayError(ctx, provider, op, err)

	if IsRejected(err) || IsValidation(err) {
		outcome := payment.Outcome{Status: payment.StatusFailed, FailureReason: err.Error()}
		var rejected *GatewayRejectedError
		if errors.As(err, &rejected) {
			outcome.FailureReason = rejected.Reason
		}
		if _, markErr := b.ledger.MarkTerminal(ctx, txn.ID, outcome); markErr != nil {
			b.logger.Error("failed to mark transaction failed",
				"transaction_id", txn.ID.String(),
				"error", markErr,
			)
		}
		b.logger.Warn("gateway rejected request",
			"op", op,
			"reference", txn.Reference,
			"error", err,
		)
		return err
	}

	b.logger.Warn("gateway unavailable, transaction left pending",
		"op", op,
		"reference", txn.Reference,
		"error", err,
	)
	var transient *GatewayTransientError
	if errors.As(err, &transient) {
		return err
	}
	return &GatewayTransientError{Provider: provider, Op: op, Err: err}
}

func (b *Billing) customer(ctx context.Context, accountID string) gateway.Customer {
	c := gateway.Customer{AccountID: accountID}
	acct, err := b.accounts.GetAccount(ctx, accountID)
	if err != nil {
		b.logger.Debug("account contact unavailable", "account_id", accountID, "error", err)
		return c
	}
	c.Name = acct.Name
	c.Email = acct.Email
	c.Phone = acct.Phone
	return c
}

// Cancel cancels the account's subscription, immediately or at the end of
// the paid period.
func (b *Billing) Cancel(ctx context.Context, accountID, reason string, immediate bool) (*CancelResult, error) {
	sub, err := b.lifecycle.Cancel(ctx, accountID, reason, immediate)
	if err != nil {
		return nil, err
	}

	res := &CancelResult{Status: sub.Status, AccessUntil: sub.AccessUntil()}
	switch {
	case immediate:
		res.EffectiveDate = *sub.CancelledAt
	default:
		res.EffectiveDate = *sub.CurrentPeriodEnd
	}
	return res, nil
}

// Reactivate undoes a period-end cancellation. Anything else fails with
// ErrNotReactivatable and the caller has to subscribe again.
func (b *Billing) Reactivate(ctx context.Context, accountID string) error {
	_, err := b.lifecycle.Reactivate(ctx, accountID)
	return err
}

// GetStatus loads the subscription, its plan, the latest transactions and
// the saved payment method concurrently.
func (b *Billing) GetStatus(ctx context.Context, accountID string) (*Status, error) {
	var (
		st  = &Status{}
		sub *subscription.Subscription
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := b.store.GetSubscriptionByAccount(gctx, accountID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		sub = s
		p, err := b.store.GetPlan(gctx, s.PlanID)
		if errors.Is(err, ErrPlanNotFound) {
			return nil
		}
		st.Plan = p
		return err
	})
	g.Go(func() error {
		txns, err := b.ledger.RecentTransactions(gctx, accountID, statusTransactionLimit)
		st.Transactions = txns
		return err
	})
	g.Go(func() error {
		tok, err := b.store.GetPrimaryToken(gctx, accountID)
		if errors.Is(err, ErrTokenNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		st.PaymentMethod = tok.Summary()
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if sub != nil {
		st.Subscription = sub
		st.HasAccess = sub.HasAccess(b.clock.Now())
		st.AccessUntil = sub.AccessUntil()
	}
	if st.Transactions == nil {
		st.Transactions = []*payment.Transaction{}
	}
	return st, nil
}
