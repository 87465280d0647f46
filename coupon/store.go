package coupon

import (
	"context"

	"github.com/xraph/billing/id"
)

// Store persists coupons and their redemptions. RedeemCoupon inserts the
// usage row and increments CurrentUses in one step, failing when the account
// already used the coupon or the usage cap is reached.
type Store interface {
	CreateCoupon(ctx context.Context, c *Coupon) error
	GetCoupon(ctx context.Context, couponID id.CouponID) (*Coupon, error)
	GetCouponByCode(ctx context.Context, code string) (*Coupon, error)
	ListCoupons(ctx context.Context, opts ListOpts) ([]*Coupon, error)
	UpdateCoupon(ctx context.Context, c *Coupon) error

	RedeemCoupon(ctx context.Context, u *Usage) error
	ReleaseCoupon(ctx context.Context, couponID id.CouponID, accountID string) error
	HasCouponUsage(ctx context.Context, couponID id.CouponID, accountID string) (bool, error)
}

type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
