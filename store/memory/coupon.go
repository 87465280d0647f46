package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xraph/billing"
	"github.com/xraph/billing/coupon"
	"github.com/xraph/billing/id"
)

func cloneCoupon(c *coupon.Coupon) *coupon.Coupon {
	cp := *c
	cp.ApplicablePlans = slices.Clone(c.ApplicablePlans)
	cp.Metadata = cloneMeta(c.Metadata)
	if c.MaxDiscount != nil {
		m := *c.MaxDiscount
		cp.MaxDiscount = &m
	}
	if c.MaxUses != nil {
		n := *c.MaxUses
		cp.MaxUses = &n
	}
	return &cp
}

func usageKey(couponID id.CouponID, accountID string) string {
	return couponID.String() + "/" + accountID
}

func (s *Store) CreateCoupon(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.coupons[c.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	code := coupon.NormalizeCode(c.Code)
	for _, existing := range s.coupons {
		if existing.Code == code {
			return billing.ErrAlreadyExists
		}
	}
	c.Code = code
	s.coupons[c.ID.String()] = cloneCoupon(c)
	return nil
}

func (s *Store) GetCoupon(_ context.Context, couponID id.CouponID) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.coupons[couponID.String()]; ok {
		return cloneCoupon(c), nil
	}
	return nil, billing.ErrCouponNotFound
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = coupon.NormalizeCode(code)
	for _, c := range s.coupons {
		if c.Code == code {
			return cloneCoupon(c), nil
		}
	}
	return nil, billing.ErrCouponNotFound
}

func (s *Store) ListCoupons(_ context.Context, opts coupon.ListOpts) ([]*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*coupon.Coupon, 0, len(s.coupons))
	for _, c := range s.coupons {
		if opts.ActiveOnly && !c.Active {
			continue
		}
		result = append(result, cloneCoupon(c))
	}
	slices.SortFunc(result, func(a, b *coupon.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdateCoupon(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, exists := s.coupons[c.ID.String()]
	if !exists {
		return billing.ErrCouponNotFound
	}
	cp := cloneCoupon(c)
	cp.Code = coupon.NormalizeCode(c.Code)
	// The usage counter is owned by RedeemCoupon and ReleaseCoupon.
	cp.CurrentUses = stored.CurrentUses
	s.coupons[c.ID.String()] = cp
	return nil
}

func (s *Store) RedeemCoupon(_ context.Context, u *coupon.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[u.CouponID.String()]
	if !ok {
		return billing.ErrCouponNotFound
	}
	key := usageKey(u.CouponID, u.AccountID)
	if _, used := s.usages[key]; used {
		return billing.ErrCouponAlreadyUsed
	}
	if c.MaxUses != nil && c.CurrentUses >= *c.MaxUses {
		return billing.ErrCouponExhausted
	}

	cp := *u
	s.usages[key] = &cp
	c.CurrentUses++
	return nil
}

func (s *Store) ReleaseCoupon(_ context.Context, couponID id.CouponID, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := usageKey(couponID, accountID)
	if _, used := s.usages[key]; !used {
		return nil
	}
	delete(s.usages, key)
	if c, ok := s.coupons[couponID.String()]; ok && c.CurrentUses > 0 {
		c.CurrentUses--
	}
	return nil
}

func (s *Store) HasCouponUsage(_ context.Context, couponID id.CouponID, accountID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, used := s.usages[usageKey(couponID, accountID)]
	return used, nil
}
