package memory

import (
	"context"
	"slices"
	"strings"

	"github.com/xraph/billing"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/plan"
)

func clonePlan(p *plan.Plan) *plan.Plan {
	cp := *p
	cp.Metadata = cloneMeta(p.Metadata)
	return &cp
}

func (s *Store) CreatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return billing.ErrAlreadyExists
	}
	for _, existing := range s.plans {
		if strings.EqualFold(existing.Name, p.Name) {
			return billing.ErrAlreadyExists
		}
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return clonePlan(p), nil
	}
	return nil, billing.ErrPlanNotFound
}

func (s *Store) GetPlanByName(_ context.Context, name string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if strings.EqualFold(p.Name, name) {
			return clonePlan(p), nil
		}
	}
	return nil, billing.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		if opts.ActiveOnly && !p.Active {
			continue
		}
		result = append(result, clonePlan(p))
	}
	slices.SortFunc(result, func(a, b *plan.Plan) int { return strings.Compare(a.Name, b.Name) })
	return page(result, opts.Limit, opts.Offset), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return billing.ErrPlanNotFound
	}
	s.plans[p.ID.String()] = clonePlan(p)
	return nil
}
