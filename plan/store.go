package plan

import (
	"context"

	"github.com/xraph/billing/id"
)

type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetPlanByName(ctx context.Context, name string) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
}

type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
