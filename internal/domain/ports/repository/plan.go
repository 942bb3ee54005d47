package repository

import (
	"context"

	"propmarket-payments/internal/domain/model"
)

type PlanRepository interface {
	Save(ctx context.Context, tx Tx, plan *model.Plan) error
	// FindByID returns domain.ErrPlanNotFound when the plan is absent or inactive.
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	// FindAnyByID ignores the active flag. Payments placed before a plan was
	// retired still activate against it.
	FindAnyByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	ListActive(ctx context.Context, tx Tx) ([]*model.Plan, error)
}
