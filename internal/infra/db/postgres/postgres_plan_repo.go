package postgres

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.PlanRepository = (*PostgresPlanRepo)(nil)

type PostgresPlanRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresPlanRepo(pool *pgxpool.Pool) *PostgresPlanRepo {
	return &PostgresPlanRepo{pool: pool}
}

const planColumns = `id, category, name, price::text, currency, duration_days, features, active, created_at`

func (r *PostgresPlanRepo) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	const q = `
INSERT INTO plans (id, category, name, price, currency, duration_days, features, active, created_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE
  SET category      = EXCLUDED.category,
      name          = EXCLUDED.name,
      price         = EXCLUDED.price,
      currency      = EXCLUDED.currency,
      duration_days = EXCLUDED.duration_days,
      features      = EXCLUDED.features,
      active        = EXCLUDED.active;`

	features, err := json.Marshal(plan.Features)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "encode plan features"), domain.ErrInvalidArgument)
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		plan.ID, string(plan.Category), plan.Name, plan.Price.String(), plan.Currency,
		plan.DurationDays, features, plan.Active, plan.CreatedAt,
	)
	if err != nil {
		return mapExecErr(err, "save plan")
	}
	return nil
}

func (r *PostgresPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	return r.findOne(ctx, tx, `SELECT `+planColumns+` FROM plans WHERE id = $1 AND active;`, id)
}

func (r *PostgresPlanRepo) FindAnyByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	return r.findOne(ctx, tx, `SELECT `+planColumns+` FROM plans WHERE id = $1;`, id)
}

func (r *PostgresPlanRepo) findOne(ctx context.Context, tx repository.Tx, q string, id string) (*model.Plan, error) {
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	p, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, errors.Mark(errors.Wrap(err, "find plan"), domain.ErrReadDatabaseRow)
	}
	return p, nil
}

func (r *PostgresPlanRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	q := `SELECT ` + planColumns + ` FROM plans WHERE active ORDER BY category, price, id;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, mapExecErr(err, "list plans")
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "scan plan"), domain.ErrReadDatabaseRow)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPlan(row pgx.Row) (*model.Plan, error) {
	var (
		p        model.Plan
		category string
		price    string
		features []byte
	)
	if err := row.Scan(&p.ID, &category, &p.Name, &price, &p.Currency, &p.DurationDays, &features, &p.Active, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Category = model.Role(category)
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, errors.Wrapf(err, "plan %s price", p.ID)
	}
	p.Price = d
	p.Features = map[string]any{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &p.Features); err != nil {
			return nil, errors.Wrapf(err, "plan %s features", p.ID)
		}
	}
	return &p, nil
}
