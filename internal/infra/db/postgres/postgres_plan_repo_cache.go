package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/repository"
	"propmarket-payments/internal/infra/cache"
	"propmarket-payments/internal/infra/metrics"
)

var _ repository.PlanRepository = (*planRepoCacheDecorator)(nil)

const planListKey = "plans:active"

// KVCache is the subset of a key/value store the cache decorators need.
// Both the Redis client and cache.LocalCache satisfy it.
type KVCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

type planRepoCacheDecorator struct {
	inner  repository.PlanRepository
	cache  KVCache
	ttl    time.Duration
	group  singleflight.Group
	logger *zerolog.Logger
}

func NewPlanRepoCacheDecorator(inner repository.PlanRepository, c KVCache, ttl time.Duration, logger *zerolog.Logger) repository.PlanRepository {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &planRepoCacheDecorator{
		inner:  inner,
		cache:  c,
		ttl:    ttl,
		logger: logger,
	}
}

func planKey(id string) string { return fmt.Sprintf("plan:%s", id) }

// planLoadTimeout bounds a shared load that no single caller owns.
const planLoadTimeout = 5 * time.Second

func (d *planRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	// reads inside a transaction must see that transaction
	if isInTx(tx) {
		return d.inner.FindByID(ctx, tx, id)
	}

	key := planKey(id)
	if plan := d.lookupPlan(ctx, key); plan != nil {
		metrics.IncCacheRequest("plan", "hit")
		return plan, nil
	}
	metrics.IncCacheRequest("plan", "miss")

	// the load is shared, so it must not die with whichever caller started it
	ch := d.group.DoChan(key, func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), planLoadTimeout)
		defer cancel()
		plan, err := d.inner.FindByID(lctx, repository.NoTX, id)
		if err != nil {
			return nil, err
		}
		d.store(lctx, key, plan)
		return plan, nil
	})
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "load plan")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Plan).Clone(), nil
	}
}

// FindAnyByID is not cached; it serves activations that must see retired plans.
func (d *planRepoCacheDecorator) FindAnyByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	return d.inner.FindAnyByID(ctx, tx, id)
}

func (d *planRepoCacheDecorator) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	val, err := d.cache.Get(ctx, planListKey)
	if err == nil {
		var plans []*model.Plan
		if json.Unmarshal([]byte(val), &plans) == nil {
			metrics.IncCacheRequest("plan_list", "hit")
			return plans, nil
		}
	} else {
		d.logCacheErr(err, planListKey)
	}

	metrics.IncCacheRequest("plan_list", "miss")
	plans, err := d.inner.ListActive(ctx, tx)
	if err != nil {
		return nil, err
	}
	if len(plans) > 0 {
		d.store(ctx, planListKey, plans)
	}
	return plans, nil
}

// Save writes through and invalidates both the plan and the list.
func (d *planRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
	if err := d.inner.Save(ctx, tx, plan); err != nil {
		return err
	}
	if err := d.cache.Del(ctx, planKey(plan.ID), planListKey); err != nil {
		d.logCacheErr(err, planKey(plan.ID))
	}
	return nil
}

func (d *planRepoCacheDecorator) lookupPlan(ctx context.Context, key string) *model.Plan {
	val, err := d.cache.Get(ctx, key)
	if err != nil {
		d.logCacheErr(err, key)
		return nil
	}
	var plan model.Plan
	if err := json.Unmarshal([]byte(val), &plan); err != nil {
		return nil
	}
	return &plan
}

func (d *planRepoCacheDecorator) store(ctx context.Context, key string, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
		d.logCacheErr(err, key)
	}
}

func (d *planRepoCacheDecorator) logCacheErr(err error, key string) {
	if errors.Is(err, redis.Nil) || errors.Is(err, cache.ErrMiss) || d.logger == nil {
		return
	}
	d.logger.Warn().Err(err).Str("key", key).Msg("plan cache unavailable; falling back to database")
}
