//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v4"
	"github.com/shopspring/decimal"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/repository"
	"propmarket-payments/internal/infra/cache"
)

func TestPlanRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	plan, _ := model.NewPlan("owner-basic", model.RoleOwner, "Owner Basic", decimal.NewFromInt(499), "INR", 30, map[string]any{"listings": 5})
	planJSON, _ := json.Marshal(plan)

	t.Run("FindByID should return from cache on hit", func(t *testing.T) {
		// Arrange
		mockCache := &mockKVCache{
			GetFunc: func(ctx context.Context, key string) (string, error) {
				return string(planJSON), nil // Simulate cache hit
			},
		}
		innerRepoCalled := false
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
				innerRepoCalled = true // This should not be called
				return nil, nil
			},
		}

		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockCache, time.Hour, nil)

		// Act
		result, err := decorator.FindByID(ctx, nil, "owner-basic")

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if innerRepoCalled {
			t.Error("inner repository should not be called on a cache hit")
		}
		if result == nil || result.ID != "owner-basic" || result.MinorUnits() != 49900 {
			t.Errorf("did not return the correct plan from cache: %+v", result)
		}
	})

	t.Run("FindByID should fill the cache on miss", func(t *testing.T) {
		var setKey string
		mockCache := &mockKVCache{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", redis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey = key
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
				return plan, nil
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockCache, time.Hour, nil)

		result, err := decorator.FindByID(ctx, nil, "owner-basic")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if result.ID != plan.ID {
			t.Errorf("expected plan %s, got %s", plan.ID, result.ID)
		}
		if setKey != "plan:owner-basic" {
			t.Errorf("expected cache key plan:owner-basic, got %q", setKey)
		}
	})

	t.Run("FindByID should not cache a missing plan", func(t *testing.T) {
		setCalled := false
		mockCache := &mockKVCache{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", redis.Nil },
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setCalled = true
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
				return nil, domain.ErrPlanNotFound
			},
		}
		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockCache, time.Hour, nil)

		_, err := decorator.FindByID(ctx, nil, "nope")
		if !errors.Is(err, domain.ErrPlanNotFound) {
			t.Fatalf("expected ErrPlanNotFound, got %v", err)
		}
		if setCalled {
			t.Error("a missing plan must not be cached")
		}
	})

	t.Run("Save should invalidate the cache", func(t *testing.T) {
		// Arrange
		var deletedKeys []string
		mockCache := &mockKVCache{
			DelFunc: func(ctx context.Context, keys ...string) error {
				deletedKeys = append(deletedKeys, keys...)
				return nil
			},
		}
		mockInnerRepo := &mockInnerPlanRepo{
			SaveFunc: func(ctx context.Context, tx repository.Tx, plan *model.Plan) error {
				return nil
			},
		}

		decorator := NewPlanRepoCacheDecorator(mockInnerRepo, mockCache, time.Hour, nil)

		// Act
		err := decorator.Save(ctx, nil, plan)

		// Assert
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(deletedKeys) != 2 {
			t.Fatalf("expected 2 keys to be deleted, but got %d", len(deletedKeys))
		}
	})
}

func TestPlanRepoCacheDecorator_CollapsesConcurrentMisses(t *testing.T) {
	ctx := context.Background()
	plan, _ := model.NewPlan("agent-pro", model.RoleAgent, "Agent Pro", decimal.NewFromInt(1999), "INR", 30, nil)

	var calls int32
	release := make(chan struct{})
	inner := &mockInnerPlanRepo{
		FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
			atomic.AddInt32(&calls, 1)
			<-release
			return plan, nil
		},
	}
	// A cache that never stores, so every caller misses.
	local := &mockKVCache{
		GetFunc: func(ctx context.Context, key string) (string, error) { return "", cache.ErrMiss },
	}
	decorator := NewPlanRepoCacheDecorator(inner, local, time.Hour, nil)

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := decorator.FindByID(ctx, nil, "agent-pro"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected %d concurrent misses to share one load, got %d", n, got)
	}
}

func TestPlanRepoCacheDecorator_WithLocalCache(t *testing.T) {
	ctx := context.Background()
	plan, _ := model.NewPlan("buyer-free", model.RoleBuyer, "Buyer Free", decimal.Zero, "INR", 30, nil)

	var calls int
	inner := &mockInnerPlanRepo{
		FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
			calls++
			return plan, nil
		},
	}
	decorator := NewPlanRepoCacheDecorator(inner, cache.NewLocalCache(time.Minute, time.Minute), time.Minute, nil)

	for i := 0; i < 3; i++ {
		got, err := decorator.FindByID(ctx, nil, "buyer-free")
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if !got.IsFree() {
			t.Error("expected free plan")
		}
	}
	if calls != 1 {
		t.Errorf("expected one database load, got %d", calls)
	}
}

// liveTx stands in for an open transaction; only its type matters here.
type liveTx struct{ pgx.Tx }

func TestPlanRepoCacheDecorator_SharedLoadSurvivesCallerCancel(t *testing.T) {
	plan, _ := model.NewPlan("owner-basic", model.RoleOwner, "Owner Basic", decimal.NewFromInt(499), "INR", 30, map[string]any{"listings": 5})

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	inner := &mockInnerPlanRepo{
		FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
			started <- struct{}{}
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return plan, nil
		},
	}
	miss := &mockKVCache{
		GetFunc: func(ctx context.Context, key string) (string, error) { return "", cache.ErrMiss },
	}
	decorator := NewPlanRepoCacheDecorator(inner, miss, time.Hour, nil)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := decorator.FindByID(ctxA, nil, "owner-basic")
		errA <- err
	}()
	<-started

	resB := make(chan *model.Plan, 1)
	errB := make(chan error, 1)
	go func() {
		p, err := decorator.FindByID(context.Background(), nil, "owner-basic")
		resB <- p
		errB <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller: expected context.Canceled, got %v", err)
	}
	close(release)

	if err := <-errB; err != nil {
		t.Fatalf("second caller inherited the first caller's cancellation: %v", err)
	}
	got := <-resB
	if got == nil || got.ID != "owner-basic" {
		t.Fatalf("unexpected plan: %+v", got)
	}
	got.Features["listings"] = 99
	if plan.Features["listings"] != 5 {
		t.Error("returned plan shares its features map with the shared load result")
	}
}

func TestPlanRepoCacheDecorator_TransactionBypassesCache(t *testing.T) {
	plan, _ := model.NewPlan("owner-basic", model.RoleOwner, "Owner Basic", decimal.NewFromInt(499), "INR", 30, nil)

	var gotTx repository.Tx
	inner := &mockInnerPlanRepo{
		FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
			gotTx = tx
			return plan, nil
		},
		FindAnyFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
			return plan, nil
		},
	}
	cacheUsed := false
	kv := &mockKVCache{
		GetFunc: func(ctx context.Context, key string) (string, error) {
			cacheUsed = true
			return "", cache.ErrMiss
		},
	}
	decorator := NewPlanRepoCacheDecorator(inner, kv, time.Hour, nil)

	tx := liveTx{}
	if _, err := decorator.FindByID(context.Background(), tx, "owner-basic"); err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if _, ok := gotTx.(liveTx); !ok {
		t.Errorf("inner read ran outside the caller's transaction: %T", gotTx)
	}
	if _, err := decorator.FindAnyByID(context.Background(), tx, "owner-basic"); err != nil {
		t.Fatalf("FindAnyByID: %v", err)
	}
	if cacheUsed {
		t.Error("cache must not be consulted inside a transaction")
	}
}
