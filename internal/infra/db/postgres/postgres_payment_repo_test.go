//go:build integration

package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
)

func seedPlan(t *testing.T, id string, category model.Role, price int64) *model.Plan {
	t.Helper()
	plan, err := model.NewPlan(id, category, id, decimal.NewFromInt(price), "INR", 30, nil)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	if err := NewPostgresPlanRepo(testPool).Save(context.Background(), nil, plan); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	return plan
}

func newCreatedPayment(planID, orderID string) *model.Payment {
	now := time.Now()
	return &model.Payment{
		ID:             uuid.NewString(),
		Purchaser:      model.Purchaser{UserID: "user-1", Role: model.RoleOwner},
		PlanID:         planID,
		GatewayOrderID: orderID,
		Receipt:        "rcpt-" + orderID,
		Amount:         49900,
		Currency:       "INR",
		Status:         model.PaymentStatusCreated,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestPaymentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}
	ctx := context.Background()
	repo := NewPaymentRepo(testPool)

	t.Run("should save and find a payment", func(t *testing.T) {
		cleanup(t)
		plan := seedPlan(t, "owner-basic", model.RoleOwner, 499)
		p := newCreatedPayment(plan.ID, "order_A")
		if err := repo.Save(ctx, nil, p); err != nil {
			t.Fatalf("Save: %v", err)
		}
		found, err := repo.FindByGatewayOrderID(ctx, nil, "order_A")
		if err != nil {
			t.Fatalf("FindByGatewayOrderID: %v", err)
		}
		if found.Amount != 49900 || found.Status != model.PaymentStatusCreated || found.Purchaser.Role != model.RoleOwner {
			t.Errorf("unexpected payment: %+v", found)
		}
		if _, err := repo.FindByGatewayOrderID(ctx, nil, "order_missing"); !errors.Is(err, domain.ErrPaymentNotFound) {
			t.Errorf("expected ErrPaymentNotFound, got %v", err)
		}
	})

	t.Run("MarkPaidIfPayable succeeds exactly once under contention", func(t *testing.T) {
		cleanup(t)
		plan := seedPlan(t, "owner-basic", model.RoleOwner, 499)
		if err := repo.Save(ctx, nil, newCreatedPayment(plan.ID, "order_B")); err != nil {
			t.Fatalf("Save: %v", err)
		}

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p, err := repo.MarkPaidIfPayable(ctx, nil, "order_B", "pay_B", time.Now())
				if err != nil {
					t.Errorf("MarkPaidIfPayable: %v", err)
					return
				}
				if p != nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}

		ok, err := repo.MarkFailedIfCreated(ctx, nil, "order_B")
		if err != nil || ok {
			t.Errorf("paid payment must not move to failed: ok=%v err=%v", ok, err)
		}
	})

	t.Run("MarkFailedIfCreated only touches created rows", func(t *testing.T) {
		cleanup(t)
		plan := seedPlan(t, "owner-basic", model.RoleOwner, 499)
		if err := repo.Save(ctx, nil, newCreatedPayment(plan.ID, "order_C")); err != nil {
			t.Fatalf("Save: %v", err)
		}
		ok, err := repo.MarkFailedIfCreated(ctx, nil, "order_C")
		if err != nil || !ok {
			t.Fatalf("expected created -> failed, ok=%v err=%v", ok, err)
		}
		ok, err = repo.MarkFailedIfCreated(ctx, nil, "order_C")
		if err != nil || ok {
			t.Errorf("second failure must be a no-op: ok=%v err=%v", ok, err)
		}
		// a retried attempt on the same order can still be captured
		p, err := repo.MarkPaidIfPayable(ctx, nil, "order_C", "pay_C2", time.Now())
		if err != nil || p == nil || p.Status != model.PaymentStatusPaid {
			t.Fatalf("failed payment should accept a later capture: p=%v err=%v", p, err)
		}
	})
}
