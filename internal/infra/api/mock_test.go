//go:build !integration

package api

import (
	"context"
	"sync"
	"time"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/usecase"
)

type fakeOrders struct {
	result *usecase.OrderResult
	err    error
	plans  []*model.Plan

	mu    sync.Mutex
	calls []string
}

func (f *fakeOrders) CreateOrder(_ context.Context, planID, purchaserID string, role model.Role) (*usecase.OrderResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, planID+"/"+purchaserID+"/"+string(role))
	f.mu.Unlock()
	return f.result, f.err
}

func (f *fakeOrders) ListPlans(context.Context) ([]*model.Plan, error) { return f.plans, f.err }

// fakeSubs records every state changing call so tests can assert that
// rejected requests mutate nothing.
type fakeSubs struct {
	mu         sync.Mutex
	verified   []string
	activated  []model.PaymentProof
	failed     []string
	activation *model.Activation
	err        error
	active     *model.Subscription
}

func (f *fakeSubs) VerifyClientPayment(_ context.Context, orderID, paymentID, signature string) (*model.Activation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verified = append(f.verified, orderID)
	return f.activation, f.err
}

func (f *fakeSubs) ActivateFromPayment(_ context.Context, orderID string, proof model.PaymentProof) (*model.Activation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, proof)
	return f.activation, f.err
}

func (f *fakeSubs) FailPayment(_ context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, orderID)
	return true, f.err
}

func (f *fakeSubs) GetActive(_ context.Context, purchaserID string, category model.Role) (*model.Subscription, error) {
	if f.active == nil {
		return nil, domain.ErrNotFound
	}
	return f.active, nil
}

func (f *fakeSubs) mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.activated) + len(f.failed)
}

type memEventStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemEventStore() *memEventStore { return &memEventStore{seen: map[string]time.Time{}} }

func (m *memEventStore) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[id]
	return ok, nil
}

func (m *memEventStore) MarkProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = time.Now()
	return nil
}
