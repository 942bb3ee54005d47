//go:build !integration

package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"propmarket-payments/internal/domain"
	"propmarket-payments/internal/domain/model"
	"propmarket-payments/internal/domain/ports/repository"
)

// memStore backs every in-memory repository used by the unit tests. WithTx
// holds the store lock for the whole callback and restores a snapshot when the
// callback fails, which is enough to model commit and rollback.
type memStore struct {
	mu       sync.Mutex
	plans    map[string]*model.Plan
	payments map[string]*model.Payment // by gateway order id
	subs     map[string]*model.Subscription
	events   []publishedEvent
	locks    []string

	saveErr error
}

type publishedEvent struct {
	Name        string
	AggregateID string
	Payload     any
}

type memTx struct{}

func newMemStore() *memStore {
	return &memStore{
		plans:    map[string]*model.Plan{},
		payments: map[string]*model.Payment{},
		subs:     map[string]*model.Subscription{},
	}
}

// lock takes the store lock unless the caller already holds it through WithTx.
func (s *memStore) lock(tx repository.Tx) func() {
	if _, ok := tx.(memTx); ok {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, memTx{}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	payments map[string]model.Payment
	subs     map[string]model.Subscription
	events   int
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{payments: map[string]model.Payment{}, subs: map[string]model.Subscription{}, events: len(s.events)}
	for k, v := range s.payments {
		snap.payments[k] = *v
	}
	for k, v := range s.subs {
		snap.subs[k] = *v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.payments = map[string]*model.Payment{}
	for k, v := range snap.payments {
		cp := v
		s.payments[k] = &cp
	}
	s.subs = map[string]*model.Subscription{}
	for k, v := range snap.subs {
		cp := v
		s.subs[k] = &cp
	}
	s.events = s.events[:snap.events]
}

// ---- plans

type memPlanRepo struct{ s *memStore }

func (r memPlanRepo) Save(_ context.Context, tx repository.Tx, p *model.Plan) error {
	defer r.s.lock(tx)()
	cp := *p
	r.s.plans[p.ID] = &cp
	return nil
}

func (r memPlanRepo) FindByID(_ context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	defer r.s.lock(tx)()
	p, ok := r.s.plans[id]
	if !ok || !p.Active {
		return nil, domain.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memPlanRepo) FindAnyByID(_ context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	defer r.s.lock(tx)()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memPlanRepo) ListActive(_ context.Context, tx repository.Tx) ([]*model.Plan, error) {
	defer r.s.lock(tx)()
	var out []*model.Plan
	for _, p := range r.s.plans {
		if p.Active {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ---- payments

type memPaymentRepo struct{ s *memStore }

func (r memPaymentRepo) Save(_ context.Context, tx repository.Tx, p *model.Payment) error {
	defer r.s.lock(tx)()
	if r.s.saveErr != nil {
		return r.s.saveErr
	}
	if _, ok := r.s.payments[p.GatewayOrderID]; ok {
		return domain.ErrAlreadyExists
	}
	cp := *p
	r.s.payments[p.GatewayOrderID] = &cp
	return nil
}

func (r memPaymentRepo) FindByGatewayOrderID(_ context.Context, tx repository.Tx, orderID string) (*model.Payment, error) {
	defer r.s.lock(tx)()
	p, ok := r.s.payments[orderID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memPaymentRepo) MarkPaidIfPayable(_ context.Context, tx repository.Tx, orderID, gatewayPaymentID string, paidAt time.Time) (*model.Payment, error) {
	defer r.s.lock(tx)()
	p, ok := r.s.payments[orderID]
	if !ok || p.Status == model.PaymentStatusPaid {
		return nil, nil
	}
	p.Status = model.PaymentStatusPaid
	p.GatewayPaymentID = &gatewayPaymentID
	p.PaidAt = &paidAt
	p.UpdatedAt = paidAt
	cp := *p
	return &cp, nil
}

func (r memPaymentRepo) MarkFailedIfCreated(_ context.Context, tx repository.Tx, orderID string) (bool, error) {
	defer r.s.lock(tx)()
	p, ok := r.s.payments[orderID]
	if !ok || p.Status != model.PaymentStatusCreated {
		return false, nil
	}
	p.Status = model.PaymentStatusFailed
	return true, nil
}

func (r memPaymentRepo) LinkSubscription(_ context.Context, tx repository.Tx, paymentID, subscriptionID string) error {
	defer r.s.lock(tx)()
	for _, p := range r.s.payments {
		if p.ID == paymentID {
			p.SubscriptionID = &subscriptionID
			return nil
		}
	}
	return domain.ErrPaymentNotFound
}

// ---- subscriptions

type memSubscriptionRepo struct{ s *memStore }

func (r memSubscriptionRepo) Save(_ context.Context, tx repository.Tx, sub *model.Subscription) error {
	defer r.s.lock(tx)()
	if sub.PaymentID != nil {
		for _, other := range r.s.subs {
			if other.PaymentID != nil && *other.PaymentID == *sub.PaymentID && other.ID != sub.ID {
				return domain.ErrAlreadyExists
			}
		}
	}
	cp := *sub
	r.s.subs[sub.ID] = &cp
	return nil
}

func (r memSubscriptionRepo) InsertActiveFree(_ context.Context, tx repository.Tx, sub *model.Subscription) (bool, error) {
	defer r.s.lock(tx)()
	for _, other := range r.s.subs {
		if other.Purchaser.UserID == sub.Purchaser.UserID && other.PlanCategory == sub.PlanCategory &&
			other.Status == model.SubscriptionStatusActive && other.PaymentID == nil {
			return false, nil
		}
	}
	cp := *sub
	r.s.subs[sub.ID] = &cp
	return true, nil
}

func (r memSubscriptionRepo) FindActive(_ context.Context, tx repository.Tx, userID string, category model.Role) (*model.Subscription, error) {
	defer r.s.lock(tx)()
	var best *model.Subscription
	for _, s := range r.s.subs {
		if s.Purchaser.UserID != userID || s.PlanCategory != category || s.Status != model.SubscriptionStatusActive {
			continue
		}
		if best == nil || s.PeriodEnd.After(best.PeriodEnd) {
			best = s
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r memSubscriptionRepo) FindByPaymentID(_ context.Context, tx repository.Tx, paymentID string) (*model.Subscription, error) {
	defer r.s.lock(tx)()
	for _, s := range r.s.subs {
		if s.PaymentID != nil && *s.PaymentID == paymentID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r memSubscriptionRepo) ExpireElapsed(_ context.Context, tx repository.Tx, now time.Time) (int64, error) {
	defer r.s.lock(tx)()
	var n int64
	for _, s := range r.s.subs {
		if s.Status == model.SubscriptionStatusActive && !s.PeriodEnd.After(now) {
			s.Status = model.SubscriptionStatusExpired
			n++
		}
	}
	return n, nil
}

func (r memSubscriptionRepo) ExpireElapsedFor(_ context.Context, tx repository.Tx, userID string, category model.Role, now time.Time) (int64, error) {
	defer r.s.lock(tx)()
	var n int64
	for _, s := range r.s.subs {
		if s.Purchaser.UserID == userID && s.PlanCategory == category &&
			s.Status == model.SubscriptionStatusActive && !s.PeriodEnd.After(now) {
			s.Status = model.SubscriptionStatusExpired
			n++
		}
	}
	return n, nil
}

// LockPurchaser only records the call; WithTx already serializes everything.
func (r memSubscriptionRepo) LockPurchaser(_ context.Context, tx repository.Tx, userID string, category model.Role) error {
	if _, ok := tx.(memTx); !ok {
		return domain.ErrInvalidExecContext
	}
	r.s.locks = append(r.s.locks, userID+"/"+string(category))
	return nil
}

// ---- events

type memPublisher struct {
	s   *memStore
	err error
}

func (p *memPublisher) Publish(_ context.Context, tx repository.Tx, name, aggregateID string, payload any) error {
	defer p.s.lock(tx)()
	if p.err != nil {
		return p.err
	}
	p.s.events = append(p.s.events, publishedEvent{Name: name, AggregateID: aggregateID, Payload: payload})
	return nil
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memStore) subCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *memStore) lockCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.locks...)
}

func (s *memStore) deactivatePlan(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[id].Active = false
}

func (s *memStore) payment(orderID string) model.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[orderID]
}
