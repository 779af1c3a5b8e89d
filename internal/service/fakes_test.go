package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/config"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/domain"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/infrastructure/repository/reperrors"
	"github.com/TravisHFan/at-Cloud-sign-up-system-sub016/internal/lib/lock"
)

type fakePurchases struct {
	mu         sync.Mutex
	items      map[uuid.UUID]*domain.Purchase
	createErr  error
	deleteErr  error
	listErr    error
	hasCompErr error
}

func newFakePurchases() *fakePurchases {
	return &fakePurchases{items: map[uuid.UUID]*domain.Purchase{}}
}

func (f *fakePurchases) Create(_ context.Context, p *domain.Purchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *p
	f.items[p.ID] = &cp
	return nil
}

func (f *fakePurchases) FindByID(_ context.Context, id uuid.UUID) (*domain.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[id]
	if !ok {
		return nil, reperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePurchases) FindBySessionID(_ context.Context, sessionID string) (*domain.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.items {
		if p.SessionID == sessionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, reperrors.ErrNotFound
}

func (f *fakePurchases) FindPending(_ context.Context, buyerID, targetID uuid.UUID) (*domain.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.items {
		if p.BuyerID == buyerID && p.TargetID == targetID && p.Status == domain.StatusPending {
			cp := *p
			return &cp, nil
		}
	}
	return nil, reperrors.ErrNotFound
}

func (f *fakePurchases) HasCompleted(_ context.Context, buyerID, targetID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasCompErr != nil {
		return false, f.hasCompErr
	}
	for _, p := range f.items {
		if p.BuyerID == buyerID && p.TargetID == targetID && p.Status == domain.StatusCompleted {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePurchases) ListPendingByBuyer(_ context.Context, buyerID uuid.UUID) ([]domain.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Purchase
	for _, p := range f.items {
		if p.BuyerID == buyerID && p.Status == domain.StatusPending {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePurchases) DeletePending(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	p, ok := f.items[id]
	if !ok || p.Status != domain.StatusPending {
		return reperrors.ErrConflict
	}
	delete(f.items, id)
	return nil
}

func (f *fakePurchases) UpdateStatus(_ context.Context, id uuid.UUID, from, to domain.PurchaseStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[id]
	if !ok || p.Status != from {
		return reperrors.ErrConflict
	}
	p.Status = to
	return nil
}

func (f *fakePurchases) UpdateSession(_ context.Context, id uuid.UUID, sessionID, paymentIntentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.items[id]
	if !ok {
		return reperrors.ErrNotFound
	}
	p.SessionID = sessionID
	p.PaymentIntentID = paymentIntentID
	return nil
}

func (f *fakePurchases) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakePurchases) single() *domain.Purchase {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.items {
		cp := *p
		return &cp
	}
	return nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	targets  map[uuid.UUID]*domain.PurchaseTarget
	released map[uuid.UUID]int
}

func newFakeCatalog(targets ...*domain.PurchaseTarget) *fakeCatalog {
	f := &fakeCatalog{targets: map[uuid.UUID]*domain.PurchaseTarget{}, released: map[uuid.UUID]int{}}
	for _, t := range targets {
		f.targets[t.ID] = t
	}
	return f
}

func (f *fakeCatalog) FindTarget(_ context.Context, typ domain.PurchaseType, id uuid.UUID) (*domain.PurchaseTarget, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[id]
	if !ok || t.Type != typ {
		return nil, reperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeCatalog) ReserveClassRepSlot(_ context.Context, targetID uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[targetID]
	if !ok {
		return false, reperrors.ErrNotFound
	}
	if t.ClassRepCount >= t.ClassRepLimit {
		return false, nil
	}
	t.ClassRepCount++
	return true, nil
}

func (f *fakeCatalog) ReleaseClassRepSlot(_ context.Context, targetID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.targets[targetID]
	if !ok {
		return reperrors.ErrNotFound
	}
	if t.ClassRepCount > 0 {
		t.ClassRepCount--
	}
	f.released[targetID]++
	return nil
}

func (f *fakeCatalog) slotCount(targetID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.targets[targetID].ClassRepCount
}

type fakePromos struct {
	mu    sync.Mutex
	codes map[string]*domain.PromoCode
}

func newFakePromos(codes ...*domain.PromoCode) *fakePromos {
	f := &fakePromos{codes: map[string]*domain.PromoCode{}}
	for _, c := range codes {
		f.codes[c.Code] = c
	}
	return f
}

func (f *fakePromos) FindByCode(_ context.Context, code string) (*domain.PromoCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.codes[code]
	if !ok {
		return nil, reperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakePromos) MarkUsed(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == id {
			if c.IsUsed {
				return false, nil
			}
			c.IsUsed = true
			return true, nil
		}
	}
	return false, reperrors.ErrNotFound
}

func (f *fakePromos) Release(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.codes {
		if c.ID == id {
			c.IsUsed = false
			return nil
		}
	}
	return reperrors.ErrNotFound
}

type fakeProvider struct {
	mu        sync.Mutex
	createErr error
	refundErr error
	sessions  int
	expired   []string
	refunds   []int64
	status    string
}

func (f *fakeProvider) CreateSession(_ context.Context, req CreateSessionRequest) (*PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.sessions++
	return &PaymentSession{
		ID:              fmt.Sprintf("cs_test_%d", f.sessions),
		URL:             fmt.Sprintf("https://checkout.example/%d", f.sessions),
		PaymentIntentID: fmt.Sprintf("pi_test_%d", f.sessions),
	}, nil
}

func (f *fakeProvider) RetrieveSession(_ context.Context, id string) (*SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.status
	if status == "" {
		status = SessionStatusComplete
	}
	return &SessionState{Status: status, PaymentIntentID: "pi_from_" + id}, nil
}

func (f *fakeProvider) ExpireSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, id)
	return nil
}

func (f *fakeProvider) Refund(_ context.Context, paymentIntentID string, amountCents int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return "", f.refundErr
	}
	f.refunds = append(f.refunds, amountCents)
	return "re_test_1", nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []domain.PurchaseEvent
}

func (f *fakeNotifier) Publish(_ context.Context, event domain.PurchaseEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

var errProviderDown = errors.New("provider unavailable")

type testEnv struct {
	svc       *CheckoutService
	purchases *fakePurchases
	catalog   *fakeCatalog
	promos    *fakePromos
	provider  *fakeProvider
	notifier  *fakeNotifier
}

func newTestEnv(targets ...*domain.PurchaseTarget) *testEnv {
	cfg := config.Checkout{
		MinChargeCents:  50,
		LockTimeout:     200 * time.Millisecond,
		LockHoldCeiling: 5 * time.Second,
		PendingTTL:      24 * time.Hour,
		RefundWindow:    30 * 24 * time.Hour,
		ProviderRetry:   config.RetryConfig{Attempts: 1, Delay: time.Millisecond, MaxDelay: time.Millisecond},
	}

	env := &testEnv{
		purchases: newFakePurchases(),
		catalog:   newFakeCatalog(targets...),
		promos:    newFakePromos(),
		provider:  &fakeProvider{},
		notifier:  &fakeNotifier{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc = NewCheckoutService(
		cfg,
		env.purchases,
		env.catalog,
		env.promos,
		env.provider,
		env.notifier,
		lock.NewManager(cfg.LockTimeout, cfg.LockHoldCeiling),
		log,
	)
	return env
}

func paidTarget(price int64) *domain.PurchaseTarget {
	return &domain.PurchaseTarget{
		ID:                    uuid.New(),
		Type:                  domain.PurchaseTypeProgram,
		Title:                 "Effective Communication Workshop",
		PriceCents:            price,
		ClassRepDiscountCents: 1000,
		ClassRepLimit:         2,
		OrganizerID:           uuid.New(),
	}
}
