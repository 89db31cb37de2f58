package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/atlas-commerce/fulfillment/internal/domain/payment"
)

// PaymentRepository keeps payment records in memory with a unique index on
// the idempotency key.
type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	keys     map[string]string
	orders   map[string]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*domain.Payment),
		keys:     make(map[string]string),
		orders:   make(map[string]string),
	}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[p.IdempotencyKey]; exists {
		return domain.ErrDuplicateKey
	}
	r.payments[p.ID] = p.Clone()
	r.keys[p.IdempotencyKey] = p.ID
	r.orders[p.OrderID] = p.ID
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; !exists {
		return domain.ErrNotFound
	}
	r.payments[p.ID] = p.Clone()
	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.payments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.keys[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.payments[id].Clone(), nil
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.orders[orderID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.payments[id].Clone(), nil
}
