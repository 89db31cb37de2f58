package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/atlas-commerce/fulfillment/internal/domain/order"
)

// OrderRepository keeps whole order aggregates in memory with version-checked
// updates, so a stale writer observes ErrConflict exactly like it would
// against the Postgres store.
type OrderRepository struct {
	mu      sync.RWMutex
	orders  map[string]*domain.Order
	numbers map[string]string
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[string]*domain.Order),
		numbers: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[o.ID]; exists {
		return domain.ErrConflict
	}
	r.orders[o.ID] = o.Clone()
	r.numbers[o.OrderNumber] = o.ID
	return nil
}

func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	_ = ctx
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.orders[o.ID]
	if !exists {
		return domain.ErrNotFound
	}
	if stored.Version != o.Version {
		return domain.ErrConflict
	}

	clone := o.Clone()
	clone.Version++
	r.orders[o.ID] = clone
	o.Version = clone.Version
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.numbers[orderNumber]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.orders[id].Clone(), nil
}

func (r *OrderRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Order, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*domain.Order
	for _, o := range r.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		matched = append(matched, o.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Size <= 0 {
		return matched, nil
	}
	start := f.Page * f.Size
	if start >= len(matched) {
		return nil, nil
	}
	end := start + f.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (r *OrderRepository) Exists(ctx context.Context, id string) (bool, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.orders[id]
	return ok, nil
}
