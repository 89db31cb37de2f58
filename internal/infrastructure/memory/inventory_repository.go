package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
)

// InventoryRepository keeps products and the reservation journal in memory.
// All counter mutations happen under one lock, which gives the same
// atomic-conditional guarantee the Postgres store gets from a conditional
// UPDATE.
type InventoryRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
	skus     map[string]string
	journal  []domain.Reservation
}

func NewInventoryRepository() *InventoryRepository {
	return &InventoryRepository{
		products: make(map[string]*domain.Product),
		skus:     make(map[string]string),
	}
}

func (r *InventoryRepository) Create(ctx context.Context, p *domain.Product) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skus[p.SKU]; exists {
		return domain.ErrDuplicateSKU
	}
	r.products[p.ID] = cloneProduct(p)
	r.skus[p.SKU] = p.ID
	return nil
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[productID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (r *InventoryRepository) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.skus[sku]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneProduct(r.products[id]), nil
}

func (r *InventoryRepository) ReserveStock(ctx context.Context, productID string, quantity int, orderID string) (domain.Movement, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return domain.Movement{}, domain.ErrNotFound
	}

	before := domain.StockLevel{Stock: p.StockQuantity, Reserved: p.ReservedQuantity}
	if before.Available() < quantity {
		return domain.Movement{}, domain.ErrInsufficientStock
	}

	p.ReservedQuantity += quantity
	p.UpdatedAt = time.Now().UTC()
	r.journal = append(r.journal, domain.Reservation{
		ProductID: productID,
		OrderID:   orderID,
		Quantity:  quantity,
		CreatedAt: time.Now().UTC(),
	})

	return domain.Movement{
		Before: before,
		After:  domain.StockLevel{Stock: p.StockQuantity, Reserved: p.ReservedQuantity},
	}, nil
}

func (r *InventoryRepository) ReleaseStock(ctx context.Context, productID string, quantity int, orderID string) (domain.Movement, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return domain.Movement{}, domain.ErrNotFound
	}

	before := domain.StockLevel{Stock: p.StockQuantity, Reserved: p.ReservedQuantity}
	released := quantity
	if released > p.ReservedQuantity {
		released = p.ReservedQuantity
	}
	p.ReservedQuantity -= released
	p.UpdatedAt = time.Now().UTC()
	r.dropJournal(productID, orderID)

	return domain.Movement{
		Before: before,
		After:  domain.StockLevel{Stock: p.StockQuantity, Reserved: p.ReservedQuantity},
	}, nil
}

func (r *InventoryRepository) ConfirmSale(ctx context.Context, productID string, quantity int, orderID string) (domain.Movement, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[productID]
	if !ok {
		return domain.Movement{}, domain.ErrNotFound
	}

	before := domain.StockLevel{Stock: p.StockQuantity, Reserved: p.ReservedQuantity}
	p.StockQuantity -= quantity
	p.ReservedQuantity -= quantity
	if p.StockQuantity < 0 {
		p.StockQuantity = 0
	}
	if p.ReservedQuantity < 0 {
		p.ReservedQuantity = 0
	}
	p.UpdatedAt = time.Now().UTC()
	r.dropJournal(productID, orderID)

	return domain.Movement{
		Before: before,
		After:  domain.StockLevel{Stock: p.StockQuantity, Reserved: p.ReservedQuantity},
	}, nil
}

func (r *InventoryRepository) ListLowStock(ctx context.Context) ([]*domain.Product, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var low []*domain.Product
	for _, p := range r.products {
		if p.Status == domain.ProductActive && p.LowStock() {
			low = append(low, cloneProduct(p))
		}
	}
	return low, nil
}

func (r *InventoryRepository) StaleReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []domain.Reservation
	for _, entry := range r.journal {
		if entry.CreatedAt.Before(cutoff) {
			stale = append(stale, entry)
		}
	}
	return stale, nil
}

func (r *InventoryRepository) dropJournal(productID, orderID string) {
	kept := r.journal[:0]
	for _, entry := range r.journal {
		if entry.ProductID == productID && entry.OrderID == orderID {
			continue
		}
		kept = append(kept, entry)
	}
	r.journal = kept
}

func cloneProduct(p *domain.Product) *domain.Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
