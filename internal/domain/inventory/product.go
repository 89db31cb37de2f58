package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	ErrDuplicateSKU      = errors.New("inventory: sku already exists")
)

type ProductStatus string

const (
	ProductActive       ProductStatus = "active"
	ProductInactive     ProductStatus = "inactive"
	ProductDiscontinued ProductStatus = "discontinued"
)

// Product owns the per-product stock counters. Availability is always derived
// as stock - reserved; the two counters are only ever mutated through the
// repository's atomic operations.
type Product struct {
	ID                string
	SKU               string
	Name              string
	Price             decimal.Decimal
	StockQuantity     int
	ReservedQuantity  int
	LowStockThreshold int
	Status            ProductStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func NewProduct(id, sku, name string, price decimal.Decimal, stock, lowStockThreshold int) (*Product, error) {
	if stock < 0 {
		return nil, ErrInvalidQuantity
	}
	now := time.Now().UTC()
	return &Product{
		ID:                id,
		SKU:               sku,
		Name:              name,
		Price:             price,
		StockQuantity:     stock,
		LowStockThreshold: lowStockThreshold,
		Status:            ProductActive,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

func (p *Product) Available() int {
	return p.StockQuantity - p.ReservedQuantity
}

func (p *Product) InStock() bool {
	return p.Available() > 0
}

func (p *Product) LowStock() bool {
	return p.Available() <= p.LowStockThreshold
}

// Sellable reports whether the product may appear on a new order line.
func (p *Product) Sellable(quantity int) bool {
	return p.Status == ProductActive && p.Available() >= quantity
}

// StockLevel is a point-in-time snapshot of the two counters.
type StockLevel struct {
	Stock    int
	Reserved int
}

func (l StockLevel) Available() int { return l.Stock - l.Reserved }

// Movement records counter values around a single atomic mutation, for audit
// events.
type Movement struct {
	Before StockLevel
	After  StockLevel
}

// Reservation is one journal entry for a granted claim. Entries whose order
// never materialized are released by the sweeper after a TTL.
type Reservation struct {
	ProductID string
	OrderID   string
	Quantity  int
	CreatedAt time.Time
}
