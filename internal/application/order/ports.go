package order

import (
	"context"

	dominv "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
)

// IDGenerator produces unique order ids.
type IDGenerator interface {
	NewID() string
}

// InventoryPort is the coordinator's view of the inventory ledger. Release
// deliberately returns nothing: compensation is best-effort and must never
// fail the caller.
type InventoryPort interface {
	GetProduct(ctx context.Context, productID string) (*dominv.Product, error)
	Reserve(ctx context.Context, productID string, quantity int, orderID string) error
	Release(ctx context.Context, productID string, quantity int, orderID string)
	ConfirmSale(ctx context.Context, productID string, quantity int, orderID string) error
}
