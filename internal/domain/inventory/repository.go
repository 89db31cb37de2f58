package inventory

import (
	"context"
	"time"
)

// Repository owns product rows and the stock counters. ReserveStock must be a
// single atomic conditional update: it succeeds only if
// stock - reserved >= quantity held at the moment of the write, so concurrent
// reservations for the last unit cannot both win.
type Repository interface {
	Create(ctx context.Context, p *Product) error
	Get(ctx context.Context, productID string) (*Product, error)
	GetBySKU(ctx context.Context, sku string) (*Product, error)

	// ReserveStock atomically adds quantity to reserved when enough stock is
	// available, returning ErrInsufficientStock otherwise.
	ReserveStock(ctx context.Context, productID string, quantity int, orderID string) (Movement, error)

	// ReleaseStock subtracts quantity from reserved, floored at zero. It never
	// reports insufficiency; compensation must be unconditionally safe.
	ReleaseStock(ctx context.Context, productID string, quantity int, orderID string) (Movement, error)

	// ConfirmSale retires reserved stock permanently, decrementing both
	// counters.
	ConfirmSale(ctx context.Context, productID string, quantity int, orderID string) (Movement, error)

	ListLowStock(ctx context.Context) ([]*Product, error)

	// StaleReservations returns journal entries created before the cutoff.
	StaleReservations(ctx context.Context, cutoff time.Time) ([]Reservation, error)
}
