package order

import "context"

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	UserID string
	Status Status
	Page   int
	Size   int
}

// Repository persists whole aggregates. Update must compare the stored
// version and return ErrConflict when it does not match, so concurrent
// writers to the same order are serialized.
type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Update(ctx context.Context, o *Order) error
	FindByID(ctx context.Context, id string) (*Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*Order, error)
	List(ctx context.Context, f ListFilter) ([]*Order, error)

	// Exists reports whether an order id has been persisted. Used by the
	// reservation sweeper to detect orphaned claims.
	Exists(ctx context.Context, id string) (bool, error)
}
