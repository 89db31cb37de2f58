package payment

import "context"

// Repository persists payment records. Insert must enforce the unique
// idempotency key at the storage layer and return ErrDuplicateKey on replay.
type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	Update(ctx context.Context, p *Payment) error
	FindByID(ctx context.Context, id string) (*Payment, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*Payment, error)
}
