package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/atlas-commerce/fulfillment/internal/domain/payment"
)

// PaymentRepository stores payment records. The unique index on
// idempotency_key is what makes Insert the arbiter of replay races: losers
// get ErrDuplicateKey and re-read the winner's row.
type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	const stmt = `
INSERT INTO payments (
	id, order_id, user_id, idempotency_key, amount, currency, method, status,
	transaction_id, failure_reason, card_last_four, card_brand, refund_amount,
	created_at, updated_at, processed_at, refunded_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := runner(ctx, r.pool).Exec(ctx, stmt,
		p.ID, p.OrderID, p.UserID, p.IdempotencyKey, p.Amount, p.Currency, p.Method, p.Status,
		p.TransactionID, p.FailureReason, p.CardLastFour, p.CardBrand, p.RefundAmount,
		p.CreatedAt, p.UpdatedAt, p.ProcessedAt, p.RefundedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateKey
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment) error {
	const stmt = `
UPDATE payments SET
	status = $2, transaction_id = $3, failure_reason = $4, refund_amount = $5,
	updated_at = $6, processed_at = $7, refunded_at = $8
WHERE id = $1`

	tag, err := runner(ctx, r.pool).Exec(ctx, stmt,
		p.ID, p.Status, p.TransactionID, p.FailureReason, p.RefundAmount,
		p.UpdatedAt, p.ProcessedAt, p.RefundedAt,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const paymentColumns = `
	id, order_id, user_id, idempotency_key, amount, currency, method, status,
	transaction_id, failure_reason, card_last_four, card_brand, refund_amount,
	created_at, updated_at, processed_at, refunded_at`

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*domain.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(runner(ctx, r.pool).QueryRow(ctx, query, id))
}

func (r *PaymentRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE idempotency_key = $1`
	return scanPayment(runner(ctx, r.pool).QueryRow(ctx, query, key))
}

func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1`
	return scanPayment(runner(ctx, r.pool).QueryRow(ctx, query, orderID))
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.OrderID, &p.UserID, &p.IdempotencyKey, &p.Amount, &p.Currency, &p.Method, &p.Status,
		&p.TransactionID, &p.FailureReason, &p.CardLastFour, &p.CardBrand, &p.RefundAmount,
		&p.CreatedAt, &p.UpdatedAt, &p.ProcessedAt, &p.RefundedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}
