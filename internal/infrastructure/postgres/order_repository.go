package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/atlas-commerce/fulfillment/internal/domain/order"
)

// OrderRepository persists whole aggregates: the order row and its lines are
// always written together in one transaction. Updates are version-checked so
// concurrent writers to the same order serialize and the loser gets
// ErrConflict.
type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		q := runner(txCtx, r.pool)

		const stmt = `
INSERT INTO orders (
	id, order_number, user_id, status,
	subtotal, tax, shipping, discount, total, currency,
	shipping_street, shipping_city, shipping_state, shipping_postal_code, shipping_country,
	recipient_name, recipient_phone,
	payment_id, payment_method, notes,
	created_at, updated_at, paid_at, shipped_at, delivered_at, version
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`

		_, err := q.Exec(txCtx, stmt,
			o.ID, o.OrderNumber, o.UserID, o.Status,
			o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total, o.Currency,
			o.ShippingInfo.Street, o.ShippingInfo.City, o.ShippingInfo.State,
			o.ShippingInfo.PostalCode, o.ShippingInfo.Country,
			o.ShippingInfo.RecipientName, o.ShippingInfo.RecipientPhone,
			o.PaymentID, o.PaymentMethod, o.Notes,
			o.CreatedAt, o.UpdatedAt, o.PaidAt, o.ShippedAt, o.DeliveredAt, o.Version,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrConflict
			}
			return fmt.Errorf("insert order: %w", err)
		}

		return r.insertLines(txCtx, o)
	})
}

func (r *OrderRepository) Update(ctx context.Context, o *domain.Order) error {
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		q := runner(txCtx, r.pool)

		const stmt = `
UPDATE orders SET
	status = $2, subtotal = $3, tax = $4, shipping = $5, discount = $6, total = $7,
	payment_id = $8, notes = $9, updated_at = $10,
	paid_at = $11, shipped_at = $12, delivered_at = $13,
	version = version + 1
WHERE id = $1 AND version = $14`

		tag, err := q.Exec(txCtx, stmt,
			o.ID, o.Status, o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total,
			o.PaymentID, o.Notes, o.UpdatedAt,
			o.PaidAt, o.ShippedAt, o.DeliveredAt, o.Version,
		)
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if checkErr := q.QueryRow(txCtx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); checkErr != nil {
				return fmt.Errorf("update order: %w", checkErr)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrConflict
		}

		o.Version++
		return nil
	})
}

const orderColumns = `
	id, order_number, user_id, status,
	subtotal, tax, shipping, discount, total, currency,
	shipping_street, shipping_city, shipping_state, shipping_postal_code, shipping_country,
	recipient_name, recipient_phone,
	payment_id, payment_method, notes,
	created_at, updated_at, paid_at, shipped_at, delivered_at, version`

func (r *OrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE id = $1`
	return r.loadOne(ctx, query, id)
}

func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE order_number = $1`
	return r.loadOne(ctx, query, orderNumber)
}

func (r *OrderRepository) List(ctx context.Context, f domain.ListFilter) ([]*domain.Order, error) {
	query := `SELECT` + orderColumns + ` FROM orders WHERE 1=1`
	args := []any{}
	if f.UserID != "" {
		args = append(args, f.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
	if f.Size > 0 {
		args = append(args, f.Size, f.Page*f.Size)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	rows, err := runner(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, o := range orders {
		if err := r.loadLines(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := runner(ctx, r.pool).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("order exists: %w", err)
	}
	return exists, nil
}

func (r *OrderRepository) loadOne(ctx context.Context, query string, arg any) (*domain.Order, error) {
	o, err := scanOrder(runner(ctx, r.pool).QueryRow(ctx, query, arg))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) insertLines(ctx context.Context, o *domain.Order) error {
	q := runner(ctx, r.pool)
	const stmt = `
INSERT INTO order_lines (order_id, position, product_id, sku, name, unit_price, quantity, subtotal)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for i, line := range o.Lines {
		if _, err := q.Exec(ctx, stmt,
			o.ID, i, line.ProductID, line.SKU, line.Name, line.UnitPrice, line.Quantity, line.Subtotal,
		); err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}
	return nil
}

func (r *OrderRepository) loadLines(ctx context.Context, o *domain.Order) error {
	const query = `
SELECT product_id, sku, name, unit_price, quantity, subtotal
FROM order_lines WHERE order_id = $1 ORDER BY position`

	rows, err := runner(ctx, r.pool).Query(ctx, query, o.ID)
	if err != nil {
		return fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	o.Lines = o.Lines[:0]
	for rows.Next() {
		var line domain.Line
		if err := rows.Scan(&line.ProductID, &line.SKU, &line.Name, &line.UnitPrice, &line.Quantity, &line.Subtotal); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, line)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status,
		&o.Subtotal, &o.Tax, &o.Shipping, &o.Discount, &o.Total, &o.Currency,
		&o.ShippingInfo.Street, &o.ShippingInfo.City, &o.ShippingInfo.State,
		&o.ShippingInfo.PostalCode, &o.ShippingInfo.Country,
		&o.ShippingInfo.RecipientName, &o.ShippingInfo.RecipientPhone,
		&o.PaymentID, &o.PaymentMethod, &o.Notes,
		&o.CreatedAt, &o.UpdatedAt, &o.PaidAt, &o.ShippedAt, &o.DeliveredAt, &o.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}
