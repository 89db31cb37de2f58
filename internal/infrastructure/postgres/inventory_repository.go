package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/atlas-commerce/fulfillment/internal/domain/inventory"
)

// InventoryRepository implements the ledger counters on Postgres. The reserve
// path is one conditional UPDATE, so the availability check and the counter
// bump are a single atomic statement; concurrent reservations for the last
// unit serialize on the row and exactly one wins.
type InventoryRepository struct {
	pool *pgxpool.Pool
}

func NewInventoryRepository(pool *pgxpool.Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool}
}

func (r *InventoryRepository) Create(ctx context.Context, p *domain.Product) error {
	const stmt = `
INSERT INTO products (id, sku, name, price, stock_quantity, reserved_quantity, low_stock_threshold, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := runner(ctx, r.pool).Exec(ctx, stmt,
		p.ID, p.SKU, p.Name, p.Price, p.StockQuantity, p.ReservedQuantity,
		p.LowStockThreshold, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicateSKU
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

const productColumns = `id, sku, name, price, stock_quantity, reserved_quantity, low_stock_threshold, status, created_at, updated_at`

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	return r.scanProduct(runner(ctx, r.pool).QueryRow(ctx, query, productID))
}

func (r *InventoryRepository) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE sku = $1`
	return r.scanProduct(runner(ctx, r.pool).QueryRow(ctx, query, sku))
}

func (r *InventoryRepository) ReserveStock(ctx context.Context, productID string, quantity int, orderID string) (domain.Movement, error) {
	var mv domain.Movement
	err := withTx(ctx, r.pool, func(txCtx context.Context) error {
		q := runner(txCtx, r.pool)

		const stmt = `
UPDATE products
SET reserved_quantity = reserved_quantity + $2, updated_at = NOW()
WHERE id = $1 AND stock_quantity - reserved_quantity >= $2
RETURNING stock_quantity, reserved_quantity`

		var level domain.StockLevel
		err := q.QueryRow(txCtx, stmt, productID, quantity).Scan(&level.Stock, &level.Reserved)
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row is missing or availability was insufficient;
			// distinguish for the caller.
			var exists bool
			if checkErr := q.QueryRow(txCtx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); checkErr != nil {
				return fmt.Errorf("reserve stock: %w", checkErr)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrInsufficientStock
		}
		if err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}

		mv = domain.Movement{
			Before: domain.StockLevel{Stock: level.Stock, Reserved: level.Reserved - quantity},
			After:  level,
		}

		const journal = `INSERT INTO reservations (product_id, order_id, quantity, created_at) VALUES ($1, $2, $3, NOW())`
		if _, err := q.Exec(txCtx, journal, productID, orderID, quantity); err != nil {
			return fmt.Errorf("journal reservation: %w", err)
		}
		return nil
	})
	return mv, err
}

func (r *InventoryRepository) ReleaseStock(ctx context.Context, productID string, quantity int, orderID string) (domain.Movement, error) {
	var mv domain.Movement
	err := withTx(ctx, r.pool, func(txCtx context.Context) error {
		q := runner(txCtx, r.pool)

		// RETURNING sees post-update values; the CTE captures the before
		// image under the row lock.
		var after domain.StockLevel
		var beforeReserved int
		err := q.QueryRow(txCtx, `
WITH prior AS (
	SELECT reserved_quantity AS reserved_before FROM products WHERE id = $1 FOR UPDATE
)
UPDATE products
SET reserved_quantity = GREATEST(products.reserved_quantity - $2, 0), updated_at = NOW()
FROM prior
WHERE products.id = $1
RETURNING products.stock_quantity, products.reserved_quantity, prior.reserved_before`,
			productID, quantity,
		).Scan(&after.Stock, &after.Reserved, &beforeReserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("release stock: %w", err)
		}

		mv = domain.Movement{
			Before: domain.StockLevel{Stock: after.Stock, Reserved: beforeReserved},
			After:  after,
		}

		const journal = `DELETE FROM reservations WHERE product_id = $1 AND order_id = $2`
		if _, err := q.Exec(txCtx, journal, productID, orderID); err != nil {
			return fmt.Errorf("drop reservation journal: %w", err)
		}
		return nil
	})
	return mv, err
}

func (r *InventoryRepository) ConfirmSale(ctx context.Context, productID string, quantity int, orderID string) (domain.Movement, error) {
	var mv domain.Movement
	err := withTx(ctx, r.pool, func(txCtx context.Context) error {
		q := runner(txCtx, r.pool)

		var after domain.StockLevel
		var beforeStock, beforeReserved int
		err := q.QueryRow(txCtx, `
WITH prior AS (
	SELECT stock_quantity AS stock_before, reserved_quantity AS reserved_before
	FROM products WHERE id = $1 FOR UPDATE
)
UPDATE products
SET stock_quantity = GREATEST(products.stock_quantity - $2, 0),
    reserved_quantity = GREATEST(products.reserved_quantity - $2, 0),
    updated_at = NOW()
FROM prior
WHERE products.id = $1
RETURNING products.stock_quantity, products.reserved_quantity, prior.stock_before, prior.reserved_before`,
			productID, quantity,
		).Scan(&after.Stock, &after.Reserved, &beforeStock, &beforeReserved)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("confirm sale: %w", err)
		}

		mv = domain.Movement{
			Before: domain.StockLevel{Stock: beforeStock, Reserved: beforeReserved},
			After:  after,
		}

		const journal = `DELETE FROM reservations WHERE product_id = $1 AND order_id = $2`
		if _, err := q.Exec(txCtx, journal, productID, orderID); err != nil {
			return fmt.Errorf("drop reservation journal: %w", err)
		}
		return nil
	})
	return mv, err
}

func (r *InventoryRepository) ListLowStock(ctx context.Context) ([]*domain.Product, error) {
	query := `SELECT ` + productColumns + `
FROM products
WHERE status = 'active' AND stock_quantity - reserved_quantity <= low_stock_threshold`

	rows, err := runner(ctx, r.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var products []*domain.Product
	for rows.Next() {
		p, err := r.scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (r *InventoryRepository) StaleReservations(ctx context.Context, cutoff time.Time) ([]domain.Reservation, error) {
	const query = `
SELECT product_id, order_id, quantity, created_at
FROM reservations
WHERE created_at < $1
ORDER BY created_at`

	rows, err := runner(ctx, r.pool).Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("stale reservations: %w", err)
	}
	defer rows.Close()

	var stale []domain.Reservation
	for rows.Next() {
		var entry domain.Reservation
		if err := rows.Scan(&entry.ProductID, &entry.OrderID, &entry.Quantity, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		stale = append(stale, entry)
	}
	return stale, rows.Err()
}

func (r *InventoryRepository) scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID, &p.SKU, &p.Name, &p.Price, &p.StockQuantity, &p.ReservedQuantity,
		&p.LowStockThreshold, &p.Status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &p, nil
}
