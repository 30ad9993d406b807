// internal/adapters/db/catalog_repository.go
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ammerola/stockledger/internal/core/domain"
)

type productRepository struct {
	q querier
}

func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO products (id, sku, name, created_at)
		VALUES ($1, $2, $3, $4)`,
		product.ID, product.SKU, product.Name, product.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", mapError(err))
	}
	return nil
}

func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	row := r.q.QueryRow(ctx, `SELECT id, sku, name, created_at FROM products WHERE id = $1`, id)

	product, err := ScanOne(row, func(row pgx.Row) (*domain.Product, error) {
		var p domain.Product
		if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.CreatedAt); err != nil {
			return nil, err
		}
		return &p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", mapError(err))
	}
	return product, nil
}

type customerRepository struct {
	q querier
}

func (r *customerRepository) Create(ctx context.Context, c *domain.Customer) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO customers (id, name, phone, total_orders, total_spent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, c.Phone, c.TotalOrders, c.TotalSpent, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", mapError(err))
	}
	return nil
}

func (r *customerRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Customer, error) {
	row := r.q.QueryRow(ctx, `
		SELECT id, name, phone, total_orders, total_spent, created_at, updated_at
		FROM customers WHERE id = $1`, id)

	customer, err := ScanOne(row, func(row pgx.Row) (*domain.Customer, error) {
		var c domain.Customer
		if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.TotalOrders, &c.TotalSpent, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		return &c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", mapError(err))
	}
	return customer, nil
}

func (r *customerRepository) RecordPurchase(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE customers
		SET total_orders = total_orders + 1, total_spent = total_spent + $2, updated_at = $3
		WHERE id = $1`,
		id, amount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record purchase: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("customer", id)
	}
	return nil
}

type sequenceRepository struct {
	q querier
}

// Next relies on the upsert row lock, so concurrent callers for the same key
// queue behind each other and each sees a distinct value.
func (r *sequenceRepository) Next(ctx context.Context, txType domain.TransactionType, dateKey string) (int64, error) {
	var value int64
	err := r.q.QueryRow(ctx, `
		INSERT INTO sequence_counters (tx_type, date_key, value, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (tx_type, date_key)
		DO UPDATE SET value = sequence_counters.value + 1, updated_at = NOW()
		RETURNING value`,
		string(txType), dateKey).Scan(&value)
	if err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s%s: %w", txType, dateKey, mapError(err))
	}
	return value, nil
}

type movementRepository struct {
	q querier
}

var movementColumns = []string{
	"id", "lot_id", "product_id", "location_kind", "location_id",
	"delta", "reason", "reference", "created_by", "created_at",
}

func (r *movementRepository) Record(ctx context.Context, movements ...*domain.StockMovement) error {
	if len(movements) == 0 {
		return nil
	}

	_, err := r.q.CopyFrom(ctx,
		pgx.Identifier{"stock_movements"},
		movementColumns,
		pgx.CopyFromSlice(len(movements), func(i int) ([]any, error) {
			m := movements[i]
			return []any{
				m.ID, m.LotID, m.ProductID, string(m.Location.Kind), m.Location.ID,
				m.Delta, string(m.Reason), m.Reference, m.CreatedBy, m.CreatedAt,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to record movements: %w", mapError(err))
	}
	return nil
}

func (r *movementRepository) ListByLot(ctx context.Context, lotID uuid.UUID) ([]*domain.StockMovement, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, lot_id, product_id, location_kind, location_id, delta, reason, reference, created_by, created_at
		FROM stock_movements
		WHERE lot_id = $1
		ORDER BY created_at ASC, id ASC`, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list movements: %w", mapError(err))
	}

	return ScanMany(rows, func(rows pgx.Rows) (*domain.StockMovement, error) {
		var m domain.StockMovement
		err := rows.Scan(&m.ID, &m.LotID, &m.ProductID, &m.Location.Kind, &m.Location.ID,
			&m.Delta, &m.Reason, &m.Reference, &m.CreatedBy, &m.CreatedAt)
		if err != nil {
			return nil, err
		}
		return &m, nil
	})
}
