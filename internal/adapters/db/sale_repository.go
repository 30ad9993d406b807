// internal/adapters/db/sale_repository.go
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/ammerola/stockledger/internal/core/domain"
)

const saleColumns = `id, location_kind, location_id, customer_id, lines, subtotal, discount_amount,
	total_amount, payments, paid_amount, notes, returns, created_by, created_at, updated_at`

type saleRepository struct {
	q    querier
	lock bool
}

func scanSale(row pgx.Row) (*domain.Sale, error) {
	var (
		sale                     domain.Sale
		lines, payments, returns []byte
	)
	err := row.Scan(
		&sale.ID, &sale.Location.Kind, &sale.Location.ID, &sale.CustomerID, &lines,
		&sale.Subtotal, &sale.DiscountAmount, &sale.TotalAmount, &payments, &sale.PaidAmount,
		&sale.Notes, &returns, &sale.CreatedBy, &sale.CreatedAt, &sale.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(lines, &sale.Lines); err != nil {
		return nil, fmt.Errorf("failed to decode sale lines: %w", err)
	}
	if err := json.Unmarshal(payments, &sale.Payments); err != nil {
		return nil, fmt.Errorf("failed to decode sale payments: %w", err)
	}
	if err := json.Unmarshal(returns, &sale.Returns); err != nil {
		return nil, fmt.Errorf("failed to decode sale returns: %w", err)
	}
	return &sale, nil
}

func scanSaleRows(rows pgx.Rows) (*domain.Sale, error) { return scanSale(rows) }

func (r *saleRepository) Create(ctx context.Context, sale *domain.Sale) error {
	lines, err := json.Marshal(sale.Lines)
	if err != nil {
		return fmt.Errorf("failed to encode sale lines: %w", err)
	}
	payments, err := json.Marshal(sale.Payments)
	if err != nil {
		return fmt.Errorf("failed to encode sale payments: %w", err)
	}
	returns := sale.Returns
	if returns == nil {
		returns = []domain.Return{}
	}
	returnsJSON, err := json.Marshal(returns)
	if err != nil {
		return fmt.Errorf("failed to encode sale returns: %w", err)
	}

	query := `
		INSERT INTO sales (` + saleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err = r.q.Exec(ctx, query,
		sale.ID, sale.Location.Kind, sale.Location.ID, sale.CustomerID, lines,
		sale.Subtotal, sale.DiscountAmount, sale.TotalAmount, payments, sale.PaidAmount,
		sale.Notes, returnsJSON, sale.CreatedBy, sale.CreatedAt, sale.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sale %s: %w", sale.ID, mapError(err))
	}
	return nil
}

func (r *saleRepository) FindByID(ctx context.Context, id string) (*domain.Sale, error) {
	sale, err := ScanOne(r.q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id), scanSale)
	if err != nil {
		return nil, fmt.Errorf("failed to find sale: %w", mapError(err))
	}
	return sale, nil
}

func (r *saleRepository) FindByIDForUpdate(ctx context.Context, id string) (*domain.Sale, error) {
	query := forUpdate(`SELECT `+saleColumns+` FROM sales WHERE id = $1`, r.lock)

	sale, err := ScanOne(r.q.QueryRow(ctx, query, id), scanSale)
	if err != nil {
		return nil, fmt.Errorf("failed to lock sale: %w", mapError(err))
	}
	return sale, nil
}

func (r *saleRepository) AppendReturn(ctx context.Context, saleID string, ret domain.Return) error {
	payload, err := json.Marshal([]domain.Return{ret})
	if err != nil {
		return fmt.Errorf("failed to encode return: %w", err)
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE sales
		SET returns = returns || $2::jsonb, updated_at = $3
		WHERE id = $1`,
		saleID, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append return: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("sale", saleID)
	}
	return nil
}

func (r *saleRepository) ListSince(ctx context.Context, since time.Time, loc *domain.Location) ([]*domain.Sale, error) {
	qb := psql.Select(saleColumns).
		From("sales").
		Where(squirrel.GtOrEq{"created_at": since}).
		OrderBy("created_at ASC", "id ASC")
	if loc != nil {
		qb = qb.Where(squirrel.Eq{"location_kind": loc.Kind, "location_id": loc.ID})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build sales query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", mapError(err))
	}
	return ScanMany(rows, scanSaleRows)
}
