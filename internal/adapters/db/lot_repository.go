// internal/adapters/db/lot_repository.go
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

const lotColumns = `id, product_id, location_kind, location_id, batch_number, quantity,
	unit_cost, unit_price, expiry_date, received_at, created_at, updated_at`

// fifoOrder is the allocation order shared by every lot listing.
const fifoOrder = "received_at ASC, created_at ASC, id ASC"

type lotRepository struct {
	q    querier
	lock bool
}

func scanLot(row pgx.Row) (*domain.StockLot, error) {
	var lot domain.StockLot
	err := row.Scan(
		&lot.ID, &lot.ProductID, &lot.Location.Kind, &lot.Location.ID, &lot.BatchNumber, &lot.Quantity,
		&lot.UnitCost, &lot.UnitPrice, &lot.ExpiryDate, &lot.ReceivedAt, &lot.CreatedAt, &lot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

func scanLotRows(rows pgx.Rows) (*domain.StockLot, error) { return scanLot(rows) }

func (r *lotRepository) Create(ctx context.Context, lot *domain.StockLot) error {
	query := `
		INSERT INTO stock_lots (` + lotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.q.Exec(ctx, query,
		lot.ID, lot.ProductID, lot.Location.Kind, lot.Location.ID, lot.BatchNumber, lot.Quantity,
		lot.UnitCost, lot.UnitPrice, lot.ExpiryDate, lot.ReceivedAt, lot.CreatedAt, lot.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert stock lot: %w", mapError(err))
	}
	return nil
}

func (r *lotRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.StockLot, error) {
	query := forUpdate(`SELECT `+lotColumns+` FROM stock_lots WHERE id = $1`, r.lock)

	lot, err := ScanOne(r.q.QueryRow(ctx, query, id), scanLot)
	if err != nil {
		return nil, fmt.Errorf("failed to find stock lot: %w", mapError(err))
	}
	return lot, nil
}

func (r *lotRepository) ListAvailable(ctx context.Context, productID uuid.UUID, loc domain.Location) ([]*domain.StockLot, error) {
	query := forUpdate(`
		SELECT `+lotColumns+`
		FROM stock_lots
		WHERE product_id = $1 AND location_kind = $2 AND location_id = $3 AND quantity > 0
		ORDER BY `+fifoOrder, r.lock)

	rows, err := r.q.Query(ctx, query, productID, loc.Kind, loc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list available lots: %w", mapError(err))
	}
	return ScanMany(rows, scanLotRows)
}

func (r *lotRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*domain.StockLot, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := forUpdate(`SELECT `+lotColumns+` FROM stock_lots WHERE id = ANY($1) ORDER BY `+fifoOrder, r.lock)

	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots by id: %w", mapError(err))
	}
	return ScanMany(rows, scanLotRows)
}

// FindByBatch inside a transaction first takes an advisory lock on the batch
// key, so a lot that does not exist yet cannot be created twice by
// concurrent transfers. The lock is released at commit or rollback.
func (r *lotRepository) FindByBatch(ctx context.Context, productID uuid.UUID, loc domain.Location, batch string) (*domain.StockLot, error) {
	if r.lock {
		if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, batchLockKey(productID, loc, batch)); err != nil {
			return nil, fmt.Errorf("failed to lock batch: %w", mapError(err))
		}
	}

	query := forUpdate(`
		SELECT `+lotColumns+`
		FROM stock_lots
		WHERE product_id = $1 AND location_kind = $2 AND location_id = $3 AND batch_number = $4
		ORDER BY `+fifoOrder+`
		LIMIT 1`, r.lock)

	lot, err := ScanOne(r.q.QueryRow(ctx, query, productID, loc.Kind, loc.ID, batch), scanLot)
	if err != nil {
		return nil, fmt.Errorf("failed to find lot by batch: %w", mapError(err))
	}
	return lot, nil
}

func (r *lotRepository) Decrement(ctx context.Context, id uuid.UUID, qty int) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE stock_lots
		SET quantity = quantity - $2, updated_at = $3
		WHERE id = $1 AND quantity >= $2`,
		id, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to decrement lot: %w", mapError(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return domain.NewNotFoundError("stock lot", id)
	}
	return fmt.Errorf("%w: lot %s holds fewer than %d units", domain.ErrConflict, id, qty)
}

func (r *lotRepository) Increment(ctx context.Context, id uuid.UUID, qty int) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE stock_lots
		SET quantity = quantity + $2, updated_at = $3
		WHERE id = $1`,
		id, qty, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to increment lot: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("stock lot", id)
	}
	return nil
}

func (r *lotRepository) StockOnHand(ctx context.Context, productID uuid.UUID, loc *domain.Location) (int, error) {
	qb := psql.Select("COALESCE(SUM(quantity), 0)").
		From("stock_lots").
		Where(squirrel.Eq{"product_id": productID})
	if loc != nil {
		qb = qb.Where(squirrel.Eq{"location_kind": loc.Kind, "location_id": loc.ID})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build stock query: %w", err)
	}

	var total int64
	if err := r.q.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum stock on hand: %w", mapError(err))
	}
	return int(total), nil
}

func (r *lotRepository) List(ctx context.Context, filter ports.LotFilter) ([]*domain.StockLot, error) {
	qb := psql.Select(lotColumns).From("stock_lots").OrderBy(fifoOrder)

	if filter.ProductID != nil {
		qb = qb.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.Location != nil {
		qb = qb.Where(squirrel.Eq{"location_kind": filter.Location.Kind, "location_id": filter.Location.ID})
	}
	if filter.BatchNumber != nil {
		qb = qb.Where(squirrel.Eq{"batch_number": *filter.BatchNumber})
	}
	if filter.InStockOnly {
		qb = qb.Where(squirrel.Gt{"quantity": 0})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build lot query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", mapError(err))
	}
	return ScanMany(rows, scanLotRows)
}

func (r *lotRepository) exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM stock_lots WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check lot: %w", mapError(err))
	}
	return exists, nil
}

func batchLockKey(productID uuid.UUID, loc domain.Location, batch string) string {
	return "lot-batch:" + productID.String() + ":" + loc.String() + ":" + batch
}
