// internal/adapters/db/demand_repository.go
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

const demandColumns = `id, product_id, location_kind, location_id, suggested_quantity, algorithm,
	status, inputs, notes, created_by, created_at, updated_at`

type demandRepository struct {
	q querier
}

func scanDemand(row pgx.Row) (*domain.Demand, error) {
	var (
		d          domain.Demand
		kind, id   *string
		inputsJSON []byte
	)
	err := row.Scan(
		&d.ID, &d.ProductID, &kind, &id, &d.SuggestedQuantity, &d.Algorithm,
		&d.Status, &inputsJSON, &d.Notes, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if kind != nil && id != nil {
		d.Location = &domain.Location{Kind: domain.LocationKind(*kind), ID: *id}
	}
	if err := json.Unmarshal(inputsJSON, &d.Inputs); err != nil {
		return nil, fmt.Errorf("failed to decode demand inputs: %w", err)
	}
	return &d, nil
}

func scanDemandRows(rows pgx.Rows) (*domain.Demand, error) { return scanDemand(rows) }

// CreateBatch inserts every demand in one round trip. The caller's
// transaction makes the batch all or nothing.
func (r *demandRepository) CreateBatch(ctx context.Context, demands []*domain.Demand) error {
	if len(demands) == 0 {
		return nil
	}

	query := `
		INSERT INTO demands (` + demandColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	batch := &pgx.Batch{}
	for _, d := range demands {
		inputs, err := json.Marshal(d.Inputs)
		if err != nil {
			return fmt.Errorf("failed to encode demand inputs: %w", err)
		}

		var kind, id *string
		if d.Location != nil {
			k := string(d.Location.Kind)
			kind, id = &k, &d.Location.ID
		}

		batch.Queue(query,
			d.ID, d.ProductID, kind, id, d.SuggestedQuantity, string(d.Algorithm),
			string(d.Status), inputs, d.Notes, d.CreatedBy, d.CreatedAt, d.UpdatedAt,
		)
	}

	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	for i := range demands {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert demand %d: %w", i, mapError(err))
		}
	}
	return nil
}

func (r *demandRepository) FindByID(ctx context.Context, id string) (*domain.Demand, error) {
	demand, err := ScanOne(r.q.QueryRow(ctx, `SELECT `+demandColumns+` FROM demands WHERE id = $1`, id), scanDemand)
	if err != nil {
		return nil, fmt.Errorf("failed to find demand: %w", mapError(err))
	}
	return demand, nil
}

func (r *demandRepository) List(ctx context.Context, filter ports.DemandFilter) ([]*domain.Demand, error) {
	qb := psql.Select(demandColumns).From("demands").OrderBy("created_at DESC", "id ASC")

	if filter.Status != nil {
		qb = qb.Where(squirrel.Eq{"status": string(*filter.Status)})
	}
	if filter.ProductID != nil {
		qb = qb.Where(squirrel.Eq{"product_id": *filter.ProductID})
	}
	if filter.Algorithm != nil {
		qb = qb.Where(squirrel.Eq{"algorithm": string(*filter.Algorithm)})
	}
	if filter.Limit > 0 {
		qb = qb.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		qb = qb.Offset(uint64(filter.Offset))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build demand query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list demands: %w", mapError(err))
	}
	return ScanMany(rows, scanDemandRows)
}

func (r *demandRepository) UpdateStatus(ctx context.Context, id string, from, to domain.DemandStatus, at time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE demands SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("failed to update demand status: %w", mapError(err))
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM demands WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check demand: %w", mapError(err))
	}
	if !exists {
		return domain.NewNotFoundError("demand", id)
	}
	return fmt.Errorf("%w: demand %s is no longer %s", domain.ErrConflict, id, from)
}

func (r *demandRepository) ExpirePending(ctx context.Context, cutoff, at time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE demands SET status = $1, updated_at = $2
		WHERE status = $3 AND created_at < $4`,
		string(domain.DemandExpired), at, string(domain.DemandPending), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to expire demands: %w", mapError(err))
	}
	return tag.RowsAffected(), nil
}
