// internal/adapters/db/store.go
package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

// Postgres SQLSTATE codes the ledger reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store is the Postgres implementation of ports.Store.
type Store struct {
	db     *Database
	q      querier
	inTx   bool
	logger *slog.Logger
}

// Statically assert that *Store implements the Store interface.
var _ ports.Store = (*Store)(nil)

// NewStore creates a ledger store on database
func NewStore(database *Database, logger *slog.Logger) *Store {
	return &Store{
		db:     database,
		q:      database.Pool(),
		logger: logger.With(slog.String("component", "ledger_store")),
	}
}

func (s *Store) Lots() ports.LotRepository { return &lotRepository{q: s.q, lock: s.inTx} }
func (s *Store) Sales() ports.SaleRepository { return &saleRepository{q: s.q, lock: s.inTx} }
func (s *Store) Customers() ports.CustomerRepository { return &customerRepository{q: s.q} }
func (s *Store) Products() ports.ProductRepository { return &productRepository{q: s.q} }
func (s *Store) Sequences() ports.SequenceRepository { return &sequenceRepository{q: s.q} }
func (s *Store) Demands() ports.DemandRepository { return &demandRepository{q: s.q} }
func (s *Store) Movements() ports.MovementRepository { return &movementRepository{q: s.q} }

// RunInTx runs fn in a READ COMMITTED transaction. Row locks taken by the
// lot and sale finders serialise competing writers, and serialization or
// deadlock failures surface as domain.ErrConflict so callers can retry.
func (s *Store) RunInTx(ctx context.Context, fn func(tx ports.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	err := s.db.TransactionWithOptions(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&Store{db: s.db, q: tx, inTx: true, logger: s.logger})
	})
	if err != nil {
		mapped := mapError(err)
		if errors.Is(mapped, domain.ErrConflict) {
			s.logger.WarnContext(ctx, "ledger transaction conflicted", slog.String("error", err.Error()))
		}
		return mapped
	}
	return nil
}

// mapError turns Postgres failures into domain error categories.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable, codeUniqueViolation, codeCheckViolation:
		return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.Message)
	case codeForeignKeyViolation:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.Detail)
	}
	return err
}

// forUpdate appends a row lock when the repository runs inside a transaction.
func forUpdate(query string, lock bool) string {
	if lock {
		return query + " FOR UPDATE"
	}
	return query
}
