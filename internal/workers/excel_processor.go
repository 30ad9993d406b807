// internal/workers/excel_processor.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v3"

	"github.com/ammerola/stockledger/internal/adapters/storage"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

// Lot workbook columns. Header names are matched case-insensitively.
const (
	ColProductID   = "product_id"
	ColLocation    = "location"
	ColBatchNumber = "batch_number"
	ColQuantity    = "quantity"
	ColUnitCost    = "unit_cost"
	ColUnitPrice   = "unit_price"
	ColExpiryDate  = "expiry_date"
	ColReceivedAt  = "received_at"
)

var requiredLotColumns = []string{ColProductID, ColLocation, ColQuantity}

// LotRow is one parsed workbook row.
type LotRow struct {
	Row         int
	ProductID   uuid.UUID
	Location    domain.Location
	BatchNumber string
	Quantity    int
	UnitCost    decimal.Decimal
	UnitPrice   decimal.Decimal
	ExpiryDate  *time.Time
	ReceivedAt  *time.Time
}

// Request turns the row into an intake request.
func (r LotRow) Request(createdBy string) ports.IntakeRequest {
	return ports.IntakeRequest{
		ProductID:   r.ProductID,
		Location:    r.Location,
		BatchNumber: r.BatchNumber,
		Quantity:    r.Quantity,
		UnitCost:    r.UnitCost,
		UnitPrice:   r.UnitPrice,
		ExpiryDate:  r.ExpiryDate,
		ReceivedAt:  r.ReceivedAt,
		CreatedBy:   createdBy,
	}
}

// RowError reports a row that could not be imported. Row is the spreadsheet
// row number, so the header is row 1.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult is stored as the result of an import job.
type ImportResult struct {
	Rows     int        `json:"rows"`
	Imported int        `json:"imported"`
	LotIDs   []string   `json:"lot_ids"`
	Errors   []RowError `json:"errors,omitempty"`
}

// ParseLotWorkbook reads the first sheet of an xlsx file. Rows that fail to
// parse are reported and skipped; an unreadable file or a missing required
// column fails the whole workbook.
func ParseLotWorkbook(data []byte) ([]LotRow, []RowError, error) {
	file, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	if len(file.Sheets) == 0 {
		return nil, nil, errors.New("workbook has no sheets")
	}

	var (
		columns map[string]int
		rows    []LotRow
		rowErrs []RowError
	)

	err = file.Sheets[0].ForEachRow(func(r *xlsx.Row) error {
		rowIdx := r.GetCoordinate() + 1
		if columns == nil {
			columns = headerColumns(r)
			for _, name := range requiredLotColumns {
				if _, ok := columns[name]; !ok {
					return fmt.Errorf("missing required column %q", name)
				}
			}
			return nil
		}

		get := func(name string) string {
			i, ok := columns[name]
			if !ok {
				return ""
			}
			c := r.GetCell(i)
			if c == nil {
				return ""
			}
			return strings.TrimSpace(c.String())
		}

		if get(ColProductID) == "" && get(ColLocation) == "" && get(ColQuantity) == "" {
			return nil
		}

		row, err := parseLotRow(rowIdx, get)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Row: rowIdx, Message: err.Error()})
			return nil
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to process Excel rows: %w", err)
	}
	if columns == nil {
		return nil, nil, errors.New("workbook is empty")
	}

	return rows, rowErrs, nil
}

func headerColumns(r *xlsx.Row) map[string]int {
	columns := make(map[string]int)
	_ = r.ForEachCell(func(c *xlsx.Cell) error {
		name := strings.ToLower(strings.TrimSpace(c.String()))
		if name != "" {
			x, _ := c.GetCoordinates()
			columns[name] = x
		}
		return nil
	})
	return columns
}

func parseLotRow(rowIdx int, get func(string) string) (LotRow, error) {
	row := LotRow{Row: rowIdx, BatchNumber: get(ColBatchNumber)}

	id, err := uuid.Parse(get(ColProductID))
	if err != nil {
		return row, fmt.Errorf("%s: invalid UUID", ColProductID)
	}
	row.ProductID = id

	loc, err := domain.ParseLocation(get(ColLocation))
	if err != nil {
		return row, err
	}
	row.Location = loc

	qty, err := strconv.Atoi(strings.TrimSuffix(get(ColQuantity), ".0"))
	if err != nil {
		return row, fmt.Errorf("%s: not a whole number", ColQuantity)
	}
	row.Quantity = qty

	if row.UnitCost, err = parseMoney(get(ColUnitCost)); err != nil {
		return row, fmt.Errorf("%s: %w", ColUnitCost, err)
	}
	if row.UnitPrice, err = parseMoney(get(ColUnitPrice)); err != nil {
		return row, fmt.Errorf("%s: %w", ColUnitPrice, err)
	}
	if row.ExpiryDate, err = parseDate(get(ColExpiryDate)); err != nil {
		return row, fmt.Errorf("%s: %w", ColExpiryDate, err)
	}
	if row.ReceivedAt, err = parseDate(get(ColReceivedAt)); err != nil {
		return row, fmt.Errorf("%s: %w", ColReceivedAt, err)
	}
	return row, nil
}

func parseMoney(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimPrefix(s, "$"), ",", ""))
	if err != nil {
		return decimal.Zero, errors.New("not a number")
	}
	return d, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, errors.New("expected YYYY-MM-DD or RFC 3339")
}

// ImportProcessor handles lot workbook imports
type ImportProcessor struct {
	lots    ports.LotService
	storage ports.ObjectStorage
	jobs    *JobTracker
	logger  *slog.Logger
}

// NewImportProcessor creates a new import processor
func NewImportProcessor(lots ports.LotService, storage ports.ObjectStorage, jobs *JobTracker, logger *slog.Logger) *ImportProcessor {
	return &ImportProcessor{
		lots:    lots,
		storage: storage,
		jobs:    jobs,
		logger:  logger.With(slog.String("processor", "import")),
	}
}

// ProcessImport handles lots:import. Every parsed row is received through
// the lot service in its own transaction; failed rows are reported in the job
// result rather than failing the job.
func (p *ImportProcessor) ProcessImport(ctx context.Context, t *asynq.Task) error {
	var payload ImportLotsPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "processing lot import",
		slog.String("job_id", payload.JobID),
		slog.String("object_key", payload.ObjectKey))

	if err := p.jobs.Start(ctx, payload.JobID, TypeImportLots); err != nil {
		p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}

	data, err := p.storage.Download(ctx, payload.ObjectKey)
	if err != nil {
		p.fail(ctx, payload.JobID, err)
		if errors.Is(err, storage.ErrObjectNotFound) {
			return fmt.Errorf("workbook %s is gone: %w", payload.ObjectKey, asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download workbook: %w", err)
	}

	rows, rowErrs, err := ParseLotWorkbook(data)
	if err != nil {
		p.fail(ctx, payload.JobID, err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	result := ImportResult{Rows: len(rows) + len(rowErrs), LotIDs: []string{}, Errors: rowErrs}
	for _, row := range rows {
		lot, err := p.lots.Intake(ctx, row.Request(payload.CreatedBy))
		if err != nil {
			if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrNotFound) {
				p.logger.ErrorContext(ctx, "failed to import row",
					slog.Int("row", row.Row),
					slog.String("error", err.Error()))
			}
			result.Errors = append(result.Errors, RowError{Row: row.Row, Message: err.Error()})
			continue
		}
		result.Imported++
		result.LotIDs = append(result.LotIDs, lot.ID.String())
	}

	if err := p.jobs.Complete(ctx, payload.JobID, TypeImportLots, result); err != nil {
		p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}

	if err := p.storage.Delete(ctx, payload.ObjectKey); err != nil {
		p.logger.WarnContext(ctx, "failed to delete import upload",
			slog.String("object_key", payload.ObjectKey),
			slog.String("error", err.Error()))
	}

	p.logger.InfoContext(ctx, "lot import completed",
		slog.String("job_id", payload.JobID),
		slog.Int("rows", result.Rows),
		slog.Int("imported", result.Imported),
		slog.Int("failed", len(result.Errors)))
	return nil
}

func (p *ImportProcessor) fail(ctx context.Context, jobID string, cause error) {
	if err := p.jobs.Fail(ctx, jobID, TypeImportLots, cause); err != nil {
		p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}
}
