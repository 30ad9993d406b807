// internal/workers/export_processor.go
package workers

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/tealeg/xlsx/v3"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
)

// XLSXContentType is the MIME type of generated workbooks.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

const exportPageSize = 500

var demandWorkbookHeaders = []string{
	"Demand ID", "Product ID", "Location", "Algorithm", "Status",
	"Suggested Quantity", "Current Stock", "Total Sold", "Average Daily Sales",
	"Window Days", "Created At", "Created By", "Notes",
}

// ExportResult is stored as the result of an export job.
type ExportResult struct {
	ObjectKey   string    `json:"object_key"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	Rows        int       `json:"rows"`
}

// CollectDemands pages through every demand matching filter.
func CollectDemands(ctx context.Context, demands ports.DemandService, filter ports.DemandFilter) ([]*domain.Demand, error) {
	filter.Limit = exportPageSize
	filter.Offset = 0

	var all []*domain.Demand
	for {
		page, err := demands.List(ctx, filter)
		if err != nil {
			return nil, fmt.Errorf("failed to list demands: %w", err)
		}
		all = append(all, page...)
		if len(page) < exportPageSize {
			return all, nil
		}
		filter.Offset += len(page)
	}
}

// RenderDemandWorkbook writes demands into a single-sheet xlsx file.
func RenderDemandWorkbook(demands []*domain.Demand) ([]byte, error) {
	file := xlsx.NewFile()

	sheet, err := file.AddSheet("Demands")
	if err != nil {
		return nil, fmt.Errorf("failed to add worksheet: %w", err)
	}

	headerRow := sheet.AddRow()
	for _, header := range demandWorkbookHeaders {
		cell := headerRow.AddCell()
		cell.Value = header
		cell.GetStyle().Font.Bold = true
		cell.GetStyle().Fill.PatternType = "solid"
		cell.GetStyle().Fill.FgColor = "CCCCCC"
	}

	for _, d := range demands {
		location := ""
		if d.Location != nil {
			location = d.Location.String()
		}

		row := sheet.AddRow()
		row.AddCell().SetString(d.ID)
		row.AddCell().SetString(d.ProductID.String())
		row.AddCell().SetString(location)
		row.AddCell().SetString(string(d.Algorithm))
		row.AddCell().SetString(string(d.Status))
		row.AddCell().SetInt(d.SuggestedQuantity)
		row.AddCell().SetInt(d.Inputs.CurrentStock)
		row.AddCell().SetInt(d.Inputs.TotalQuantity)
		row.AddCell().SetString(d.Inputs.AverageDailySales.StringFixed(2))
		row.AddCell().SetString(strconv.Itoa(d.Inputs.Days))
		row.AddCell().SetString(d.CreatedAt.UTC().Format(time.RFC3339))
		row.AddCell().SetString(d.CreatedBy)
		row.AddCell().SetString(d.Notes)
	}

	for i := range demandWorkbookHeaders {
		sheet.SetColWidth(i+1, i+1, 18)
	}

	var buffer bytes.Buffer
	if err := file.Write(&buffer); err != nil {
		return nil, fmt.Errorf("failed to write Excel file to buffer: %w", err)
	}
	return buffer.Bytes(), nil
}

// ExportProcessor renders demand workbooks into object storage
type ExportProcessor struct {
	demands   ports.DemandService
	storage   ports.ObjectStorage
	jobs      *JobTracker
	urlExpiry time.Duration
	logger    *slog.Logger
}

// NewExportProcessor creates a new export processor
func NewExportProcessor(demands ports.DemandService, storage ports.ObjectStorage, jobs *JobTracker, urlExpiry time.Duration, logger *slog.Logger) *ExportProcessor {
	if urlExpiry <= 0 {
		urlExpiry = time.Hour
	}
	return &ExportProcessor{
		demands:   demands,
		storage:   storage,
		jobs:      jobs,
		urlExpiry: urlExpiry,
		logger:    logger.With(slog.String("processor", "export")),
	}
}

// ExportObjectKey is where the workbook of export job id is stored.
func ExportObjectKey(jobID string) string {
	return fmt.Sprintf("exports/demands/%s.xlsx", jobID)
}

// ProcessExport handles demand:export
func (p *ExportProcessor) ProcessExport(ctx context.Context, t *asynq.Task) error {
	var payload ExportDemandsPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	p.logger.InfoContext(ctx, "exporting demands", slog.String("job_id", payload.JobID))

	if err := p.jobs.Start(ctx, payload.JobID, TypeExportDemands); err != nil {
		p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}

	result, err := p.export(ctx, payload)
	if err != nil {
		if ferr := p.jobs.Fail(ctx, payload.JobID, TypeExportDemands, err); ferr != nil {
			p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", ferr.Error()))
		}
		return err
	}

	if err := p.jobs.Complete(ctx, payload.JobID, TypeExportDemands, result); err != nil {
		p.logger.WarnContext(ctx, "failed to update job status", slog.String("error", err.Error()))
	}

	p.logger.InfoContext(ctx, "demand export completed",
		slog.String("job_id", payload.JobID),
		slog.String("object_key", result.ObjectKey),
		slog.Int("rows", result.Rows))
	return nil
}

func (p *ExportProcessor) export(ctx context.Context, payload ExportDemandsPayload) (*ExportResult, error) {
	demands, err := CollectDemands(ctx, p.demands, payload.Filter())
	if err != nil {
		return nil, err
	}

	data, err := RenderDemandWorkbook(demands)
	if err != nil {
		return nil, err
	}

	key := ExportObjectKey(payload.JobID)
	if _, err := p.storage.Upload(ctx, key, bytes.NewReader(data), XLSXContentType); err != nil {
		return nil, fmt.Errorf("failed to upload export: %w", err)
	}

	url, err := p.storage.GetPresignedURL(ctx, key, p.urlExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to presign export: %w", err)
	}

	return &ExportResult{
		ObjectKey:   key,
		DownloadURL: url,
		ExpiresAt:   time.Now().UTC().Add(p.urlExpiry),
		Rows:        len(demands),
	}, nil
}
