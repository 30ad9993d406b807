package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ammerola/stockledger/internal/app"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/pkg/logger"
	"github.com/ammerola/stockledger/internal/workers"
)

const seederActor = "seeder"

// seedState is written after a run so the next run reuses the same catalogue
type seedState struct {
	ProductIDs  []uuid.UUID `json:"product_ids"`
	CustomerIDs []uuid.UUID `json:"customer_ids"`
	LastUpdate  time.Time   `json:"last_update"`
}

type summary struct {
	products  int
	customers int
	lots      int
	units     int
	failures  []string
}

func main() {
	var (
		products     = flag.Int("products", 20, "Number of products to create")
		customers    = flag.Int("customers", 10, "Number of customers to create")
		lotsPerPlace = flag.Int("lots", 3, "Lots received per product and location")
		locations    = flag.String("locations", "warehouse:W1,outlet:O1", "Comma separated kind:id locations to stock")
		lotsFile     = flag.String("lots-file", "", "Optional lot workbook to receive after generating data")
		stateFile    = flag.String("state", "./.seed_state.json", "State file for tracking seeded records")
		logLevel     = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		dryRun       = flag.Bool("dry-run", false, "Preview the plan without writing")
		force        = flag.Bool("force", false, "Ignore the state file and create a fresh catalogue")
	)
	flag.Parse()

	slogger := logger.SetupLogger(*logLevel, "text").Logger
	ctx := context.Background()

	places, err := parseLocations(*locations)
	if err != nil {
		slogger.Error("invalid locations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if *dryRun {
		lotCount := *products * len(places) * *lotsPerPlace
		fmt.Printf("[DRY RUN] would create %d products, %d customers and %d lots across %d locations\n",
			*products, *customers, lotCount, len(places))
		return
	}

	cfg, err := app.LoadConfig(ctx, slogger)
	if err != nil {
		slogger.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	backend, err := app.OpenBackend(ctx, cfg, true, slogger)
	if err != nil {
		slogger.Error("failed to open ledger store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer backend.Close()

	svc, err := app.NewServices(cfg, backend.Store, nil, slogger)
	if err != nil {
		slogger.Error("failed to build services", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var state seedState
	if !*force {
		if data, err := os.ReadFile(*stateFile); err == nil {
			if err := json.Unmarshal(data, &state); err != nil {
				slogger.Warn("ignoring unreadable state file", slog.String("error", err.Error()))
				state = seedState{}
			}
		}
	}

	var sum summary
	if len(state.ProductIDs) == 0 {
		state.ProductIDs = seedProducts(ctx, backend.Store, *products, &sum, slogger)
		state.CustomerIDs = seedCustomers(ctx, backend.Store, *customers, &sum, slogger)
	} else {
		slogger.Info("reusing seeded catalogue",
			slog.Int("products", len(state.ProductIDs)),
			slog.Int("customers", len(state.CustomerIDs)))
	}

	seedLots(ctx, svc.Lots, state.ProductIDs, places, *lotsPerPlace, &sum, slogger)

	if *lotsFile != "" {
		importWorkbook(ctx, svc.Lots, *lotsFile, &sum, slogger)
	}

	state.LastUpdate = time.Now()
	if data, err := json.MarshalIndent(state, "", "  "); err == nil {
		if err := os.WriteFile(*stateFile, data, 0o644); err != nil {
			slogger.Warn("failed to write state file", slog.String("error", err.Error()))
		}
	}

	printSummary(sum)
	slogger.Info("seed operation completed",
		slog.Int("products_created", sum.products),
		slog.Int("customers_created", sum.customers),
		slog.Int("lots_received", sum.lots),
		slog.Int("failures", len(sum.failures)))
}

func parseLocations(s string) ([]domain.Location, error) {
	var out []domain.Location
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		loc, err := domain.ParseLocation(part)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	if len(out) == 0 {
		return nil, errors.New("at least one location is required")
	}
	return out, nil
}

func seedProducts(ctx context.Context, store ports.Store, n int, sum *summary, logger *slog.Logger) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	for i := 1; i <= n; i++ {
		p := &domain.Product{
			ID:        uuid.New(),
			SKU:       fmt.Sprintf("SKU-%05d", i),
			Name:      fmt.Sprintf("Product %d", i),
			CreatedAt: time.Now().UTC(),
		}
		if err := store.Products().Create(ctx, p); err != nil {
			logger.Error("failed to create product",
				slog.String("sku", p.SKU),
				slog.String("error", err.Error()))
			sum.failures = append(sum.failures, "product "+p.SKU)
			continue
		}
		ids = append(ids, p.ID)
		sum.products++
	}
	return ids
}

func seedCustomers(ctx context.Context, store ports.Store, n int, sum *summary, logger *slog.Logger) []uuid.UUID {
	ids := make([]uuid.UUID, 0, n)
	for i := 1; i <= n; i++ {
		now := time.Now().UTC()
		c := &domain.Customer{
			ID:         uuid.New(),
			Name:       fmt.Sprintf("Customer %d", i),
			Phone:      fmt.Sprintf("+1555%07d", i),
			TotalSpent: decimal.Zero,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := store.Customers().Create(ctx, c); err != nil {
			logger.Error("failed to create customer",
				slog.String("name", c.Name),
				slog.String("error", err.Error()))
			sum.failures = append(sum.failures, "customer "+c.Name)
			continue
		}
		ids = append(ids, c.ID)
		sum.customers++
	}
	return ids
}

// seedLots receives lots with staggered receipt dates so FIFO order is visible.
func seedLots(ctx context.Context, lots ports.LotService, productIDs []uuid.UUID, places []domain.Location, perPlace int, sum *summary, logger *slog.Logger) {
	base := time.Now().UTC().AddDate(0, 0, -perPlace)
	for i, productID := range productIDs {
		fmt.Printf("PROGRESS: Receiving stock %d/%d\n", i+1, len(productIDs))
		for _, loc := range places {
			for n := 0; n < perPlace; n++ {
				receivedAt := base.AddDate(0, 0, n)
				cost := decimal.NewFromInt(int64(2 + rand.IntN(20)))
				expiry := receivedAt.AddDate(0, 6, 0)
				lot, err := lots.Intake(ctx, ports.IntakeRequest{
					ProductID:   productID,
					Location:    loc,
					BatchNumber: fmt.Sprintf("B%s-%d", receivedAt.Format("060102"), n+1),
					Quantity:    5 + rand.IntN(46),
					UnitCost:    cost,
					UnitPrice:   cost.Mul(decimal.RequireFromString("1.6")).Round(2),
					ExpiryDate:  &expiry,
					ReceivedAt:  &receivedAt,
					CreatedBy:   seederActor,
				})
				if err != nil {
					logger.Error("failed to receive lot",
						slog.String("product_id", productID.String()),
						slog.String("location", loc.String()),
						slog.String("error", err.Error()))
					sum.failures = append(sum.failures, fmt.Sprintf("lot %s@%s", productID, loc))
					continue
				}
				sum.lots++
				sum.units += lot.Quantity
			}
		}
	}
}

func importWorkbook(ctx context.Context, lots ports.LotService, path string, sum *summary, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("failed to read lot workbook", slog.String("error", err.Error()))
		sum.failures = append(sum.failures, path)
		return
	}

	rows, rowErrs, err := workers.ParseLotWorkbook(data)
	if err != nil {
		logger.Error("failed to parse lot workbook", slog.String("error", err.Error()))
		sum.failures = append(sum.failures, path)
		return
	}
	for _, re := range rowErrs {
		sum.failures = append(sum.failures, fmt.Sprintf("%s row %d: %s", path, re.Row, re.Message))
	}

	for _, row := range rows {
		lot, err := lots.Intake(ctx, row.Request(seederActor))
		if err != nil {
			sum.failures = append(sum.failures, fmt.Sprintf("%s row %d: %s", path, row.Row, err.Error()))
			continue
		}
		sum.lots++
		sum.units += lot.Quantity
	}
}

func printSummary(sum summary) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("SEEDING OPERATION SUMMARY")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Products Created:  %d\n", sum.products)
	fmt.Printf("Customers Created: %d\n", sum.customers)
	fmt.Printf("Lots Received:     %d (%d units)\n", sum.lots, sum.units)

	if len(sum.failures) > 0 {
		fmt.Printf("\nFailures (%d):\n", len(sum.failures))
		for _, f := range sum.failures {
			fmt.Printf("  - %s\n", f)
		}
	}
}
