// test/helpers/helpers.go
package helpers

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v3"

	"github.com/ammerola/stockledger/internal/adapters/db"
	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/pkg/config"
	"github.com/ammerola/stockledger/migrations"
)

// TestDB represents a test database instance
type TestDB struct {
	PgxPool  *pgxpool.Pool
	Database *db.Database
	Resource *dockertest.Resource
	Pool     *dockertest.Pool
	Config   *db.Config
}

// TestRedis represents a test Redis instance
type TestRedis struct {
	Client *redis.Client
	Server *miniredis.Miniredis
}

// TestLogger returns a test logger
func TestLogger() *slog.Logger {
	if testing.Verbose() {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// SetupTestDB starts a PostgreSQL container and applies the embedded migrations
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "Could not connect to Docker")

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=test",
			"POSTGRES_PASSWORD=test",
			"POSTGRES_DB=test_ledger",
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "Could not start PostgreSQL container")

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("Could not purge resource: %s", err)
		}
	})

	dbConfig := &db.Config{
		Host:               "localhost",
		Port:               resource.GetPort("5432/tcp"),
		User:               "test",
		Password:           "test",
		Database:           "test_ledger",
		SSLMode:            "disable",
		MaxConnections:     10,
		MinConnections:     1,
		MaxConnLifetime:    time.Hour,
		MaxConnIdleTime:    time.Minute * 30,
		HealthCheckPeriod:  time.Minute,
		ConnectTimeout:     time.Second * 10,
		StatementCacheMode: "describe",
		EnableQueryLogging: testing.Verbose(),
	}

	var database *db.Database
	err = pool.Retry(func() error {
		ctx := context.Background()
		var err error
		database, err = db.NewDatabase(ctx, dbConfig, TestLogger())
		if err != nil {
			return err
		}
		return database.Ping(ctx)
	})
	require.NoError(t, err, "Could not connect to PostgreSQL")
	t.Cleanup(database.Close)

	migrationConfig := &db.MigrationConfig{
		DatabaseURL: fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=%s",
			dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port,
			dbConfig.Database, dbConfig.SSLMode),
		Source:     migrations.FS,
		TableName:  "schema_migrations",
		SchemaName: "public",
	}

	err = db.RunMigrationsWithRetry(context.Background(), migrationConfig, TestLogger(), 3)
	require.NoError(t, err, "Could not run migrations")

	return &TestDB{
		PgxPool:  database.Pool(),
		Database: database,
		Resource: resource,
		Pool:     pool,
		Config:   dbConfig,
	}
}

// SetupTestRedis creates an in-process Redis for testing
func SetupTestRedis(t *testing.T) *TestRedis {
	t.Helper()

	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	t.Cleanup(func() {
		client.Close()
	})

	return &TestRedis{
		Client: client,
		Server: mr,
	}
}

// SetupMockDB creates a mock database for unit testing
func SetupMockDB(t *testing.T) (sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err, "Failed to create mock DB")

	t.Cleanup(func() {
		db.Close()
	})

	return mock, db
}

// LoadTestConfig returns a test configuration
func LoadTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name:        "stockledger-test",
			Environment: "test",
			Version:     "test",
			LogLevel:    "debug",
			LogFormat:   "text",
			Debug:       true,
		},
		Database: config.DatabaseConfig{
			Host:               "localhost",
			Port:               "5432",
			User:               "test",
			Password:           "test",
			Name:               "test_ledger",
			SSLMode:            "disable",
			MaxConnections:     10,
			MinConnections:     2,
			EnableQueryLogging: true,
		},
		Redis: config.RedisConfig{
			Host:     "localhost",
			Port:     "6379",
			DB:       0,
			TTL:      time.Hour,
			PoolSize: 10,
		},
		Asynq: config.AsynqConfig{
			RedisAddr:   "localhost:6379",
			Concurrency: 2,
			Queues:      map[string]int{"critical": 6, "default": 3, "low": 1},
			RetryMax:    3,
		},
		Storage: config.StorageConfig{
			Driver:          "local",
			LocalPath:       os.TempDir(),
			ExcelMaxSizeMB:  5,
			ExportURLExpiry: 15 * time.Minute,
		},
		Security: config.SecurityConfig{
			RateLimitRequests: 100,
			RateLimitDuration: time.Minute,
			AllowedOrigins:    []string{"*"},
			SecureHeaders:     false,
			RequestIDHeader:   "X-Request-ID",
			UserIDHeader:      "X-User-ID",
		},
		Server: config.ServerConfig{
			Host:         "localhost",
			Port:         "8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
		Ledger: config.LedgerConfig{
			StoreDriver:        "memory",
			Timezone:           "UTC",
			MaxConflictRetries: 3,
			IdempotencyTTL:     time.Hour,
		},
		Forecast: config.ForecastConfig{
			DefaultStrategy:    "enhanced",
			Days:               30,
			MinSalesThreshold:  1,
			DemandDays:         30,
			SafetyStockFactor:  decimal.RequireFromString("1.2"),
			SeasonalAdjustment: decimal.NewFromInt(1),
			PendingTTL:         14 * 24 * time.Hour,
			Cron:               "0 2 * * *",
		},
	}
}

// FixedClock returns a clock frozen at t
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// CreateTestProduct creates a product with a unique SKU
func CreateTestProduct(overrides ...func(*domain.Product)) *domain.Product {
	id := uuid.New()
	p := &domain.Product{
		ID:        id,
		SKU:       "SKU-" + id.String()[:8],
		Name:      "Test Paracetamol 500mg",
		CreatedAt: time.Now().UTC(),
	}
	for _, override := range overrides {
		override(p)
	}
	return p
}

// CreateTestCustomer creates a customer with empty aggregates
func CreateTestCustomer(overrides ...func(*domain.Customer)) *domain.Customer {
	now := time.Now().UTC()
	c := &domain.Customer{
		ID:         uuid.New(),
		Name:       "Test Customer",
		Phone:      "0400000000",
		TotalSpent: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, override := range overrides {
		override(c)
	}
	return c
}

// CreateTestLot creates a lot of productID at loc
func CreateTestLot(productID uuid.UUID, loc domain.Location, qty int, overrides ...func(*domain.StockLot)) *domain.StockLot {
	now := time.Now().UTC()
	lot := &domain.StockLot{
		ID:          uuid.New(),
		ProductID:   productID,
		Location:    loc,
		BatchNumber: "B-" + uuid.NewString()[:6],
		Quantity:    qty,
		UnitCost:    decimal.NewFromInt(5),
		UnitPrice:   decimal.NewFromInt(10),
		ReceivedAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, override := range overrides {
		override(lot)
	}
	return lot
}

// SeedProduct stores a test product
func SeedProduct(t testing.TB, store ports.Store, overrides ...func(*domain.Product)) *domain.Product {
	t.Helper()
	p := CreateTestProduct(overrides...)
	require.NoError(t, store.Products().Create(context.Background(), p), "Failed to seed product")
	return p
}

// SeedCustomer stores a test customer
func SeedCustomer(t testing.TB, store ports.Store, overrides ...func(*domain.Customer)) *domain.Customer {
	t.Helper()
	c := CreateTestCustomer(overrides...)
	require.NoError(t, store.Customers().Create(context.Background(), c), "Failed to seed customer")
	return c
}

// SeedLot stores a test lot
func SeedLot(t testing.TB, store ports.Store, productID uuid.UUID, loc domain.Location, qty int, overrides ...func(*domain.StockLot)) *domain.StockLot {
	t.Helper()
	lot := CreateTestLot(productID, loc, qty, overrides...)
	require.NoError(t, store.Lots().Create(context.Background(), lot), "Failed to seed lot")
	return lot
}

// ReceivedAt sets the lot receipt time
func ReceivedAt(at time.Time) func(*domain.StockLot) {
	return func(l *domain.StockLot) {
		l.ReceivedAt = at
		l.CreatedAt = at
	}
}

// Batch sets the lot batch number
func Batch(batch string) func(*domain.StockLot) {
	return func(l *domain.StockLot) { l.BatchNumber = batch }
}

// Priced sets the lot retail price
func Priced(price string) func(*domain.StockLot) {
	return func(l *domain.StockLot) { l.UnitPrice = decimal.RequireFromString(price) }
}

// LotWorkbookHeader is the header row of a lot import workbook.
var LotWorkbookHeader = []string{
	"product_id", "location", "batch_number", "quantity",
	"unit_cost", "unit_price", "expiry_date", "received_at",
}

// BuildLotWorkbook renders rows below the lot import header as an xlsx file
func BuildLotWorkbook(t testing.TB, rows [][]string) []byte {
	t.Helper()

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Lots")
	require.NoError(t, err)

	for _, values := range append([][]string{LotWorkbookHeader}, rows...) {
		row := sheet.AddRow()
		for _, v := range values {
			row.AddCell().Value = v
		}
	}

	var buf bytes.Buffer
	require.NoError(t, file.Write(&buf))
	return buf.Bytes()
}

// AssertEventuallyWithTimeout asserts that a condition is met within a timeout
func AssertEventuallyWithTimeout(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	t.Errorf("Condition not met within %v: %s", timeout, msg)
}

// TruncateAllTables empties every ledger table
func TruncateAllTables(t *testing.T, db *pgxpool.Pool) {
	t.Helper()

	ctx := context.Background()
	tables := []string{
		"stock_movements",
		"demands",
		"sales",
		"sequence_counters",
		"stock_lots",
		"customers",
		"products",
	}

	for _, table := range tables {
		_, err := db.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table))
		require.NoError(t, err, "Failed to truncate table: %s", table)
	}
}

// CreateTempFile creates a temporary file for testing
func CreateTempFile(t *testing.T, content []byte, extension string) string {
	t.Helper()

	file, err := os.CreateTemp("", fmt.Sprintf("test-*%s", extension))
	require.NoError(t, err, "Failed to create temp file")

	_, err = file.Write(content)
	require.NoError(t, err, "Failed to write to temp file")

	file.Close()

	t.Cleanup(func() {
		os.Remove(file.Name())
	})

	return file.Name()
}
