// internal/pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// ErrMissingRequiredConfig is returned when a required setting is empty or a placeholder
var ErrMissingRequiredConfig = errors.New("missing required configuration")

// Config holds all application configuration
type Config struct {
	// Application
	App AppConfig

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Asynq
	Asynq AsynqConfig

	// AWS
	AWS AWSConfig

	// Object storage for imports and exports
	Storage StorageConfig

	// Security
	Security SecurityConfig

	// Server
	Server ServerConfig

	// Ledger rules
	Ledger LedgerConfig

	// Demand forecasting
	Forecast ForecastConfig
}

// AppConfig holds application-specific configuration
type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Version     string
	LogLevel    string
	LogFormat   string // json, text
	Debug       bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host               string `required:"true"`
	Port               string
	User               string
	Password           string
	Name               string `required:"true"`
	SSLMode            string
	MaxConnections     int32
	MinConnections     int32
	MaxConnLifetime    time.Duration
	MaxConnIdleTime    time.Duration
	HealthCheckPeriod  time.Duration
	ConnectTimeout     time.Duration
	StatementCacheMode string
	EnableQueryLogging bool
	MigrationPath      string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host            string
	Port            string
	Password        string
	DB              int
	MaxRetries      int
	MinRetryBackoff time.Duration
	MaxRetryBackoff time.Duration
	DialTimeout     time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	TTL             time.Duration
}

// AsynqConfig holds Asynq configuration
type AsynqConfig struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	Concurrency     int
	Queues          map[string]int // queue name -> priority
	StrictPriority  bool
	RetryMax        int
	ShutdownTimeout time.Duration
}

// AWSConfig holds AWS configuration
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	S3Endpoint      string // For MinIO in development
	UsePathStyle    bool   // For MinIO compatibility
	SecretName      string
}

// StorageConfig selects where uploaded spreadsheets and exports live
type StorageConfig struct {
	Driver          string // s3, local
	LocalPath       string
	ExcelMaxSizeMB  int
	ExportURLExpiry time.Duration
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	RateLimitRequests int
	RateLimitDuration time.Duration
	AllowedOrigins    []string
	SecureHeaders     bool
	RequestIDHeader   string
	UserIDHeader      string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string `required:"true"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	GracefulTimeout time.Duration
	TLSEnabled      bool
	TLSCertFile     string
	TLSKeyFile      string
}

// LedgerConfig holds the transactional rules of the ledger
type LedgerConfig struct {
	StoreDriver        string // postgres, memory
	Timezone           string
	MaxConflictRetries int
	IdempotencyTTL     time.Duration
}

// ForecastConfig holds demand generation defaults
type ForecastConfig struct {
	DefaultStrategy    string
	Days               int
	MinSalesThreshold  int
	DemandDays         int
	SafetyStockFactor  decimal.Decimal
	SeasonalAdjustment decimal.Decimal
	PendingTTL         time.Duration
	Cron               string
}

// Load loads configuration from environment variables, an optional
// config file named by CONFIG_FILE, and an optional secrets overlay.
func Load(logger *slog.Logger) (*Config, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Load .env file in development
	if env == "development" || env == "local" {
		if err := godotenv.Load(); err != nil {
			logger.Warn("no .env file found, using environment variables",
				slog.String("error", err.Error()))
		} else {
			logger.Info(".env file loaded successfully")
		}
	}

	v, err := newViper(os.Getenv("CONFIG_FILE"))
	if err != nil {
		return nil, err
	}
	if file := v.ConfigFileUsed(); file != "" {
		logger.Info("config file loaded", slog.String("file", file))
	}

	get := func(key, def string) string { return getString(v, key, def) }

	cfg := &Config{
		App: AppConfig{
			Name:        get("APP_NAME", "stockledger"),
			Environment: env,
			Version:     get("APP_VERSION", "dev"),
			LogLevel:    get("LOG_LEVEL", "info"),
			LogFormat:   get("LOG_FORMAT", "json"),
			Debug:       getBool(v, "APP_DEBUG", env == "development"),
		},
		Database: DatabaseConfig{
			Host:               get("DB_HOST", "localhost"),
			Port:               get("DB_PORT", "5432"),
			User:               get("DB_USER", "ledger"),
			Password:           get("DB_PASSWORD", "ledger_dev"),
			Name:               get("DB_NAME", "stockledger"),
			SSLMode:            get("DB_SSL_MODE", "disable"),
			MaxConnections:     int32(getInt(v, "DB_MAX_CONNECTIONS", 25)),
			MinConnections:     int32(getInt(v, "DB_MIN_CONNECTIONS", 5)),
			MaxConnLifetime:    getDuration(v, "DB_CONNECTION_LIFETIME", time.Hour),
			MaxConnIdleTime:    getDuration(v, "DB_IDLE_TIME", 30*time.Minute),
			HealthCheckPeriod:  getDuration(v, "DB_HEALTH_CHECK_PERIOD", time.Minute),
			ConnectTimeout:     getDuration(v, "DB_CONNECT_TIMEOUT", 10*time.Second),
			StatementCacheMode: get("DB_STATEMENT_CACHE_MODE", "describe"),
			EnableQueryLogging: getBool(v, "DB_QUERY_LOGGING", env == "development"),
			MigrationPath:      get("DB_MIGRATION_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Host:            get("REDIS_HOST", "localhost"),
			Port:            get("REDIS_PORT", "6379"),
			Password:        get("REDIS_PASSWORD", ""),
			DB:              getInt(v, "REDIS_DB", 0),
			MaxRetries:      getInt(v, "REDIS_MAX_RETRIES", 3),
			MinRetryBackoff: getDuration(v, "REDIS_MIN_RETRY_BACKOFF", 8*time.Millisecond),
			MaxRetryBackoff: getDuration(v, "REDIS_MAX_RETRY_BACKOFF", 512*time.Millisecond),
			DialTimeout:     getDuration(v, "REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:     getDuration(v, "REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout:    getDuration(v, "REDIS_WRITE_TIMEOUT", 3*time.Second),
			PoolSize:        getInt(v, "REDIS_POOL_SIZE", 10),
			MinIdleConns:    getInt(v, "REDIS_MIN_IDLE_CONNS", 2),
			PoolTimeout:     getDuration(v, "REDIS_POOL_TIMEOUT", 4*time.Second),
			TTL:             getDuration(v, "REDIS_TTL", time.Hour),
		},
		Asynq: AsynqConfig{
			RedisAddr:       fmt.Sprintf("%s:%s", get("REDIS_HOST", "localhost"), get("REDIS_PORT", "6379")),
			RedisPassword:   get("REDIS_PASSWORD", ""),
			RedisDB:         getInt(v, "ASYNQ_REDIS_DB", 0),
			Concurrency:     getInt(v, "ASYNQ_CONCURRENCY", 10),
			Queues:          parseQueues(get("ASYNQ_QUEUES", "critical:6,default:3,low:1")),
			StrictPriority:  getBool(v, "ASYNQ_STRICT_PRIORITY", false),
			RetryMax:        getInt(v, "ASYNQ_RETRY_MAX", 3),
			ShutdownTimeout: getDuration(v, "ASYNQ_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		AWS: AWSConfig{
			Region:          get("AWS_REGION", "us-east-1"),
			AccessKeyID:     get("AWS_ACCESS_KEY_ID", "minioadmin"),
			SecretAccessKey: get("AWS_SECRET_ACCESS_KEY", "minioadmin123"),
			S3Bucket:        get("AWS_S3_BUCKET", "stockledger-files"),
			S3Endpoint:      get("AWS_S3_ENDPOINT", ""),
			UsePathStyle:    getBool(v, "AWS_S3_PATH_STYLE", env == "development"),
			SecretName:      get("AWS_SECRET_NAME", ""),
		},
		Storage: StorageConfig{
			Driver:          get("STORAGE_DRIVER", "s3"),
			LocalPath:       get("STORAGE_LOCAL_PATH", "./data/files"),
			ExcelMaxSizeMB:  getInt(v, "EXCEL_MAX_SIZE_MB", 20),
			ExportURLExpiry: getDuration(v, "EXPORT_URL_EXPIRY", 15*time.Minute),
		},
		Security: SecurityConfig{
			RateLimitRequests: getInt(v, "RATE_LIMIT_REQUESTS", 100),
			RateLimitDuration: getDuration(v, "RATE_LIMIT_DURATION", time.Minute),
			AllowedOrigins:    getSlice(v, "ALLOWED_ORIGINS", []string{"*"}),
			SecureHeaders:     getBool(v, "SECURE_HEADERS", env == "production"),
			RequestIDHeader:   get("REQUEST_ID_HEADER", "X-Request-ID"),
			UserIDHeader:      get("USER_ID_HEADER", "X-User-ID"),
		},
		Server: ServerConfig{
			Host:            get("SERVER_HOST", "0.0.0.0"),
			Port:            get("SERVER_PORT", "8080"),
			ReadTimeout:     getDuration(v, "SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDuration(v, "SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getDuration(v, "SERVER_IDLE_TIMEOUT", 60*time.Second),
			MaxHeaderBytes:  getInt(v, "SERVER_MAX_HEADER_BYTES", 1<<20), // 1 MB
			GracefulTimeout: getDuration(v, "SERVER_GRACEFUL_TIMEOUT", 30*time.Second),
			TLSEnabled:      getBool(v, "TLS_ENABLED", false),
			TLSCertFile:     get("TLS_CERT_FILE", ""),
			TLSKeyFile:      get("TLS_KEY_FILE", ""),
		},
		Ledger: LedgerConfig{
			StoreDriver:        get("STORE_DRIVER", "postgres"),
			Timezone:           get("LEDGER_TIMEZONE", "UTC"),
			MaxConflictRetries: getInt(v, "LEDGER_MAX_CONFLICT_RETRIES", 3),
			IdempotencyTTL:     getDuration(v, "LEDGER_IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Forecast: ForecastConfig{
			DefaultStrategy:    get("FORECAST_DEFAULT_STRATEGY", "enhanced"),
			Days:               getInt(v, "FORECAST_DAYS", 30),
			MinSalesThreshold:  getInt(v, "FORECAST_MIN_SALES_THRESHOLD", 1),
			DemandDays:         getInt(v, "FORECAST_DEMAND_DAYS", 7),
			SafetyStockFactor:  getDecimal(v, "FORECAST_SAFETY_STOCK_FACTOR", decimal.RequireFromString("1.2")),
			SeasonalAdjustment: getDecimal(v, "FORECAST_SEASONAL_ADJUSTMENT", decimal.NewFromInt(1)),
			PendingTTL:         getDuration(v, "DEMAND_PENDING_TTL", 14*24*time.Hour),
			Cron:               get("FORECAST_CRON", "0 2 * * *"),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := (&BasicValidator{}).Validate(c); err != nil {
		return err
	}
	if err := (&LedgerValidator{}).Validate(c); err != nil {
		return err
	}
	if c.IsProduction() {
		return (&ProductionValidator{}).Validate(c)
	}
	return nil
}

// Location resolves the ledger timezone used for day keys
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Ledger.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger timezone %q: %w", c.Ledger.Timezone, err)
	}
	return loc, nil
}

// GetDatabaseURL returns the formatted database connection string
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the formatted server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// GetRedisAddress returns host:port for the cache and lock client
func (c *Config) GetRedisAddress() string {
	return fmt.Sprintf("%s:%s", c.Redis.Host, c.Redis.Port)
}

// IsProduction returns true if running in production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development" || c.App.Environment == "local"
}

// Helper functions

func newViper(file string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if file == "" {
		return v, nil
	}

	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
	}
	return v, nil
}

// getString prefers the environment, then the config file (keys are
// matched lower-cased), then the default.
func getString(v *viper.Viper, key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	if value := v.GetString(strings.ToLower(key)); value != "" {
		return value
	}
	return defaultValue
}

func getBool(v *viper.Viper, key string, defaultValue bool) bool {
	if value := getString(v, key, ""); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getInt(v *viper.Viper, key string, defaultValue int) int {
	if value := getString(v, key, ""); value != "" {
		i, err := strconv.Atoi(value)
		if err == nil {
			return i
		}
	}
	return defaultValue
}

// getDuration accepts Go durations plus a "d" suffix for whole days.
func getDuration(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	value := getString(v, key, "")
	if value == "" {
		return defaultValue
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		if n, err := strconv.Atoi(days); err == nil {
			return time.Duration(n) * 24 * time.Hour
		}
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	return defaultValue
}

func getDecimal(v *viper.Viper, key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := getString(v, key, ""); value != "" {
		d, err := decimal.NewFromString(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func getSlice(v *viper.Viper, key string, defaultValue []string) []string {
	if value := getString(v, key, ""); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func parseQueues(queuesStr string) map[string]int {
	queues := make(map[string]int)
	pairs := strings.Split(queuesStr, ",")
	for _, pair := range pairs {
		parts := strings.Split(pair, ":")
		if len(parts) == 2 {
			name := strings.TrimSpace(parts[0])
			priority, err := strconv.Atoi(strings.TrimSpace(parts[1]))
			if err == nil {
				queues[name] = priority
			}
		}
	}
	if len(queues) == 0 {
		queues["default"] = 1
	}
	return queues
}
