// internal/pkg/config/validators.go
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// BasicValidator performs basic configuration validation
type BasicValidator struct{}

// Validate performs basic validation
func (v *BasicValidator) Validate(cfg *Config) error {
	// Validate required fields using reflection
	if err := validateRequiredFields(cfg); err != nil {
		return err
	}

	// Validate numeric ranges
	if cfg.Database.MaxConnections < cfg.Database.MinConnections {
		return fmt.Errorf("database max_connections must be >= min_connections")
	}

	if cfg.Redis.PoolSize <= 0 {
		return fmt.Errorf("redis pool_size must be positive")
	}

	if cfg.Security.RateLimitRequests <= 0 {
		return fmt.Errorf("rate_limit_requests must be positive")
	}

	return nil
}

// LedgerValidator checks the ledger and forecasting settings
type LedgerValidator struct{}

// Validate performs ledger validation
func (v *LedgerValidator) Validate(cfg *Config) error {
	switch cfg.Ledger.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Ledger.StoreDriver)
	}

	switch cfg.Storage.Driver {
	case "s3", "local":
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if _, err := time.LoadLocation(cfg.Ledger.Timezone); err != nil {
		return fmt.Errorf("invalid ledger timezone %q: %w", cfg.Ledger.Timezone, err)
	}

	if cfg.Ledger.MaxConflictRetries < 1 {
		return fmt.Errorf("ledger max_conflict_retries must be at least 1")
	}

	if cfg.Ledger.IdempotencyTTL <= 0 {
		return fmt.Errorf("ledger idempotency_ttl must be positive")
	}

	switch cfg.Forecast.DefaultStrategy {
	case "simple", "enhanced":
	default:
		return fmt.Errorf("unknown forecast strategy %q", cfg.Forecast.DefaultStrategy)
	}

	if cfg.Forecast.Days <= 0 || cfg.Forecast.DemandDays <= 0 {
		return fmt.Errorf("forecast days and demand_days must be positive")
	}

	if cfg.Forecast.MinSalesThreshold < 0 {
		return fmt.Errorf("forecast min_sales_threshold cannot be negative")
	}

	if !cfg.Forecast.SafetyStockFactor.IsPositive() || !cfg.Forecast.SeasonalAdjustment.IsPositive() {
		return fmt.Errorf("forecast safety_stock_factor and seasonal_adjustment must be positive")
	}

	if cfg.Forecast.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Forecast.Cron); err != nil {
			return fmt.Errorf("invalid forecast cron %q: %w", cfg.Forecast.Cron, err)
		}
	}

	return nil
}

// ProductionValidator performs strict validation for production environments
type ProductionValidator struct{}

// Validate performs production-specific validation
func (v *ProductionValidator) Validate(cfg *Config) error {
	// Check for placeholder values
	if strings.Contains(cfg.Database.Password, "MISSING_") {
		return fmt.Errorf("%w: database password", ErrMissingRequiredConfig)
	}

	// Ensure secure defaults in production
	if cfg.Database.SSLMode == "disable" {
		return fmt.Errorf("database SSL must be enabled in production")
	}

	if !cfg.Security.SecureHeaders {
		return fmt.Errorf("secure headers must be enabled in production")
	}

	for _, origin := range cfg.Security.AllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("wildcard origin (*) not allowed in production")
		}
	}

	if cfg.Ledger.StoreDriver == "memory" {
		return fmt.Errorf("memory store cannot be used in production")
	}

	// Ensure proper TLS configuration
	if cfg.Server.TLSEnabled {
		if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
			return fmt.Errorf("TLS cert and key files must be provided when TLS is enabled")
		}
	}

	return nil
}

// validateRequiredFields uses reflection to check required struct tags
func validateRequiredFields(cfg interface{}) error {
	v := reflect.ValueOf(cfg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	return validateStruct(v, "")
}

func validateStruct(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		fieldName := fieldType.Name

		if prefix != "" {
			fieldName = prefix + "." + fieldName
		}

		if required := fieldType.Tag.Get("required"); required == "true" {
			if isZeroValue(field) {
				return fmt.Errorf("%w: %s", ErrMissingRequiredConfig, fieldName)
			}
		}

		// decimal.Decimal is a struct with unexported fields
		if field.Kind() == reflect.Struct && fieldType.PkgPath == "" && fieldType.Type.PkgPath() == t.PkgPath() {
			if err := validateStruct(field, fieldName); err != nil {
				return err
			}
		}
	}

	return nil
}

func isZeroValue(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.String:
		return v.String() == "" || strings.HasPrefix(v.String(), "MISSING_")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Slice, reflect.Map:
		return v.IsNil() || v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
