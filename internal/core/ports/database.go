// internal/core/ports/database.go
package ports

import "context"

// Database is the subset of the Postgres adapter used by health endpoints.
type Database interface {
	Ping(ctx context.Context) error
	Health(ctx context.Context) map[string]interface{}
}
