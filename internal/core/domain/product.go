// internal/core/domain/product.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Product is reference data owned by the catalogue. The ledger only reads it.
type Product struct {
	ID        uuid.UUID `json:"id"`
	SKU       string    `json:"sku"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
