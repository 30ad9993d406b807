// internal/core/domain/lot.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockLot is a quantity of one product received together at one location.
// Lots reaching zero stay in place for the audit trail.
type StockLot struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   uuid.UUID       `json:"product_id"`
	Location    Location        `json:"location"`
	BatchNumber string          `json:"batch_number,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`
	ReceivedAt  time.Time       `json:"received_at"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Validate performs domain validation on the lot
func (l *StockLot) Validate() error {
	if l.ProductID == uuid.Nil {
		return NewValidationError("product_id", "is required")
	}
	if err := l.Location.Validate(); err != nil {
		return err
	}
	if l.Quantity < 0 {
		return NewValidationError("quantity", "cannot be negative")
	}
	if l.UnitCost.IsNegative() {
		return NewValidationError("unit_cost", "cannot be negative")
	}
	if l.UnitPrice.IsNegative() {
		return NewValidationError("unit_price", "cannot be negative")
	}
	return nil
}

// PrepareForStorage fills identity and timestamps before the first insert.
func (l *StockLot) PrepareForStorage(now time.Time) {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.ReceivedAt.IsZero() {
		l.ReceivedAt = now
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
}

// MatchesBatch reports whether the lot holds the given batch of product at loc.
func (l *StockLot) MatchesBatch(productID uuid.UUID, loc Location, batch string) bool {
	return l.ProductID == productID && l.Location == loc && l.BatchNumber == batch
}

// ReceivedBefore orders lots oldest first. Ties fall back to creation time and id
// so the order is total.
func (l *StockLot) ReceivedBefore(other *StockLot) bool {
	if !l.ReceivedAt.Equal(other.ReceivedAt) {
		return l.ReceivedAt.Before(other.ReceivedAt)
	}
	if !l.CreatedAt.Equal(other.CreatedAt) {
		return l.CreatedAt.Before(other.CreatedAt)
	}
	return l.ID.String() < other.ID.String()
}
