// internal/core/domain/movement.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MovementReason explains a change in lot quantity.
type MovementReason string

const (
	MovementIntake      MovementReason = "intake"
	MovementSale        MovementReason = "sale"
	MovementTransferOut MovementReason = "transfer_out"
	MovementTransferIn  MovementReason = "transfer_in"
	MovementReturn      MovementReason = "return"
)

// StockMovement is one journal entry against a lot. Delta is signed.
type StockMovement struct {
	ID        uuid.UUID      `json:"id"`
	LotID     uuid.UUID      `json:"lot_id"`
	ProductID uuid.UUID      `json:"product_id"`
	Location  Location       `json:"location"`
	Delta     int            `json:"delta"`
	Reason    MovementReason `json:"reason"`
	Reference string         `json:"reference,omitempty"`
	CreatedBy string         `json:"created_by,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewMovement stamps a journal entry for lot.
func NewMovement(lot *StockLot, delta int, reason MovementReason, reference, actor string, at time.Time) *StockMovement {
	return &StockMovement{
		ID:        uuid.New(),
		LotID:     lot.ID,
		ProductID: lot.ProductID,
		Location:  lot.Location,
		Delta:     delta,
		Reason:    reason,
		Reference: reference,
		CreatedBy: actor,
		CreatedAt: at,
	}
}
