// internal/core/services/allocator.go
package services

import (
	"sort"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/google/uuid"
)

// LotAllocation is one step of a FIFO plan.
type LotAllocation struct {
	Lot      *domain.StockLot
	Quantity int
}

// Reservations tracks quantity already planned from each lot by earlier lines
// of the same request, so several lines can draw on one lot safely.
type Reservations map[uuid.UUID]int

// AllocateFIFO plans how to take required units from lots, oldest received
// first. Lots are not modified. When the lots cannot cover required the
// returned *domain.InsufficientStockError carries available vs requested and
// nothing is reserved.
func AllocateFIFO(product *domain.Product, loc domain.Location, lots []*domain.StockLot, required int, reserved Reservations) ([]LotAllocation, error) {
	if required <= 0 {
		return nil, domain.NewValidationError("quantity", "must be positive")
	}

	ordered := make([]*domain.StockLot, 0, len(lots))
	for _, lot := range lots {
		if lot.Quantity-reserved[lot.ID] > 0 {
			ordered = append(ordered, lot)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].ReceivedBefore(ordered[j])
	})

	available := 0
	for _, lot := range ordered {
		available += lot.Quantity - reserved[lot.ID]
	}
	if available < required {
		ise := &domain.InsufficientStockError{
			Location:  loc,
			Available: available,
			Requested: required,
		}
		if product != nil {
			ise.ProductID = product.ID
			ise.ProductName = product.Name
		}
		return nil, ise
	}

	plan := make([]LotAllocation, 0, len(ordered))
	remaining := required
	for _, lot := range ordered {
		if remaining == 0 {
			break
		}
		take := min(lot.Quantity-reserved[lot.ID], remaining)
		plan = append(plan, LotAllocation{Lot: lot, Quantity: take})
		remaining -= take
	}

	if reserved != nil {
		for _, step := range plan {
			reserved[step.Lot.ID] += step.Quantity
		}
	}
	return plan, nil
}

// toAllocations converts a plan into the allocations stored on a sale line.
func toAllocations(plan []LotAllocation) []domain.Allocation {
	out := make([]domain.Allocation, 0, len(plan))
	for _, step := range plan {
		out = append(out, domain.Allocation{
			LotID:       step.Lot.ID,
			BatchNumber: step.Lot.BatchNumber,
			Quantity:    step.Quantity,
			UnitPrice:   step.Lot.UnitPrice,
		})
	}
	return out
}
