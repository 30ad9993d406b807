// internal/core/domain/sale.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment is one tender applied to a sale.
type Payment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Allocation records how much of a single lot a line consumed.
type Allocation struct {
	LotID       uuid.UUID       `json:"lot_id"`
	BatchNumber string          `json:"batch_number,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// SaleLine is one product line within a sale.
type SaleLine struct {
	ProductID   uuid.UUID       `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Allocations []Allocation    `json:"allocations"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount_applied"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// ComputeTotal returns the gross amount minus the line discount. Allocated
// lines are priced per allocation, so units drawn from lots with different
// prices are each charged at their own lot's price.
func (l SaleLine) ComputeTotal() decimal.Decimal {
	if len(l.Allocations) == 0 {
		return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Sub(l.Discount)
	}
	gross := decimal.Zero
	for _, a := range l.Allocations {
		gross = gross.Add(a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity))))
	}
	return gross.Sub(l.Discount)
}

// ReturnItem puts quantity of one lot back into stock.
type ReturnItem struct {
	LotID    uuid.UUID `json:"lot_id"`
	Quantity int       `json:"quantity"`
	Reason   string    `json:"reason,omitempty"`
}

// Return is a reversal of part of a sale.
type Return struct {
	ID          uuid.UUID    `json:"id"`
	SaleID      string       `json:"sale_id"`
	Items       []ReturnItem `json:"items"`
	Notes       string       `json:"notes,omitempty"`
	ProcessedBy string       `json:"processed_by,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// Sale is one completed point-of-sale transaction. After creation it only
// changes by gaining Return entries.
type Sale struct {
	ID             string          `json:"id"`
	Location       Location        `json:"location"`
	CustomerID     *uuid.UUID      `json:"customer_id,omitempty"`
	Lines          []SaleLine      `json:"lines"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Payments       []Payment       `json:"payments"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	Notes          string          `json:"notes,omitempty"`
	Returns        []Return        `json:"returns"`
	CreatedBy      string          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ComputeSaleTotals sums the line totals and applies the sale-level discount.
// The total is floored at zero.
func ComputeSaleTotals(lines []SaleLine, discount decimal.Decimal) (subtotal, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.ComputeTotal())
	}
	total = subtotal.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return subtotal, total
}

// SumPayments adds up payment amounts.
func SumPayments(payments []Payment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum
}

// DueAmount is the unpaid balance, never negative.
func (s *Sale) DueAmount() decimal.Decimal {
	due := s.TotalAmount.Sub(s.PaidAmount)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// TotalQuantity is the number of units sold across all lines.
func (s *Sale) TotalQuantity() int {
	total := 0
	for _, line := range s.Lines {
		total += line.Quantity
	}
	return total
}

// SoldFromLot is the quantity this sale took from lotID.
func (s *Sale) SoldFromLot(lotID uuid.UUID) int {
	sold := 0
	for _, line := range s.Lines {
		for _, a := range line.Allocations {
			if a.LotID == lotID {
				sold += a.Quantity
			}
		}
	}
	return sold
}

// ReturnedToLot is the quantity already returned to lotID by earlier returns.
func (s *Sale) ReturnedToLot(lotID uuid.UUID) int {
	returned := 0
	for _, r := range s.Returns {
		for _, item := range r.Items {
			if item.LotID == lotID {
				returned += item.Quantity
			}
		}
	}
	return returned
}

// ProductForLot finds the product a lot was sold as within this sale.
func (s *Sale) ProductForLot(lotID uuid.UUID) (uuid.UUID, bool) {
	for _, line := range s.Lines {
		for _, a := range line.Allocations {
			if a.LotID == lotID {
				return line.ProductID, true
			}
		}
	}
	return uuid.Nil, false
}
