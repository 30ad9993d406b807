package services_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/services"
	"github.com/ammerola/stockledger/test/helpers"
)

func TestAllocateFIFO(t *testing.T) {
	product := helpers.CreateTestProduct()
	loc := domain.Outlet("O1")
	day := func(n int) time.Time { return time.Date(2026, 10, n, 9, 0, 0, 0, time.UTC) }

	l1 := helpers.CreateTestLot(product.ID, loc, 5, helpers.ReceivedAt(day(1)))
	l2 := helpers.CreateTestLot(product.ID, loc, 10, helpers.ReceivedAt(day(2)))
	empty := helpers.CreateTestLot(product.ID, loc, 0, helpers.ReceivedAt(day(0)))

	tests := []struct {
		name     string
		lots     []*domain.StockLot
		required int
		reserved services.Reservations
		want     map[uuid.UUID]int
		order    []uuid.UUID
		wantErr  error
	}{
		{
			name:     "spills_into_second_lot",
			lots:     []*domain.StockLot{l2, l1},
			required: 7,
			want:     map[uuid.UUID]int{l1.ID: 5, l2.ID: 2},
			order:    []uuid.UUID{l1.ID, l2.ID},
		},
		{
			name:     "single_lot_is_enough",
			lots:     []*domain.StockLot{l1, l2},
			required: 4,
			want:     map[uuid.UUID]int{l1.ID: 4},
			order:    []uuid.UUID{l1.ID},
		},
		{
			name:     "empty_lots_are_skipped",
			lots:     []*domain.StockLot{empty, l1},
			required: 5,
			want:     map[uuid.UUID]int{l1.ID: 5},
			order:    []uuid.UUID{l1.ID},
		},
		{
			name:     "reservations_reduce_what_is_left",
			lots:     []*domain.StockLot{l1, l2},
			required: 3,
			reserved: services.Reservations{l1.ID: 4},
			want:     map[uuid.UUID]int{l1.ID: 1, l2.ID: 2},
			order:    []uuid.UUID{l1.ID, l2.ID},
		},
		{
			name:     "insufficient_stock",
			lots:     []*domain.StockLot{l1, l2},
			required: 16,
			wantErr:  domain.ErrInsufficientStock,
		},
		{
			name:     "no_lots",
			required: 1,
			wantErr:  domain.ErrInsufficientStock,
		},
		{
			name:     "zero_quantity",
			lots:     []*domain.StockLot{l1},
			required: 0,
			wantErr:  domain.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := services.AllocateFIFO(product, loc, tt.lots, tt.required, tt.reserved)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, plan)
				return
			}
			require.NoError(t, err)

			got := make(map[uuid.UUID]int)
			var order []uuid.UUID
			total := 0
			for _, step := range plan {
				got[step.Lot.ID] = step.Quantity
				order = append(order, step.Lot.ID)
				total += step.Quantity
			}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.order, order)
			assert.Equal(t, tt.required, total)
		})
	}

	t.Run("lots_are_not_modified", func(t *testing.T) {
		_, err := services.AllocateFIFO(product, loc, []*domain.StockLot{l1, l2}, 12, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, l1.Quantity)
		assert.Equal(t, 10, l2.Quantity)
	})

	t.Run("insufficient_reports_available_and_requested", func(t *testing.T) {
		reserved := services.Reservations{l1.ID: 2}
		_, err := services.AllocateFIFO(product, loc, []*domain.StockLot{l1, l2}, 20, reserved)

		var ise *domain.InsufficientStockError
		require.True(t, errors.As(err, &ise))
		assert.Equal(t, 13, ise.Available)
		assert.Equal(t, 20, ise.Requested)
		assert.Equal(t, product.ID, ise.ProductID)
		assert.Equal(t, loc, ise.Location)
		assert.Equal(t, services.Reservations{l1.ID: 2}, reserved, "failed plans reserve nothing")
	})

	t.Run("ties_break_on_creation_then_id", func(t *testing.T) {
		a := helpers.CreateTestLot(product.ID, loc, 1, func(l *domain.StockLot) {
			l.ReceivedAt = day(3)
			l.CreatedAt = day(4)
		})
		b := helpers.CreateTestLot(product.ID, loc, 1, func(l *domain.StockLot) {
			l.ReceivedAt = day(3)
			l.CreatedAt = day(3)
		})

		plan, err := services.AllocateFIFO(product, loc, []*domain.StockLot{a, b}, 1, nil)
		require.NoError(t, err)
		require.Len(t, plan, 1)
		assert.Equal(t, b.ID, plan[0].Lot.ID)
	})
}
