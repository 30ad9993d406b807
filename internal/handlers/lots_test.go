package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/handlers"
	"github.com/ammerola/stockledger/test/helpers"
	"github.com/ammerola/stockledger/test/mocks"
)

func TestLotHandler_CreateLot(t *testing.T) {
	productID := uuid.New()

	tests := []struct {
		name           string
		body           interface{}
		setupMocks     func(*mocks.MockLotService)
		expectedStatus int
	}{
		{
			name: "receives_stock",
			body: map[string]interface{}{
				"product_id":   productID,
				"location":     map[string]string{"kind": "warehouse", "id": "W1"},
				"batch_number": "B-7",
				"quantity":     12,
				"unit_cost":    "3.10",
				"unit_price":   "6.50",
				"expiry_date":  "2027-03-01T00:00:00Z",
			},
			setupMocks: func(m *mocks.MockLotService) {
				m.EXPECT().
					Intake(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, req ports.IntakeRequest) (*domain.StockLot, error) {
						assert.Equal(t, productID, req.ProductID)
						assert.Equal(t, domain.Warehouse("W1"), req.Location)
						assert.Equal(t, 12, req.Quantity)
						assert.Equal(t, "3.1", req.UnitCost.String())
						require.NotNil(t, req.ExpiryDate)
						assert.Nil(t, req.ReceivedAt)
						assert.Equal(t, "receiver", req.CreatedBy)
						return &domain.StockLot{ID: uuid.New(), ProductID: productID, Location: req.Location, Quantity: 12}, nil
					})
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "rejects_non_positive_quantity",
			body: map[string]interface{}{
				"product_id": productID,
				"location":   map[string]string{"kind": "warehouse", "id": "W1"},
				"quantity":   -1,
			},
			setupMocks:     func(m *mocks.MockLotService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "unknown_product",
			body: map[string]interface{}{
				"product_id": productID,
				"location":   map[string]string{"kind": "outlet", "id": "O1"},
				"quantity":   1,
			},
			setupMocks: func(m *mocks.MockLotService) {
				m.EXPECT().Intake(gomock.Any(), gomock.Any()).Return(nil, domain.NewNotFoundError("product", productID))
			},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockLots := mocks.NewMockLotService(ctrl)
			tt.setupMocks(mockLots)
			handler := handlers.NewLotHandler(mockLots, helpers.TestLogger())

			req := jsonRequest(t, http.MethodPost, "/api/v1/lots", tt.body)
			req.Header.Set("X-User-ID", "receiver")
			w := httptest.NewRecorder()

			handler.CreateLot(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}

func TestLotHandler_ListLots(t *testing.T) {
	productID := uuid.New()

	tests := []struct {
		name           string
		query          string
		setupMocks     func(*mocks.MockLotService)
		expectedStatus int
		expectedCount  int
	}{
		{
			name:  "applies_filters",
			query: "?product_id=" + productID.String() + "&location_kind=Outlet&location_id=O1&batch_number=B-1&in_stock=true&limit=20&offset=40",
			setupMocks: func(m *mocks.MockLotService) {
				m.EXPECT().
					List(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, f ports.LotFilter) ([]*domain.StockLot, error) {
						require.NotNil(t, f.ProductID)
						assert.Equal(t, productID, *f.ProductID)
						require.NotNil(t, f.Location)
						assert.Equal(t, domain.Outlet("O1"), *f.Location)
						require.NotNil(t, f.BatchNumber)
						assert.Equal(t, "B-1", *f.BatchNumber)
						assert.True(t, f.InStockOnly)
						assert.Equal(t, 20, f.Limit)
						assert.Equal(t, 40, f.Offset)
						return []*domain.StockLot{{ID: uuid.New()}, {ID: uuid.New()}}, nil
					})
			},
			expectedStatus: http.StatusOK,
			expectedCount:  2,
		},
		{
			name:  "empty_result_is_an_empty_list",
			query: "",
			setupMocks: func(m *mocks.MockLotService) {
				m.EXPECT().List(gomock.Any(), gomock.Any()).Return(nil, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "location_needs_both_parts",
			query:          "?location_kind=warehouse",
			setupMocks:     func(m *mocks.MockLotService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "bad_product_id",
			query:          "?product_id=nope",
			setupMocks:     func(m *mocks.MockLotService) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockLots := mocks.NewMockLotService(ctrl)
			tt.setupMocks(mockLots)
			handler := handlers.NewLotHandler(mockLots, helpers.TestLogger())

			w := httptest.NewRecorder()
			handler.ListLots(w, httptest.NewRequest(http.MethodGet, "/api/v1/lots"+tt.query, nil))

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedStatus == http.StatusOK {
				var resp struct {
					Lots  []json.RawMessage `json:"lots"`
					Count int               `json:"count"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.NotNil(t, resp.Lots)
				assert.Equal(t, tt.expectedCount, resp.Count)
			}
		})
	}
}

func TestLotHandler_GetLotAndMovements(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	lot := helpers.CreateTestLot(uuid.New(), domain.Warehouse("W1"), 5)
	mockLots := mocks.NewMockLotService(ctrl)
	handler := handlers.NewLotHandler(mockLots, helpers.TestLogger())

	mockLots.EXPECT().GetByID(gomock.Any(), lot.ID).Return(lot, nil)
	mockLots.EXPECT().Movements(gomock.Any(), lot.ID).Return([]*domain.StockMovement{
		domain.NewMovement(lot, 5, domain.MovementIntake, "intake", "receiver", lot.ReceivedAt),
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/lots/"+lot.ID.String(), nil)
	req.SetPathValue("id", lot.ID.String())
	w := httptest.NewRecorder()
	handler.GetLot(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var got domain.StockLot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, lot.ID, got.ID)
	assert.Equal(t, 5, got.Quantity)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/lots/"+lot.ID.String()+"/movements", nil)
	req.SetPathValue("id", lot.ID.String())
	w = httptest.NewRecorder()
	handler.Movements(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"movements":[{`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/lots/xyz", nil)
	req.SetPathValue("id", "xyz")
	w = httptest.NewRecorder()
	handler.GetLot(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransferHandler_Transfer(t *testing.T) {
	productID := uuid.New()
	body := map[string]interface{}{
		"product_id": productID,
		"from":       map[string]string{"kind": "warehouse", "id": "W1"},
		"to":         map[string]string{"kind": "outlet", "id": "O1"},
		"quantity":   4,
	}

	tests := []struct {
		name           string
		body           interface{}
		setupMocks     func(*mocks.MockTransferService)
		expectedStatus int
	}{
		{
			name: "moves_stock",
			body: body,
			setupMocks: func(m *mocks.MockTransferService) {
				m.EXPECT().
					Transfer(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, req ports.TransferRequest) (*ports.TransferResult, error) {
						assert.Equal(t, domain.Warehouse("W1"), req.From)
						assert.Equal(t, domain.Outlet("O1"), req.To)
						assert.Equal(t, 4, req.Quantity)
						assert.Equal(t, "porter", req.CreatedBy)
						return &ports.TransferResult{
							TransferID:  uuid.New(),
							Transferred: []ports.TransferLine{{SourceLotID: uuid.New(), DestinationLotID: uuid.New(), QuantityTransferred: 4}},
						}, nil
					})
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "short_source_is_conflict",
			body: body,
			setupMocks: func(m *mocks.MockTransferService) {
				m.EXPECT().
					Transfer(gomock.Any(), gomock.Any()).
					Return(nil, &domain.InsufficientStockError{ProductID: productID, Location: domain.Warehouse("W1"), Available: 3, Requested: 4})
			},
			expectedStatus: http.StatusConflict,
		},
		{
			name: "missing_destination",
			body: map[string]interface{}{
				"product_id": productID,
				"from":       map[string]string{"kind": "warehouse", "id": "W1"},
				"quantity":   4,
			},
			setupMocks:     func(m *mocks.MockTransferService) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockTransfers := mocks.NewMockTransferService(ctrl)
			tt.setupMocks(mockTransfers)
			handler := handlers.NewTransferHandler(mockTransfers, helpers.TestLogger())

			req := jsonRequest(t, http.MethodPost, "/api/v1/transfers", tt.body)
			req.Header.Set("X-User-ID", "porter")
			w := httptest.NewRecorder()

			handler.Transfer(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}
