package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ammerola/stockledger/internal/core/domain"
	"github.com/ammerola/stockledger/internal/core/ports"
	"github.com/ammerola/stockledger/internal/handlers"
	"github.com/ammerola/stockledger/test/helpers"
	"github.com/ammerola/stockledger/test/mocks"
)

func testSale(productID uuid.UUID) *domain.Sale {
	return &domain.Sale{
		ID:       "SAL260101-O1-0001",
		Location: domain.Outlet("O1"),
		Lines: []domain.SaleLine{{
			ProductID:   productID,
			Quantity:    2,
			UnitPrice:   decimal.NewFromInt(10),
			LineTotal:   decimal.NewFromInt(20),
			Allocations: []domain.Allocation{{LotID: uuid.New(), Quantity: 2}},
		}},
		Subtotal:    decimal.NewFromInt(20),
		TotalAmount: decimal.NewFromInt(20),
		Payments:    []domain.Payment{{Method: "cash", Amount: decimal.NewFromInt(15)}},
		PaidAmount:  decimal.NewFromInt(15),
		Returns:     []domain.Return{},
		CreatedAt:   time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSalesHandler_CreateSale(t *testing.T) {
	productID := uuid.New()
	validBody := map[string]interface{}{
		"location": map[string]string{"kind": "outlet", "id": "O1"},
		"items": []map[string]interface{}{
			{"product_id": productID, "quantity": 2},
		},
		"payments": []map[string]interface{}{
			{"method": "cash", "amount": "15"},
		},
	}

	tests := []struct {
		name           string
		body           interface{}
		idempotencyKey string
		setupMocks     func(*mocks.MockSaleService)
		expectedStatus int
		validateBody   func(*testing.T, *httptest.ResponseRecorder)
	}{
		{
			name:           "creates_sale",
			body:           validBody,
			idempotencyKey: "till-7-0042",
			setupMocks: func(m *mocks.MockSaleService) {
				m.EXPECT().
					CreateSale(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, req ports.CreateSaleRequest) (*ports.CreateSaleResult, error) {
						assert.Equal(t, domain.Outlet("O1"), req.Location)
						require.Len(t, req.Items, 1)
						assert.Equal(t, productID, req.Items[0].ProductID)
						assert.Equal(t, 2, req.Items[0].Quantity)
						assert.Nil(t, req.Items[0].UnitPrice)
						require.Len(t, req.Payments, 1)
						assert.True(t, req.Payments[0].Amount.Equal(decimal.NewFromInt(15)))
						assert.Equal(t, "clerk-1", req.CreatedBy)
						assert.Equal(t, "till-7-0042", req.IdempotencyKey)
						return &ports.CreateSaleResult{Sale: testSale(productID)}, nil
					})
			},
			expectedStatus: http.StatusCreated,
			validateBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				var resp struct {
					ID        string          `json:"id"`
					DueAmount decimal.Decimal `json:"due_amount"`
					Total     decimal.Decimal `json:"total_amount"`
				}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, "SAL260101-O1-0001", resp.ID)
				assert.True(t, resp.Total.Equal(decimal.NewFromInt(20)))
				assert.True(t, resp.DueAmount.Equal(decimal.NewFromInt(5)))
			},
		},
		{
			name:           "replayed_sale_returns_ok",
			body:           validBody,
			idempotencyKey: "till-7-0042",
			setupMocks: func(m *mocks.MockSaleService) {
				m.EXPECT().
					CreateSale(gomock.Any(), gomock.Any()).
					Return(&ports.CreateSaleResult{Sale: testSale(productID), Replayed: true}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name: "rejects_empty_items",
			body: map[string]interface{}{
				"location": map[string]string{"kind": "outlet", "id": "O1"},
				"items":    []interface{}{},
			},
			setupMocks:     func(m *mocks.MockSaleService) {},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				resp := decodeError(t, w.Body.Bytes())
				assert.Equal(t, "min", resp.Details["items"])
			},
		},
		{
			name: "rejects_bad_location_and_quantity",
			body: map[string]interface{}{
				"location": map[string]string{"kind": "depot", "id": "D1"},
				"items": []map[string]interface{}{
					{"product_id": productID, "quantity": 0},
				},
			},
			setupMocks:     func(m *mocks.MockSaleService) {},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				resp := decodeError(t, w.Body.Bytes())
				assert.Equal(t, "oneof", resp.Details["location.kind"])
				assert.Equal(t, "required", resp.Details["items[0].quantity"])
			},
		},
		{
			name: "item_needs_product_or_lots",
			body: map[string]interface{}{
				"location": map[string]string{"kind": "outlet", "id": "O1"},
				"items":    []map[string]interface{}{{"quantity": 1}},
			},
			setupMocks:     func(m *mocks.MockSaleService) {},
			expectedStatus: http.StatusBadRequest,
			validateBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				resp := decodeError(t, w.Body.Bytes())
				assert.Equal(t, "required_without", resp.Details["items[0].lot_ids"])
			},
		},
		{
			name:           "rejects_unknown_fields",
			body:           `{"location":{"kind":"outlet","id":"O1"},"items":[],"tax":1}`,
			setupMocks:     func(m *mocks.MockSaleService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "insufficient_stock_is_conflict",
			body: validBody,
			setupMocks: func(m *mocks.MockSaleService) {
				m.EXPECT().
					CreateSale(gomock.Any(), gomock.Any()).
					Return(nil, &domain.InsufficientStockError{
						ProductID: productID,
						Location:  domain.Outlet("O1"),
						Available: 1,
						Requested: 2,
					})
			},
			expectedStatus: http.StatusConflict,
			validateBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				resp := decodeError(t, w.Body.Bytes())
				assert.Equal(t, productID.String(), resp.ProductID)
				assert.Equal(t, "outlet:O1", resp.Location)
				require.NotNil(t, resp.Available)
				assert.Equal(t, 1, *resp.Available)
				assert.Equal(t, 2, *resp.Requested)
			},
		},
		{
			name: "exhausted_retries_ask_client_to_retry",
			body: validBody,
			setupMocks: func(m *mocks.MockSaleService) {
				m.EXPECT().
					CreateSale(gomock.Any(), gomock.Any()).
					Return(nil, &domain.ConflictError{Resource: "sale", Attempts: 3})
			},
			expectedStatus: http.StatusServiceUnavailable,
			validateBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				assert.Equal(t, "1", w.Header().Get("Retry-After"))
			},
		},
		{
			name: "unknown_product_is_not_found",
			body: validBody,
			setupMocks: func(m *mocks.MockSaleService) {
				m.EXPECT().
					CreateSale(gomock.Any(), gomock.Any()).
					Return(nil, domain.NewNotFoundError("product", productID))
			},
			expectedStatus: http.StatusNotFound,
		},
		{
			name: "store_failure_is_opaque",
			body: validBody,
			setupMocks: func(m *mocks.MockSaleService) {
				m.EXPECT().
					CreateSale(gomock.Any(), gomock.Any()).
					Return(nil, errors.New("pq: connection refused"))
			},
			expectedStatus: http.StatusInternalServerError,
			validateBody: func(t *testing.T, w *httptest.ResponseRecorder) {
				resp := decodeError(t, w.Body.Bytes())
				assert.Equal(t, "Internal server error", resp.Error)
				assert.NotContains(t, w.Body.String(), "connection refused")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockSales := mocks.NewMockSaleService(ctrl)
			tt.setupMocks(mockSales)

			handler := handlers.NewSalesHandler(mockSales, mocks.NewMockReturnService(ctrl), helpers.TestLogger())

			req := jsonRequest(t, http.MethodPost, "/api/v1/sales", tt.body)
			req.Header.Set("X-User-ID", "clerk-1")
			if tt.idempotencyKey != "" {
				req.Header.Set(handlers.IdempotencyKeyHeader, tt.idempotencyKey)
			}
			w := httptest.NewRecorder()

			handler.CreateSale(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.validateBody != nil {
				tt.validateBody(t, w)
			}
		})
	}
}

func TestSalesHandler_GetSale(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSales := mocks.NewMockSaleService(ctrl)
	handler := handlers.NewSalesHandler(mockSales, mocks.NewMockReturnService(ctrl), helpers.TestLogger())

	sale := testSale(uuid.New())
	mockSales.EXPECT().GetSale(gomock.Any(), sale.ID).Return(sale, nil)
	mockSales.EXPECT().GetSale(gomock.Any(), "missing").Return(nil, domain.NewNotFoundError("sale", "missing"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sales/"+sale.ID, nil)
	req.SetPathValue("id", sale.ID)
	w := httptest.NewRecorder()
	handler.GetSale(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"due_amount":"5"`)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sales/missing", nil)
	req.SetPathValue("id", "missing")
	w = httptest.NewRecorder()
	handler.GetSale(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "sale missing not found", decodeError(t, w.Body.Bytes()).Error)
}

func TestSalesHandler_CreateReturn(t *testing.T) {
	lotID := uuid.New()

	tests := []struct {
		name           string
		body           interface{}
		setupMocks     func(*mocks.MockReturnService)
		expectedStatus int
	}{
		{
			name: "records_return",
			body: map[string]interface{}{
				"items": []map[string]interface{}{{"lot_id": lotID, "quantity": 1, "reason": "damaged"}},
				"notes": "box crushed",
			},
			setupMocks: func(m *mocks.MockReturnService) {
				m.EXPECT().
					ProcessReturn(gomock.Any(), gomock.Any()).
					DoAndReturn(func(_ context.Context, req ports.ReturnRequest) (*domain.Return, error) {
						assert.Equal(t, "SAL1", req.SaleID)
						assert.Equal(t, "clerk-1", req.ProcessedBy)
						require.Len(t, req.Items, 1)
						assert.Equal(t, domain.ReturnItem{LotID: lotID, Quantity: 1, Reason: "damaged"}, req.Items[0])
						return &domain.Return{ID: uuid.New(), SaleID: req.SaleID, Items: req.Items}, nil
					})
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name: "over_return_is_bad_request",
			body: map[string]interface{}{
				"items": []map[string]interface{}{{"lot_id": lotID, "quantity": 9}},
			},
			setupMocks: func(m *mocks.MockReturnService) {
				m.EXPECT().
					ProcessReturn(gomock.Any(), gomock.Any()).
					Return(nil, domain.NewValidationError("items[0].quantity", "exceeds returnable quantity 2"))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "requires_items",
			body:           map[string]interface{}{"notes": "nothing"},
			setupMocks:     func(m *mocks.MockReturnService) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockReturns := mocks.NewMockReturnService(ctrl)
			tt.setupMocks(mockReturns)
			handler := handlers.NewSalesHandler(mocks.NewMockSaleService(ctrl), mockReturns, helpers.TestLogger())

			req := jsonRequest(t, http.MethodPost, "/api/v1/sales/SAL1/returns", tt.body)
			req.SetPathValue("id", "SAL1")
			req.Header.Set("X-User-ID", "clerk-1")
			w := httptest.NewRecorder()

			handler.CreateReturn(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
		})
	}
}
