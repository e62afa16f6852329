package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrders struct {
	placed        models.CreateOrderRequest
	correlationID string
	err           error
	order         *models.Order
	listLimit     int
}

func (f *fakeOrders) PlaceOrder(_ context.Context, req models.CreateOrderRequest, correlationID string) (*models.Order, error) {
	f.placed = req
	f.correlationID = correlationID
	return f.order, f.err
}

func (f *fakeOrders) Confirm(_ context.Context, orderNumber string) (*models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{OrderNumber: orderNumber, Status: models.OrderStatusConfirmed}, nil
}

func (f *fakeOrders) Get(_ context.Context, orderNumber string) (*models.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.Order{OrderNumber: orderNumber, Status: models.OrderStatusReserved}, nil
}

func (f *fakeOrders) List(_ context.Context, limit int) ([]models.Order, error) {
	f.listLimit = limit
	return []models.Order{{OrderNumber: "o-1"}}, f.err
}

type fakeInventory struct {
	err     error
	created bool
	lastOp  string
	lastQty int
}

func (f *fakeInventory) Snapshot(_ context.Context, sku string) (models.InventorySnapshot, error) {
	if f.err != nil {
		return models.InventorySnapshot{}, f.err
	}
	return models.InventorySnapshot{SKU: sku, Quantity: 10, ReservedQuantity: 2, InStock: true}, nil
}

func (f *fakeInventory) CreateIfMissing(_ context.Context, productID, sku string) (*models.Inventory, bool, error) {
	if f.err != nil {
		return nil, false, f.err
	}
	return &models.Inventory{ProductID: productID, SKU: sku}, f.created, nil
}

func (f *fakeInventory) op(name, productID string, qty int) (*models.Inventory, error) {
	f.lastOp, f.lastQty = name, qty
	if f.err != nil {
		return nil, f.err
	}
	return &models.Inventory{ProductID: productID, SKU: "SKU-1", Quantity: 10, ReservedQuantity: qty}, nil
}

func (f *fakeInventory) Reserve(_ context.Context, productID string, qty int) (*models.Inventory, error) {
	return f.op("reserve", productID, qty)
}

func (f *fakeInventory) Release(_ context.Context, productID string, qty int) (*models.Inventory, error) {
	return f.op("release", productID, qty)
}

func (f *fakeInventory) Commit(_ context.Context, productID string, qty int) (*models.Inventory, error) {
	return f.op("commit", productID, qty)
}

func (f *fakeInventory) SetQuantity(_ context.Context, productID string, qty int) (*models.Inventory, error) {
	return f.op("quantity", productID, qty)
}

func newTestEngine(orders *fakeOrders, inventory *fakeInventory) *gin.Engine {
	r := NewEngine("test-service", zap.NewNop())
	if orders != nil {
		NewOrderHandler(orders).Register(r)
	}
	if inventory != nil {
		NewInventoryHandler(inventory).Register(r)
	}
	return r
}

func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body struct {
		Error errorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Error
}

const validOrder = `{"orderNumber":"ignored","orderLineItemsDtoList":[{"sku":"SKU-1","price":"10.50","quantity":2,"productId":"p-1"}]}`

func TestCreateOrder(t *testing.T) {
	orders := &fakeOrders{order: &models.Order{OrderNumber: "o-1", Status: models.OrderStatusCreated}}
	r := newTestEngine(orders, nil)

	w := do(r, http.MethodPost, "/api/orders", validOrder, CorrelationHeader, "corr-42")

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "corr-42", w.Header().Get(CorrelationHeader))
	assert.Equal(t, "corr-42", orders.correlationID)
	require.Len(t, orders.placed.OrderLineItemsDtoList, 1)
	assert.Equal(t, "SKU-1", orders.placed.OrderLineItemsDtoList[0].SKU)

	var got models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "o-1", got.OrderNumber)
	assert.Equal(t, models.OrderStatusCreated, got.Status)
}

func TestCreateOrderGeneratesCorrelationID(t *testing.T) {
	orders := &fakeOrders{order: &models.Order{OrderNumber: "o-1"}}
	r := newTestEngine(orders, nil)

	w := do(r, http.MethodPost, "/api/orders", validOrder)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.NotEmpty(t, orders.correlationID)
	assert.Equal(t, orders.correlationID, w.Header().Get(CorrelationHeader))
}

func TestCreateOrderRejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"orderLineItemsDtoList":`},
		{"no line items", `{"orderLineItemsDtoList":[]}`},
		{"bad sku", `{"orderLineItemsDtoList":[{"sku":"bad sku!","price":"1","quantity":1,"productId":"p-1"}]}`},
		{"zero quantity", `{"orderLineItemsDtoList":[{"sku":"SKU-1","price":"1","quantity":0,"productId":"p-1"}]}`},
		{"missing product", `{"orderLineItemsDtoList":[{"sku":"SKU-1","price":"1","quantity":1}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := &fakeOrders{}
			r := newTestEngine(orders, nil)

			w := do(r, http.MethodPost, "/api/orders", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "BAD_REQUEST", decodeError(t, w).Code)
			assert.Empty(t, orders.placed.OrderLineItemsDtoList)
		})
	}
}

func TestOrderErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", fmt.Errorf("order o-1: %w", models.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"invalid transition", fmt.Errorf("cannot confirm: %w", models.ErrInvalidTransition), http.StatusConflict, "INVALID_TRANSITION"},
		{"conflict", models.ErrOptimisticConflict, http.StatusConflict, "OPTIMISTIC_CONFLICT"},
		{"invalid quantity", models.ErrInvalidQuantity, http.StatusBadRequest, "INVALID_QUANTITY"},
		{"sku mismatch", models.ErrSKUMismatch, http.StatusConflict, "SKU_MISMATCH"},
		{"unexpected", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestEngine(&fakeOrders{err: tt.err}, nil)

			w := do(r, http.MethodPost, "/api/orders/confirm/o-1", "")

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	r := newTestEngine(&fakeOrders{err: errors.New("pq: password authentication failed")}, nil)

	w := do(r, http.MethodGet, "/api/orders/o-1", "")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeError(t, w).Message)
}

func TestConfirmAndGetOrder(t *testing.T) {
	r := newTestEngine(&fakeOrders{}, nil)

	w := do(r, http.MethodPost, "/api/orders/confirm/o-7", "")
	require.Equal(t, http.StatusOK, w.Code)
	var confirmed models.Order
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &confirmed))
	assert.Equal(t, "o-7", confirmed.OrderNumber)
	assert.Equal(t, models.OrderStatusConfirmed, confirmed.Status)

	w = do(r, http.MethodGet, "/api/orders/o-7", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"RESERVED"`)
}

func TestListOrders(t *testing.T) {
	orders := &fakeOrders{}
	r := newTestEngine(orders, nil)

	w := do(r, http.MethodGet, "/api/orders?limit=5", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, orders.listLimit)

	w = do(r, http.MethodGet, "/api/orders?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetInventory(t *testing.T) {
	r := newTestEngine(nil, &fakeInventory{})

	w := do(r, http.MethodGet, "/api/inventory/SKU-1", "")

	require.Equal(t, http.StatusOK, w.Code)
	var got models.InventorySnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.InventorySnapshot{SKU: "SKU-1", Quantity: 10, ReservedQuantity: 2, InStock: true}, got)
}

func TestGetInventoryNotFound(t *testing.T) {
	r := newTestEngine(nil, &fakeInventory{err: models.ErrNotFound})

	w := do(r, http.MethodGet, "/api/inventory/SKU-404", "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)
}

func TestCreateInventory(t *testing.T) {
	inventory := &fakeInventory{created: true}
	r := newTestEngine(nil, inventory)

	w := do(r, http.MethodPost, "/api/inventory/p-1?sku=SKU-1", "")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"productId":"p-1"`)

	inventory.created = false
	w = do(r, http.MethodPost, "/api/inventory/p-1?sku=SKU-1", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInventoryQuantityOperations(t *testing.T) {
	routes := map[string]string{
		"reserver": "reserve",
		"release":  "release",
		"commit":   "commit",
		"quantity": "quantity",
	}
	for path, op := range routes {
		t.Run(path, func(t *testing.T) {
			inventory := &fakeInventory{}
			r := newTestEngine(nil, inventory)

			w := do(r, http.MethodPost, "/api/inventory/p-1/"+path, "3")

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, 3, inventory.lastQty)
			assert.Equal(t, op, inventory.lastOp)
		})
	}
}

func TestInventoryQuantityErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{"insufficient stock", fmt.Errorf("reserve 5: %w", models.ErrInsufficientStock), "5", http.StatusConflict},
		{"unknown product", models.ErrNotFound, "5", http.StatusNotFound},
		{"invalid quantity", models.ErrInvalidQuantity, "-1", http.StatusBadRequest},
		{"non numeric body", nil, `"five"`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestEngine(nil, &fakeInventory{err: tt.err})

			w := do(r, http.MethodPost, "/api/inventory/p-1/reserver", tt.body)

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestHealthCheck(t *testing.T) {
	r := NewEngine("test-service", zap.NewNop())
	healthy := NewHealthHandler("test-service", map[string]Check{
		"postgres": func(context.Context) error { return nil },
	})
	degraded := NewHealthHandler("test-service", map[string]Check{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	r.GET("/health", healthy.HealthCheck)
	r.GET("/health/degraded", degraded.HealthCheck)

	w := do(r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)

	w = do(r, http.MethodGet, "/health/degraded", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"dial tcp: refused"`)
	assert.Contains(t, w.Body.String(), `"postgres":"up"`)
}
