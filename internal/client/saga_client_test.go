package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestCreateOrder(t *testing.T) {
	var gotCorrelation string
	var gotReq models.CreateOrderRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders", r.URL.Path)
		gotCorrelation = r.Header.Get(correlationHeader)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		writeJSON(w, http.StatusCreated, models.Order{OrderNumber: "o-1", Status: models.OrderStatusCreated})
	}))
	defer srv.Close()

	c := NewSagaClient(srv.URL, srv.URL)
	order, err := c.CreateOrder(context.Background(), models.CreateOrderRequest{
		OrderLineItemsDtoList: []models.CreateOrderLineItemRequest{
			{SKU: "SKU-1", Price: decimal.RequireFromString("9.99"), Quantity: 2, ProductID: "p-1"},
		},
	}, "corr-1")

	require.NoError(t, err)
	assert.Equal(t, "o-1", order.OrderNumber)
	assert.Equal(t, "corr-1", gotCorrelation)
	require.Len(t, gotReq.OrderLineItemsDtoList, 1)
	assert.Equal(t, 2, gotReq.OrderLineItemsDtoList[0].Quantity)
}

func TestAPIErrorUnwrapsToDomainError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": map[string]string{"code": "INSUFFICIENT_STOCK", "message": "reserve 5 of SKU-1 (available 1): insufficient stock"},
		})
	}))
	defer srv.Close()

	c := NewSagaClient(srv.URL, srv.URL)
	_, err := c.Reserve(context.Background(), "p-1", 5)

	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInsufficientStock))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.Status)
}

func TestAPIErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewSagaClient(srv.URL, srv.URL)
	_, err := c.GetInventory(context.Background(), "SKU-1")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Bad Gateway", apiErr.Message)
	assert.Nil(t, apiErr.Unwrap())
}

func TestQuantityOperationsSendBareInteger(t *testing.T) {
	paths := map[string]func(c *SagaClient) (*models.Inventory, error){
		"/api/inventory/p-1/quantity": func(c *SagaClient) (*models.Inventory, error) { return c.SetQuantity(context.Background(), "p-1", 7) },
		"/api/inventory/p-1/reserver": func(c *SagaClient) (*models.Inventory, error) { return c.Reserve(context.Background(), "p-1", 7) },
		"/api/inventory/p-1/release":  func(c *SagaClient) (*models.Inventory, error) { return c.Release(context.Background(), "p-1", 7) },
		"/api/inventory/p-1/commit":   func(c *SagaClient) (*models.Inventory, error) { return c.Commit(context.Background(), "p-1", 7) },
	}

	for path, call := range paths {
		t.Run(path, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, path, r.URL.Path)
				body, _ := io.ReadAll(r.Body)
				assert.Equal(t, "7", string(body))
				writeJSON(w, http.StatusOK, models.Inventory{ProductID: "p-1", Quantity: 7})
			}))
			defer srv.Close()

			inv, err := call(NewSagaClient(srv.URL, srv.URL))

			require.NoError(t, err)
			assert.Equal(t, 7, inv.Quantity)
		})
	}
}

func TestCreateInventoryEscapesSKU(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/inventory/p-1", r.URL.Path)
		assert.Equal(t, "SKU-1", r.URL.Query().Get("sku"))
		writeJSON(w, http.StatusCreated, models.Inventory{ProductID: "p-1", SKU: "SKU-1"})
	}))
	defer srv.Close()

	inv, err := NewSagaClient(srv.URL, srv.URL).CreateInventory(context.Background(), "p-1", "SKU-1")

	require.NoError(t, err)
	assert.Equal(t, "SKU-1", inv.SKU)
}

func TestWaitForStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status := models.OrderStatusCreated
		if calls.Add(1) >= 3 {
			status = models.OrderStatusReserved
		}
		writeJSON(w, http.StatusOK, models.Order{OrderNumber: "o-1", Status: status})
	}))
	defer srv.Close()

	c := NewSagaClient(srv.URL, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	order, err := c.WaitForStatus(ctx, "o-1", time.Millisecond, models.OrderStatusReserved, models.OrderStatusReservationFailed)

	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusReserved, order.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitForStatusTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, models.Order{OrderNumber: "o-1", Status: models.OrderStatusCreated})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewSagaClient(srv.URL, srv.URL).WaitForStatus(ctx, "o-1", 5*time.Millisecond, models.OrderStatusReserved)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
