// Package client calls the order and inventory REST surfaces, directly or
// through the gateway.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const correlationHeader = "X-Correlation-ID"

// APIError is a non-2xx response. It unwraps to the domain error named by
// Code so callers can use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	for _, known := range []*models.DomainError{
		models.ErrNotFound,
		models.ErrInsufficientStock,
		models.ErrInvalidTransition,
		models.ErrOptimisticConflict,
		models.ErrInvalidQuantity,
		models.ErrReservationReleased,
	} {
		if known.Code == e.Code {
			return known
		}
	}
	return nil
}

type SagaClient struct {
	orderURL     string
	inventoryURL string
	httpClient   *http.Client
}

// NewSagaClient targets separate base URLs for orders and inventory. Pass the
// gateway URL twice to go through the gateway.
func NewSagaClient(orderURL, inventoryURL string) *SagaClient {
	return &SagaClient{
		orderURL:     orderURL,
		inventoryURL: inventoryURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// CreateOrder places an order. correlationID may be empty.
func (c *SagaClient) CreateOrder(ctx context.Context, req models.CreateOrderRequest, correlationID string) (*models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodPost, c.orderURL+"/api/orders", req, correlationID, &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *SagaClient) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodGet, c.orderURL+"/api/orders/"+url.PathEscape(orderNumber), nil, "", &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (c *SagaClient) ConfirmOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodPost, c.orderURL+"/api/orders/confirm/"+url.PathEscape(orderNumber), nil, "", &order)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// WaitForStatus polls the order until it reaches one of statuses.
func (c *SagaClient) WaitForStatus(ctx context.Context, orderNumber string, interval time.Duration, statuses ...models.OrderStatus) (*models.Order, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		order, err := c.GetOrder(ctx, orderNumber)
		if err != nil {
			return nil, err
		}
		for _, s := range statuses {
			if order.Status == s {
				return order, nil
			}
		}

		select {
		case <-ctx.Done():
			return order, fmt.Errorf("order %s still %s: %w", orderNumber, order.Status, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *SagaClient) GetInventory(ctx context.Context, sku string) (*models.InventorySnapshot, error) {
	var snapshot models.InventorySnapshot
	err := c.do(ctx, http.MethodGet, c.inventoryURL+"/api/inventory/"+url.PathEscape(sku), nil, "", &snapshot)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (c *SagaClient) CreateInventory(ctx context.Context, productID, sku string) (*models.Inventory, error) {
	endpoint := c.inventoryURL + "/api/inventory/" + url.PathEscape(productID) + "?sku=" + url.QueryEscape(sku)
	var inv models.Inventory
	if err := c.do(ctx, http.MethodPost, endpoint, nil, "", &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *SagaClient) SetQuantity(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return c.quantityOp(ctx, productID, "quantity", qty)
}

func (c *SagaClient) Reserve(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return c.quantityOp(ctx, productID, "reserver", qty)
}

func (c *SagaClient) Release(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return c.quantityOp(ctx, productID, "release", qty)
}

func (c *SagaClient) Commit(ctx context.Context, productID string, qty int) (*models.Inventory, error) {
	return c.quantityOp(ctx, productID, "commit", qty)
}

func (c *SagaClient) quantityOp(ctx context.Context, productID, op string, qty int) (*models.Inventory, error) {
	var inv models.Inventory
	err := c.do(ctx, http.MethodPost, c.inventoryURL+"/api/inventory/"+url.PathEscape(productID)+"/"+op, qty, "", &inv)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (c *SagaClient) do(ctx context.Context, method, endpoint string, body any, correlationID string, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if correlationID != "" {
		req.Header.Set(correlationHeader, correlationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}
