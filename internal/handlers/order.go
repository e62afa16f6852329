package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
)

// OrderUseCases is implemented by service.OrderService.
type OrderUseCases interface {
	PlaceOrder(ctx context.Context, req models.CreateOrderRequest, correlationID string) (*models.Order, error)
	Confirm(ctx context.Context, orderNumber string) (*models.Order, error)
	Get(ctx context.Context, orderNumber string) (*models.Order, error)
	List(ctx context.Context, limit int) ([]models.Order, error)
}

type OrderHandler struct {
	orders OrderUseCases
}

func NewOrderHandler(orders OrderUseCases) *OrderHandler {
	return &OrderHandler{orders: orders}
}

func (h *OrderHandler) Register(r gin.IRouter) {
	r.POST("/api/orders", h.CreateOrder)
	r.POST("/api/orders/confirm/:orderNumber", h.ConfirmOrder)
	r.GET("/api/orders", h.ListOrders)
	r.GET("/api/orders/:orderNumber", h.GetOrder)
}

// CreateOrder places an order in CREATED and schedules order.created.
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req models.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}

	order, err := h.orders.PlaceOrder(c.Request.Context(), req, correlationID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// ConfirmOrder runs RESERVED -> COMMITTED -> CONFIRMED.
func (h *OrderHandler) ConfirmOrder(c *gin.Context) {
	order, err := h.orders.Confirm(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("orderNumber"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// ListOrders returns the latest orders, newest first.
func (h *OrderHandler) ListOrders(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil {
		respondBadRequest(c, err)
		return
	}

	orders, err := h.orders.List(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}
