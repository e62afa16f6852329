package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
)

// InventoryUseCases is implemented by service.InventoryService.
type InventoryUseCases interface {
	Snapshot(ctx context.Context, sku string) (models.InventorySnapshot, error)
	CreateIfMissing(ctx context.Context, productID, sku string) (*models.Inventory, bool, error)
	Reserve(ctx context.Context, productID string, qty int) (*models.Inventory, error)
	Release(ctx context.Context, productID string, qty int) (*models.Inventory, error)
	Commit(ctx context.Context, productID string, qty int) (*models.Inventory, error)
	SetQuantity(ctx context.Context, productID string, qty int) (*models.Inventory, error)
}

type InventoryHandler struct {
	inventory InventoryUseCases
}

func NewInventoryHandler(inventory InventoryUseCases) *InventoryHandler {
	return &InventoryHandler{inventory: inventory}
}

func (h *InventoryHandler) Register(r gin.IRouter) {
	r.GET("/api/inventory/:sku", h.GetInventory)
	r.POST("/api/inventory/:productId", h.CreateInventory)
	r.POST("/api/inventory/:productId/reserver", h.quantityOp(h.inventory.Reserve))
	r.POST("/api/inventory/:productId/release", h.quantityOp(h.inventory.Release))
	r.POST("/api/inventory/:productId/commit", h.quantityOp(h.inventory.Commit))
	r.POST("/api/inventory/:productId/quantity", h.quantityOp(h.inventory.SetQuantity))
}

// GetInventory returns {sku, quantity, reservedQuantity, inStock}.
func (h *InventoryHandler) GetInventory(c *gin.Context) {
	snapshot, err := h.inventory.Snapshot(c.Request.Context(), c.Param("sku"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

// CreateInventory creates an empty record for productId unless one exists.
func (h *InventoryHandler) CreateInventory(c *gin.Context) {
	inv, created, err := h.inventory.CreateIfMissing(c.Request.Context(), c.Param("productId"), c.Query("sku"))
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, inv)
}

// quantityOp binds a bare JSON integer body and applies op to productId.
func (h *InventoryHandler) quantityOp(op func(context.Context, string, int) (*models.Inventory, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		var qty int
		if err := c.ShouldBindJSON(&qty); err != nil {
			respondBadRequest(c, err)
			return
		}

		inv, err := op(c.Request.Context(), c.Param("productId"), qty)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, inv)
	}
}
