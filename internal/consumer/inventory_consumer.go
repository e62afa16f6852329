package consumer

import (
	"context"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
)

// InventoryHandler is implemented by service.InventoryService.
type InventoryHandler interface {
	HandleProductCreated(ctx context.Context, evt models.ProductCreatedEvent) error
	HandleOrderCreated(ctx context.Context, evt models.OrderEvent) error
	HandleOrderConfirmed(ctx context.Context, evt models.OrderEvent) error
}

// InventoryRoutes are the queues consumed by the inventory service.
func InventoryRoutes(h InventoryHandler) []Route {
	return []Route{
		{Queue: messaging.QueueInventoryProducts, Handle: JSON(h.HandleProductCreated)},
		{Queue: messaging.QueueOrderCreatedInventory, Handle: JSON(h.HandleOrderCreated)},
		{Queue: messaging.QueueOrderConfirmedInventory, Handle: JSON(h.HandleOrderConfirmed)},
	}
}
