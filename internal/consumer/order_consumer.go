package consumer

import (
	"context"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
)

// OrderHandler is implemented by service.OrderService.
type OrderHandler interface {
	ApplyReserved(ctx context.Context, evt models.InventoryReservedEvent) error
	ApplyReservationFailed(ctx context.Context, evt models.InventoryReservationFailedEvent) error
}

// OrderRoutes are the queues consumed by the order service.
func OrderRoutes(h OrderHandler) []Route {
	return []Route{
		{Queue: messaging.QueueOrderInventoryReserved, Handle: JSON(h.ApplyReserved)},
		{Queue: messaging.QueueOrderReservationFailed, Handle: JSON(h.ApplyReservationFailed)},
	}
}
