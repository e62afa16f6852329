package messaging

// Exchanges, routing keys and queues shared by both services.
const (
	ProductExchange = "product-exchange"
	OrderExchange   = "order-exchange"

	RoutingProductCreated    = "product.created"
	RoutingOrderCreated      = "order.created"
	RoutingOrderConfirmed    = "order.confirmed"
	RoutingInventoryReserved = "order.inventory.reserved"
	RoutingReservationFailed = "order.inventory.reservation_failed"

	QueueInventoryProducts       = "inventory-service-queue"
	QueueOrderCreatedInventory   = "order.created.inventory.queue"
	QueueOrderConfirmedInventory = "order.confirmed.inventory.queue"
	QueueOrderInventoryReserved  = "order.inventory.reserved.queue"
	QueueOrderReservationFailed  = "order.inventory.reservation_failed.queue"
)

// Binding routes RoutingKey on Exchange into Queue.
type Binding struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// Topology is the set of exchanges a service publishes to and the queues it consumes.
type Topology struct {
	Exchanges []string
	Bindings  []Binding
}

// DeadLetterExchange names the DLX paired with exchange.
func DeadLetterExchange(exchange string) string {
	return exchange + ".dlx"
}

// DeadLetterQueue names the queue that collects rejected messages of queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dlq"
}

func InventoryServiceTopology() Topology {
	return Topology{
		Exchanges: []string{ProductExchange, OrderExchange},
		Bindings: []Binding{
			{Exchange: ProductExchange, Queue: QueueInventoryProducts, RoutingKey: RoutingProductCreated},
			{Exchange: OrderExchange, Queue: QueueOrderCreatedInventory, RoutingKey: RoutingOrderCreated},
			{Exchange: OrderExchange, Queue: QueueOrderConfirmedInventory, RoutingKey: RoutingOrderConfirmed},
		},
	}
}

func OrderServiceTopology() Topology {
	return Topology{
		Exchanges: []string{OrderExchange},
		Bindings: []Binding{
			{Exchange: OrderExchange, Queue: QueueOrderInventoryReserved, RoutingKey: RoutingInventoryReserved},
			{Exchange: OrderExchange, Queue: QueueOrderReservationFailed, RoutingKey: RoutingReservationFailed},
		},
	}
}

// CatalogTopology is what the product catalog publishes to.
func CatalogTopology() Topology {
	return Topology{Exchanges: []string{ProductExchange}}
}

// ConsumerQueues lists every queue a saga service consumes from.
func ConsumerQueues() []string {
	var queues []string
	for _, t := range []Topology{InventoryServiceTopology(), OrderServiceTopology()} {
		for _, b := range t.Bindings {
			queues = append(queues, b.Queue)
		}
	}
	return queues
}
