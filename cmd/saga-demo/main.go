package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/client"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/models"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	os.Exit(start())
}

func start() int {
	orderURL := pflag.String("order-url", "http://localhost:8082", "order service (or gateway) base URL")
	inventoryURL := pflag.String("inventory-url", "http://localhost:8081", "inventory service (or gateway) base URL")
	sku := pflag.String("sku", "", "SKU to create (default: random)")
	stock := pflag.Int("stock", 100, "initial stock")
	qty := pflag.Int("qty", 2, "units to order")
	price := pflag.String("price", "19.99", "unit price")
	timeout := pflag.Duration("timeout", 30*time.Second, "overall scenario timeout")
	pflag.Parse()

	cfg, err := config.Load("saga-demo")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: "console", Output: "stdout"}, "saga-demo")
	defer log.Sync()

	unitPrice, err := decimal.NewFromString(*price)
	if err != nil {
		log.Error("Invalid price", zap.Error(err))
		return 2
	}
	if *sku == "" {
		*sku = "DEMO-" + uuid.NewString()[:8]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	rabbit, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URL(), log)
	if err != nil {
		log.Error("Failed to connect to RabbitMQ", zap.Error(err))
		return 1
	}
	defer rabbit.Close()
	if err := rabbit.DeclareTopology(messaging.CatalogTopology()); err != nil {
		log.Error("Failed to declare topology", zap.Error(err))
		return 1
	}

	scenario := &Scenario{
		api:     client.NewSagaClient(*orderURL, *inventoryURL),
		publish: catalogPublisher(rabbit),
		poll:    200 * time.Millisecond,
		logger:  log,
	}

	result, err := scenario.Run(ctx, "prod-"+*sku, *sku, *stock, *qty, unitPrice)
	if err != nil {
		log.Error("Scenario failed", zap.Error(err))
		return 1
	}

	log.Info("Scenario passed",
		zap.String("order_number", result.OrderNumber),
		zap.String("status", result.Order.Status.String()),
		zap.Int("quantity", result.Inventory.Quantity),
		zap.Int("reserved", result.Inventory.ReservedQuantity),
	)
	return 0
}

// catalogPublisher stands in for the product catalog.
func catalogPublisher(publisher messaging.Publisher) PublishFunc {
	return func(ctx context.Context, evt models.ProductCreatedEvent) error {
		body, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		return publisher.Publish(ctx, messaging.ProductExchange, messaging.RoutingProductCreated, amqp.Publishing{
			CorrelationId: evt.CorrelationID,
			MessageId:     messaging.RoutingProductCreated + ":" + evt.ProductID,
			Type:          messaging.RoutingProductCreated,
			Body:          body,
		})
	}
}
