package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/app"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/consumer"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/outbox"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/service"
	"go.uber.org/zap"
)

const serviceName = "inventory-service"

func main() {
	os.Exit(start())
}

// start returns the exit code so deferred cleanup, including the final log
// flush, runs before the process exits.
func start() int {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}, serviceName)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
		return 1
	}
	return 0
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := app.NewInfrastructure(ctx, cfg, log, db.InventorySchema, messaging.InventoryServiceTopology())
	if err != nil {
		return err
	}
	defer infra.Shutdown(context.Background())

	snapshots := cache.NewRedisCache(infra.Redis, "stocksaga:", cfg.Redis.CacheTTL)
	if err := snapshots.DeleteByPattern(ctx, db.InventoryCachePattern); err != nil {
		log.Warn("Failed to clear inventory snapshots", zap.Error(err))
	}
	dedup := cache.NewRedisDeduplicator(infra.Redis, serviceName, cfg.Redis.DedupTTL)

	inventoryRepo := db.NewCachedInventoryRepository(db.NewInventoryRepository(infra.Database), snapshots, log)
	outboxRepo := db.NewOutboxRepository(infra.Database)
	inventory := service.NewInventoryService(inventoryRepo, outboxRepo, cfg.Saga.CompensatePartialReservation, infra.Metrics, log)

	relay := outbox.NewRelay(outboxRepo, infra.RabbitMQ, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, log)
	dispatcher := consumer.NewDispatcher(infra.RabbitMQ, dedup, infra.Metrics, cfg.RabbitMQ.Prefetch, cfg.RabbitMQ.Workers, log)

	router := handlers.NewEngine(serviceName, log)
	handlers.NewHTTPMetrics(serviceName).Register(router)
	router.GET("/health", handlers.NewHealthHandler(serviceName, infra.HealthChecks()).HealthCheck)
	handlers.NewInventoryHandler(inventory).Register(router)

	deregister := app.Announce(cfg, []string{"api", "inventory"}, log)
	defer deregister()

	log.Info("Inventory service starting",
		zap.Int("port", cfg.App.Port),
		zap.Bool("compensate_partial_reservation", cfg.Saga.CompensatePartialReservation),
	)

	return app.Run(ctx,
		app.HTTPServer(fmt.Sprintf(":%d", cfg.App.Port), router, log),
		func(ctx context.Context) error {
			return dispatcher.Run(ctx, consumer.InventoryRoutes(inventory)...)
		},
		func(ctx context.Context) error {
			relay.Run(ctx)
			return nil
		},
	)
}
