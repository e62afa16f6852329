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
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/retry"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/service"
	"go.uber.org/zap"
)

const serviceName = "order-service"

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

	infra, err := app.NewInfrastructure(ctx, cfg, log, db.OrderSchema, messaging.OrderServiceTopology())
	if err != nil {
		return err
	}
	defer infra.Shutdown(context.Background())

	dedup := cache.NewRedisDeduplicator(infra.Redis, serviceName, cfg.Redis.DedupTTL)

	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, Backoff: cfg.Retry.Backoff()}
	orders := service.NewOrderService(db.NewOrderRepository(infra.Database), policy, infra.Metrics, log)

	relay := outbox.NewRelay(db.NewOutboxRepository(infra.Database), infra.RabbitMQ, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, log)
	dispatcher := consumer.NewDispatcher(infra.RabbitMQ, dedup, infra.Metrics, cfg.RabbitMQ.Prefetch, cfg.RabbitMQ.Workers, log)

	router := handlers.NewEngine(serviceName, log)
	handlers.NewHTTPMetrics(serviceName).Register(router)
	router.GET("/health", handlers.NewHealthHandler(serviceName, infra.HealthChecks()).HealthCheck)
	handlers.NewOrderHandler(orders).Register(router)

	deregister := app.Announce(cfg, []string{"api", "orders"}, log)
	defer deregister()

	log.Info("Order service starting",
		zap.Int("port", cfg.App.Port),
		zap.Int("retry_max_attempts", policy.MaxAttempts),
	)

	return app.Run(ctx,
		app.HTTPServer(fmt.Sprintf(":%d", cfg.App.Port), router, log),
		func(ctx context.Context) error {
			return dispatcher.Run(ctx, consumer.OrderRoutes(orders)...)
		},
		func(ctx context.Context) error {
			relay.Run(ctx)
			return nil
		},
	)
}
