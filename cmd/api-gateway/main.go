package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/app"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/discovery"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/telemetry"
	"go.uber.org/zap"
)

const serviceName = "api-gateway"

func main() {
	os.Exit(start())
}

func start() int {
	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}, serviceName)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry, serviceName, log)
	if err != nil {
		log.Error("Failed to set up telemetry", zap.Error(err))
		return 1
	}
	defer tel.Shutdown(context.Background())

	var resolver Resolver
	if cfg.Consul.Enabled {
		consul, err := discovery.NewConsulClient(cfg.Consul, log)
		if err != nil {
			log.Warn("Failed to connect to Consul, using fallback upstreams", zap.Error(err))
		} else {
			resolver = consul
		}
	}

	gateway := NewGateway(resolver, map[string]string{
		orderService:     cfg.Gateway.OrderServiceURL,
		inventoryService: cfg.Gateway.InventoryServiceURL,
	}, log)

	router := handlers.NewEngine(serviceName, log)
	handlers.NewHTTPMetrics(serviceName).Register(router)
	router.GET("/health", gateway.HealthCheck)
	gateway.Register(router)

	err = app.Run(ctx,
		app.HTTPServer(fmt.Sprintf(":%d", cfg.App.Port), router, log),
		func(ctx context.Context) error {
			return gateway.Watch(ctx, cfg.Gateway.RefreshInterval)
		},
	)
	if err != nil {
		log.Error("Gateway stopped with error", zap.Error(err))
		return 1
	}
	return 0
}
