// Package app builds the shared infrastructure of the saga services and
// runs their long-lived components until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/cache"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/db"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/handlers"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Infrastructure holds the connections a service needs. Build it with
// NewInfrastructure and release it with Shutdown.
type Infrastructure struct {
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *telemetry.Provider
	Metrics   *telemetry.SagaMetrics
	Database  *db.PostgresDB
	Redis     *redis.Client
	RabbitMQ  *messaging.RabbitMQ
}

// NewInfrastructure connects to Postgres, Redis and RabbitMQ, applies the
// schema migrations and declares topology. Whatever was opened before a
// failure is closed again.
func NewInfrastructure(ctx context.Context, cfg *config.Config, log *zap.Logger, schema db.Schema, topology messaging.Topology) (_ *Infrastructure, err error) {
	infra := &Infrastructure{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			infra.Shutdown(context.Background())
		}
	}()

	infra.Telemetry, err = telemetry.Setup(ctx, cfg.Telemetry, cfg.App.Name, log)
	if err != nil {
		return nil, err
	}
	infra.Metrics, err = telemetry.NewSagaMetrics(infra.Telemetry.Meter(cfg.App.Name))
	if err != nil {
		return nil, err
	}

	infra.Database, err = db.NewPostgresDB(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err = db.Migrate(infra.Database.Conn, schema, log); err != nil {
		return nil, err
	}

	infra.Redis, err = cache.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		return nil, err
	}

	infra.RabbitMQ, err = messaging.NewRabbitMQ(cfg.RabbitMQ.URL(), log)
	if err != nil {
		return nil, err
	}
	if err = infra.RabbitMQ.DeclareTopology(topology); err != nil {
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}

	return infra, nil
}

// HealthChecks pings Postgres and Redis.
func (i *Infrastructure) HealthChecks() map[string]handlers.Check {
	return map[string]handlers.Check{
		"postgres": i.Database.Conn.PingContext,
		"redis": func(ctx context.Context) error {
			return i.Redis.Ping(ctx).Err()
		},
	}
}

// Shutdown closes connections in reverse order and flushes telemetry.
func (i *Infrastructure) Shutdown(ctx context.Context) error {
	var errs []error
	if i.RabbitMQ != nil {
		i.RabbitMQ.Close()
	}
	if i.Redis != nil {
		errs = append(errs, i.Redis.Close())
	}
	if i.Database != nil {
		errs = append(errs, i.Database.Close())
	}
	if i.Telemetry != nil {
		errs = append(errs, i.Telemetry.Shutdown(ctx))
	}
	i.Logger.Info("Infrastructure shut down")
	return errors.Join(errs...)
}
