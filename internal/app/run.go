package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/discovery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Component runs until ctx is cancelled.
type Component func(ctx context.Context) error

// Run starts every component and waits for all of them. The first error
// cancels the others.
func Run(ctx context.Context, components ...Component) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range components {
		g.Go(func() error {
			return c(ctx)
		})
	}
	return g.Wait()
}

// HTTPServer serves handler on addr and shuts it down gracefully when ctx ends.
func HTTPServer(addr string, handler http.Handler, log *zap.Logger) Component {
	return func(ctx context.Context) error {
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info("HTTP server starting", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		log.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

// Announce registers the service with Consul when enabled. The returned
// function deregisters it. Registration failures are logged, not fatal.
func Announce(cfg *config.Config, tags []string, log *zap.Logger) func() {
	if !cfg.Consul.Enabled {
		return func() {}
	}

	consul, err := discovery.NewConsulClient(cfg.Consul, log)
	if err != nil {
		log.Warn("Consul unavailable, skipping registration", zap.Error(err))
		return func() {}
	}

	id := discovery.ServiceID(cfg.App.Name, cfg.App.Port)
	err = consul.Register(discovery.ServiceConfig{
		Name: cfg.App.Name,
		ID:   id,
		Port: cfg.App.Port,
		Tags: tags,
	})
	if err != nil {
		log.Warn("Failed to register with Consul", zap.Error(err))
		return func() {}
	}

	return func() {
		if err := consul.Deregister(id); err != nil {
			log.Warn("Failed to deregister from Consul", zap.Error(err))
		}
	}
}
