package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/config"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/logger"
	"github.com/prudhivi99/Distributed-Systems/stocksaga/internal/messaging"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	os.Exit(start())
}

func start() int {
	queues := pflag.StringSlice("queue", nil, "consumer queue whose DLQ is replayed (repeatable, default all)")
	limit := pflag.Int("limit", 100, "maximum messages replayed per queue")
	perSecond := pflag.Float64("rate", 50, "messages republished per second (0 = unlimited)")
	pflag.Parse()

	cfg, err := config.Load("dlq-replay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}, "dlq-replay")
	defer log.Sync()

	targets, err := selectQueues(*queues)
	if err != nil {
		log.Error("Invalid queue", zap.Error(err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rabbit, err := messaging.NewRabbitMQ(cfg.RabbitMQ.URL(), log)
	if err != nil {
		log.Error("Failed to connect to RabbitMQ", zap.Error(err))
		return 1
	}
	defer rabbit.Close()

	limiter := newLimiter(*perSecond)
	total, code := 0, 0
	for _, queue := range targets {
		n, err := rabbit.ReplayDeadLetters(ctx, queue, *limit, limiter)
		total += n
		if err != nil {
			log.Error("Replay stopped", zap.String("queue", queue), zap.Int("replayed", n), zap.Error(err))
			code = 1
		}
	}

	log.Info("Replay finished", zap.Strings("queues", targets), zap.Int("replayed", total))
	return code
}

// newLimiter returns nil for a non-positive rate.
func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

// selectQueues defaults to every consumer queue and rejects unknown names.
func selectQueues(requested []string) ([]string, error) {
	known := messaging.ConsumerQueues()
	if len(requested) == 0 {
		return known, nil
	}
	for _, q := range requested {
		if !slices.Contains(known, q) {
			return nil, fmt.Errorf("unknown queue %q", q)
		}
	}
	return requested, nil
}
