package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/orderflow-payments/internal/config"
	"github.com/joao-fontenele/orderflow-payments/internal/messaging"
	"github.com/joao-fontenele/orderflow-payments/internal/telemetry"
	"github.com/joao-fontenele/orderflow-payments/internal/worker"
)

const consumerGroup = "notification-worker"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.WorkerFromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "worker", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	confirmed := messaging.NewConsumer(cfg.KafkaBrokers, messaging.TopicOrderConfirmed, consumerGroup, logger)
	defer func() { _ = confirmed.Close() }()

	incidents := messaging.NewConsumer(cfg.KafkaBrokers, messaging.TopicPaymentIncident, consumerGroup, logger)
	defer func() { _ = incidents.Close() }()

	handler := worker.NewNotificationHandler(cfg.EmailServiceURL, cfg.OpsAlertEmail, telemetry.HTTPClient(10*time.Second), logger)

	logger.Info("starting notification worker", "brokers", cfg.KafkaBrokers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return confirmed.Consume(gctx, handler.HandleOrderConfirmed)
	})
	g.Go(func() error {
		return incidents.Consume(gctx, handler.HandlePaymentIncident)
	})

	if err := g.Wait(); err != nil {
		logger.Error("consumer error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumers stopped")
}
