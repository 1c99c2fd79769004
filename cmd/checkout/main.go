package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/orderflow-payments/internal/cart"
	"github.com/joao-fontenele/orderflow-payments/internal/checkout"
	"github.com/joao-fontenele/orderflow-payments/internal/config"
	"github.com/joao-fontenele/orderflow-payments/internal/identity"
	"github.com/joao-fontenele/orderflow-payments/internal/inventory"
	"github.com/joao-fontenele/orderflow-payments/internal/messaging"
	"github.com/joao-fontenele/orderflow-payments/internal/orders"
	"github.com/joao-fontenele/orderflow-payments/internal/payment"
	"github.com/joao-fontenele/orderflow-payments/internal/telemetry"
)

const serviceVersion = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.CheckoutFromEnv()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "checkout", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("checkout", serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(context.Background()) }()

	db, err := telemetry.OpenPostgres(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	var orderEvents, incidentEvents checkout.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		confirmed := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicOrderConfirmed)
		defer func() { _ = confirmed.Close() }()
		incidents := messaging.NewProducer(cfg.KafkaBrokers, messaging.TopicPaymentIncident)
		defer func() { _ = incidents.Close() }()
		orderEvents, incidentEvents = confirmed, incidents
		logger.Info("publishing checkout events", "brokers", cfg.KafkaBrokers, "topics", []string{confirmed.Topic(), incidents.Topic()})
	} else {
		logger.Warn("KAFKA_BROKERS not set, checkout events will not be published")
	}

	gatewayClient := payment.NewClient(cfg.Gateway.BaseURL, payment.Credentials{
		AppID:      cfg.Gateway.AppID,
		SecretKey:  cfg.Gateway.SecretKey,
		APIVersion: cfg.Gateway.APIVersion,
	}, telemetry.HTTPClient(cfg.Gateway.Timeout))

	orderRepo := orders.NewOrderRepository(db)
	variantRepo := inventory.NewVariantRepository(db)
	cartRepo := cart.NewCartRepository(db)
	store := checkout.NewPostgresStore(db, orderRepo, variantRepo, cartRepo)

	incidents := checkout.NewIncidents(store, incidentEvents, logger)
	service := checkout.NewService(store, variantRepo, cartRepo, gatewayClient, incidents, orderEvents, checkout.Options{
		Currency:         cfg.Gateway.Currency,
		IntentTTL:        cfg.IntentTTL,
		GatewayTimeout:   cfg.Gateway.Timeout,
		TrackingLocation: cfg.TrackingLocation,
		ReturnURL: checkout.ReturnURLPolicy{
			FrontendURL: cfg.FrontendURL,
			Placeholder: cfg.ReturnURLPlaceholder,
			Sandbox:     cfg.Gateway.Sandbox,
		},
	}, logger)
	janitor := checkout.NewJanitor(store, cfg.JanitorInterval, cfg.IntentRetention, logger)

	checkoutHandler := checkout.NewHandler(service, store, gatewayClient, logger)
	orderHandler := orders.NewHandler(orderRepo, cfg.TrackingLocation, logger)
	cartHandler := cart.NewHandler(cartRepo, variantRepo, logger)
	stockHandler := inventory.NewHandler(variantRepo, logger)

	user := func(h http.HandlerFunc) http.HandlerFunc {
		return telemetry.WithHTTPRoute(identity.RequireUser(h))
	}
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return telemetry.WithHTTPRoute(identity.RequireAdmin(h))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /payment/initiate", user(checkoutHandler.HandleInitiate))
	mux.HandleFunc("POST /payment/verify", user(checkoutHandler.HandleVerify))
	mux.HandleFunc("GET /payment/health", admin(checkoutHandler.HandleGatewayHealth))

	mux.HandleFunc("GET /cart", user(cartHandler.HandleList))
	mux.HandleFunc("POST /cart", user(cartHandler.HandleAdd))
	mux.HandleFunc("DELETE /cart/{id}", user(cartHandler.HandleRemove))

	mux.HandleFunc("GET /orders", user(orderHandler.HandleList))
	mux.HandleFunc("GET /orders/{orderNumber}", user(orderHandler.HandleGet))
	mux.HandleFunc("GET /orders/{orderNumber}/tracking", user(orderHandler.HandleTracking))
	mux.HandleFunc("PATCH /orders/{orderNumber}/cancel", user(orderHandler.HandleCancel))

	mux.HandleFunc("GET /admin/orders/stats", admin(orderHandler.HandleStats))
	mux.HandleFunc("PATCH /admin/orders/{orderNumber}/status", admin(orderHandler.HandleUpdateStatus))
	mux.HandleFunc("GET /admin/stock", admin(stockHandler.HandleListStock))
	mux.HandleFunc("GET /admin/stock/{variantId}", admin(stockHandler.HandleGetStock))
	mux.HandleFunc("POST /admin/stock/{variantId}/restock", admin(stockHandler.HandleRestock))
	mux.HandleFunc("GET /admin/incidents", admin(checkoutHandler.HandleListIncidents))
	mux.HandleFunc("PATCH /admin/incidents/{id}/resolve", admin(checkoutHandler.HandleResolveIncident))

	mux.Handle("GET /metrics", metricsHandler)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      telemetry.HTTPHandler(mux, "checkout"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Gateway.Timeout + 10*time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting checkout service", "port", cfg.Port, "sandbox", cfg.Gateway.Sandbox)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return janitor.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("checkout service stopped with error", "error", err)
		os.Exit(1)
	}
}
