package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joao-fontenele/orderflow-payments/internal/gateway"
	"github.com/joao-fontenele/orderflow-payments/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "gateway", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	checkoutServiceURL := os.Getenv("CHECKOUT_SERVICE_URL")
	if checkoutServiceURL == "" {
		logger.Error("CHECKOUT_SERVICE_URL is required")
		os.Exit(1)
	}

	// Verification waits on the payment gateway, so allow more than its timeout.
	httpClient := telemetry.HTTPClient(30 * time.Second)
	// Identity headers are honoured only behind an auth layer that sets them.
	trustIdentity, _ := strconv.ParseBool(os.Getenv("TRUST_IDENTITY_HEADERS"))
	if !trustIdentity {
		logger.Warn("TRUST_IDENTITY_HEADERS not set, identity headers will be dropped")
	}

	proxy := gateway.NewServiceProxy(checkoutServiceURL, httpClient, gateway.TrustIdentityHeaders(trustIdentity))
	handler := gateway.NewHandler(proxy, logger)
	route := telemetry.WithHTTPRoute(handler.HandleCheckout)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/payment/initiate", route)
	mux.HandleFunc("POST /api/payment/verify", route)
	mux.HandleFunc("GET /api/payment/health", route)
	mux.HandleFunc("GET /api/cart", route)
	mux.HandleFunc("POST /api/cart", route)
	mux.HandleFunc("DELETE /api/cart/{id}", route)
	mux.HandleFunc("GET /api/orders", route)
	mux.HandleFunc("GET /api/orders/{orderNumber}", route)
	mux.HandleFunc("GET /api/orders/{orderNumber}/tracking", route)
	mux.HandleFunc("PATCH /api/orders/{orderNumber}/cancel", route)
	mux.HandleFunc("GET /api/admin/orders/stats", route)
	mux.HandleFunc("PATCH /api/admin/orders/{orderNumber}/status", route)
	mux.HandleFunc("GET /api/admin/stock", route)
	mux.HandleFunc("GET /api/admin/stock/{variantId}", route)
	mux.HandleFunc("POST /api/admin/stock/{variantId}/restock", route)
	mux.HandleFunc("GET /api/admin/incidents", route)
	mux.HandleFunc("PATCH /api/admin/incidents/{id}/resolve", route)

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      telemetry.HTTPHandler(mux, "gateway"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
	}

	go func() {
		logger.Info("starting gateway service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
