package checkout

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("checkout")
	meter  = otel.Meter("checkout")
)

type instruments struct {
	initiated    metric.Int64Counter
	verification metric.Int64Counter
	incidents    metric.Int64Counter
	abandoned    metric.Int64Counter
}

func newInstruments() *instruments {
	// Instrument creation only fails on invalid names; the no-op fallbacks
	// returned alongside the error are still usable.
	initiated, _ := meter.Int64Counter("checkout.initiated",
		metric.WithDescription("Checkout intents created and handed to the payment gateway"))
	verification, _ := meter.Int64Counter("checkout.verifications",
		metric.WithDescription("Settlement verifications by outcome"))
	incidents, _ := meter.Int64Counter("checkout.payment_incidents",
		metric.WithDescription("Paid checkouts that could not be fulfilled"))
	abandoned, _ := meter.Int64Counter("checkout.intents_abandoned",
		metric.WithDescription("Open intents that expired without settlement"))

	return &instruments{
		initiated:    initiated,
		verification: verification,
		incidents:    incidents,
		abandoned:    abandoned,
	}
}

func (m *instruments) recordVerification(ctx context.Context, outcome string) {
	m.verification.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
