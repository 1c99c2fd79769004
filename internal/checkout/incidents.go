package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

type IncidentStore interface {
	// RecordIncident stores inc unless one of the same kind already exists
	// for the order number, and reports whether a row was written.
	RecordIncident(ctx context.Context, inc *domain.Incident) (bool, error)
	ListIncidents(ctx context.Context, includeResolved bool) ([]domain.Incident, error)
	ResolveIncident(ctx context.Context, id string, at time.Time) (*domain.Incident, error)
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Incidents raises paid-but-unfulfilled checkouts: a durable row, an ERROR
// log flagged for alerting, a metric and a payment.incident event.
type Incidents struct {
	store     IncidentStore
	publisher Publisher
	metrics   *instruments
	now       func() time.Time
	logger    *slog.Logger
}

func NewIncidents(store IncidentStore, publisher Publisher, logger *slog.Logger) *Incidents {
	return &Incidents{
		store:     store,
		publisher: publisher,
		metrics:   newInstruments(),
		now:       time.Now,
		logger:    logger,
	}
}

// Raise must succeed before the caller reports the outcome; a failed durable
// write is returned so the verification can be retried. Only a newly recorded
// incident, or one that could not be recorded, is logged as an alert.
func (i *Incidents) Raise(ctx context.Context, inc domain.Incident) error {
	inc.ID = uuid.New().String()
	inc.CreatedAt = i.now().UTC()

	attrs := []any{
		"kind", inc.Kind,
		"order_number", inc.OrderNumber,
		"user_id", inc.UserID,
		"transaction_id", inc.TransactionID,
		"amount", inc.Amount,
		"detail", inc.Detail,
	}

	created, err := i.store.RecordIncident(ctx, &inc)
	if err != nil {
		i.logger.ErrorContext(ctx, "payment incident not recorded", append([]any{"alert", true, "error", err}, attrs...)...)
		return fmt.Errorf("record payment incident: %w", err)
	}
	if !created {
		i.logger.WarnContext(ctx, "payment incident already recorded", attrs...)
		return nil
	}

	i.logger.ErrorContext(ctx, "payment incident", append([]any{"alert", true}, attrs...)...)
	i.metrics.incidents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(inc.Kind))))

	if i.publisher != nil {
		event := domain.PaymentIncidentEvent{Incident: inc, Timestamp: inc.CreatedAt}
		if err := i.publisher.Publish(ctx, inc.OrderNumber, event); err != nil {
			i.logger.ErrorContext(ctx, "failed to publish payment incident event", "error", err, "order_number", inc.OrderNumber)
		}
	}

	return nil
}
