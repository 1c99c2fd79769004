package checkout

import (
	"context"
	"log/slog"
	"time"
)

type IntentSweeper interface {
	AbandonExpired(ctx context.Context, now time.Time) (int64, error)
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor periodically abandons expired intents and purges old terminal ones.
// No stock is held by an open intent, so abandoning needs no compensation.
type Janitor struct {
	store     IntentSweeper
	interval  time.Duration
	retention time.Duration
	metrics   *instruments
	now       func() time.Time
	logger    *slog.Logger
}

func NewJanitor(store IntentSweeper, interval, retention time.Duration, logger *slog.Logger) *Janitor {
	return &Janitor{
		store:     store,
		interval:  interval,
		retention: retention,
		metrics:   newInstruments(),
		now:       time.Now,
		logger:    logger,
	}
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.InfoContext(ctx, "starting intent janitor", "interval", j.interval.String(), "retention", j.retention.String())

	for {
		j.Sweep(ctx)

		select {
		case <-ctx.Done():
			j.logger.InfoContext(ctx, "intent janitor stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (j *Janitor) Sweep(ctx context.Context) {
	now := j.now().UTC()

	abandoned, err := j.store.AbandonExpired(ctx, now)
	if err != nil {
		j.logger.ErrorContext(ctx, "failed to abandon expired intents", "error", err)
	} else if abandoned > 0 {
		j.metrics.abandoned.Add(ctx, abandoned)
		j.logger.InfoContext(ctx, "expired intents abandoned", "count", abandoned)
	}

	purged, err := j.store.PurgeTerminal(ctx, now.Add(-j.retention))
	if err != nil {
		j.logger.ErrorContext(ctx, "failed to purge terminal intents", "error", err)
	} else if purged > 0 {
		j.logger.InfoContext(ctx, "terminal intents purged", "count", purged)
	}
}
