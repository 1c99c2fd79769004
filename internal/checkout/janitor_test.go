package checkout

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

func TestJanitor_Sweep(t *testing.T) {
	db := newMemDB()
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

	put := func(ref string, state domain.IntentState, created time.Time) {
		db.intents[ref] = &domain.CheckoutIntent{Reference: ref, State: state, CreatedAt: created, ExpiresAt: created.Add(30 * time.Minute)}
	}
	put("fresh", domain.IntentStateOpen, now.Add(-10*time.Minute))
	put("expired", domain.IntentStateOpen, now.Add(-time.Hour))
	put("old-consumed", domain.IntentStateConsumed, now.Add(-8*24*time.Hour))
	put("new-consumed", domain.IntentStateConsumed, now.Add(-time.Hour))
	put("old-exhausted", domain.IntentStateExhausted, now.Add(-30*24*time.Hour))

	j := NewJanitor(db, time.Minute, 7*24*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))
	j.now = func() time.Time { return now }
	j.Sweep(context.Background())

	if got := db.intentState("fresh"); got != domain.IntentStateOpen {
		t.Errorf("expected fresh intent open, got %q", got)
	}
	if got := db.intentState("expired"); got != domain.IntentStateAbandoned {
		t.Errorf("expected expired intent abandoned, got %q", got)
	}
	if got := db.intentState("old-consumed"); got != "" {
		t.Errorf("expected old consumed intent purged, got %q", got)
	}
	if got := db.intentState("new-consumed"); got != domain.IntentStateConsumed {
		t.Errorf("expected recent consumed intent kept, got %q", got)
	}
	if got := db.intentState("old-exhausted"); got != domain.IntentStateExhausted {
		t.Errorf("expected exhausted intent kept, got %q", got)
	}
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	db := newMemDB()
	j := NewJanitor(db, time.Hour, time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("janitor did not stop")
	}
}
