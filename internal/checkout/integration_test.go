//go:build integration

package checkout

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/joao-fontenele/orderflow-payments/internal/cart"
	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/inventory"
	"github.com/joao-fontenele/orderflow-payments/internal/orders"
	"github.com/joao-fontenele/orderflow-payments/internal/payment"
	"github.com/joao-fontenele/orderflow-payments/internal/testinfra"
)

type pgStack struct {
	db       *sql.DB
	store    *PostgresStore
	variants *inventory.VariantRepository
	carts    *cart.CartRepository
	orders   *orders.OrderRepository
	sandbox  *payment.Sandbox
	service  *Service
}

func newPGStack(ctx context.Context, t *testing.T) *pgStack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db := testinfra.SetupPostgres(ctx, t)

	sandbox := payment.NewSandbox("app", "secret", logger)
	srv := httptest.NewServer(sandbox.Handler())
	t.Cleanup(srv.Close)

	st := &pgStack{
		db:       db,
		variants: inventory.NewVariantRepository(db),
		carts:    cart.NewCartRepository(db),
		orders:   orders.NewOrderRepository(db),
		sandbox:  sandbox,
	}
	st.store = NewPostgresStore(db, st.orders, st.variants, st.carts)

	client := payment.NewClient(srv.URL, payment.Credentials{AppID: "app", SecretKey: "secret", APIVersion: "2022-09-01"}, srv.Client())
	st.service = NewService(st.store, st.variants, st.carts, client, NewIncidents(st.store, nil, logger), nil, Options{
		Currency:          "INR",
		TrackingLocation:  "Online Store",
		MaxSettleAttempts: 10,
		ReturnURL:         ReturnURLPolicy{FrontendURL: "https://shop.example", Placeholder: "https://example.com"},
	}, logger)
	return st
}

func (st *pgStack) seed(ctx context.Context, t *testing.T, stock int) {
	t.Helper()
	err := st.variants.Upsert(ctx, domain.Variant{
		ID: "V", ProductID: "P", ProductName: "Shirt", Title: "Large", SellingPrice: 10000, AvailableStock: stock,
	})
	if err != nil {
		t.Fatalf("failed to seed variant: %v", err)
	}
}

func (st *pgStack) initiate(ctx context.Context, t *testing.T, userID string, qty int) string {
	t.Helper()
	if err := st.carts.Add(ctx, &domain.CartLine{UserID: userID, ProductID: "P", VariantID: "V", Quantity: qty}); err != nil {
		t.Fatalf("failed to add cart line: %v", err)
	}
	result, err := st.service.Initiate(ctx, InitiateRequest{
		Customer:        domain.Customer{ID: userID, Email: userID + "@example.com", Phone: "9876543210"},
		ShippingAddress: "1 Main St",
		Origin:          "https://shop.example",
	})
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	return result.OrderNumber
}

func (st *pgStack) stock(ctx context.Context, t *testing.T) int {
	t.Helper()
	v, err := st.variants.GetVariant(ctx, "V")
	if err != nil || v == nil {
		t.Fatalf("failed to read variant: %v", err)
	}
	return v.AvailableStock
}

func TestPostgresCheckout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	st := newPGStack(ctx, t)
	st.seed(ctx, t, 5)

	t.Run("paid reference settles once", func(t *testing.T) {
		ref := st.initiate(ctx, t, "u1", 2)

		if got := st.stock(ctx, t); got != 5 {
			t.Fatalf("expected initiate to leave stock at 5, got %d", got)
		}
		if st.sandbox.ReturnURL(ref) != "https://shop.example/checkout?order_id={order_id}" {
			t.Errorf("unexpected return url %q", st.sandbox.ReturnURL(ref))
		}

		st.sandbox.SetStatus(ref, payment.StatusPaid)

		result, err := st.service.Verify(ctx, ref)
		if err != nil {
			t.Fatalf("verify failed: %v", err)
		}
		if result.Duplicate {
			t.Error("expected a fresh settlement")
		}
		if got := st.stock(ctx, t); got != 3 {
			t.Errorf("expected stock 3, got %d", got)
		}

		order, err := st.orders.GetByNumber(ctx, ref)
		if err != nil || order == nil {
			t.Fatalf("expected stored order, got %v", err)
		}
		if order.Total != 20000 || order.PaymentStatus != domain.PaymentStatusPaid {
			t.Errorf("unexpected order %+v", order)
		}
		if len(order.Items) != 1 || len(order.Tracking) != 1 {
			t.Errorf("expected 1 item and 1 tracking entry, got %d and %d", len(order.Items), len(order.Tracking))
		}

		lines, err := st.carts.ListLines(ctx, "u1", nil)
		if err != nil {
			t.Fatalf("failed to list cart: %v", err)
		}
		if len(lines) != 0 {
			t.Errorf("expected empty cart, got %d lines", len(lines))
		}

		again, err := st.service.Verify(ctx, ref)
		if err != nil {
			t.Fatalf("second verify failed: %v", err)
		}
		if !again.Duplicate || again.Order.OrderNumber != ref {
			t.Errorf("expected duplicate of %s, got %+v", ref, again)
		}
		if got := st.stock(ctx, t); got != 3 {
			t.Errorf("expected stock to stay 3, got %d", got)
		}
	})

	t.Run("concurrent verifies create one order", func(t *testing.T) {
		ref := st.initiate(ctx, t, "u2", 1)
		st.sandbox.SetStatus(ref, payment.StatusPaid)
		before := st.stock(ctx, t)

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			fresh int
			errs  []error
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				result, err := st.service.Verify(ctx, ref)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if !result.Duplicate {
					fresh++
				}
			}()
		}
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if fresh != 1 {
			t.Errorf("expected exactly one fresh settlement, got %d", fresh)
		}
		if got := st.stock(ctx, t); got != before-1 {
			t.Errorf("expected stock %d, got %d", before-1, got)
		}

		var count int
		if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE order_number = $1`, ref).Scan(&count); err != nil {
			t.Fatalf("failed to count orders: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 order row, got %d", count)
		}
	})

	t.Run("stock sold between payment and verification", func(t *testing.T) {
		if _, err := st.db.ExecContext(ctx, `UPDATE variants SET available_stock = 1 WHERE id = 'V'`); err != nil {
			t.Fatalf("failed to set stock: %v", err)
		}

		first := st.initiate(ctx, t, "u3", 1)
		second := st.initiate(ctx, t, "u4", 1)
		st.sandbox.SetStatus(first, payment.StatusPaid)
		st.sandbox.SetStatus(second, payment.StatusPaid)

		if _, err := st.service.Verify(ctx, first); err != nil {
			t.Fatalf("first verify failed: %v", err)
		}

		_, err := st.service.Verify(ctx, second)
		if !errors.Is(err, ErrStockExhaustedPostPayment) {
			t.Fatalf("expected ErrStockExhaustedPostPayment, got %v", err)
		}
		if got := st.stock(ctx, t); got != 0 {
			t.Errorf("expected stock 0, got %d", got)
		}

		intent, err := st.store.GetIntent(ctx, second)
		if err != nil || intent == nil {
			t.Fatalf("expected intent, got %v", err)
		}
		if intent.State != domain.IntentStateExhausted {
			t.Errorf("expected exhausted intent, got %s", intent.State)
		}

		incidents, err := st.store.ListIncidents(ctx, false)
		if err != nil {
			t.Fatalf("failed to list incidents: %v", err)
		}
		if len(incidents) != 1 || incidents[0].OrderNumber != second {
			t.Fatalf("expected one incident for %s, got %+v", second, incidents)
		}

		if _, err := st.service.Verify(ctx, second); !errors.Is(err, ErrStockExhaustedPostPayment) {
			t.Errorf("expected retry to report exhaustion again, got %v", err)
		}
		incidents, _ = st.store.ListIncidents(ctx, false)
		if len(incidents) != 1 {
			t.Errorf("expected the incident to be recorded once, got %d", len(incidents))
		}

		resolved, err := st.store.ResolveIncident(ctx, incidents[0].ID, time.Now())
		if err != nil || resolved == nil || !resolved.Resolved {
			t.Fatalf("expected resolved incident, got %+v, %v", resolved, err)
		}
	})

	t.Run("cancelled payment fails the intent", func(t *testing.T) {
		if _, err := st.db.ExecContext(ctx, `UPDATE variants SET available_stock = 5 WHERE id = 'V'`); err != nil {
			t.Fatalf("failed to set stock: %v", err)
		}
		ref := st.initiate(ctx, t, "u5", 1)
		st.sandbox.SetStatus(ref, payment.StatusTerminated)

		_, err := st.service.Verify(ctx, ref)
		var notSettled *NotSettledError
		if !errors.As(err, &notSettled) || !notSettled.Terminal {
			t.Fatalf("expected terminal NotSettledError, got %v", err)
		}

		intent, _ := st.store.GetIntent(ctx, ref)
		if intent == nil || intent.State != domain.IntentStateFailed {
			t.Errorf("expected failed intent, got %+v", intent)
		}
		if got := st.stock(ctx, t); got != 5 {
			t.Errorf("expected stock untouched, got %d", got)
		}
	})

	t.Run("janitor abandons expired intents", func(t *testing.T) {
		ref := st.initiate(ctx, t, "u6", 1)

		n, err := st.store.AbandonExpired(ctx, time.Now().Add(time.Hour))
		if err != nil {
			t.Fatalf("abandon failed: %v", err)
		}
		if n < 1 {
			t.Errorf("expected at least one abandoned intent, got %d", n)
		}
		intent, _ := st.store.GetIntent(ctx, ref)
		if intent == nil || intent.State != domain.IntentStateAbandoned {
			t.Errorf("expected abandoned intent, got %+v", intent)
		}
	})
}
