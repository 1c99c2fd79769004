package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/orderflow-payments/internal/identity"
)

func newTestHandler(baseURL string, client *http.Client) *Handler {
	return NewHandler(NewServiceProxy(baseURL, client, TrustIdentityHeaders(true)), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_HandleCheckout(t *testing.T) {
	t.Run("strips /api and forwards identity", func(t *testing.T) {
		checkoutServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/payment/initiate" {
				t.Errorf("expected /payment/initiate, got %s", r.URL.Path)
			}
			if r.Header.Get(identity.HeaderUserID) != "u1" {
				t.Errorf("expected user u1, got %s", r.Header.Get(identity.HeaderUserID))
			}
			if r.Header.Get("Origin") != "https://shop.example" {
				t.Errorf("expected origin to be forwarded, got %s", r.Header.Get("Origin"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != `{"shipping_address":"1 Main St"}` {
				t.Errorf("unexpected body: %s", body)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"success":true}`))
		}))
		defer checkoutServer.Close()

		handler := newTestHandler(checkoutServer.URL, checkoutServer.Client())

		req := httptest.NewRequest(http.MethodPost, "/api/payment/initiate", strings.NewReader(`{"shipping_address":"1 Main St"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "https://shop.example")
		req.Header.Set(identity.HeaderUserID, "u1")
		rec := httptest.NewRecorder()

		handler.HandleCheckout(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if rec.Header().Get("Content-Type") != "application/json" {
			t.Errorf("expected application/json, got %s", rec.Header().Get("Content-Type"))
		}
		if rec.Body.String() != `{"success":true}` {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("preserves downstream status and query", func(t *testing.T) {
		checkoutServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/admin/incidents" || r.URL.Query().Get("all") != "true" {
				t.Errorf("unexpected upstream url %s", r.URL.String())
			}
			w.WriteHeader(http.StatusForbidden)
		}))
		defer checkoutServer.Close()

		handler := newTestHandler(checkoutServer.URL, checkoutServer.Client())

		req := httptest.NewRequest(http.MethodGet, "/api/admin/incidents?all=true", nil)
		rec := httptest.NewRecorder()

		handler.HandleCheckout(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("expected status 403, got %d", rec.Code)
		}
	})

	t.Run("returns 502 when checkout service unavailable", func(t *testing.T) {
		handler := newTestHandler("http://localhost:99999", &http.Client{})

		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		rec := httptest.NewRecorder()

		handler.HandleCheckout(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Errorf("expected status 502, got %d", rec.Code)
		}

		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp["message"] != "service unavailable" || resp["success"] != false {
			t.Errorf("unexpected error body: %v", resp)
		}
	})
}
