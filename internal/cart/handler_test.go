package cart

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/identity"
)

type memStore struct {
	lines []domain.CartLine
}

func (m *memStore) ListLines(ctx context.Context, userID string, ids []string) ([]domain.CartLine, error) {
	var out []domain.CartLine
	for _, l := range m.lines {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *memStore) Add(ctx context.Context, line *domain.CartLine) error {
	line.ID = "c" + strconv.Itoa(len(m.lines))
	m.lines = append(m.lines, *line)
	return nil
}

func (m *memStore) Remove(ctx context.Context, userID, id string) (bool, error) {
	for i, l := range m.lines {
		if l.UserID == userID && l.ID == id {
			m.lines = append(m.lines[:i], m.lines[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

type variantMap map[string]*domain.Variant

func (v variantMap) GetVariant(ctx context.Context, id string) (*domain.Variant, error) {
	return v[id], nil
}

func TestHandler(t *testing.T) {
	store := &memStore{}
	h := NewHandler(store, variantMap{"v1": {ID: "v1", ProductID: "p1"}}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /cart", h.HandleList)
	mux.HandleFunc("POST /cart", h.HandleAdd)
	mux.HandleFunc("DELETE /cart/{id}", h.HandleRemove)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(identity.HeaderUserID, "u1")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	t.Run("adds a line", func(t *testing.T) {
		rec := do(http.MethodPost, "/cart", `{"product_id":"p1","variant_id":"v1","quantity":2,"selected_attributes":{"size":"L"}}`)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(store.lines) != 1 || store.lines[0].UserID != "u1" || store.lines[0].SelectedAttributes["size"] != "L" {
			t.Errorf("unexpected stored lines %+v", store.lines)
		}
	})

	t.Run("rejects variant of another product", func(t *testing.T) {
		rec := do(http.MethodPost, "/cart", `{"product_id":"p2","variant_id":"v1","quantity":1}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		rec := do(http.MethodPost, "/cart", `{"product_id":"p1","variant_id":"v1","quantity":0}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("removes a line", func(t *testing.T) {
		rec := do(http.MethodDelete, "/cart/"+store.lines[0].ID, "")
		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		rec = do(http.MethodDelete, "/cart/missing", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})
}
