package cart

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/identity"
)

type Store interface {
	ListLines(ctx context.Context, userID string, ids []string) ([]domain.CartLine, error)
	Add(ctx context.Context, line *domain.CartLine) error
	Remove(ctx context.Context, userID, id string) (bool, error)
}

type VariantLookup interface {
	GetVariant(ctx context.Context, id string) (*domain.Variant, error)
}

type Handler struct {
	store    Store
	variants VariantLookup
	logger   *slog.Logger
}

func NewHandler(store Store, variants VariantLookup, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		variants: variants,
		logger:   logger,
	}
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.FromRequest(r)

	lines, err := h.store.ListLines(r.Context(), user.ID, nil)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list cart", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Data: lines})
}

type addRequest struct {
	ProductID          string            `json:"product_id"`
	VariantID          string            `json:"variant_id"`
	Quantity           int               `json:"quantity"`
	SelectedAttributes domain.Attributes `json:"selected_attributes"`
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.FromRequest(r)

	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	variant, err := h.variants.GetVariant(r.Context(), req.VariantID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get variant", "error", err, "variant_id", req.VariantID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if variant == nil || variant.ProductID != req.ProductID {
		h.writeError(w, http.StatusBadRequest, "invalid variant for the selected product")
		return
	}

	line := &domain.CartLine{
		UserID:             user.ID,
		ProductID:          req.ProductID,
		VariantID:          req.VariantID,
		Quantity:           req.Quantity,
		SelectedAttributes: req.SelectedAttributes,
	}
	if err := h.store.Add(r.Context(), line); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to add cart line", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	line.Variant = variant
	h.logger.InfoContext(r.Context(), "cart line added", "user_id", user.ID, "variant_id", req.VariantID, "quantity", req.Quantity)
	h.writeJSON(w, http.StatusCreated, response{Success: true, Data: line})
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.FromRequest(r)
	id := r.PathValue("id")

	removed, err := h.store.Remove(r.Context(), user.ID, id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to remove cart line", "error", err, "user_id", user.ID, "cart_item_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !removed {
		h.writeError(w, http.StatusNotFound, "cart item not found")
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "item removed from cart"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, response{Success: false, Message: message})
}
