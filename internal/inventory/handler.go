package inventory

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

type Store interface {
	ListAll(ctx context.Context) ([]domain.Variant, error)
	GetVariant(ctx context.Context, id string) (*domain.Variant, error)
	Restock(ctx context.Context, variantID string, quantity int) (*domain.Variant, error)
}

type Handler struct {
	store  Store
	logger *slog.Logger
}

func NewHandler(store Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:  store,
		logger: logger,
	}
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) HandleListStock(w http.ResponseWriter, r *http.Request) {
	variants, err := h.store.ListAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list stock", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.InfoContext(r.Context(), "stock listed", "count", len(variants))
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: variants})
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	variantID := r.PathValue("variantId")
	if variantID == "" {
		h.writeError(w, http.StatusBadRequest, "missing variant id")
		return
	}

	variant, err := h.store.GetVariant(r.Context(), variantID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get stock", "error", err, "variant_id", variantID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if variant == nil {
		h.writeError(w, http.StatusNotFound, "variant not found")
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Data: variant})
}

type restockRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleRestock(w http.ResponseWriter, r *http.Request) {
	variantID := r.PathValue("variantId")
	if variantID == "" {
		h.writeError(w, http.StatusBadRequest, "missing variant id")
		return
	}

	var req restockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Quantity <= 0 {
		h.writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}

	variant, err := h.store.Restock(r.Context(), variantID, req.Quantity)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to restock", "error", err, "variant_id", variantID, "quantity", req.Quantity)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if variant == nil {
		h.writeError(w, http.StatusNotFound, "variant not found")
		return
	}

	h.logger.InfoContext(r.Context(), "variant restocked", "variant_id", variantID, "quantity", req.Quantity, "available", variant.AvailableStock)
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: variant})
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
