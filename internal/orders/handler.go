package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/identity"
)

type Store interface {
	GetByNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Order, error)
	// Transition re-checks allowFrom against the status read under the row
	// lock, so a change committed after an earlier read is not overridden.
	Transition(ctx context.Context, orderNumber string, next domain.OrderStatus, entry domain.TrackingEntry, allowFrom func(domain.OrderStatus) bool) (*domain.Order, error)
	Stats(ctx context.Context, now time.Time) (*domain.OrderStats, error)
}

type Handler struct {
	store    Store
	location string
	now      func() time.Time
	logger   *slog.Logger
}

func NewHandler(store Store, location string, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		location: location,
		now:      time.Now,
		logger:   logger,
	}
}

var statusDescriptions = map[domain.OrderStatus]string{
	domain.OrderStatusPending:    "Order placed",
	domain.OrderStatusConfirmed:  "Order confirmed",
	domain.OrderStatusProcessing: "Order is being prepared",
	domain.OrderStatusShipped:    "Order has been shipped",
	domain.OrderStatusDelivered:  "Order delivered",
	domain.OrderStatusCancelled:  "Order cancelled",
}

// userCancellable are the statuses from which a customer may cancel their own
// order. Later stages need an admin.
var userCancellable = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:    true,
	domain.OrderStatusConfirmed:  true,
	domain.OrderStatusProcessing: true,
}

func customerMayCancel(s domain.OrderStatus) bool {
	return userCancellable[s]
}

type response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.FromRequest(r)

	orders, err := h.store.ListByUser(r.Context(), user.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list orders", "error", err, "user_id", user.ID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.InfoContext(r.Context(), "orders listed", "user_id", user.ID, "count", len(orders))
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: orders})
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: order})
}

func (h *Handler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: map[string]any{
		"order_number":     order.OrderNumber,
		"status":           order.Status,
		"tracking_history": order.Tracking,
	}})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	order, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	if !customerMayCancel(order.Status) {
		h.writeError(w, http.StatusBadRequest, errNotCancellable)
		return
	}

	entry := domain.TrackingEntry{Description: "Order cancelled by customer"}
	h.transitionWith(w, r, order.OrderNumber, domain.OrderStatusCancelled, entry, customerMayCancel)
}

const errNotCancellable = "order can no longer be cancelled"

type updateStatusRequest struct {
	Status      domain.OrderStatus `json:"status"`
	Description string             `json:"description"`
	Location    string             `json:"location"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderNumber := r.PathValue("orderNumber")

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.Status.Valid() {
		h.writeError(w, http.StatusBadRequest, "unknown status")
		return
	}

	description := req.Description
	if description == "" {
		description = statusDescriptions[req.Status]
	}

	entry := domain.TrackingEntry{Description: description, Location: req.Location}
	h.transitionWith(w, r, orderNumber, req.Status, entry, nil)
}

func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context(), h.now())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to compute order stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Data: stats})
}

// loadOwned fetches the order named in the path and checks that the caller
// owns it or is an admin. It writes the error response itself.
func (h *Handler) loadOwned(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	user, _ := identity.FromRequest(r)
	orderNumber := r.PathValue("orderNumber")

	order, err := h.store.GetByNumber(r.Context(), orderNumber)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to get order", "error", err, "order_number", orderNumber)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}

	if order == nil || (order.UserID != user.ID && !user.IsAdmin()) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return nil, false
	}

	return order, true
}

func (h *Handler) transitionWith(w http.ResponseWriter, r *http.Request, orderNumber string, next domain.OrderStatus, entry domain.TrackingEntry, allowFrom func(domain.OrderStatus) bool) {
	if entry.Location == "" {
		entry.Location = h.location
	}
	entry.Timestamp = h.now().UTC()

	order, err := h.store.Transition(r.Context(), orderNumber, next, entry, allowFrom)
	if err != nil {
		if errors.Is(err, ErrStatusNotAllowed) {
			h.writeError(w, http.StatusBadRequest, errNotCancellable)
			return
		}
		if errors.Is(err, ErrInvalidTransition) {
			h.writeError(w, http.StatusConflict, "invalid status transition")
			return
		}
		h.logger.ErrorContext(r.Context(), "failed to update order status", "error", err, "order_number", orderNumber)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.InfoContext(r.Context(), "order status updated", "order_number", orderNumber, "status", order.Status)
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: order})
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
