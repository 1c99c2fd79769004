package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
	"github.com/joao-fontenele/orderflow-payments/internal/identity"
)

type GatewayPinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	service   *Service
	incidents IncidentStore
	pinger    GatewayPinger
	now       func() time.Time
	logger    *slog.Logger
}

func NewHandler(service *Service, incidents IncidentStore, pinger GatewayPinger, logger *slog.Logger) *Handler {
	return &Handler{
		service:   service,
		incidents: incidents,
		pinger:    pinger,
		now:       time.Now,
		logger:    logger,
	}
}

type response struct {
	Success          bool   `json:"success"`
	Status           string `json:"status,omitempty"`
	PaymentSessionID string `json:"payment_session_id,omitempty"`
	OrderNumber      string `json:"order_number,omitempty"`
	Data             any    `json:"data,omitempty"`
	Message          string `json:"message,omitempty"`
}

type initiateRequest struct {
	ShippingAddress    string            `json:"shipping_address"`
	BillingAddress     string            `json:"billing_address"`
	Notes              string            `json:"notes"`
	CartItems          []string          `json:"cart_items"`
	ProductID          string            `json:"product_id"`
	VariantID          string            `json:"variant_id"`
	Quantity           int               `json:"quantity"`
	SelectedAttributes domain.Attributes `json:"selected_attributes"`
}

func (h *Handler) HandleInitiate(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.FromRequest(r)

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	in := InitiateRequest{
		Customer:        user.Customer,
		CartItemIDs:     req.CartItems,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		Notes:           req.Notes,
		Origin:          r.Header.Get("Origin"),
	}
	if req.ProductID != "" || req.VariantID != "" {
		in.Single = &SingleItem{
			ProductID:          req.ProductID,
			VariantID:          req.VariantID,
			Quantity:           req.Quantity,
			SelectedAttributes: req.SelectedAttributes,
		}
	}

	result, err := h.service.Initiate(r.Context(), in)
	if err != nil {
		status, message := initiateErrorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "checkout initiation failed", "error", err, "user_id", user.ID)
		}
		h.writeError(w, status, message)
		return
	}

	h.writeJSON(w, http.StatusOK, response{
		Success:          true,
		PaymentSessionID: result.PaymentSessionID,
		OrderNumber:      result.OrderNumber,
	})
}

func initiateErrorResponse(err error) (int, string) {
	var (
		validation *ValidationError
		stock      *InsufficientStockError
		missing    *MissingVariantError
		rejected   *GatewayRejectedError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Message
	case errors.As(err, &stock):
		return http.StatusBadRequest, fmt.Sprintf("Insufficient stock for %s. Only %d items available", stock.Name, stock.Available)
	case errors.As(err, &missing):
		return http.StatusBadRequest, "An item in your cart is no longer available"
	case errors.Is(err, ErrEmptyCart):
		return http.StatusBadRequest, "No items in cart to order"
	case errors.As(err, &rejected), errors.Is(err, ErrGatewayUnavailable):
		return http.StatusInternalServerError, "Payment gateway error. Please try again."
	default:
		return http.StatusInternalServerError, "Something went wrong. Please try again."
	}
}

type verifyRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.FromRequest(r)

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.service.Verify(r.Context(), req.OrderID)
	if err != nil {
		h.writeVerifyError(w, r, req.OrderID, err)
		return
	}

	resp := response{Success: true, Status: string(result.Status), OrderNumber: result.Order.OrderNumber}
	if result.Order.UserID == user.ID || user.IsAdmin() {
		resp.Data = result.Order
	}
	if result.Duplicate {
		resp.Message = "Order already confirmed"
	} else {
		resp.Message = "Payment successful"
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeVerifyError(w http.ResponseWriter, r *http.Request, orderNumber string, err error) {
	var (
		notSettled *NotSettledError
		validation *ValidationError
		rejected   *GatewayRejectedError
	)
	resp := response{Success: false, OrderNumber: orderNumber}
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &validation):
		status, resp.Message = http.StatusBadRequest, validation.Message
	case errors.As(err, &notSettled) && !notSettled.Terminal:
		status, resp.Status, resp.Message = http.StatusAccepted, string(notSettled.Status), "Payment is still processing"
	case errors.As(err, &notSettled):
		status, resp.Status, resp.Message = http.StatusPaymentRequired, string(notSettled.Status), "Payment failed"
	case errors.Is(err, ErrStaleIntent):
		status, resp.Status = http.StatusConflict, "STALE_INTENT"
		resp.Message = "Your payment was received but your checkout session had expired. A refund is in progress; please contact support with order " + orderNumber
	case errors.Is(err, ErrStockExhaustedPostPayment):
		status, resp.Status = http.StatusConflict, "STOCK_EXHAUSTED"
		resp.Message = "Your payment was received but some items went out of stock. A refund is in progress."
	case errors.As(err, &rejected), errors.Is(err, ErrGatewayUnavailable):
		resp.Message = "Payment gateway error. Please try again."
		h.logger.ErrorContext(r.Context(), "payment verification failed", "error", err, "order_number", orderNumber)
	default:
		resp.Message = "Something went wrong. Please try again."
		h.logger.ErrorContext(r.Context(), "payment verification failed", "error", err, "order_number", orderNumber)
	}

	h.writeJSON(w, status, resp)
}

func (h *Handler) HandleGatewayHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.pinger.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "payment gateway health check failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "Payment gateway check failed")
		return
	}
	h.writeJSON(w, http.StatusOK, response{Success: true, Message: "Payment gateway credentials are valid"})
}

func (h *Handler) HandleListIncidents(w http.ResponseWriter, r *http.Request) {
	includeResolved := r.URL.Query().Get("all") == "true"

	incidents, err := h.incidents.ListIncidents(r.Context(), includeResolved)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list incidents", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, response{Success: true, Data: incidents})
}

func (h *Handler) HandleResolveIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		h.writeError(w, http.StatusNotFound, "incident not found")
		return
	}

	inc, err := h.incidents.ResolveIncident(r.Context(), id, h.now().UTC())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to resolve incident", "error", err, "incident_id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if inc == nil {
		h.writeError(w, http.StatusNotFound, "incident not found")
		return
	}

	h.logger.InfoContext(r.Context(), "incident resolved", "incident_id", id, "order_number", inc.OrderNumber, "kind", inc.Kind)
	h.writeJSON(w, http.StatusOK, response{Success: true, Data: inc})
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
