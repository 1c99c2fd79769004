package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Sandbox is an in-memory Cashfree-compatible gateway. Orders start ACTIVE
// and are settled through POST /sandbox/orders/{orderId}/status.
type Sandbox struct {
	appID     string
	secretKey string
	logger    *slog.Logger

	mu      sync.Mutex
	nextID  int64
	orders  map[string]*sandboxOrder
	creates int
	lookups int
}

type sandboxOrder struct {
	cfOrderID int64
	orderID   string
	amount    decimal.Decimal
	currency  string
	status    Status
	sessionID string
	returnURL string
}

func NewSandbox(appID, secretKey string, logger *slog.Logger) *Sandbox {
	return &Sandbox{
		appID:     appID,
		secretKey: secretKey,
		logger:    logger,
		nextID:    1000,
		orders:    make(map[string]*sandboxOrder),
	}
}

// Routes registers the gateway endpoints on mux.
func (s *Sandbox) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orders", s.HandleCreateOrder)
	mux.HandleFunc("GET /orders/{orderId}", s.HandleGetOrder)
	mux.HandleFunc("POST /sandbox/orders/{orderId}/status", s.HandleSetStatus)
}

func (s *Sandbox) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Routes(mux)
	return mux
}

// SetStatus moves an order to status and reports whether it exists.
func (s *Sandbox) SetStatus(orderID string, status Status) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return false
	}
	o.status = status
	return true
}

// ReturnURL returns the return url registered for orderID.
func (s *Sandbox) ReturnURL(orderID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o, ok := s.orders[orderID]; ok {
		return o.returnURL
	}
	return ""
}

// Calls reports how many create and lookup requests were served.
func (s *Sandbox) Calls() (creates, lookups int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates, s.lookups
}

func (s *Sandbox) authorized(r *http.Request) bool {
	return r.Header.Get("x-client-id") == s.appID &&
		r.Header.Get("x-client-secret") == s.secretKey &&
		r.Header.Get("x-api-version") != ""
}

func (s *Sandbox) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.writeError(w, http.StatusUnauthorized, "authentication_error", "authentication Failed")
		return
	}

	var req createOrderBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "request_invalid", "invalid request body")
		return
	}

	amount, err := decimal.NewFromString(req.OrderAmount.String())
	if err != nil || !amount.IsPositive() {
		s.writeError(w, http.StatusBadRequest, "order_amount_invalid", "order_amount must be positive")
		return
	}
	if req.OrderID == "" || req.CustomerDetails.CustomerID == "" || req.CustomerDetails.CustomerPhone == "" {
		s.writeError(w, http.StatusBadRequest, "request_invalid", "order_id and customer_details are required")
		return
	}

	s.mu.Lock()
	s.creates++
	if _, exists := s.orders[req.OrderID]; exists {
		s.mu.Unlock()
		s.writeError(w, http.StatusConflict, "order_already_exists", "order with same id is already present")
		return
	}
	s.nextID++
	o := &sandboxOrder{
		cfOrderID: s.nextID,
		orderID:   req.OrderID,
		amount:    amount,
		currency:  req.OrderCurrency,
		status:    StatusActive,
		sessionID: "session_" + uuid.NewString(),
		returnURL: req.OrderMeta.ReturnURL,
	}
	s.orders[req.OrderID] = o
	resp := o.response()
	s.mu.Unlock()

	s.logger.Info("sandbox order created", "order_id", req.OrderID, "amount", amount.StringFixed(2))
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Sandbox) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.writeError(w, http.StatusUnauthorized, "authentication_error", "authentication Failed")
		return
	}

	orderID := r.PathValue("orderId")

	s.mu.Lock()
	s.lookups++
	o, ok := s.orders[orderID]
	var resp orderResponse
	if ok {
		resp = o.response()
	}
	s.mu.Unlock()

	if !ok {
		s.writeError(w, http.StatusNotFound, "order_not_found", "order not found")
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type setStatusRequest struct {
	Status Status `json:"status"`
}

func (s *Sandbox) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		s.writeError(w, http.StatusBadRequest, "request_invalid", "invalid request body")
		return
	}

	orderID := r.PathValue("orderId")
	if !s.SetStatus(orderID, req.Status) {
		s.writeError(w, http.StatusNotFound, "order_not_found", "order not found")
		return
	}

	s.logger.Info("sandbox order status changed", "order_id", orderID, "status", req.Status)
	s.writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "order_status": string(req.Status)})
}

func (o *sandboxOrder) response() orderResponse {
	return orderResponse{
		CFOrderID:        json.RawMessage(strconv.FormatInt(o.cfOrderID, 10)),
		OrderID:          o.orderID,
		OrderAmount:      json.Number(o.amount.StringFixed(2)),
		OrderStatus:      string(o.status),
		PaymentSessionID: o.sessionID,
	}
}

func (s *Sandbox) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Sandbox) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, errorResponse{Code: code, Message: message, Type: "invalid_request_error"})
}
