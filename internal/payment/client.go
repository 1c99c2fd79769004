package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/orderflow-payments/internal/domain"
)

// ErrUnavailable is returned when the gateway could not be reached, timed out
// or answered with something that is not a usable response.
var ErrUnavailable = errors.New("payment gateway unavailable")

// RejectedError is a non-2xx answer carrying a business payload.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment gateway rejected request (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("payment gateway rejected request (%d): %s", e.StatusCode, e.Message)
}

type Status string

const (
	StatusPaid                 Status = "PAID"
	StatusActive               Status = "ACTIVE"
	StatusTerminationRequested Status = "TERMINATION_REQUESTED"
	StatusExpired              Status = "EXPIRED"
	StatusTerminated           Status = "TERMINATED"
)

// Pending reports whether the payment may still settle.
func (s Status) Pending() bool {
	return s == StatusActive || s == StatusTerminationRequested
}

type CreateOrderRequest struct {
	Reference string
	Amount    int64
	Currency  string
	Customer  domain.Customer
	ReturnURL string
}

type Session struct {
	PaymentSessionID string
	GatewayOrderID   string
}

type OrderStatus struct {
	Reference    string
	Status       Status
	SettlementID string
	Amount       decimal.Decimal
}

type Credentials struct {
	AppID      string
	SecretKey  string
	APIVersion string
}

// Client talks to a Cashfree-compatible PG API.
type Client struct {
	baseURL string
	creds   Credentials
	client  *http.Client
}

func NewClient(baseURL string, creds Credentials, client *http.Client) *Client {
	return &Client{
		baseURL: baseURL,
		creds:   creds,
		client:  client,
	}
}

// defaultPhone is sent when the customer has no phone on file; the gateway
// rejects orders without one.
const defaultPhone = "9999999999"

type customerDetails struct {
	CustomerID    string `json:"customer_id"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	CustomerName  string `json:"customer_name,omitempty"`
}

type orderMeta struct {
	ReturnURL string `json:"return_url"`
}

type createOrderBody struct {
	OrderID         string          `json:"order_id"`
	OrderAmount     json.Number     `json:"order_amount"`
	OrderCurrency   string          `json:"order_currency"`
	CustomerDetails customerDetails `json:"customer_details"`
	OrderMeta       orderMeta       `json:"order_meta"`
}

type orderResponse struct {
	CFOrderID        json.RawMessage `json:"cf_order_id"`
	OrderID          string          `json:"order_id"`
	OrderAmount      json.Number     `json:"order_amount"`
	OrderStatus      string          `json:"order_status"`
	PaymentSessionID string          `json:"payment_session_id"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// AmountFromMinor converts minor currency units to the two-decimal major-unit
// amount the gateway expects.
func AmountFromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Session, error) {
	phone := req.Customer.Phone
	if phone == "" {
		phone = defaultPhone
	}

	body := createOrderBody{
		OrderID:       req.Reference,
		OrderAmount:   json.Number(AmountFromMinor(req.Amount).StringFixed(2)),
		OrderCurrency: req.Currency,
		CustomerDetails: customerDetails{
			CustomerID:    req.Customer.ID,
			CustomerEmail: req.Customer.Email,
			CustomerPhone: phone,
			CustomerName:  req.Customer.Name,
		},
		OrderMeta: orderMeta{ReturnURL: req.ReturnURL},
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", body, &resp); err != nil {
		return nil, err
	}

	if resp.PaymentSessionID == "" {
		return nil, fmt.Errorf("%w: response without payment_session_id", ErrUnavailable)
	}

	return &Session{
		PaymentSessionID: resp.PaymentSessionID,
		GatewayOrderID:   settlementID(resp.CFOrderID),
	}, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, reference string) (*OrderStatus, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(reference), nil, &resp); err != nil {
		return nil, err
	}

	if resp.OrderStatus == "" {
		return nil, fmt.Errorf("%w: response without order_status", ErrUnavailable)
	}

	status := &OrderStatus{
		Reference:    reference,
		Status:       Status(resp.OrderStatus),
		SettlementID: settlementID(resp.CFOrderID),
	}
	if resp.OrderAmount != "" {
		amount, err := decimal.NewFromString(resp.OrderAmount.String())
		if err == nil {
			status.Amount = amount
		}
	}
	return status, nil
}

// Ping checks that the configured credentials are accepted by the gateway by
// looking up an order id that cannot exist. A 404 means the call was
// authenticated.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, http.MethodGet, "/orders/credential-check", nil, nil)

	var rejected *RejectedError
	if errors.As(err, &rejected) && rejected.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-client-id", c.creds.AppID)
	req.Header.Set("x-client-secret", c.creds.SecretKey)
	req.Header.Set("x-api-version", c.creds.APIVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e errorResponse
		if err := json.Unmarshal(data, &e); err != nil || e.Message == "" {
			return fmt.Errorf("%w: status %d with unreadable body", ErrUnavailable, resp.StatusCode)
		}
		return &RejectedError{StatusCode: resp.StatusCode, Code: e.Code, Message: e.Message}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrUnavailable, err)
	}
	return nil
}

// settlementID accepts cf_order_id as either a JSON number or a string.
func settlementID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
