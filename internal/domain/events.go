package domain

import "time"

type OrderConfirmedEvent struct {
	OrderID       string      `json:"order_id"`
	OrderNumber   string      `json:"order_number"`
	UserID        string      `json:"user_id"`
	CustomerEmail string      `json:"customer_email"`
	CustomerName  string      `json:"customer_name"`
	Items         []OrderItem `json:"items"`
	Total         int64       `json:"total"`
	Currency      string      `json:"currency"`
	Timestamp     time.Time   `json:"timestamp"`
}

type IncidentKind string

const (
	IncidentStaleIntent               IncidentKind = "stale_intent"
	IncidentStockExhaustedPostPayment IncidentKind = "stock_exhausted_post_payment"
)

// Incident records a paid-but-unfulfilled checkout that needs manual
// follow-up (refund or order reconstruction).
type Incident struct {
	ID            string       `json:"id"`
	OrderNumber   string       `json:"order_number"`
	Kind          IncidentKind `json:"kind"`
	UserID        string       `json:"user_id,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	Amount        int64        `json:"amount,omitempty"`
	Detail        string       `json:"detail"`
	Resolved      bool         `json:"resolved"`
	CreatedAt     time.Time    `json:"created_at"`
	ResolvedAt    *time.Time   `json:"resolved_at,omitempty"`
}

type PaymentIncidentEvent struct {
	Incident  Incident  `json:"incident"`
	Timestamp time.Time `json:"timestamp"`
}
