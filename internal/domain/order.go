package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == OrderStatusCancelled
}

// CanTransitionTo reports whether an order in status s may move to next.
// Statuses only advance forward; cancellation is allowed from any state
// except delivered and cancelled itself.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == OrderStatusCancelled || s == OrderStatusDelivered {
		return false
	}
	if next == OrderStatusCancelled {
		return true
	}
	from, ok := statusRank[s]
	if !ok {
		return false
	}
	to, ok := statusRank[next]
	if !ok {
		return false
	}
	return to > from
}

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type OrderItem struct {
	ProductID          string     `json:"product_id"`
	VariantID          string     `json:"variant_id"`
	Quantity           int        `json:"quantity"`
	UnitPrice          int64      `json:"unit_price"`
	LineTotal          int64      `json:"line_total"`
	SelectedAttributes Attributes `json:"selected_attributes,omitempty"`
}

type TrackingEntry struct {
	Status      OrderStatus `json:"status"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Timestamp   time.Time   `json:"timestamp"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	UserID          string          `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	Subtotal        int64           `json:"subtotal"`
	ShippingFee     int64           `json:"shipping_fee"`
	Tax             int64           `json:"tax"`
	Total           int64           `json:"total"`
	Currency        string          `json:"currency"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	ShippingAddress string          `json:"shipping_address"`
	BillingAddress  string          `json:"billing_address"`
	Notes           string          `json:"notes,omitempty"`
	Items           []OrderItem     `json:"items"`
	Tracking        []TrackingEntry `json:"tracking_history,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrderStats aggregates order counts for the admin dashboard.
type OrderStats struct {
	Total       int                 `json:"total_orders"`
	ByStatus    map[OrderStatus]int `json:"by_status"`
	Today       int                 `json:"todays_orders"`
	ThisMonth   int                 `json:"this_month_orders"`
	PaidRevenue int64               `json:"paid_revenue"`
}
