package domain

import "time"

type IntentState string

const (
	IntentStateOpen      IntentState = "open"
	IntentStateConsumed  IntentState = "consumed"
	IntentStateFailed    IntentState = "failed"
	IntentStateExhausted IntentState = "exhausted"
	IntentStateAbandoned IntentState = "abandoned"
)

type Customer struct {
	ID    string `json:"customer_id"`
	Email string `json:"customer_email"`
	Name  string `json:"customer_name"`
	Phone string `json:"customer_phone"`
}

// IntentLine is one staged line of a checkout. CartItemID is set when the
// line came from the user's cart and must be cleared on settlement.
type IntentLine struct {
	ProductID          string     `json:"product_id"`
	VariantID          string     `json:"variant_id"`
	Quantity           int        `json:"quantity"`
	UnitPrice          int64      `json:"unit_price"`
	LineTotal          int64      `json:"line_total"`
	SelectedAttributes Attributes `json:"selected_attributes,omitempty"`
	CartItemID         string     `json:"cart_item_id,omitempty"`
}

// CheckoutIntent is the durable staging record of a pending order, keyed by
// the reference shared with the payment gateway.
type CheckoutIntent struct {
	Reference       string       `json:"order_number"`
	UserID          string       `json:"user_id"`
	Customer        Customer     `json:"customer"`
	Lines           []IntentLine `json:"line_items"`
	Subtotal        int64        `json:"subtotal"`
	ShippingFee     int64        `json:"shipping_fee"`
	Tax             int64        `json:"tax"`
	Total           int64        `json:"total"`
	Currency        string       `json:"currency"`
	ShippingAddress string       `json:"shipping_address"`
	BillingAddress  string       `json:"billing_address"`
	Notes           string       `json:"notes,omitempty"`
	State           IntentState  `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	ExpiresAt       time.Time    `json:"expires_at"`
}

// Expired reports whether the intent is past its TTL at now.
func (i *CheckoutIntent) Expired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// CartItemIDs returns the cart lines this intent was built from.
func (i *CheckoutIntent) CartItemIDs() []string {
	var ids []string
	for _, l := range i.Lines {
		if l.CartItemID != "" {
			ids = append(ids, l.CartItemID)
		}
	}
	return ids
}

// OrderItems converts the staged lines into immutable order lines.
func (i *CheckoutIntent) OrderItems() []OrderItem {
	items := make([]OrderItem, 0, len(i.Lines))
	for _, l := range i.Lines {
		items = append(items, OrderItem{
			ProductID:          l.ProductID,
			VariantID:          l.VariantID,
			Quantity:           l.Quantity,
			UnitPrice:          l.UnitPrice,
			LineTotal:          l.LineTotal,
			SelectedAttributes: l.SelectedAttributes,
		})
	}
	return items
}
