package domain

import "time"

// CartLine is a staged line in a user's cart. Variant is nil when the
// variant was deleted after the line was added.
type CartLine struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	ProductID          string     `json:"product_id"`
	VariantID          string     `json:"variant_id"`
	Quantity           int        `json:"quantity"`
	SelectedAttributes Attributes `json:"selected_attributes,omitempty"`
	Variant            *Variant   `json:"variant,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}
