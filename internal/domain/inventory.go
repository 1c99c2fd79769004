package domain

// Variant is a purchasable SKU together with its available stock.
type Variant struct {
	ID             string `json:"variant_id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Title          string `json:"title"`
	SellingPrice   int64  `json:"selling_price"`
	AvailableStock int    `json:"available_stock"`
}

// DisplayName is the label shown to customers in stock errors.
func (v Variant) DisplayName() string {
	if v.Title == "" {
		return v.ProductName
	}
	if v.ProductName == "" {
		return v.Title
	}
	return v.ProductName + " - " + v.Title
}
