package domain

import "github.com/shopspring/decimal"

const ProductsCollection = "products"

type Product struct {
	ID                string          `bson:"_id" json:"id"`
	Name              string          `bson:"name" json:"name"`
	Description       string          `bson:"description" json:"description"`
	UnitPrice         decimal.Decimal `bson:"unit_price" json:"unit_price"`
	ImageURL          string          `bson:"image_url" json:"image_url,omitempty"`
	AvailableQuantity int             `bson:"available_quantity" json:"available_quantity"`
	SalesCount        int             `bson:"sales_count" json:"sales_count"`
	Version           int64           `bson:"version" json:"version"`
}

// InStock reports whether at least one unit can still be sold.
func (p Product) InStock() bool {
	return p.AvailableQuantity > 0
}
