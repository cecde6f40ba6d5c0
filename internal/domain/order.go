package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const OrdersCollection = "orders"

type OrderItem struct {
	ProductID string          `bson:"product_id" json:"product_id"`
	Name      string          `bson:"name" json:"name"`
	Quantity  int             `bson:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `bson:"unit_price" json:"unit_price"`
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is written once by checkout and never mutated afterwards.
type Order struct {
	ID             string          `bson:"_id" json:"id"`
	IdempotencyKey string          `bson:"idempotency_key" json:"idempotency_key"`
	PrincipalID    string          `bson:"principal_id" json:"principal_id"`
	PrincipalLabel string          `bson:"principal_label" json:"principal_label"`
	Items          []OrderItem     `bson:"items" json:"items"`
	Total          decimal.Decimal `bson:"total" json:"total"`
	PointsEarned   int             `bson:"points_earned" json:"points_earned"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
}

func (o Order) ItemCount() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}
