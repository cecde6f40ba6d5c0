package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const CartsCollection = "carts"

// CartLine holds the name and price captured when the product was first added.
type CartLine struct {
	ProductID string          `bson:"product_id" json:"product_id"`
	Name      string          `bson:"name" json:"name"`
	UnitPrice decimal.Decimal `bson:"unit_price" json:"unit_price"`
	Quantity  int             `bson:"quantity" json:"quantity"`
	ImageURL  string          `bson:"image_url,omitempty" json:"image_url,omitempty"`
}

func (l CartLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CartMirror is the durable copy of a principal's cart.
type CartMirror struct {
	PrincipalID string          `bson:"_id" json:"principal_id"`
	Items       []CartLine      `bson:"items" json:"items"`
	Total       decimal.Decimal `bson:"total" json:"total"`
	UpdatedAt   time.Time       `bson:"updated_at" json:"updated_at"`
}

func LinesTotal(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

func LinesCount(lines []CartLine) int {
	n := 0
	for _, l := range lines {
		n += l.Quantity
	}
	return n
}

// SubtractLines removes the committed quantities from lines. Lines left below
// one unit are dropped; lines of products not in committed are kept as they are.
func SubtractLines(lines, committed []CartLine) []CartLine {
	sold := make(map[string]int, len(committed))
	for _, l := range committed {
		sold[l.ProductID] += l.Quantity
	}
	var out []CartLine
	for _, l := range lines {
		l.Quantity -= sold[l.ProductID]
		if l.Quantity < 1 {
			continue
		}
		out = append(out, l)
	}
	return out
}

// SameQuantities reports whether lines hold exactly the products and
// quantities of items.
func SameQuantities(lines []CartLine, items []OrderItem) bool {
	if len(lines) != len(items) {
		return false
	}
	want := make(map[string]int, len(items))
	for _, it := range items {
		want[it.ProductID] += it.Quantity
	}
	for _, l := range lines {
		if want[l.ProductID] != l.Quantity {
			return false
		}
		delete(want, l.ProductID)
	}
	return len(want) == 0
}
