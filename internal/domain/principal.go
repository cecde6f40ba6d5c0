package domain

import "github.com/shopspring/decimal"

const UsersCollection = "users"

type Role string

const (
	RoleOrdinary      Role = "ordinary"
	RoleAdministrator Role = "administrator"
)

func (r Role) Valid() bool {
	return r == RoleOrdinary || r == RoleAdministrator
}

type Principal struct {
	ID            string `bson:"_id" json:"id"`
	DisplayName   string `bson:"display_name" json:"display_name"`
	Email         string `bson:"email" json:"email,omitempty"`
	Role          Role   `bson:"role" json:"role"`
	LoyaltyPoints int    `bson:"loyalty_points" json:"loyalty_points"`
	Version       int64  `bson:"version" json:"version"`
}

func (p Principal) IsAdministrator() bool {
	return p.Role == RoleAdministrator
}

// Label is the name printed on orders; falls back to the email, then the id.
func (p Principal) Label() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	if p.Email != "" {
		return p.Email
	}
	return p.ID
}

// pointsRate is the currency amount that earns one loyalty point.
var pointsRate = decimal.NewFromInt(100)

// PointsFor returns floor(total / 100).
func PointsFor(total decimal.Decimal) int {
	if !total.IsPositive() {
		return 0
	}
	return int(total.Div(pointsRate).Floor().IntPart())
}
