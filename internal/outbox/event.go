package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	Collection = "outbox"

	EventOrderCompleted = "order.completed"
)

// Event is a message waiting in the outbox collection to be published.
// It is written in the same batch as the change it describes.
type Event struct {
	ID          string    `bson:"_id" json:"id"`
	AggregateID string    `bson:"aggregate_id" json:"aggregate_id"`
	EventType   string    `bson:"event_type" json:"event_type"`
	Payload     string    `bson:"payload" json:"payload"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
}

type OrderCompleted struct {
	OrderID        string             `json:"order_id"`
	PrincipalID    string             `json:"principal_id"`
	PrincipalLabel string             `json:"principal_label"`
	Items          []domain.OrderItem `json:"items"`
	Total          decimal.Decimal    `json:"total"`
	PointsEarned   int                `json:"points_earned"`
	CompletedAt    time.Time          `json:"completed_at"`
}

func NewOrderCompleted(order domain.Order) (Event, error) {
	payload, err := json.Marshal(OrderCompleted{
		OrderID:        order.ID,
		PrincipalID:    order.PrincipalID,
		PrincipalLabel: order.PrincipalLabel,
		Items:          order.Items,
		Total:          order.Total,
		PointsEarned:   order.PointsEarned,
		CompletedAt:    order.CreatedAt,
	})
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal order payload: %w", err)
	}
	return Event{
		ID:          EventOrderCompleted + ":" + order.ID,
		AggregateID: order.ID,
		EventType:   EventOrderCompleted,
		Payload:     string(payload),
		CreatedAt:   order.CreatedAt,
	}, nil
}

func DecodeOrderCompleted(payload []byte) (OrderCompleted, error) {
	var oc OrderCompleted
	if err := json.Unmarshal(payload, &oc); err != nil {
		return OrderCompleted{}, fmt.Errorf("failed to unmarshal order payload: %w", err)
	}
	if oc.OrderID == "" {
		return OrderCompleted{}, fmt.Errorf("order payload has no order id")
	}
	return oc, nil
}
