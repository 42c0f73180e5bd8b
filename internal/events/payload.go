// Package events carries committed order events to outside consumers: a
// Kafka topic and live WebSocket subscribers. All sinks share one JSON
// payload, which webhook deliveries use as well.
package events

import (
	"encoding/json"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
)

// Payload is the wire form of a domain.OrderEvent.
type Payload struct {
	Event     string    `json:"event"`
	Timestamp string    `json:"timestamp"`
	Data      OrderData `json:"data"`
}

// OrderData is the order snapshot inside a Payload. Amounts are decimal
// strings with exactly domain.Scale places.
type OrderData struct {
	OrderID     string `json:"order_id"`
	CustomerID  string `json:"customer_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	Size        string `json:"size"`
	Price       string `json:"price"`
	TotalAmount string `json:"total_amount"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// NewPayload converts ev to its wire form.
func NewPayload(ev domain.OrderEvent) Payload {
	o := ev.Order
	total, err := o.TotalAmount()
	if err != nil {
		total = domain.ZeroMoney()
	}
	return Payload{
		Event:     ev.Type,
		Timestamp: ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		Data: OrderData{
			OrderID:     o.OrderID,
			CustomerID:  o.CustomerID,
			Symbol:      string(o.Symbol),
			Side:        string(o.Side),
			Size:        o.Size.Decimal().StringFixed(domain.Scale),
			Price:       o.Price.Decimal().StringFixed(domain.Scale),
			TotalAmount: total.Decimal().StringFixed(domain.Scale),
			Status:      string(o.Status),
			CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339Nano),
			UpdatedAt:   o.UpdatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// Encode marshals ev as JSON.
func Encode(ev domain.OrderEvent) ([]byte, error) {
	return json.Marshal(NewPayload(ev))
}
