package domain

import "time"

// Order event types delivered to subscribers.
const (
	EventOrderCreated  = "order.created"
	EventOrderCanceled = "order.canceled"
	EventOrderMatched  = "order.matched"
)

// Webhook represents a customer's subscription to an order event.
type Webhook struct {
	WebhookID  string
	CustomerID string
	Event      string
	URL        string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// OrderEvent describes a committed order transition. Order is a snapshot
// taken after the transaction committed.
type OrderEvent struct {
	Type       string
	Order      Order
	OccurredAt time.Time
}
