package domain

import (
	"fmt"
	"time"
)

// OrderSide indicates whether an order buys or sells its symbol.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderStatus represents the lifecycle state of an order.
//
//	PENDING ──match──▶ MATCHED
//	   │
//	   └──cancel──▶ CANCELED
//
// MATCHED and CANCELED are terminal.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusMatched  OrderStatus = "MATCHED"
	OrderStatusCanceled OrderStatus = "CANCELED"
)

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusMatched, OrderStatusCanceled:
		return true
	}
	return false
}

// Terminal reports whether no transition can leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusMatched || s == OrderStatusCanceled
}

// Order is a customer's instruction to buy or sell Size units of Symbol at
// Price each. Orders carry no balance of their own; the amount they hold is
// reserved on the customer's ledger entry.
type Order struct {
	OrderID    string
	CustomerID string
	Symbol     Symbol
	Side       OrderSide
	Size       Quantity
	Price      Money
	Status     OrderStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TotalAmount returns Price × Size.
func (o *Order) TotalAmount() (Money, error) {
	return o.Price.MulQuantity(o.Size)
}

// Reservation returns the ledger entry an order encumbers and by how much:
// the base currency for TotalAmount on a buy, the order's own symbol for
// Size on a sell.
func (o *Order) Reservation(base Symbol) (AssetKey, Quantity, error) {
	if o.Side == OrderSideBuy {
		total, err := o.TotalAmount()
		if err != nil {
			return AssetKey{}, Quantity{}, err
		}
		return AssetKey{CustomerID: o.CustomerID, Symbol: base}, total.Quantity(), nil
	}
	return AssetKey{CustomerID: o.CustomerID, Symbol: o.Symbol}, o.Size, nil
}

// CanBeCanceled reports whether Cancel would succeed.
func (o *Order) CanBeCanceled() bool {
	return o.Status == OrderStatusPending
}

// Cancel transitions a pending order to CANCELED.
func (o *Order) Cancel(at time.Time) error {
	return o.transition(OrderStatusCanceled, at)
}

// Match transitions a pending order to MATCHED.
func (o *Order) Match(at time.Time) error {
	return o.transition(OrderStatusMatched, at)
}

func (o *Order) transition(to OrderStatus, at time.Time) error {
	if o.Status != OrderStatusPending {
		return fmt.Errorf("%w: order %s is %s, cannot move to %s", ErrInvalidState, o.OrderID, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	return nil
}
