package domain

import (
	"fmt"
	"time"
)

// Asset is a ledger entry: one customer's balance in one symbol.
//
// Total is everything the customer owns; Usable is the part not encumbered
// by pending orders. 0 <= Usable <= Total holds after every operation.
// The balance-changing methods never modify the receiver; they return the
// updated entry, so a failed step leaves the original untouched.
type Asset struct {
	CustomerID string
	Symbol     Symbol
	Total      Quantity
	Usable     Quantity
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewAsset returns an empty ledger entry for key.
func NewAsset(key AssetKey) *Asset {
	return &Asset{
		CustomerID: key.CustomerID,
		Symbol:     key.Symbol,
		Total:      ZeroQuantity(),
		Usable:     ZeroQuantity(),
	}
}

// Key returns the entry's identity.
func (a *Asset) Key() AssetKey {
	return AssetKey{CustomerID: a.CustomerID, Symbol: a.Symbol}
}

// Reserved returns Total - Usable, the amount held by pending orders.
func (a *Asset) Reserved() Quantity {
	r, err := a.Total.Sub(a.Usable)
	if err != nil {
		return ZeroQuantity()
	}
	return r
}

// Validate checks the entry invariant.
func (a *Asset) Validate() error {
	if a.Total.IsNull() || a.Usable.IsNull() {
		return fmt.Errorf("%w: ledger entry %s has null balance", ErrInvalidArgument, a.Key())
	}
	if a.Usable.GreaterThan(a.Total) {
		return fmt.Errorf("ledger entry %s: usable %s exceeds total %s", a.Key(), a.Usable, a.Total)
	}
	return nil
}

func checkAmount(op string, amount Quantity) error {
	if amount.IsNull() {
		return fmt.Errorf("%w: %s amount is required", ErrInvalidArgument, op)
	}
	return nil
}

// Reserve moves amount out of Usable. It fails with ErrInsufficientBalance
// when amount exceeds Usable.
func (a *Asset) Reserve(amount Quantity) (*Asset, error) {
	if err := checkAmount("reserve", amount); err != nil {
		return nil, err
	}
	if amount.GreaterThan(a.Usable) {
		return nil, fmt.Errorf("%w: %s needs %s, usable %s", ErrInsufficientBalance, a.Key(), amount, a.Usable)
	}
	usable, err := a.Usable.Sub(amount)
	if err != nil {
		return nil, err
	}
	next := *a
	next.Usable = usable
	return &next, nil
}

// Release returns a previously reserved amount to Usable. Callers must not
// release more than they reserved; that is not checked here.
func (a *Asset) Release(amount Quantity) (*Asset, error) {
	if err := checkAmount("release", amount); err != nil {
		return nil, err
	}
	usable, err := a.Usable.Add(amount)
	if err != nil {
		return nil, err
	}
	next := *a
	next.Usable = usable
	return &next, nil
}

// Credit adds amount to both Total and Usable.
func (a *Asset) Credit(amount Quantity) (*Asset, error) {
	if err := checkAmount("credit", amount); err != nil {
		return nil, err
	}
	total, err := a.Total.Add(amount)
	if err != nil {
		return nil, err
	}
	usable, err := a.Usable.Add(amount)
	if err != nil {
		return nil, err
	}
	next := *a
	next.Total = total
	next.Usable = usable
	return &next, nil
}

// Debit removes a reserved amount from Total; Usable was already reduced
// when the amount was reserved. It fails with ErrInsufficientTotal when
// amount exceeds Total, or when the result would leave Usable above Total.
func (a *Asset) Debit(amount Quantity) (*Asset, error) {
	if err := checkAmount("debit", amount); err != nil {
		return nil, err
	}
	if amount.GreaterThan(a.Total) {
		return nil, fmt.Errorf("%w: %s debit %s exceeds total %s", ErrInsufficientTotal, a.Key(), amount, a.Total)
	}
	total, err := a.Total.Sub(amount)
	if err != nil {
		return nil, err
	}
	if a.Usable.GreaterThan(total) {
		return nil, fmt.Errorf("%w: %s debit %s exceeds reserved %s", ErrInsufficientTotal, a.Key(), amount, a.Reserved())
	}
	next := *a
	next.Total = total
	return &next, nil
}
