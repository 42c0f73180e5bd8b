package domain

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places every Money and Quantity carries.
const Scale = 2

// Quantity is a non-negative amount of an asset (shares, or units of the
// base currency) rounded half-up to two decimal places. The zero value is
// the null quantity: every operation on it fails with ErrInvalidArgument.
type Quantity struct {
	v   decimal.Decimal
	set bool
}

// Money is a non-negative unit price or cash amount rounded half-up to two
// decimal places. As with Quantity, the zero value is null.
type Money struct {
	v   decimal.Decimal
	set bool
}

// MaxIntegerDigits bounds the digits left of the decimal point, matching the
// NUMERIC(20, 2) columns of the Postgres store.
const MaxIntegerDigits = 18

// maxValue is the largest representable amount, 999999999999999999.99.
var maxValue = decimal.New(1, MaxIntegerDigits).Sub(decimal.New(1, -Scale))

// normalize rejects negative and oversized values and applies the fixed
// scale. The sign is checked before rounding so that -0.001 is rejected
// rather than silently becoming 0.00. The magnitude is checked from the
// coefficient length and exponent so that inputs like 1e20000000 are
// rejected without expanding them.
func normalize(d decimal.Decimal, what string) (decimal.Decimal, error) {
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s cannot be negative: %s", ErrInvalidArgument, what, d.String())
	}
	if d.IsZero() {
		return decimal.New(0, -Scale), nil
	}

	// d < 10^digits, where digits counts the places left of the point.
	digits := d.NumDigits() + int(d.Exponent())
	if digits > MaxIntegerDigits {
		return decimal.Decimal{}, tooLarge(what)
	}
	if digits < -Scale {
		// Below 0.001, which rounds to 0.00.
		return decimal.New(0, -Scale), nil
	}

	// Round is half away from zero, which is half-up for non-negative values.
	r := d.Round(Scale)
	if r.GreaterThan(maxValue) {
		return decimal.Decimal{}, tooLarge(what)
	}
	return r, nil
}

func tooLarge(what string) error {
	return fmt.Errorf("%w: %s exceeds %d integer digits", ErrInvalidArgument, what, MaxIntegerDigits)
}

func parseDecimal(s, what string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %s must be a decimal number: %q", ErrInvalidArgument, what, s)
	}
	return d, nil
}

func nullOperand(op, what string) error {
	return fmt.Errorf("%w: cannot %s null %s", ErrInvalidArgument, op, what)
}

// NewQuantity validates d and returns it as a Quantity.
func NewQuantity(d decimal.Decimal) (Quantity, error) {
	v, err := normalize(d, "quantity")
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{v: v, set: true}, nil
}

// ParseQuantity parses a decimal string such as "10" or "0.25".
func ParseQuantity(s string) (Quantity, error) {
	d, err := parseDecimal(s, "quantity")
	if err != nil {
		return Quantity{}, err
	}
	return NewQuantity(d)
}

// MustQuantity is like ParseQuantity but panics on error. Intended for
// constants and tests.
func MustQuantity(s string) Quantity {
	q, err := ParseQuantity(s)
	if err != nil {
		panic(err)
	}
	return q
}

// ZeroQuantity returns a non-null quantity of 0.00.
func ZeroQuantity() Quantity {
	return Quantity{v: decimal.Zero.Round(Scale), set: true}
}

// Decimal returns the underlying value.
func (q Quantity) Decimal() decimal.Decimal { return q.v }

// IsNull reports whether q is the zero value.
func (q Quantity) IsNull() bool { return !q.set }

// IsZero reports whether q equals 0.00.
func (q Quantity) IsZero() bool { return q.set && q.v.IsZero() }

// IsPositive reports whether q is strictly greater than 0.00.
func (q Quantity) IsPositive() bool { return q.set && q.v.IsPositive() }

// Add returns q + o.
func (q Quantity) Add(o Quantity) (Quantity, error) {
	if !q.set || !o.set {
		return Quantity{}, nullOperand("add", "quantity")
	}
	return NewQuantity(q.v.Add(o.v))
}

// Sub returns q - o. It fails when o exceeds q.
func (q Quantity) Sub(o Quantity) (Quantity, error) {
	if !q.set || !o.set {
		return Quantity{}, nullOperand("subtract", "quantity")
	}
	if q.v.LessThan(o.v) {
		return Quantity{}, fmt.Errorf("%w: cannot subtract %s from %s", ErrInvalidArgument, o, q)
	}
	return NewQuantity(q.v.Sub(o.v))
}

// Mul returns q × factor. factor must be non-negative.
func (q Quantity) Mul(factor decimal.Decimal) (Quantity, error) {
	if !q.set {
		return Quantity{}, nullOperand("multiply", "quantity")
	}
	if factor.IsNegative() {
		return Quantity{}, fmt.Errorf("%w: multiplication factor cannot be negative", ErrInvalidArgument)
	}
	return NewQuantity(q.v.Mul(factor))
}

// Div returns q ÷ divisor rounded half-up. divisor must be positive.
func (q Quantity) Div(divisor decimal.Decimal) (Quantity, error) {
	if !q.set {
		return Quantity{}, nullOperand("divide", "quantity")
	}
	if !divisor.IsPositive() {
		return Quantity{}, fmt.Errorf("%w: divisor must be positive", ErrInvalidArgument)
	}
	return NewQuantity(q.v.DivRound(divisor, Scale))
}

// Cmp compares q and o, returning -1, 0 or +1. Null sorts before any value.
func (q Quantity) Cmp(o Quantity) int {
	switch {
	case !q.set && !o.set:
		return 0
	case !q.set:
		return -1
	case !o.set:
		return 1
	}
	return q.v.Cmp(o.v)
}

// Equal reports whether q and o hold the same value.
func (q Quantity) Equal(o Quantity) bool { return q.Cmp(o) == 0 }

// GreaterThan reports whether q > o.
func (q Quantity) GreaterThan(o Quantity) bool { return q.Cmp(o) > 0 }

// LessThan reports whether q < o.
func (q Quantity) LessThan(o Quantity) bool { return q.Cmp(o) < 0 }

// String formats q with exactly two decimal places, or "null".
func (q Quantity) String() string {
	if !q.set {
		return "null"
	}
	return q.v.StringFixed(Scale)
}

// MarshalJSON encodes q as a JSON number with two decimal places.
func (q Quantity) MarshalJSON() ([]byte, error) {
	if !q.set {
		return []byte("null"), nil
	}
	return []byte(q.v.StringFixed(Scale)), nil
}

// UnmarshalJSON accepts a JSON number, a quoted decimal string, or null.
func (q *Quantity) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*q = Quantity{}
		return nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("%w: quantity: %v", ErrInvalidArgument, err)
	}
	v, err := NewQuantity(d)
	if err != nil {
		return err
	}
	*q = v
	return nil
}

// NewMoney validates d and returns it as Money.
func NewMoney(d decimal.Decimal) (Money, error) {
	v, err := normalize(d, "money")
	if err != nil {
		return Money{}, err
	}
	return Money{v: v, set: true}, nil
}

// ParseMoney parses a decimal string such as "150.00".
func ParseMoney(s string) (Money, error) {
	d, err := parseDecimal(s, "money")
	if err != nil {
		return Money{}, err
	}
	return NewMoney(d)
}

// MustMoney is like ParseMoney but panics on error.
func MustMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

// ZeroMoney returns a non-null amount of 0.00.
func ZeroMoney() Money {
	return Money{v: decimal.Zero.Round(Scale), set: true}
}

// Decimal returns the underlying value.
func (m Money) Decimal() decimal.Decimal { return m.v }

// IsNull reports whether m is the zero value.
func (m Money) IsNull() bool { return !m.set }

// IsZero reports whether m equals 0.00.
func (m Money) IsZero() bool { return m.set && m.v.IsZero() }

// IsPositive reports whether m is strictly greater than 0.00.
func (m Money) IsPositive() bool { return m.set && m.v.IsPositive() }

// Add returns m + o.
func (m Money) Add(o Money) (Money, error) {
	if !m.set || !o.set {
		return Money{}, nullOperand("add", "money")
	}
	return NewMoney(m.v.Add(o.v))
}

// Sub returns m - o. It fails when o exceeds m.
func (m Money) Sub(o Money) (Money, error) {
	if !m.set || !o.set {
		return Money{}, nullOperand("subtract", "money")
	}
	if m.v.LessThan(o.v) {
		return Money{}, fmt.Errorf("%w: cannot subtract %s from %s", ErrInvalidArgument, o, m)
	}
	return NewMoney(m.v.Sub(o.v))
}

// Mul returns m × factor. factor must be non-negative.
func (m Money) Mul(factor decimal.Decimal) (Money, error) {
	if !m.set {
		return Money{}, nullOperand("multiply", "money")
	}
	if factor.IsNegative() {
		return Money{}, fmt.Errorf("%w: multiplication factor cannot be negative", ErrInvalidArgument)
	}
	return NewMoney(m.v.Mul(factor))
}

// MulQuantity returns m × q, e.g. unit price times order size.
func (m Money) MulQuantity(q Quantity) (Money, error) {
	if q.IsNull() {
		return Money{}, nullOperand("multiply by", "quantity")
	}
	return m.Mul(q.v)
}

// Div returns m ÷ divisor rounded half-up. divisor must be positive.
func (m Money) Div(divisor decimal.Decimal) (Money, error) {
	if !m.set {
		return Money{}, nullOperand("divide", "money")
	}
	if !divisor.IsPositive() {
		return Money{}, fmt.Errorf("%w: divisor must be positive", ErrInvalidArgument)
	}
	return NewMoney(m.v.DivRound(divisor, Scale))
}

// Quantity returns m as a quantity of the base currency, which is how cash
// is held on the ledger.
func (m Money) Quantity() Quantity {
	if !m.set {
		return Quantity{}
	}
	return Quantity{v: m.v, set: true}
}

// Cmp compares m and o, returning -1, 0 or +1. Null sorts before any value.
func (m Money) Cmp(o Money) int {
	return m.Quantity().Cmp(o.Quantity())
}

// Equal reports whether m and o hold the same value.
func (m Money) Equal(o Money) bool { return m.Cmp(o) == 0 }

// String formats m with exactly two decimal places, or "null".
func (m Money) String() string { return m.Quantity().String() }

// MarshalJSON encodes m as a JSON number with two decimal places.
func (m Money) MarshalJSON() ([]byte, error) { return m.Quantity().MarshalJSON() }

// UnmarshalJSON accepts a JSON number, a quoted decimal string, or null.
func (m *Money) UnmarshalJSON(b []byte) error {
	var q Quantity
	if err := q.UnmarshalJSON(b); err != nil {
		return err
	}
	*m = Money(q)
	return nil
}
