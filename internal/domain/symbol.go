package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultBaseCurrency is the currency cash balances are held in unless
// configured otherwise.
const DefaultBaseCurrency Symbol = "TRY"

var symbolRegex = regexp.MustCompile(`^[A-Z]{2,10}$`)

// Symbol identifies an asset. The base currency is itself a symbol.
type Symbol string

// ParseSymbol trims and upper-cases s and checks it is 2–10 letters.
func ParseSymbol(s string) (Symbol, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if norm == "" {
		return "", &ValidationError{Message: "symbol is required"}
	}
	if !symbolRegex.MatchString(norm) {
		return "", &ValidationError{Message: fmt.Sprintf("symbol must be 2-10 letters, got %q", s)}
	}
	return Symbol(norm), nil
}

func (s Symbol) String() string { return string(s) }

// AssetKey is the identity of a ledger entry.
type AssetKey struct {
	CustomerID string
	Symbol     Symbol
}

func (k AssetKey) String() string {
	return k.CustomerID + "/" + string(k.Symbol)
}

// Less orders keys by customer, then symbol. Every transaction that locks
// more than one ledger entry acquires them in this order.
func (k AssetKey) Less(o AssetKey) bool {
	if k.CustomerID != o.CustomerID {
		return k.CustomerID < o.CustomerID
	}
	return k.Symbol < o.Symbol
}
