// Package store defines the transactional repository the ledger services
// run against, with an in-memory implementation. A Postgres implementation
// lives in store/postgres.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
)

// ErrDuplicate is returned when an insert collides with an existing row.
var ErrDuplicate = errors.New("store: duplicate key")

// AssetLock asks a transaction for exclusive access to one ledger entry.
// When Create is set a missing entry is created with zero balances (and
// the creation rolls back with the transaction); otherwise a missing entry
// is simply absent from the result.
type AssetLock struct {
	Key    domain.AssetKey
	Create bool
}

// OrderFilter selects a customer's orders. From and To bound CreatedAt
// inclusively; Status, when set, keeps only orders in that state.
type OrderFilter struct {
	CustomerID string
	From       *time.Time
	To         *time.Time
	Status     *domain.OrderStatus
}

// Store is the narrow repository over ledger entries and orders.
//
// Reads outside WithinTx see only committed state and take no locks.
type Store interface {
	// WithinTx runs fn in a transaction. The transaction commits when fn
	// returns nil and rolls back otherwise; either way every lock it took is
	// released before WithinTx returns.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// GetAsset returns domain.ErrAssetNotFound when no entry exists.
	GetAsset(ctx context.Context, key domain.AssetKey) (*domain.Asset, error)
	// ListAssets returns a customer's entries ordered by symbol.
	ListAssets(ctx context.Context, customerID string) ([]*domain.Asset, error)

	// GetOrder returns domain.ErrOrderNotFound when no order exists.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	// ListOrders returns matching orders, newest first.
	ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, error)
	// ListPendingOrders returns every PENDING order, oldest first.
	ListPendingOrders(ctx context.Context) ([]*domain.Order, error)
}

// Tx is a unit of work holding exclusive locks.
//
// Lock discipline: lock the order (if any) first, then all ledger entries
// the operation touches in a single LockAssets call. Implementations sort
// the requested keys, so concurrent transactions always acquire entries in
// the same order.
type Tx interface {
	LockAssets(ctx context.Context, reqs ...AssetLock) (map[domain.AssetKey]*domain.Asset, error)
	// SaveAsset writes an entry previously returned by LockAssets.
	SaveAsset(ctx context.Context, a *domain.Asset) error
	// InsertAsset creates an entry whose key this transaction locked and
	// found missing. It returns ErrDuplicate if the entry exists.
	InsertAsset(ctx context.Context, a *domain.Asset) error

	// LockOrder loads an order for update, or returns domain.ErrOrderNotFound.
	LockOrder(ctx context.Context, orderID string) (*domain.Order, error)
	InsertOrder(ctx context.Context, o *domain.Order) error
	// UpdateOrder writes an order previously returned by LockOrder.
	UpdateOrder(ctx context.Context, o *domain.Order) error
}
