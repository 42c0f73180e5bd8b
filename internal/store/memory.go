package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/google/btree"
)

// errLockOrder reports a transaction that tried to take locks out of the
// documented order. It is a programming error, never a client error.
var errLockOrder = errors.New("store: lock order violation")

func assetLess(a, b domain.Asset) bool {
	return a.Key().Less(b.Key())
}

// MemoryStore is an in-memory Store. Committed state is guarded by mu;
// transactions serialize on per-key locks from a lockTable and stage their
// writes on copies that are published only on commit.
type MemoryStore struct {
	mu     sync.RWMutex
	assets *btree.BTreeG[domain.Asset]
	orders map[string]domain.Order
	index  *orderIndex

	locks     *lockTable
	txTimeout time.Duration
	now       func() time.Time
}

// NewMemoryStore creates an empty store. txTimeout bounds how long a
// transaction may wait for locks; zero means only the caller's context
// bounds it.
func NewMemoryStore(txTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		assets:    btree.NewG[domain.Asset](btreeDegree, assetLess),
		orders:    make(map[string]domain.Order),
		index:     newOrderIndex(),
		locks:     newLockTable(),
		txTimeout: txTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithinTx implements Store.
func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx := &memTx{
		s:            s,
		assets:       make(map[domain.AssetKey]domain.Asset),
		lockedAssets: make(map[domain.AssetKey]bool),
		orders:       make(map[string]domain.Order),
		lockedOrders: make(map[string]bool),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return lockError(ctx, "commit")
	}
	tx.commit()
	return nil
}

// GetAsset implements Store.
func (s *MemoryStore) GetAsset(ctx context.Context, key domain.AssetKey) (*domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, ok := s.committedAsset(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, key)
	}
	return &a, nil
}

// ListAssets implements Store.
func (s *MemoryStore) ListAssets(ctx context.Context, customerID string) ([]*domain.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Asset{}
	s.assets.AscendGreaterOrEqual(domain.Asset{CustomerID: customerID}, func(a domain.Asset) bool {
		if a.CustomerID != customerID {
			return false
		}
		result = append(result, &a)
		return true
	})
	return result, nil
}

// GetOrder implements Store.
func (s *MemoryStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return &o, nil
}

// ListOrders implements Store.
func (s *MemoryStore) ListOrders(ctx context.Context, f OrderFilter) ([]*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Order{}
	s.index.customerRange(f.CustomerID, f.From, f.To, func(ref orderRef) bool {
		o := s.orders[ref.OrderID]
		if f.Status != nil && o.Status != *f.Status {
			return true
		}
		result = append(result, &o)
		return true
	})

	// Newest first.
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

// ListPendingOrders implements Store.
func (s *MemoryStore) ListPendingOrders(ctx context.Context) ([]*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Order{}
	s.index.pendingAscend(func(ref orderRef) bool {
		o := s.orders[ref.OrderID]
		result = append(result, &o)
		return true
	})
	return result, nil
}

func (s *MemoryStore) committedAsset(key domain.AssetKey) (domain.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assets.Get(domain.Asset{CustomerID: key.CustomerID, Symbol: key.Symbol})
}

func (s *MemoryStore) committedOrder(id string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// memTx stages writes until commit. It is used by a single goroutine.
type memTx struct {
	s *MemoryStore

	assets       map[domain.AssetKey]domain.Asset // staged writes and creations
	lockedAssets map[domain.AssetKey]bool
	lastAsset    *domain.AssetKey

	orders       map[string]domain.Order // staged writes
	lockedOrders map[string]bool
	inserted     map[string]bool

	held []string // lock table keys, in acquisition order
}

func assetLockKey(k domain.AssetKey) string { return "asset:" + k.String() }
func orderLockKey(id string) string         { return "order:" + id }

func (tx *memTx) acquire(ctx context.Context, key string) error {
	if err := tx.s.locks.lock(ctx, key); err != nil {
		return err
	}
	tx.held = append(tx.held, key)
	return nil
}

// LockAssets implements Tx.
func (tx *memTx) LockAssets(ctx context.Context, reqs ...AssetLock) (map[domain.AssetKey]*domain.Asset, error) {
	create := make(map[domain.AssetKey]bool, len(reqs))
	keys := make([]domain.AssetKey, 0, len(reqs))
	for _, r := range reqs {
		if _, seen := create[r.Key]; !seen {
			keys = append(keys, r.Key)
		}
		create[r.Key] = create[r.Key] || r.Create
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	if len(keys) > 0 && tx.lastAsset != nil && !tx.lastAsset.Less(keys[0]) {
		return nil, fmt.Errorf("%w: %s requested after %s", errLockOrder, keys[0], *tx.lastAsset)
	}

	result := make(map[domain.AssetKey]*domain.Asset, len(keys))
	for _, key := range keys {
		if err := tx.acquire(ctx, assetLockKey(key)); err != nil {
			return nil, err
		}
		k := key
		tx.lastAsset = &k
		tx.lockedAssets[key] = true

		a, ok := tx.s.committedAsset(key)
		if !ok {
			if !create[key] {
				continue
			}
			now := tx.s.now()
			a = *domain.NewAsset(key)
			a.CreatedAt = now
			a.UpdatedAt = now
			tx.assets[key] = a
		}
		result[key] = &a
	}
	return result, nil
}

// SaveAsset implements Tx.
func (tx *memTx) SaveAsset(_ context.Context, a *domain.Asset) error {
	key := a.Key()
	if !tx.lockedAssets[key] {
		return fmt.Errorf("store: ledger entry %s saved without lock", key)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	tx.assets[key] = *a
	return nil
}

// InsertAsset implements Tx.
func (tx *memTx) InsertAsset(_ context.Context, a *domain.Asset) error {
	key := a.Key()
	if !tx.lockedAssets[key] {
		return fmt.Errorf("store: ledger entry %s inserted without lock", key)
	}
	if _, ok := tx.assets[key]; ok {
		return fmt.Errorf("%w: ledger entry %s", ErrDuplicate, key)
	}
	if _, ok := tx.s.committedAsset(key); ok {
		return fmt.Errorf("%w: ledger entry %s", ErrDuplicate, key)
	}
	if err := a.Validate(); err != nil {
		return err
	}
	tx.assets[key] = *a
	return nil
}

// LockOrder implements Tx.
func (tx *memTx) LockOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if tx.lastAsset != nil {
		return nil, fmt.Errorf("%w: order %s locked after ledger entries", errLockOrder, orderID)
	}
	if o, ok := tx.orders[orderID]; ok {
		return &o, nil
	}
	if !tx.lockedOrders[orderID] {
		if err := tx.acquire(ctx, orderLockKey(orderID)); err != nil {
			return nil, err
		}
		tx.lockedOrders[orderID] = true
	}

	o, ok := tx.s.committedOrder(orderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return &o, nil
}

// InsertOrder implements Tx.
func (tx *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if _, ok := tx.orders[o.OrderID]; ok {
		return fmt.Errorf("%w: order %s", ErrDuplicate, o.OrderID)
	}
	if _, ok := tx.s.committedOrder(o.OrderID); ok {
		return fmt.Errorf("%w: order %s", ErrDuplicate, o.OrderID)
	}
	if tx.inserted == nil {
		tx.inserted = make(map[string]bool)
	}
	tx.inserted[o.OrderID] = true
	tx.orders[o.OrderID] = *o
	return nil
}

// UpdateOrder implements Tx.
func (tx *memTx) UpdateOrder(_ context.Context, o *domain.Order) error {
	if !tx.lockedOrders[o.OrderID] && !tx.inserted[o.OrderID] {
		return fmt.Errorf("store: order %s updated without lock", o.OrderID)
	}
	tx.orders[o.OrderID] = *o
	return nil
}

func (tx *memTx) commit() {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range tx.assets {
		s.assets.ReplaceOrInsert(a)
	}
	for id, o := range tx.orders {
		var prev *domain.Order
		if old, ok := s.orders[id]; ok {
			prev = &old
		}
		next := o
		s.orders[id] = next
		s.index.put(prev, &next)
	}
}

// release unlocks in reverse acquisition order.
func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.s.locks.unlock(tx.held[i])
	}
	tx.held = nil
}

// Ping always succeeds; it lets MemoryStore stand in where readiness is checked.
func (s *MemoryStore) Ping(context.Context) error { return nil }
