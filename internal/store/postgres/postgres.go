// Package postgres implements store.Store on PostgreSQL. Ledger entries and
// orders are locked with SELECT ... FOR UPDATE, so the same transaction
// discipline holds across several service instances sharing a database.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

// SQLSTATE codes that mean "could not get the lock in time".
const (
	codeLockNotAvailable     = "55P03"
	codeDeadlockDetected     = "40P01"
	codeSerializationFailure = "40001"
	codeUniqueViolation      = "23505"
)

// Store is a store.Store backed by a pgx connection pool.
type Store struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
	logger    *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// New wraps pool. txTimeout bounds each transaction, lock waits included.
func New(pool *pgxpool.Pool, txTimeout time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, txTimeout: txTimeout, logger: logger}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WithinTx implements store.Store.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapError(ctx, err)
	}
	committed := false
	defer func() {
		if !committed {
			// The request context may already be done; rollback still has to reach the server.
			if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", slog.String("error", err.Error()))
			}
		}
	}()

	if s.txTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.txTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return mapError(ctx, err)
		}
	}

	if err := fn(ctx, &pgTx{tx: tx, locked: make(map[domain.AssetKey]bool), orders: make(map[string]bool)}); err != nil {
		return mapError(ctx, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(ctx, err)
	}
	committed = true
	return nil
}

// GetAsset implements store.Store.
func (s *Store) GetAsset(ctx context.Context, key domain.AssetKey) (*domain.Asset, error) {
	row := s.pool.QueryRow(ctx, selectAsset+` WHERE customer_id = $1 AND symbol = $2`, key.CustomerID, string(key.Symbol))
	a, err := scanAsset(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset %s: %w", key, err)
	}
	return a, nil
}

// ListAssets implements store.Store.
func (s *Store) ListAssets(ctx context.Context, customerID string) ([]*domain.Asset, error) {
	rows, err := s.pool.Query(ctx, selectAsset+` WHERE customer_id = $1 ORDER BY symbol`, customerID)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	result := []*domain.Asset{}
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("list assets: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// GetOrder implements store.Store.
func (s *Store) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, selectOrder+` WHERE order_id = $1`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", orderID, err)
	}
	return o, nil
}

// ListOrders implements store.Store.
func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]*domain.Order, error) {
	where := []string{"customer_id = $1"}
	args := []any{f.CustomerID}
	if f.From != nil {
		args = append(args, *f.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	query := selectOrder + " WHERE " + strings.Join(where, " AND ") + " ORDER BY created_at DESC, order_id DESC"
	return s.queryOrders(ctx, query, args...)
}

// ListPendingOrders implements store.Store.
func (s *Store) ListPendingOrders(ctx context.Context) ([]*domain.Order, error) {
	return s.queryOrders(ctx, selectOrder+` WHERE status = 'PENDING' ORDER BY created_at, order_id`)
}

func (s *Store) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	result := []*domain.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("list orders: %w", err)
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// pgTx implements store.Tx on a pgx transaction. The row locks themselves
// live in Postgres; the maps only enforce that writes follow a lock.
type pgTx struct {
	tx        pgx.Tx
	locked    map[domain.AssetKey]bool
	lastAsset *domain.AssetKey
	orders    map[string]bool
}

// LockAssets implements store.Tx.
func (t *pgTx) LockAssets(ctx context.Context, reqs ...store.AssetLock) (map[domain.AssetKey]*domain.Asset, error) {
	create := make(map[domain.AssetKey]bool, len(reqs))
	keys := make([]domain.AssetKey, 0, len(reqs))
	for _, r := range reqs {
		if _, seen := create[r.Key]; !seen {
			keys = append(keys, r.Key)
		}
		create[r.Key] = create[r.Key] || r.Create
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	if len(keys) > 0 && t.lastAsset != nil && !t.lastAsset.Less(keys[0]) {
		return nil, fmt.Errorf("postgres: lock order violation: %s requested after %s", keys[0], *t.lastAsset)
	}

	result := make(map[domain.AssetKey]*domain.Asset, len(keys))
	for _, key := range keys {
		a, err := t.lockAsset(ctx, key, create[key])
		if err != nil {
			return nil, err
		}
		k := key
		t.lastAsset = &k
		t.locked[key] = true
		if a != nil {
			result[key] = a
		}
	}
	return result, nil
}

// lockAsset selects the row for update, creating it first when asked.
func (t *pgTx) lockAsset(ctx context.Context, key domain.AssetKey, create bool) (*domain.Asset, error) {
	a, err := t.selectAssetForUpdate(ctx, key)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lock asset %s: %w", key, err)
	}
	if !create {
		return nil, nil
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO assets (customer_id, symbol, total, usable)
		VALUES ($1, $2, 0, 0)
		ON CONFLICT (customer_id, symbol) DO NOTHING
	`, key.CustomerID, string(key.Symbol))
	if err != nil {
		return nil, fmt.Errorf("create asset %s: %w", key, err)
	}

	a, err = t.selectAssetForUpdate(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock asset %s: %w", key, err)
	}
	return a, nil
}

func (t *pgTx) selectAssetForUpdate(ctx context.Context, key domain.AssetKey) (*domain.Asset, error) {
	row := t.tx.QueryRow(ctx, selectAsset+` WHERE customer_id = $1 AND symbol = $2 FOR UPDATE`,
		key.CustomerID, string(key.Symbol))
	return scanAsset(row)
}

// SaveAsset implements store.Tx.
func (t *pgTx) SaveAsset(ctx context.Context, a *domain.Asset) error {
	if !t.locked[a.Key()] {
		return fmt.Errorf("postgres: ledger entry %s saved without lock", a.Key())
	}
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE assets
		SET total = $1, usable = $2, updated_at = $3
		WHERE customer_id = $4 AND symbol = $5
	`, a.Total.String(), a.Usable.String(), a.UpdatedAt, a.CustomerID, string(a.Symbol))
	if err != nil {
		return fmt.Errorf("save asset %s: %w", a.Key(), err)
	}
	return nil
}

// InsertAsset implements store.Tx. A concurrent insert of the same key
// blocks on the unique index until the other transaction ends.
func (t *pgTx) InsertAsset(ctx context.Context, a *domain.Asset) error {
	if !t.locked[a.Key()] {
		return fmt.Errorf("postgres: ledger entry %s inserted without lock", a.Key())
	}
	if err := a.Validate(); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO assets (customer_id, symbol, total, usable, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.CustomerID, string(a.Symbol), a.Total.String(), a.Usable.String(), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ledger entry %s", store.ErrDuplicate, a.Key())
		}
		return fmt.Errorf("insert asset %s: %w", a.Key(), err)
	}
	return nil
}

// LockOrder implements store.Tx.
func (t *pgTx) LockOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	if t.lastAsset != nil {
		return nil, fmt.Errorf("postgres: lock order violation: order %s locked after ledger entries", orderID)
	}
	row := t.tx.QueryRow(ctx, selectOrder+` WHERE order_id = $1 FOR UPDATE`, orderID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("lock order %s: %w", orderID, err)
	}
	t.orders[orderID] = true
	return o, nil
}

// InsertOrder implements store.Tx.
func (t *pgTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (order_id, customer_id, symbol, side, size, price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, o.OrderID, o.CustomerID, string(o.Symbol), string(o.Side), o.Size.String(), o.Price.String(),
		string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order %s", store.ErrDuplicate, o.OrderID)
		}
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	t.orders[o.OrderID] = true
	return nil
}

// UpdateOrder implements store.Tx.
func (t *pgTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	if !t.orders[o.OrderID] {
		return fmt.Errorf("postgres: order %s updated without lock", o.OrderID)
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $1, updated_at = $2 WHERE order_id = $3
	`, string(o.Status), o.UpdatedAt, o.OrderID)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.OrderID, err)
	}
	return nil
}

const selectAsset = `
	SELECT customer_id, symbol, total::text, usable::text, created_at, updated_at
	FROM assets`

const selectOrder = `
	SELECT order_id, customer_id, symbol, side, size::text, price::text, status, created_at, updated_at
	FROM orders`

func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var a domain.Asset
	var symbol, total, usable string
	if err := row.Scan(&a.CustomerID, &symbol, &total, &usable, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	a.Symbol = domain.Symbol(symbol)
	if a.Total, err = domain.ParseQuantity(total); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if a.Usable, err = domain.ParseQuantity(usable); err != nil {
		return nil, fmt.Errorf("parse usable: %w", err)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	var symbol, side, size, price, status string
	if err := row.Scan(&o.OrderID, &o.CustomerID, &symbol, &side, &size, &price, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	o.Symbol = domain.Symbol(symbol)
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	if o.Size, err = domain.ParseQuantity(size); err != nil {
		return nil, fmt.Errorf("parse size: %w", err)
	}
	if o.Price, err = domain.ParseMoney(price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

// mapError turns lock waits that ran out of time into domain.ErrLockTimeout.
// Domain errors pass through untouched.
func mapError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure:
			return fmt.Errorf("%w: %s", domain.ErrLockTimeout, pgErr.Message)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrLockTimeout, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == codeUniqueViolation
	}
	return false
}
