package postgres

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// newTestStore connects to BROKERAGE_TEST_DATABASE_URL and skips the test
// when it is unset. Each test works on customers with a fresh id, so runs
// do not interfere with each other.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("BROKERAGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("BROKERAGE_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)

	s := New(pool, 2*time.Second, nil)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func newCustomer() string {
	return "test-" + uuid.NewString()
}

func TestStore_CreateSaveAndRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := domain.AssetKey{CustomerID: newCustomer(), Symbol: "TRY"}

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.LockAssets(ctx, store.AssetLock{Key: key, Create: true})
		if err != nil {
			return err
		}
		next, err := got[key].Credit(domain.MustQuantity("10000"))
		if err != nil {
			return err
		}
		next.UpdatedAt = time.Now().UTC()
		return tx.SaveAsset(ctx, next)
	})
	if err != nil {
		t.Fatal(err)
	}

	a, err := s.GetAsset(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if a.Total.String() != "10000.00" || a.Usable.String() != "10000.00" {
		t.Errorf("asset = %s/%s, want 10000.00/10000.00", a.Total, a.Usable)
	}

	list, err := s.ListAssets(ctx, key.CustomerID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("ListAssets returned %d entries, want 1", len(list))
	}
}

func TestStore_RollbackDiscardsCreatedEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := domain.AssetKey{CustomerID: newCustomer(), Symbol: "AAPL"}

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.LockAssets(ctx, store.AssetLock{Key: key, Create: true}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if _, err := s.GetAsset(ctx, key); !errors.Is(err, domain.ErrAssetNotFound) {
		t.Errorf("err = %v, want ErrAssetNotFound", err)
	}
}

func TestStore_CheckConstraintGuardsInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	customer := newCustomer()

	_, err := s.pool.Exec(ctx, `INSERT INTO assets (customer_id, symbol, total, usable) VALUES ($1, 'TRY', 1, 2)`, customer)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23514" {
		t.Fatalf("err = %v, want check_violation", err)
	}
}

func TestStore_OrdersRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	customer := newCustomer()
	t0 := time.Now().UTC().Truncate(time.Millisecond)

	insert := func(id string, at time.Time) {
		err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return tx.InsertOrder(ctx, &domain.Order{
				OrderID:    id,
				CustomerID: customer,
				Symbol:     "AAPL",
				Side:       domain.OrderSideBuy,
				Size:       domain.MustQuantity("10"),
				Price:      domain.MustMoney("150"),
				Status:     domain.OrderStatusPending,
				CreatedAt:  at,
				UpdatedAt:  at,
			})
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}
	first, second := uuid.NewString(), uuid.NewString()
	insert(first, t0)
	insert(second, t0.Add(time.Second))

	err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.LockOrder(ctx, first)
		if err != nil {
			return err
		}
		if err := o.Cancel(t0.Add(time.Minute)); err != nil {
			return err
		}
		return tx.UpdateOrder(ctx, o)
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetOrder(ctx, first)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusCanceled || got.Price.String() != "150.00" {
		t.Errorf("order = %s @ %s, want CANCELED @ 150.00", got.Status, got.Price)
	}

	list, err := s.ListOrders(ctx, store.OrderFilter{CustomerID: customer})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].OrderID != second {
		t.Errorf("ListOrders not newest first: %v", list)
	}

	pending := domain.OrderStatusPending
	list, err = s.ListOrders(ctx, store.OrderFilter{CustomerID: customer, Status: &pending})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].OrderID != second {
		t.Errorf("status filter: %v", list)
	}
}

func TestStore_ConcurrentCreditsSerialize(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := domain.AssetKey{CustomerID: newCustomer(), Symbol: "TRY"}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
				got, err := tx.LockAssets(ctx, store.AssetLock{Key: key, Create: true})
				if err != nil {
					return err
				}
				next, err := got[key].Credit(domain.MustQuantity("1"))
				if err != nil {
					return err
				}
				return tx.SaveAsset(ctx, next)
			})
			if err != nil {
				t.Errorf("credit: %v", err)
			}
		}()
	}
	wg.Wait()

	a, err := s.GetAsset(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if a.Total.String() != "20.00" {
		t.Errorf("total = %s, want 20.00", a.Total)
	}
}

func TestMapError(t *testing.T) {
	ctx := context.Background()
	for _, code := range []string{codeLockNotAvailable, codeDeadlockDetected, codeSerializationFailure} {
		err := mapError(ctx, &pgconn.PgError{Code: code, Message: "x"})
		if !errors.Is(err, domain.ErrLockTimeout) {
			t.Errorf("code %s: err = %v, want ErrLockTimeout", code, err)
		}
	}

	err := mapError(ctx, domain.ErrInsufficientBalance)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("domain error changed: %v", err)
	}
}
