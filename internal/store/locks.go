package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/efreitasn/brokerage/internal/domain"
)

// lockTable hands out one exclusive lock per key. Slots are created on
// demand and dropped once nobody holds or waits for them, so the table
// only grows with contention, not with the number of entries.
type lockTable struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	sem  chan struct{}
	refs int // holders plus waiters
}

func newLockTable() *lockTable {
	return &lockTable{
		slots: make(map[string]*lockSlot),
	}
}

// lock blocks until key is free or ctx is done. A deadline surfaces as
// domain.ErrLockTimeout.
func (t *lockTable) lock(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return lockError(ctx, key)
	}

	t.mu.Lock()
	slot, ok := t.slots[key]
	if !ok {
		slot = &lockSlot{sem: make(chan struct{}, 1)}
		t.slots[key] = slot
	}
	slot.refs++
	t.mu.Unlock()

	select {
	case slot.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		t.drop(key, slot)
		t.mu.Unlock()
		return lockError(ctx, key)
	}
}

// unlock releases key. It must only be called by the holder.
func (t *lockTable) unlock(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot, ok := t.slots[key]
	if !ok {
		return
	}
	<-slot.sem
	t.drop(key, slot)
}

// drop must be called with t.mu held.
func (t *lockTable) drop(key string, slot *lockSlot) {
	slot.refs--
	if slot.refs == 0 {
		delete(t.slots, key)
	}
}

// size returns the number of live slots. Used by tests.
func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}

func lockError(ctx context.Context, key string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
	}
	return fmt.Errorf("lock %s: %w", key, ctx.Err())
}
