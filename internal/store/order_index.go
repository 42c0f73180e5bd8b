package store

import (
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/google/btree"
)

const btreeDegree = 32

// orderRef is the index key of an order.
type orderRef struct {
	CustomerID string
	CreatedAt  time.Time
	OrderID    string
}

func refOf(o *domain.Order) orderRef {
	return orderRef{CustomerID: o.CustomerID, CreatedAt: o.CreatedAt, OrderID: o.OrderID}
}

// customerLess orders by customer_id, then created_at ascending, then
// order_id ascending.
func customerLess(a, b orderRef) bool {
	if a.CustomerID != b.CustomerID {
		return a.CustomerID < b.CustomerID
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// fifoLess orders by created_at ascending, then order_id ascending. Min()
// returns the oldest order.
func fifoLess(a, b orderRef) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// orderIndex keeps the secondary indexes the list queries walk. It is not
// safe for concurrent use; MemoryStore guards it with its own mutex.
type orderIndex struct {
	byCustomer *btree.BTreeG[orderRef]
	pending    *btree.BTreeG[orderRef]
}

func newOrderIndex() *orderIndex {
	return &orderIndex{
		byCustomer: btree.NewG[orderRef](btreeDegree, customerLess),
		pending:    btree.NewG[orderRef](btreeDegree, fifoLess),
	}
}

// put indexes o, replacing prev (the committed version, if any).
func (ix *orderIndex) put(prev, o *domain.Order) {
	if prev != nil {
		ix.byCustomer.Delete(refOf(prev))
		ix.pending.Delete(refOf(prev))
	}
	ref := refOf(o)
	ix.byCustomer.ReplaceOrInsert(ref)
	if o.Status == domain.OrderStatusPending {
		ix.pending.ReplaceOrInsert(ref)
	}
}

// customerRange calls fn for a customer's orders created within
// [from, to], oldest first, until fn returns false. Nil bounds are open.
func (ix *orderIndex) customerRange(customerID string, from, to *time.Time, fn func(orderRef) bool) {
	pivot := orderRef{CustomerID: customerID}
	if from != nil {
		pivot.CreatedAt = *from
	}
	ix.byCustomer.AscendGreaterOrEqual(pivot, func(ref orderRef) bool {
		if ref.CustomerID != customerID {
			return false
		}
		if to != nil && ref.CreatedAt.After(*to) {
			return false
		}
		return fn(ref)
	})
}

// pendingAscend calls fn for every pending order, oldest first.
func (ix *orderIndex) pendingAscend(fn func(orderRef) bool) {
	ix.pending.Ascend(fn)
}
