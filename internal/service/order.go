package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/metrics"
	"github.com/efreitasn/brokerage/internal/store"
	"github.com/google/uuid"
)

var customerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func validateCustomerID(id string) error {
	if !customerIDRegex.MatchString(id) {
		return &domain.ValidationError{Message: "customer_id must match ^[a-zA-Z0-9_-]{1,64}$"}
	}
	return nil
}

// CreateOrderRequest represents the input for order creation.
type CreateOrderRequest struct {
	CustomerID string
	Symbol     string
	Side       domain.OrderSide
	Size       domain.Quantity
	Price      domain.Money
}

// ListOrdersRequest selects a customer's orders. From and To bound the
// creation time inclusively; nil means unbounded.
type ListOrdersRequest struct {
	CustomerID string
	From       *time.Time
	To         *time.Time
	Status     *domain.OrderStatus
}

// OrderService runs the order lifecycle. Every transition and the ledger
// changes it implies commit together or not at all.
type OrderService struct {
	store   store.Store
	ledger  *ReservationService
	events  EventPublisher
	base    domain.Symbol
	logger  *slog.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	newID func() string
}

// NewOrderService creates an OrderService. events and m may be nil.
func NewOrderService(
	st store.Store,
	ledger *ReservationService,
	events EventPublisher,
	base domain.Symbol,
	logger *slog.Logger,
	m *metrics.Metrics,
) *OrderService {
	if logger == nil {
		logger = slog.Default()
	}
	if events == nil {
		events = SyncPublisher{}
	}
	return &OrderService{
		store:   st,
		ledger:  ledger,
		events:  events,
		base:    base,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// BaseCurrency returns the symbol cash is held in.
func (s *OrderService) BaseCurrency() domain.Symbol {
	return s.base
}

// Create validates req, reserves the order's amount on the customer's
// ledger and stores the order as PENDING.
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (*domain.Order, error) {
	start := time.Now()
	order, err := s.newOrder(req)
	if err != nil {
		s.observe("create", err, start)
		return nil, err
	}

	key, amount, err := order.Reservation(s.base)
	if err != nil {
		s.observe("create", err, start)
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.LockAssets(ctx, store.AssetLock{Key: key})
		if err != nil {
			return err
		}
		entry, ok := got[key]
		if !ok {
			return fmt.Errorf("%w: no %s balance, %s required", domain.ErrInsufficientBalance, key, amount)
		}
		next, err := s.ledger.Reserve(entry, amount)
		if err != nil {
			return err
		}
		if err := tx.SaveAsset(ctx, next); err != nil {
			return err
		}
		return tx.InsertOrder(ctx, order)
	})
	s.observe("create", err, start)
	if err != nil {
		logFailure(ctx, s.logger, "order rejected", err,
			slog.String("customer_id", req.CustomerID),
			slog.String("symbol", req.Symbol),
			slog.String("side", string(req.Side)),
		)
		return nil, err
	}

	s.logger.Info("order created",
		slog.String("order_id", order.OrderID),
		slog.String("customer_id", order.CustomerID),
		slog.String("symbol", string(order.Symbol)),
		slog.String("side", string(order.Side)),
		slog.String("size", order.Size.String()),
		slog.String("price", order.Price.String()),
		slog.String("reserved", amount.String()),
	)
	s.publish(domain.EventOrderCreated, order)
	return order, nil
}

func (s *OrderService) newOrder(req CreateOrderRequest) (*domain.Order, error) {
	if err := validateCustomerID(req.CustomerID); err != nil {
		return nil, err
	}
	symbol, err := domain.ParseSymbol(req.Symbol)
	if err != nil {
		return nil, err
	}
	if symbol == s.base {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("%s is the base currency and cannot be traded", symbol),
		}
	}
	if !req.Side.Valid() {
		return nil, &domain.ValidationError{Message: "side must be 'BUY' or 'SELL'"}
	}
	if !req.Size.IsPositive() {
		return nil, &domain.ValidationError{Message: "size must be greater than 0"}
	}
	if !req.Price.IsPositive() {
		return nil, &domain.ValidationError{Message: "price must be greater than 0"}
	}

	now := s.now()
	order := &domain.Order{
		OrderID:    s.newID(),
		CustomerID: req.CustomerID,
		Symbol:     symbol,
		Side:       req.Side,
		Size:       req.Size,
		Price:      req.Price,
		Status:     domain.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	total, err := order.TotalAmount()
	if err != nil {
		return nil, err
	}
	if !total.IsPositive() {
		return nil, &domain.ValidationError{Message: "order total must be at least 0.01"}
	}
	return order, nil
}

// Cancel releases a pending order's reservation and marks it CANCELED.
// Only the owning customer may cancel.
func (s *OrderService) Cancel(ctx context.Context, orderID, customerID string) (*domain.Order, error) {
	start := time.Now()
	var canceled *domain.Order

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.CustomerID != customerID {
			return fmt.Errorf("%w: order %s belongs to another customer", domain.ErrForbidden, orderID)
		}
		if !order.CanBeCanceled() {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, orderID, order.Status)
		}

		key, amount, err := order.Reservation(s.base)
		if err != nil {
			return err
		}
		got, err := tx.LockAssets(ctx, store.AssetLock{Key: key})
		if err != nil {
			return err
		}
		entry, ok := got[key]
		if !ok {
			return fmt.Errorf("ledger entry %s missing for pending order %s", key, orderID)
		}
		next, err := s.ledger.Release(entry, amount)
		if err != nil {
			return err
		}
		if err := tx.SaveAsset(ctx, next); err != nil {
			return err
		}

		if err := order.Cancel(s.now()); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		canceled = order
		return nil
	})
	s.observe("cancel", err, start)
	if err != nil {
		logFailure(ctx, s.logger, "cancel rejected", err, slog.String("order_id", orderID))
		return nil, err
	}

	s.logger.Info("order canceled",
		slog.String("order_id", canceled.OrderID),
		slog.String("customer_id", canceled.CustomerID),
	)
	s.publish(domain.EventOrderCanceled, canceled)
	return canceled, nil
}

// Match settles a pending order: the bought asset is credited and the cash
// debited for a BUY, the sold asset debited and the cash credited for a
// SELL. It is an administrative operation with no ownership check.
func (s *OrderService) Match(ctx context.Context, orderID string) (*domain.Order, error) {
	start := time.Now()
	var matched *domain.Order

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("%w: order %s is %s", domain.ErrInvalidState, orderID, order.Status)
		}

		total, err := order.TotalAmount()
		if err != nil {
			return err
		}
		cashKey := domain.AssetKey{CustomerID: order.CustomerID, Symbol: s.base}
		assetKey := domain.AssetKey{CustomerID: order.CustomerID, Symbol: order.Symbol}
		buy := order.Side == domain.OrderSideBuy

		got, err := tx.LockAssets(ctx,
			store.AssetLock{Key: cashKey, Create: !buy},
			store.AssetLock{Key: assetKey, Create: buy},
		)
		if err != nil {
			return err
		}

		// The debited side must exist: it holds the reservation.
		debitKey, debitAmount := cashKey, total.Quantity()
		creditKey, creditAmount := assetKey, order.Size
		if !buy {
			debitKey, debitAmount = assetKey, order.Size
			creditKey, creditAmount = cashKey, total.Quantity()
		}
		debitEntry, ok := got[debitKey]
		if !ok {
			return fmt.Errorf("%w: no %s entry to debit %s", domain.ErrInsufficientTotal, debitKey, debitAmount)
		}

		debited, err := s.ledger.Debit(debitEntry, debitAmount)
		if err != nil {
			return err
		}
		credited, err := s.ledger.Credit(got[creditKey], creditAmount)
		if err != nil {
			return err
		}
		if err := tx.SaveAsset(ctx, debited); err != nil {
			return err
		}
		if err := tx.SaveAsset(ctx, credited); err != nil {
			return err
		}

		if err := order.Match(s.now()); err != nil {
			return err
		}
		if err := tx.UpdateOrder(ctx, order); err != nil {
			return err
		}
		matched = order
		return nil
	})
	s.observe("match", err, start)
	if err != nil {
		logFailure(ctx, s.logger, "match rejected", err, slog.String("order_id", orderID))
		return nil, err
	}

	s.logger.Info("order matched",
		slog.String("order_id", matched.OrderID),
		slog.String("customer_id", matched.CustomerID),
		slog.String("side", string(matched.Side)),
	)
	s.publish(domain.EventOrderMatched, matched)
	return matched, nil
}

// Get returns an order owned by customerID.
func (s *OrderService) Get(ctx context.Context, orderID, customerID string) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, fmt.Errorf("%w: order %s belongs to another customer", domain.ErrForbidden, orderID)
	}
	return order, nil
}

// List returns a customer's orders, newest first.
func (s *OrderService) List(ctx context.Context, req ListOrdersRequest) ([]*domain.Order, error) {
	if err := validateCustomerID(req.CustomerID); err != nil {
		return nil, err
	}
	if req.From != nil && req.To != nil && req.From.After(*req.To) {
		return nil, &domain.ValidationError{Message: "start_date must not be after end_date"}
	}
	if req.Status != nil && !req.Status.Valid() {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("Unknown status: %s. Must be one of: PENDING, MATCHED, CANCELED", *req.Status),
		}
	}
	return s.store.ListOrders(ctx, store.OrderFilter{
		CustomerID: req.CustomerID,
		From:       req.From,
		To:         req.To,
		Status:     req.Status,
	})
}

// ListPending returns every PENDING order, oldest first.
func (s *OrderService) ListPending(ctx context.Context) ([]*domain.Order, error) {
	orders, err := s.store.ListPendingOrders(ctx)
	if err != nil {
		return nil, err
	}
	s.metrics.SetPending(len(orders))
	return orders, nil
}

// logFailure logs client-caused rejections at debug and lock timeouts at
// warn. Anything else means a broken ledger invariant or a failing store and
// is logged at error.
func logFailure(ctx context.Context, logger *slog.Logger, msg string, err error, attrs ...slog.Attr) {
	level := slog.LevelError
	switch {
	case isRejection(err):
		level = slog.LevelDebug
	case errors.Is(err, domain.ErrLockTimeout):
		level = slog.LevelWarn
	}
	attrs = append(attrs, slog.String("error", err.Error()))
	logger.LogAttrs(ctx, level, msg, attrs...)
}

// isRejection reports whether err is an expected business outcome.
func isRejection(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidArgument,
		domain.ErrInsufficientBalance,
		domain.ErrInvalidState,
		domain.ErrOrderNotFound,
		domain.ErrForbidden,
		domain.ErrAccountExists,
		domain.ErrAssetNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *OrderService) observe(op string, err error, start time.Time) {
	s.metrics.ObserveOrderOp(op, outcome(err), time.Since(start))
}

func (s *OrderService) publish(eventType string, o *domain.Order) {
	s.events.Publish(domain.OrderEvent{
		Type:       eventType,
		Order:      *o,
		OccurredAt: o.UpdatedAt,
	})
}
