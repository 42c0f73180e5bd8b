package handler

import (
	"net/http"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/idempotency"
	"github.com/efreitasn/brokerage/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	idempotencyKeyHeader = "Idempotency-Key"
	replayedHeader       = "Idempotent-Replayed"
	timestampLayout      = "2006-01-02T15:04:05Z"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
	replay   *idempotency.Cache[*domain.Order]
}

// NewOrderHandler creates a new OrderHandler. replay may be nil.
func NewOrderHandler(orderSvc *service.OrderService, replay *idempotency.Cache[*domain.Order]) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc, replay: replay}
}

// createOrderRequest is the JSON request body for POST /api/orders.
// size and price accept JSON numbers or decimal strings.
type createOrderRequest struct {
	CustomerID string          `json:"customer_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Size       domain.Quantity `json:"size"`
	Price      domain.Money    `json:"price"`
}

// orderResponse is the JSON representation of an order.
type orderResponse struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	Symbol      string          `json:"symbol"`
	Side        string          `json:"side"`
	Size        domain.Quantity `json:"size"`
	Price       domain.Money    `json:"price"`
	TotalAmount domain.Money    `json:"total_amount"`
	Status      string          `json:"status"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// orderListResponse is the JSON response for order listings.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
}

// Create handles POST /api/orders. A retried request carrying the same
// Idempotency-Key for the same customer gets the first order back.
func (h *OrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	create := func() (*domain.Order, error) {
		return h.orderSvc.Create(r.Context(), service.CreateOrderRequest{
			CustomerID: req.CustomerID,
			Symbol:     req.Symbol,
			Side:       domain.OrderSide(req.Side),
			Size:       req.Size,
			Price:      req.Price,
		})
	}

	var (
		order    *domain.Order
		replayed bool
		err      error
	)
	key := r.Header.Get(idempotencyKeyHeader)
	if key != "" && h.replay != nil {
		if len(key) > 255 {
			WriteError(w, http.StatusBadRequest, "validation_error", "Idempotency-Key must be at most 255 characters")
			return
		}
		order, replayed, err = h.replay.Do(req.CustomerID+"\x00"+key, create)
	} else {
		order, err = create()
	}
	if err != nil {
		mapError(w, err)
		return
	}

	if replayed {
		w.Header().Set(replayedHeader, "true")
	}
	WriteJSON(w, http.StatusCreated, buildOrderResponse(order))
}

// List handles GET /api/orders.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	customerID := q.Get("customer_id")
	if customerID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "customer_id query parameter is required")
		return
	}

	from, err := parseDateParam(q.Get("start_date"), "start_date", false)
	if err != nil {
		mapError(w, err)
		return
	}
	to, err := parseDateParam(q.Get("end_date"), "end_date", true)
	if err != nil {
		mapError(w, err)
		return
	}

	var status *domain.OrderStatus
	if s := q.Get("status"); s != "" {
		st := domain.OrderStatus(s)
		status = &st
	}

	orders, err := h.orderSvc.List(r.Context(), service.ListOrdersRequest{
		CustomerID: customerID,
		From:       from,
		To:         to,
		Status:     status,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, orderListResponse{Orders: buildOrderResponses(orders)})
}

// Get handles GET /api/orders/{order_id}.
func (h *OrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "customer_id query parameter is required")
		return
	}

	order, err := h.orderSvc.Get(r.Context(), orderID, customerID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// Cancel handles DELETE /api/orders/{order_id}.
func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "customer_id query parameter is required")
		return
	}

	if _, err := h.orderSvc.Cancel(r.Context(), orderID, customerID); err != nil {
		mapError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// parseDateParam accepts YYYY-MM-DD (a whole UTC day; the end of the day
// when endOfDay is set) or an RFC 3339 timestamp. Empty means unbounded.
func parseDateParam(v, name string, endOfDay bool) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	if d, err := time.Parse(time.DateOnly, v); err == nil {
		if endOfDay {
			d = d.Add(24*time.Hour - time.Nanosecond)
		}
		return &d, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, &domain.ValidationError{Message: name + " must be YYYY-MM-DD or an RFC 3339 timestamp"}
	}
	t = t.UTC()
	return &t, nil
}

// buildOrderResponse converts a domain order to its JSON form.
func buildOrderResponse(o *domain.Order) orderResponse {
	total, err := o.TotalAmount()
	if err != nil {
		total = domain.ZeroMoney()
	}
	return orderResponse{
		OrderID:     o.OrderID,
		CustomerID:  o.CustomerID,
		Symbol:      string(o.Symbol),
		Side:        string(o.Side),
		Size:        o.Size,
		Price:       o.Price,
		TotalAmount: total,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt:   o.UpdatedAt.UTC().Format(timestampLayout),
	}
}

func buildOrderResponses(orders []*domain.Order) []orderResponse {
	result := make([]orderResponse, len(orders))
	for i, o := range orders {
		result[i] = buildOrderResponse(o)
	}
	return result
}
