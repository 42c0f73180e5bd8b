package handler

import (
	"net/http"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/service"
	"github.com/go-chi/chi/v5"
)

// AdminHandler handles back-office endpoints: account opening, the pending
// order queue, and matching.
type AdminHandler struct {
	orderSvc *service.OrderService
	assetSvc *service.AssetService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(orderSvc *service.OrderService, assetSvc *service.AssetService) *AdminHandler {
	return &AdminHandler{orderSvc: orderSvc, assetSvc: assetSvc}
}

// openAccountRequest is the JSON request body for POST /api/admin/accounts.
type openAccountRequest struct {
	CustomerID      string          `json:"customer_id"`
	InitialCash     domain.Quantity `json:"initial_cash"`
	InitialHoldings []holdingInput  `json:"initial_holdings"`
}

// holdingInput is a single holding in the account opening request.
type holdingInput struct {
	Symbol string          `json:"symbol"`
	Size   domain.Quantity `json:"size"`
}

// OpenAccount handles POST /api/admin/accounts.
func (h *AdminHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	holdings := make([]service.HoldingInput, len(req.InitialHoldings))
	for i, hi := range req.InitialHoldings {
		holdings[i] = service.HoldingInput{Symbol: hi.Symbol, Size: hi.Size}
	}

	assets, err := h.assetSvc.OpenAccount(r.Context(), service.OpenAccountRequest{
		CustomerID:      req.CustomerID,
		InitialCash:     req.InitialCash,
		InitialHoldings: holdings,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, assetListResponse{Assets: buildAssetResponses(assets)})
}

// ListPending handles GET /api/admin/orders/pending.
func (h *AdminHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderSvc.ListPending(r.Context())
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, orderListResponse{Orders: buildOrderResponses(orders)})
}

// Match handles POST /api/admin/orders/{order_id}/match.
func (h *AdminHandler) Match(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.Match(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}
