package handler

import (
	"net/http"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/service"
	"github.com/go-chi/chi/v5"
)

// AssetHandler handles HTTP requests for ledger entry endpoints.
type AssetHandler struct {
	assetSvc *service.AssetService
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(assetSvc *service.AssetService) *AssetHandler {
	return &AssetHandler{assetSvc: assetSvc}
}

// assetResponse is the JSON representation of a ledger entry. reserved is
// total minus usable: what pending orders hold.
type assetResponse struct {
	CustomerID string          `json:"customer_id"`
	Symbol     string          `json:"symbol"`
	Total      domain.Quantity `json:"total"`
	Usable     domain.Quantity `json:"usable"`
	Reserved   domain.Quantity `json:"reserved"`
	UpdatedAt  *string         `json:"updated_at"`
}

// assetListResponse is the JSON response for GET /api/assets.
type assetListResponse struct {
	Assets []assetResponse `json:"assets"`
}

// List handles GET /api/assets.
func (h *AssetHandler) List(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "customer_id query parameter is required")
		return
	}

	assets, err := h.assetSvc.ListAssets(r.Context(), customerID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, assetListResponse{Assets: buildAssetResponses(assets)})
}

// Get handles GET /api/assets/{symbol}. A symbol the customer never held
// reads as a zero entry.
func (h *AssetHandler) Get(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "customer_id query parameter is required")
		return
	}

	a, err := h.assetSvc.GetLedgerEntry(r.Context(), customerID, chi.URLParam(r, "symbol"))
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, buildAssetResponse(a))
}

func buildAssetResponse(a *domain.Asset) assetResponse {
	resp := assetResponse{
		CustomerID: a.CustomerID,
		Symbol:     string(a.Symbol),
		Total:      a.Total,
		Usable:     a.Usable,
		Reserved:   a.Reserved(),
	}
	if !a.UpdatedAt.IsZero() {
		s := a.UpdatedAt.UTC().Format(timestampLayout)
		resp.UpdatedAt = &s
	}
	return resp
}

func buildAssetResponses(assets []*domain.Asset) []assetResponse {
	result := make([]assetResponse, len(assets))
	for i, a := range assets {
		result[i] = buildAssetResponse(a)
	}
	return result
}
