package handler

import (
	"net/http"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/service"
	"github.com/go-chi/chi/v5"
)

// WebhookHandler handles HTTP requests for webhook endpoints.
type WebhookHandler struct {
	webhookSvc *service.WebhookService
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(webhookSvc *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhookSvc: webhookSvc}
}

// upsertWebhookRequest is the JSON request body for POST /api/webhooks.
type upsertWebhookRequest struct {
	CustomerID string   `json:"customer_id"`
	URL        string   `json:"url"`
	Events     []string `json:"events"`
}

// webhookResponse is a single webhook in the response.
type webhookResponse struct {
	WebhookID  string `json:"webhook_id"`
	CustomerID string `json:"customer_id"`
	Event      string `json:"event"`
	URL        string `json:"url"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// webhookListResponse is the JSON response for POST and GET /api/webhooks.
type webhookListResponse struct {
	Webhooks []webhookResponse `json:"webhooks"`
}

// Upsert handles POST /api/webhooks.
func (h *WebhookHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertWebhookRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	webhooks, anyCreated, err := h.webhookSvc.Upsert(service.UpsertWebhookRequest{
		CustomerID: req.CustomerID,
		URL:        req.URL,
		Events:     req.Events,
	})
	if err != nil {
		mapError(w, err)
		return
	}

	status := http.StatusOK
	if anyCreated {
		status = http.StatusCreated
	}

	WriteJSON(w, status, webhookListResponse{
		Webhooks: buildWebhookResponses(webhooks),
	})
}

// List handles GET /api/webhooks.
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "customer_id query parameter is required")
		return
	}

	webhooks, err := h.webhookSvc.List(customerID)
	if err != nil {
		mapError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, webhookListResponse{
		Webhooks: buildWebhookResponses(webhooks),
	})
}

// Delete handles DELETE /api/webhooks/{webhook_id}?customer_id=.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		WriteError(w, http.StatusBadRequest, "validation_error", "customer_id query parameter is required")
		return
	}

	if err := h.webhookSvc.Delete(chi.URLParam(r, "webhook_id"), customerID); err != nil {
		mapError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// buildWebhookResponses converts domain webhooks to response webhooks.
func buildWebhookResponses(webhooks []*domain.Webhook) []webhookResponse {
	result := make([]webhookResponse, len(webhooks))
	for i, wh := range webhooks {
		result[i] = webhookResponse{
			WebhookID:  wh.WebhookID,
			CustomerID: wh.CustomerID,
			Event:      wh.Event,
			URL:        wh.URL,
			CreatedAt:  wh.CreatedAt.UTC().Format(timestampLayout),
			UpdatedAt:  wh.UpdatedAt.UTC().Format(timestampLayout),
		}
	}
	return result
}
