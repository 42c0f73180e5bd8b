package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/events"
	"github.com/efreitasn/brokerage/internal/store"
	"github.com/google/uuid"
)

// Valid webhook event types.
var validWebhookEvents = map[string]bool{
	domain.EventOrderCreated:  true,
	domain.EventOrderCanceled: true,
	domain.EventOrderMatched:  true,
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	CustomerID string
	URL        string
	Events     []string
}

// WebhookService handles webhook CRUD and delivers order events to the
// subscribed customer.
type WebhookService struct {
	store  *store.WebhookStore
	client *http.Client
	now    func() time.Time
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(webhookStore *store.WebhookStore, webhookTimeout time.Duration) *WebhookService {
	return &WebhookService{
		store: webhookStore,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
		now: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if err := validateCustomerID(req.CustomerID); err != nil {
		return nil, false, err
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}

	// Deduplicate events while preserving order and validating.
	seen := make(map[string]bool, len(req.Events))
	deduped := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: order.created, order.canceled, order.matched",
			}
		}
		if !seen[event] {
			seen[event] = true
			deduped = append(deduped, event)
		}
	}

	now := s.now()
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(deduped))
	for _, event := range deduped {
		w, created := s.store.Upsert(domain.Webhook{
			WebhookID:  uuid.NewString(),
			CustomerID: req.CustomerID,
			Event:      event,
			URL:        req.URL,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		anyCreated = anyCreated || created
		webhooks = append(webhooks, w)
	}

	return webhooks, anyCreated, nil
}

// List returns a customer's webhook subscriptions.
func (s *WebhookService) List(customerID string) ([]*domain.Webhook, error) {
	if err := validateCustomerID(customerID); err != nil {
		return nil, err
	}
	return s.store.ListByCustomer(customerID), nil
}

// Delete removes a webhook subscription owned by customerID.
func (s *WebhookService) Delete(webhookID, customerID string) error {
	w, err := s.store.Get(webhookID)
	if err != nil {
		return err
	}
	if w.CustomerID != customerID {
		return fmt.Errorf("%w: webhook %s belongs to another customer", domain.ErrForbidden, webhookID)
	}
	return s.store.Delete(webhookID)
}

// Name identifies the sink in logs and metrics.
func (s *WebhookService) Name() string { return "webhook" }

// Publish delivers ev to the order owner's subscription for ev.Type, if
// any. A non-2xx answer counts as a failed delivery.
func (s *WebhookService) Publish(ctx context.Context, ev domain.OrderEvent) error {
	wh := s.store.Lookup(ev.Order.CustomerID, ev.Type)
	if wh == nil {
		return nil
	}

	body, err := events.Encode(ev)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.NewString())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", ev.Type)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver webhook %s: %w", wh.WebhookID, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver webhook %s: endpoint answered %d", wh.WebhookID, resp.StatusCode)
	}
	return nil
}
