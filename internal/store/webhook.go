package store

import (
	"sort"
	"sync"

	"github.com/efreitasn/brokerage/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhook subscriptions.
// Primary index: webhook_id → webhook.
// Secondary index: customer_id → event → webhook_id.
type WebhookStore struct {
	mu         sync.RWMutex
	webhooks   map[string]domain.Webhook
	byCustomer map[string]map[string]string
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks:   make(map[string]domain.Webhook),
		byCustomer: make(map[string]map[string]string),
	}
}

// Upsert inserts a subscription keyed by (customer_id, event), or points an
// existing one at w.URL keeping its webhook_id. It returns the stored
// subscription and whether it was newly created.
func (s *WebhookStore) Upsert(w domain.Webhook) (*domain.Webhook, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byCustomer[w.CustomerID][w.Event]; ok {
		existing := s.webhooks[id]
		if existing.URL != w.URL {
			existing.URL = w.URL
			existing.UpdatedAt = w.UpdatedAt
			s.webhooks[id] = existing
		}
		return &existing, false
	}

	s.webhooks[w.WebhookID] = w
	if s.byCustomer[w.CustomerID] == nil {
		s.byCustomer[w.CustomerID] = make(map[string]string)
	}
	s.byCustomer[w.CustomerID][w.Event] = w.WebhookID

	return &w, true
}

// Get returns domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Get(id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	return &w, nil
}

// ListByCustomer returns a customer's subscriptions ordered by event name.
func (s *WebhookStore) ListByCustomer(customerID string) []*domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byCustomer[customerID]
	result := make([]*domain.Webhook, 0, len(events))
	for _, id := range events {
		w := s.webhooks[id]
		result = append(result, &w)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Event < result[j].Event })
	return result
}

// Delete removes a webhook from both indexes. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}
	delete(s.webhooks, id)

	if events, ok := s.byCustomer[w.CustomerID]; ok {
		delete(events, w.Event)
		if len(events) == 0 {
			delete(s.byCustomer, w.CustomerID)
		}
	}
	return nil
}

// Lookup returns the subscription for a customer+event pair, or nil.
func (s *WebhookStore) Lookup(customerID, event string) *domain.Webhook {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCustomer[customerID][event]
	if !ok {
		return nil
	}
	w := s.webhooks[id]
	return &w
}
