package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
)

func newTestEvent(eventType string) domain.OrderEvent {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.OrderEvent{
		Type: eventType,
		Order: domain.Order{
			OrderID:    "o1",
			CustomerID: "c1",
			Symbol:     "AAPL",
			Side:       domain.OrderSideBuy,
			Size:       domain.MustQuantity("10"),
			Price:      domain.MustMoney("150"),
			Status:     domain.OrderStatusPending,
			CreatedAt:  at,
			UpdatedAt:  at,
		},
		OccurredAt: at,
	}
}

func TestEncode(t *testing.T) {
	b, err := Encode(newTestEvent(domain.EventOrderCreated))
	if err != nil {
		t.Fatal(err)
	}

	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["event"] != "order.created" {
		t.Errorf("event = %v", got["event"])
	}
	data := got["data"].(map[string]any)
	if data["order_id"] != "o1" || data["customer_id"] != "c1" || data["side"] != "BUY" {
		t.Errorf("data = %v", data)
	}
	amounts := map[string]string{"size": "10.00", "price": "150.00", "total_amount": "1500.00"}
	for field, want := range amounts {
		if data[field] != want {
			t.Errorf("%s = %v, want %q", field, data[field], want)
		}
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_Publish(t *testing.T) {
	fw := &fakeWriter{}
	p := &KafkaPublisher{writer: fw}

	if err := p.Publish(context.Background(), newTestEvent(domain.EventOrderMatched)); err != nil {
		t.Fatal(err)
	}
	if len(fw.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(fw.msgs))
	}
	msg := fw.msgs[0]
	if string(msg.Key) != "c1" {
		t.Errorf("key = %s, want customer id", msg.Key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "order.matched" {
		t.Errorf("headers = %v", msg.Headers)
	}
	if !strings.Contains(string(msg.Value), `"event":"order.matched"`) {
		t.Errorf("value = %s", msg.Value)
	}

	if err := p.Close(); err != nil || !fw.closed {
		t.Errorf("Close: err=%v closed=%v", err, fw.closed)
	}
}

func TestKafkaPublisher_PublishError(t *testing.T) {
	boom := errors.New("broker down")
	p := &KafkaPublisher{writer: &fakeWriter{err: boom}}

	err := p.Publish(context.Background(), newTestEvent(domain.EventOrderCreated))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped broker error", err)
	}
}

func dialHub(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestHub_BroadcastsEvents(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)

	if err := h.Publish(context.Background(), newTestEvent(domain.EventOrderCanceled)); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var p Payload
	if err := json.Unmarshal(msg, &p); err != nil {
		t.Fatal(err)
	}
	if p.Event != domain.EventOrderCanceled || p.Data.OrderID != "o1" {
		t.Errorf("payload = %+v", p)
	}
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	h := NewHub(nil)
	conn := dialHub(t, h)

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if h.Clients() != 0 {
		t.Errorf("clients after close = %d", h.Clients())
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}

func TestHub_PublishWithoutClients(t *testing.T) {
	h := NewHub(nil)
	if err := h.Publish(context.Background(), newTestEvent(domain.EventOrderCreated)); err != nil {
		t.Fatal(err)
	}
}
