package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveOrderOp("create", "ok", time.Millisecond)
	m.IncLedgerOp("reserve", "ok")
	m.IncEventFailure("kafka")
	m.SetPending(3)
	if m.Registry() != nil {
		t.Error("nil metrics returned a registry")
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.ObserveOrderOp("create", "ok", time.Millisecond)
	m.ObserveOrderOp("create", "ok", time.Millisecond)
	m.ObserveOrderOp("create", "insufficient_balance", time.Millisecond)
	m.IncLedgerOp("reserve", "ok")

	if got := testutil.ToFloat64(m.orderOps.WithLabelValues("create", "ok")); got != 2 {
		t.Errorf("create/ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.orderOps.WithLabelValues("create", "insufficient_balance")); got != 1 {
		t.Errorf("create/insufficient_balance = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ledgerOps.WithLabelValues("reserve", "ok")); got != 1 {
		t.Errorf("reserve/ok = %v, want 1", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SetPending(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "brokerage_pending_orders_observed 4") {
		t.Errorf("scrape missing pending gauge:\n%s", body)
	}
}
