package handler

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/idempotency"
	"github.com/efreitasn/brokerage/internal/metrics"
	"github.com/efreitasn/brokerage/internal/service"
	"github.com/go-chi/chi/v5"
)

// Deps are the collaborators the router serves.
type Deps struct {
	Orders   *service.OrderService
	Assets   *service.AssetService
	Webhooks *service.WebhookService

	// Idempotency replays order creations retried with the same
	// Idempotency-Key. Nil disables replay.
	Idempotency *idempotency.Cache[*domain.Order]
	// Stream serves the admin WebSocket feed. Nil leaves the route unmounted.
	Stream http.Handler
	// Ready reports whether the backing store is reachable.
	Ready   func(ctx context.Context) error
	Metrics *metrics.Metrics

	AdminToken string
	Logger     *slog.Logger
}

// NewRouter creates a chi router with all routes registered, request ID,
// panic recovery, request logging, and Content-Type validation middleware.
func NewRouter(d Deps) chi.Router {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestID)
	r.Use(requestLogging(logger))
	r.Use(recoverer(logger))
	r.Use(contentTypeJSON)

	// Create handlers.
	orderH := NewOrderHandler(d.Orders, d.Idempotency)
	assetH := NewAssetHandler(d.Assets)
	adminH := NewAdminHandler(d.Orders, d.Assets)
	webhookH := NewWebhookHandler(d.Webhooks)

	// Health checks.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := d.Ready(ctx); err != nil {
				logger.Warn("readiness check failed", slog.String("error", err.Error()))
				WriteError(w, http.StatusServiceUnavailable, "not_ready", "Store is unreachable")
				return
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// Order routes.
		r.Post("/orders", orderH.Create)
		r.Get("/orders", orderH.List)
		r.Get("/orders/{order_id}", orderH.Get)
		r.Delete("/orders/{order_id}", orderH.Cancel)

		// Asset routes.
		r.Get("/assets", assetH.List)
		r.Get("/assets/{symbol}", assetH.Get)

		// Webhook routes.
		r.Post("/webhooks", webhookH.Upsert)
		r.Get("/webhooks", webhookH.List)
		r.Delete("/webhooks/{webhook_id}", webhookH.Delete)

		// Admin routes.
		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAdmin(d.AdminToken))
			r.Post("/accounts", adminH.OpenAccount)
			r.Get("/orders/pending", adminH.ListPending)
			r.Post("/orders/{order_id}/match", adminH.Match)
			if d.Stream != nil {
				r.Method(http.MethodGet, "/stream", d.Stream)
			}
		})
	})

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", RequestIDFromContext(r.Context())),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade take over the connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests that carry a body. If the Content-Type header doesn't start
// with "application/json", it returns 400 Bad Request before the handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			ct := r.Header.Get("Content-Type")
			if r.ContentLength != 0 && (ct == "" || !strings.HasPrefix(ct, "application/json")) {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
