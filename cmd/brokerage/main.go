package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/efreitasn/brokerage/internal/config"
	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/efreitasn/brokerage/internal/events"
	"github.com/efreitasn/brokerage/internal/handler"
	"github.com/efreitasn/brokerage/internal/idempotency"
	"github.com/efreitasn/brokerage/internal/metrics"
	"github.com/efreitasn/brokerage/internal/service"
	"github.com/efreitasn/brokerage/internal/store"
	"github.com/efreitasn/brokerage/internal/store/postgres"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	envFile := flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/healthz, exit 0/1.
	if *healthcheck {
		port := os.Getenv("PORT")
		if port == "" {
			port = "8080"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Store.
	var (
		st    store.Store
		ready func(ctx context.Context) error
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := postgres.New(pool, cfg.TxTimeout, logger)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		st, ready = pg, pg.Ping
	default:
		mem := store.NewMemoryStore(cfg.TxTimeout)
		st, ready = mem, mem.Ping
	}
	logger.Info("store ready", slog.String("driver", cfg.StoreDriver))

	m := metrics.New()

	// Event sinks. Webhooks always; Kafka when brokers are configured.
	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), cfg.WebhookTimeout)
	hub := events.NewHub(logger)
	defer hub.Close()
	sinks := []service.EventSink{webhookSvc, hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() {
			if err := kafka.Close(); err != nil {
				logger.Warn("kafka close failed", slog.String("error", err.Error()))
			}
		}()
		sinks = append(sinks, kafka)
		logger.Info("kafka publishing enabled", slog.String("topic", cfg.KafkaTopic))
	}
	dispatcher := service.NewDispatcher(cfg.WebhookTimeout, logger, m, sinks...)
	dispatcher.Start(ctx)

	// Services.
	ledger := service.NewReservationService(logger, m)
	assetSvc := service.NewAssetService(st, ledger, cfg.BaseCurrency, logger)
	orderSvc := service.NewOrderService(st, ledger, dispatcher, cfg.BaseCurrency, logger, m)

	if cfg.SeedFile != "" {
		if _, err := service.SeedAccounts(ctx, assetSvc, cfg.SeedFile, logger); err != nil {
			return err
		}
	}

	replay := idempotency.New[*domain.Order](cfg.IdempotencyTTL)
	replay.Start(ctx, time.Minute)

	router := handler.NewRouter(handler.Deps{
		Orders:      orderSvc,
		Assets:      assetSvc,
		Webhooks:    webhookSvc,
		Idempotency: replay,
		Stream:      hub,
		Ready:       ready,
		Metrics:     m,
		AdminToken:  cfg.AdminToken,
		Logger:      logger,
	})
	if cfg.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN is empty, admin endpoints are unauthenticated")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}

	// Graceful shutdown: stop accepting requests, then drain queued events
	// before the sinks are closed by the deferred calls.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	cancel()
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn("event queue not drained", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
	return nil
}
