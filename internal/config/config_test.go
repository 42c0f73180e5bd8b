package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	if cfg.BaseCurrency != "TRY" {
		t.Errorf("BaseCurrency = %q, want TRY", cfg.BaseCurrency)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Errorf("StoreDriver = %q, want memory", cfg.StoreDriver)
	}
	if cfg.TxTimeout != 2*time.Second {
		t.Errorf("TxTimeout = %v, want 2s", cfg.TxTimeout)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Errorf("IdempotencyTTL = %v, want 24h", cfg.IdempotencyTTL)
	}
	if cfg.WebhookTimeout != 5*time.Second {
		t.Errorf("WebhookTimeout = %v, want 5s", cfg.WebhookTimeout)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want none", cfg.KafkaBrokers)
	}
	if cfg.KafkaTopic != "order-events" {
		t.Errorf("KafkaTopic = %q, want order-events", cfg.KafkaTopic)
	}
	if cfg.AdminToken != "" || cfg.SeedFile != "" {
		t.Errorf("AdminToken/SeedFile should default to empty")
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Errorf("ReadTimeout = %v, want 5s", cfg.ReadTimeout)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("BASE_CURRENCY", "usd")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/brokerage")
	t.Setenv("TX_TIMEOUT", "750ms")
	t.Setenv("IDEMPOTENCY_TTL", "1h")
	t.Setenv("ADMIN_TOKEN", "s3cret")
	t.Setenv("WEBHOOK_TIMEOUT", "3s")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("KAFKA_TOPIC", "orders")
	t.Setenv("SEED_FILE", "seed.yaml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "text" {
		t.Errorf("LogLevel/LogFormat = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.BaseCurrency != "USD" {
		t.Errorf("BaseCurrency = %q, want USD", cfg.BaseCurrency)
	}
	if cfg.StoreDriver != StorePostgres || cfg.DatabaseURL != "postgres://localhost/brokerage" {
		t.Errorf("store = %q %q", cfg.StoreDriver, cfg.DatabaseURL)
	}
	if cfg.TxTimeout != 750*time.Millisecond {
		t.Errorf("TxTimeout = %v, want 750ms", cfg.TxTimeout)
	}
	if cfg.IdempotencyTTL != time.Hour {
		t.Errorf("IdempotencyTTL = %v, want 1h", cfg.IdempotencyTTL)
	}
	if cfg.AdminToken != "s3cret" {
		t.Errorf("AdminToken = %q", cfg.AdminToken)
	}
	if cfg.WebhookTimeout != 3*time.Second {
		t.Errorf("WebhookTimeout = %v, want 3s", cfg.WebhookTimeout)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[0] != "k1:9092" || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.KafkaTopic != "orders" || cfg.SeedFile != "seed.yaml" {
		t.Errorf("KafkaTopic/SeedFile = %q/%q", cfg.KafkaTopic, cfg.SeedFile)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := map[string]map[string]string{
		"port":                   {"PORT": "not-a-number"},
		"log level":              {"LOG_LEVEL": "verbose"},
		"log format":             {"LOG_FORMAT": "xml"},
		"base currency":          {"BASE_CURRENCY": "T1"},
		"store driver":           {"STORE_DRIVER": "sqlite"},
		"postgres without url":   {"STORE_DRIVER": "postgres"},
		"zero tx timeout":        {"TX_TIMEOUT": "0s"},
		"negative tx timeout":    {"TX_TIMEOUT": "-1s"},
		"unparseable tx timeout": {"TX_TIMEOUT": "soon"},
		"idempotency ttl":        {"IDEMPOTENCY_TTL": "forever"},
	}

	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %v", env)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	for _, key := range durationEnvKeys {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, "not-a-duration")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for invalid %s", key)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), ".env")
	content := "PORT=7070\nLOG_LEVEL=debug\nKAFKA_TOPIC=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 7070 || cfg.KafkaTopic != "from-file" {
		t.Errorf("file values not applied: port=%d topic=%q", cfg.Port, cfg.KafkaTopic)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, existing environment should win", cfg.LogLevel)
	}
}

func TestLoadDotEnv_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("NOT VALID LINE\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := LoadDotEnv(path); err == nil {
		t.Fatal("expected error for malformed file")
	}
}
