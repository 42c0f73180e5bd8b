package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/efreitasn/brokerage/internal/domain"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all runtime configuration for the brokerage service.
type Config struct {
	Port         int
	LogLevel     string
	LogFormat    string
	BaseCurrency domain.Symbol

	StoreDriver string
	DatabaseURL string
	TxTimeout   time.Duration

	IdempotencyTTL time.Duration
	AdminToken     string
	WebhookTimeout time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
	SeedFile       string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoadDotEnv copies variables from the given files (default ".env") into
// the process environment. Variables already set win, and missing files
// are skipped.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, f := range filenames {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	logFormat := getStr("LOG_FORMAT", "json")
	if logFormat != "json" && logFormat != "text" {
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q, must be one of: json, text", logFormat)
	}

	base, err := domain.ParseSymbol(getStr("BASE_CURRENCY", string(domain.DefaultBaseCurrency)))
	if err != nil {
		return nil, fmt.Errorf("invalid BASE_CURRENCY: %w", err)
	}

	driver := getStr("STORE_DRIVER", StoreMemory)
	if driver != StoreMemory && driver != StorePostgres {
		return nil, fmt.Errorf("invalid STORE_DRIVER: %q, must be one of: memory, postgres", driver)
	}
	databaseURL := getStr("DATABASE_URL", "")
	if driver == StorePostgres && databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=postgres")
	}

	txTimeout, err := getDuration("TX_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid TX_TIMEOUT: %w", err)
	}
	if txTimeout <= 0 {
		return nil, fmt.Errorf("invalid TX_TIMEOUT: must be positive")
	}

	idempotencyTTL, err := getDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL: %w", err)
	}

	webhookTimeout, err := getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		LogFormat:       logFormat,
		BaseCurrency:    base,
		StoreDriver:     driver,
		DatabaseURL:     databaseURL,
		TxTimeout:       txTimeout,
		IdempotencyTTL:  idempotencyTTL,
		AdminToken:      getStr("ADMIN_TOKEN", ""),
		WebhookTimeout:  webhookTimeout,
		KafkaBrokers:    getList("KAFKA_BROKERS"),
		KafkaTopic:      getStr("KAFKA_TOPIC", "order-events"),
		SeedFile:        getStr("SEED_FILE", ""),
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

// getList splits a comma-separated variable, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
