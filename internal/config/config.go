// Package config loads the immutable service configuration from the
// environment. The struct is constructed once at startup and threaded
// through constructors; there is no ambient global state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config for the ETL narrative engine worker.
type Config struct {
	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Storage struct {
		// Endpoint, when set, points at an S3-compatible server
		// (MinIO/localstack) and switches to path-style addressing.
		Endpoint     string
		OutputBucket string
	}

	Broker struct {
		InboundStream    string
		DelayedSet       string
		DeadLetterStream string
		ConsumerGroup    string
		ConsumerName     string
		BatchSize        int64
	}

	Ledger struct {
		// Backend is "sqlite" for single-worker deployments or "redis"
		// for horizontally scaled workers sharing one store.
		Backend    string
		SQLitePath string
		KeyPrefix  string
		PendingTTL time.Duration
	}

	Pipeline struct {
		QualityThreshold  float64
		MaxRetries        int
		MessageTimeout    time.Duration
		QuarantineEnabled bool
	}

	Metrics struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.Storage.Endpoint = getEnv("STORAGE_ENDPOINT", "")
	cfg.Storage.OutputBucket = getEnv("OUTPUT_BUCKET", "health-narratives")

	cfg.Broker.InboundStream = getEnv("STREAM_INBOUND", "etl:inbound")
	cfg.Broker.DelayedSet = getEnv("STREAM_DELAYED_SET", "etl:inbound:delayed")
	cfg.Broker.DeadLetterStream = getEnv("STREAM_DEAD_LETTER", "etl:dead-letter")
	cfg.Broker.ConsumerGroup = getEnv("CONSUMER_GROUP", "narrative-engine-group")
	cfg.Broker.ConsumerName = getEnv("CONSUMER_NAME", "narrative-engine-1")
	cfg.Broker.BatchSize = int64(getEnvInt("BATCH_SIZE", 10))

	cfg.Ledger.Backend = getEnv("LEDGER_BACKEND", "sqlite")
	cfg.Ledger.SQLitePath = getEnv("LEDGER_SQLITE_PATH", "ledger.db")
	cfg.Ledger.KeyPrefix = getEnv("LEDGER_KEY_PREFIX", "etl:ledger:")

	cfg.Pipeline.QualityThreshold = getEnvFloat("QUALITY_THRESHOLD", 0.7)
	cfg.Pipeline.MaxRetries = getEnvInt("MAX_RETRIES", 3)
	cfg.Pipeline.MessageTimeout = getEnvDuration("MESSAGE_TIMEOUT", 300*time.Second)
	cfg.Pipeline.QuarantineEnabled = getEnvBool("QUARANTINE_ENABLED", true)

	// A pending claim should outlive one full attempt before it is
	// treated as abandoned.
	cfg.Ledger.PendingTTL = getEnvDuration("LEDGER_PENDING_TTL", 2*cfg.Pipeline.MessageTimeout)

	cfg.Metrics.Addr = getEnv("METRICS_ADDR", ":9108")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Pipeline.QualityThreshold < 0 || c.Pipeline.QualityThreshold > 1 {
		return fmt.Errorf("quality threshold must be in [0,1], got %f", c.Pipeline.QualityThreshold)
	}
	if c.Pipeline.MessageTimeout <= 0 {
		return fmt.Errorf("message timeout must be positive, got %s", c.Pipeline.MessageTimeout)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("max retries must be non-negative, got %d", c.Pipeline.MaxRetries)
	}
	switch c.Ledger.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("unknown ledger backend %q", c.Ledger.Backend)
	}
	if c.Storage.OutputBucket == "" {
		return fmt.Errorf("output bucket must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
