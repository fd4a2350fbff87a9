// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	TransportGoChannel = "gochannel"
	TransportKafka     = "kafka"

	IdempotencySQL   = "sql"
	IdempotencyRedis = "redis"
)

// Config is the full process configuration.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	WorkerID string `env:"WORKER_ID"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabaseURL    string `env:"DATABASE_URL"    envDefault:"fulfillment.db"`

	BusTransport         string   `env:"BUS_TRANSPORT"          envDefault:"gochannel"`
	KafkaBrokers         []string `env:"KAFKA_BROKERS"          envDefault:"localhost:9092" envSeparator:","`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP"   envDefault:"fulfillment"`
	KafkaProvisionTopics bool     `env:"KAFKA_PROVISION_TOPICS" envDefault:"true"`
	KafkaTopicPartitions int      `env:"KAFKA_TOPIC_PARTITIONS" envDefault:"3"`

	IdempotencyBackend    string        `env:"IDEMPOTENCY_BACKEND"     envDefault:"sql"`
	RedisAddr             string        `env:"REDIS_ADDR"              envDefault:"localhost:6379"`
	IdempotencyTTL        time.Duration `env:"IDEMPOTENCY_TTL"         envDefault:"24h"`
	IdempotencyLease      time.Duration `env:"IDEMPOTENCY_LEASE"       envDefault:"1m"`
	IdempotencyGCInterval time.Duration `env:"IDEMPOTENCY_GC_INTERVAL" envDefault:"10m"`

	OutboxPollInterval    time.Duration `env:"OUTBOX_POLL_INTERVAL"    envDefault:"1s"`
	OutboxBatchSize       int           `env:"OUTBOX_BATCH_SIZE"       envDefault:"100"`
	OutboxInFlightTimeout time.Duration `env:"OUTBOX_INFLIGHT_TIMEOUT" envDefault:"30s"`
	OutboxPublishTimeout  time.Duration `env:"OUTBOX_PUBLISH_TIMEOUT"  envDefault:"5s"`
	OutboxRetryInitial    time.Duration `env:"OUTBOX_RETRY_INITIAL"    envDefault:"1s"`
	OutboxRetryMax        time.Duration `env:"OUTBOX_RETRY_MAX"        envDefault:"5m"`

	// Empty URLs select the in-process collaborators.
	InventoryURL string `env:"INVENTORY_URL"`
	IdentityURL  string `env:"IDENTITY_URL"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a Config and checks enumerated values.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	switch c.BusTransport {
	case TransportGoChannel, TransportKafka:
	default:
		return fmt.Errorf("unsupported BUS_TRANSPORT %q", c.BusTransport)
	}
	switch c.IdempotencyBackend {
	case IdempotencySQL, IdempotencyRedis:
	default:
		return fmt.Errorf("unsupported IDEMPOTENCY_BACKEND %q", c.IdempotencyBackend)
	}
	if c.BusTransport == TransportKafka && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required for the kafka transport")
	}
	return nil
}
