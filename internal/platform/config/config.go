package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store and lock drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverSQLite   = "sqlite"
)

// Config is the full process configuration, read from WEALTHCHECK_* variables.
type Config struct {
	Server       Server
	Log          Log          `envPrefix:"LOG_"`
	Orchestrator Orchestrator `envPrefix:"CASE_"`
	Storage      Storage      `envPrefix:"STORE_"`
	Redis        RedisConfig  `envPrefix:"REDIS_"`
	Kafka        Kafka        `envPrefix:"KAFKA_"`
	Reviewer     Reviewer     `envPrefix:"REVIEWER_"`
	Tracing      Tracing      `envPrefix:"OTEL_"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	// WriteTimeout bounds a whole response, including checks driven inline by
	// start and review requests.
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"5m"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Orchestrator tunes case execution.
type Orchestrator struct {
	RetryLimit          int           `env:"RETRY_LIMIT" envDefault:"2"`
	RetryBackoff        time.Duration `env:"RETRY_BACKOFF" envDefault:"250ms"`
	CheckTimeout        time.Duration `env:"CHECK_TIMEOUT" envDefault:"30s"`
	RecoveryConcurrency int           `env:"RECOVERY_CONCURRENCY" envDefault:"4"`
	RiskPolicyPath      string        `env:"RISK_POLICY_PATH"`
	Replanning          bool          `env:"REPLANNING" envDefault:"true"`
}

// Storage selects the case store and the per-case lock backend.
type Storage struct {
	Driver      string        `env:"DRIVER" envDefault:"memory"`
	LockDriver  string        `env:"LOCK_DRIVER" envDefault:"memory"`
	DatabaseURL string        `env:"DATABASE_URL"`
	SQLitePath  string        `env:"SQLITE_PATH" envDefault:"wealthcheck.db"`
	LockTTL     time.Duration `env:"LOCK_TTL" envDefault:"5m"`
	LockWait    time.Duration `env:"LOCK_WAIT" envDefault:"10s"`
}

// RedisConfig configures the shared Redis client.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

// Kafka configures the broker connection and topics. Empty Brokers disables Kafka.
type Kafka struct {
	Brokers           []string `env:"BROKERS" envSeparator:","`
	ConsumerGroup     string   `env:"CONSUMER_GROUP" envDefault:"wealthcheck"`
	CaseRequestsTopic string   `env:"CASE_REQUESTS_TOPIC" envDefault:"wealthcheck.case-requests"`
	DecisionsTopic    string   `env:"DECISIONS_TOPIC" envDefault:"wealthcheck.review-decisions"`
	ReviewsTopic      string   `env:"REVIEWS_TOPIC" envDefault:"wealthcheck.reviews-needed"`
	AuditTopic        string   `env:"AUDIT_TOPIC" envDefault:"wealthcheck.audit"`
	DeadLetterTopic   string   `env:"DEAD_LETTER_TOPIC" envDefault:"wealthcheck.intake-dead-letter"`
	IntakeWorkers     int      `env:"INTAKE_WORKERS" envDefault:"8"`
	Partitions        int32    `env:"PARTITIONS" envDefault:"6"`
	ReplicationFactor int16    `env:"REPLICATION_FACTOR" envDefault:"1"`

	// Transient intake failures are retried this many times before the
	// record is parked on the dead-letter topic.
	IntakeRetries      int           `env:"INTAKE_RETRIES" envDefault:"5"`
	IntakeRetryBackoff time.Duration `env:"INTAKE_RETRY_BACKOFF" envDefault:"200ms"`
	IntakeMaxBackoff   time.Duration `env:"INTAKE_MAX_BACKOFF" envDefault:"10s"`
}

// Reviewer configures reviewer token validation on the review endpoint.
type Reviewer struct {
	SigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	Issuer     string `env:"JWT_ISSUER" envDefault:"wealthcheck"`
	Audience   string `env:"JWT_AUDIENCE" envDefault:"wealthcheck-reviewers"`
}

// Tracing enables OTLP export when Endpoint is set.
type Tracing struct {
	Endpoint    string `env:"ENDPOINT"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"wealthcheck"`
}

// KafkaEnabled reports whether brokers are configured.
func (c Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// Load builds a Config from WEALTHCHECK_* environment variables so main stays lean.
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "WEALTHCHECK_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("config: STORE_DATABASE_URL is required for the postgres store")
		}
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("config: REDIS_URL is required for the redis store")
		}
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Storage.Driver)
	}
	switch c.Storage.LockDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("config: STORE_DATABASE_URL is required for the postgres lock")
		}
	case DriverRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("config: REDIS_URL is required for the redis lock")
		}
	default:
		return fmt.Errorf("config: unknown lock driver %q", c.Storage.LockDriver)
	}
	if c.Orchestrator.RetryLimit < 0 {
		return fmt.Errorf("config: CASE_RETRY_LIMIT must not be negative")
	}
	if strings.TrimSpace(c.Reviewer.SigningKey) == "" {
		return fmt.Errorf("config: REVIEWER_JWT_SIGNING_KEY is required")
	}
	return nil
}
