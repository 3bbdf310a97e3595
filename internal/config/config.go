// Package config loads process configuration from struct defaults, an
// optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all sentinel configuration.
type Config struct {
	Solana         SolanaConfig
	Redis          RedisConfig
	Queue          QueueConfig
	Reconnect      ReconnectConfig
	Storage        StorageConfig
	Kafka          KafkaConfig
	Server         ServerConfig
	Logging        LoggingConfig
	Metrics        MetricsConfig
	WorkersEnabled bool `default:"true"`
}

// SolanaConfig holds chain endpoints and detection parameters.
type SolanaConfig struct {
	RPCURL           string   `validate:"required,url"`
	WSURL            string   `validate:"required,url"`
	ProgramID        string   `default:"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8" validate:"required"`
	Instruction      string   `default:"initialize2" validate:"required"`
	ExcludedAccounts []string `default:"[\"So11111111111111111111111111111111111111112\"]"`
	Commitment       string   `default:"confirmed" validate:"oneof=processed confirmed finalized"`
	// RPCRateLimit is requests per second; 0 disables limiting.
	RPCRateLimit float64 `default:"10" validate:"gte=0"`
	RPCBurst     int     `default:"5" validate:"gte=1"`
}

// RedisConfig holds the queue backend connection.
type RedisConfig struct {
	Addr     string `default:"localhost:6379" validate:"required"`
	Password string
	DB       int `default:"0" validate:"gte=0"`
	PoolSize int `default:"20" validate:"gte=1"`
}

// QueueConfig holds job queue and worker settings.
type QueueConfig struct {
	Backend      string        `default:"redis" validate:"oneof=redis memory"`
	Name         string        `default:"solQueue" validate:"required"`
	Delay        time.Duration `default:"1s" validate:"gte=0"`
	MaxAttempts  int           `default:"1" validate:"gte=1"`
	Backoff      time.Duration `default:"1s" validate:"gt=0"`
	Concurrency  int           `default:"5" validate:"gte=1"`
	Lease        time.Duration `default:"30s" validate:"gt=0"`
	PollInterval time.Duration `default:"100ms" validate:"gt=0"`
	DedupTTL     time.Duration `default:"10m" validate:"gt=0"`
	MaxStalls    int           `default:"1" validate:"gte=0"`
}

// ReconnectConfig bounds subscription reconnects.
type ReconnectConfig struct {
	MaxRetries int           `default:"5" validate:"gte=0"`
	BaseDelay  time.Duration `default:"1s" validate:"gt=0"`
	MaxDelay   time.Duration `default:"30s" validate:"gtefield=BaseDelay"`
}

// SupervisorRetries maps MaxRetries to the supervisor's convention, where
// zero selects its default and a negative value is fatal on the first failure.
func (c ReconnectConfig) SupervisorRetries() int {
	if c.MaxRetries == 0 {
		return -1
	}
	return c.MaxRetries
}

// StorageConfig selects the token store.
type StorageConfig struct {
	Backend       string `default:"postgres" validate:"oneof=memory postgres clickhouse"`
	PostgresDSN   string `validate:"required_if=Backend postgres"`
	ClickHouseDSN string `validate:"required_if=Backend clickhouse"`
}

// KafkaConfig holds the optional event publisher.
type KafkaConfig struct {
	Enabled bool
	Brokers string `validate:"required_if=Enabled true"`
	Topic   string `default:"pool-sentinel.events"`
}

// ServerConfig holds the read API listener.
type ServerConfig struct {
	Enabled         bool          `default:"true"`
	Host            string        `default:"0.0.0.0"`
	Port            int           `default:"3000" validate:"gte=0,lte=65535"`
	ShutdownTimeout time.Duration `default:"10s"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `default:"info"`
	Format     string `default:"json" validate:"oneof=json console"`
	OutputPath string `default:"stdout"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Namespace string `default:"pool_sentinel" validate:"required"`
}

// Load reads envFile when it exists, applies defaults, environment
// overrides and then overrides, and validates the result. An empty envFile
// means ".env".
func Load(envFile string, overrides ...func(*Config)) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(dst *string, key string) { *dst = getEnv(key, *dst) }
	num := func(dst *int, key string) { errs = append(errs, getEnvAsInt(dst, key)) }
	dur := func(dst *time.Duration, key string) { errs = append(errs, getEnvAsDuration(dst, key)) }
	flag := func(dst *bool, key string) { errs = append(errs, getEnvAsBool(dst, key)) }

	s := &c.Solana
	str(&s.RPCURL, "SOLANA_RPC_URL")
	str(&s.WSURL, "SOLANA_WS_URL")
	str(&s.ProgramID, "SOLANA_PROGRAM_ID")
	str(&s.Instruction, "SOLANA_INSTRUCTION")
	str(&s.Commitment, "SOLANA_COMMITMENT")
	if v, ok := os.LookupEnv("SOLANA_EXCLUDED_ACCOUNTS"); ok {
		s.ExcludedAccounts = splitList(v)
	}
	if v := os.Getenv("SOLANA_RPC_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SOLANA_RPC_RATE_LIMIT: %w", err))
		}
		s.RPCRateLimit = f
	}
	num(&s.RPCBurst, "SOLANA_RPC_BURST")

	str(&c.Redis.Addr, "REDIS_ADDR")
	str(&c.Redis.Password, "REDIS_PASSWORD")
	num(&c.Redis.DB, "REDIS_DB")
	num(&c.Redis.PoolSize, "REDIS_POOL_SIZE")

	q := &c.Queue
	str(&q.Backend, "QUEUE_BACKEND")
	str(&q.Name, "QUEUE_NAME")
	dur(&q.Delay, "QUEUE_DELAY")
	num(&q.MaxAttempts, "QUEUE_MAX_ATTEMPTS")
	dur(&q.Backoff, "QUEUE_BACKOFF")
	num(&q.Concurrency, "QUEUE_CONCURRENCY")
	dur(&q.Lease, "QUEUE_LEASE")
	dur(&q.PollInterval, "QUEUE_POLL_INTERVAL")
	dur(&q.DedupTTL, "QUEUE_DEDUP_TTL")
	num(&q.MaxStalls, "QUEUE_MAX_STALLS")

	num(&c.Reconnect.MaxRetries, "RECONNECT_MAX_RETRIES")
	dur(&c.Reconnect.BaseDelay, "RECONNECT_BASE_DELAY")
	dur(&c.Reconnect.MaxDelay, "RECONNECT_MAX_DELAY")

	str(&c.Storage.Backend, "STORAGE_BACKEND")
	str(&c.Storage.PostgresDSN, "POSTGRES_DSN")
	str(&c.Storage.ClickHouseDSN, "CLICKHOUSE_DSN")

	flag(&c.Kafka.Enabled, "KAFKA_ENABLED")
	str(&c.Kafka.Brokers, "KAFKA_BROKERS")
	str(&c.Kafka.Topic, "KAFKA_TOPIC")

	flag(&c.Server.Enabled, "SERVER_ENABLED")
	str(&c.Server.Host, "SERVER_HOST")
	num(&c.Server.Port, "PORT")
	dur(&c.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	str(&c.Logging.Level, "LOG_LEVEL")
	str(&c.Logging.Format, "LOG_FORMAT")
	str(&c.Logging.OutputPath, "LOG_OUTPUT")

	str(&c.Metrics.Namespace, "METRICS_NAMESPACE")
	flag(&c.WorkersEnabled, "WORKERS_ENABLED")

	return errors.Join(errs...)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func getEnvAsDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func getEnvAsBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
