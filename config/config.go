package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Shoto0095/rafiki/internal/domain"
	"github.com/Shoto0095/rafiki/internal/pkg/lifecycle"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Worker    WorkerConfig
	Lifecycle lifecycle.Policy
	Quote     QuoteConfig
	Connector ConnectorConfig
	Otel      OtelConfig
	// Rates is the static rate table, e.g. "USD:EUR=0.90-0.92,EUR:USD=1.08-1.09".
	Rates string
}

type ServerConfig struct {
	Port     string
	GRPCPort string
	Env      string
	// StoreDriver is "postgres" or "memory".
	StoreDriver string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// URL builds the pgx connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addrs      []string
	Password   string
	DB         int
	UseCluster bool
	RateTTL    time.Duration
}

// Enabled reports whether Redis-backed leases, signals and rate caching are in use.
func (r RedisConfig) Enabled() bool { return len(r.Addrs) > 0 }

type KafkaConfig struct {
	Brokers []string
	Topic   string
	Async   bool
}

type WorkerConfig struct {
	Enabled       bool
	Concurrency   int
	PollInterval  time.Duration
	LeaseTTL      time.Duration
	BatchSize     int
	MaxInlineWait time.Duration
}

type QuoteConfig struct {
	Slippage        domain.Rate
	Lifespan        time.Duration
	MaxPacketAmount uint64
}

type ConnectorConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type OtelConfig struct {
	Enabled     bool
	ServiceName string
	SampleRatio float64
}

// Load reads configuration from the environment, after loading a .env file when present.
func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", zap.Error(err))
	}

	defaults := lifecycle.DefaultPolicy()
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8030"),
			GRPCPort:    getEnv("GRPC_PORT", "9030"),
			Env:         getEnv("ENVIRONMENT", "development"),
			StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "outgoing_payments"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 20)),
		},
		Redis: RedisConfig{
			Addrs:      getEnvSlice("REDIS_ADDRS", nil),
			Password:   getEnv("REDIS_PASSWORD", ""),
			DB:         getEnvInt("REDIS_DB", 0),
			UseCluster: getEnvBool("REDIS_CLUSTER", false),
			RateTTL:    getEnvDuration("RATE_CACHE_TTL", 15*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: getEnvSlice("KAFKA_BROKERS", nil),
			Topic:   getEnv("KAFKA_TOPIC", "outgoing-payment-events"),
			Async:   getEnvBool("KAFKA_ASYNC", true),
		},
		Worker: WorkerConfig{
			Enabled:       getEnvBool("WORKER_ENABLED", true),
			Concurrency:   getEnvInt("WORKER_CONCURRENCY", 4),
			PollInterval:  getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
			LeaseTTL:      getEnvDuration("WORKER_LEASE_TTL", 2*time.Minute),
			BatchSize:     getEnvInt("WORKER_BATCH_SIZE", 50),
			MaxInlineWait: getEnvDuration("WORKER_MAX_INLINE_WAIT", 0),
		},
		Lifecycle: lifecycle.Policy{
			MaxAttempts:         uint32(getEnvInt("LIFECYCLE_MAX_ATTEMPTS", int(defaults.MaxAttempts))),
			InitialBackoff:      getEnvDuration("LIFECYCLE_BACKOFF_INITIAL", defaults.InitialBackoff),
			MaxBackoff:          getEnvDuration("LIFECYCLE_BACKOFF_MAX", defaults.MaxBackoff),
			Multiplier:          getEnvFloat("LIFECYCLE_BACKOFF_MULTIPLIER", defaults.Multiplier),
			RandomizationFactor: getEnvFloat("LIFECYCLE_BACKOFF_JITTER", defaults.RandomizationFactor),
		},
		Quote: QuoteConfig{
			Lifespan:        getEnvDuration("QUOTE_LIFESPAN", 5*time.Minute),
			MaxPacketAmount: getEnvUint("QUOTE_MAX_PACKET_AMOUNT", 1<<20),
		},
		Connector: ConnectorConfig{
			BaseURL: getEnv("CONNECTOR_URL", ""),
			APIKey:  getEnv("CONNECTOR_API_KEY", ""),
			Timeout: getEnvDuration("CONNECTOR_TIMEOUT", 30*time.Second),
		},
		Otel: OtelConfig{
			Enabled:     getEnvBool("OTEL_ENABLED", false),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "outgoing-payments"),
			SampleRatio: getEnvFloat("OTEL_SAMPLE_RATIO", 1),
		},
		Rates: getEnv("RATES", "USD:EUR=0.90-0.92,EUR:USD=1.08-1.10"),
	}

	policy, err := lifecycle.ParseExpiryPolicy(getEnv("LIFECYCLE_QUOTE_EXPIRY", string(defaults.QuoteExpiry)))
	if err != nil {
		return nil, err
	}
	cfg.Lifecycle.QuoteExpiry = policy

	if cfg.Quote.Slippage, err = domain.ParseRate(getEnv("QUOTE_SLIPPAGE", "0.01")); err != nil {
		return nil, fmt.Errorf("invalid QUOTE_SLIPPAGE: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger.Info("configuration loaded",
		zap.String("env", cfg.Server.Env),
		zap.String("store_driver", cfg.Server.StoreDriver),
		zap.Bool("redis", cfg.Redis.Enabled()),
		zap.Int("kafka_brokers", len(cfg.Kafka.Brokers)),
		zap.Bool("connector", cfg.Connector.BaseURL != ""))
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.StoreDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Server.StoreDriver)
	}
	if c.Lifecycle.MaxAttempts == 0 {
		return fmt.Errorf("LIFECYCLE_MAX_ATTEMPTS must be greater than 0")
	}
	if c.Quote.MaxPacketAmount == 0 {
		return fmt.Errorf("QUOTE_MAX_PACKET_AMOUNT must be greater than 0")
	}
	if c.Worker.Enabled && c.Connector.BaseURL != "" && c.Worker.LeaseTTL <= c.Connector.Timeout {
		return fmt.Errorf("WORKER_LEASE_TTL (%s) must exceed CONNECTOR_TIMEOUT (%s)", c.Worker.LeaseTTL, c.Connector.Timeout)
	}
	if c.Quote.Slippage.Sign() < 0 {
		return fmt.Errorf("QUOTE_SLIPPAGE must not be negative")
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
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err == nil {
			return boolVal
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

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
