package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

/* Config is read from a TOML .env file and the environment.
 * Environment variables win; a missing file is not an error.
 */

const (
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

type Config struct {
	Port           string `mapstructure:"PORT"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	Environment    string `mapstructure:"ENVIRONMENT"`
	Source         string `mapstructure:"SOURCE"`
	PayloadVersion string `mapstructure:"PAYLOAD_VERSION"`
	InstanceID     string `mapstructure:"INSTANCE_ID"`

	StoreDriver   string `mapstructure:"STORE_DRIVER"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	PostgresDSN   string `mapstructure:"POSTGRES_DSN"`

	SubscribersFile  string `mapstructure:"SUBSCRIBERS_FILE"`
	SubscribersWatch bool   `mapstructure:"SUBSCRIBERS_WATCH"`

	MaxRetries              int     `mapstructure:"WEBHOOK_MAX_RETRIES"`
	InitialDelayMs          int     `mapstructure:"WEBHOOK_INITIAL_DELAY_MS"`
	MaxDelayMs              int     `mapstructure:"WEBHOOK_MAX_DELAY_MS"`
	BackoffMultiplier       float64 `mapstructure:"WEBHOOK_BACKOFF_MULTIPLIER"`
	CircuitBreakerEnabled   bool    `mapstructure:"WEBHOOK_CIRCUIT_BREAKER_ENABLED"`
	CircuitBreakerThreshold int     `mapstructure:"WEBHOOK_CIRCUIT_BREAKER_THRESHOLD"`
	CircuitBreakerTimeoutMs int     `mapstructure:"WEBHOOK_CIRCUIT_BREAKER_TIMEOUT_MS"`
	IdleIntervalMs          int     `mapstructure:"WEBHOOK_IDLE_INTERVAL_MS"`

	DeliveredTTLHours int    `mapstructure:"WEBHOOK_DELIVERED_TTL_HOURS"`
	FailedTTLHours    int    `mapstructure:"WEBHOOK_FAILED_TTL_HOURS"`
	RetentionSchedule string `mapstructure:"WEBHOOK_RETENTION_SCHEDULE"`
}

var defaults = map[string]any{
	"PORT":            "8080",
	"LOG_LEVEL":       "info",
	"ENVIRONMENT":     "development",
	"SOURCE":          "flow-matrix",
	"PAYLOAD_VERSION": "1.0",
	"INSTANCE_ID":     "",

	"STORE_DRIVER":   DriverRedis,
	"REDIS_ADDR":     "localhost:6379",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,
	"POSTGRES_DSN":   "",

	"SUBSCRIBERS_FILE":  "subscribers.yaml",
	"SUBSCRIBERS_WATCH": true,

	"WEBHOOK_MAX_RETRIES":                3,
	"WEBHOOK_INITIAL_DELAY_MS":           1000,
	"WEBHOOK_MAX_DELAY_MS":               30000,
	"WEBHOOK_BACKOFF_MULTIPLIER":         2.0,
	"WEBHOOK_CIRCUIT_BREAKER_ENABLED":    true,
	"WEBHOOK_CIRCUIT_BREAKER_THRESHOLD":  5,
	"WEBHOOK_CIRCUIT_BREAKER_TIMEOUT_MS": 60000,
	"WEBHOOK_IDLE_INTERVAL_MS":           5000,

	"WEBHOOK_DELIVERED_TTL_HOURS": 168,
	"WEBHOOK_FAILED_TTL_HOURS":    720,
	"WEBHOOK_RETENTION_SCHEDULE":  "@hourly",
}

// GetConfig loads .env from the working directory and the environment
func GetConfig() (*Config, error) {
	return Load(".")
}

// Load reads dir/.env when present, then the environment
func Load(dir string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(".env")
	v.SetConfigType("toml")
	v.AddConfigPath(dir)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config data: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &config, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis store")
		}
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q (want %s or %s)", c.StoreDriver, DriverRedis, DriverPostgres)
	}

	if c.DeliveredTTLHours < 0 || c.FailedTTLHours < 0 {
		return fmt.Errorf("ttl hours cannot be negative")
	}

	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("default retry policy: %w", err)
	}
	return nil
}

// RetryPolicy is the default policy for deliveries without an override
func (c *Config) RetryPolicy() webhook.RetryPolicy {
	return webhook.RetryPolicy{
		MaxRetries:              c.MaxRetries,
		InitialDelay:            time.Duration(c.InitialDelayMs) * time.Millisecond,
		MaxDelay:                time.Duration(c.MaxDelayMs) * time.Millisecond,
		BackoffMultiplier:       c.BackoffMultiplier,
		EnableCircuitBreaker:    c.CircuitBreakerEnabled,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerTimeout:   time.Duration(c.CircuitBreakerTimeoutMs) * time.Millisecond,
	}
}

func (c *Config) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalMs) * time.Millisecond
}

// DeliveredTTL is how long delivered records are kept
func (c *Config) DeliveredTTL() time.Duration {
	return time.Duration(c.DeliveredTTLHours) * time.Hour
}

// FailedTTL is how long failed and circuit_open records are kept
func (c *Config) FailedTTL() time.Duration {
	return time.Duration(c.FailedTTLHours) * time.Hour
}
