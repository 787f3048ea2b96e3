package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"

	NotifierLog      = "log"
	NotifierKafka    = "kafka"
	NotifierRabbitMQ = "rabbitmq"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName  string `env:"APP_NAME" envDefault:"Tallybook"`
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StorageDriver     string        `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	SQLitePath        string        `env:"SQLITE_PATH" envDefault:"tallybook.db"`
	DBMaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	LockTimeout       time.Duration `env:"LOCK_TIMEOUT" envDefault:"2s"`
	SQLiteBusyTimeout time.Duration `env:"SQLITE_BUSY_TIMEOUT" envDefault:"2s"`

	RedisURL                   string        `env:"REDIS_URL"`
	RedisTimeout               time.Duration `env:"REDIS_TIMEOUT" envDefault:"500ms"`
	IdempotencyTTL             time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	TransferRateLimitPerMinute int           `env:"TRANSFER_RATE_LIMIT_PER_MINUTE" envDefault:"60"`

	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	JWTSecret      string        `env:"JWT_SECRET"`

	Notifier         string        `env:"NOTIFIER" envDefault:"log"`
	NotifyTimeout    time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"2s"`
	KafkaBrokers     []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic       string        `env:"KAFKA_TOPIC" envDefault:"ledger.transfers"`
	RabbitMQURL      string        `env:"RABBITMQ_URL"`
	RabbitMQExchange string        `env:"RABBITMQ_EXCHANGE" envDefault:"ledger_events"`
}

// Load reads an optional .env file, then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config.Load: read .env: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	return cfg.normalize()
}

// LoadFrom parses configuration from the given variables only.
func LoadFrom(vars map[string]string) (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: vars})
	if err != nil {
		return Config{}, fmt.Errorf("config.LoadFrom: %w", err)
	}
	return cfg.normalize()
}

func (c Config) normalize() (Config, error) {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.StorageDriver = strings.ToLower(strings.TrimSpace(c.StorageDriver))
	c.Notifier = strings.ToLower(strings.TrimSpace(c.Notifier))
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks that every selected backend has what it needs.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set when STORAGE_DRIVER=%s", StoragePostgres)
		}
	case StorageSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH must be set when STORAGE_DRIVER=%s", StorageSQLite)
		}
	default:
		return fmt.Errorf("unsupported STORAGE_DRIVER %q", c.StorageDriver)
	}

	switch c.Notifier {
	case NotifierLog:
	case NotifierKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS must be set when NOTIFIER=%s", NotifierKafka)
		}
	case NotifierRabbitMQ:
		if c.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL must be set when NOTIFIER=%s", NotifierRabbitMQ)
		}
	default:
		return fmt.Errorf("unsupported NOTIFIER %q", c.Notifier)
	}

	if !c.IsDevelopment() && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", c.AppEnv)
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment reports whether the app runs in a local environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
