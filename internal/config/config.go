package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when WALLET_CONFIG is unset.
const DefaultPath = "internal/config/config.yaml"

// Lock modes for acquiring the wallet row.
const (
	LockBlocking   = "blocking"
	LockSkipLocked = "skip_locked"
	LockNoWait     = "nowait"
)

// Outcomes reported once transient retries are exhausted.
const (
	ExhaustedUnavailable       = "unavailable"
	ExhaustedFailedTransaction = "failed_transaction"
)

// MaxRepresentable is the largest value a numeric(18,2) column holds.
var MaxRepresentable = decimal.RequireFromString("9999999999999999.99")

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Log       LogConfig       `yaml:"log"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Retry     RetryConfig     `yaml:"retry"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	ApplicationName string        `yaml:"application_name"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	BalanceTTL time.Duration `yaml:"balance_ttl"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "json" or "console".
	Format string `yaml:"format"`
}

// LedgerConfig tunes the balance mutation engine.
type LedgerConfig struct {
	LockMode          string        `yaml:"lock_mode"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	StatementTimeout  time.Duration `yaml:"statement_timeout"`
	AttemptTimeout    time.Duration `yaml:"attempt_timeout"`
	MaxAmount         string        `yaml:"max_amount"`
	ExhaustedPolicy   string        `yaml:"exhausted_policy"`
	SlowUnitThreshold time.Duration `yaml:"slow_unit_threshold"`
}

// MaxAmountDecimal returns the configured upper bound for a single operation.
func (l LedgerConfig) MaxAmountDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(l.MaxAmount)
	if err != nil {
		return MaxRepresentable
	}
	return d
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Jitter      bool          `yaml:"jitter"`
}

// Load reads yaml file, applies env overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	if p := os.Getenv("WALLET_CONFIG"); p != "" {
		path = p
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, suitable for tests.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() error {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Postgres.DSN = dsn
	}
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		dsn, err := withPassword(c.Postgres.DSN, pw)
		if err != nil {
			return err
		}
		c.Postgres.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = strings.Split(brokers, ",")
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		c.Log.Level = lvl
	}
	if mode := os.Getenv("LEDGER_LOCK_MODE"); mode != "" {
		c.Ledger.LockMode = mode
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT: %w", err)
		}
		c.Server.Port = p
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Postgres.ApplicationName == "" {
		c.Postgres.ApplicationName = "wallet_service"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 80
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 50
	}
	if c.Postgres.ConnMaxLifetime == 0 {
		c.Postgres.ConnMaxLifetime = 30 * time.Minute
	}
	if c.Postgres.ConnMaxIdleTime == 0 {
		c.Postgres.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.Redis.BalanceTTL == 0 {
		c.Redis.BalanceTTL = 30 * time.Second
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "wallet-events"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 100
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 200
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Ledger.LockMode == "" {
		c.Ledger.LockMode = LockBlocking
	}
	if c.Ledger.LockTimeout == 0 {
		c.Ledger.LockTimeout = 10 * time.Second
	}
	if c.Ledger.StatementTimeout == 0 {
		c.Ledger.StatementTimeout = 20 * time.Second
	}
	if c.Ledger.AttemptTimeout == 0 {
		c.Ledger.AttemptTimeout = 30 * time.Second
	}
	if c.Ledger.MaxAmount == "" {
		c.Ledger.MaxAmount = MaxRepresentable.StringFixed(2)
	}
	if c.Ledger.ExhaustedPolicy == "" {
		c.Ledger.ExhaustedPolicy = ExhaustedUnavailable
	}
	if c.Ledger.SlowUnitThreshold == 0 {
		c.Ledger.SlowUnitThreshold = time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = 100 * time.Millisecond
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = 2
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = 2 * time.Second
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Ledger.LockMode {
	case LockBlocking, LockSkipLocked, LockNoWait:
	default:
		errs = append(errs, fmt.Errorf("ledger.lock_mode: unknown mode %q", c.Ledger.LockMode))
	}
	switch c.Ledger.ExhaustedPolicy {
	case ExhaustedUnavailable, ExhaustedFailedTransaction:
	default:
		errs = append(errs, fmt.Errorf("ledger.exhausted_policy: unknown policy %q", c.Ledger.ExhaustedPolicy))
	}
	limit, err := decimal.NewFromString(c.Ledger.MaxAmount)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("ledger.max_amount: %w", err))
	case !limit.IsPositive():
		errs = append(errs, errors.New("ledger.max_amount: must be positive"))
	case limit.GreaterThan(MaxRepresentable):
		errs = append(errs, fmt.Errorf("ledger.max_amount: exceeds %s", MaxRepresentable.StringFixed(2)))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("retry.max_attempts: must be at least 1"))
	}
	if c.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("retry.multiplier: must be >= 1"))
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, errors.New("retry: max_delay must be >= base_delay >= 0"))
	}
	return errors.Join(errs...)
}

// withPassword sets the password of a URL or key/value DSN.
func withPassword(dsn, pw string) (string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		u.User = url.UserPassword(u.User.Username(), pw)
		return u.String(), nil
	}
	quoted := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(pw)
	return strings.TrimSpace(dsn + " password='" + quoted + "'"), nil
}
