/*
Package config loads wallet server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. Optional TOML file (path from -config or WALLET_CONFIG)
  3. .env file in the working directory
  4. WALLET_* environment variables

EXAMPLE wallet.toml:

  [server]
  port = "8080"

  [store]
  driver = "sqlite"            # memory | sqlite | redis | postgres
  sqlite_path = "./wallet.db"

  [wallet]
  holding_period = "72h"
  withdrawal_delay = "24h"
  idle_timeout = "30m"         # 0 keeps every wallet in memory

  [payments]
  provider = "local"           # none | local | nats
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Store     StoreConfig     `toml:"store"`
	Wallet    WalletConfig    `toml:"wallet"`
	Payments  PaymentsConfig  `toml:"payments"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Log       LogConfig       `toml:"log"`
}

type ServerConfig struct {
	Port            string   `toml:"port"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

type StoreConfig struct {
	Driver        string `toml:"driver"`
	SQLitePath    string `toml:"sqlite_path"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
	PostgresDSN   string `toml:"postgres_dsn"`
	// Migrate runs goose migrations on startup (postgres only).
	Migrate bool `toml:"migrate"`
}

type WalletConfig struct {
	HoldingPeriod   Duration `toml:"holding_period"`
	WithdrawalDelay Duration `toml:"withdrawal_delay"`
	// IdleTimeout evicts wallets not used for this long. Zero keeps them.
	IdleTimeout Duration `toml:"idle_timeout"`
}

type PaymentsConfig struct {
	Provider      string   `toml:"provider"`
	NatsURL       string   `toml:"nats_url"`
	ChargeSubject string   `toml:"charge_subject"`
	ChargeTimeout Duration `toml:"charge_timeout"`
	// PublishEvents sends ledger events over NATS.
	PublishEvents bool `toml:"publish_events"`
	// Respond serves charge requests with the local approver over NATS.
	Respond bool `toml:"respond"`
}

type SchedulerConfig struct {
	Enabled       bool     `toml:"enabled"`
	CheckInterval Duration `toml:"check_interval"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration decodes TOML strings like "72h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: Duration{30 * time.Second},
			AllowedOrigins:  []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
		Store: StoreConfig{
			Driver:     "sqlite",
			SQLitePath: "./wallet.db",
			RedisAddr:  "localhost:6379",
		},
		Wallet: WalletConfig{
			HoldingPeriod:   Duration{72 * time.Hour},
			WithdrawalDelay: Duration{24 * time.Hour},
			IdleTimeout:     Duration{30 * time.Minute},
		},
		Payments: PaymentsConfig{
			Provider:      "local",
			NatsURL:       "nats://localhost:4222",
			ChargeSubject: "payments.charge",
			ChargeTimeout: Duration{10 * time.Second},
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: Duration{time.Minute},
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration. An empty path falls back to WALLET_CONFIG;
// if that is empty too, no file is read.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("WALLET_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Server.Port, "WALLET_PORT")
	if v := os.Getenv("WALLET_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = strings.Split(v, ",")
	}

	setString(&c.Store.Driver, "WALLET_STORE_DRIVER")
	setString(&c.Store.SQLitePath, "WALLET_SQLITE_PATH")
	setString(&c.Store.RedisAddr, "WALLET_REDIS_ADDR")
	setString(&c.Store.RedisPassword, "WALLET_REDIS_PASSWORD")
	setString(&c.Store.RedisPrefix, "WALLET_REDIS_PREFIX")
	setString(&c.Store.PostgresDSN, "WALLET_POSTGRES_DSN")
	c.Store.RedisDB = getEnvInt("WALLET_REDIS_DB", c.Store.RedisDB)
	c.Store.Migrate = getEnvBool("WALLET_MIGRATE", c.Store.Migrate)

	setString(&c.Payments.Provider, "WALLET_PAYMENTS_PROVIDER")
	setString(&c.Payments.NatsURL, "WALLET_NATS_URL")
	setString(&c.Payments.ChargeSubject, "WALLET_CHARGE_SUBJECT")
	c.Payments.PublishEvents = getEnvBool("WALLET_PUBLISH_EVENTS", c.Payments.PublishEvents)
	c.Payments.Respond = getEnvBool("WALLET_PAYMENTS_RESPOND", c.Payments.Respond)

	c.Scheduler.Enabled = getEnvBool("WALLET_SCHEDULER_ENABLED", c.Scheduler.Enabled)

	setString(&c.Log.Level, "WALLET_LOG_LEVEL")
	setString(&c.Log.Format, "WALLET_LOG_FORMAT")

	durations := []struct {
		dst *Duration
		env string
	}{
		{&c.Wallet.HoldingPeriod, "WALLET_HOLDING_PERIOD"},
		{&c.Wallet.WithdrawalDelay, "WALLET_WITHDRAWAL_DELAY"},
		{&c.Payments.ChargeTimeout, "WALLET_CHARGE_TIMEOUT"},
		{&c.Scheduler.CheckInterval, "WALLET_SCHEDULER_INTERVAL"},
		{&c.Wallet.IdleTimeout, "WALLET_IDLE_TIMEOUT"},
		{&c.Server.ShutdownTimeout, "WALLET_SHUTDOWN_TIMEOUT"},
	}
	for _, d := range durations {
		v := os.Getenv(d.env)
		if v == "" {
			continue
		}
		if err := d.dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.env, v, err)
		}
	}
	return nil
}

// Validate checks driver and provider names and their required settings.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for sqlite"))
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for redis"))
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			errs = append(errs, errors.New("store.postgres_dsn is required for postgres (WALLET_POSTGRES_DSN)"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid store driver %q, must be memory, sqlite, redis or postgres", c.Store.Driver))
	}

	switch c.Payments.Provider {
	case "none", "local":
	case "nats":
		if c.Payments.NatsURL == "" {
			errs = append(errs, errors.New("payments.nats_url is required for nats"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid payments provider %q, must be none, local or nats", c.Payments.Provider))
	}
	if (c.Payments.PublishEvents || c.Payments.Respond) && c.Payments.NatsURL == "" {
		errs = append(errs, errors.New("payments.nats_url is required for events or responder"))
	}

	if c.Wallet.HoldingPeriod.Duration <= 0 {
		errs = append(errs, errors.New("wallet.holding_period must be positive"))
	}
	if c.Wallet.WithdrawalDelay.Duration <= 0 {
		errs = append(errs, errors.New("wallet.withdrawal_delay must be positive"))
	}
	if c.Wallet.IdleTimeout.Duration < 0 {
		errs = append(errs, errors.New("wallet.idle_timeout must not be negative"))
	}
	if c.Scheduler.CheckInterval.Duration <= 0 {
		errs = append(errs, errors.New("scheduler.check_interval must be positive"))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}

	return errors.Join(errs...)
}

// NeedsNATS reports whether any component uses a NATS connection.
func (c Config) NeedsNATS() bool {
	return c.Payments.Provider == "nats" || c.Payments.PublishEvents || c.Payments.Respond
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
