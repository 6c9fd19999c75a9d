package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WALLET_CONFIG", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 72*time.Hour, cfg.Wallet.HoldingPeriod.Duration)
	assert.Equal(t, 24*time.Hour, cfg.Wallet.WithdrawalDelay.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Wallet.IdleTimeout.Duration)
	assert.Equal(t, "local", cfg.Payments.Provider)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.False(t, cfg.NeedsNATS())
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A TOML file selecting redis and short durations
	// WHEN: WALLET_HOLDING_PERIOD is also set
	// THEN: The file overrides defaults and the environment overrides the file

	path := filepath.Join(t.TempDir(), "wallet.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
port = "9090"

[store]
driver = "redis"
redis_addr = "cache:6379"
redis_prefix = "test:"

[wallet]
holding_period = "1h"
withdrawal_delay = "30m"

[payments]
provider = "nats"
nats_url = "nats://bus:4222"
charge_timeout = "3s"
`), 0o600))
	t.Setenv("WALLET_HOLDING_PERIOD", "2h")
	t.Setenv("WALLET_REDIS_DB", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "redis", cfg.Store.Driver)
	assert.Equal(t, "cache:6379", cfg.Store.RedisAddr)
	assert.Equal(t, "test:", cfg.Store.RedisPrefix)
	assert.Equal(t, 4, cfg.Store.RedisDB)
	assert.Equal(t, 2*time.Hour, cfg.Wallet.HoldingPeriod.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Wallet.WithdrawalDelay.Duration)
	assert.Equal(t, 3*time.Second, cfg.Payments.ChargeTimeout.Duration)
	assert.True(t, cfg.NeedsNATS())
}

func TestLoad_ZeroSchedulerIntervalRejected(t *testing.T) {
	// GIVEN: WALLET_SCHEDULER_INTERVAL set to zero
	// WHEN: Loading the configuration
	// THEN: Validation fails on the scheduler interval

	t.Setenv("WALLET_CONFIG", "")
	t.Setenv("WALLET_SCHEDULER_INTERVAL", "0s")

	_, err := Load("")
	assert.ErrorContains(t, err, "scheduler.check_interval")
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.toml")
	require.NoError(t, os.WriteFile(path, []byte("[store]\ndriver = \"memory\"\n"), 0o600))
	t.Setenv("WALLET_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_Errors(t *testing.T) {
	t.Setenv("WALLET_CONFIG", "")

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("WALLET_WITHDRAWAL_DELAY", "soon")
		_, err := Load("")
		assert.ErrorContains(t, err, "WALLET_WITHDRAWAL_DELAY")
	})
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown driver":    func(c *Config) { c.Store.Driver = "mongo" },
		"postgres no dsn":   func(c *Config) { c.Store.Driver = "postgres" },
		"unknown provider":  func(c *Config) { c.Payments.Provider = "stripe" },
		"zero holding":      func(c *Config) { c.Wallet.HoldingPeriod.Duration = 0 },
		"negative delay":    func(c *Config) { c.Wallet.WithdrawalDelay.Duration = -time.Hour },
		"zero interval":     func(c *Config) { c.Scheduler.CheckInterval.Duration = 0 },
		"negative interval": func(c *Config) { c.Scheduler.CheckInterval.Duration = -time.Second },
		"negative idle":     func(c *Config) { c.Wallet.IdleTimeout.Duration = -time.Minute },
		"events no nats": func(c *Config) {
			c.Payments.PublishEvents = true
			c.Payments.NatsURL = ""
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}
