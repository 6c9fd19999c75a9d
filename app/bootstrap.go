// Package app wires configuration into a running wallet service.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/warp/wallet-engine/config"
	"github.com/warp/wallet-engine/payments"
	"github.com/warp/wallet-engine/store/postgres"
	storeredis "github.com/warp/wallet-engine/store/redis"
	"github.com/warp/wallet-engine/store/sqlite"
	"github.com/warp/wallet-engine/wallet"
	"github.com/warp/wallet-engine/wallet/store"
)

// Services holds everything built from a Config.
type Services struct {
	Config   config.Config
	Store    wallet.SnapshotStore
	Registry *wallet.Registry
	// Responder is set when the service answers its own NATS charge requests.
	Responder *payments.Responder
}

// Bootstrap builds the store, payment collaborators and registry. The
// returned cleanup closes connections in reverse order.
func Bootstrap(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Services, func(), error) {
	log := logger.With("component", "bootstrap")
	var cleanupFns []func()

	snapshots, closeStore, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, err
	}
	cleanupFns = append(cleanupFns, closeStore)
	log.Info("snapshot store ready", "driver", cfg.Store.Driver)

	var nc *nats.Conn
	if cfg.NeedsNATS() {
		nc, err = payments.Connect(cfg.Payments.NatsURL)
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		cleanupFns = append(cleanupFns, nc.Close)
		log.Info("connected to nats", "url", cfg.Payments.NatsURL)
	}

	opts := wallet.Options{
		HoldingPeriod:   cfg.Wallet.HoldingPeriod.Duration,
		WithdrawalDelay: cfg.Wallet.WithdrawalDelay.Duration,
		Logger:          logger,
	}

	svc := &Services{Config: cfg, Store: snapshots}

	switch cfg.Payments.Provider {
	case "local":
		opts.Processor = payments.NewApprover()
	case "nats":
		opts.Processor = payments.NewNATSProcessor(nc, cfg.Payments.ChargeSubject, cfg.Payments.ChargeTimeout.Duration)
	}
	if cfg.Payments.Respond {
		svc.Responder = payments.NewResponder(nc, cfg.Payments.ChargeSubject, payments.NewApprover())
	}
	if cfg.Payments.PublishEvents {
		opts.Publisher = payments.NewNATSPublisher(nc)
	}

	svc.Registry = wallet.NewRegistry(snapshots, opts)
	svc.Registry.Scheduler().CheckInterval = cfg.Scheduler.CheckInterval.Duration

	return svc, runCleanup(cleanupFns), nil
}

// OpenStore opens the configured snapshot store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (wallet.SnapshotStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemory(), func() {}, nil

	case "sqlite":
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "redis":
		rdb, err := storeredis.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return storeredis.New(rdb, cfg.RedisPrefix), func() { _ = rdb.Close() }, nil

	case "postgres":
		if cfg.Migrate {
			if err := postgres.Migrate(ctx, cfg.PostgresDSN, "up"); err != nil {
				return nil, nil, err
			}
		}
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// NewLogger builds the process logger from config.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts))
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
