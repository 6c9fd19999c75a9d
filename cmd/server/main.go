/*
main.go - Application entry point

PURPOSE:
  Starts the wallet engine: HTTP API, transition scheduler, and optionally
  the NATS charge responder. Handles graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load configuration (defaults, TOML file, .env, WALLET_* env)
  3. Bootstrap store, payment processor and wallet registry
  4. Configure HTTP router
  5. Run all servers until SIGINT/SIGTERM

COMMAND-LINE FLAGS:
  -config  Path to a TOML config file (default: $WALLET_CONFIG)
  -port    HTTP server port, overrides config
  -db      SQLite database path, overrides config and selects sqlite
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (shutdown_timeout, 30s default)
  3. Stop the scheduler; armed due times stay persisted on the ledgers
  4. Close store and NATS connections

EXAMPLES:
  ./server -db="./data/wallet.db"
  WALLET_STORE_DRIVER=postgres WALLET_POSTGRES_DSN=postgres://... ./server
  ./server -config=./wallet.toml -port=3000

SEE ALSO:
  - config/config.go: Configuration sources
  - app/bootstrap.go: Dependency wiring
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/warp/wallet-engine/api"
	"github.com/warp/wallet-engine/app"
	"github.com/warp/wallet-engine/config"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "TOML config file path")
	port := flag.String("port", "", "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.SQLitePath = *dbPath
	}

	logger := app.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, cleanup, err := app.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to bootstrap", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	handler := api.NewHandler(svc.Registry, svc.Store, logger)
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	servers := []app.Server{app.NewHTTPServer(":"+cfg.Server.Port, router)}
	if cfg.Scheduler.Enabled {
		servers = append(servers, app.NewSchedulerServer(svc.Registry.Scheduler()))
	} else {
		logger.Warn("scheduler disabled; transitions apply only on reload")
	}
	if idle := cfg.Wallet.IdleTimeout.Duration; idle > 0 {
		servers = append(servers, app.NewPrunerServer(svc.Registry, idle))
	}
	if svc.Responder != nil {
		servers = append(servers, app.NewResponderServer(svc.Responder.Start))
	}

	logger.Info("wallet engine starting", "port", cfg.Server.Port, "store", cfg.Store.Driver,
		"payments", cfg.Payments.Provider)

	if err := app.NewApp(cfg.Server.ShutdownTimeout.Duration, servers...).Run(ctx); err != nil {
		logger.Error("server failed", "error", err)
		cleanup()
		os.Exit(1)
	}

	logger.Info("wallet engine stopped")
}
