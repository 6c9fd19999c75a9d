// Command walletctl inspects and reconciles stored wallets without the
// HTTP server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/warp/wallet-engine/app"
	"github.com/warp/wallet-engine/config"
	"github.com/warp/wallet-engine/store/postgres"
	"github.com/warp/wallet-engine/wallet"
)

var (
	configPath  string
	storeDriver string
	outputJSON  bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "walletctl",
	Short: "Inspect and reconcile wallet ledgers",
	Long: `walletctl reads wallet snapshots straight from the configured store.
It uses the same configuration as the server (TOML file, .env, WALLET_*).

show, transactions and breakdown only read the stored snapshot; overdue
transitions are listed as pending. reconcile applies them and writes the
wallet back.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file path")
	rootCmd.PersistentFlags().StringVar(&storeDriver, "store", "", "Store driver override (memory, sqlite, redis, postgres)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Print JSON instead of tables")

	rootCmd.AddCommand(showCmd, transactionsCmd, breakdownCmd, reconcileCmd, migrateCmd)
	transactionsCmd.Flags().IntP("limit", "n", 20, "Maximum transactions to print (0 for all)")
}

// ─── show ───────────────────────────────────────────────────────────────────

var showCmd = &cobra.Command{
	Use:   "show USER_ID",
	Short: "Print balances, pending transactions and payment methods",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshot(cmd.Context(), args[0], func(s wallet.State) error {
			if outputJSON {
				return printJSON(s)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "User:\t%s\n", args[0])
			fmt.Fprintf(tw, "On-demand balance:\t%s\n", s.OnDemandBalance.StringFixed(2))
			fmt.Fprintf(tw, "Pending earnings:\t%s\n", s.PendingEarnings.StringFixed(2))
			fmt.Fprintf(tw, "Available earnings:\t%s\n", s.AvailableEarnings.StringFixed(2))
			fmt.Fprintf(tw, "Lifetime earnings:\t%s\n", s.LifetimeEarnings.StringFixed(2))
			fmt.Fprintf(tw, "Lifetime spent:\t%s\n", s.LifetimeSpent.StringFixed(2))
			fmt.Fprintf(tw, "Version:\t%d\n", s.Version)
			fmt.Fprintf(tw, "Last updated:\t%s\n", s.LastUpdated.Format(time.RFC3339))
			tw.Flush()

			fmt.Println("\nPending:")
			pending := filterPending(s.Transactions)
			printTransactions(pending)
			if n := countOverdue(pending, time.Now()); n > 0 {
				fmt.Printf("  %d overdue; run walletctl reconcile to apply\n", n)
			}

			fmt.Println("\nPayment methods:")
			tw = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, pm := range s.PaymentMethods {
				def := ""
				if pm.IsDefault {
					def = "default"
				}
				fmt.Fprintf(tw, "  %s\t%s\t%s ****%s\t%s\n", pm.ID, pm.Type, pm.Brand, pm.Last4, def)
			}
			return tw.Flush()
		})
	},
}

// ─── transactions ───────────────────────────────────────────────────────────

var transactionsCmd = &cobra.Command{
	Use:   "transactions USER_ID",
	Short: "List transactions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withSnapshot(cmd.Context(), args[0], func(s wallet.State) error {
			txs := s.Transactions
			if limit > 0 && len(txs) > limit {
				txs = txs[:limit]
			}
			if outputJSON {
				return printJSON(txs)
			}
			printTransactions(txs)
			return nil
		})
	},
}

// ─── breakdown ──────────────────────────────────────────────────────────────

var breakdownCmd = &cobra.Command{
	Use:   "breakdown USER_ID TOTAL",
	Short: "Preview how a charge would be split",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		total, err := wallet.ParseAmount("total", args[1])
		if err != nil {
			return err
		}
		return withSnapshot(cmd.Context(), args[0], func(s wallet.State) error {
			b, err := wallet.Allocate(total, s.OnDemandBalance, s.AvailableEarnings)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(b)
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "On-demand:\t%s\n", b.OnDemand.StringFixed(2))
			fmt.Fprintf(tw, "Earnings:\t%s\n", b.Earnings.StringFixed(2))
			fmt.Fprintf(tw, "Card:\t%s\n", b.Card.StringFixed(2))
			fmt.Fprintf(tw, "Total:\t%s\n", b.Total.StringFixed(2))
			return tw.Flush()
		})
	},
}

// ─── reconcile ──────────────────────────────────────────────────────────────

var reconcileCmd = &cobra.Command{
	Use:   "reconcile USER_ID",
	Short: "Apply overdue transitions and persist the wallet",
	Long: `Loading a wallet applies every pending earning and withdrawal whose due
time has passed and writes the result back. Transitions still in the
future are reported but left pending.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWallet(cmd.Context(), args[0], func(w *wallet.Wallet, reg *wallet.Registry) error {
			next, ok := reg.Scheduler().NextDue()
			fmt.Printf("Reconciled %s (version %d)\n", w.UserID(), w.State().Version)
			fmt.Printf("Still scheduled: %d\n", reg.Scheduler().Pending())
			if ok {
				fmt.Printf("Next due: %s\n", next.Format(time.RFC3339))
			}
			return nil
		})
	},
}

// ─── migrate ────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Run postgres schema migrations",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Store.PostgresDSN == "" {
			return fmt.Errorf("WALLET_POSTGRES_DSN or store.postgres_dsn is required")
		}
		command := "up"
		if len(args) == 1 {
			command = args[0]
		}
		return postgres.Migrate(cmd.Context(), cfg.Store.PostgresDSN, command)
	},
}

// ─── helpers ────────────────────────────────────────────────────────────────

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if storeDriver != "" {
		cfg.Store.Driver = storeDriver
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// withSnapshot decodes one stored wallet without reconciling or writing it.
func withSnapshot(ctx context.Context, userID string, fn func(wallet.State) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, closeStore, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	s, err := readSnapshot(ctx, store, userID)
	if err != nil {
		return err
	}
	return fn(s)
}

// readSnapshot returns an empty ledger for a user with nothing stored.
func readSnapshot(ctx context.Context, store wallet.SnapshotStore, userID string) (wallet.State, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return wallet.State{}, wallet.ErrInvalidUserID
	}
	data, err := store.Load(ctx, wallet.SnapshotKey(userID))
	if errors.Is(err, wallet.ErrSnapshotNotFound) || (err == nil && len(data) == 0) {
		return wallet.NewState(time.Now()), nil
	}
	if err != nil {
		return wallet.State{}, fmt.Errorf("load %s: %w", userID, err)
	}
	return wallet.DecodeSnapshot(data)
}

// withWallet opens one wallet from the configured store. Opening applies
// overdue transitions and persists them.
func withWallet(ctx context.Context, userID string, fn func(*wallet.Wallet, *wallet.Registry) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Log)

	store, closeStore, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := wallet.NewRegistry(store, wallet.Options{
		HoldingPeriod:   cfg.Wallet.HoldingPeriod.Duration,
		WithdrawalDelay: cfg.Wallet.WithdrawalDelay.Duration,
		Logger:          logger,
	})
	w, err := reg.Open(ctx, userID)
	if err != nil && !wallet.IsPersistenceOnly(err) {
		return err
	}
	if err != nil {
		logger.Warn("wallet loaded but reconcile write failed", slog.String("error", err.Error()))
	}
	return fn(w, reg)
}

func countOverdue(txs []wallet.Transaction, now time.Time) int {
	n := 0
	for _, tx := range txs {
		if tx.DueAt != nil && !tx.DueAt.After(now) {
			n++
		}
	}
	return n
}

func filterPending(txs []wallet.Transaction) []wallet.Transaction {
	var out []wallet.Transaction
	for _, tx := range txs {
		if tx.Status == wallet.StatusPending {
			out = append(out, tx)
		}
	}
	return out
}

func printTransactions(txs []wallet.Transaction) {
	if len(txs) == 0 {
		fmt.Println("  (none)")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tTYPE\tAMOUNT\tSTATUS\tCREATED\tDUE\tDESCRIPTION")
	for _, tx := range txs {
		due := "-"
		if tx.DueAt != nil {
			due = tx.DueAt.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			tx.ID, tx.Type, tx.Amount.StringFixed(2), tx.Status,
			tx.CreatedAt.Format(time.RFC3339), due, tx.Description)
	}
	tw.Flush()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
