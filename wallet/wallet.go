package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

const (
	DefaultHoldingPeriod   = 72 * time.Hour
	DefaultWithdrawalDelay = 24 * time.Hour
)

// Options configures wallets opened through a Registry.
type Options struct {
	// HoldingPeriod is how long an earning stays pending before it becomes
	// available.
	HoldingPeriod time.Duration
	// WithdrawalDelay is how long a withdrawal stays pending before it is
	// marked completed.
	WithdrawalDelay time.Duration

	// Processor charges the card portion of a payment. Nil means payments
	// that need a card fail with ErrProcessorUnavailable.
	Processor PaymentProcessor
	// Publisher receives ledger events. Optional.
	Publisher EventPublisher

	Now    func() time.Time
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.HoldingPeriod <= 0 {
		o.HoldingPeriod = DefaultHoldingPeriod
	}
	if o.WithdrawalDelay <= 0 {
		o.WithdrawalDelay = DefaultWithdrawalDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// =============================================================================
// WALLET - One user's ledger with a single writer
// =============================================================================

// Wallet serializes every mutation of one user's ledger. Each operation
// validates, mutates, persists and arms its transition while holding mu;
// the only release inside an operation is the awaited card charge.
type Wallet struct {
	userID string
	key    string
	store  SnapshotStore
	sched  *TransitionScheduler
	opts   Options
	logger *slog.Logger

	mu    sync.Mutex
	state State
}

func newWallet(userID string, store SnapshotStore, sched *TransitionScheduler, opts Options) *Wallet {
	key := SnapshotKey(userID)
	return &Wallet{
		userID: userID,
		key:    key,
		store:  store,
		sched:  sched,
		opts:   opts,
		logger: opts.Logger.With("component", "wallet", "key", key),
		state:  NewState(opts.Now()),
	}
}

func (w *Wallet) UserID() string { return w.userID }

// State returns a deep copy of the ledger.
func (w *Wallet) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Clone()
}

// Transactions returns the transactions, newest first.
func (w *Wallet) Transactions() []Transaction {
	return w.State().Transactions
}

func (w *Wallet) PaymentMethods() []PaymentMethod {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]PaymentMethod{}, w.state.PaymentMethods...)
}

// Transaction looks up one transaction by id.
func (w *Wallet) Transaction(id string) (Transaction, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, ok := w.state.transaction(id)
	if !ok {
		return Transaction{}, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	return tx.clone(), nil
}

// =============================================================================
// OPERATIONS
// =============================================================================

// AddEarning records seller income. The amount is pending until the holding
// period elapses, then moves to available earnings.
func (w *Wallet) AddEarning(ctx context.Context, amount decimal.Decimal, orderID, description string) (tx Transaction, err error) {
	timer := prometheus.NewTimer(operationDuration.WithLabelValues("add_earning"))
	defer timer.ObserveDuration()
	defer func() { observe("add_earning", err) }()

	if err := ValidateAmount("amount", amount); err != nil {
		return Transaction{}, err
	}
	if description == "" {
		description = "Earnings"
		if orderID != "" {
			description = "Earnings from order " + orderID
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.opts.Now()
	due := now.Add(w.opts.HoldingPeriod)
	tx = Transaction{
		ID:          newID(),
		Type:        TxEarning,
		Amount:      amount,
		Status:      StatusPending,
		OrderID:     orderID,
		Description: description,
		CreatedAt:   now,
		DueAt:       &due,
	}

	w.state.PendingEarnings = w.state.PendingEarnings.Add(amount)
	w.state.LifetimeEarnings = w.state.LifetimeEarnings.Add(amount)
	w.state.prepend(tx)

	err = w.persistLocked(ctx, "add_earning")
	w.sched.arm(w, w.key, tx.ID, due)
	w.publishLocked(EventTransactionCreated, tx)

	w.logger.Info("earning added", "tx_id", tx.ID, "amount", amount.String(), "due_at", due)
	return tx.clone(), err
}

// WithdrawFunds pays out available earnings. The amount leaves the ledger
// immediately; the withdrawal completes after the withdrawal delay.
func (w *Wallet) WithdrawFunds(ctx context.Context, amount decimal.Decimal, destination string) (tx Transaction, err error) {
	timer := prometheus.NewTimer(operationDuration.WithLabelValues("withdraw"))
	defer timer.ObserveDuration()
	defer func() { observe("withdraw", err) }()

	if err := ValidateAmount("amount", amount); err != nil {
		return Transaction{}, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if amount.GreaterThan(w.state.AvailableEarnings) {
		return Transaction{}, &InsufficientFundsError{
			Available: w.state.AvailableEarnings,
			Requested: amount,
		}
	}

	now := w.opts.Now()
	due := now.Add(w.opts.WithdrawalDelay)
	description := "Withdrawal"
	if destination != "" {
		description = "Withdrawal to " + destination
	}
	tx = Transaction{
		ID:          newID(),
		Type:        TxWithdrawal,
		Amount:      amount,
		Status:      StatusPending,
		Description: description,
		CreatedAt:   now,
		DueAt:       &due,
		Destination: destination,
	}

	w.state.AvailableEarnings = w.state.AvailableEarnings.Sub(amount)
	w.state.prepend(tx)

	err = w.persistLocked(ctx, "withdraw")
	w.sched.arm(w, w.key, tx.ID, due)
	w.publishLocked(EventTransactionCreated, tx)

	w.logger.Info("withdrawal requested", "tx_id", tx.ID, "amount", amount.String(), "due_at", due)
	return tx.clone(), err
}

// Refund credits the on-demand balance. It completes immediately.
func (w *Wallet) Refund(ctx context.Context, amount decimal.Decimal, orderID, description string) (tx Transaction, err error) {
	timer := prometheus.NewTimer(operationDuration.WithLabelValues("refund"))
	defer timer.ObserveDuration()
	defer func() { observe("refund", err) }()

	if err := ValidateAmount("amount", amount); err != nil {
		return Transaction{}, err
	}
	if description == "" {
		description = "Refund"
		if orderID != "" {
			description = "Refund for order " + orderID
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.opts.Now()
	tx = Transaction{
		ID:          newID(),
		Type:        TxRefund,
		Amount:      amount,
		Status:      StatusCompleted,
		OrderID:     orderID,
		Description: description,
		CreatedAt:   now,
		CompletedAt: &now,
	}

	w.state.OnDemandBalance = w.state.OnDemandBalance.Add(amount)
	w.state.prepend(tx)

	err = w.persistLocked(ctx, "refund")
	w.publishLocked(EventTransactionCreated, tx)
	return tx.clone(), err
}

// CalculatePaymentBreakdown previews how total would be split. Read-only.
func (w *Wallet) CalculatePaymentBreakdown(total decimal.Decimal) (PaymentBreakdown, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Allocate(total, w.state.OnDemandBalance, w.state.AvailableEarnings)
}

// Reload re-reads the snapshot, applies overdue transitions and re-arms
// the rest. On error the in-memory ledger is left as it was.
func (w *Wallet) Reload(ctx context.Context) (err error) {
	defer func() { observe("reload", err) }()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadLocked(ctx)
}

// evictable reports whether the wallet is unlocked and holds no pending
// transaction. A card charge in flight leaves its spending pending.
func (w *Wallet) evictable() bool {
	if !w.mu.TryLock() {
		return false
	}
	defer w.mu.Unlock()
	for _, tx := range w.state.Transactions {
		if tx.Status == StatusPending {
			return false
		}
	}
	return true
}

// =============================================================================
// LOAD AND RECONCILE
// =============================================================================

func (w *Wallet) loadLocked(ctx context.Context) error {
	data, err := w.store.Load(ctx, w.key)
	if errors.Is(err, ErrSnapshotNotFound) || (err == nil && len(data) == 0) {
		w.state = NewState(w.opts.Now())
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", w.key, err)
	}

	st, err := DecodeSnapshot(data)
	if err != nil {
		var ce *CorruptSnapshotError
		if errors.As(err, &ce) {
			ce.Key = w.key
		}
		return err
	}
	prev := w.state
	w.state = st
	err = w.reconcileLocked(ctx)
	if err != nil && !IsPersistenceOnly(err) {
		w.state = prev
	}
	return err
}

// reconcileLocked applies overdue transitions and arms future ones.
// Snapshots written before due times were persisted get them backfilled
// from the creation time.
func (w *Wallet) reconcileLocked(ctx context.Context) error {
	now := w.opts.Now()
	dirty := false
	var applied []Transaction

	for i := range w.state.Transactions {
		tx := &w.state.Transactions[i]
		if tx.Status != StatusPending {
			continue
		}
		if tx.DueAt == nil {
			switch tx.Type {
			case TxEarning:
				due := tx.CreatedAt.Add(w.opts.HoldingPeriod)
				tx.DueAt = &due
				dirty = true
			case TxWithdrawal:
				due := tx.CreatedAt.Add(w.opts.WithdrawalDelay)
				tx.DueAt = &due
				dirty = true
			}
		}
		if !tx.IsScheduled() {
			continue
		}
		if tx.DueAt.After(now) {
			w.sched.arm(w, w.key, tx.ID, *tx.DueAt)
			continue
		}
		if err := w.transitionLocked(tx, now, "reconcile"); err != nil {
			return err
		}
		applied = append(applied, tx.clone())
		dirty = true
	}

	if !dirty {
		return nil
	}
	err := w.persistLocked(ctx, "reconcile")
	for _, tx := range applied {
		w.publishLocked(EventTransitionApplied, tx)
	}
	if len(applied) > 0 {
		w.logger.Info("reconciled overdue transitions", "applied", len(applied))
	}
	return err
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// applyTransition fires a scheduled transition. It reports false without an
// error when the transaction already left pending.
func (w *Wallet) applyTransition(ctx context.Context, txID string, trigger string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	tx, ok := w.state.transaction(txID)
	if !ok {
		// A reload replaced the ledger after this entry was armed.
		w.logger.Debug("armed transaction no longer in ledger", "tx_id", txID)
		return false, nil
	}
	if !tx.IsScheduled() {
		return false, nil
	}
	if err := w.transitionLocked(tx, w.opts.Now(), trigger); err != nil {
		return false, err
	}

	err := w.persistLocked(ctx, "transition")
	w.publishLocked(EventTransitionApplied, *tx)
	return true, err
}

func (w *Wallet) transitionLocked(tx *Transaction, now time.Time, trigger string) error {
	if tx.Type == TxEarning {
		if w.state.PendingEarnings.LessThan(tx.Amount) {
			return &CorruptSnapshotError{
				Key:    w.key,
				Reason: fmt.Sprintf("pending earnings %s below earning %s", w.state.PendingEarnings, tx.ID),
			}
		}
		w.state.PendingEarnings = w.state.PendingEarnings.Sub(tx.Amount)
		w.state.AvailableEarnings = w.state.AvailableEarnings.Add(tx.Amount)
	}
	tx.Status = StatusCompleted
	tx.CompletedAt = &now

	transitionsTotal.WithLabelValues(string(tx.Type), trigger).Inc()
	w.logger.Debug("transition applied", "tx_id", tx.ID, "type", tx.Type, "trigger", trigger)
	return nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// persistLocked writes the snapshot. A failure leaves the in-memory mutation
// in place and is returned as *PersistenceError.
func (w *Wallet) persistLocked(ctx context.Context, op string) error {
	w.state.Version++
	w.state.LastUpdated = w.opts.Now()

	data, err := EncodeSnapshot(w.state)
	if err == nil {
		err = w.store.Save(ctx, w.key, data)
	}
	if err != nil {
		persistenceFailuresTotal.Inc()
		w.logger.Error("snapshot write failed", "op", op, "version", w.state.Version, "error", err)
		return &PersistenceError{Key: w.key, Op: op, Err: err}
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

// EventPublisher delivers ledger events. Delivery is best effort.
type EventPublisher interface {
	Publish(subject string, data []byte) error
}

type EventKind string

const (
	EventTransactionCreated EventKind = "transaction.created"
	EventTransactionSettled EventKind = "transaction.settled"
	EventTransitionApplied  EventKind = "transition.applied"
)

// Event is the payload published for every ledger change.
type Event struct {
	Kind              EventKind       `json:"kind"`
	UserID            string          `json:"userId"`
	Transaction       Transaction     `json:"transaction"`
	OnDemandBalance   decimal.Decimal `json:"onDemandBalance"`
	PendingEarnings   decimal.Decimal `json:"pendingEarnings"`
	AvailableEarnings decimal.Decimal `json:"availableEarnings"`
	Version           int64           `json:"version"`
}

// Subject returns the publish subject for an event.
func (e Event) Subject() string {
	if e.Kind == EventTransitionApplied {
		return "wallet.transitions." + string(e.Transaction.Type)
	}
	return "wallet.transactions." + string(e.Transaction.Type)
}

func (w *Wallet) publishLocked(kind EventKind, tx Transaction) {
	if w.opts.Publisher == nil {
		return
	}
	ev := Event{
		Kind:              kind,
		UserID:            w.userID,
		Transaction:       tx,
		OnDemandBalance:   w.state.OnDemandBalance,
		PendingEarnings:   w.state.PendingEarnings,
		AvailableEarnings: w.state.AvailableEarnings,
		Version:           w.state.Version,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		w.logger.Warn("encode event", "error", err)
		return
	}
	if err := w.opts.Publisher.Publish(ev.Subject(), data); err != nil {
		w.logger.Warn("publish event", "subject", ev.Subject(), "error", err)
	}
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}
