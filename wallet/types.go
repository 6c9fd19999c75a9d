/*
Package wallet provides the wallet ledger and payment-splitting engine.

PURPOSE:
  Tracks a single user's marketplace wallet: money loaded directly by the
  user (on-demand balance), seller income still inside its holding period
  (pending earnings), and seller income that can be spent or withdrawn
  (available earnings). Charges are split across those buckets with a
  fixed priority, and whatever the wallet cannot cover goes to a card.

KEY CONCEPTS IN THIS FILE (types.go):
  - State: the in-memory ledger for one user
  - Transaction: an economic event (earning, spending, withdrawal, refund)
  - PaymentMethod: a saved card or bank account
  - PaymentBreakdown: how one charge is split across buckets and card

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Validate first: an operation either fully applies or never starts
  3. Monotonic status: transactions only move out of pending, once
  4. Durable schedule: due times live on the transaction, not in a timer

USAGE:
  reg := wallet.NewRegistry(store, wallet.Options{})
  w, _ := reg.Open(ctx, "user-42")
  b, _ := w.CalculatePaymentBreakdown(decimal.NewFromInt(300))

SEE ALSO:
  - allocation.go: the greedy waterfall
  - wallet.go: ledger operations
  - scheduler.go: delayed transitions
  - snapshot.go: snapshot codec and store interface
*/
package wallet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionType string

const (
	TxEarning    TransactionType = "earning"    // Income from a completed sale
	TxSpending   TransactionType = "spending"   // Checkout charge
	TxWithdrawal TransactionType = "withdrawal" // Payout of available earnings
	TxRefund     TransactionType = "refund"     // Credit back to on-demand balance
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Transaction is immutable once created except for Status, CompletedAt and
// FailureReason, which change at most once when the transaction leaves pending.
type Transaction struct {
	ID          string            `json:"id"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Status      TransactionStatus `json:"status"`
	OrderID     string            `json:"orderId,omitempty"`
	Description string            `json:"description"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`

	// DueAt is when a scheduled transition fires. Set only on pending
	// earnings and withdrawals.
	DueAt *time.Time `json:"dueAt,omitempty"`

	Destination     string `json:"destination,omitempty"`     // withdrawal target
	PaymentMethodID string `json:"paymentMethodId,omitempty"` // card used for a spending residual
	FailureReason   string `json:"failureReason,omitempty"`
}

// IsScheduled reports whether the transaction waits on the transition scheduler.
func (t Transaction) IsScheduled() bool {
	return t.Status == StatusPending && t.DueAt != nil &&
		(t.Type == TxEarning || t.Type == TxWithdrawal)
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethodType string

const (
	MethodCard PaymentMethodType = "card"
	MethodBank PaymentMethodType = "bank"
)

type PaymentMethod struct {
	ID          string            `json:"id"`
	Type        PaymentMethodType `json:"type"`
	Last4       string            `json:"last4"`
	Brand       string            `json:"brand"`
	IsDefault   bool              `json:"isDefault"`
	ExpiryMonth int               `json:"expiryMonth,omitempty"`
	ExpiryYear  int               `json:"expiryYear,omitempty"`
}

// =============================================================================
// PAYMENT BREAKDOWN
// =============================================================================

// PaymentBreakdown splits a charge. OnDemand + Earnings + Card == Total.
type PaymentBreakdown struct {
	OnDemand decimal.Decimal `json:"onDemand"`
	Earnings decimal.Decimal `json:"earnings"`
	Card     decimal.Decimal `json:"card"`
	Total    decimal.Decimal `json:"total"`
}

// WalletCovered is the part of the charge paid from wallet buckets.
func (b PaymentBreakdown) WalletCovered() decimal.Decimal {
	return b.OnDemand.Add(b.Earnings)
}

func (b PaymentBreakdown) NeedsCard() bool { return b.Card.IsPositive() }

// =============================================================================
// STATE
// =============================================================================

// State is one user's ledger. It is owned by a *Wallet; callers only ever
// see copies.
type State struct {
	OnDemandBalance   decimal.Decimal `json:"onDemandBalance"`
	PendingEarnings   decimal.Decimal `json:"pendingEarnings"`
	AvailableEarnings decimal.Decimal `json:"availableEarnings"`
	LifetimeEarnings  decimal.Decimal `json:"lifetimeEarnings"`
	LifetimeSpent     decimal.Decimal `json:"lifetimeSpent"`

	// Newest first.
	Transactions   []Transaction   `json:"transactions"`
	PaymentMethods []PaymentMethod `json:"paymentMethods"`

	LastUpdated time.Time `json:"lastUpdated"`
	Version     int64     `json:"version"`
}

// NewState returns the default empty ledger.
func NewState(now time.Time) State {
	return State{
		OnDemandBalance:   decimal.Zero,
		PendingEarnings:   decimal.Zero,
		AvailableEarnings: decimal.Zero,
		LifetimeEarnings:  decimal.Zero,
		LifetimeSpent:     decimal.Zero,
		Transactions:      []Transaction{},
		PaymentMethods:    []PaymentMethod{},
		LastUpdated:       now,
	}
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Transactions = make([]Transaction, len(s.Transactions))
	for i, tx := range s.Transactions {
		out.Transactions[i] = tx.clone()
	}
	out.PaymentMethods = append([]PaymentMethod{}, s.PaymentMethods...)
	return out
}

func (t Transaction) clone() Transaction {
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	if t.DueAt != nil {
		at := *t.DueAt
		t.DueAt = &at
	}
	return t
}

// transaction returns a pointer into Transactions for in-place status changes.
func (s *State) transaction(id string) (*Transaction, bool) {
	for i := range s.Transactions {
		if s.Transactions[i].ID == id {
			return &s.Transactions[i], true
		}
	}
	return nil, false
}

// prepend keeps Transactions newest first.
func (s *State) prepend(tx Transaction) {
	s.Transactions = append([]Transaction{tx}, s.Transactions...)
}

// checkInvariants is used after decoding untrusted snapshots.
func (s State) checkInvariants() error {
	buckets := map[string]decimal.Decimal{
		"onDemandBalance":   s.OnDemandBalance,
		"pendingEarnings":   s.PendingEarnings,
		"availableEarnings": s.AvailableEarnings,
	}
	for name, v := range buckets {
		if v.IsNegative() {
			return &CorruptSnapshotError{Reason: name + " is negative"}
		}
	}
	held := decimal.Zero
	for _, tx := range s.Transactions {
		if tx.Type == TxEarning && tx.Status == StatusPending {
			held = held.Add(tx.Amount)
		}
	}
	if !held.Equal(s.PendingEarnings) {
		return &CorruptSnapshotError{
			Reason: fmt.Sprintf("pendingEarnings %s does not match pending earnings total %s", s.PendingEarnings, held),
		}
	}
	defaults := 0
	for _, pm := range s.PaymentMethods {
		if pm.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return &CorruptSnapshotError{Reason: "more than one default payment method"}
	}
	return nil
}
