/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built wallets that show each part of the engine: the
	allocation waterfall, withdrawal rejection, and the reconciliation of
	overdue transitions at load time.

AVAILABLE SCENARIOS:

	empty-wallet:     No balance, one saved card; every payment goes to the card
	mixed-balance:    150 on-demand and 240 available earnings
	seller-payout:    100 available earnings and a bank account
	pending-earnings: One earning still held, one already past its due time

HOW SCENARIOS WORK:
 1. Build a ledger state for the scenario
 2. Overwrite the user's snapshot in the store
 3. Reload the wallet, which applies overdue transitions and arms the rest

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "mixed-balance", "user_id": "demo"}

NOTE:

	Scenarios overwrite the user's wallet. Only use in development/demo
	environments.
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "empty-wallet",
		Name:        "Empty Wallet",
		Description: "No balance and one saved card: a checkout is charged fully to the card",
	},
	{
		ID:          "mixed-balance",
		Name:        "Mixed Balance",
		Description: "150 on-demand and 240 available earnings: a 300 checkout needs no card",
	},
	{
		ID:          "seller-payout",
		Name:        "Seller Payout",
		Description: "100 available earnings: withdraw 50 succeeds, withdraw 150 is rejected",
	},
	{
		ID:          "pending-earnings",
		Name:        "Pending Earnings",
		Description: "One earning in its holding period and one overdue, applied on load",
	},
}

var scenarioBuilders = map[string]func(now time.Time) wallet.State{
	"empty-wallet":     emptyWalletState,
	"mixed-balance":    mixedBalanceState,
	"seller-payout":    sellerPayoutState,
	"pending-earnings": pendingEarningsState,
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario overwrites a user's wallet with a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.UserID == "" {
		req.UserID = "demo"
	}

	build, ok := scenarioBuilders[req.ScenarioID]
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	wal, err := h.loadScenario(r.Context(), req.UserID, build(time.Now().UTC()))
	if err != nil {
		h.writeWalletError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"wallet":   toWalletDTO(wal.UserID(), wal.State()),
	})
}

func (h *Handler) loadScenario(ctx context.Context, userID string, state wallet.State) (*wallet.Wallet, error) {
	wal, err := h.Registry.Open(ctx, userID)
	if err != nil && !wallet.IsPersistenceOnly(err) {
		return nil, err
	}

	data, err := wallet.EncodeSnapshot(state)
	if err != nil {
		return nil, err
	}
	if err := h.Store.Save(ctx, wallet.SnapshotKey(wal.UserID()), data); err != nil {
		return nil, err
	}
	if err := wal.Reload(ctx); err != nil && !wallet.IsPersistenceOnly(err) {
		return nil, err
	}
	return wal, nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func demoCard(isDefault bool) wallet.PaymentMethod {
	return wallet.PaymentMethod{
		ID:          "pm-visa-4242",
		Type:        wallet.MethodCard,
		Last4:       "4242",
		Brand:       "visa",
		IsDefault:   isDefault,
		ExpiryMonth: 12,
		ExpiryYear:  2030,
	}
}

func emptyWalletState(now time.Time) wallet.State {
	s := wallet.NewState(now)
	s.PaymentMethods = []wallet.PaymentMethod{demoCard(true)}
	return s
}

func mixedBalanceState(now time.Time) wallet.State {
	s := wallet.NewState(now)
	s.OnDemandBalance = decimal.NewFromInt(150)
	s.AvailableEarnings = decimal.NewFromInt(240)
	s.LifetimeEarnings = decimal.NewFromInt(240)
	s.Transactions = []wallet.Transaction{
		completedTx(wallet.TxRefund, 150, "order_98", "Refund for order order_98", now.Add(-2*time.Hour)),
		completedTx(wallet.TxEarning, 240, "order_71", "Earnings from order order_71", now.Add(-96*time.Hour)),
	}
	s.PaymentMethods = []wallet.PaymentMethod{demoCard(true)}
	return s
}

func sellerPayoutState(now time.Time) wallet.State {
	s := wallet.NewState(now)
	s.AvailableEarnings = decimal.NewFromInt(100)
	s.LifetimeEarnings = decimal.NewFromInt(100)
	s.Transactions = []wallet.Transaction{
		completedTx(wallet.TxEarning, 100, "order_12", "Earnings from order order_12", now.Add(-80*time.Hour)),
	}
	s.PaymentMethods = []wallet.PaymentMethod{{
		ID:        "pm-bank-0006",
		Type:      wallet.MethodBank,
		Last4:     "0006",
		Brand:     "chase",
		IsDefault: true,
	}}
	return s
}

func pendingEarningsState(now time.Time) wallet.State {
	s := wallet.NewState(now)
	s.PendingEarnings = decimal.NewFromInt(55)
	s.LifetimeEarnings = decimal.NewFromInt(55)

	held := now.Add(-time.Hour)
	heldDue := held.Add(wallet.DefaultHoldingPeriod)
	overdue := now.Add(-wallet.DefaultHoldingPeriod - time.Hour)
	overdueDue := overdue.Add(wallet.DefaultHoldingPeriod)

	s.Transactions = []wallet.Transaction{
		{
			ID: newScenarioID(), Type: wallet.TxEarning, Amount: decimal.NewFromInt(25),
			Status: wallet.StatusPending, OrderID: "order_1", Description: "Earnings from order order_1",
			CreatedAt: held, DueAt: &heldDue,
		},
		{
			ID: newScenarioID(), Type: wallet.TxEarning, Amount: decimal.NewFromInt(30),
			Status: wallet.StatusPending, OrderID: "order_0", Description: "Earnings from order order_0",
			CreatedAt: overdue, DueAt: &overdueDue,
		},
	}
	return s
}

func completedTx(t wallet.TransactionType, amount int64, orderID, desc string, at time.Time) wallet.Transaction {
	return wallet.Transaction{
		ID:          newScenarioID(),
		Type:        t,
		Amount:      decimal.NewFromInt(amount),
		Status:      wallet.StatusCompleted,
		OrderID:     orderID,
		Description: desc,
		CreatedAt:   at,
		CompletedAt: &at,
	}
}

func newScenarioID() string {
	return uuid.Must(uuid.NewV7()).String()
}
