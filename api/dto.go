/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the wallet ledger model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

MONEY:
  Amounts are decimal strings in responses ("12.50"). Requests accept a
  JSON number or a decimal string.

VALIDATION:
  Validation is done in handlers and the wallet package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// WALLET
// =============================================================================

// WalletDTO is the balance summary of one wallet.
type WalletDTO struct {
	UserID            string          `json:"userId"`
	OnDemandBalance   decimal.Decimal `json:"onDemandBalance"`
	PendingEarnings   decimal.Decimal `json:"pendingEarnings"`
	AvailableEarnings decimal.Decimal `json:"availableEarnings"`
	// SpendableBalance is what a payment can draw before the card.
	SpendableBalance decimal.Decimal `json:"spendableBalance"`
	LifetimeEarnings decimal.Decimal `json:"lifetimeEarnings"`
	LifetimeSpent    decimal.Decimal `json:"lifetimeSpent"`
	PendingCount     int             `json:"pendingTransactions"`
	DefaultMethodID  string          `json:"defaultPaymentMethodId,omitempty"`
	LastUpdated      time.Time       `json:"lastUpdated"`
	Version          int64           `json:"version"`
}

func toWalletDTO(userID string, s wallet.State) WalletDTO {
	dto := WalletDTO{
		UserID:            userID,
		OnDemandBalance:   s.OnDemandBalance,
		PendingEarnings:   s.PendingEarnings,
		AvailableEarnings: s.AvailableEarnings,
		SpendableBalance:  s.OnDemandBalance.Add(s.AvailableEarnings),
		LifetimeEarnings:  s.LifetimeEarnings,
		LifetimeSpent:     s.LifetimeSpent,
		LastUpdated:       s.LastUpdated,
		Version:           s.Version,
	}
	for _, tx := range s.Transactions {
		if tx.Status == wallet.StatusPending {
			dto.PendingCount++
		}
	}
	for _, pm := range s.PaymentMethods {
		if pm.IsDefault {
			dto.DefaultMethodID = pm.ID
		}
	}
	return dto
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

type TransactionDTO struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Status          string          `json:"status"`
	OrderID         string          `json:"orderId,omitempty"`
	Description     string          `json:"description"`
	CreatedAt       time.Time       `json:"createdAt"`
	CompletedAt     *time.Time      `json:"completedAt,omitempty"`
	DueAt           *time.Time      `json:"dueAt,omitempty"`
	Destination     string          `json:"destination,omitempty"`
	PaymentMethodID string          `json:"paymentMethodId,omitempty"`
	FailureReason   string          `json:"failureReason,omitempty"`
}

func toTransactionDTO(tx wallet.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:              tx.ID,
		Type:            string(tx.Type),
		Amount:          tx.Amount,
		Status:          string(tx.Status),
		OrderID:         tx.OrderID,
		Description:     tx.Description,
		CreatedAt:       tx.CreatedAt,
		CompletedAt:     tx.CompletedAt,
		DueAt:           tx.DueAt,
		Destination:     tx.Destination,
		PaymentMethodID: tx.PaymentMethodID,
		FailureReason:   tx.FailureReason,
	}
}

// TransactionResponse wraps a created transaction. Warning is set when the
// operation applied but its snapshot write failed.
type TransactionResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Wallet      WalletDTO      `json:"wallet"`
	Warning     string         `json:"warning,omitempty"`
}

// EarningRequest is the body of POST /earnings.
type EarningRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	OrderID     string          `json:"orderId"`
	Description string          `json:"description"`
}

// RefundRequest is the body of POST /refunds.
type RefundRequest = EarningRequest

// WithdrawalRequest is the body of POST /withdrawals.
type WithdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Destination string          `json:"destination"`
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	OrderID         string          `json:"orderId"`
	Description     string          `json:"description"`
	PaymentMethodID string          `json:"paymentMethodId"`
}

type BreakdownDTO struct {
	OnDemand decimal.Decimal `json:"onDemand"`
	Earnings decimal.Decimal `json:"earnings"`
	Card     decimal.Decimal `json:"card"`
	Total    decimal.Decimal `json:"total"`
}

func toBreakdownDTO(b wallet.PaymentBreakdown) BreakdownDTO {
	return BreakdownDTO(b)
}

type PaymentResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Breakdown   BreakdownDTO   `json:"breakdown"`
	ChargeID    string         `json:"chargeId,omitempty"`
	Wallet      WalletDTO      `json:"wallet"`
	Warning     string         `json:"warning,omitempty"`
}

// =============================================================================
// PAYMENT METHODS
// =============================================================================

type PaymentMethodDTO struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Last4       string `json:"last4"`
	Brand       string `json:"brand"`
	IsDefault   bool   `json:"isDefault"`
	ExpiryMonth int    `json:"expiryMonth,omitempty"`
	ExpiryYear  int    `json:"expiryYear,omitempty"`
}

func toPaymentMethodDTO(pm wallet.PaymentMethod) PaymentMethodDTO {
	return PaymentMethodDTO{
		ID:          pm.ID,
		Type:        string(pm.Type),
		Last4:       pm.Last4,
		Brand:       pm.Brand,
		IsDefault:   pm.IsDefault,
		ExpiryMonth: pm.ExpiryMonth,
		ExpiryYear:  pm.ExpiryYear,
	}
}

func toPaymentMethodDTOs(pms []wallet.PaymentMethod) []PaymentMethodDTO {
	out := make([]PaymentMethodDTO, len(pms))
	for i, pm := range pms {
		out[i] = toPaymentMethodDTO(pm)
	}
	return out
}

// AddPaymentMethodRequest is the body of POST /payment-methods.
type AddPaymentMethodRequest struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Last4       string `json:"last4"`
	Brand       string `json:"brand"`
	IsDefault   bool   `json:"isDefault"`
	ExpiryMonth int    `json:"expiryMonth"`
	ExpiryYear  int    `json:"expiryYear"`
}

type PaymentMethodsResponse struct {
	PaymentMethods []PaymentMethodDTO `json:"paymentMethods"`
	Warning        string             `json:"warning,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
	UserID     string `json:"user_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
