/*
errors.go - Error types for the wallet engine

PURPOSE:
  All wallet errors in one place. Callers classify with errors.Is against
  the sentinels; structured errors carry the numbers behind a rejection.

ERROR CATEGORIES:
  1. Validation errors - bad amounts, unknown payment methods
  2. Funds errors - a bucket cannot cover the request
  3. Collaborator errors - the card processor declined or is missing
  4. Storage errors - snapshot could not be read or written

SEE ALSO:
  - wallet.go: returns these errors
  - api/handlers.go: maps them to HTTP status codes
*/
package wallet

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for non-positive or non-finite amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientFunds is returned when a withdrawal exceeds available earnings.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPersistence is returned when a snapshot write fails after the
	// in-memory state was already mutated.
	ErrPersistence = errors.New("snapshot persistence failed")

	// ErrSnapshotNotFound is returned by a SnapshotStore when no snapshot
	// exists for a key.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrCorruptSnapshot is returned when a stored snapshot cannot be decoded
	// or violates ledger invariants.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	ErrPaymentMethodNotFound  = errors.New("payment method not found")
	ErrDuplicatePaymentMethod = errors.New("payment method already exists")
	ErrInvalidPaymentMethod   = errors.New("invalid payment method")

	// ErrPaymentMethodRequired is returned when a charge needs a card portion
	// and neither an explicit nor a default payment method exists.
	ErrPaymentMethodRequired = errors.New("payment method required")

	// ErrProcessorUnavailable is returned when a card portion exists but no
	// payment processor is configured, or the processor cannot be reached.
	ErrProcessorUnavailable = errors.New("payment processor unavailable")

	ErrPaymentDeclined     = errors.New("payment declined")
	ErrTransactionNotFound = errors.New("transaction not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidAmountError names the field and value that failed validation.
type InvalidAmountError struct {
	Field  string
	Amount decimal.Decimal
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount for %s: %s (must be positive)", e.Field, e.Amount)
}

func (e *InvalidAmountError) Unwrap() error {
	return ErrInvalidAmount
}

// InsufficientFundsError provides details about a withdrawal shortfall.
type InsufficientFundsError struct {
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: available %s, requested %s, shortfall %s",
		e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// PersistenceError reports a failed snapshot write. The operation it is
// attached to has already been applied in memory.
type PersistenceError struct {
	Key string
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persist %s after %s: %v", ErrPersistence, e.Key, e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying store error.
func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// PaymentDeclinedError is returned when the processor rejected the card
// portion of a payment. The reservation has been rolled back.
type PaymentDeclinedError struct {
	TransactionID   string
	PaymentMethodID string
	Amount          decimal.Decimal
	Reason          string
}

func (e *PaymentDeclinedError) Error() string {
	return fmt.Sprintf("payment declined: %s on %s for tx %s: %s",
		e.Amount, e.PaymentMethodID, e.TransactionID, e.Reason)
}

func (e *PaymentDeclinedError) Unwrap() error {
	return ErrPaymentDeclined
}

type CorruptSnapshotError struct {
	Key    string
	Reason string
}

func (e *CorruptSnapshotError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("corrupt snapshot: %s", e.Reason)
	}
	return fmt.Sprintf("corrupt snapshot %s: %s", e.Key, e.Reason)
}

func (e *CorruptSnapshotError) Unwrap() error {
	return ErrCorruptSnapshot
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrProcessorUnavailable)
}

// IsClientError returns true if the error is due to invalid client input or
// a business rule rejection.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrPaymentMethodRequired) ||
		errors.Is(err, ErrPaymentDeclined) ||
		errors.Is(err, ErrDuplicatePaymentMethod) ||
		errors.Is(err, ErrInvalidPaymentMethod)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPaymentMethodNotFound) ||
		errors.Is(err, ErrTransactionNotFound)
}

// IsPersistenceOnly reports whether err is solely a persistence failure, in
// which case the operation's result is still valid.
func IsPersistenceOnly(err error) bool {
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		return false
	}
	return !IsClientError(err) && !IsNotFound(err) &&
		!errors.Is(err, ErrProcessorUnavailable)
}
