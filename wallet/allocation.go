package wallet

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ALLOCATION ENGINE - Splits a charge across buckets by priority
// =============================================================================

// Allocate splits total across the on-demand balance, then available
// earnings, then the card. Pending earnings are never spendable.
//
// The split is greedy: each bucket takes min(remaining, bucket) in order.
// Allocate is pure and has no side effects.
func Allocate(total, onDemandBalance, availableEarnings decimal.Decimal) (PaymentBreakdown, error) {
	if total.IsNegative() {
		return PaymentBreakdown{}, &InvalidAmountError{Field: "total", Amount: total}
	}

	remaining := total
	buckets := []decimal.Decimal{onDemandBalance, availableEarnings}
	taken := make([]decimal.Decimal, len(buckets))

	for i, available := range buckets {
		taken[i] = decimal.Zero
		if remaining.IsZero() || !available.IsPositive() {
			continue
		}
		toTake := decimal.Min(remaining, available)
		taken[i] = toTake
		remaining = remaining.Sub(toTake)
	}

	return PaymentBreakdown{
		OnDemand: taken[0],
		Earnings: taken[1],
		Card:     remaining,
		Total:    total,
	}, nil
}

// =============================================================================
// AMOUNT VALIDATION
// =============================================================================

// ValidateAmount rejects zero and negative amounts. field names the input
// in the returned *InvalidAmountError.
func ValidateAmount(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &InvalidAmountError{Field: field, Amount: amount}
	}
	return nil
}

// AmountFromFloat converts a float amount, rejecting NaN and infinities,
// which decimal.NewFromFloat would otherwise panic on.
func AmountFromFloat(field string, f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, &InvalidAmountError{Field: field, Amount: decimal.Zero}
	}
	return decimal.NewFromFloat(f), nil
}

// ParseAmount parses a decimal string such as "12.50".
func ParseAmount(field, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "inf", "+inf", "-inf", "infinity":
		return decimal.Zero, &InvalidAmountError{Field: field, Amount: decimal.Zero}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &InvalidAmountError{Field: field, Amount: decimal.Zero}
	}
	return d, nil
}
