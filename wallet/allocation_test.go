package wallet_test

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/wallet-engine/wallet"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, label ...string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s want %s, got %s", strings.Join(label, " "), want, got)
}

func nan() float64         { return math.NaN() }
func inf(sign int) float64 { return math.Inf(sign) }

// =============================================================================
// WATERFALL TESTS
// =============================================================================

func TestAllocate_Waterfall(t *testing.T) {
	cases := []struct {
		name                                 string
		total, onDemand, available           string
		wantOnDemand, wantEarnings, wantCard string
	}{
		{"on-demand then earnings", "300", "150", "240", "150", "150", "0"},
		{"empty wallet goes to card", "85", "0", "0", "0", "0", "85"},
		{"on-demand covers all", "40", "100", "50", "40", "0", "0"},
		{"exact cover", "390", "150", "240", "150", "240", "0"},
		{"residual to card", "500", "150", "240", "150", "240", "110"},
		{"earnings only", "30", "0", "45.50", "0", "30", "0"},
		{"fractional amounts", "0.3", "0.1", "0.1", "0.1", "0.1", "0.1"},
		{"zero total", "0", "10", "10", "0", "0", "0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := wallet.Allocate(dec(tc.total), dec(tc.onDemand), dec(tc.available))
			require.NoError(t, err)

			assertDec(t, tc.wantOnDemand, b.OnDemand, "onDemand")
			assertDec(t, tc.wantEarnings, b.Earnings, "earnings")
			assertDec(t, tc.wantCard, b.Card, "card")
			assertDec(t, tc.total, b.Total, "total")
		})
	}
}

func TestAllocate_NegativeTotal_Rejected(t *testing.T) {
	_, err := wallet.Allocate(dec("-1"), dec("10"), dec("10"))

	assert.ErrorIs(t, err, wallet.ErrInvalidAmount)
	var amountErr *wallet.InvalidAmountError
	require.ErrorAs(t, err, &amountErr)
	assert.Equal(t, "total", amountErr.Field)
}

func TestAllocate_ConservationAndPriority(t *testing.T) {
	// GIVEN: A grid of totals and bucket sizes, including sub-cent values
	// WHEN: Each total is allocated
	// THEN: Components are non-negative, sum exactly to total, and follow priority

	values := []string{"0", "0.01", "0.1", "0.2", "1", "12.34", "85", "150", "240", "300", "1000.001"}

	for _, total := range values {
		for _, onDemand := range values {
			for _, available := range values {
				b, err := wallet.Allocate(dec(total), dec(onDemand), dec(available))
				require.NoError(t, err)

				sum := b.OnDemand.Add(b.Earnings).Add(b.Card)
				require.True(t, sum.Equal(dec(total)), "conservation: %s+%s+%s != %s", b.OnDemand, b.Earnings, b.Card, total)
				require.False(t, b.OnDemand.IsNegative())
				require.False(t, b.Earnings.IsNegative())
				require.False(t, b.Card.IsNegative())

				if dec(onDemand).GreaterThanOrEqual(dec(total)) {
					require.True(t, b.Earnings.IsZero(), "earnings must be zero when on-demand covers")
					require.True(t, b.Card.IsZero(), "card must be zero when on-demand covers")
				}
				if dec(onDemand).Add(dec(available)).GreaterThanOrEqual(dec(total)) {
					require.True(t, b.Card.IsZero(), "card must be zero when wallet covers")
				}
			}
		}
	}
}

// =============================================================================
// AMOUNT PARSING
// =============================================================================

func TestAmountFromFloat_RejectsNonFinite(t *testing.T) {
	for _, f := range []float64{nan(), inf(1), inf(-1)} {
		_, err := wallet.AmountFromFloat("amount", f)
		assert.ErrorIs(t, err, wallet.ErrInvalidAmount)
	}

	d, err := wallet.AmountFromFloat("amount", 12.5)
	require.NoError(t, err)
	assertDec(t, "12.5", d)
}

func TestParseAmount(t *testing.T) {
	d, err := wallet.ParseAmount("total", " 19.99 ")
	require.NoError(t, err)
	assertDec(t, "19.99", d)

	for _, bad := range []string{"", "NaN", "inf", "abc", "1,5"} {
		_, err := wallet.ParseAmount("total", bad)
		assert.ErrorIs(t, err, wallet.ErrInvalidAmount, "input %q", bad)
	}
}

func TestValidateAmount(t *testing.T) {
	assert.NoError(t, wallet.ValidateAmount("amount", dec("0.01")))
	assert.ErrorIs(t, wallet.ValidateAmount("amount", decimal.Zero), wallet.ErrInvalidAmount)
	assert.ErrorIs(t, wallet.ValidateAmount("amount", dec("-5")), wallet.ErrInvalidAmount)
}
