package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/wallet-engine/wallet"
)

func chargeReq(methodID, amount string) wallet.ChargeRequest {
	return wallet.ChargeRequest{
		TransactionID:   "tx_1",
		UserID:          "buyer-1",
		PaymentMethodID: methodID,
		Amount:          decimal.RequireFromString(amount),
	}
}

func TestApprover_Approves(t *testing.T) {
	a := NewApprover()

	receipt, err := a.Charge(context.Background(), chargeReq("pm_1", "85"))

	require.NoError(t, err)
	assert.Contains(t, receipt.ChargeID, "ch_")
	assert.False(t, receipt.ProcessedAt.IsZero())
	assert.Len(t, a.Charges(), 1)
}

func TestApprover_Declines(t *testing.T) {
	a := NewApprover()
	a.Limit = decimal.NewFromInt(100)
	a.Block("pm_stolen", "card reported stolen")

	_, err := a.Charge(context.Background(), chargeReq("pm_stolen", "5"))
	assert.ErrorIs(t, err, wallet.ErrPaymentDeclined)
	assert.ErrorContains(t, err, "stolen")

	_, err = a.Charge(context.Background(), chargeReq("pm_1", "100.01"))
	assert.ErrorIs(t, err, wallet.ErrPaymentDeclined)

	_, err = a.Charge(context.Background(), chargeReq("pm_1", "100"))
	assert.NoError(t, err)
}

func TestApprover_CanceledWhileWaiting(t *testing.T) {
	a := NewApprover()
	a.Latency = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Charge(ctx, chargeReq("pm_1", "5"))
	assert.ErrorIs(t, err, wallet.ErrProcessorUnavailable)
	assert.Empty(t, a.Charges())
}

func TestChargeReply_Results(t *testing.T) {
	// GIVEN: Replies built from each processor outcome
	// WHEN: The requesting side converts them back
	// THEN: Approval, decline and unavailability are preserved

	_, err := replyFor(wallet.ChargeReceipt{}, errors.New("do not honor")).result()
	assert.ErrorIs(t, err, wallet.ErrPaymentDeclined)
	assert.ErrorContains(t, err, "do not honor")

	_, err = replyFor(wallet.ChargeReceipt{}, fmt.Errorf("%w: timeout", wallet.ErrProcessorUnavailable)).result()
	assert.ErrorIs(t, err, wallet.ErrProcessorUnavailable)

	receipt, err := replyFor(wallet.ChargeReceipt{ChargeID: "ch_9"}, nil).result()
	require.NoError(t, err)
	assert.Equal(t, "ch_9", receipt.ChargeID)
}
