package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// =============================================================================
// PAYMENT PROCESSOR - Card charges
// =============================================================================

// ChargeRequest asks the processor to charge the card portion of a payment.
type ChargeRequest struct {
	TransactionID   string          `json:"transactionId"`
	UserID          string          `json:"userId"`
	PaymentMethodID string          `json:"paymentMethodId"`
	OrderID         string          `json:"orderId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
}

type ChargeReceipt struct {
	ChargeID    string    `json:"chargeId"`
	ProcessedAt time.Time `json:"processedAt"`
}

// PaymentProcessor charges cards. Implementations return an error wrapping
// ErrProcessorUnavailable when the charge could not be attempted; any other
// error is treated as a decline.
type PaymentProcessor interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeReceipt, error)
}

// =============================================================================
// PROCESS PAYMENT - Reserve, charge, settle or compensate
// =============================================================================

type PaymentRequest struct {
	Amount      decimal.Decimal
	OrderID     string
	Description string
	// PaymentMethodID selects the card for the residual. Empty means the
	// default method.
	PaymentMethodID string
}

type PaymentResult struct {
	Transaction Transaction      `json:"transaction"`
	Breakdown   PaymentBreakdown `json:"breakdown"`
	Receipt     *ChargeReceipt   `json:"receipt,omitempty"`
}

// ProcessPayment charges req.Amount against the wallet.
//
// The wallet portion is reserved first: buckets are decremented and a
// spending transaction is recorded and persisted. Without a card portion
// the transaction completes right away. With one, the writer lock is
// released while the processor is awaited; a successful charge completes
// the transaction, a failed one restores the buckets and marks it failed.
func (w *Wallet) ProcessPayment(ctx context.Context, req PaymentRequest) (res PaymentResult, err error) {
	timer := prometheus.NewTimer(operationDuration.WithLabelValues("process_payment"))
	defer timer.ObserveDuration()
	defer func() { observe("process_payment", err) }()

	if err := ValidateAmount("amount", req.Amount); err != nil {
		return PaymentResult{}, err
	}

	w.mu.Lock()
	breakdown, err := Allocate(req.Amount, w.state.OnDemandBalance, w.state.AvailableEarnings)
	if err != nil {
		w.mu.Unlock()
		return PaymentResult{}, err
	}

	var method PaymentMethod
	if breakdown.NeedsCard() {
		method, err = w.resolveMethodLocked(req.PaymentMethodID)
		if err != nil {
			w.mu.Unlock()
			return PaymentResult{}, err
		}
		if w.opts.Processor == nil {
			w.mu.Unlock()
			return PaymentResult{}, fmt.Errorf("%w: no processor configured", ErrProcessorUnavailable)
		}
	}

	now := w.opts.Now()
	description := req.Description
	if description == "" {
		description = "Payment"
		if req.OrderID != "" {
			description = "Payment for order " + req.OrderID
		}
	}
	tx := Transaction{
		ID:              newID(),
		Type:            TxSpending,
		Amount:          req.Amount,
		Status:          StatusPending,
		OrderID:         req.OrderID,
		Description:     description,
		CreatedAt:       now,
		PaymentMethodID: method.ID,
	}

	w.state.OnDemandBalance = w.state.OnDemandBalance.Sub(breakdown.OnDemand)
	w.state.AvailableEarnings = w.state.AvailableEarnings.Sub(breakdown.Earnings)

	if !breakdown.NeedsCard() {
		tx.Status = StatusCompleted
		tx.CompletedAt = &now
		w.state.LifetimeSpent = w.state.LifetimeSpent.Add(req.Amount)
		w.state.prepend(tx)
		err = w.persistLocked(ctx, "process_payment")
		w.publishLocked(EventTransactionCreated, tx)
		w.mu.Unlock()

		w.logger.Info("payment completed from wallet", "tx_id", tx.ID, "amount", req.Amount.String())
		return PaymentResult{Transaction: tx.clone(), Breakdown: breakdown}, err
	}

	w.state.prepend(tx)
	reserveErr := w.persistLocked(ctx, "reserve_payment")
	w.publishLocked(EventTransactionCreated, tx)
	w.mu.Unlock()

	receipt, chargeErr := w.opts.Processor.Charge(ctx, ChargeRequest{
		TransactionID:   tx.ID,
		UserID:          w.userID,
		PaymentMethodID: method.ID,
		OrderID:         req.OrderID,
		Amount:          breakdown.Card,
	})

	// Settlement must be recorded even if the caller gave up waiting.
	settleCtx := context.WithoutCancel(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()

	// The card outcome is reported even when the ledger can no longer record it.
	var charged *ChargeReceipt
	if chargeErr == nil {
		charged = &receipt
	}

	cur, ok := w.state.transaction(tx.ID)
	if !ok {
		w.logger.Error("reserved payment vanished before settlement", "tx_id", tx.ID,
			"charge_id", receipt.ChargeID, "charge_error", chargeErr)
		notFound := fmt.Errorf("%w: %s", ErrTransactionNotFound, tx.ID)
		if charged != nil {
			notFound = fmt.Errorf("%w: %s (card charged as %s)", ErrTransactionNotFound, tx.ID, receipt.ChargeID)
		}
		return PaymentResult{Transaction: tx, Breakdown: breakdown, Receipt: charged},
			errors.Join(notFound, reserveErr)
	}
	if cur.Status != StatusPending {
		return PaymentResult{Transaction: cur.clone(), Breakdown: breakdown, Receipt: charged}, reserveErr
	}

	settledAt := w.opts.Now()
	if chargeErr == nil {
		cur.Status = StatusCompleted
		cur.CompletedAt = &settledAt
		w.state.LifetimeSpent = w.state.LifetimeSpent.Add(cur.Amount)
		settleErr := w.persistLocked(settleCtx, "settle_payment")
		w.publishLocked(EventTransactionSettled, *cur)

		w.logger.Info("payment completed", "tx_id", tx.ID, "amount", req.Amount.String(),
			"card", breakdown.Card.String(), "charge_id", receipt.ChargeID)
		return PaymentResult{Transaction: cur.clone(), Breakdown: breakdown, Receipt: charged},
			errors.Join(reserveErr, settleErr)
	}

	// Compensate: give the reserved wallet portion back.
	w.state.OnDemandBalance = w.state.OnDemandBalance.Add(breakdown.OnDemand)
	w.state.AvailableEarnings = w.state.AvailableEarnings.Add(breakdown.Earnings)
	cur.Status = StatusFailed
	cur.FailureReason = chargeErr.Error()
	settleErr := w.persistLocked(settleCtx, "compensate_payment")
	w.publishLocked(EventTransactionSettled, *cur)

	w.logger.Warn("card charge failed, reservation released", "tx_id", tx.ID, "error", chargeErr)

	var failure error
	if errors.Is(chargeErr, ErrProcessorUnavailable) {
		failure = fmt.Errorf("charge %s: %w", tx.ID, chargeErr)
	} else {
		failure = &PaymentDeclinedError{
			TransactionID:   tx.ID,
			PaymentMethodID: method.ID,
			Amount:          breakdown.Card,
			Reason:          chargeErr.Error(),
		}
	}
	return PaymentResult{Transaction: cur.clone(), Breakdown: breakdown},
		errors.Join(failure, reserveErr, settleErr)
}
