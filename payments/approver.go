/*
Package payments provides card processors and event publishers for the
wallet engine.

PURPOSE:
  The wallet awaits a PaymentProcessor for the card portion of a payment
  and hands ledger events to an EventPublisher. This package implements
  both over NATS, plus a local Approver for development and tests.

KEY TYPES:
  - Approver: in-process processor with a configurable decline rule
  - NATSProcessor: request/reply charge over NATS
  - Responder: serves NATS charge requests with any PaymentProcessor
  - NATSPublisher: publishes ledger events

SEE ALSO:
  - wallet/payment.go: ProcessPayment, the consumer of PaymentProcessor
*/
package payments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/wallet-engine/wallet"
)

// Approver approves every charge except those on a blocked method or above
// a limit.
type Approver struct {
	// Limit declines charges above it. Zero means no limit.
	Limit decimal.Decimal
	// Latency simulates processor round-trip time.
	Latency time.Duration

	mu      sync.Mutex
	blocked map[string]string // payment method id -> decline reason
	charges []wallet.ChargeRequest
}

func NewApprover() *Approver {
	return &Approver{blocked: make(map[string]string)}
}

// Block makes every charge on methodID decline with reason.
func (a *Approver) Block(methodID, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blocked[methodID] = reason
}

func (a *Approver) Charge(ctx context.Context, req wallet.ChargeRequest) (wallet.ChargeReceipt, error) {
	if a.Latency > 0 {
		t := time.NewTimer(a.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return wallet.ChargeReceipt{}, fmt.Errorf("%w: %v", wallet.ErrProcessorUnavailable, ctx.Err())
		case <-t.C:
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.charges = append(a.charges, req)

	if reason, ok := a.blocked[req.PaymentMethodID]; ok {
		return wallet.ChargeReceipt{}, fmt.Errorf("%w: %s", wallet.ErrPaymentDeclined, reason)
	}
	if a.Limit.IsPositive() && req.Amount.GreaterThan(a.Limit) {
		return wallet.ChargeReceipt{}, fmt.Errorf("%w: amount %s over limit %s",
			wallet.ErrPaymentDeclined, req.Amount, a.Limit)
	}
	return wallet.ChargeReceipt{
		ChargeID:    "ch_" + uuid.NewString(),
		ProcessedAt: time.Now().UTC(),
	}, nil
}

// Charges returns every request seen, in order.
func (a *Approver) Charges() []wallet.ChargeRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]wallet.ChargeRequest(nil), a.charges...)
}
