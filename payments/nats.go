package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/warp/wallet-engine/wallet"
)

// DefaultChargeSubject is the request/reply subject for card charges.
const DefaultChargeSubject = "payments.charge"

type chargeReply struct {
	Approved bool `json:"approved"`
	// Unavailable marks a charge the responder could not attempt.
	Unavailable bool      `json:"unavailable,omitempty"`
	ChargeID    string    `json:"chargeId,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ProcessedAt time.Time `json:"processedAt,omitempty"`
}

func replyFor(receipt wallet.ChargeReceipt, err error) chargeReply {
	switch {
	case err == nil:
		return chargeReply{Approved: true, ChargeID: receipt.ChargeID, ProcessedAt: receipt.ProcessedAt}
	case errors.Is(err, wallet.ErrProcessorUnavailable):
		return chargeReply{Unavailable: true, Reason: err.Error()}
	default:
		return chargeReply{Reason: err.Error()}
	}
}

func (r chargeReply) result() (wallet.ChargeReceipt, error) {
	switch {
	case r.Approved:
		return wallet.ChargeReceipt{ChargeID: r.ChargeID, ProcessedAt: r.ProcessedAt}, nil
	case r.Unavailable:
		return wallet.ChargeReceipt{}, fmt.Errorf("%w: %s", wallet.ErrProcessorUnavailable, r.Reason)
	default:
		return wallet.ChargeReceipt{}, fmt.Errorf("%w: %s", wallet.ErrPaymentDeclined, r.Reason)
	}
}

// Connect dials a NATS server.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("wallet-engine"))
	if err != nil {
		return nil, fmt.Errorf("nats connect %s: %w", url, err)
	}
	return nc, nil
}

// =============================================================================
// NATS PROCESSOR - Charges over request/reply
// =============================================================================

type NATSProcessor struct {
	nc      *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSProcessor sends charges to subject. timeout bounds each request
// when the caller's context has no deadline.
func NewNATSProcessor(nc *nats.Conn, subject string, timeout time.Duration) *NATSProcessor {
	if subject == "" {
		subject = DefaultChargeSubject
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &NATSProcessor{nc: nc, subject: subject, timeout: timeout}
}

func (p *NATSProcessor) Charge(ctx context.Context, req wallet.ChargeRequest) (wallet.ChargeReceipt, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return wallet.ChargeReceipt{}, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg, err := p.nc.RequestWithContext(ctx, p.subject, data)
	if err != nil {
		return wallet.ChargeReceipt{}, fmt.Errorf("%w: %v", wallet.ErrProcessorUnavailable, err)
	}

	var reply chargeReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return wallet.ChargeReceipt{}, fmt.Errorf("%w: bad reply: %v", wallet.ErrProcessorUnavailable, err)
	}
	return reply.result()
}

// =============================================================================
// RESPONDER - Serves charge requests
// =============================================================================

// Responder answers NATS charge requests with a local processor. It lets a
// development deployment run the NATS path end to end.
type Responder struct {
	nc        *nats.Conn
	subject   string
	processor wallet.PaymentProcessor
}

func NewResponder(nc *nats.Conn, subject string, processor wallet.PaymentProcessor) *Responder {
	if subject == "" {
		subject = DefaultChargeSubject
	}
	return &Responder{nc: nc, subject: subject, processor: processor}
}

// Start subscribes and blocks until ctx is cancelled.
func (r *Responder) Start(ctx context.Context) error {
	sub, err := r.nc.QueueSubscribe(r.subject, "payments", func(m *nats.Msg) {
		var req wallet.ChargeRequest
		var reply chargeReply
		if err := json.Unmarshal(m.Data, &req); err != nil {
			reply.Reason = "malformed request"
		} else {
			reply = replyFor(r.processor.Charge(ctx, req))
		}

		data, _ := json.Marshal(reply)
		if err := m.Respond(data); err != nil {
			slog.Error("nats: respond to charge", "error", err)
		}
	})
	if err != nil {
		return err
	}
	slog.Info("payment responder is running", "subject", r.subject)

	<-ctx.Done()
	return sub.Drain()
}

// =============================================================================
// NATS PUBLISHER - Ledger events
// =============================================================================

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(nc *nats.Conn) *NATSPublisher {
	return &NATSPublisher{nc: nc}
}

func (p *NATSPublisher) Publish(subject string, data []byte) error {
	return p.nc.Publish(subject, data)
}
