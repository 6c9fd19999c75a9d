package wallet

import (
	"context"
	"encoding/json"
	"fmt"
)

// =============================================================================
// SNAPSHOT STORE - Persistence for serialized ledgers
// =============================================================================

// SnapshotStore loads and saves one serialized ledger per key. Load returns
// ErrSnapshotNotFound when the key has never been written.
type SnapshotStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
}

// SnapshotKey is the storage key for a user's wallet.
func SnapshotKey(userID string) string {
	return "wallet:" + userID
}

// =============================================================================
// SNAPSHOT CODEC
// =============================================================================

// SchemaVersion is written into every snapshot. Decoding accepts versions up
// to and including it.
const SchemaVersion = 1

type snapshotEnvelope struct {
	SchemaVersion int   `json:"schemaVersion"`
	State         State `json:"state"`
}

// EncodeSnapshot serializes a ledger. Timestamps are RFC 3339 with
// nanoseconds so a decode yields the same instants.
func EncodeSnapshot(s State) ([]byte, error) {
	return json.Marshal(snapshotEnvelope{SchemaVersion: SchemaVersion, State: s})
}

// DecodeSnapshot parses a snapshot and checks ledger invariants.
func DecodeSnapshot(data []byte) (State, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return State{}, &CorruptSnapshotError{Reason: err.Error()}
	}
	if env.SchemaVersion < 1 || env.SchemaVersion > SchemaVersion {
		return State{}, &CorruptSnapshotError{
			Reason: fmt.Sprintf("unsupported schema version %d", env.SchemaVersion),
		}
	}

	s := env.State
	if s.Transactions == nil {
		s.Transactions = []Transaction{}
	}
	if s.PaymentMethods == nil {
		s.PaymentMethods = []PaymentMethod{}
	}
	if err := s.checkInvariants(); err != nil {
		return State{}, err
	}
	return s, nil
}
