// Package store provides in-process SnapshotStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/wallet-engine/wallet"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	saves     map[string]int
	saveErr   error
}

func NewMemory() *Memory {
	return &Memory{
		snapshots: make(map[string][]byte),
		saves:     make(map[string]int),
	}
}

// Load returns a copy of the stored snapshot.
func (m *Memory) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[key]
	if !ok {
		return nil, wallet.ErrSnapshotNotFound
	}
	return append([]byte(nil), data...), nil
}

// Save replaces the snapshot for key.
func (m *Memory) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshots[key] = append([]byte(nil), data...)
	m.saves[key]++
	return nil
}

// FailSaves makes every following Save return err. Nil restores normal
// behavior.
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

// Saves returns how many successful writes key has received.
func (m *Memory) Saves(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[key]
}

// Keys returns all stored keys, sorted.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.snapshots))
	for k := range m.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
