package wallet

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInvalidUserID is returned by Registry.Open for an empty user id.
var ErrInvalidUserID = errors.New("invalid user id")

// Registry hands out one *Wallet per user. Wallets are loaded and
// reconciled on first use and share the store, scheduler and collaborators.
type Registry struct {
	store  SnapshotStore
	sched  *TransitionScheduler
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	wallets  map[string]*Wallet
	lastOpen map[string]time.Time
}

// NewRegistry creates a registry with its own transition scheduler. The
// scheduler is not started.
func NewRegistry(store SnapshotStore, opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		store:    store,
		sched:    NewTransitionScheduler(opts.Now, opts.Logger),
		opts:     opts,
		logger:   opts.Logger.With("component", "registry"),
		wallets:  make(map[string]*Wallet),
		lastOpen: make(map[string]time.Time),
	}
}

func (r *Registry) Scheduler() *TransitionScheduler { return r.sched }

// Open returns the wallet for userID, loading it from the store if needed.
func (r *Registry) Open(ctx context.Context, userID string) (*Wallet, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.wallets[userID]; ok {
		r.lastOpen[userID] = r.opts.Now()
		return w, nil
	}

	w := newWallet(userID, r.store, r.sched, r.opts)
	w.mu.Lock()
	err := w.loadLocked(ctx)
	w.mu.Unlock()
	if err != nil && !IsPersistenceOnly(err) {
		return nil, err
	}

	r.wallets[userID] = w
	r.lastOpen[userID] = r.opts.Now()
	openWallets.Set(float64(len(r.wallets)))
	return w, err
}

// Prune drops wallets not opened for longer than maxIdle. A wallet with a
// pending transaction or an operation in progress is kept, so nothing it
// has armed or reserved is lost. The next Open reloads it from the store.
func (r *Registry) Prune(maxIdle time.Duration) int {
	cutoff := r.opts.Now().Add(-maxIdle)

	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := 0
	for id, w := range r.wallets {
		if r.lastOpen[id].After(cutoff) || !w.evictable() {
			continue
		}
		delete(r.wallets, id)
		delete(r.lastOpen, id)
		dropped++
	}
	openWallets.Set(float64(len(r.wallets)))
	if dropped > 0 {
		r.logger.Debug("pruned idle wallets", "dropped", dropped, "open", len(r.wallets))
	}
	return dropped
}

// Loaded returns the user ids of wallets currently open, sorted.
func (r *Registry) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.wallets))
	for id := range r.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
