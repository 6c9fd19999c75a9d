/*
scheduler.go - Delayed ledger transitions

PURPOSE:
  Fires the two deferred transitions of the wallet: a pending earning
  becomes available after the holding period, and a pending withdrawal
  completes after the withdrawal delay.

DESIGN:
  - The due time is persisted on the transaction (Transaction.DueAt), so
    the schedule survives restarts. The in-memory heap is only an index.
  - Wallets reconcile on every load: overdue transitions apply at once,
    future ones are armed here.
  - A single goroutine sleeps until the earliest due time, or until an
    earlier entry is armed, or CheckInterval elapses.
  - Entries leave the heap before they run. Applying a transition is a
    no-op unless the transaction is still pending, so a duplicate arm or a
    racing reload cannot apply it twice.

CONFIGURATION:
  - CheckInterval: upper bound on one sleep (default and floor: 1 minute)

USAGE:
  sched := NewTransitionScheduler(time.Now, logger)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - wallet.go: applyTransition, reconcile
*/
package wallet

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// transitionTarget is the wallet side of a transition.
type transitionTarget interface {
	applyTransition(ctx context.Context, txID string, trigger string) (bool, error)
}

type armedEntry struct {
	fireAt time.Time
	key    string
	txID   string
	target transitionTarget
}

// entryHeap is a min-heap on fire time.
type entryHeap []*armedEntry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].fireAt.Before(h[j].fireAt) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x any)        { *h = append(*h, x.(*armedEntry)) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// defaultCheckInterval also replaces a non-positive CheckInterval.
const defaultCheckInterval = time.Minute

// TransitionScheduler holds armed transitions for every open wallet.
type TransitionScheduler struct {
	CheckInterval time.Duration

	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	queue   entryHeap
	armed   map[string]struct{} // key + "/" + txID
	wake    chan struct{}
	stop    chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewTransitionScheduler creates a stopped scheduler. now may be nil.
func NewTransitionScheduler(now func() time.Time, logger *slog.Logger) *TransitionScheduler {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TransitionScheduler{
		CheckInterval: defaultCheckInterval,
		now:           now,
		logger:        logger.With("component", "scheduler"),
		armed:         make(map[string]struct{}),
		wake:          make(chan struct{}, 1),
	}
}

func armKey(key, txID string) string { return key + "/" + txID }

// arm indexes a transition. Arming the same transaction twice is ignored.
func (s *TransitionScheduler) arm(target transitionTarget, key, txID string, fireAt time.Time) {
	s.mu.Lock()
	k := armKey(key, txID)
	if _, ok := s.armed[k]; ok {
		s.mu.Unlock()
		return
	}
	s.armed[k] = struct{}{}
	e := &armedEntry{fireAt: fireAt, key: key, txID: txID, target: target}
	heap.Push(&s.queue, e)
	earliest := s.queue[0] == e
	scheduledTransitions.Set(float64(len(s.queue)))
	s.mu.Unlock()

	if earliest {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Start begins the timer goroutine.
func (s *TransitionScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.stop)

	s.logger.Info("scheduler started", "pending", len(s.queue), "check_interval", s.CheckInterval)
}

// Stop halts the timer goroutine and waits for an in-flight batch. Armed
// entries stay indexed; their due times remain persisted on the ledger.
func (s *TransitionScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *TransitionScheduler) run(stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		wait := s.CheckInterval
		if wait <= 0 {
			wait = defaultCheckInterval
		}
		if next, ok := s.NextDue(); ok {
			if d := next.Sub(s.now()); d < wait {
				wait = d
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
			s.RunDue(ctx, s.now())
		}
	}
}

// RunDue applies every transition due at or before now and returns how
// many changed a ledger.
func (s *TransitionScheduler) RunDue(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*armedEntry
	for len(s.queue) > 0 && !s.queue[0].fireAt.After(now) {
		e := heap.Pop(&s.queue).(*armedEntry)
		delete(s.armed, armKey(e.key, e.txID))
		due = append(due, e)
	}
	scheduledTransitions.Set(float64(len(s.queue)))
	s.mu.Unlock()

	applied := 0
	for _, e := range due {
		ok, err := e.target.applyTransition(ctx, e.txID, "timer")
		if err != nil {
			s.logger.Error("transition failed", "key", e.key, "tx_id", e.txID, "error", err)
		}
		if ok {
			applied++
		}
	}
	if len(due) > 0 {
		s.logger.Debug("ran due transitions", "due", len(due), "applied", applied)
	}
	return applied
}

// Pending returns the number of armed transitions.
func (s *TransitionScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// NextDue returns the earliest armed fire time.
func (s *TransitionScheduler) NextDue() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].fireAt, true
}
