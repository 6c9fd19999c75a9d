package wallet_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/wallet-engine/wallet"
	"github.com/warp/wallet-engine/wallet/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	t0      = time.Date(2025, time.March, 10, 9, 30, 0, 123456789, time.UTC)
	holding = 72 * time.Hour
	delay   = 24 * time.Hour
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type fakeProcessor struct {
	mu    sync.Mutex
	err   error
	calls []wallet.ChargeRequest
	// during runs inside Charge, before it returns.
	during func()
}

func (p *fakeProcessor) Charge(_ context.Context, req wallet.ChargeRequest) (wallet.ChargeReceipt, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	n := len(p.calls)
	during, err := p.during, p.err
	p.mu.Unlock()

	if during != nil {
		during()
	}
	if err != nil {
		return wallet.ChargeReceipt{}, err
	}
	return wallet.ChargeReceipt{ChargeID: fmt.Sprintf("ch_%d", n), ProcessedAt: t0}, nil
}

func (p *fakeProcessor) Calls() []wallet.ChargeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]wallet.ChargeRequest(nil), p.calls...)
}

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *capturePublisher) Publish(subject string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *capturePublisher) Subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

type testEnv struct {
	reg   *wallet.Registry
	store *store.Memory
	clock *fakeClock
	proc  *fakeProcessor
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store: store.NewMemory(),
		clock: &fakeClock{now: t0},
		proc:  &fakeProcessor{},
	}
	env.reg = env.newRegistry(nil)
	return env
}

// newRegistry builds a registry over the same store and clock, as a
// restarted process would.
func (env *testEnv) newRegistry(pub wallet.EventPublisher) *wallet.Registry {
	opts := wallet.Options{
		HoldingPeriod:   holding,
		WithdrawalDelay: delay,
		Processor:       env.proc,
		Now:             env.clock.Now,
		Logger:          quietLogger(),
	}
	if pub != nil {
		opts.Publisher = pub
	}
	return wallet.NewRegistry(env.store, opts)
}

func (env *testEnv) open(t *testing.T, userID string) *wallet.Wallet {
	t.Helper()
	w, err := env.reg.Open(context.Background(), userID)
	require.NoError(t, err)
	return w
}

// fund seeds on-demand balance through a refund and available earnings
// through an earning that is run past its holding period.
func (env *testEnv) fund(t *testing.T, w *wallet.Wallet, onDemand, available string) {
	t.Helper()
	ctx := context.Background()
	if !dec(onDemand).IsZero() {
		_, err := w.Refund(ctx, dec(onDemand), "seed", "")
		require.NoError(t, err)
	}
	if !dec(available).IsZero() {
		_, err := w.AddEarning(ctx, dec(available), "seed", "")
		require.NoError(t, err)
		now := env.clock.Advance(holding)
		env.reg.Scheduler().RunDue(ctx, now)
	}
}

func addCard(t *testing.T, w *wallet.Wallet, id string) wallet.PaymentMethod {
	t.Helper()
	pm, err := w.AddPaymentMethod(context.Background(), wallet.PaymentMethod{
		ID: id, Type: wallet.MethodCard, Last4: "4242", Brand: "visa", ExpiryMonth: 12, ExpiryYear: 2030,
	})
	require.NoError(t, err)
	return pm
}

// =============================================================================
// EARNINGS
// =============================================================================

func TestAddEarning_PendingThenAvailable(t *testing.T) {
	// GIVEN: An empty wallet
	// WHEN: An earning of 25 is added and the holding period elapses
	// THEN: It moves from pending to available exactly once

	env := newTestEnv(t)
	ctx := context.Background()
	w := env.open(t, "seller-1")

	tx, err := w.AddEarning(ctx, dec("25"), "order_1", "desc")
	require.NoError(t, err)

	assert.Equal(t, wallet.TxEarning, tx.Type)
	assert.Equal(t, wallet.StatusPending, tx.Status)
	require.NotNil(t, tx.DueAt)
	assert.Equal(t, t0.Add(holding), *tx.DueAt)

	s := w.State()
	assertDec(t, "25", s.PendingEarnings)
	assertDec(t, "0", s.AvailableEarnings)
	assertDec(t, "25", s.LifetimeEarnings)
	require.Len(t, s.Transactions, 1)
	assert.Equal(t, 1, env.reg.Scheduler().Pending())

	// Not yet due.
	assert.Equal(t, 0, env.reg.Scheduler().RunDue(ctx, env.clock.Advance(holding-time.Second)))
	assertDec(t, "25", w.State().PendingEarnings)

	now := env.clock.Advance(time.Second)
	assert.Equal(t, 1, env.reg.Scheduler().RunDue(ctx, now))
	assert.Equal(t, 0, env.reg.Scheduler().RunDue(ctx, now.Add(time.Hour)), "must not fire twice")

	s = w.State()
	assertDec(t, "0", s.PendingEarnings)
	assertDec(t, "25", s.AvailableEarnings)
	assert.Equal(t, wallet.StatusCompleted, s.Transactions[0].Status)
	require.NotNil(t, s.Transactions[0].CompletedAt)
	assert.Equal(t, now, *s.Transactions[0].CompletedAt)
}

func TestAddEarning_InvalidAmount_NoMutation(t *testing.T) {
	env := newTestEnv(t)
	w := env.open(t, "seller-1")

	for _, amount := range []string{"0", "-3"} {
		_, err := w.AddEarning(context.Background(), dec(amount), "o", "")
		assert.ErrorIs(t, err, wallet.ErrInvalidAmount)
	}

	assert.Empty(t, w.Transactions())
	assert.Equal(t, 0, env.store.Saves(wallet.SnapshotKey("seller-1")))
}

// =============================================================================
// WITHDRAWALS
// =============================================================================

func TestWithdrawFunds_Insufficient_LeavesStateAndStoreUnchanged(t *testing.T) {
	// GIVEN: availableEarnings = 100
	// WHEN: Withdrawing 150
	// THEN: Rejected with InsufficientFunds; state and persisted snapshot untouched

	env := newTestEnv(t)
	ctx := context.Background()
	w := env.open(t, "seller-1")
	env.fund(t, w, "0", "100")

	key := wallet.SnapshotKey("seller-1")
	before := w.State()
	snapshotBefore, err := env.store.Load(ctx, key)
	require.NoError(t, err)
	savesBefore := env.store.Saves(key)

	_, err = w.WithdrawFunds(ctx, dec("150"), "bank-ref")

	require.ErrorIs(t, err, wallet.ErrInsufficientFunds)
	var fundsErr *wallet.InsufficientFundsError
	require.ErrorAs(t, err, &fundsErr)
	assertDec(t, "100", fundsErr.Available)
	assertDec(t, "50", fundsErr.Shortfall())

	assert.Equal(t, before, w.State())
	snapshotAfter, err := env.store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, snapshotBefore, snapshotAfter)
	assert.Equal(t, savesBefore, env.store.Saves(key))
}

func TestWithdrawFunds_DecrementsNowCompletesLater(t *testing.T) {
	// GIVEN: availableEarnings = 100
	// WHEN: Withdrawing 50 and the withdrawal delay elapses
	// THEN: Available is 50 immediately; the withdrawal completes without
	//       touching the balance again

	env := newTestEnv(t)
	ctx := context.Background()
	w := env.open(t, "seller-1")
	env.fund(t, w, "0", "100")

	tx, err := w.WithdrawFunds(ctx, dec("50"), "bank-ref")
	require.NoError(t, err)

	assert.Equal(t, wallet.TxWithdrawal, tx.Type)
	assert.Equal(t, wallet.StatusPending, tx.Status)
	assert.Equal(t, "bank-ref", tx.Destination)
	assertDec(t, "50", w.State().AvailableEarnings)

	applied := env.reg.Scheduler().RunDue(ctx, env.clock.Advance(delay))
	assert.Equal(t, 1, applied)

	got, err := w.Transaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, wallet.StatusCompleted, got.Status)
	assertDec(t, "50", w.State().AvailableEarnings)
}

func TestWithdrawFunds_PendingEarningsNotWithdrawable(t *testing.T) {
	env := newTestEnv(t)
	w := env.open(t, "seller-1")

	_, err := w.AddEarning(context.Background(), dec("80"), "o1", "")
	require.NoError(t, err)

	_, err = w.WithdrawFunds(context.Background(), dec("10"), "bank-ref")
	assert.ErrorIs(t, err, wallet.ErrInsufficientFunds)
}

// =============================================================================
// REFUNDS
// =============================================================================

func TestRefund_CreditsOnDemand(t *testing.T) {
	env := newTestEnv(t)
	w := env.open(t, "buyer-1")

	tx, err := w.Refund(context.Background(), dec("12.50"), "order_9", "")
	require.NoError(t, err)

	assert.Equal(t, wallet.TxRefund, tx.Type)
	assert.Equal(t, wallet.StatusCompleted, tx.Status)
	assert.Equal(t, "Refund for order order_9", tx.Description)
	assertDec(t, "12.50", w.State().OnDemandBalance)
	assert.Equal(t, 0, env.reg.Scheduler().Pending())
}

// =============================================================================
// BREAKDOWN
// =============================================================================

func TestCalculatePaymentBreakdown_ReadOnlyAndRepeatable(t *testing.T) {
	// GIVEN: onDemandBalance = 150, availableEarnings = 240
	// WHEN: Previewing a 300 charge twice
	// THEN: Both previews are {150, 150, 0, 300} and nothing is written

	env := newTestEnv(t)
	w := env.open(t, "buyer-1")
	env.fund(t, w, "150", "240")

	key := wallet.SnapshotKey("buyer-1")
	saves := env.store.Saves(key)
	before := w.State()

	b1, err := w.CalculatePaymentBreakdown(dec("300"))
	require.NoError(t, err)
	b2, err := w.CalculatePaymentBreakdown(dec("300"))
	require.NoError(t, err)

	assert.Equal(t, b1, b2)
	assertDec(t, "150", b1.OnDemand)
	assertDec(t, "150", b1.Earnings)
	assertDec(t, "0", b1.Card)
	assertDec(t, "300", b1.Total)

	assert.Equal(t, before, w.State())
	assert.Equal(t, saves, env.store.Saves(key))
}

// =============================================================================
// PERSISTENCE FAILURES
// =============================================================================

func TestPersistenceFailure_IsSurfacedWithResult(t *testing.T) {
	// GIVEN: A store that rejects writes
	// WHEN: Adding an earning
	// THEN: The earning applies in memory and the caller gets a PersistenceError

	env := newTestEnv(t)
	w := env.open(t, "seller-1")
	env.store.FailSaves(errors.New("disk full"))

	tx, err := w.AddEarning(context.Background(), dec("10"), "o1", "")

	require.Error(t, err)
	assert.ErrorIs(t, err, wallet.ErrPersistence)
	assert.True(t, wallet.IsPersistenceOnly(err))
	assert.True(t, wallet.IsRetryable(err))
	assert.NotEmpty(t, tx.ID)
	assertDec(t, "10", w.State().PendingEarnings)

	// A later successful write carries the earlier mutation.
	env.store.FailSaves(nil)
	_, err = w.Refund(context.Background(), dec("1"), "o2", "")
	require.NoError(t, err)

	restarted := env.newRegistry(nil)
	w2, err := restarted.Open(context.Background(), "seller-1")
	require.NoError(t, err)
	assertDec(t, "10", w2.State().PendingEarnings)
	assertDec(t, "1", w2.State().OnDemandBalance)
}

// =============================================================================
// RELOAD AND RECONCILIATION
// =============================================================================

func TestReload_AppliesOverdueTransitionsOnce(t *testing.T) {
	// GIVEN: An earning and a withdrawal persisted before a restart
	// WHEN: A new process opens the wallet after both are due
	// THEN: Both transition at load, once, and the result is persisted

	env := newTestEnv(t)
	ctx := context.Background()
	w := env.open(t, "seller-1")
	env.fund(t, w, "0", "100")

	earning, err := w.AddEarning(ctx, dec("25"), "order_2", "")
	require.NoError(t, err)
	withdrawal, err := w.WithdrawFunds(ctx, dec("40"), "bank-ref")
	require.NoError(t, err)

	env.clock.Advance(holding + time.Minute)

	restarted := env.newRegistry(nil)
	w2, err := restarted.Open(ctx, "seller-1")
	require.NoError(t, err)

	s := w2.State()
	assertDec(t, "0", s.PendingEarnings)
	assertDec(t, "85", s.AvailableEarnings) // 100 - 40 + 25
	for _, id := range []string{earning.ID, withdrawal.ID} {
		tx, err := w2.Transaction(id)
		require.NoError(t, err)
		assert.Equal(t, wallet.StatusCompleted, tx.Status)
	}
	assert.Equal(t, 0, restarted.Scheduler().Pending())

	// Reloading again changes nothing.
	require.NoError(t, w2.Reload(ctx))
	assert.Equal(t, s.AvailableEarnings.String(), w2.State().AvailableEarnings.String())
	assert.Equal(t, s.Version, w2.State().Version)
}

func TestReload_ArmsFutureTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.open(t, "seller-1")

	_, err := w.AddEarning(ctx, dec("25"), "order_1", "")
	require.NoError(t, err)

	restarted := env.newRegistry(nil)
	w2, err := restarted.Open(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 1, restarted.Scheduler().Pending())

	// Reload does not arm the same transaction twice.
	require.NoError(t, w2.Reload(ctx))
	assert.Equal(t, 1, restarted.Scheduler().Pending())

	due, ok := restarted.Scheduler().NextDue()
	require.True(t, ok)
	assert.Equal(t, t0.Add(holding), due)

	assert.Equal(t, 1, restarted.Scheduler().RunDue(ctx, env.clock.Advance(holding)))
	assertDec(t, "25", w2.State().AvailableEarnings)
}

func TestReload_PicksUpExternalWrites(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	w := env.open(t, "buyer-1")

	// Another process writes the same key.
	other := env.newRegistry(nil)
	w2, err := other.Open(ctx, "buyer-1")
	require.NoError(t, err)
	_, err = w2.Refund(ctx, dec("30"), "o", "")
	require.NoError(t, err)

	assertDec(t, "0", w.State().OnDemandBalance)
	require.NoError(t, w.Reload(ctx))
	assertDec(t, "30", w.State().OnDemandBalance)
}

func TestReload_InconsistentSnapshotLeavesLedgerUntouched(t *testing.T) {
	// GIVEN: A wallet with 10 on-demand
	// WHEN: The stored snapshot is replaced by one whose pending bucket is
	//       smaller than its two overdue earnings, and the wallet reloads
	// THEN: Reload fails as corrupt and the in-memory ledger is unchanged

	env := newTestEnv(t)
	ctx := context.Background()
	w := env.open(t, "seller-1")
	env.fund(t, w, "10", "0")
	before := w.State()

	due := env.clock.Now().Add(-time.Hour)
	bad := wallet.NewState(t0)
	bad.OnDemandBalance = dec("999")
	bad.PendingEarnings = dec("10")
	bad.Transactions = []wallet.Transaction{
		{ID: "a", Type: wallet.TxEarning, Amount: dec("10"), Status: wallet.StatusPending, CreatedAt: t0, DueAt: &due},
		{ID: "b", Type: wallet.TxEarning, Amount: dec("10"), Status: wallet.StatusPending, CreatedAt: t0, DueAt: &due},
	}
	data, err := wallet.EncodeSnapshot(bad)
	require.NoError(t, err)
	require.NoError(t, env.store.Save(ctx, wallet.SnapshotKey("seller-1"), data))

	err = w.Reload(ctx)

	require.ErrorIs(t, err, wallet.ErrCorruptSnapshot)
	after := w.State()
	assertDec(t, "10", after.OnDemandBalance)
	assertDec(t, "0", after.PendingEarnings)
	assertDec(t, "0", after.AvailableEarnings)
	assert.Equal(t, before.Version, after.Version)
	assert.Len(t, after.Transactions, len(before.Transactions))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestConcurrentOperations_Serialized(t *testing.T) {
	// GIVEN: 10 on-demand, no payment methods
	// WHEN: 20 goroutines each pay 1 while 20 others refund 1
	// THEN: No update is lost and no bucket goes negative

	env := newTestEnv(t)
	ctx := context.Background()
	w := env.open(t, "buyer-1")
	env.fund(t, w, "10", "0")

	var wg sync.WaitGroup
	var mu sync.Mutex
	paid := 0
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := w.Refund(ctx, dec("1"), "r", "")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := w.ProcessPayment(ctx, wallet.PaymentRequest{Amount: dec("1"), OrderID: "o"})
			if err == nil {
				mu.Lock()
				paid++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, wallet.ErrPaymentMethodRequired)
		}()
	}
	wg.Wait()

	s := w.State()
	assert.False(t, s.OnDemandBalance.IsNegative())
	assertDec(t, fmt.Sprint(30-paid), s.OnDemandBalance)
	assertDec(t, fmt.Sprint(paid), s.LifetimeSpent)
	assert.Len(t, s.Transactions, 1+20+paid)
}

// =============================================================================
// EVENTS
// =============================================================================

func TestEvents_PublishedForChangesAndTransitions(t *testing.T) {
	env := newTestEnv(t)
	pub := &capturePublisher{}
	env.reg = env.newRegistry(pub)
	ctx := context.Background()
	w := env.open(t, "seller-1")

	_, err := w.AddEarning(ctx, dec("5"), "o", "")
	require.NoError(t, err)
	env.reg.Scheduler().RunDue(ctx, env.clock.Advance(holding))

	assert.Equal(t, []string{
		"wallet.transactions.earning",
		"wallet.transitions.earning",
	}, pub.Subjects())
}
