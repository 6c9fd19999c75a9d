package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/wallet-engine/config"
	"github.com/warp/wallet-engine/wallet"
	"github.com/warp/wallet-engine/wallet/store"
)

type recordingServer struct {
	name     string
	startErr error
	mu       *sync.Mutex
	log      *[]string
}

func (s recordingServer) Start(ctx context.Context) error {
	if s.startErr != nil {
		return s.startErr
	}
	<-ctx.Done()
	return nil
}

func (s recordingServer) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*s.log = append(*s.log, s.name)
	return nil
}

func TestApp_StopsInReverseOrderOnCancel(t *testing.T) {
	var mu sync.Mutex
	var stopped []string
	a := NewApp(time.Second,
		recordingServer{name: "http", mu: &mu, log: &stopped},
		recordingServer{name: "scheduler", mu: &mu, log: &stopped},
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Equal(t, []string{"scheduler", "http"}, stopped)
}

func TestApp_FailingServerStopsTheRest(t *testing.T) {
	var mu sync.Mutex
	var stopped []string
	boom := errors.New("listen: address in use")
	a := NewApp(time.Second,
		recordingServer{name: "http", startErr: boom, mu: &mu, log: &stopped},
		recordingServer{name: "scheduler", mu: &mu, log: &stopped},
	)

	err := a.Run(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Len(t, stopped, 2)
}

func TestBootstrap_MemoryStoreLocalPayments(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "memory"
	cfg.Scheduler.CheckInterval = config.Duration{Duration: 5 * time.Second}

	svc, cleanup, err := Bootstrap(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, svc.Responder)
	assert.Equal(t, 5*time.Second, svc.Registry.Scheduler().CheckInterval)

	w, err := svc.Registry.Open(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", w.UserID())
}

func TestPrunerServer_EvictsIdleWallets(t *testing.T) {
	reg := wallet.NewRegistry(store.NewMemory(), wallet.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := reg.Open(context.Background(), "u1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewPrunerServer(reg, 20*time.Millisecond).Start(ctx) }()

	require.Eventually(t, func() bool { return len(reg.Loaded()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}

func TestNewLogger_Levels(t *testing.T) {
	logger := NewLogger(config.LogConfig{Level: "warn", Format: "json"})

	assert.False(t, logger.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Enabled(context.Background(), slog.LevelWarn))
}
