package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/warp/wallet-engine/wallet"
	"golang.org/x/sync/errgroup"
)

// Server is a long-running component. Start blocks until ctx is cancelled
// or the component fails.
type Server interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type App struct {
	servers         []Server
	shutdownTimeout time.Duration
}

func NewApp(shutdownTimeout time.Duration, servers ...Server) *App {
	return &App{servers: servers, shutdownTimeout: shutdownTimeout}
}

// Run starts every server and stops them all when ctx is cancelled or any
// one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range a.servers {
		s := srv
		g.Go(func() error {
			return s.Start(ctx)
		})
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	for i := len(a.servers) - 1; i >= 0; i-- {
		if err := a.servers[i].Stop(stopCtx); err != nil {
			slog.Error("server stop failed", "error", err)
		}
	}

	return g.Wait()
}

// =============================================================================
// ADAPTERS
// =============================================================================

// HTTPServer runs an http.Server as a Server.
type HTTPServer struct {
	srv *http.Server
}

func NewHTTPServer(addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{srv: &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}}
}

func (h *HTTPServer) Start(ctx context.Context) error {
	slog.Info("http server listening", "component", "api", "addr", h.srv.Addr)
	if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *HTTPServer) Stop(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}

// SchedulerServer runs the transition scheduler as a Server.
type SchedulerServer struct {
	sched *wallet.TransitionScheduler
}

func NewSchedulerServer(sched *wallet.TransitionScheduler) *SchedulerServer {
	return &SchedulerServer{sched: sched}
}

func (s *SchedulerServer) Start(ctx context.Context) error {
	s.sched.Start()
	<-ctx.Done()
	return nil
}

func (s *SchedulerServer) Stop(context.Context) error {
	s.sched.Stop()
	return nil
}

// PrunerServer drops wallets the registry has not handed out for maxIdle.
type PrunerServer struct {
	reg     *wallet.Registry
	maxIdle time.Duration
}

func NewPrunerServer(reg *wallet.Registry, maxIdle time.Duration) *PrunerServer {
	return &PrunerServer{reg: reg, maxIdle: maxIdle}
}

func (p *PrunerServer) Start(ctx context.Context) error {
	ticker := time.NewTicker(max(p.maxIdle/2, 10*time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.reg.Prune(p.maxIdle)
		}
	}
}

func (p *PrunerServer) Stop(context.Context) error { return nil }

// ResponderServer adapts a payments responder, which stops on its own when
// its context ends.
type ResponderServer struct {
	start func(ctx context.Context) error
}

func NewResponderServer(start func(ctx context.Context) error) *ResponderServer {
	return &ResponderServer{start: start}
}

func (r *ResponderServer) Start(ctx context.Context) error { return r.start(ctx) }
func (r *ResponderServer) Stop(context.Context) error      { return nil }
