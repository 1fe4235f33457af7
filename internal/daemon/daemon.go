// Package daemon implements the ticketd background service.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/drewfead/ticketd/internal/auth"
	"github.com/drewfead/ticketd/internal/config"
	"github.com/drewfead/ticketd/internal/control"
	"github.com/drewfead/ticketd/internal/logging"
	"github.com/drewfead/ticketd/internal/metrics"
	"github.com/drewfead/ticketd/internal/receive"
	"github.com/drewfead/ticketd/internal/store"
	"github.com/drewfead/ticketd/internal/ticketref"
)

// ShutdownTimeout is how long to wait for graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// DrainTimeout is how long to wait for in-flight pushes to complete.
const DrainTimeout = 60 * time.Second

// Daemon serves ticket pushes over the control socket.
type Daemon struct {
	config   *config.Config
	store    *store.Store
	server   *control.Server
	receiver *receive.Service
	metrics  *metrics.Metrics
	http     *http.Server

	signer   *auth.Signer
	signerMu sync.RWMutex

	// In-flight receive_push calls
	inflight sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Shutdown coordination
	shutdownOnce sync.Once
	draining     bool
	drainingMu   sync.RWMutex
}

// New creates a new daemon instance.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	st, err := store.New(cfg.Daemon.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var m *metrics.Metrics
	if cfg.Daemon.Metrics.Enabled {
		m = metrics.New()
	}

	d := &Daemon{
		config: cfg,
		store:  st,
		server: control.NewServer(cfg.Daemon.Socket),
		receiver: receive.New(st, receive.Options{
			Namespace:     cfg.Namespace(),
			DefaultBranch: cfg.Tickets.DefaultBranch,
			Metrics:       m,
		}),
		metrics: m,
		signer:  auth.NewSigner(cfg.Daemon.HookSecret),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Watchers are notified through connected clients
	d.receiver.OnChange(func(res receive.Result) {
		d.server.Broadcast(control.EventTicketChanged, control.NewTicketChanged(res))
	})

	d.registerHandlers()
	return d, nil
}

// Run starts the daemon and blocks until shutdown.
func (d *Daemon) Run() error {
	if err := d.Start(); err != nil {
		return err
	}

	// Set up signal handling
	sigCh := make(chan os.Signal, 2) // Buffer of 2 for second signal
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	return d.signalLoop(sigCh)
}

// Start brings up the control socket and, when enabled, the metrics endpoint.
func (d *Daemon) Start() error {
	if err := d.server.Start(); err != nil {
		return err
	}
	logging.Info("control server listening", "socket", d.config.Daemon.Socket)

	if d.metrics != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", d.metrics.Handler())
		d.http = &http.Server{
			Addr:              ":" + strconv.Itoa(d.config.Daemon.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		d.wg.Add(1)
		d.safeGo("metrics-server", func() {
			defer d.wg.Done()
			logging.Info("metrics endpoint listening", "addr", d.http.Addr)
			if err := d.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("metrics server failed", "error", err)
			}
		})
	}
	return nil
}

// signalLoop handles OS signals for graceful shutdown.
func (d *Daemon) signalLoop(sigCh <-chan os.Signal) error {
	for {
		sig := <-sigCh

		switch sig {
		case syscall.SIGHUP:
			logging.Info("received SIGHUP, reloading config")
			if err := d.reloadConfig(); err != nil {
				logging.Error("config reload failed", "error", err)
			}

		case syscall.SIGINT, syscall.SIGTERM:
			logging.Info("received shutdown signal, starting graceful shutdown", "signal", sig.String())

			shutdownDone := make(chan struct{})
			go func() {
				d.Shutdown()
				close(shutdownDone)
			}()

			// Wait for graceful shutdown or second signal
			select {
			case <-shutdownDone:
				logging.Info("graceful shutdown complete")
				return nil

			case sig2 := <-sigCh:
				logging.Warn("received second signal, forcing immediate shutdown", "signal", sig2.String())
				d.forceShutdown()
				return fmt.Errorf("forced shutdown by signal: %s", sig2.String())
			}
		}
	}
}

// Shutdown refuses new pushes, waits for in-flight ones and releases
// resources. It is safe to call more than once.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.setDraining(true)
		logging.Info("stopped accepting pushes, draining in-flight ones")

		done := make(chan struct{})
		go func() {
			d.inflight.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(DrainTimeout):
			logging.Warn("drain timeout exceeded, some pushes may not have completed")
		}

		d.server.Stop()
		d.cancel()

		if d.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
			if err := d.http.Shutdown(ctx); err != nil {
				logging.Warn("metrics server shutdown", "error", err)
			}
			cancel()
		}
		d.wg.Wait()

		if err := d.store.Close(); err != nil {
			logging.Error("error closing database", "error", err)
		}

		logging.Info("flushing Sentry events")
		logging.Flush(2 * time.Second)
	})
}

// forceShutdown performs an immediate shutdown without waiting.
func (d *Daemon) forceShutdown() {
	d.cancel()
	d.server.Stop()
	if d.http != nil {
		d.http.Close()
	}
	d.store.Close()

	// Flush Sentry with short timeout
	logging.Flush(500 * time.Millisecond)
}

// reloadConfig handles SIGHUP. Only the hook secret and log level are
// reloadable; ref layout and storage need a restart.
func (d *Daemon) reloadConfig() error {
	newCfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if newCfg.Namespace() != d.config.Namespace() {
		logging.Warn("ref namespace changed; restart ticketd to apply")
	}

	d.signerMu.Lock()
	d.signer = auth.NewSigner(newCfg.Daemon.HookSecret)
	d.config.Daemon.HookSecret = newCfg.Daemon.HookSecret
	d.signerMu.Unlock()

	level, _ := config.ParseLevel(newCfg.Daemon.LogLevel)
	if err := logging.Init(logging.Config{
		Level:     level,
		SentryDSN: d.config.Daemon.SentryDSN,
		LogFile:   d.config.Daemon.LogFile,
	}); err != nil {
		return fmt.Errorf("failed to reinitialize logging: %w", err)
	}
	d.config.Daemon.LogLevel = newCfg.Daemon.LogLevel

	logging.Info("config reloaded",
		"log_level", d.config.Daemon.LogLevel,
		"signed_hooks", d.currentSigner().Enabled())
	return nil
}

func (d *Daemon) currentSigner() *auth.Signer {
	d.signerMu.RLock()
	defer d.signerMu.RUnlock()
	return d.signer
}

// setDraining sets the draining state.
func (d *Daemon) setDraining(draining bool) {
	d.drainingMu.Lock()
	d.draining = draining
	d.drainingMu.Unlock()
}

// beginPush registers an in-flight push unless the daemon is draining.
func (d *Daemon) beginPush() bool {
	d.drainingMu.RLock()
	defer d.drainingMu.RUnlock()
	if d.draining {
		return false
	}
	d.inflight.Add(1)
	return true
}

// safeGo runs a function in a goroutine with panic recovery.
func (d *Daemon) safeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.CapturePanic(r, "goroutine", name)
			}
		}()
		fn()
	}()
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(control.MethodReceivePush, d.handleReceivePush)
	d.server.Handle(control.MethodGetTicket, d.handleGetTicket)
	d.server.Handle(control.MethodListTickets, d.handleListTickets)
	d.server.Handle(control.MethodListChanges, d.handleListChanges)
}

// codedError carries a control error code to the client.
type codedError struct {
	code string
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Code() string  { return e.code }
func (e *codedError) Unwrap() error { return e.err }

// codeFor classifies a receive error for the hook.
func codeFor(err error) error {
	switch {
	case errors.Is(err, ticketref.ErrNotTicketRef):
		return &codedError{code: control.CodeNotTicketRef, err: err}
	case errors.Is(err, store.ErrRevisionConflict):
		return &codedError{code: control.CodeConflict, err: err}
	case errors.Is(err, receive.ErrRejected):
		return &codedError{code: control.CodeRejected, err: err}
	}
	return err
}

func (d *Daemon) handleReceivePush(ctx context.Context, params json.RawMessage) (any, error) {
	if !d.beginPush() {
		return nil, &codedError{code: control.CodeRejected, err: errors.New("ticketd is shutting down, retry the push")}
	}
	defer d.inflight.Done()

	var req control.ReceivePushRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if req.Repository == "" {
		req.Repository = d.config.Tickets.Repository
	}
	if req.Repository == "" {
		return nil, errors.New("repository is required")
	}

	pusher, err := d.currentSigner().Verify(req.Token, req.Repository, req.Pusher)
	if err != nil {
		return nil, &codedError{code: control.CodeUnauthorized, err: err}
	}
	req.Pusher = pusher

	res, err := d.receiver.Receive(ctx, req.Push)
	if err != nil {
		return nil, codeFor(err)
	}
	return res, nil
}

func (d *Daemon) handleGetTicket(ctx context.Context, params json.RawMessage) (any, error) {
	var req control.GetTicketRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return d.store.GetTicket(ctx, req.Number)
}

func (d *Daemon) handleListTickets(ctx context.Context, params json.RawMessage) (any, error) {
	var req control.ListTicketsRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	return d.store.ListTickets(ctx, req.Status...)
}

func (d *Daemon) handleListChanges(ctx context.Context, params json.RawMessage) (any, error) {
	var req control.ListChangesRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	return d.store.ListChanges(ctx, req.Number)
}
