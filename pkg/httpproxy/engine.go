// Package httpproxy implements the HTTP proxy engine: one instance per
// configured listen port, forwarding to a backend while recording every
// exchange and substituting enabled mocks.
package httpproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/interceptd/interceptd/internal/matching"
	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/diff"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// maxCapturedBody caps how much of a body is retained on a record.
const maxCapturedBody = 64 * 1024

// DriftHandler receives the live backend response captured by a shadow
// call after a mock was served, so the owner can detect and act on drift.
type DriftHandler interface {
	HandleMockHit(rec *record.Record, m *mock.Mock, live diff.Response)
}

// Engine is one HTTP proxy instance.
type Engine struct {
	cfg     *config.ProxyConfig
	mocks   *mock.Store
	history *record.History
	bus     *event.Bus
	log     *slog.Logger
	client  *http.Client
	drift   DriftHandler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	running  bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithDriftHandler enables shadow comparison of served mocks against the
// live backend.
func WithDriftHandler(h DriftHandler) Option {
	return func(e *Engine) { e.drift = h }
}

// WithClient overrides the forwarding HTTP client.
func WithClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.client = c
		}
	}
}

// New creates an engine bound to a configuration, mock store, history, and
// event bus. Start must be called to begin serving.
func New(cfg *config.ProxyConfig, mocks *mock.Store, history *record.History, bus *event.Bus, opts ...Option) *Engine {
	cfg.ApplyDefaults()
	e := &Engine{
		cfg:     cfg,
		mocks:   mocks,
		history: history,
		bus:     bus,
		log:     logging.Nop(),
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the engine's configuration.
func (e *Engine) Config() *config.ProxyConfig { return e.cfg }

// Running reports whether the listener is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start validates the configuration and binds the listen port. Circular
// targets and occupied ports fail synchronously before any traffic flows.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	if err := e.cfg.Validate(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", e.cfg.ListenPort))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %d", ErrPortInUse, e.cfg.ListenPort)
		}
		return err
	}

	e.listener = ln
	e.server = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	e.running = true
	e.log.Info("http proxy started",
		"port", e.cfg.ListenPort,
		"target", fmt.Sprintf("%s:%d", e.cfg.TargetHost, e.cfg.TargetPort))

	srv := e.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("http proxy serve error", "port", e.cfg.ListenPort, "error", err)
		}
	}()
	return nil
}

// Stop closes the listener immediately; in-flight exchanges are given until
// ctx expires to finish.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrNotRunning
	}
	srv := e.server
	ln := e.listener
	e.running = false
	e.server = nil
	e.listener = nil
	e.mu.Unlock()

	e.log.Info("http proxy stopped", "port", e.cfg.ListenPort)
	err := srv.Shutdown(ctx)
	// Shutdown only closes listeners Serve has registered; close ours
	// directly in case the serve goroutine has not been scheduled yet.
	if ln != nil {
		_ = ln.Close()
	}
	return err
}

// TestTargetConnection probes the configured backend.
func (e *Engine) TestTargetConnection(timeout time.Duration) ConnectionTest {
	return TestTarget(e.cfg.TargetHost, e.cfg.TargetPort, timeout)
}

// matchKey builds the lookup key for a request, honoring the optional
// parameterized-path policy.
func (e *Engine) findMock(method, path, rawQuery string) *mock.Mock {
	key := matching.RequestKey(method, path, rawQuery)
	if m := e.mocks.Find(e.cfg.ListenPort, key); m != nil {
		return m
	}
	if e.cfg.MatchPathFamilies {
		if m := e.mocks.Find(e.cfg.ListenPort, matching.FamilyKey(method, path)); m != nil {
			return m
		}
	}
	return nil
}
