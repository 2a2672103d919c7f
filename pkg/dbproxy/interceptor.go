// Package dbproxy implements the database wire-protocol interceptor: a TCP
// proxy per configured database that frames the client stream, extracts and
// classifies queries, records them as request history, and can answer
// queries from stored mocks with protocol-correct responses.
package dbproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// Interceptor owns the database proxies. Each started proxy binds a TCP
// listener and relays connections to its target, observing the stream.
type Interceptor struct {
	mocks   *mock.Store
	history *record.History
	bus     *event.Bus
	log     *slog.Logger

	dialTimeout time.Duration

	// testing forces mock-only serving: no backend connections are opened
	// and interceptable queries are answered from the store.
	testing atomic.Bool

	mu      sync.RWMutex
	proxies map[int]*proxyInstance
}

type proxyInstance struct {
	cfg    config.ProxyConfig
	ln     net.Listener
	dedup  *Deduper
	closed atomic.Bool

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Interceptor) {
		if log != nil {
			i.log = log
		}
	}
}

// WithDialTimeout sets the backend connect timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(i *Interceptor) {
		if d > 0 {
			i.dialTimeout = d
		}
	}
}

// New creates an interceptor over shared stores.
func New(mocks *mock.Store, history *record.History, bus *event.Bus, opts ...Option) *Interceptor {
	i := &Interceptor{
		mocks:       mocks,
		history:     history,
		bus:         bus,
		log:         logging.Nop(),
		dialTimeout: config.DefaultConnectTimeout,
		proxies:     make(map[int]*proxyInstance),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetTestingMode toggles mock-only serving for all database proxies.
func (i *Interceptor) SetTestingMode(on bool) {
	i.testing.Store(on)
	i.log.Info("testing mode changed", "enabled", on)
}

// TestingMode reports whether mock-only serving is active.
func (i *Interceptor) TestingMode() bool {
	return i.testing.Load()
}

// StartProxy binds the listener for a database proxy config and begins
// accepting connections.
func (i *Interceptor) StartProxy(cfg config.ProxyConfig) error {
	if !cfg.IsDatabase() {
		return fmt.Errorf("%w: %s", ErrUnsupportedProtocol, cfg.Protocol)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.proxies[cfg.ListenPort]; ok {
		return fmt.Errorf("%w: %d", ErrAlreadyRunning, cfg.ListenPort)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.ListenPort))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: %d", ErrPortInUse, cfg.ListenPort)
		}
		return fmt.Errorf("listen on port %d: %w", cfg.ListenPort, err)
	}

	inst := &proxyInstance{
		cfg:   cfg,
		ln:    ln,
		dedup: NewDeduper(cfg.Dedup.Enabled, cfg.Dedup.Window()),
		conns: make(map[net.Conn]struct{}),
	}
	i.proxies[cfg.ListenPort] = inst

	i.log.Info("database proxy started",
		"port", cfg.ListenPort,
		"protocol", cfg.Protocol,
		"target", fmt.Sprintf("%s:%d", cfg.TargetHost, cfg.TargetPort))

	go i.acceptLoop(inst)
	return nil
}

// StopProxy closes a proxy's listener and all of its live connections.
func (i *Interceptor) StopProxy(port int) error {
	i.mu.Lock()
	inst, ok := i.proxies[port]
	if ok {
		delete(i.proxies, port)
	}
	i.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotRunning, port)
	}

	inst.closed.Store(true)
	inst.ln.Close()
	inst.connMu.Lock()
	for c := range inst.conns {
		c.Close()
	}
	inst.connMu.Unlock()
	inst.wg.Wait()

	i.log.Info("database proxy stopped", "port", port)
	return nil
}

// StopAll stops every running proxy, honoring ctx for the drain.
func (i *Interceptor) StopAll(ctx context.Context) error {
	i.mu.RLock()
	ports := make([]int, 0, len(i.proxies))
	for port := range i.proxies {
		ports = append(ports, port)
	}
	i.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		for _, port := range ports {
			i.StopProxy(port) //nolint:errcheck
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether a proxy is listening on the port.
func (i *Interceptor) Running(port int) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.proxies[port]
	return ok
}

// SetDedup toggles query deduplication for a running proxy.
func (i *Interceptor) SetDedup(port int, on bool) error {
	i.mu.RLock()
	inst, ok := i.proxies[port]
	i.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotRunning, port)
	}
	inst.dedup.SetEnabled(on)
	return nil
}

func (i *Interceptor) acceptLoop(inst *proxyInstance) {
	for {
		conn, err := inst.ln.Accept()
		if err != nil {
			if inst.closed.Load() {
				return
			}
			i.log.Warn("accept failed", "port", inst.cfg.ListenPort, "error", err)
			return
		}

		inst.connMu.Lock()
		inst.conns[conn] = struct{}{}
		inst.connMu.Unlock()
		inst.wg.Add(1)

		go func() {
			defer inst.wg.Done()
			defer func() {
				inst.connMu.Lock()
				delete(inst.conns, conn)
				inst.connMu.Unlock()
			}()
			i.handleConn(inst, conn)
		}()
	}
}
