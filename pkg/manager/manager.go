// Package manager orchestrates the platform: the proxy registry keyed by
// listen port, engine lifecycle, shared stores, persistence, and the
// mock drift policy.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/dbproxy"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/httpproxy"
	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
	"github.com/interceptd/interceptd/pkg/store/file"
)

var (
	// ErrProxyNotFound is returned for operations on an unknown port.
	ErrProxyNotFound = errors.New("proxy not found")

	// ErrProxyExists is returned when creating a proxy on an occupied port.
	ErrProxyExists = errors.New("a proxy already exists on this port")
)

// Manager owns every proxy and the stores they share.
type Manager struct {
	mocks   *mock.Store
	history *record.History
	bus     *event.Bus
	files   *file.Store // nil disables persistence
	log     *slog.Logger

	db *dbproxy.Interceptor

	autoReplace atomic.Bool

	mu      sync.RWMutex
	proxies map[int]*proxyEntry

	stopPersist func()
}

// proxyEntry pairs a proxy config with its engine. Database proxies run
// inside the shared interceptor and have no engine of their own.
type proxyEntry struct {
	cfg    *config.ProxyConfig
	engine *httpproxy.Engine
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithFileStore enables persistence through the given store.
func WithFileStore(fs *file.Store) Option {
	return func(m *Manager) { m.files = fs }
}

// New creates a manager with fresh shared stores.
func New(opts ...Option) *Manager {
	m := &Manager{
		mocks:   mock.NewStore(),
		history: record.NewHistory(),
		bus:     event.NewBus(0),
		log:     logging.Nop(),
		proxies: make(map[int]*proxyEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.db = dbproxy.New(m.mocks, m.history, m.bus, dbproxy.WithLogger(m.log))
	if m.files != nil {
		m.stopPersist = m.startPersistLoop()
	}
	return m
}

// Bus returns the shared event bus.
func (m *Manager) Bus() *event.Bus { return m.bus }

// Mocks returns the shared mock store.
func (m *Manager) Mocks() *mock.Store { return m.mocks }

// History returns the shared request history.
func (m *Manager) History() *record.History { return m.history }

// SetAutoReplace toggles the auto-replace drift policy.
func (m *Manager) SetAutoReplace(on bool) {
	m.autoReplace.Store(on)
	m.log.Info("auto-replace changed", "enabled", on)
}

// AutoReplace reports whether stale mocks are replaced automatically.
func (m *Manager) AutoReplace() bool { return m.autoReplace.Load() }

// SetTestingMode toggles mock-only serving for database proxies.
func (m *Manager) SetTestingMode(on bool) { m.db.SetTestingMode(on) }

// TestingMode reports whether mock-only serving is active.
func (m *Manager) TestingMode() bool { return m.db.TestingMode() }

// Load restores persisted proxies, mocks, and history, then starts every
// proxy marked enabled. Missing documents are treated as empty.
func (m *Manager) Load(cfg *config.Config) error {
	if cfg != nil {
		m.autoReplace.Store(cfg.AutoReplace)
		for _, pc := range cfg.Proxies {
			if err := m.registerProxy(pc); err != nil {
				return fmt.Errorf("proxy %d: %w", pc.ListenPort, err)
			}
		}
	}

	if m.files != nil {
		persisted, err := m.files.LoadProxies()
		if err != nil {
			return err
		}
		for _, pc := range persisted {
			if m.knownPort(pc.ListenPort) {
				continue
			}
			if err := m.registerProxy(pc); err != nil {
				m.log.Warn("skipping persisted proxy", "port", pc.ListenPort, "error", err)
			}
		}

		for _, port := range m.Ports() {
			mocks, err := m.files.LoadMocks(port)
			if err != nil {
				m.log.Warn("load mocks failed", "port", port, "error", err)
			}
			for _, mk := range mocks {
				if mk == nil {
					continue
				}
				if err := m.mocks.Add(mk, true); err != nil {
					m.log.Warn("restore mock failed", "port", port, "error", err)
				}
			}

			recs, err := m.files.LoadRequests(port)
			if err != nil {
				m.log.Warn("load requests failed", "port", port, "error", err)
			}
			m.history.Restore(port, recs)
		}
	}

	for _, port := range m.Ports() {
		entry := m.entry(port)
		if entry != nil && entry.cfg.Enabled {
			if err := m.StartProxy(port); err != nil {
				m.log.Warn("proxy autostart failed", "port", port, "error", err)
			}
		}
	}
	return nil
}

// CreateProxy registers a new proxy and starts it if marked enabled.
func (m *Manager) CreateProxy(pc *config.ProxyConfig) error {
	if err := m.registerProxy(pc); err != nil {
		return err
	}
	m.persistProxies()
	if pc.Enabled {
		return m.StartProxy(pc.ListenPort)
	}
	return nil
}

func (m *Manager) registerProxy(pc *config.ProxyConfig) error {
	if pc == nil {
		return errors.New("nil proxy config")
	}
	pc.ApplyDefaults()
	if err := pc.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proxies[pc.ListenPort]; ok {
		return fmt.Errorf("%w: %d", ErrProxyExists, pc.ListenPort)
	}

	entry := &proxyEntry{cfg: pc}
	if !pc.IsDatabase() {
		entry.engine = httpproxy.New(pc, m.mocks, m.history, m.bus,
			httpproxy.WithLogger(m.log),
			httpproxy.WithDriftHandler(m))
	}
	m.proxies[pc.ListenPort] = entry
	return nil
}

// UpdateProxy replaces a proxy's configuration. A running proxy is
// restarted on its new settings; the listen port itself cannot change.
func (m *Manager) UpdateProxy(port int, pc *config.ProxyConfig) error {
	if pc == nil {
		return errors.New("nil proxy config")
	}
	if pc.ListenPort != port {
		return errors.New("listen port cannot change; delete and recreate")
	}
	pc.ApplyDefaults()
	if err := pc.Validate(); err != nil {
		return err
	}

	wasRunning := m.ProxyRunning(port)
	if wasRunning {
		if err := m.StopProxy(port); err != nil {
			return err
		}
	}

	m.mu.Lock()
	entry, ok := m.proxies[port]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrProxyNotFound, port)
	}
	entry.cfg = pc
	if pc.IsDatabase() {
		entry.engine = nil
	} else {
		entry.engine = httpproxy.New(pc, m.mocks, m.history, m.bus,
			httpproxy.WithLogger(m.log),
			httpproxy.WithDriftHandler(m))
	}
	m.mu.Unlock()

	m.persistProxies()
	if wasRunning && pc.Enabled {
		return m.StartProxy(port)
	}
	return nil
}

// DeleteProxy stops a proxy and removes it along with everything it owns:
// mocks, request history, and persisted documents.
func (m *Manager) DeleteProxy(port int) error {
	if m.ProxyRunning(port) {
		if err := m.StopProxy(port); err != nil {
			return err
		}
	}

	m.mu.Lock()
	_, ok := m.proxies[port]
	delete(m.proxies, port)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrProxyNotFound, port)
	}

	m.mocks.DeletePort(port)
	m.history.DeletePort(port)
	if m.files != nil {
		m.files.DeleteProxyData(port)
	}
	m.persistProxies()
	m.log.Info("proxy deleted", "port", port)
	return nil
}

// StartProxy starts the engine for the port.
func (m *Manager) StartProxy(port int) error {
	entry := m.entry(port)
	if entry == nil {
		return fmt.Errorf("%w: %d", ErrProxyNotFound, port)
	}
	if entry.cfg.IsDatabase() {
		return m.db.StartProxy(*entry.cfg)
	}
	return entry.engine.Start()
}

// StopProxy stops the engine for the port.
func (m *Manager) StopProxy(port int) error {
	entry := m.entry(port)
	if entry == nil {
		return fmt.Errorf("%w: %d", ErrProxyNotFound, port)
	}
	if entry.cfg.IsDatabase() {
		return m.db.StopProxy(port)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return entry.engine.Stop(ctx)
}

// ProxyRunning reports whether the proxy on port is serving.
func (m *Manager) ProxyRunning(port int) bool {
	entry := m.entry(port)
	if entry == nil {
		return false
	}
	if entry.cfg.IsDatabase() {
		return m.db.Running(port)
	}
	return entry.engine.Running()
}

// TestConnection probes a proxy's backend over TCP.
func (m *Manager) TestConnection(port int) (httpproxy.ConnectionTest, error) {
	entry := m.entry(port)
	if entry == nil {
		return httpproxy.ConnectionTest{}, fmt.Errorf("%w: %d", ErrProxyNotFound, port)
	}
	return httpproxy.TestTarget(entry.cfg.TargetHost, entry.cfg.TargetPort, config.DefaultConnectTimeout), nil
}

// ProxyStatus describes one proxy for the control surface.
type ProxyStatus struct {
	Config  *config.ProxyConfig `json:"config"`
	Running bool                `json:"running"`
	Stats   record.Stats        `json:"stats"`
	Mocks   int                 `json:"mocks"`
}

// GetProxy returns the status of one proxy.
func (m *Manager) GetProxy(port int) (*ProxyStatus, error) {
	entry := m.entry(port)
	if entry == nil {
		return nil, fmt.Errorf("%w: %d", ErrProxyNotFound, port)
	}
	return &ProxyStatus{
		Config:  entry.cfg,
		Running: m.ProxyRunning(port),
		Stats:   m.history.StatsFor(port),
		Mocks:   m.mocks.Count(port),
	}, nil
}

// ListProxies returns the status of every registered proxy, ordered by port.
func (m *Manager) ListProxies() []*ProxyStatus {
	out := make([]*ProxyStatus, 0)
	for _, port := range m.Ports() {
		if st, err := m.GetProxy(port); err == nil {
			out = append(out, st)
		}
	}
	return out
}

// Ports returns the registered listen ports in ascending order.
func (m *Manager) Ports() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ports := make([]int, 0, len(m.proxies))
	for port := range m.proxies {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	return ports
}

func (m *Manager) entry(port int) *proxyEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.proxies[port]
}

func (m *Manager) knownPort(port int) bool {
	return m.entry(port) != nil
}

// Shutdown stops every proxy and flushes pending persistence.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.stopPersist != nil {
		m.stopPersist()
	}

	var firstErr error
	for _, port := range m.Ports() {
		if !m.ProxyRunning(port) {
			continue
		}
		if err := m.StopProxy(port); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.db.StopAll(ctx); err != nil && firstErr == nil {
		firstErr = err
	}

	if m.files != nil {
		m.files.Flush()
		for _, port := range m.Ports() {
			m.saveMocksNow(port)
			m.saveRequestsNow(port)
		}
		m.persistProxies()
	}
	return firstErr
}
