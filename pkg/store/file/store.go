// Package file persists proxy configuration, request history, and mocks as
// JSON documents on disk. Each proxy owns its own pair of documents keyed
// by listen port, so one corrupt file never takes down the rest.
package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/logging"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// DefaultDebounce batches rapid successive writes into one disk write.
const DefaultDebounce = 2 * time.Second

// Store reads and writes the on-disk documents under a data directory.
type Store struct {
	dir      string
	log      *slog.Logger
	debounce time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDebounce sets the delay used by the scheduled save methods.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// New creates a store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, errors.New("data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	s := &Store{
		dir:      dir,
		log:      logging.Nop(),
		debounce: DefaultDebounce,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// requestsDoc is the persisted request-history document for one proxy.
type requestsDoc struct {
	SystemID    int              `json:"systemId"`
	LastUpdated time.Time        `json:"lastUpdated"`
	Requests    []*record.Record `json:"requests"`
}

// mocksDoc is the persisted mock document for one proxy.
type mocksDoc struct {
	SystemID    int          `json:"systemId"`
	LastUpdated time.Time    `json:"lastUpdated"`
	Mocks       []*mock.Mock `json:"mocks"`
}

// proxiesDoc is the persisted proxy-registry document.
type proxiesDoc struct {
	LastUpdated time.Time             `json:"lastUpdated"`
	Proxies     []*config.ProxyConfig `json:"proxies"`
}

func (s *Store) requestsPath(port int) string {
	return filepath.Join(s.dir, fmt.Sprintf("requests-%d.json", port))
}

func (s *Store) mocksPath(port int) string {
	return filepath.Join(s.dir, fmt.Sprintf("mocks-%d.json", port))
}

func (s *Store) proxiesPath() string {
	return filepath.Join(s.dir, "proxies.json")
}

// LoadRequests reads a proxy's persisted history. A missing file is not an
// error: a fresh proxy simply has no history yet.
func (s *Store) LoadRequests(port int) ([]*record.Record, error) {
	var doc requestsDoc
	if err := s.readDoc(s.requestsPath(port), &doc); err != nil {
		return nil, err
	}
	return doc.Requests, nil
}

// SaveRequests writes a proxy's history document immediately.
func (s *Store) SaveRequests(port int, recs []*record.Record) error {
	return s.writeDoc(s.requestsPath(port), requestsDoc{
		SystemID:    port,
		LastUpdated: time.Now(),
		Requests:    recs,
	})
}

// LoadMocks reads a proxy's persisted mocks. Missing file means none.
func (s *Store) LoadMocks(port int) ([]*mock.Mock, error) {
	var doc mocksDoc
	if err := s.readDoc(s.mocksPath(port), &doc); err != nil {
		return nil, err
	}
	// Stored documents may predate classification fixes; heal on load.
	for _, m := range doc.Mocks {
		if m != nil {
			m.Normalize()
		}
	}
	return doc.Mocks, nil
}

// SaveMocks writes a proxy's mock document immediately.
func (s *Store) SaveMocks(port int, mocks []*mock.Mock) error {
	return s.writeDoc(s.mocksPath(port), mocksDoc{
		SystemID:    port,
		LastUpdated: time.Now(),
		Mocks:       mocks,
	})
}

// LoadProxies reads the persisted proxy registry. Missing file means empty.
func (s *Store) LoadProxies() ([]*config.ProxyConfig, error) {
	var doc proxiesDoc
	if err := s.readDoc(s.proxiesPath(), &doc); err != nil {
		return nil, err
	}
	return doc.Proxies, nil
}

// SaveProxies writes the proxy registry immediately.
func (s *Store) SaveProxies(proxies []*config.ProxyConfig) error {
	return s.writeDoc(s.proxiesPath(), proxiesDoc{
		LastUpdated: time.Now(),
		Proxies:     proxies,
	})
}

// ScheduleSaveRequests debounces a history write: fetch is called once the
// quiet period elapses, so bursts of traffic coalesce into one disk write.
func (s *Store) ScheduleSaveRequests(port int, fetch func() []*record.Record) {
	s.schedule(fmt.Sprintf("requests-%d", port), func() {
		if err := s.SaveRequests(port, fetch()); err != nil {
			s.log.Warn("persist requests failed", "port", port, "error", err)
		}
	})
}

// ScheduleSaveMocks debounces a mock-document write.
func (s *Store) ScheduleSaveMocks(port int, fetch func() []*mock.Mock) {
	s.schedule(fmt.Sprintf("mocks-%d", port), func() {
		if err := s.SaveMocks(port, fetch()); err != nil {
			s.log.Warn("persist mocks failed", "port", port, "error", err)
		}
	})
}

func (s *Store) schedule(key string, run func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[key]; ok {
		t.Reset(s.debounce)
		return
	}
	s.timers[key] = time.AfterFunc(s.debounce, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		run()
	})
}

// Flush cancels pending debounced writes. Shutdown paths call this and
// then save explicitly, so nothing races the final write.
func (s *Store) Flush() {
	s.mu.Lock()
	timers := s.timers
	s.timers = make(map[string]*time.Timer)
	s.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

// DeleteProxyData removes a proxy's documents (cascade on proxy delete).
func (s *Store) DeleteProxyData(port int) {
	for _, path := range []string{s.requestsPath(port), s.mocksPath(port)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("delete proxy document failed", "path", path, "error", err)
		}
	}
}

func (s *Store) readDoc(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// writeDoc writes atomically via a temp file and rename, so a crash
// mid-write never leaves a truncated document behind.
func (s *Store) writeDoc(path string, doc any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
