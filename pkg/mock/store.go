package mock

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrDuplicateMock is returned by Add when an enabled mock with the same
// key already exists and the caller did not request replacement.
var ErrDuplicateMock = errors.New("a mock with this key already exists")

// ErrMockNotFound is returned when a mock ID does not exist in the store.
var ErrMockNotFound = errors.New("mock not found")

// Store is the keyed mock collection, scoped per proxy port.
type Store struct {
	mu     sync.RWMutex
	byPort map[int]map[string]*Mock // port -> key -> mock
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byPort: make(map[int]map[string]*Mock)}
}

// Add stores a mock. With replace=false an enabled mock under the same key
// fails with ErrDuplicateMock; with replace=true the existing entry is
// overwritten in place, keeping its identity.
func (s *Store) Add(m *Mock, replace bool) error {
	if m == nil {
		return errors.New("nil mock")
	}
	if m.Key == "" {
		return errors.New("mock key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.byPort[m.ProxyPort]
	if bucket == nil {
		bucket = make(map[string]*Mock)
		s.byPort[m.ProxyPort] = bucket
	}

	now := time.Now()
	if existing, ok := bucket[m.Key]; ok {
		if existing.Enabled && !replace {
			return fmt.Errorf("%w: %s", ErrDuplicateMock, m.Key)
		}
		m.ID = existing.ID
		m.CreatedAt = existing.CreatedAt
		m.UpdatedAt = now
		bucket[m.Key] = m
		return nil
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	bucket[m.Key] = m
	return nil
}

// ReplaceResponse overwrites the stored response of the mock under key,
// preserving its key, ID, and enabled flag. Used by the auto-replace policy.
func (s *Store) ReplaceResponse(port int, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byPort[port][key]
	if !ok {
		return ErrMockNotFound
	}
	m.Response = resp
	m.UpdatedAt = time.Now()
	return nil
}

// Find returns a copy of the enabled mock under key, or nil.
func (s *Store) Find(port int, key string) *Mock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byPort[port][key]
	if !ok || !m.Enabled {
		return nil
	}
	return m.Clone()
}

// Get returns a copy of the mock with the given ID, or nil.
func (s *Store) Get(port int, id string) *Mock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, m := range s.byPort[port] {
		if m.ID == id {
			return m.Clone()
		}
	}
	return nil
}

// Remove deletes the mock with the given ID.
func (s *Store) Remove(port int, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, m := range s.byPort[port] {
		if m.ID == id {
			delete(s.byPort[port], key)
			return nil
		}
	}
	return ErrMockNotFound
}

// Toggle flips the enabled flag of the mock with the given ID and returns
// the new state.
func (s *Store) Toggle(port int, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.byPort[port] {
		if m.ID == id {
			m.Enabled = !m.Enabled
			m.UpdatedAt = time.Now()
			return m.Enabled, nil
		}
	}
	return false, ErrMockNotFound
}

// List returns copies of all mocks for a proxy, oldest first.
func (s *Store) List(port int) []*Mock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Mock, 0, len(s.byPort[port]))
	for _, m := range s.byPort[port] {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of mocks stored for a proxy.
func (s *Store) Count(port int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPort[port])
}

// Trim evicts oldest-created mocks until at most max remain. Trimming is
// explicit: callers invoke it after inserts that may exceed the bound.
func (s *Store) Trim(port, max int) int {
	if max <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.byPort[port]
	if len(bucket) <= max {
		return 0
	}
	all := make([]*Mock, 0, len(bucket))
	for _, m := range bucket {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	evict := len(all) - max
	for _, m := range all[:evict] {
		delete(bucket, m.Key)
	}
	return evict
}

// DeletePort removes every mock owned by a proxy. Called when the proxy is
// deleted (cascade).
func (s *Store) DeletePort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byPort, port)
}
