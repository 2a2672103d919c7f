package record

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrRecordNotFound is returned when a record ID is not in the history.
var ErrRecordNotFound = errors.New("record not found")

// ErrAlreadyCompleted is returned when completing a record twice. Records
// transition to a terminal status exactly once.
var ErrAlreadyCompleted = errors.New("record already completed")

// Filter narrows List results.
type Filter struct {
	Method     string
	Status     Status
	PathPrefix string
	MockedOnly bool
	Limit      int
}

// History stores request records per proxy port with FIFO eviction.
type History struct {
	mu     sync.RWMutex
	byPort map[int][]*Record
	index  map[string]*Record
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{
		byPort: make(map[int][]*Record),
		index:  make(map[string]*Record),
	}
}

// Add appends a record to its proxy's history.
func (h *History) Add(r *Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byPort[r.ProxyPort] = append(h.byPort[r.ProxyPort], r)
	h.index[r.ID] = r
}

// Get returns a copy of the record with the given ID, or nil.
func (h *History) Get(id string) *Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.index[id]; ok {
		return r.Clone()
	}
	return nil
}

// Complete transitions a pending record to a terminal status, applying
// mutate to fill in response fields first. The transition happens exactly
// once; a second call fails with ErrAlreadyCompleted.
func (h *History) Complete(id string, status Status, mutate func(*Record)) (*Record, error) {
	if !status.Terminal() {
		return nil, errors.New("completion status must be terminal")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.index[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	if r.Status.Terminal() {
		return nil, ErrAlreadyCompleted
	}
	if mutate != nil {
		mutate(r)
	}
	r.Status = status
	r.CompletedAt = time.Now()
	r.DurationMs = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	return r.Clone(), nil
}

// Annotate applies mutate to a stored record without changing its status.
// Used to attach tags or a cached comparison after completion.
func (h *History) Annotate(id string, mutate func(*Record)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.index[id]
	if !ok {
		return ErrRecordNotFound
	}
	mutate(r)
	return nil
}

// List returns copies of a proxy's records, oldest first, after filtering.
func (h *History) List(port int, f *Filter) []*Record {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*Record
	for _, r := range h.byPort[port] {
		if f != nil {
			if f.Method != "" && !strings.EqualFold(f.Method, r.Method) {
				continue
			}
			if f.Status != "" && f.Status != r.Status {
				continue
			}
			if f.PathPrefix != "" && !strings.HasPrefix(r.Path, f.PathPrefix) {
				continue
			}
			if f.MockedOnly && !r.Mocked {
				continue
			}
		}
		out = append(out, r.Clone())
		if f != nil && f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Count returns the number of records for a proxy.
func (h *History) Count(port int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byPort[port])
}

// Trim evicts oldest records until at most max remain for the proxy.
// Trimming is explicit; callers invoke it after inserts.
func (h *History) Trim(port, max int) int {
	if max <= 0 {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	recs := h.byPort[port]
	if len(recs) <= max {
		return 0
	}
	evict := len(recs) - max
	for _, r := range recs[:evict] {
		delete(h.index, r.ID)
	}
	h.byPort[port] = append([]*Record(nil), recs[evict:]...)
	return evict
}

// Restore seeds a proxy's history from persisted records, keeping IDs.
func (h *History) Restore(port int, recs []*Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range recs {
		if r == nil || r.ID == "" {
			continue
		}
		h.byPort[port] = append(h.byPort[port], r)
		h.index[r.ID] = r
	}
}

// DeletePort removes all records owned by a proxy (cascade on delete).
func (h *History) DeletePort(port int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.byPort[port] {
		delete(h.index, r.ID)
	}
	delete(h.byPort, port)
}

// Stats summarizes a proxy's history.
type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Timeout int `json:"timeout"`
	Mocked  int `json:"mocked"`
}

// StatsFor computes counters over a proxy's records.
func (h *History) StatsFor(port int) Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var s Stats
	for _, r := range h.byPort[port] {
		s.Total++
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusSuccess:
			s.Success++
		case StatusFailed:
			s.Failed++
		case StatusTimeout:
			s.Timeout++
		}
		if r.Mocked {
			s.Mocked++
		}
	}
	return s
}
