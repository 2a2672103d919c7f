package dbproxy

import (
	"sync"
	"time"
)

// Deduper collapses identical queries arriving within a short window from
// concurrent connections (a common pattern with connection-pooled ORMs)
// into a single observed record. Entries self-prune by window expiry, so
// the map stays bounded under sustained traffic.
type Deduper struct {
	mu      sync.Mutex
	enabled bool
	window  time.Duration
	entries map[string]dedupEntry
}

type dedupEntry struct {
	recordID string
	at       time.Time
}

// NewDeduper creates a deduper. A non-positive window disables collapsing
// regardless of the enabled flag.
func NewDeduper(enabled bool, window time.Duration) *Deduper {
	return &Deduper{
		enabled: enabled,
		window:  window,
		entries: make(map[string]dedupEntry),
	}
}

// SetEnabled toggles deduplication at runtime.
func (d *Deduper) SetEnabled(on bool) {
	d.mu.Lock()
	d.enabled = on
	d.mu.Unlock()
}

// Enabled reports the current toggle state.
func (d *Deduper) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Lookup returns the record ID a fingerprint resolved to if it is still
// inside the window. Expired entries are pruned on access.
func (d *Deduper) Lookup(fp string, now time.Time) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled || d.window <= 0 {
		return "", false
	}
	d.pruneLocked(now)
	e, ok := d.entries[fp]
	if !ok {
		return "", false
	}
	return e.recordID, true
}

// Remember associates a fingerprint with the record it resolved to.
func (d *Deduper) Remember(fp, recordID string, now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled || d.window <= 0 {
		return
	}
	d.entries[fp] = dedupEntry{recordID: recordID, at: now}
}

func (d *Deduper) pruneLocked(now time.Time) {
	for fp, e := range d.entries {
		if now.Sub(e.at) >= d.window {
			delete(d.entries, fp)
		}
	}
}

// Len returns the number of live entries (after pruning).
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(time.Now())
	return len(d.entries)
}
