package dbproxy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeduperInsideWindow(t *testing.T) {
	d := NewDeduper(true, 500*time.Millisecond)
	now := time.Now()

	d.Remember("fp", "rec-1", now)

	id, ok := d.Lookup("fp", now.Add(100*time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, "rec-1", id)

	// Just inside the boundary.
	_, ok = d.Lookup("fp", now.Add(499*time.Millisecond))
	assert.True(t, ok)
}

func TestDeduperOutsideWindow(t *testing.T) {
	d := NewDeduper(true, 500*time.Millisecond)
	now := time.Now()

	d.Remember("fp", "rec-1", now)

	_, ok := d.Lookup("fp", now.Add(500*time.Millisecond))
	assert.False(t, ok, "entry at exactly the window edge has expired")

	_, ok = d.Lookup("fp", now.Add(time.Second))
	assert.False(t, ok)
	assert.Equal(t, 0, d.Len(), "expired entries are pruned")
}

func TestDeduperDistinctFingerprints(t *testing.T) {
	d := NewDeduper(true, 500*time.Millisecond)
	now := time.Now()

	d.Remember("fp-a", "rec-a", now)
	d.Remember("fp-b", "rec-b", now)

	id, ok := d.Lookup("fp-a", now.Add(time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, "rec-a", id)

	id, ok = d.Lookup("fp-b", now.Add(time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, "rec-b", id)
}

func TestDeduperDisabled(t *testing.T) {
	d := NewDeduper(false, 500*time.Millisecond)
	now := time.Now()

	d.Remember("fp", "rec-1", now)
	_, ok := d.Lookup("fp", now)
	assert.False(t, ok, "disabled deduper never collapses")
}

func TestDeduperToggle(t *testing.T) {
	d := NewDeduper(true, 500*time.Millisecond)
	now := time.Now()
	d.Remember("fp", "rec-1", now)

	d.SetEnabled(false)
	assert.False(t, d.Enabled())
	_, ok := d.Lookup("fp", now)
	assert.False(t, ok)

	d.SetEnabled(true)
	_, ok = d.Lookup("fp", now.Add(time.Millisecond))
	assert.True(t, ok)
}

func TestDeduperZeroWindow(t *testing.T) {
	d := NewDeduper(true, 0)
	now := time.Now()
	d.Remember("fp", "rec-1", now)
	_, ok := d.Lookup("fp", now)
	assert.False(t, ok)
}

func TestDeduperRefreshOnRemember(t *testing.T) {
	d := NewDeduper(true, 500*time.Millisecond)
	now := time.Now()

	d.Remember("fp", "rec-1", now)
	d.Remember("fp", "rec-2", now.Add(400*time.Millisecond))

	// The refreshed entry survives past the original expiry and points at
	// the newer record.
	id, ok := d.Lookup("fp", now.Add(700*time.Millisecond))
	assert.True(t, ok)
	assert.Equal(t, "rec-2", id)
}
