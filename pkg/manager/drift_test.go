package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interceptd/interceptd/pkg/diff"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// driftFixture registers an http proxy with one stored mock and one served
// record, ready for HandleMockHit.
func driftFixture(t *testing.T, m *Manager) (*record.Record, *mock.Mock) {
	t.Helper()
	require.NoError(t, m.CreateProxy(httpProxyConfig(18080)))

	mk := &mock.Mock{
		ProxyPort: 18080,
		Method:    "GET",
		Path:      "/cars",
		Enabled:   true,
		Response:  mock.Response{StatusCode: 200, Body: `[{"id":1}]`},
	}
	require.NoError(t, m.CreateMock(mk, false))

	rec := record.New(18080, "GET", "/cars")
	m.History().Add(rec)
	_, err := m.History().Complete(rec.ID, record.StatusSuccess, func(r *record.Record) {
		r.Mocked = true
		r.MatchedMockID = mk.ID
	})
	require.NoError(t, err)
	return rec, mk
}

func TestHandleMockHitNoDrift(t *testing.T) {
	m := New()
	rec, mk := driftFixture(t, m)
	ch, cancel := m.Bus().Subscribe()
	defer cancel()

	m.HandleMockHit(rec, mk, diff.Response{StatusCode: 200, Body: `[{"id":1}]`})

	got := m.History().Get(rec.ID)
	require.NotNil(t, got.Comparison)
	assert.True(t, got.Comparison.Empty())
	noEvent(t, ch)
}

func TestHandleMockHitDefaultStatusNotDrift(t *testing.T) {
	m := New()
	require.NoError(t, m.CreateProxy(httpProxyConfig(18080)))

	// No explicit status: served as 200, so a live 200 is not drift.
	mk := &mock.Mock{
		ProxyPort: 18080,
		Method:    "GET",
		Path:      "/cars",
		Enabled:   true,
		Response:  mock.Response{Body: `[{"id":1}]`},
	}
	require.NoError(t, m.CreateMock(mk, false))

	rec := record.New(18080, "GET", "/cars")
	m.History().Add(rec)
	_, err := m.History().Complete(rec.ID, record.StatusSuccess, nil)
	require.NoError(t, err)

	ch, cancel := m.Bus().Subscribe()
	defer cancel()

	m.HandleMockHit(rec, mk, diff.Response{StatusCode: 200, Body: `[{"id":1}]`})

	got := m.History().Get(rec.ID)
	require.NotNil(t, got.Comparison)
	assert.True(t, got.Comparison.Empty())
	noEvent(t, ch)
}

func TestHandleMockHitDifferenceEvent(t *testing.T) {
	m := New()
	rec, mk := driftFixture(t, m)
	ch, cancel := m.Bus().Subscribe()
	defer cancel()

	m.HandleMockHit(rec, mk, diff.Response{StatusCode: 200, Body: `[{"id":1},{"id":2}]`})

	ev := nextEvent(t, ch)
	assert.Equal(t, event.TypeMockDifference, ev.Type)
	noEvent(t, ch)

	// The mock keeps its stored response.
	stored := m.Mocks().Find(18080, mk.Key)
	require.NotNil(t, stored)
	assert.Equal(t, `[{"id":1}]`, stored.Response.Body)

	got := m.History().Get(rec.ID)
	require.NotNil(t, got.Comparison)
	assert.False(t, got.Comparison.Empty())
}

func TestHandleMockHitAutoReplace(t *testing.T) {
	m := New()
	m.SetAutoReplace(true)
	rec, mk := driftFixture(t, m)
	ch, cancel := m.Bus().Subscribe()
	defer cancel()

	live := diff.Response{StatusCode: 200, Body: `[{"id":1},{"id":2}]`}
	m.HandleMockHit(rec, mk, live)

	ev := nextEvent(t, ch)
	assert.Equal(t, event.TypeMockAutoReplaced, ev.Type)
	noEvent(t, ch) // never a difference event on the same hit

	// The stored mock now carries the live response, same identity.
	stored := m.Mocks().Find(18080, mk.Key)
	require.NotNil(t, stored)
	assert.Equal(t, mk.ID, stored.ID)
	assert.Equal(t, live.Body, stored.Response.Body)

	got := m.History().Get(rec.ID)
	assert.True(t, got.HasTag(record.TagMockReplaced))
}
