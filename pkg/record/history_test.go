package record

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordIsPending(t *testing.T) {
	r := New(8080, "GET", "/cars")
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, StatusPending, r.Status)
	assert.False(t, r.StartedAt.IsZero())
	assert.True(t, r.CompletedAt.IsZero())
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusSuccess.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusTimeout.Terminal())
}

func TestCompleteTransitionsExactlyOnce(t *testing.T) {
	h := NewHistory()
	r := New(8080, "GET", "/cars")
	h.Add(r)

	done, err := h.Complete(r.ID, StatusSuccess, func(cr *Record) {
		cr.ResponseStatus = 200
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, done.Status)
	assert.Equal(t, 200, done.ResponseStatus)
	assert.False(t, done.CompletedAt.IsZero())
	assert.GreaterOrEqual(t, done.DurationMs, int64(0))

	// Second completion must fail, whatever the status.
	_, err = h.Complete(r.ID, StatusFailed, nil)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)

	// The stored record kept its first terminal state.
	assert.Equal(t, StatusSuccess, h.Get(r.ID).Status)
}

func TestCompleteRejectsNonTerminal(t *testing.T) {
	h := NewHistory()
	r := New(8080, "GET", "/cars")
	h.Add(r)
	_, err := h.Complete(r.ID, StatusPending, nil)
	assert.Error(t, err)
}

func TestCompleteUnknownRecord(t *testing.T) {
	h := NewHistory()
	_, err := h.Complete("nope", StatusSuccess, nil)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestAnnotate(t *testing.T) {
	h := NewHistory()
	r := New(8080, "GET", "/cars")
	h.Add(r)
	require.NoError(t, h.Annotate(r.ID, func(cr *Record) {
		cr.AddTag(TagDeduplicated)
	}))
	assert.True(t, h.Get(r.ID).HasTag(TagDeduplicated))
	assert.ErrorIs(t, h.Annotate("nope", func(*Record) {}), ErrRecordNotFound)
}

func TestTrimEvictsOldestExactly(t *testing.T) {
	h := NewHistory()
	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		r := New(8080, "GET", fmt.Sprintf("/r/%d", i))
		h.Add(r)
		ids = append(ids, r.ID)
	}

	evicted := h.Trim(8080, 6)
	assert.Equal(t, 4, evicted)
	assert.Equal(t, 6, h.Count(8080))

	// Oldest four evicted, newest six retained, order preserved.
	for _, id := range ids[:4] {
		assert.Nil(t, h.Get(id))
	}
	list := h.List(8080, nil)
	require.Len(t, list, 6)
	assert.Equal(t, "/r/4", list[0].Path)
	assert.Equal(t, "/r/9", list[5].Path)

	// max(N) then adding one more and trimming again evicts exactly one.
	h.Add(New(8080, "GET", "/r/10"))
	assert.Equal(t, 1, h.Trim(8080, 6))
}

func TestListFilters(t *testing.T) {
	h := NewHistory()
	a := New(8080, "GET", "/cars")
	b := New(8080, "POST", "/cars")
	c := New(8080, "GET", "/users")
	for _, r := range []*Record{a, b, c} {
		h.Add(r)
	}
	_, err := h.Complete(a.ID, StatusSuccess, func(r *Record) { r.Mocked = true })
	require.NoError(t, err)
	_, err = h.Complete(b.ID, StatusFailed, nil)
	require.NoError(t, err)

	assert.Len(t, h.List(8080, &Filter{Method: "get"}), 2)
	assert.Len(t, h.List(8080, &Filter{Status: StatusFailed}), 1)
	assert.Len(t, h.List(8080, &Filter{PathPrefix: "/cars"}), 2)
	assert.Len(t, h.List(8080, &Filter{MockedOnly: true}), 1)
	assert.Len(t, h.List(8080, &Filter{Limit: 2}), 2)
	assert.Len(t, h.List(9090, nil), 0)
}

func TestDeletePortCascades(t *testing.T) {
	h := NewHistory()
	a := New(8080, "GET", "/x")
	b := New(9090, "GET", "/y")
	h.Add(a)
	h.Add(b)

	h.DeletePort(8080)
	assert.Nil(t, h.Get(a.ID))
	assert.NotNil(t, h.Get(b.ID))
	assert.Equal(t, 0, h.Count(8080))
}

func TestRestore(t *testing.T) {
	h := NewHistory()
	recs := []*Record{
		{ID: "r1", ProxyPort: 8080, Method: "GET", Path: "/a", Status: StatusSuccess},
		nil,
		{ProxyPort: 8080}, // missing ID skipped
	}
	h.Restore(8080, recs)
	assert.Equal(t, 1, h.Count(8080))
	assert.NotNil(t, h.Get("r1"))
}

func TestStatsFor(t *testing.T) {
	h := NewHistory()
	a := New(8080, "GET", "/a")
	b := New(8080, "GET", "/b")
	c := New(8080, "GET", "/c")
	for _, r := range []*Record{a, b, c} {
		h.Add(r)
	}
	_, _ = h.Complete(a.ID, StatusSuccess, func(r *Record) { r.Mocked = true })
	_, _ = h.Complete(b.ID, StatusTimeout, nil)

	s := h.StatsFor(8080)
	assert.Equal(t, Stats{Total: 3, Pending: 1, Success: 1, Timeout: 1, Mocked: 1}, s)
}

func TestCloneIsolation(t *testing.T) {
	h := NewHistory()
	r := New(8080, "GET", "/a")
	r.Tags = []string{TagMocked}
	h.Add(r)

	got := h.Get(r.ID)
	got.AddTag("extra")
	assert.False(t, h.Get(r.ID).HasTag("extra"))
}
