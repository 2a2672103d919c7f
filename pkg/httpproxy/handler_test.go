package httpproxy

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interceptd/interceptd/internal/matching"
	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// newTestEngine wires an engine at a fixed proxy port pointed at backendURL.
func newTestEngine(t *testing.T, backendURL string, opts ...Option) (*Engine, *mock.Store, *record.History, *event.Bus) {
	t.Helper()
	host, port := splitURL(t, backendURL)

	mocks := mock.NewStore()
	history := record.NewHistory()
	bus := event.NewBus(16)
	cfg := &config.ProxyConfig{
		Name:       "test",
		ListenPort: 8080,
		TargetHost: host,
		TargetPort: port,
		Protocol:   config.ProtocolHTTP,
	}
	return New(cfg, mocks, history, bus, opts...), mocks, history, bus
}

func splitURL(t *testing.T, raw string) (string, int) {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func lastRecord(t *testing.T, history *record.History, port int) *record.Record {
	t.Helper()
	list := history.List(port, nil)
	require.NotEmpty(t, list)
	return list[len(list)-1]
}

func TestForwardSuccess(t *testing.T) {
	var gotForwardedFor atomic.Bool
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotForwardedFor.Store(r.Header.Get("X-Forwarded-For") != "")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":1}`)
	}))
	defer backend.Close()

	e, _, history, _ := newTestEngine(t, backend.URL)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest("POST", "/cars?color=red", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, `{"id":1}`, w.Body.String())
	assert.True(t, gotForwardedFor.Load())

	rec := lastRecord(t, history, 8080)
	assert.Equal(t, record.StatusSuccess, rec.Status)
	assert.Equal(t, "POST", rec.Method)
	assert.Equal(t, "/cars", rec.Path)
	assert.Equal(t, "color=red", rec.Query)
	assert.Equal(t, http.StatusCreated, rec.ResponseStatus)
	assert.Equal(t, `{"id":1}`, rec.ResponseBody)
	assert.False(t, rec.Mocked)
}

func TestMockHitBypassesBackend(t *testing.T) {
	var backendHits atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backendHits.Add(1)
	}))
	defer backend.Close()

	e, mocks, history, _ := newTestEngine(t, backend.URL)
	err := mocks.Add(&mock.Mock{
		ID:        "m1",
		ProxyPort: 8080,
		Key:       matching.RequestKey("GET", "/cars", "color=red"),
		Method:    "GET",
		Path:      "/cars",
		Enabled:   true,
		Response: mock.Response{
			StatusCode: 200,
			Headers:    map[string]string{"Content-Type": "application/json"},
			Body:       `[{"id":1}]`,
		},
	}, false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest("GET", "/cars?color=red", nil))

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, `[{"id":1}]`, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Equal(t, int32(0), backendHits.Load(), "mock hit must not touch the backend")

	rec := lastRecord(t, history, 8080)
	assert.Equal(t, record.StatusSuccess, rec.Status)
	assert.True(t, rec.Mocked)
	assert.Equal(t, "m1", rec.MatchedMockID)
	assert.True(t, rec.HasTag(record.TagMocked))
}

func TestDisabledMockIsSkipped(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "live")
	}))
	defer backend.Close()

	e, mocks, _, _ := newTestEngine(t, backend.URL)
	err := mocks.Add(&mock.Mock{
		ID:        "m1",
		ProxyPort: 8080,
		Key:       matching.RequestKey("GET", "/cars", ""),
		Enabled:   false,
		Response:  mock.Response{StatusCode: 200, Body: "mocked"},
	}, false)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest("GET", "/cars", nil))
	assert.Equal(t, "live", w.Body.String())
}

func TestFamilyKeyFallback(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	defer backend.Close()

	e, mocks, _, _ := newTestEngine(t, backend.URL)
	e.cfg.MatchPathFamilies = true
	err := mocks.Add(&mock.Mock{
		ID:        "fam",
		ProxyPort: 8080,
		Key:       matching.FamilyKey("GET", "/cars/123"),
		Enabled:   true,
		Response:  mock.Response{StatusCode: 200, Body: "family"},
	}, false)
	require.NoError(t, err)

	// A different id in the same path family hits the shared mock.
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest("GET", "/cars/456", nil))
	assert.Equal(t, "family", w.Body.String())
}

func TestPendingEventPrecedesResponse(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer backend.Close()

	e, _, _, bus := newTestEngine(t, backend.URL)
	ch, cancel := bus.Subscribe()
	defer cancel()

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/cars", nil))

	first := nextEvent(t, ch)
	assert.Equal(t, event.TypeRequest, first.Type)
	pending, ok := first.Payload.(*record.Record)
	require.True(t, ok)
	assert.Equal(t, record.StatusPending, pending.Status)

	second := nextEvent(t, ch)
	assert.Equal(t, event.TypeResponse, second.Type)
	done, ok := second.Payload.(*record.Record)
	require.True(t, ok)
	assert.Equal(t, record.StatusSuccess, done.Status)
}

func TestBackendUnreachable(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	backend.Close() // port is now refused

	e, _, history, bus := newTestEngine(t, backend.URL)
	ch, cancel := bus.Subscribe()
	defer cancel()

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest("GET", "/cars", nil))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	rec := lastRecord(t, history, 8080)
	assert.Equal(t, record.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)

	// pending, then error, then terminal response
	assert.Equal(t, event.TypeRequest, nextEvent(t, ch).Type)
	assert.Equal(t, event.TypeError, nextEvent(t, ch).Type)
	assert.Equal(t, event.TypeResponse, nextEvent(t, ch).Type)
}

func TestBackendTimeout(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer backend.Close()

	e, _, history, _ := newTestEngine(t, backend.URL,
		WithClient(&http.Client{Timeout: 50 * time.Millisecond}))

	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest("GET", "/slow", nil))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	rec := lastRecord(t, history, 8080)
	assert.Equal(t, record.StatusTimeout, rec.Status)
}

func TestForwardLargePayloadsUntruncated(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 200*1024)
	var uploadLen atomic.Int64
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		uploadLen.Store(int64(len(body)))
		_, _ = w.Write(big)
	}))
	defer backend.Close()

	e, _, history, _ := newTestEngine(t, backend.URL)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, httptest.NewRequest("POST", "/blob", bytes.NewReader(big)))

	// Both directions stream byte for byte; only the record's copy is capped.
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, len(big), w.Body.Len(), "response must reach the client in full")
	assert.Equal(t, int64(len(big)), uploadLen.Load(), "upload must reach the backend in full")

	rec := lastRecord(t, history, 8080)
	assert.Equal(t, record.StatusSuccess, rec.Status)
	assert.Len(t, rec.ResponseBody, maxCapturedBody)
}

func TestHistoryTrimmedPerConfig(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	}))
	defer backend.Close()

	e, _, history, _ := newTestEngine(t, backend.URL)
	e.cfg.MaxRequestHistory = 3

	for i := 0; i < 5; i++ {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", fmt.Sprintf("/r/%d", i), nil))
	}
	assert.Equal(t, 3, history.Count(8080))
}

func nextEvent(t *testing.T, ch <-chan event.Event) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("expected event not published")
		return event.Event{}
	}
}
