package admin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/manager"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

func newTestAPI(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	mgr := manager.New()
	return New(DefaultPort, mgr), mgr
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(out))
}

func registerProxy(t *testing.T, h http.Handler, pc config.ProxyConfig) {
	t.Helper()
	w := doJSON(t, h, "POST", "/proxies", pc)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func testProxyConfig(port int) config.ProxyConfig {
	return config.ProxyConfig{
		Name:       "api",
		ListenPort: port,
		TargetHost: "api.internal",
		TargetPort: 9000,
		Protocol:   config.ProtocolHTTP,
	}
}

func TestHealth(t *testing.T) {
	s, _ := newTestAPI(t)
	w := doJSON(t, s.Handler(), "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestStatus(t *testing.T) {
	s, _ := newTestAPI(t)
	registerProxy(t, s.Handler(), testProxyConfig(18080))

	w := doJSON(t, s.Handler(), "GET", "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	decodeBody(t, w, &body)
	assert.Equal(t, float64(1), body["proxies"])
	assert.Equal(t, false, body["testingMode"])
}

func TestProxyCRUD(t *testing.T) {
	s, _ := newTestAPI(t)
	h := s.Handler()
	registerProxy(t, h, testProxyConfig(18080))

	// duplicate port conflicts
	w := doJSON(t, h, "POST", "/proxies", testProxyConfig(18080))
	assert.Equal(t, http.StatusConflict, w.Code)

	// circular target rejected up front
	bad := testProxyConfig(18081)
	bad.TargetHost = "localhost"
	bad.TargetPort = 18081
	w = doJSON(t, h, "POST", "/proxies", bad)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "circular_target")

	// get
	w = doJSON(t, h, "GET", "/proxies/18080", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st manager.ProxyStatus
	decodeBody(t, w, &st)
	assert.Equal(t, "api", st.Config.Name)
	assert.False(t, st.Running)

	// unknown port
	w = doJSON(t, h, "GET", "/proxies/1999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = doJSON(t, h, "GET", "/proxies/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// update
	renamed := testProxyConfig(18080)
	renamed.Name = "renamed"
	w = doJSON(t, h, "PUT", "/proxies/18080", renamed)
	require.Equal(t, http.StatusOK, w.Code)

	// list
	w = doJSON(t, h, "GET", "/proxies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []*manager.ProxyStatus
	decodeBody(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "renamed", list[0].Config.Name)

	// delete
	w = doJSON(t, h, "DELETE", "/proxies/18080", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, h, "DELETE", "/proxies/18080", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopNotRunningConflicts(t *testing.T) {
	s, _ := newTestAPI(t)
	registerProxy(t, s.Handler(), testProxyConfig(18080))

	w := doJSON(t, s.Handler(), "POST", "/proxies/18080/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "not_running")
}

func TestMockEndpoints(t *testing.T) {
	s, _ := newTestAPI(t)
	h := s.Handler()
	registerProxy(t, h, testProxyConfig(18080))

	body := mock.Mock{
		Method:   "GET",
		Path:     "/cars",
		Enabled:  true,
		Response: mock.Response{StatusCode: 200, Body: `[{"id":1}]`},
	}
	w := doJSON(t, h, "POST", "/proxies/18080/mocks", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created mock.Mock
	decodeBody(t, w, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 18080, created.ProxyPort)

	// duplicate without replace conflicts
	w = doJSON(t, h, "POST", "/proxies/18080/mocks", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "duplicate_mock")

	// replace=true overwrites in place
	body.Response.Body = `[{"id":2}]`
	w = doJSON(t, h, "POST", "/proxies/18080/mocks?replace=true", body)
	require.Equal(t, http.StatusCreated, w.Code)
	var replaced mock.Mock
	decodeBody(t, w, &replaced)
	assert.Equal(t, created.ID, replaced.ID)

	// list
	w = doJSON(t, h, "GET", "/proxies/18080/mocks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []*mock.Mock
	decodeBody(t, w, &list)
	require.Len(t, list, 1)

	// toggle
	w = doJSON(t, h, "POST", fmt.Sprintf("/proxies/18080/mocks/%s/toggle", created.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":false`)

	// delete
	w = doJSON(t, h, "DELETE", fmt.Sprintf("/proxies/18080/mocks/%s", created.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, h, "DELETE", fmt.Sprintf("/proxies/18080/mocks/%s", created.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMockExportImport(t *testing.T) {
	s, _ := newTestAPI(t)
	h := s.Handler()
	registerProxy(t, h, testProxyConfig(18080))
	registerProxy(t, h, testProxyConfig(18081))

	w := doJSON(t, h, "POST", "/proxies/18080/mocks", mock.Mock{
		Method: "GET", Path: "/cars", Enabled: true,
		Response: mock.Response{StatusCode: 200, Body: "[]"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, "GET", "/proxies/18080/mocks/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	exported := w.Body.String()
	assert.Contains(t, exported, `"GET /cars"`)

	// Import the document into a different proxy; mocks re-home.
	req := httptest.NewRequest("POST", "/proxies/18081/mocks/import", strings.NewReader(exported))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	require.Equal(t, http.StatusOK, rw.Code, rw.Body.String())

	w = doJSON(t, h, "GET", "/proxies/18081/mocks", nil)
	var list []*mock.Mock
	decodeBody(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, 18081, list[0].ProxyPort)
}

func TestRequestEndpoints(t *testing.T) {
	s, mgr := newTestAPI(t)
	h := s.Handler()
	registerProxy(t, h, testProxyConfig(18080))

	rec := record.New(18080, "GET", "/cars")
	rec.Query = "color=red"
	mgr.History().Add(rec)
	_, err := mgr.History().Complete(rec.ID, record.StatusSuccess, func(r *record.Record) {
		r.ResponseStatus = 200
		r.ResponseBody = "[]"
	})
	require.NoError(t, err)

	failed := record.New(18080, "POST", "/cars")
	mgr.History().Add(failed)
	_, err = mgr.History().Complete(failed.ID, record.StatusFailed, nil)
	require.NoError(t, err)

	// unfiltered list
	w := doJSON(t, h, "GET", "/proxies/18080/requests", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []*record.Record
	decodeBody(t, w, &list)
	assert.Len(t, list, 2)

	// filtered by status
	w = doJSON(t, h, "GET", "/proxies/18080/requests?status=failed", nil)
	decodeBody(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "POST", list[0].Method)

	// single record
	w = doJSON(t, h, "GET", "/proxies/18080/requests/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, h, "GET", "/proxies/18080/requests/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// pin the successful record as a mock
	w = doJSON(t, h, "POST", fmt.Sprintf("/proxies/18080/requests/%s/mock", rec.ID), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var mk mock.Mock
	decodeBody(t, w, &mk)
	assert.Equal(t, 200, mk.Response.StatusCode)

	// failed records cannot become mocks
	w = doJSON(t, h, "POST", fmt.Sprintf("/proxies/18080/requests/%s/mock", failed.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	s, mgr := newTestAPI(t)
	h := s.Handler()

	w := doJSON(t, h, "PUT", "/settings/testing-mode", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mgr.TestingMode())

	w = doJSON(t, h, "PUT", "/settings/auto-replace", map[string]bool{"enabled": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mgr.AutoReplace())

	req := httptest.NewRequest("PUT", "/settings/testing-mode", strings.NewReader("nope"))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}
