package httpproxy

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/interceptd/interceptd/pkg/diff"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

// ServeHTTP drives one intercepted exchange: record pending, match mocks,
// serve or forward, record terminal. The pending event fires the instant
// the request line and headers are parsed, before any backend call, so a
// consumer sees slow or hung backends as a pending record rather than
// silence.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	port := e.cfg.ListenPort

	rec := record.New(port, r.Method, r.URL.Path)
	rec.Query = r.URL.RawQuery
	e.history.Add(rec)
	e.history.Trim(port, e.cfg.MaxRequestHistory)
	e.publish(event.TypeRequest, rec.Clone())

	if m := e.findMock(r.Method, r.URL.Path, r.URL.RawQuery); m != nil {
		// The shadow call replays the request, so the whole payload is
		// needed here; there is no backend stream to hand it to.
		var reqBody []byte
		if r.Body != nil {
			reqBody, _ = io.ReadAll(r.Body)
			_ = r.Body.Close()
		}
		e.serveMock(w, r, rec, m, reqBody)
		return
	}

	e.forward(w, r, rec)
}

// serveMock writes the stored response without contacting the backend.
// When a drift handler is configured, a shadow call to the real backend
// runs afterwards so stale mocks are detected.
func (e *Engine) serveMock(w http.ResponseWriter, r *http.Request, rec *record.Record, m *mock.Mock, reqBody []byte) {
	for k, v := range m.Response.Headers {
		w.Header().Set(k, v)
	}
	status := m.Response.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(m.Response.Body))

	completed, err := e.history.Complete(rec.ID, record.StatusSuccess, func(cr *record.Record) {
		cr.Mocked = true
		cr.MatchedMockID = m.ID
		cr.AddTag(record.TagMocked)
		cr.ResponseStatus = status
		cr.ResponseHeaders = m.Response.Headers
		cr.ResponseBody = m.Response.Body
	})
	if err != nil {
		e.log.Warn("mock completion failed", "record", rec.ID, "error", err)
		return
	}
	e.publish(event.TypeResponse, completed)

	if e.drift != nil {
		shadow := cloneRequestForShadow(r, reqBody)
		go e.shadowCompare(completed, m, shadow, reqBody)
	}
}

// shadowCompare replays the request against the real backend and hands the
// live response to the drift handler.
func (e *Engine) shadowCompare(rec *record.Record, m *mock.Mock, r *http.Request, reqBody []byte) {
	resp, err := e.doForward(r, bytes.NewReader(reqBody))
	if err != nil {
		e.log.Debug("shadow call failed", "port", e.cfg.ListenPort, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxCapturedBody))

	e.drift.HandleMockHit(rec, m, diff.Response{
		StatusCode: resp.StatusCode,
		Headers:    flattenHeaders(resp.Header),
		Body:       string(body),
	})
}

// forward relays the request to the real backend and streams the response
// back to the client, byte for byte. Only the record's captured copy of the
// body is bounded. Backend failures complete the record as failed or
// timeout; they never take the proxy down.
func (e *Engine) forward(w http.ResponseWriter, r *http.Request, rec *record.Record) {
	resp, err := e.doForward(r, r.Body)
	if err != nil {
		status := record.StatusFailed
		httpStatus := http.StatusBadGateway
		if isTimeout(err) {
			status = record.StatusTimeout
			httpStatus = http.StatusGatewayTimeout
		}
		completed, cerr := e.history.Complete(rec.ID, status, func(cr *record.Record) {
			cr.Error = err.Error()
		})
		if cerr == nil {
			e.publish(event.TypeError, completed)
			e.publish(event.TypeResponse, completed)
		}
		http.Error(w, "backend request failed: "+err.Error(), httpStatus)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	capture := newBodyCapture(maxCapturedBody)
	_, copyErr := io.Copy(w, io.TeeReader(resp.Body, capture))

	status := record.StatusSuccess
	if copyErr != nil {
		status = record.StatusFailed
	}
	completed, cerr := e.history.Complete(rec.ID, status, func(cr *record.Record) {
		cr.ResponseStatus = resp.StatusCode
		cr.ResponseHeaders = flattenHeaders(resp.Header)
		cr.ResponseBody = capture.String()
		if copyErr != nil {
			cr.Error = copyErr.Error()
		}
	})
	if cerr != nil {
		return
	}
	if copyErr != nil {
		e.publish(event.TypeError, completed)
	}
	e.publish(event.TypeResponse, completed)
}

// doForward builds and executes the outbound request to the target.
func (e *Engine) doForward(r *http.Request, body io.Reader) (*http.Response, error) {
	target := &url.URL{
		Scheme:   "http",
		Host:     e.targetAddr(),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	outReq, err := http.NewRequestWithContext(context.Background(), r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if outReq.ContentLength == 0 && body != nil && body != http.NoBody {
		// NewRequest only sizes in-memory readers; a streamed client body
		// keeps the inbound length so uploads are not re-chunked.
		outReq.ContentLength = r.ContentLength
	}
	copyHeaders(outReq.Header, r.Header)
	removeHopByHopHeaders(outReq.Header)
	outReq.Header.Set("X-Forwarded-For", r.RemoteAddr)
	outReq.Header.Set("X-Forwarded-Host", r.Host)
	return e.client.Do(outReq)
}

func (e *Engine) targetAddr() string {
	return joinHostPort(e.cfg.TargetHost, e.cfg.TargetPort)
}

func (e *Engine) publish(t event.Type, payload any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(event.Event{Type: t, ProxyPort: e.cfg.ListenPort, Payload: payload})
}

// bodyCapture keeps the first max bytes of a stream for the record while
// letting the rest flow through untouched.
type bodyCapture struct {
	buf bytes.Buffer
	max int64
}

func newBodyCapture(max int64) *bodyCapture { return &bodyCapture{max: max} }

func (c *bodyCapture) Write(p []byte) (int, error) {
	if room := c.max - int64(c.buf.Len()); room > 0 {
		if int64(len(p)) > room {
			c.buf.Write(p[:room])
		} else {
			c.buf.Write(p)
		}
	}
	return len(p), nil
}

func (c *bodyCapture) String() string { return c.buf.String() }

// cloneRequestForShadow snapshots the fields needed to replay a request.
func cloneRequestForShadow(r *http.Request, body []byte) *http.Request {
	clone := r.Clone(context.Background())
	clone.Body = io.NopCloser(bytes.NewReader(body))
	return clone
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
