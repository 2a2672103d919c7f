package dbproxy

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/interceptd/interceptd/internal/matching"
	"github.com/interceptd/interceptd/pkg/config"
	"github.com/interceptd/interceptd/pkg/dbproxy/wire"
	"github.com/interceptd/interceptd/pkg/event"
	"github.com/interceptd/interceptd/pkg/mock"
	"github.com/interceptd/interceptd/pkg/record"
)

const connReadBufferSize = 32 * 1024

// connState tracks one client connection: its framer, optional backend
// connection, and the queue of records awaiting backend responses.
type connState struct {
	inst    *proxyInstance
	client  net.Conn
	backend net.Conn

	framer      wire.Framer
	pgResults   *wire.PostgresResultParser
	respTracker wire.ResponseTracker

	// sslPending is set after forwarding a PostgreSQL TLS/GSS offer; the
	// backend's next byte decides whether the stream goes opaque.
	sslPending atomic.Bool

	mu      sync.Mutex
	pending []string // record IDs in forward order; "" for dedup-collapsed queries
}

func (cs *connState) pushPending(recordID string) {
	cs.mu.Lock()
	cs.pending = append(cs.pending, recordID)
	cs.mu.Unlock()
}

func (cs *connState) popPending() (string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if len(cs.pending) == 0 {
		return "", false
	}
	id := cs.pending[0]
	cs.pending = cs.pending[1:]
	return id, true
}

func (cs *connState) hasPending() bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.pending) > 0
}

func newFramer(protocol config.Protocol) wire.Framer {
	switch protocol {
	case config.ProtocolPostgres:
		return &wire.PostgresFramer{}
	case config.ProtocolMySQL:
		return &wire.MySQLFramer{}
	case config.ProtocolMongo:
		return &wire.MongoFramer{}
	default:
		return nil
	}
}

func (i *Interceptor) handleConn(inst *proxyInstance, client net.Conn) {
	defer client.Close()
	port := inst.cfg.ListenPort
	log := i.log.With("port", port, "protocol", inst.cfg.Protocol, "remote", client.RemoteAddr().String())

	framer := newFramer(inst.cfg.Protocol)
	if framer == nil {
		log.Error("no framer for protocol")
		return
	}
	cs := &connState{inst: inst, client: client, framer: framer}

	// Testing mode never touches the backend; otherwise dial it up front so
	// an unreachable target degrades to mock-only serving instead of
	// dropping the client.
	if !i.testing.Load() {
		target := net.JoinHostPort(inst.cfg.TargetHost, fmt.Sprintf("%d", inst.cfg.TargetPort))
		backend, err := net.DialTimeout("tcp", target, i.dialTimeout)
		if err != nil {
			log.Warn("backend unreachable, serving from mocks", "target", target, "error", err)
			i.bus.Publish(event.Event{
				Type:      event.TypeError,
				ProxyPort: port,
				Payload:   map[string]any{"error": err.Error(), "target": target},
			})
		} else {
			cs.backend = backend
			defer backend.Close()
		}
	}

	if cs.backend != nil {
		switch inst.cfg.Protocol {
		case config.ProtocolPostgres:
			cs.pgResults = &wire.PostgresResultParser{}
		case config.ProtocolMySQL:
			cs.respTracker = &wire.MySQLResponseTracker{}
		case config.ProtocolMongo:
			cs.respTracker = &wire.MongoResponseTracker{}
		}
		go i.relayBackend(cs)
	} else if inst.cfg.Protocol == config.ProtocolMySQL {
		// MySQL servers speak first.
		client.Write(wire.EncodeMySQLHandshake()) //nolint:errcheck
	}

	buf := make([]byte, connReadBufferSize)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			for _, msg := range cs.framer.Feed(buf[:n]) {
				i.handleMessage(cs, msg)
			}
		}
		if err != nil {
			return
		}
	}
}

// relayBackend copies backend bytes to the client verbatim, completing
// pending records as responses are observed.
func (i *Interceptor) relayBackend(cs *connState) {
	buf := make([]byte, connReadBufferSize)
	for {
		n, err := cs.backend.Read(buf)
		if n > 0 {
			if _, werr := cs.client.Write(buf[:n]); werr != nil {
				cs.client.Close()
				return
			}
			i.observeResponse(cs, buf[:n])
		}
		if err != nil {
			i.failPending(cs, "backend connection closed")
			cs.client.Close()
			return
		}
	}
}

// observeResponse pairs backend responses with forwarded queries. For
// PostgreSQL the response stream is decoded so captured rows land on the
// record; MySQL and Mongo count complete responses off the relayed bytes.
func (i *Interceptor) observeResponse(cs *connState, data []byte) {
	if cs.sslPending.CompareAndSwap(true, false) && len(data) > 0 {
		if data[0] == 'S' {
			// TLS accepted end to end; both directions are ciphertext
			// from the next byte on.
			if f, ok := cs.framer.(*wire.PostgresFramer); ok {
				f.SetOpaque()
			}
			cs.pgResults = nil
			return
		}
		// Refused: the acceptance byte is not a protocol message, keep it
		// away from the result parser.
		data = data[1:]
		if len(data) == 0 {
			return
		}
	}

	if cs.pgResults != nil {
		for {
			res, done := cs.pgResults.Feed(data)
			data = nil
			if !done {
				return
			}
			i.completeQuery(cs, res)
		}
	}

	if cs.respTracker == nil {
		return
	}
	if !cs.hasPending() {
		// Handshake and auth traffic answers no recorded query.
		cs.respTracker.Reset()
		return
	}
	for n := cs.respTracker.Feed(data); n > 0; n-- {
		id, ok := cs.popPending()
		if !ok {
			return
		}
		if id == "" {
			continue
		}
		rec, err := i.history.Complete(id, record.StatusSuccess, nil)
		if err == nil {
			i.publishComplete(cs.inst.cfg.ListenPort, rec)
		}
	}
}

func (i *Interceptor) completeQuery(cs *connState, res *wire.QueryResult) {
	id, ok := cs.popPending()
	if !ok || id == "" {
		return
	}

	status := record.StatusSuccess
	if res.Error != "" {
		status = record.StatusFailed
	}
	rec, err := i.history.Complete(id, status, func(r *record.Record) {
		r.ResponseRows = res.Rows
		r.Error = res.Error
	})
	if err != nil {
		return
	}
	i.publishComplete(cs.inst.cfg.ListenPort, rec)
}

// failPending completes every still-pending record on this connection as
// failed. Called when the backend drops mid-exchange.
func (i *Interceptor) failPending(cs *connState, reason string) {
	for {
		id, ok := cs.popPending()
		if !ok {
			return
		}
		if id == "" {
			continue
		}
		rec, err := i.history.Complete(id, record.StatusFailed, func(r *record.Record) {
			r.Error = reason
		})
		if err != nil {
			continue
		}
		i.bus.Publish(event.Event{Type: event.TypeError, ProxyPort: cs.inst.cfg.ListenPort, Payload: rec})
		i.publishComplete(cs.inst.cfg.ListenPort, rec)
	}
}

func (i *Interceptor) handleMessage(cs *connState, msg wire.Message) {
	if msg.Query != nil {
		i.handleQuery(cs, msg)
		return
	}

	if cs.backend != nil {
		if msg.Kind == wire.KindSSLRequest {
			// The backend's single-byte answer decides whether the stream
			// stays parseable.
			cs.sslPending.Store(true)
		}
		if _, err := cs.backend.Write(msg.Raw); err != nil {
			i.failPending(cs, "backend write failed")
			cs.client.Close()
		}
		return
	}

	// No backend: refuse TLS and answer the handshake ourselves. The
	// client carries on in plaintext, which the framer keeps parsing.
	switch msg.Kind {
	case wire.KindSSLRequest:
		cs.client.Write([]byte{'N'}) //nolint:errcheck
	case wire.KindStartup:
		switch cs.inst.cfg.Protocol {
		case config.ProtocolPostgres:
			cs.client.Write(wire.EncodePostgresAuthOK()) //nolint:errcheck
		case config.ProtocolMySQL:
			// Handshake response is sequence 1; our OK continues at 2.
			cs.client.Write(wire.EncodeMySQLOK(2)) //nolint:errcheck
		}
	case wire.KindCommand:
		cs.client.Write(wire.EncodeMongoOkReply(msg.RequestID)) //nolint:errcheck
	}
}

// handleQuery records an extracted query and decides how to answer it:
// served from a mock (testing mode or unreachable backend), forwarded to
// the backend, or refused with a protocol error when neither is possible.
func (i *Interceptor) handleQuery(cs *connState, msg wire.Message) {
	inst := cs.inst
	port := inst.cfg.ListenPort
	text := msg.Query.Text
	params := msg.Query.Params

	kind, resource := mock.ClassifyQuery(text)
	fp := matching.QueryFingerprint(port, text, params)
	now := time.Now()

	var rec *record.Record
	if originalID, ok := inst.dedup.Lookup(fp, now); ok {
		// Collapsed into a recent identical query: no new record, but the
		// original is marked so consumers know it stood in for several.
		i.history.Annotate(originalID, func(r *record.Record) { //nolint:errcheck
			r.AddTag(record.TagDeduplicated)
		})
	} else {
		rec = record.New(port, string(kind), resource)
		rec.Query = text
		rec.Params = params
		i.history.Add(rec)
		i.history.Trim(port, inst.cfg.MaxRequestHistory)
		inst.dedup.Remember(fp, rec.ID, now)
		i.bus.Publish(event.Event{Type: event.TypeRequest, ProxyPort: port, Payload: rec.Clone()})
	}

	mockOnly := cs.backend == nil
	if mockOnly && msg.Interceptable {
		if m := i.mocks.Find(port, fp); m != nil {
			i.serveMock(cs, msg, rec, m)
			return
		}
	}

	if cs.backend != nil {
		if rec != nil {
			cs.pushPending(rec.ID)
		} else {
			cs.pushPending("")
		}
		if _, err := cs.backend.Write(msg.Raw); err != nil {
			i.failPending(cs, "backend write failed")
			cs.client.Close()
		}
		return
	}

	// Mock-only serving with no matching mock (or an extended-protocol
	// query that cannot be answered synthetically): refuse it.
	i.refuseQuery(cs, msg, rec, "no mock matches this query")
}

// serveMock answers an interceptable query from a stored mock with a
// protocol-correct result set.
func (i *Interceptor) serveMock(cs *connState, msg wire.Message, rec *record.Record, m *mock.Mock) {
	port := cs.inst.cfg.ListenPort
	rows := m.Response.Rows

	switch cs.inst.cfg.Protocol {
	case config.ProtocolPostgres:
		cs.client.Write(wire.EncodePostgresResult(rows)) //nolint:errcheck
	case config.ProtocolMySQL:
		cs.client.Write(wire.EncodeMySQLResult(rows, 1)) //nolint:errcheck
	case config.ProtocolMongo:
		coll := m.Resource
		cs.client.Write(wire.EncodeMongoReply(msg.RequestID, coll, rows)) //nolint:errcheck
	}

	if rec == nil {
		return
	}
	done, err := i.history.Complete(rec.ID, record.StatusSuccess, func(r *record.Record) {
		r.Mocked = true
		r.MatchedMockID = m.ID
		r.ResponseRows = rows
		r.AddTag(record.TagMocked)
	})
	if err != nil {
		return
	}
	i.publishComplete(port, done)
}

// refuseQuery sends a protocol error to the client and fails the record.
func (i *Interceptor) refuseQuery(cs *connState, msg wire.Message, rec *record.Record, reason string) {
	port := cs.inst.cfg.ListenPort
	switch cs.inst.cfg.Protocol {
	case config.ProtocolPostgres:
		cs.client.Write(wire.EncodePostgresError(reason)) //nolint:errcheck
	case config.ProtocolMySQL:
		cs.client.Write(wire.EncodeMySQLError(reason, 1)) //nolint:errcheck
	case config.ProtocolMongo:
		cs.client.Write(wire.EncodeMongoOkReply(msg.RequestID)) //nolint:errcheck
	}

	if rec == nil {
		return
	}
	done, err := i.history.Complete(rec.ID, record.StatusFailed, func(r *record.Record) {
		r.Error = reason
	})
	if err != nil {
		return
	}
	i.bus.Publish(event.Event{Type: event.TypeError, ProxyPort: port, Payload: done})
	i.publishComplete(port, done)
}

func (i *Interceptor) publishComplete(port int, rec *record.Record) {
	i.bus.Publish(event.Event{Type: event.TypeQueryComplete, ProxyPort: port, Payload: rec})
}
