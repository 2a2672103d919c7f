package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// MongoDB wire opcodes.
const (
	mongoOpQuery = 2004
	mongoOpMsg   = 2013

	mongoHeaderLen = 16
)

// mongoCommands are the command-document keys treated as operations; the
// key's string value names the collection.
var mongoCommands = map[string]string{
	"find":      "find",
	"insert":    "insert",
	"update":    "update",
	"delete":    "delete",
	"aggregate": "aggregate",
	"count":     "count",
	"distinct":  "distinct",
}

// mongoArgKeys are the command-document fields worth rendering into the
// query text, in display order.
var mongoArgKeys = []string{"filter", "documents", "updates", "deletes", "pipeline", "key", "query"}

// MongoFramer frames the MongoDB wire protocol (OP_MSG and legacy
// OP_QUERY), decoding the command document to recover the operation and
// collection. The extracted text is a shell-style rendering,
// db.<collection>.<command>(<args>), so the classifier and fingerprint
// treat Mongo traffic uniformly with SQL.
type MongoFramer struct {
	buf []byte
}

// Feed appends raw client bytes and returns any complete messages.
func (f *MongoFramer) Feed(p []byte) []Message {
	f.buf = append(f.buf, p...)

	var out []Message
	for {
		if len(f.buf) < mongoHeaderLen {
			return out
		}
		msgLen := int(binary.LittleEndian.Uint32(f.buf[:4]))
		if msgLen < mongoHeaderLen {
			// Corrupt header; drop the buffer rather than loop forever.
			f.buf = nil
			return out
		}
		if len(f.buf) < msgLen {
			return out
		}
		raw := append([]byte(nil), f.buf[:msgLen]...)
		requestID := int32(binary.LittleEndian.Uint32(f.buf[4:8]))
		opCode := int(binary.LittleEndian.Uint32(f.buf[12:16]))
		body := f.buf[mongoHeaderLen:msgLen]
		f.buf = f.buf[msgLen:]

		msg := Message{Kind: KindOther, Raw: raw, RequestID: requestID}
		var q *Query
		switch opCode {
		case mongoOpMsg:
			q = parseMongoOpMsg(body)
			if q == nil {
				// Untracked command (hello, ping, auth) that still
				// expects a reply when no backend is attached.
				msg.Kind = KindCommand
			}
		case mongoOpQuery:
			q = parseMongoOpQuery(body)
			if q == nil {
				msg.Kind = KindCommand
			}
		}
		if q != nil {
			msg.Kind = KindQuery
			msg.Query = q
			msg.Interceptable = true
		}
		out = append(out, msg)
	}
}

// EncodeMongoOkReply builds a minimal { ok: 1 } OP_MSG reply, enough to
// answer handshake commands when serving without a backend.
func EncodeMongoOkReply(responseTo int32) []byte {
	doc := encodeBSONDoc([]bsonElem{
		{name: "ismaster", value: true},
		{name: "maxWireVersion", value: int64(6)},
		{name: "minWireVersion", value: int64(0)},
		{name: "ok", value: float64(1)},
	})
	bodyLen := mongoHeaderLen + 4 + 1 + len(doc)
	out := make([]byte, 0, bodyLen)
	header := make([]byte, mongoHeaderLen)
	binary.LittleEndian.PutUint32(header[0:4], uint32(bodyLen))
	binary.LittleEndian.PutUint32(header[8:12], uint32(responseTo))
	binary.LittleEndian.PutUint32(header[12:16], uint32(mongoOpMsg))
	out = append(out, header...)
	out = append(out, 0, 0, 0, 0)
	out = append(out, 0)
	return append(out, doc...)
}

// parseMongoOpMsg extracts the command from an OP_MSG body: flagBits then
// a kind-0 section holding the command document.
func parseMongoOpMsg(body []byte) *Query {
	if len(body) < 5 {
		return nil
	}
	// flagBits(4) then section kind byte
	rest := body[4:]
	if rest[0] != 0 {
		return nil
	}
	elems, _, err := decodeBSONDoc(rest[1:])
	if err != nil {
		return nil
	}
	return queryFromCommandDoc(elems)
}

// parseMongoOpQuery extracts the command from a legacy OP_QUERY body:
// flags, full collection name, skip/return counts, then the query document.
func parseMongoOpQuery(body []byte) *Query {
	if len(body) < 4 {
		return nil
	}
	fullName, rest := splitCString(body[4:])
	if len(rest) < 8 {
		return nil
	}
	elems, _, err := decodeBSONDoc(rest[8:])
	if err != nil {
		return nil
	}
	// "$cmd" pseudo-collections carry the real command in the document.
	if strings.HasSuffix(fullName, ".$cmd") {
		return queryFromCommandDoc(elems)
	}
	coll := fullName
	if idx := strings.IndexByte(fullName, '.'); idx >= 0 {
		coll = fullName[idx+1:]
	}
	doc := make(map[string]any, len(elems))
	for _, e := range elems {
		doc[e.name] = e.value
	}
	return &Query{Text: fmt.Sprintf("db.%s.find(%s)", coll, renderBSONValue(doc))}
}

// queryFromCommandDoc builds a shell-style query from a decoded command
// document. The first element names the command and its value names the
// collection; unrecognized commands yield nothing (heartbeats, auth).
func queryFromCommandDoc(elems []bsonElem) *Query {
	if len(elems) == 0 {
		return nil
	}
	cmd := strings.ToLower(elems[0].name)
	if _, ok := mongoCommands[cmd]; !ok {
		return nil
	}
	coll, _ := elems[0].value.(string)
	if coll == "" {
		return nil
	}

	byName := make(map[string]any, len(elems))
	for _, e := range elems[1:] {
		byName[e.name] = e.value
	}
	var args []string
	for _, key := range mongoArgKeys {
		if v, ok := byName[key]; ok {
			args = append(args, renderBSONValue(v))
		}
	}
	return &Query{Text: fmt.Sprintf("db.%s.%s(%s)", coll, cmd, strings.Join(args, ", "))}
}

// MongoResponseTracker counts complete server messages in a relayed byte
// stream; every server message answers exactly one request. Only the
// length word is inspected, so message bodies are never buffered.
type MongoResponseTracker struct {
	header    []byte
	remaining int
}

// Feed consumes server bytes and returns the number of messages they
// completed.
func (t *MongoResponseTracker) Feed(p []byte) int {
	complete := 0
	for len(p) > 0 {
		if t.remaining == 0 {
			need := 4 - len(t.header)
			if need > len(p) {
				t.header = append(t.header, p...)
				return complete
			}
			t.header = append(t.header, p[:need]...)
			p = p[need:]
			total := int(int32(binary.LittleEndian.Uint32(t.header)))
			t.header = t.header[:0]
			if total < mongoHeaderLen {
				// Corrupt length; stop counting this stream.
				return complete
			}
			t.remaining = total - 4
			continue
		}
		n := t.remaining
		if n > len(p) {
			n = len(p)
		}
		t.remaining -= n
		p = p[n:]
		if t.remaining == 0 {
			complete++
		}
	}
	return complete
}

// Reset drops in-progress message state.
func (t *MongoResponseTracker) Reset() {
	t.header = t.header[:0]
	t.remaining = 0
}

// EncodeMongoReply builds an OP_MSG reply carrying the rows as a cursor
// batch, for serving a mock to a MongoDB client.
func EncodeMongoReply(responseTo int32, collection string, rows []map[string]any) []byte {
	batch := make([]any, 0, len(rows))
	for _, r := range rows {
		batch = append(batch, r)
	}
	doc := encodeBSONDoc([]bsonElem{
		{name: "cursor", value: map[string]any{
			"id":         int64(0),
			"ns":         collection,
			"firstBatch": batch,
		}},
		{name: "ok", value: float64(1)},
	})

	bodyLen := mongoHeaderLen + 4 + 1 + len(doc)
	out := make([]byte, 0, bodyLen)
	header := make([]byte, mongoHeaderLen)
	binary.LittleEndian.PutUint32(header[0:4], uint32(bodyLen))
	binary.LittleEndian.PutUint32(header[8:12], uint32(responseTo))
	binary.LittleEndian.PutUint32(header[12:16], uint32(mongoOpMsg))
	out = append(out, header...)
	out = append(out, 0, 0, 0, 0) // flagBits
	out = append(out, 0)          // section kind 0
	return append(out, doc...)
}
