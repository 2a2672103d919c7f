// Package wire reassembles discrete protocol messages from raw TCP byte
// streams for the supported database protocols. TCP delivers bytes at
// arbitrary chunk boundaries, so each framer keeps its own buffer and only
// emits complete messages; incomplete tails stay buffered and are never
// forwarded early.
package wire

import "fmt"

// MessageKind labels a framed client message.
type MessageKind int

const (
	// KindOther is any protocol message that carries no query.
	KindOther MessageKind = iota

	// KindStartup is a connection-establishment message (PostgreSQL
	// startup, MySQL handshake response).
	KindStartup

	// KindSSLRequest is a PostgreSQL TLS negotiation probe.
	KindSSLRequest

	// KindQuery is a message carrying an extracted query.
	KindQuery

	// KindCommand is a MongoDB command that is not a tracked query but
	// still expects a reply (hello, ping, auth).
	KindCommand
)

// Query is one extracted client query.
type Query struct {
	// Text is the query text (SQL, or a shell-style rendering for MongoDB).
	Text string

	// Params are bound parameter values for extended-protocol execution.
	Params []string
}

// Message is one complete framed client message. Raw holds the exact wire
// bytes so the owner can forward, withhold, or answer it.
type Message struct {
	Kind MessageKind
	Raw  []byte

	// Query is set when Kind is KindQuery.
	Query *Query

	// Interceptable marks query messages the proxy can answer itself with
	// a protocol-correct response (PostgreSQL simple query, MySQL
	// COM_QUERY, MongoDB commands). Extended-protocol sequences are
	// observed but always forwarded.
	Interceptable bool

	// RequestID is the MongoDB request identifier, needed to address a
	// reply. Zero for other protocols.
	RequestID int32
}

// Framer consumes client-to-server bytes and yields complete messages.
// Implementations are stateful and owned by a single connection.
type Framer interface {
	Feed(p []byte) []Message
}

// ResponseTracker consumes server-to-client bytes and reports how many
// complete responses they close out, so forwarded queries can be paired
// with their results even when a response spans several reads or several
// responses share one read.
type ResponseTracker interface {
	Feed(p []byte) int
	Reset()
}

// stringify renders a row value for the textual wire encodings.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", v)
	}
}
