package wire

import (
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
)

// PostgreSQL protocol constants.
const (
	pgSSLRequestCode    = 80877103
	pgGSSEncRequestCode = 80877104
	pgCancelRequestCode = 80877102
	pgStartupProtocolV3 = 196608

	pgTagSimpleQuery     = 'Q'
	pgTagParse           = 'P'
	pgTagBind            = 'B'
	pgTagExecute         = 'E'
	pgTagRowDescription  = 'T'
	pgTagDataRow         = 'D'
	pgTagCommandComplete = 'C'
	pgTagReadyForQuery   = 'Z'
)

// PostgresFramer frames the PostgreSQL frontend protocol: the untagged
// startup sequence first, then tagged length-prefixed messages. Simple
// queries ('Q') are interceptable; extended-query Parse/Bind/Execute
// sequences yield their query on Execute, with bound parameter values
// attached, but are always forwarded.
type PostgresFramer struct {
	buf          []byte
	started      bool
	opaque       atomic.Bool // stream switched to TLS/GSS, no longer parseable
	pendingQuery string
	pendingArgs  []string

	// StartupParams holds user/database parameters from the startup message.
	StartupParams map[string]string
}

// SetOpaque switches the framer to raw pass-through. Called when the server
// accepted a TLS or GSS offer: everything after its acceptance byte is
// ciphertext. An SSLRequest alone must not trigger this, since a refused
// offer ('N') is followed by a plaintext startup that still needs framing.
func (f *PostgresFramer) SetOpaque() { f.opaque.Store(true) }

// Feed appends raw client bytes and returns any complete messages.
func (f *PostgresFramer) Feed(p []byte) []Message {
	if f.opaque.Load() {
		if len(p) == 0 {
			return nil
		}
		return []Message{{Kind: KindOther, Raw: append([]byte(nil), p...)}}
	}
	f.buf = append(f.buf, p...)

	var out []Message
	for {
		var msg *Message
		if !f.started {
			msg = f.consumeStartup()
		} else {
			msg = f.consumeMessage()
		}
		if msg == nil {
			return out
		}
		out = append(out, *msg)
	}
}

// consumeStartup handles the length-prefixed, untagged pre-auth messages.
func (f *PostgresFramer) consumeStartup() *Message {
	if len(f.buf) < 8 {
		return nil
	}
	length := int(binary.BigEndian.Uint32(f.buf[:4]))
	if length < 8 || len(f.buf) < length {
		return nil
	}
	code := int(binary.BigEndian.Uint32(f.buf[4:8]))
	raw := append([]byte(nil), f.buf[:length]...)
	body := f.buf[8:length]

	msg := &Message{Kind: KindOther, Raw: raw}
	switch code {
	case pgSSLRequestCode, pgGSSEncRequestCode:
		// The server answers with a single byte. Whoever relays that
		// answer calls SetOpaque on acceptance; after a refusal the
		// client retries with a plaintext startup on this same stream.
		msg.Kind = KindSSLRequest
	case pgCancelRequestCode:
		// Out-of-band cancel, nothing to extract.
	case pgStartupProtocolV3:
		f.StartupParams = parsePgStartupParams(body)
		f.started = true
		msg.Kind = KindStartup
	default:
		f.started = true
		msg.Kind = KindStartup
	}
	f.buf = f.buf[length:]
	return msg
}

// consumeMessage handles one tagged message.
func (f *PostgresFramer) consumeMessage() *Message {
	if len(f.buf) < 5 {
		return nil
	}
	tag := f.buf[0]
	length := int(binary.BigEndian.Uint32(f.buf[1:5]))
	total := 1 + length
	if length < 4 || len(f.buf) < total {
		return nil
	}
	raw := append([]byte(nil), f.buf[:total]...)
	payload := f.buf[5:total]
	f.buf = f.buf[total:]

	msg := &Message{Kind: KindOther, Raw: raw}
	switch tag {
	case pgTagSimpleQuery:
		msg.Kind = KindQuery
		msg.Query = &Query{Text: cstring(payload)}
		msg.Interceptable = true
	case pgTagParse:
		// statement name, then query text
		_, rest := splitCString(payload)
		f.pendingQuery, _ = splitCString(rest)
		f.pendingArgs = nil
	case pgTagBind:
		f.pendingArgs = parsePgBindParams(payload)
	case pgTagExecute:
		if f.pendingQuery != "" {
			msg.Kind = KindQuery
			msg.Query = &Query{Text: f.pendingQuery, Params: f.pendingArgs}
		}
	}
	return msg
}

// parsePgStartupParams extracts the key/value pairs from a startup body.
func parsePgStartupParams(body []byte) map[string]string {
	params := make(map[string]string)
	for len(body) > 0 && body[0] != 0 {
		var key, val string
		key, body = splitCString(body)
		if len(body) == 0 {
			break
		}
		val, body = splitCString(body)
		params[key] = val
	}
	return params
}

// parsePgBindParams extracts parameter values from a Bind message.
// Text-format values come through verbatim; binary values are hex-encoded
// so they still participate in fingerprinting.
func parsePgBindParams(payload []byte) []string {
	// portal name, statement name
	_, rest := splitCString(payload)
	_, rest = splitCString(rest)
	if len(rest) < 2 {
		return nil
	}

	formatCount := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]
	formats := make([]uint16, 0, formatCount)
	for i := 0; i < formatCount; i++ {
		if len(rest) < 2 {
			return nil
		}
		formats = append(formats, binary.BigEndian.Uint16(rest[:2]))
		rest = rest[2:]
	}

	if len(rest) < 2 {
		return nil
	}
	paramCount := int(binary.BigEndian.Uint16(rest[:2]))
	rest = rest[2:]

	params := make([]string, 0, paramCount)
	for i := 0; i < paramCount; i++ {
		if len(rest) < 4 {
			return params
		}
		size := int(int32(binary.BigEndian.Uint32(rest[:4])))
		rest = rest[4:]
		if size < 0 {
			params = append(params, "NULL")
			continue
		}
		if len(rest) < size {
			return params
		}
		value := rest[:size]
		rest = rest[size:]
		if paramFormat(formats, i) == 1 {
			params = append(params, hex.EncodeToString(value))
		} else {
			params = append(params, string(value))
		}
	}
	return params
}

// paramFormat resolves the format code for parameter i per the Bind rules:
// zero codes mean all-text, one code applies to all, otherwise per-param.
func paramFormat(formats []uint16, i int) uint16 {
	switch len(formats) {
	case 0:
		return 0
	case 1:
		return formats[0]
	default:
		if i < len(formats) {
			return formats[i]
		}
		return 0
	}
}

// EncodePostgresAuthOK builds the synthetic handshake acceptance sent when
// serving clients without a backend: AuthenticationOk then ReadyForQuery.
func EncodePostgresAuthOK() []byte {
	var out []byte
	auth := make([]byte, 4) // auth type 0 = OK
	out = appendPgMessage(out, 'R', auth)
	out = appendPgMessage(out, pgTagReadyForQuery, []byte{'I'})
	return out
}

// EncodePostgresError builds an ErrorResponse plus ReadyForQuery.
func EncodePostgresError(message string) []byte {
	var payload []byte
	payload = append(payload, 'S')
	payload = append(payload, "ERROR"...)
	payload = append(payload, 0)
	payload = append(payload, 'C')
	payload = append(payload, "XX000"...)
	payload = append(payload, 0)
	payload = append(payload, 'M')
	payload = append(payload, message...)
	payload = append(payload, 0)
	payload = append(payload, 0)

	var out []byte
	out = appendPgMessage(out, 'E', payload)
	out = appendPgMessage(out, pgTagReadyForQuery, []byte{'I'})
	return out
}

// cstring reads a NUL-terminated string from the start of b.
func cstring(b []byte) string {
	s, _ := splitCString(b)
	return s
}

// splitCString returns the leading NUL-terminated string and the remainder.
func splitCString(b []byte) (string, []byte) {
	for i, c := range b {
		if c == 0 {
			return string(b[:i]), b[i+1:]
		}
	}
	return string(b), nil
}
