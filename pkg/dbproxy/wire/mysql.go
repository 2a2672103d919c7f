package wire

import "encoding/binary"

// MySQL command bytes.
const (
	mysqlComQuery       = 0x03
	mysqlComStmtPrepare = 0x16
	mysqlComStmtExecute = 0x17
)

// MySQLFramer frames the MySQL client protocol: 3-byte little-endian
// length + sequence byte + payload. The server speaks first; the client's
// first packet is the handshake response and is skipped. COM_QUERY packets
// yield their SQL text; COM_STMT_PREPARE yields the statement text so
// prepared traffic is still observable.
type MySQLFramer struct {
	buf           []byte
	handshakeDone bool
	preparedText  string
}

// Feed appends raw client bytes and returns any complete messages.
func (f *MySQLFramer) Feed(p []byte) []Message {
	f.buf = append(f.buf, p...)

	var out []Message
	for {
		if len(f.buf) < 4 {
			return out
		}
		length := int(f.buf[0]) | int(f.buf[1])<<8 | int(f.buf[2])<<16
		total := 4 + length
		if len(f.buf) < total {
			return out
		}
		raw := append([]byte(nil), f.buf[:total]...)
		payload := f.buf[4:total]
		f.buf = f.buf[total:]

		msg := Message{Kind: KindOther, Raw: raw}
		if !f.handshakeDone {
			// First client packet is the handshake response.
			f.handshakeDone = true
			msg.Kind = KindStartup
			out = append(out, msg)
			continue
		}
		if len(payload) > 0 {
			switch payload[0] {
			case mysqlComQuery:
				msg.Kind = KindQuery
				msg.Query = &Query{Text: string(payload[1:])}
				msg.Interceptable = true
			case mysqlComStmtPrepare:
				// Remember the text; execution references it by id.
				f.preparedText = string(payload[1:])
			case mysqlComStmtExecute:
				if f.preparedText != "" {
					msg.Kind = KindQuery
					msg.Query = &Query{Text: f.preparedText}
				}
			}
		}
		out = append(out, msg)
	}
}

// MySQLResponseTracker counts complete server responses in a relayed byte
// stream. A response is an OK or ERR packet, or a text result set closed by
// its second EOF packet.
type MySQLResponseTracker struct {
	buf      []byte
	inResult bool
	eofSeen  int
}

// Feed consumes server bytes and returns the number of responses they
// completed.
func (t *MySQLResponseTracker) Feed(p []byte) int {
	t.buf = append(t.buf, p...)
	complete := 0
	for {
		if len(t.buf) < 4 {
			return complete
		}
		length := int(t.buf[0]) | int(t.buf[1])<<8 | int(t.buf[2])<<16
		total := 4 + length
		if len(t.buf) < total {
			return complete
		}
		payload := t.buf[4:total]
		t.buf = t.buf[total:]
		if len(payload) == 0 {
			continue
		}

		switch first := payload[0]; {
		case !t.inResult && (first == 0x00 || first == 0xFF):
			complete++
		case !t.inResult:
			// Column-count packet opens a result set.
			t.inResult = true
			t.eofSeen = 0
		case first == 0xFF:
			t.inResult = false
			complete++
		case first == 0xFE && length < 9:
			t.eofSeen++
			if t.eofSeen == 2 {
				t.inResult = false
				complete++
			}
		}
	}
}

// Reset drops buffered bytes and state, used between protocol phases.
func (t *MySQLResponseTracker) Reset() {
	t.buf = t.buf[:0]
	t.inResult = false
	t.eofSeen = 0
}

// EncodeMySQLHandshake builds a minimal HandshakeV10 greeting. MySQL
// servers speak first, so mock-only serving has to open the conversation.
func EncodeMySQLHandshake() []byte {
	var payload []byte
	payload = append(payload, 0x0A) // protocol version
	payload = append(payload, "8.0.0-intercept"...)
	payload = append(payload, 0)
	payload = append(payload, 1, 0, 0, 0)           // connection id
	payload = append(payload, "salt1234"...)        // auth plugin data part 1
	payload = append(payload, 0)                    // filler
	payload = append(payload, 0xFF, 0xF7)           // capability flags (lower)
	payload = append(payload, 0x21)                 // charset utf8
	payload = append(payload, 0x02, 0x00)           // status: autocommit
	payload = append(payload, 0x00, 0x00)           // capability flags (upper)
	payload = append(payload, 0x00)                 // auth data len
	payload = append(payload, make([]byte, 10)...)  // reserved
	seq := byte(0)
	return appendMySQLPacket(nil, &seq, payload)
}

// EncodeMySQLOK builds an OK packet.
func EncodeMySQLOK(seq byte) []byte {
	payload := []byte{0x00, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	return appendMySQLPacket(nil, &seq, payload)
}

// EncodeMySQLError builds an ERR packet.
func EncodeMySQLError(message string, seq byte) []byte {
	payload := []byte{0xFF, 0x51, 0x04} // error header, code 1105
	payload = append(payload, '#')
	payload = append(payload, "HY000"...)
	payload = append(payload, message...)
	return appendMySQLPacket(nil, &seq, payload)
}

// EncodeMySQLResult renders rows as a text-protocol result set (column
// count, column definitions, EOF, rows, EOF) for serving a mock to a MySQL
// client. seq is the next packet sequence number to use.
func EncodeMySQLResult(rows []map[string]any, seq byte) []byte {
	columns := columnOrder(rows)
	var out []byte

	// Column count
	out = appendMySQLPacket(out, &seq, encodeLenencInt(uint64(len(columns))))

	// Column definitions
	for _, col := range columns {
		out = appendMySQLPacket(out, &seq, encodeMySQLColumnDef(col))
	}
	out = appendMySQLPacket(out, &seq, []byte{0xFE, 0x00, 0x00, 0x02, 0x00}) // EOF

	// Row packets: lenenc strings per column, NULL as 0xFB
	for _, row := range rows {
		var data []byte
		for _, col := range columns {
			v, ok := row[col]
			if !ok || v == nil {
				data = append(data, 0xFB)
				continue
			}
			data = append(data, encodeLenencString(stringify(v))...)
		}
		out = appendMySQLPacket(out, &seq, data)
	}
	out = appendMySQLPacket(out, &seq, []byte{0xFE, 0x00, 0x00, 0x02, 0x00}) // EOF
	return out
}

func encodeMySQLColumnDef(name string) []byte {
	var b []byte
	b = append(b, encodeLenencString("def")...) // catalog
	b = append(b, encodeLenencString("")...)    // schema
	b = append(b, encodeLenencString("")...)    // table
	b = append(b, encodeLenencString("")...)    // org table
	b = append(b, encodeLenencString(name)...)  // name
	b = append(b, encodeLenencString(name)...)  // org name
	b = append(b, 0x0C)                         // fixed-length fields marker
	b = append(b, 0x21, 0x00)                   // charset utf8
	b = append(b, 0xFF, 0xFF, 0xFF, 0xFF)       // column length
	b = append(b, 0xFD)                         // type VAR_STRING
	b = append(b, 0x00, 0x00)                   // flags
	b = append(b, 0x00)                         // decimals
	b = append(b, 0x00, 0x00)                   // filler
	return b
}

func appendMySQLPacket(out []byte, seq *byte, payload []byte) []byte {
	length := len(payload)
	out = append(out, byte(length), byte(length>>8), byte(length>>16), *seq)
	*seq++
	return append(out, payload...)
}

func encodeLenencInt(v uint64) []byte {
	switch {
	case v < 251:
		return []byte{byte(v)}
	case v < 1<<16:
		return []byte{0xFC, byte(v), byte(v >> 8)}
	case v < 1<<24:
		return []byte{0xFD, byte(v), byte(v >> 8), byte(v >> 16)}
	default:
		b := make([]byte, 9)
		b[0] = 0xFE
		binary.LittleEndian.PutUint64(b[1:], v)
		return b
	}
}

func encodeLenencString(s string) []byte {
	return append(encodeLenencInt(uint64(len(s))), s...)
}
