package wire

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// PostgresResultParser observes the backend-to-client stream and decodes
// text-format result sets so captured queries can be saved as mocks.
type PostgresResultParser struct {
	buf     []byte
	columns []string
	rows    []map[string]any
	failed  string
}

// Feed appends backend bytes. It returns (result, true) when a query cycle
// completes (ReadyForQuery observed).
func (p *PostgresResultParser) Feed(data []byte) (*QueryResult, bool) {
	p.buf = append(p.buf, data...)
	for {
		if len(p.buf) < 5 {
			return nil, false
		}
		tag := p.buf[0]
		length := int(binary.BigEndian.Uint32(p.buf[1:5]))
		total := 1 + length
		if length < 4 || len(p.buf) < total {
			return nil, false
		}
		payload := p.buf[5:total]
		p.buf = p.buf[total:]

		switch tag {
		case pgTagRowDescription:
			p.columns = parsePgRowDescription(payload)
		case pgTagDataRow:
			if row := parsePgDataRow(payload, p.columns); row != nil {
				p.rows = append(p.rows, row)
			}
		case 'E': // ErrorResponse
			p.failed = parsePgErrorMessage(payload)
		case pgTagReadyForQuery:
			res := &QueryResult{Rows: p.rows, Error: p.failed}
			p.columns, p.rows, p.failed = nil, nil, ""
			return res, true
		}
	}
}

// QueryResult is a decoded result set or error.
type QueryResult struct {
	Rows  []map[string]any
	Error string
}

func parsePgRowDescription(payload []byte) []string {
	if len(payload) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(payload[:2]))
	rest := payload[2:]
	cols := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var name string
		name, rest = splitCString(rest)
		// table OID(4) + attnum(2) + type OID(4) + typlen(2) + typmod(4) + format(2)
		if len(rest) < 18 {
			break
		}
		rest = rest[18:]
		cols = append(cols, name)
	}
	return cols
}

func parsePgDataRow(payload []byte, columns []string) map[string]any {
	if len(payload) < 2 {
		return nil
	}
	count := int(binary.BigEndian.Uint16(payload[:2]))
	rest := payload[2:]
	row := make(map[string]any, count)
	for i := 0; i < count; i++ {
		if len(rest) < 4 {
			return row
		}
		size := int(int32(binary.BigEndian.Uint32(rest[:4])))
		rest = rest[4:]
		name := fmt.Sprintf("col%d", i)
		if i < len(columns) {
			name = columns[i]
		}
		if size < 0 {
			row[name] = nil
			continue
		}
		if len(rest) < size {
			return row
		}
		row[name] = string(rest[:size])
		rest = rest[size:]
	}
	return row
}

func parsePgErrorMessage(payload []byte) string {
	// Fields are (type byte, cstring) pairs; 'M' is the human message.
	rest := payload
	for len(rest) > 0 && rest[0] != 0 {
		fieldType := rest[0]
		var value string
		value, rest = splitCString(rest[1:])
		if fieldType == 'M' {
			return value
		}
	}
	return "query failed"
}

// EncodePostgresResult renders rows as a text-format result set
// (RowDescription, DataRows, CommandComplete, ReadyForQuery) for serving a
// mock to a PostgreSQL client.
func EncodePostgresResult(rows []map[string]any) []byte {
	columns := columnOrder(rows)
	var out []byte

	// RowDescription
	desc := make([]byte, 2)
	binary.BigEndian.PutUint16(desc, uint16(len(columns)))
	for _, col := range columns {
		desc = append(desc, col...)
		desc = append(desc, 0)
		field := make([]byte, 18)
		binary.BigEndian.PutUint32(field[6:10], 25) // text type OID
		binary.BigEndian.PutUint16(field[10:12], 0xFFFF)
		binary.BigEndian.PutUint32(field[12:16], 0xFFFFFFFF)
		desc = append(desc, field...)
	}
	out = appendPgMessage(out, pgTagRowDescription, desc)

	// DataRows
	for _, row := range rows {
		data := make([]byte, 2)
		binary.BigEndian.PutUint16(data, uint16(len(columns)))
		for _, col := range columns {
			v, ok := row[col]
			if !ok || v == nil {
				data = append(data, 0xFF, 0xFF, 0xFF, 0xFF)
				continue
			}
			s := fmt.Sprintf("%v", v)
			size := make([]byte, 4)
			binary.BigEndian.PutUint32(size, uint32(len(s)))
			data = append(data, size...)
			data = append(data, s...)
		}
		out = appendPgMessage(out, pgTagDataRow, data)
	}

	// CommandComplete + ReadyForQuery (idle)
	tagline := fmt.Sprintf("SELECT %d", len(rows))
	out = appendPgMessage(out, pgTagCommandComplete, append([]byte(tagline), 0))
	out = appendPgMessage(out, pgTagReadyForQuery, []byte{'I'})
	return out
}

func appendPgMessage(out []byte, tag byte, payload []byte) []byte {
	out = append(out, tag)
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(payload)+4))
	out = append(out, length...)
	return append(out, payload...)
}

// columnOrder produces a stable column ordering across rows.
func columnOrder(rows []map[string]any) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
