package wire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Minimal BSON decoding: just enough to recover the command name,
// collection, and filter documents from MongoDB wire messages. Element
// order is preserved because the first element names the command.

type bsonElem struct {
	name  string
	value any
}

var errBSONTruncated = errors.New("truncated bson document")

// decodeBSONDoc decodes one document, preserving element order.
func decodeBSONDoc(data []byte) ([]bsonElem, int, error) {
	if len(data) < 5 {
		return nil, 0, errBSONTruncated
	}
	docLen := int(binary.LittleEndian.Uint32(data[:4]))
	if docLen < 5 || docLen > len(data) {
		return nil, 0, errBSONTruncated
	}
	body := data[4 : docLen-1]

	var elems []bsonElem
	for len(body) > 0 {
		elemType := body[0]
		name, rest := splitCString(body[1:])
		value, consumed, err := decodeBSONValue(elemType, rest)
		if err != nil {
			return nil, 0, err
		}
		elems = append(elems, bsonElem{name: name, value: value})
		body = rest[consumed:]
	}
	return elems, docLen, nil
}

//nolint:gocyclo // one case per BSON type
func decodeBSONValue(elemType byte, data []byte) (any, int, error) {
	switch elemType {
	case 0x01: // double
		if len(data) < 8 {
			return nil, 0, errBSONTruncated
		}
		bits := binary.LittleEndian.Uint64(data[:8])
		return bitsToFloat(bits), 8, nil
	case 0x02: // string
		if len(data) < 4 {
			return nil, 0, errBSONTruncated
		}
		strLen := int(binary.LittleEndian.Uint32(data[:4]))
		if strLen < 1 || len(data) < 4+strLen {
			return nil, 0, errBSONTruncated
		}
		return string(data[4 : 4+strLen-1]), 4 + strLen, nil
	case 0x03, 0x04: // embedded document / array
		elems, n, err := decodeBSONDoc(data)
		if err != nil {
			return nil, 0, err
		}
		if elemType == 0x04 {
			arr := make([]any, 0, len(elems))
			for _, e := range elems {
				arr = append(arr, e.value)
			}
			return arr, n, nil
		}
		m := make(map[string]any, len(elems))
		for _, e := range elems {
			m[e.name] = e.value
		}
		return m, n, nil
	case 0x05: // binary
		if len(data) < 5 {
			return nil, 0, errBSONTruncated
		}
		binLen := int(binary.LittleEndian.Uint32(data[:4]))
		if len(data) < 5+binLen {
			return nil, 0, errBSONTruncated
		}
		return hex.EncodeToString(data[5 : 5+binLen]), 5 + binLen, nil
	case 0x07: // objectid
		if len(data) < 12 {
			return nil, 0, errBSONTruncated
		}
		return hex.EncodeToString(data[:12]), 12, nil
	case 0x08: // bool
		if len(data) < 1 {
			return nil, 0, errBSONTruncated
		}
		return data[0] != 0, 1, nil
	case 0x09: // utc datetime
		if len(data) < 8 {
			return nil, 0, errBSONTruncated
		}
		ms := int64(binary.LittleEndian.Uint64(data[:8]))
		return time.UnixMilli(ms).UTC().Format(time.RFC3339), 8, nil
	case 0x0A: // null
		return nil, 0, nil
	case 0x0B: // regex: two cstrings
		pattern, rest := splitCString(data)
		_, rest2 := splitCString(rest)
		return "/" + pattern + "/", len(data) - len(rest2), nil
	case 0x10: // int32
		if len(data) < 4 {
			return nil, 0, errBSONTruncated
		}
		return int64(int32(binary.LittleEndian.Uint32(data[:4]))), 4, nil
	case 0x11, 0x12: // timestamp / int64
		if len(data) < 8 {
			return nil, 0, errBSONTruncated
		}
		return int64(binary.LittleEndian.Uint64(data[:8])), 8, nil
	default:
		return nil, 0, fmt.Errorf("unsupported bson type 0x%02x", elemType)
	}
}

func bitsToFloat(bits uint64) float64 {
	return math.Float64frombits(bits)
}

// renderBSONValue produces a compact JSON-ish rendering for query text.
func renderBSONValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(t)
	case bool:
		return strconv.FormatBool(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case []any:
		out := "["
		for i, e := range t {
			if i > 0 {
				out += ","
			}
			out += renderBSONValue(e)
		}
		return out + "]"
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(k) + ":" + renderBSONValue(t[k])
		}
		return out + "}"
	default:
		return fmt.Sprintf("%v", t)
	}
}
