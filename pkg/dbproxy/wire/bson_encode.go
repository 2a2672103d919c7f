package wire

import (
	"encoding/binary"
	"math"
	"sort"
	"strconv"
)

// encodeBSONDoc encodes elements in order into a BSON document.
func encodeBSONDoc(elems []bsonElem) []byte {
	var body []byte
	for _, e := range elems {
		body = append(body, encodeBSONElem(e.name, e.value)...)
	}
	out := make([]byte, 4, 4+len(body)+1)
	out = append(out, body...)
	out = append(out, 0)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(out)))
	return out
}

func encodeBSONElem(name string, v any) []byte {
	var b []byte
	appendHeader := func(elemType byte) {
		b = append(b, elemType)
		b = append(b, name...)
		b = append(b, 0)
	}

	switch t := v.(type) {
	case nil:
		appendHeader(0x0A)
	case string:
		appendHeader(0x02)
		strBytes := make([]byte, 4)
		binary.LittleEndian.PutUint32(strBytes, uint32(len(t)+1))
		b = append(b, strBytes...)
		b = append(b, t...)
		b = append(b, 0)
	case bool:
		appendHeader(0x08)
		if t {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case int:
		return encodeBSONElem(name, int64(t))
	case int32:
		return encodeBSONElem(name, int64(t))
	case int64:
		appendHeader(0x12)
		num := make([]byte, 8)
		binary.LittleEndian.PutUint64(num, uint64(t))
		b = append(b, num...)
	case float64:
		appendHeader(0x01)
		num := make([]byte, 8)
		binary.LittleEndian.PutUint64(num, math.Float64bits(t))
		b = append(b, num...)
	case []any:
		appendHeader(0x04)
		elems := make([]bsonElem, 0, len(t))
		for i, e := range t {
			elems = append(elems, bsonElem{name: strconv.Itoa(i), value: e})
		}
		b = append(b, encodeBSONDoc(elems)...)
	case map[string]any:
		appendHeader(0x03)
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		elems := make([]bsonElem, 0, len(keys))
		for _, k := range keys {
			elems = append(elems, bsonElem{name: k, value: t[k]})
		}
		b = append(b, encodeBSONDoc(elems)...)
	default:
		// Fall back to the string rendering for anything exotic.
		return encodeBSONElem(name, stringify(v))
	}
	return b
}
