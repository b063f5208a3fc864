// Package plist encodes and decodes the Apple binary property lists
// carried in RTSP SETUP/ANCHOR/GET_PARAMETER/info bodies.
package plist

import (
	"bytes"

	"howett.net/plist"
)

// Dict is the generic property-list dictionary shape RTSP bodies use:
// string keys, values of any plist-representable type (bool, int64,
// []byte, nested Dict, []any).
type Dict map[string]any

// Decode parses a binary (or XML/text, howett.net/plist auto-detects)
// property list body into a Dict.
func Decode(body []byte) (Dict, error) {
	var d Dict
	_, err := plist.Unmarshal(body, &d)
	return d, err
}

// EncodeBinary serializes v as a binary property list
// (Content-Type: application/x-apple-binary-plist).
func EncodeBinary(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := plist.NewBinaryEncoder(&buf)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Bool/Int/Bytes/Strings are small accessors over a decoded Dict that
// return the zero value on a missing or mistyped key, since RTSP bodies
// are attacker-controlled input and a malformed plist must not panic
// the session.

func (d Dict) Bool(key string) bool {
	v, _ := d[key].(bool)
	return v
}

func (d Dict) Int(key string) int64 {
	switch v := d[key].(type) {
	case int64:
		return v
	case uint64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (d Dict) Bytes(key string) []byte {
	v, _ := d[key].([]byte)
	return v
}

func (d Dict) String(key string) string {
	v, _ := d[key].(string)
	return v
}

func (d Dict) Array(key string) []any {
	v, _ := d[key].([]any)
	return v
}

func (d Dict) Dict(key string) Dict {
	return AsDict(d[key])
}

// AsDict coerces a decoded plist value (which may arrive as either Dict
// or the underlying map[string]any the library actually produces) into
// a Dict, so callers never need to care which one a given decode path
// returned.
func AsDict(v any) Dict {
	switch d := v.(type) {
	case Dict:
		return d
	case map[string]any:
		return Dict(d)
	default:
		return nil
	}
}
