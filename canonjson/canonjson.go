// Package canonjson produces canonical JSON and content-addressed
// identifiers.
//
// Canonical form is UTF-8 JSON with object keys sorted lexicographically
// at every depth and arrays preserved in order. Values arriving as JSON
// text keep their number spelling verbatim (decoding uses
// [encoding/json.Number]); Go values are serialized by [encoding/json],
// which emits the shortest round-trip representation for floats. Either
// way the same value always yields the same bytes, independent of map
// iteration order, locale, or platform.
//
// Non-finite floats (NaN, ±Inf) are rejected; callers must
// pre-normalize.
package canonjson

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/argus-sec/argonaut"
)

// Marshal returns the canonical JSON encoding of v.
//
// v may be any value encodable by [encoding/json]. Maps with non-string
// keys, channels, funcs, and non-finite floats are rejected with kind
// [argonaut.ErrInvalidField].
func Marshal(v any) ([]byte, error) {
	norm, err := normalize(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := write(&buf, norm); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Sum returns the lowercase 64-hex SHA-256 of the canonical JSON
// encoding of v.
func Sum(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:]), nil
}

// SumBytes hashes raw bytes without canonicalization. Used where the
// contract hashes a preassembled string (idempotency keys, topNHash).
func SumBytes(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// Normalize round-trips v through JSON into the canonical value tree
// (nil, bool, json.Number, string, []any, map[string]any).
func normalize(v any) (any, error) {
	switch n := v.(type) {
	case nil, bool, string, json.Number:
		return n, nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return nil, &argonaut.Error{
				Op:      "canonjson.Marshal",
				Kind:    argonaut.ErrInvalidField,
				Message: "non-finite number",
			}
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &argonaut.Error{
			Op:      "canonjson.Marshal",
			Kind:    argonaut.ErrInvalidField,
			Message: "unsupported value",
			Inner:   err,
		}
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("canonjson: internal round-trip: %w", err)
	}
	return tree, nil
}

func write(buf *bytes.Buffer, v any) error {
	switch n := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if n {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(n.String())
	case string:
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		buf.Write(b)
	case []any:
		buf.WriteByte('[')
		for i, el := range n {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := write(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := write(buf, n[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return &argonaut.Error{
			Op:      "canonjson.Marshal",
			Kind:    argonaut.ErrInvalidField,
			Message: fmt.Sprintf("unsupported value of type %T", v),
		}
	}
	return nil
}
