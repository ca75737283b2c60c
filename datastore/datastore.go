// Package datastore defines the data-plane writer protocol: the
// document-store client interface, the generic wire document, the
// per-index writers with their validation steps, and the report types
// they return.
//
// Two clients implement the interface: the Elasticsearch-compatible
// HTTP client in the es subpackage and the in-memory client in mem,
// which has identical semantics and is used by tests and the
// determinism harness.
package datastore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Document is the generic wire representation of an entity. It only
// exists at the bulk boundary and in the mapping validator; everywhere
// else entities are their typed structs.
type Document map[string]any

// ToDocument converts any JSON-encodable value into a Document. Numbers
// are decoded as [json.Number] so canonical re-serialization preserves
// their spelling.
func ToDocument(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("datastore: encode document: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("datastore: decode document: %w", err)
	}
	return d, nil
}

// Str returns the string value at key, or "" when absent or not a
// string.
func (d Document) Str(key string) string {
	s, _ := d[key].(string)
	return s
}

// StrPtr returns the string at key or nil when the field is absent or
// JSON null.
func (d Document) StrPtr(key string) *string {
	v, ok := d[key]
	if !ok || v == nil {
		return nil
	}
	if s, ok := v.(string); ok {
		return &s
	}
	return nil
}

// Int returns the integer at key. ok is false when the field is
// absent, null, or not an integer.
func (d Document) Int(key string) (int64, bool) {
	switch v := d[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Strs returns the string slice at key, or nil.
func (d Document) Strs(key string) []string {
	raw, ok := d[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, el := range raw {
		s, ok := el.(string)
		if !ok {
			return nil
		}
		out = append(out, s)
	}
	return out
}

// BulkOptions tune a BulkUpsert call.
type BulkOptions struct {
	// ChunkSize caps documents per bulk frame; 0 means DefaultChunkSize.
	ChunkSize int
	// Refresh is the refresh policy; "" means "wait_for", closing the
	// read-after-write window at commit time.
	Refresh string
}

// DefaultChunkSize is the fixed bulk batch size.
const DefaultChunkSize = 500

// BulkItem is the positional outcome of one document in a bulk call.
type BulkItem struct {
	ID     string `json:"id"`
	Status int    `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the item upserted.
func (i *BulkItem) OK() bool { return i.Status >= 200 && i.Status < 300 }

// BulkReport is the outcome of one BulkUpsert call. Items match the
// pre-sorted on-wire document order positionally.
type BulkReport struct {
	Items   []BulkItem `json:"items"`
	Retries int        `json:"retries"`
}

// Client is the document-store interface shared by the HTTP and
// in-memory implementations.
//
// BulkUpsert pre-sorts docs lexicographically by their ID field before
// chunking so on-wire order is canonical regardless of input order.
// GetByID returns (nil, nil) when the document does not exist. List
// returns documents sorted by ID ascending. DeleteByRunID sweeps the
// run-bearing indices in lexicographic order and reports per-index
// deletion counts.
type Client interface {
	BulkUpsert(ctx context.Context, index Index, docs []Document, opts BulkOptions) (*BulkReport, error)
	GetByID(ctx context.Context, index Index, id string) (Document, error)
	List(ctx context.Context, index Index) ([]Document, error)
	Count(ctx context.Context, index Index) (int, error)
	DeleteByRunID(ctx context.Context, runID string, indexes ...Index) (map[Index]int, error)
}

// SortDocs orders docs lexicographically by the value of idField,
// in place. Both clients call it before chunking.
func SortDocs(docs []Document, idField string) {
	sort.SliceStable(docs, func(i, j int) bool {
		return strings.Compare(docs[i].Str(idField), docs[j].Str(idField)) < 0
	})
}
