// Package mem provides an in-memory datastore.Client with the same
// semantics as the HTTP client: lexicographic pre-sort before
// "transport", positional bulk items, ID-sorted listings, and
// run-scoped deletes. Fault injection hooks make it the workhorse for
// writer and pipeline tests and for the determinism harness.
package mem

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/argus-sec/argonaut/datastore"
)

// Client is an in-memory document store.
//
// The zero value is not usable; call NewClient.
type Client struct {
	mu   sync.Mutex
	data map[datastore.Index]map[string]datastore.Document

	// FailIDs injects a per-item bulk failure (status 500) for any
	// document whose ID is present; the value is the error message.
	FailIDs map[string]string
	// ThrowOnBulk injects a transport-level error on every bulk call.
	ThrowOnBulk error
}

var _ datastore.Client = (*Client)(nil)

// NewClient returns an empty store.
func NewClient() *Client {
	return &Client{
		data: make(map[datastore.Index]map[string]datastore.Document),
	}
}

// BulkUpsert implements datastore.Client.
//
// Documents are cloned on the way in so later caller mutation cannot
// alias stored state.
func (c *Client) BulkUpsert(_ context.Context, index datastore.Index, docs []datastore.Document, _ datastore.BulkOptions) (*datastore.BulkReport, error) {
	if c.ThrowOnBulk != nil {
		return nil, c.ThrowOnBulk
	}
	idField := datastore.IDField(index)
	if idField == "" {
		return nil, fmt.Errorf("mem: unknown index %q", index)
	}

	sorted := make([]datastore.Document, len(docs))
	copy(sorted, docs)
	datastore.SortDocs(sorted, idField)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data[index] == nil {
		c.data[index] = make(map[string]datastore.Document)
	}
	report := &datastore.BulkReport{Items: make([]datastore.BulkItem, 0, len(sorted))}
	for _, doc := range sorted {
		id := doc.Str(idField)
		if msg, injected := c.FailIDs[id]; injected {
			report.Items = append(report.Items, datastore.BulkItem{ID: id, Status: 500, Error: msg})
			continue
		}
		clone, err := datastore.ToDocument(doc)
		if err != nil {
			report.Items = append(report.Items, datastore.BulkItem{ID: id, Status: 400, Error: err.Error()})
			continue
		}
		c.data[index][id] = clone
		report.Items = append(report.Items, datastore.BulkItem{ID: id, Status: 200})
	}
	return report, nil
}

// GetByID implements datastore.Client.
func (c *Client) GetByID(_ context.Context, index datastore.Index, id string) (datastore.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.data[index][id]
	if !ok {
		return nil, nil
	}
	return datastore.ToDocument(doc)
}

// List implements datastore.Client; results are sorted by ID ascending.
func (c *Client) List(_ context.Context, index datastore.Index) ([]datastore.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.data[index]))
	for id := range c.data[index] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]datastore.Document, 0, len(ids))
	for _, id := range ids {
		clone, err := datastore.ToDocument(c.data[index][id])
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

// Count implements datastore.Client.
func (c *Client) Count(_ context.Context, index datastore.Index) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data[index]), nil
}

// DeleteByRunID implements datastore.Client. Only the run-ID-bearing
// indices may be swept; asking for the threat-intel index is an error.
func (c *Client) DeleteByRunID(_ context.Context, runID string, indexes ...datastore.Index) (map[datastore.Index]int, error) {
	if len(indexes) == 0 {
		indexes = datastore.RunScoped()
	} else {
		sorted := make([]datastore.Index, len(indexes))
		copy(sorted, indexes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		indexes = sorted
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := make(map[datastore.Index]int, len(indexes))
	for _, index := range indexes {
		if index == datastore.IndexThreatIntel {
			return nil, fmt.Errorf("mem: index %q is not run-scoped", index)
		}
		var n int
		for id, doc := range c.data[index] {
			if doc.Str("runId") == runID {
				delete(c.data[index], id)
				n++
			}
		}
		counts[index] = n
	}
	return counts, nil
}
