// Package es implements the datastore.Client interface over an
// Elasticsearch-compatible HTTP API: /_bulk NDJSON frames with
// deterministic pre-sort and fixed-size chunking, a closed retry
// taxonomy, and delete-by-run sweeps.
package es

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/datastore"
)

var tracer = otel.Tracer("github.com/argus-sec/argonaut/datastore/es")

// RetryableStatus reports whether an HTTP status is in the retryable
// set. Anything else fails immediately without consuming attempts.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client talks to an Elasticsearch-compatible document store.
type Client struct {
	opts Options
	root *url.URL
	hc   *http.Client

	// Counters exported via Collector.
	requests  atomic.Int64
	retries   atomic.Int64
	bulkItems atomic.Int64
}

var _ datastore.Client = (*Client)(nil)

// NewClient validates opts (resolving the environment for unset
// connection fields) and returns a ready Client.
func NewClient(opts Options) (*Client, error) {
	opts.fromEnv()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = datastore.DefaultChunkSize
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultTimeout
	}
	root, err := url.Parse(strings.TrimRight(opts.URL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("es: bad store URL: %w", err)
	}
	hc := opts.Client
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{opts: opts, root: root, hc: hc}, nil
}

func (c *Client) auth(req *http.Request) {
	switch {
	case c.opts.APIKey != "":
		req.Header.Set("Authorization", "ApiKey "+c.opts.APIKey)
	case c.opts.Username != "":
		req.SetBasicAuth(c.opts.Username, c.opts.Password)
	}
}

// Do issues one request with the retry taxonomy applied: transport
// errors and statuses {429, 502, 503, 504} are retried up to
// RetryAttempts with a fixed backoff; any other non-2xx status raises
// immediately. The request body is rebuilt per attempt from body.
func (c *Client) do(ctx context.Context, method, ref string, query url.Values, contentType string, body []byte) (*http.Response, int, error) {
	u, err := c.root.Parse(ref)
	if err != nil {
		return nil, 0, fmt.Errorf("es: bad request path %q: %w", ref, err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	var retried int
	for attempt := 0; ; attempt++ {
		if c.opts.Limiter != nil {
			if err := c.opts.Limiter.Wait(ctx); err != nil {
				return nil, retried, err
			}
		}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
		if err != nil {
			return nil, retried, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		// Correlates server-side task logs with this request.
		req.Header.Set("X-Opaque-Id", uuid.NewString())
		c.auth(req)
		c.requests.Add(1)

		res, err := c.hc.Do(req)
		switch {
		case err == nil && res.StatusCode >= 200 && res.StatusCode < 300:
			return res, retried, nil
		case err == nil && res.StatusCode == http.StatusNotFound:
			// Callers decide what a 404 means.
			return res, retried, nil
		case err == nil && !retryableStatus(res.StatusCode):
			defer res.Body.Close()
			snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
			return nil, retried, &argonaut.Error{
				Op:      "es.Client.do",
				Kind:    argonaut.ErrPermanent,
				Message: fmt.Sprintf("%s %s: unexpected status %s (body starts: %q)", method, ref, res.Status, snippet),
			}
		}
		// Transport error or retryable status.
		var reason string
		if err != nil {
			reason = err.Error()
		} else {
			reason = res.Status
			res.Body.Close()
		}
		if attempt >= c.opts.RetryAttempts {
			return nil, retried, &argonaut.Error{
				Op:      "es.Client.do",
				Kind:    argonaut.ErrTransient,
				Message: fmt.Sprintf("%s %s: giving up after %d retries: %s", method, ref, retried, reason),
			}
		}
		retried++
		c.retries.Add(1)
		zlog.Debug(ctx).
			Str("reason", reason).
			Int("retry", retried).
			Msg("retrying request")
		select {
		case <-ctx.Done():
			return nil, retried, ctx.Err()
		case <-time.After(c.opts.RetryBackoff):
		}
	}
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// BulkUpsert implements datastore.Client.
//
// Documents are pre-sorted lexicographically by ID, chunked into
// fixed-size batches, and sent as NDJSON index frames. Response items
// are matched positionally.
func (c *Client) BulkUpsert(ctx context.Context, index datastore.Index, docs []datastore.Document, opts datastore.BulkOptions) (*datastore.BulkReport, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "datastore/es/Client.BulkUpsert",
		"index", string(index))
	ctx, span := tracer.Start(ctx, "BulkUpsert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("index", string(index)),
		attribute.Int("docs", len(docs)),
	)

	idField := datastore.IDField(index)
	if idField == "" {
		return nil, fmt.Errorf("es: unknown index %q", index)
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = c.opts.ChunkSize
	}
	refresh := opts.Refresh
	if refresh == "" {
		refresh = "wait_for"
	}

	sorted := make([]datastore.Document, len(docs))
	copy(sorted, docs)
	datastore.SortDocs(sorted, idField)

	report := &datastore.BulkReport{Items: make([]datastore.BulkItem, 0, len(sorted))}
	for start := 0; start < len(sorted); start += chunkSize {
		end := min(start+chunkSize, len(sorted))
		chunk := sorted[start:end]

		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, doc := range chunk {
			meta := map[string]any{"index": map[string]any{
				"_index": string(index),
				"_id":    doc.Str(idField),
			}}
			if err := enc.Encode(meta); err != nil {
				return nil, fmt.Errorf("es: encode bulk meta: %w", err)
			}
			if err := enc.Encode(doc); err != nil {
				return nil, fmt.Errorf("es: encode bulk source: %w", err)
			}
		}

		res, retried, err := c.do(ctx, http.MethodPost, "_bulk",
			url.Values{"refresh": []string{refresh}},
			"application/x-ndjson", buf.Bytes())
		report.Retries += retried
		if err != nil {
			return report, err
		}
		var parsed bulkResponse
		err = json.NewDecoder(res.Body).Decode(&parsed)
		res.Body.Close()
		if err != nil {
			return report, fmt.Errorf("es: decode bulk response: %w", err)
		}
		if len(parsed.Items) != len(chunk) {
			return report, fmt.Errorf("es: bulk response has %d items, sent %d", len(parsed.Items), len(chunk))
		}
		for i, item := range parsed.Items {
			// Each item is keyed by the action name ("index").
			var got datastore.BulkItem
			for _, v := range item {
				got.ID = v.ID
				got.Status = v.Status
				if v.Error != nil {
					got.Error = fmt.Sprintf("%s: %s", v.Error.Type, v.Error.Reason)
				}
			}
			if got.ID == "" {
				got.ID = chunk[i].Str(idField)
			}
			report.Items = append(report.Items, got)
			c.bulkItems.Add(1)
		}
	}
	return report, nil
}

// GetByID implements datastore.Client; (nil, nil) on 404.
func (c *Client) GetByID(ctx context.Context, index datastore.Index, id string) (datastore.Document, error) {
	res, _, err := c.do(ctx, http.MethodGet,
		fmt.Sprintf("%s/_doc/%s", index, url.PathEscape(id)), nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	var body struct {
		Source datastore.Document `json:"_source"`
	}
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return nil, fmt.Errorf("es: decode document: %w", err)
	}
	return body.Source, nil
}

// List implements datastore.Client; documents come back sorted by _id
// ascending, which the search request pins for stability.
func (c *Client) List(ctx context.Context, index datastore.Index) ([]datastore.Document, error) {
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"match_all": map[string]any{}},
		"sort":  []any{map[string]any{"_id": "asc"}},
		"size":  10000,
	})
	if err != nil {
		return nil, err
	}
	res, _, err := c.do(ctx, http.MethodPost,
		fmt.Sprintf("%s/_search", index), nil, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string             `json:"_id"`
				Source datastore.Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	dec := json.NewDecoder(res.Body)
	dec.UseNumber()
	if err := dec.Decode(&parsed); err != nil {
		return nil, fmt.Errorf("es: decode search response: %w", err)
	}
	out := make([]datastore.Document, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}

// Count implements datastore.Client.
func (c *Client) Count(ctx context.Context, index datastore.Index) (int, error) {
	res, _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/_count", index), nil, "", nil)
	if err != nil {
		return 0, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return 0, nil
	}
	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("es: decode count response: %w", err)
	}
	return parsed.Count, nil
}

// DeleteByRunID implements datastore.Client. Indices are swept in
// lexicographic order with conflicts=proceed and an immediate refresh.
func (c *Client) DeleteByRunID(ctx context.Context, runID string, indexes ...datastore.Index) (map[datastore.Index]int, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "datastore/es/Client.DeleteByRunID",
		"runId", runID)
	if len(indexes) == 0 {
		indexes = datastore.RunScoped()
	} else {
		sorted := make([]datastore.Index, len(indexes))
		copy(sorted, indexes)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		indexes = sorted
	}
	body, err := json.Marshal(map[string]any{
		"query": map[string]any{"term": map[string]any{"runId": runID}},
	})
	if err != nil {
		return nil, err
	}
	query := url.Values{
		"conflicts": []string{"proceed"},
		"refresh":   []string{"true"},
	}
	counts := make(map[datastore.Index]int, len(indexes))
	for _, index := range indexes {
		if index == datastore.IndexThreatIntel {
			return nil, fmt.Errorf("es: index %q is not run-scoped", index)
		}
		res, _, err := c.do(ctx, http.MethodPost,
			fmt.Sprintf("%s/_delete_by_query", index), query, "application/json", body)
		if err != nil {
			return counts, err
		}
		var parsed struct {
			Deleted int `json:"deleted"`
		}
		err = json.NewDecoder(res.Body).Decode(&parsed)
		res.Body.Close()
		if err != nil {
			return counts, fmt.Errorf("es: decode delete-by-query response: %w", err)
		}
		counts[index] = parsed.Deleted
		zlog.Debug(ctx).
			Str("index", string(index)).
			Int("deleted", parsed.Deleted).
			Msg("swept index")
	}
	return counts, nil
}

// IndexMappings returns the live mappings for an index, or (nil, nil)
// when the index does not exist. Used by mapping.Bootstrap.
func (c *Client) IndexMappings(ctx context.Context, index datastore.Index) (map[string]any, error) {
	res, _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/_mapping", index), nil, "", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	var parsed map[string]struct {
		Mappings map[string]any `json:"mappings"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("es: decode mapping response: %w", err)
	}
	entry, ok := parsed[string(index)]
	if !ok {
		return nil, fmt.Errorf("es: mapping response missing index %q", index)
	}
	return entry.Mappings, nil
}

// CreateIndex creates an index with the given settings and mappings.
func (c *Client) CreateIndex(ctx context.Context, index datastore.Index, body map[string]any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	res, _, err := c.do(ctx, http.MethodPut, string(index), nil, "application/json", raw)
	if err != nil {
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return fmt.Errorf("es: create index %q: unexpected 404", index)
	}
	return nil
}
