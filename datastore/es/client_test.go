package es

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/datastore"
)

// BulkEcho answers every bulk frame with per-item successes.
func bulkEcho(t *testing.T, calls *int, failFirst int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if *calls <= failFirst {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var items []map[string]any
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var meta struct {
				Index struct {
					ID string `json:"_id"`
				} `json:"index"`
			}
			if err := json.Unmarshal(sc.Bytes(), &meta); err != nil {
				t.Errorf("bad meta line: %v", err)
			}
			if !sc.Scan() {
				t.Error("missing source line")
				break
			}
			items = append(items, map[string]any{
				"index": map[string]any{"_id": meta.Index.ID, "status": 200},
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": items})
	}
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Options{
		URL:           srv.URL,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func doc(id string) datastore.Document {
	return datastore.Document{"findingId": id, "repo": "r", "buildId": "b", "fingerprint": "fp-" + id}
}

func TestBulkOrderingAndChunking(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)

	var frames [][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ids []string
		var items []map[string]any
		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var meta struct {
				Index struct {
					ID string `json:"_id"`
				} `json:"index"`
			}
			json.Unmarshal(sc.Bytes(), &meta)
			sc.Scan()
			ids = append(ids, meta.Index.ID)
			items = append(items, map[string]any{
				"index": map[string]any{"_id": meta.Index.ID, "status": 200},
			})
		}
		frames = append(frames, ids)
		json.NewEncoder(w).Encode(map[string]any{"errors": false, "items": items})
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	// Reverse-sorted input across two chunks of 2.
	docs := []datastore.Document{doc("d"), doc("c"), doc("b"), doc("a")}
	report, err := c.BulkUpsert(ctx, datastore.IndexFindings, docs, datastore.BulkOptions{ChunkSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(frames), 2; got != want {
		t.Fatalf("chunk count: got %d, want %d", got, want)
	}
	want := [][]string{{"a", "b"}, {"c", "d"}}
	if !cmp.Equal(frames, want) {
		t.Error(cmp.Diff(frames, want))
	}
	if got := len(report.Items); got != 4 {
		t.Errorf("items: got %d, want 4", got)
	}
	// Positional match against the sorted order.
	var ids []string
	for _, item := range report.Items {
		ids = append(ids, item.ID)
	}
	if !cmp.Equal(ids, []string{"a", "b", "c", "d"}) {
		t.Error(cmp.Diff(ids, []string{"a", "b", "c", "d"}))
	}
}

func TestRetryOn503(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)

	var calls int
	srv := httptest.NewServer(bulkEcho(t, &calls, 1))
	defer srv.Close()
	c := newTestClient(t, srv)

	report, err := c.BulkUpsert(ctx, datastore.IndexFindings, []datastore.Document{doc("a")}, datastore.BulkOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := calls, 2; got != want {
		t.Errorf("HTTP calls: got %d, want %d", got, want)
	}
	if got, want := report.Retries, 1; got != want {
		t.Errorf("retries: got %d, want %d", got, want)
	}
	if got := len(report.Items); got != 1 || !report.Items[0].OK() {
		t.Errorf("unexpected items: %+v", report.Items)
	}
}

func TestRetryExhaustion(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)

	var calls int
	srv := httptest.NewServer(bulkEcho(t, &calls, 100))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.BulkUpsert(ctx, datastore.IndexFindings, []datastore.Document{doc("a")}, datastore.BulkOptions{})
	if !errors.Is(err, argonaut.ErrTransient) {
		t.Fatalf("got %v, want TRANSIENT", err)
	}
	// Initial call plus RetryAttempts retries.
	if got, want := calls, 3; got != want {
		t.Errorf("HTTP calls: got %d, want %d", got, want)
	}
}

func TestNonRetryable400(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)

	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"mapper_parsing_exception"}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.BulkUpsert(ctx, datastore.IndexFindings, []datastore.Document{doc("a")}, datastore.BulkOptions{})
	if !errors.Is(err, argonaut.ErrPermanent) {
		t.Fatalf("got %v, want PERMANENT", err)
	}
	if got, want := calls, 1; got != want {
		t.Errorf("HTTP calls: got %d, want %d", got, want)
	}
}

func TestGetByID(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/_doc/known"):
			fmt.Fprint(w, `{"_id":"known","_source":{"findingId":"known","priorityScore":35}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	got, err := c.GetByID(ctx, datastore.IndexFindings, "known")
	if err != nil {
		t.Fatal(err)
	}
	if got.Str("findingId") != "known" {
		t.Errorf("unexpected document: %v", got)
	}
	if n, ok := got.Int("priorityScore"); !ok || n != 35 {
		t.Errorf("priorityScore: got %v, %v", n, ok)
	}

	missing, err := c.GetByID(ctx, datastore.IndexFindings, "absent")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("expected nil for 404, got %v", missing)
	}
}

func TestDeleteByRunID(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)

	var swept []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/_delete_by_query") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("conflicts"); got != "proceed" {
			t.Errorf("conflicts: got %q", got)
		}
		var body bytes.Buffer
		body.ReadFrom(r.Body)
		if !strings.Contains(body.String(), `"runId":"run-1"`) {
			t.Errorf("missing term query: %s", body.String())
		}
		swept = append(swept, strings.TrimPrefix(strings.TrimSuffix(r.URL.Path, "/_delete_by_query"), "/"))
		fmt.Fprint(w, `{"deleted":2}`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	counts, err := c.DeleteByRunID(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	// All run-bearing indices, visited in lexicographic order.
	var want []string
	for _, idx := range datastore.RunScoped() {
		want = append(want, string(idx))
	}
	if !cmp.Equal(swept, want) {
		t.Error(cmp.Diff(swept, want))
	}
	for idx, n := range counts {
		if n != 2 {
			t.Errorf("%s: got %d, want 2", idx, n)
		}
	}
}
