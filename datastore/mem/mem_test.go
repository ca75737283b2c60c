package mem

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/argus-sec/argonaut/datastore"
)

func TestListSorted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewClient()
	docs := []datastore.Document{
		{"findingId": "c", "runId": "r1"},
		{"findingId": "a", "runId": "r1"},
		{"findingId": "b", "runId": "r2"},
	}
	if _, err := c.BulkUpsert(ctx, datastore.IndexFindings, docs, datastore.BulkOptions{}); err != nil {
		t.Fatal(err)
	}
	got, err := c.List(ctx, datastore.IndexFindings)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, d := range got {
		ids = append(ids, d.Str("findingId"))
	}
	if !cmp.Equal(ids, []string{"a", "b", "c"}) {
		t.Error(cmp.Diff(ids, []string{"a", "b", "c"}))
	}
}

func TestBulkFaultInjection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewClient()
	c.FailIDs = map[string]string{"b": "boom"}
	report, err := c.BulkUpsert(ctx, datastore.IndexFindings, []datastore.Document{
		{"findingId": "a"}, {"findingId": "b"},
	}, datastore.BulkOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if !report.Items[0].OK() || report.Items[1].OK() {
		t.Errorf("unexpected items: %+v", report.Items)
	}
	if n, _ := c.Count(ctx, datastore.IndexFindings); n != 1 {
		t.Errorf("count: got %d, want 1", n)
	}
}

func TestThrowOnBulk(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewClient()
	boom := errors.New("transport down")
	c.ThrowOnBulk = boom
	if _, err := c.BulkUpsert(ctx, datastore.IndexFindings, []datastore.Document{{"findingId": "a"}}, datastore.BulkOptions{}); !errors.Is(err, boom) {
		t.Errorf("got %v, want injected error", err)
	}
}

func TestDeleteByRunID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewClient()
	c.BulkUpsert(ctx, datastore.IndexFindings, []datastore.Document{
		{"findingId": "a", "runId": "r1"},
		{"findingId": "b", "runId": "r2"},
	}, datastore.BulkOptions{})
	c.BulkUpsert(ctx, datastore.IndexDependencies, []datastore.Document{
		{"dependencyId": "d1", "runId": "r1"},
	}, datastore.BulkOptions{})

	counts, err := c.DeleteByRunID(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if counts[datastore.IndexFindings] != 1 || counts[datastore.IndexDependencies] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
	if n, _ := c.Count(ctx, datastore.IndexFindings); n != 1 {
		t.Errorf("survivors: got %d, want 1", n)
	}
}

func TestDeleteByRunIDRefusesIntel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewClient()
	if _, err := c.DeleteByRunID(ctx, "r1", datastore.IndexThreatIntel); err == nil {
		t.Error("expected an error sweeping threat-intel")
	}
}

func TestGetByIDIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewClient()
	c.BulkUpsert(ctx, datastore.IndexFindings, []datastore.Document{{"findingId": "a", "n": 1}}, datastore.BulkOptions{})
	got, err := c.GetByID(ctx, datastore.IndexFindings, "a")
	if err != nil {
		t.Fatal(err)
	}
	got["n"] = 99
	again, _ := c.GetByID(ctx, datastore.IndexFindings, "a")
	if n, _ := again.Int("n"); n != 1 {
		t.Error("stored document aliased by reader mutation")
	}
}
