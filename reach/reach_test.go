package reach

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

func edgeID(e argonaut.DependencyEdge) (string, error) {
	return canonjson.DependencyID(e.Repo, e.BuildID, e.Parent, e.Child, e.Version, e.Scope)
}

func mkEdge(t *testing.T, parent, child string, version *string, scope string) argonaut.DependencyEdge {
	t.Helper()
	e := argonaut.DependencyEdge{
		Repo:    "acme/app",
		BuildID: "b-100",
		Parent:  parent,
		Child:   child,
		Version: version,
		Scope:   scope,
	}
	id, err := edgeID(e)
	if err != nil {
		t.Fatal(err)
	}
	e.DependencyID = id
	return e
}

func strp(s string) *string { return &s }

func TestReachableDirect(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	eng := New(Options{Seed: "seed-1"})
	edges := []argonaut.DependencyEdge{
		mkEdge(t, argonaut.RootPackage, "lodash", strp("4.17.20"), "runtime"),
	}
	rec, err := eng.Analyze(ctx, "f-1", "lodash", "4.17.20", edges)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Reachable || rec.Status != argonaut.StatusReachable {
		t.Fatalf("not reachable: %+v", rec)
	}
	wantPath := []string{argonaut.RootPackage, "lodash"}
	if !cmp.Equal(rec.EvidencePath, wantPath) {
		t.Error(cmp.Diff(rec.EvidencePath, wantPath))
	}
	if rec.ConfidenceScore != 0.95 {
		t.Errorf("confidence: %v", rec.ConfidenceScore)
	}
	if rec.ReachabilityID == "" || rec.InputsHash == "" {
		t.Error("missing identity fields")
	}
}

func TestShortestPathWins(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	eng := New(Options{Seed: "seed-1"})
	// Two routes to leaf: root→a→leaf and root→b→c→leaf.
	edges := []argonaut.DependencyEdge{
		mkEdge(t, argonaut.RootPackage, "b", strp("1.0.0"), "runtime"),
		mkEdge(t, "b", "c", strp("1.0.0"), "runtime"),
		mkEdge(t, "c", "leaf", strp("2.0.0"), "runtime"),
		mkEdge(t, argonaut.RootPackage, "a", strp("1.0.0"), "runtime"),
		mkEdge(t, "a", "leaf", strp("2.0.0"), "runtime"),
	}
	rec, err := eng.Analyze(ctx, "f-1", "leaf", "2.0.0", edges)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{argonaut.RootPackage, "a", "leaf"}
	if !cmp.Equal(rec.EvidencePath, want) {
		t.Error(cmp.Diff(rec.EvidencePath, want))
	}
}

func TestLexTieBreak(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	eng := New(Options{Seed: "seed-1"})
	// Equal-length routes via "alpha" and "zeta": alpha must win.
	edges := []argonaut.DependencyEdge{
		mkEdge(t, argonaut.RootPackage, "zeta", strp("1.0.0"), "runtime"),
		mkEdge(t, "zeta", "leaf", strp("2.0.0"), "runtime"),
		mkEdge(t, argonaut.RootPackage, "alpha", strp("1.0.0"), "runtime"),
		mkEdge(t, "alpha", "leaf", strp("2.0.0"), "runtime"),
	}
	rec, err := eng.Analyze(ctx, "f-1", "leaf", "2.0.0", edges)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{argonaut.RootPackage, "alpha", "leaf"}
	if !cmp.Equal(rec.EvidencePath, want) {
		t.Error(cmp.Diff(rec.EvidencePath, want))
	}
}

func TestCaseInsensitiveMatch(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	eng := New(Options{Seed: "seed-1"})
	edges := []argonaut.DependencyEdge{
		mkEdge(t, argonaut.RootPackage, "Lodash", strp("4.17.20"), "runtime"),
	}
	rec, err := eng.Analyze(ctx, "f-1", "LODASH", "4.17.20", edges)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Reachable {
		t.Error("adjacency must match case-insensitively")
	}
}

func TestInsufficientData(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	eng := New(Options{Seed: "seed-1"})

	tt := []struct {
		Name  string
		Pkg   string
		Edges []argonaut.DependencyEdge
	}{
		{Name: "NoEdges", Pkg: "lodash", Edges: nil},
		{Name: "NoPackage", Pkg: "", Edges: []argonaut.DependencyEdge{
			mkEdge(t, argonaut.RootPackage, "lodash", strp("4.17.20"), "runtime"),
		}},
		{Name: "Disconnected", Pkg: "lodash", Edges: []argonaut.DependencyEdge{
			mkEdge(t, "island", "lodash", strp("4.17.20"), "runtime"),
		}},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			rec, err := eng.Analyze(ctx, "f-1", tc.Pkg, "4.17.20", tc.Edges)
			if err != nil {
				t.Fatal(err)
			}
			if rec.Reachable || rec.Status != argonaut.StatusInsufficientData {
				t.Errorf("want INSUFFICIENT_DATA, got %+v", rec)
			}
			if rec.Reason == "" {
				t.Error("missing reason")
			}
			if rec.ReachabilityID == "" {
				t.Error("missing reachability ID")
			}
		})
	}
}

func TestConfidenceDiscounts(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	eng := New(Options{Seed: "seed-1"})

	// Depth 2 runtime path: 0.95 - 0.05.
	edges := []argonaut.DependencyEdge{
		mkEdge(t, argonaut.RootPackage, "mid", strp("1.0.0"), "runtime"),
		mkEdge(t, "mid", "leaf", strp("2.0.0"), "runtime"),
	}
	rec, err := eng.Analyze(ctx, "f-1", "leaf", "2.0.0", edges)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ConfidenceScore != 0.90 {
		t.Errorf("depth discount: %v", rec.ConfidenceScore)
	}

	// Dev scope costs 0.15.
	edges = []argonaut.DependencyEdge{
		mkEdge(t, argonaut.RootPackage, "mocha", strp("10.2.0"), "dev"),
	}
	rec, err = eng.Analyze(ctx, "f-1", "mocha", "10.2.0", edges)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ConfidenceScore != 0.80 {
		t.Errorf("scope discount: %v", rec.ConfidenceScore)
	}

	// Prerelease version costs 0.10.
	edges = []argonaut.DependencyEdge{
		mkEdge(t, argonaut.RootPackage, "beta-lib", strp("1.0.0-rc.1"), "runtime"),
	}
	rec, err = eng.Analyze(ctx, "f-1", "beta-lib", "1.0.0-rc.1", edges)
	if err != nil {
		t.Fatal(err)
	}
	if rec.ConfidenceScore < 0.84 || rec.ConfidenceScore > 0.86 {
		t.Errorf("prerelease discount: %v", rec.ConfidenceScore)
	}
}

func TestSeedPinsComputedAt(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	edges := []argonaut.DependencyEdge{
		mkEdge(t, argonaut.RootPackage, "lodash", strp("4.17.20"), "runtime"),
	}
	a, err := New(Options{Seed: "run-42"}).Analyze(ctx, "f-1", "lodash", "4.17.20", edges)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(Options{Seed: "run-42"}).Analyze(ctx, "f-1", "lodash", "4.17.20", edges)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(a, b) {
		t.Error(cmp.Diff(a, b))
	}
	c, err := New(Options{Seed: "run-43"}).Analyze(ctx, "f-1", "lodash", "4.17.20", edges)
	if err != nil {
		t.Fatal(err)
	}
	if a.ComputedAt == c.ComputedAt {
		t.Error("different seeds should move computedAt")
	}
	if a.ReachabilityID != c.ReachabilityID {
		t.Error("computedAt must not participate in identity")
	}
}
