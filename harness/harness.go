// Package harness proves pipeline determinism: it runs the same
// pipeline twice against two fresh in-memory stores and diffs the
// resulting state document by document.
package harness

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
	"github.com/argus-sec/argonaut/datastore"
	"github.com/argus-sec/argonaut/datastore/mem"
)

// Failure labels.
const (
	LabelCountDrift       = `Count drift`
	LabelIDSetDrift       = `ID set drift`
	LabelSourceHashDrift  = `_source hash drift`
	LabelTopNDrift        = `Top-N ranking drift`
	LabelVersionDrift     = `Version drift`
	LabelCardinalityDrift = `Cardinality drift`
)

// VarianceFields are stripped from documents before hashing: they may
// legitimately differ between reruns without breaking determinism.
var varianceFields = []string{"createdAt", "computedAt", "startedAt", "finishedAt", "timestamp"}

// RunFunc executes one full pipeline pass against store and returns the
// top-N finding IDs it produced.
type RunFunc func(ctx context.Context, store datastore.Client) ([]string, error)

// Options tune a harness run.
type Options struct {
	// FailFast stops at the first failure instead of collecting all.
	FailFast bool
}

// Failure is one detected drift.
type Failure struct {
	Label  string `json:"label"`
	Index  string `json:"index,omitempty"`
	Detail string `json:"detail"`
}

// Result is the harness verdict. Passed iff Failures is empty.
type Result struct {
	Passed   bool      `json:"passed"`
	Failures []Failure `json:"failures"`
}

// IndexSnapshot captures one index of one run.
type indexSnapshot struct {
	count     int
	sortedIDs []string
	hashPerID map[string]string
}

// Snapshot captures everything the diff compares.
type snapshot struct {
	indexes  map[datastore.Index]*indexSnapshot
	topN     []string
	versions map[string]string
	// Cardinalities: reachability candidates per finding, intel docs per
	// CVE, explanations per finding.
	reachPerFinding map[string]int
	intelPerCVE     map[string]int
	explPerFinding  map[string]int
}

// Run executes fn twice against fresh stores and diffs the outcomes.
func Run(ctx context.Context, fn RunFunc, opts Options) (*Result, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "harness/Run")

	var snaps [2]*snapshot
	for i := range snaps {
		store := mem.NewClient()
		topN, err := fn(ctx, store)
		if err != nil {
			return nil, fmt.Errorf("harness: run %d: %w", i+1, err)
		}
		snap, err := capture(ctx, store, topN)
		if err != nil {
			return nil, fmt.Errorf("harness: capture %d: %w", i+1, err)
		}
		snaps[i] = snap
	}

	res := &Result{}
	diff(snaps[0], snaps[1], res, opts.FailFast)
	res.Passed = len(res.Failures) == 0
	zlog.Info(ctx).
		Bool("passed", res.Passed).
		Int("failures", len(res.Failures)).
		Msg("harness finished")
	return res, nil
}

func capture(ctx context.Context, store datastore.Client, topN []string) (*snapshot, error) {
	snap := &snapshot{
		indexes: make(map[datastore.Index]*indexSnapshot),
		topN:    topN,
		versions: map[string]string{
			"analysisVersion":    argonaut.AnalysisVersion,
			"explanationVersion": argonaut.ExplanationVersion,
			"templateVersion":    argonaut.TemplateVersion,
			"mappingVersion":     argonaut.MappingVersion,
		},
		reachPerFinding: make(map[string]int),
		intelPerCVE:     make(map[string]int),
		explPerFinding:  make(map[string]int),
	}
	for _, idx := range datastore.Indexes() {
		docs, err := store.List(ctx, idx)
		if err != nil {
			return nil, err
		}
		is := &indexSnapshot{
			count:     len(docs),
			hashPerID: make(map[string]string, len(docs)),
		}
		idField := datastore.IDField(idx)
		for _, doc := range docs {
			id := doc.Str(idField)
			is.sortedIDs = append(is.sortedIDs, id)
			h, err := hashDoc(doc)
			if err != nil {
				return nil, err
			}
			is.hashPerID[id] = h

			switch idx {
			case datastore.IndexReachability:
				snap.reachPerFinding[doc.Str("findingId")]++
			case datastore.IndexThreatIntel:
				snap.intelPerCVE[doc.Str("cve")]++
			case datastore.IndexFindings:
				if _, ok := doc["priorityExplanation"].(map[string]any); ok {
					snap.explPerFinding[id]++
				}
			}
		}
		sort.Strings(is.sortedIDs)
		snap.indexes[idx] = is
	}
	return snap, nil
}

// HashDoc hashes a document's canonical JSON with variance fields
// stripped.
func hashDoc(doc datastore.Document) (string, error) {
	trimmed := make(datastore.Document, len(doc))
	for k, v := range doc {
		trimmed[k] = v
	}
	for _, f := range varianceFields {
		delete(trimmed, f)
	}
	return canonjson.Sum(trimmed)
}

func diff(a, b *snapshot, res *Result, failFast bool) {
	add := func(f Failure) bool {
		res.Failures = append(res.Failures, f)
		return failFast
	}

	for _, idx := range datastore.Indexes() {
		ia, ib := a.indexes[idx], b.indexes[idx]
		if ia.count != ib.count {
			if add(Failure{Label: LabelCountDrift, Index: string(idx),
				Detail: fmt.Sprintf("%d vs %d documents", ia.count, ib.count)}) {
				return
			}
		}
		if !cmp.Equal(ia.sortedIDs, ib.sortedIDs) {
			if add(Failure{Label: LabelIDSetDrift, Index: string(idx),
				Detail: cmp.Diff(ia.sortedIDs, ib.sortedIDs)}) {
				return
			}
			continue
		}
		for _, id := range ia.sortedIDs {
			if ia.hashPerID[id] != ib.hashPerID[id] {
				if add(Failure{Label: LabelSourceHashDrift, Index: string(idx),
					Detail: fmt.Sprintf("document %q: %s vs %s", id, ia.hashPerID[id], ib.hashPerID[id])}) {
					return
				}
			}
		}
	}

	if !cmp.Equal(a.topN, b.topN) {
		if add(Failure{Label: LabelTopNDrift, Detail: cmp.Diff(a.topN, b.topN)}) {
			return
		}
	}
	if !cmp.Equal(a.versions, b.versions) {
		if add(Failure{Label: LabelVersionDrift, Detail: cmp.Diff(a.versions, b.versions)}) {
			return
		}
	}

	cardinalities := []struct {
		name string
		a, b map[string]int
	}{
		{"reachability-per-finding", a.reachPerFinding, b.reachPerFinding},
		{"intel-per-CVE", a.intelPerCVE, b.intelPerCVE},
		{"explanation-per-finding", a.explPerFinding, b.explPerFinding},
	}
	for _, c := range cardinalities {
		if !cmp.Equal(c.a, c.b) {
			if add(Failure{Label: LabelCardinalityDrift, Index: c.name,
				Detail: cmp.Diff(c.a, c.b)}) {
				return
			}
		}
	}
}
