package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/action"
	"github.com/argus-sec/argonaut/canonjson"
	"github.com/argus-sec/argonaut/datastore"
	"github.com/argus-sec/argonaut/datastore/mem"
	"github.com/argus-sec/argonaut/enricher/seed"
)

const testSARIF = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "semgrep"}},
    "results": [
      {
        "ruleId": "RULE-A",
        "level": "error",
        "message": {"text": "prototype pollution"},
        "locations": [{"physicalLocation": {
          "artifactLocation": {"uri": "package-lock.json"},
          "region": {"startLine": 10}
        }}],
        "properties": {"severity": "CRITICAL", "package": "lodash", "version": "4.17.20", "cve": "CVE-2024-1111"}
      },
      {
        "ruleId": "RULE-B",
        "level": "error",
        "message": {"text": "ssrf"},
        "locations": [{"physicalLocation": {
          "artifactLocation": {"uri": "package-lock.json"},
          "region": {"startLine": 20}
        }}],
        "properties": {"severity": "HIGH", "package": "axios", "version": "1.7.0", "cve": "CVE-2024-2222"}
      }
    ]
  }]
}`

const testLock = `{
  "lockfileVersion": 3,
  "packages": {
    "": {"dependencies": {"lodash": "^4.17.0", "axios": "^1.7.0"}},
    "node_modules/lodash": {"version": "4.17.20"},
    "node_modules/axios": {"version": "1.7.0"}
  }
}`

const testSBOM = `{
  "bomFormat": "CycloneDX",
  "specVersion": "1.5",
  "components": [
    {"type": "library", "name": "lodash", "version": "4.17.20", "purl": "pkg:npm/lodash@4.17.20"},
    {"type": "library", "name": "axios", "version": "1.7.0", "purl": "pkg:npm/axios@1.7.0"}
  ]
}`

func fp(v float64) *float64 { return &v }

func testSeed() []seed.Entry {
	return []seed.Entry{
		{CVE: "CVE-2024-1111", KEV: true, EPSS: fp(0.91)},
		{CVE: "CVE-2024-2222", KEV: false, EPSS: fp(0.26)},
	}
}

func writeTestBundle(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func acquireOpts(dir string) AcquireOptions {
	return AcquireOptions{
		Dir:             dir,
		Repo:            "acme/app",
		BuildID:         "b-100",
		RunID:           "r-1",
		IntelSeed:       testSeed(),
		CreatedAt:       "2026-01-01T00:00:00Z",
		DefaultFilePath: "package-lock.json",
	}
}

func fullBundle(t *testing.T) string {
	t.Helper()
	return writeTestBundle(t, map[string]string{
		"scan.sarif":        testSARIF,
		"package-lock.json": testLock,
		"app.cdx.json":      testSBOM,
	})
}

func TestAcquireHappyPath(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := mem.NewClient()
	res, err := NewAcquirer(store).Acquire(ctx, acquireOpts(fullBundle(t)))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSuccess {
		t.Fatalf("status: %s", res.Status)
	}
	var stages []string
	for _, s := range res.Stages {
		stages = append(stages, s.Stage)
		if s.Status != StatusSuccess {
			t.Errorf("%s: %s %v", s.Stage, s.Status, s.Errors)
		}
	}
	if !cmp.Equal(stages, AcquireStages) {
		t.Error(cmp.Diff(stages, AcquireStages))
	}

	counts := map[datastore.Index]int{
		datastore.IndexFindings:       2,
		datastore.IndexDependencies:   2,
		datastore.IndexSBOMComponents: 2,
		datastore.IndexReachability:   2,
		datastore.IndexThreatIntel:    2,
		datastore.IndexArtifacts:      5, // 3 files + RUNNING + SUCCESS records
	}
	for idx, want := range counts {
		got, err := store.Count(ctx, idx)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("%s: count %d, want %d", idx, got, want)
		}
	}

	// The actions substage succeeds without writing.
	last := res.Stages[len(res.Stages)-1]
	if last.Stage != "actions" || last.Written != 0 {
		t.Errorf("actions substage: %+v", last)
	}
}

func TestAcquireEmptyBundle(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	_, err := NewAcquirer(mem.NewClient()).Acquire(ctx, acquireOpts(t.TempDir()))
	if !errors.Is(err, argonaut.ErrAcquireMissingArtifacts) {
		t.Errorf("got %v, want E_ACQUIRE_MISSING_ARTIFACTS", err)
	}
}

func TestAcquireStageFailureSkipsRest(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	dir := writeTestBundle(t, map[string]string{
		"scan.sarif":        `{"version":`,
		"package-lock.json": testLock,
	})
	store := mem.NewClient()
	res, err := NewAcquirer(store).Acquire(ctx, acquireOpts(dir))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailure {
		t.Fatalf("status: %s", res.Status)
	}
	byStage := make(map[string]StageResult)
	for _, s := range res.Stages {
		byStage[s.Stage] = s
	}
	if byStage["findings"].Status != StatusFailure {
		t.Errorf("findings: %+v", byStage["findings"])
	}
	for _, later := range []string{"reachability", "threatIntel", "actions"} {
		s := byStage[later]
		if s.Status != StatusSkipped || s.Written != 0 {
			t.Errorf("%s: %+v", later, s)
		}
	}
	// Earlier stages still ran.
	if byStage["dependencies"].Status != StatusSuccess {
		t.Errorf("dependencies: %+v", byStage["dependencies"])
	}

	// The closing bundle run record says FAILED.
	id, err := canonjson.BundleRunID("acme/app", "b-100", "r-1", "FAILED")
	if err != nil {
		t.Fatal(err)
	}
	doc, err := store.GetByID(ctx, datastore.IndexArtifacts, id)
	if err != nil {
		t.Fatal(err)
	}
	if doc == nil {
		t.Error("missing FAILED bundle run record")
	}
}

func runFullPipeline(t *testing.T, store datastore.Client) (*EnrichResult, *ScoreResult) {
	t.Helper()
	ctx := zlog.Test(context.Background(), t)
	if _, err := NewAcquirer(store).Acquire(ctx, acquireOpts(fullBundle(t))); err != nil {
		t.Fatal(err)
	}
	er, err := NewEnricher(store).Enrich(ctx, "acme/app", "b-100")
	if err != nil {
		t.Fatal(err)
	}
	sr, err := NewScorer(store).Score(ctx, "acme/app", "b-100", 10)
	if err != nil {
		t.Fatal(err)
	}
	return er, sr
}

func TestEnrichJoins(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := mem.NewClient()
	er, _ := runFullPipeline(t, store)
	if er.Enriched != 2 {
		t.Fatalf("enriched: %d", er.Enriched)
	}

	docs, err := store.List(ctx, datastore.IndexFindings)
	if err != nil {
		t.Fatal(err)
	}
	for _, doc := range docs {
		cxt, ok := doc["context"].(map[string]any)
		if !ok {
			t.Fatalf("finding %s has no context", doc.Str("findingId"))
		}
		threat, ok := cxt["threat"].(map[string]any)
		if !ok {
			t.Fatalf("finding %s has no threat context", doc.Str("findingId"))
		}
		reach, ok := cxt["reachability"].(map[string]any)
		if !ok {
			t.Fatalf("finding %s has no reachability context", doc.Str("findingId"))
		}
		if reach["reachable"] != true {
			t.Errorf("finding %s not reachable", doc.Str("findingId"))
		}
		if doc.Str("cve") == "CVE-2024-1111" && threat["kev"] != true {
			t.Errorf("kev not joined: %v", threat)
		}
	}
}

// Scenario: the additive model produces 75 for the KEV+EPSS-high
// reachable finding and 35 for the EPSS-medium reachable one, ranked in
// that order.
func TestScoreModel(t *testing.T) {
	store := mem.NewClient()
	_, sr := runFullPipeline(t, store)

	if len(sr.Ranking) != 2 {
		t.Fatalf("ranking size: %d", len(sr.Ranking))
	}
	if sr.Ranking[0].PriorityScore != 75 {
		t.Errorf("top score: %d, want 75", sr.Ranking[0].PriorityScore)
	}
	if sr.Ranking[1].PriorityScore != 35 {
		t.Errorf("second score: %d, want 35", sr.Ranking[1].PriorityScore)
	}

	ctx := zlog.Test(context.Background(), t)
	docs, err := store.List(ctx, datastore.IndexFindings)
	if err != nil {
		t.Fatal(err)
	}
	for _, doc := range docs {
		expl, ok := doc["priorityExplanation"].(map[string]any)
		if !ok {
			t.Fatalf("finding %s missing explanation", doc.Str("findingId"))
		}
		if expl["findingId"] != doc.Str("findingId") {
			t.Error("explanation names the wrong finding")
		}
		if expl["explanationId"] == "" {
			t.Error("missing explanationId")
		}
	}
}

func TestExplainReasonCodes(t *testing.T) {
	t.Parallel()
	reachable := true
	f := &argonaut.Finding{
		FindingID: "f-1",
		Context: &argonaut.Context{
			Threat:       &argonaut.ThreatContext{KEV: true, EPSS: fp(0.91)},
			Reachability: &argonaut.ReachabilityContext{Reachable: reachable},
		},
	}
	expl, err := Explain(f)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{ReasonKEVTrue, ReasonEPSSHigh, ReasonReachableTrue}
	if !cmp.Equal(expl.ReasonCodes, want) {
		t.Error(cmp.Diff(expl.ReasonCodes, want))
	}
	if expl.Score != 75 {
		t.Errorf("score: %d", expl.Score)
	}

	// Same inputs, same explanationId.
	again, err := Explain(f)
	if err != nil {
		t.Fatal(err)
	}
	if again.ExplanationID != expl.ExplanationID {
		t.Error("explanationId not deterministic")
	}
}

func TestScoreRerunIdempotent(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := mem.NewClient()
	_, _ = runFullPipeline(t, store)
	first, err := store.List(ctx, datastore.IndexFindings)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewScorer(store).Score(ctx, "acme/app", "b-100", 10); err != nil {
		t.Fatal(err)
	}
	second, err := store.List(ctx, datastore.IndexFindings)
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(first, second) {
		t.Error(cmp.Diff(first, second))
	}
}

// Scenario: one broken reference of each kind yields exactly one count
// each, with samples reported.
func TestEnrichIntegrity(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := mem.NewClient()
	if _, err := NewAcquirer(store).Acquire(ctx, acquireOpts(fullBundle(t))); err != nil {
		t.Fatal(err)
	}

	// Reachability record naming an absent finding. The in-memory client
	// does not validate identity, so broken documents can be planted.
	plant := func(idx datastore.Index, doc datastore.Document) {
		t.Helper()
		if _, err := store.BulkUpsert(ctx, idx, []datastore.Document{doc}, datastore.BulkOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	plant(datastore.IndexReachability, datastore.Document{
		"reachabilityId": "broken-reach", "findingId": "no-such-finding",
	})
	plant(datastore.IndexFindings, datastore.Document{
		"findingId": "stray-finding", "repo": "other/repo", "buildId": "b-999",
		"priorityExplanation": map[string]any{"findingId": "different-finding"},
	})
	plant(datastore.IndexDependencies, datastore.Document{
		"dependencyId": "broken-dep", "repo": "ghost/repo", "buildId": "b-000",
		"parent": "__root__", "child": "x", "scope": "runtime",
	})

	er, err := NewEnricher(store).Enrich(ctx, "acme/app", "b-100")
	if err != nil {
		t.Fatal(err)
	}
	in := er.Integrity
	if in.BrokenReachabilityRefsCount != 1 {
		t.Errorf("brokenReachabilityRefsCount: %d", in.BrokenReachabilityRefsCount)
	}
	if in.BrokenExplanationRefsCount != 1 {
		t.Errorf("brokenExplanationRefsCount: %d", in.BrokenExplanationRefsCount)
	}
	if in.BrokenDependencyBuildRefsCount != 1 {
		t.Errorf("brokenDependencyBuildRefsCount: %d", in.BrokenDependencyBuildRefsCount)
	}
	if len(in.SampleBrokenIDs) < 1 {
		t.Error("no sample broken IDs")
	}
}

func TestActStage(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := mem.NewClient()
	_, _ = runFullPipeline(t, store)

	actor := NewActor(NewEnricher(store), action.NewExecutor(store))
	opts := action.Options{
		Repo: "acme/app", BuildID: "b-100", RunID: "r-1",
		TopN: 2, Attempt: 1, CreatedAt: "2026-01-01T00:00:00Z",
	}
	res, err := actor.Act(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	// 2 tickets + 1 summary + 2 threads.
	if res.Generated != 5 {
		t.Fatalf("generated: %d", res.Generated)
	}
	for _, r := range res.Results {
		if r.Status != argonaut.ActionDryRunReady {
			t.Errorf("%s: %s", r.ActionID, r.Status)
		}
	}

	// Rerun with a higher attempt: all duplicates, nothing new stored.
	before, err := store.Count(ctx, datastore.IndexActions)
	if err != nil {
		t.Fatal(err)
	}
	opts.Attempt = 2
	res2, err := actor.Act(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range res2.Results {
		if !r.Duplicate {
			t.Errorf("%s: expected duplicate", r.ActionID)
		}
	}
	after, err := store.Count(ctx, datastore.IndexActions)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Errorf("action count moved: %d -> %d", before, after)
	}
}
