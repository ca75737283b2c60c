package libargus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/datastore"
	"github.com/argus-sec/argonaut/datastore/mem"
	"github.com/argus-sec/argonaut/enricher/seed"
)

const testSARIF = `{
  "version": "2.1.0",
  "runs": [{
    "tool": {"driver": {"name": "semgrep"}},
    "results": [{
      "ruleId": "RULE-A",
      "level": "error",
      "message": {"text": "prototype pollution"},
      "locations": [{"physicalLocation": {
        "artifactLocation": {"uri": "package-lock.json"},
        "region": {"startLine": 10}
      }}],
      "properties": {"severity": "CRITICAL", "package": "lodash", "version": "4.17.20", "cve": "CVE-2024-1111"}
    }]
  }]
}`

const testLock = `{
  "lockfileVersion": 3,
  "packages": {
    "": {"dependencies": {"lodash": "^4.17.0"}},
    "node_modules/lodash": {"version": "4.17.20"}
  }
}`

func fp(v float64) *float64 { return &v }

func bundleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"scan.sarif":        testSARIF,
		"package-lock.json": testLock,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func runOpts(dir string) RunOptions {
	return RunOptions{
		BundleDir: dir,
		Repo:      "acme/app",
		BuildID:   "b-100",
		RunID:     "r-1",
		IntelSeed: []seed.Entry{{CVE: "CVE-2024-1111", KEV: true, EPSS: fp(0.91)}},
		CreatedAt: "2026-01-01T00:00:00Z",
	}
}

func fixedClock() func() time.Time {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func TestRunHappyPath(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := mem.NewClient()
	o, err := New(Options{Store: store, TopN: 5, Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	report, err := o.Run(ctx, runOpts(bundleDir(t)))
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StageSuccess {
		t.Fatalf("status: %s", report.Status)
	}
	var names []string
	for _, s := range report.Stages {
		names = append(names, s.Name)
		if s.Status != StageSuccess {
			t.Errorf("%s: %s (%s: %s)", s.Name, s.Status, s.ErrorCode, s.Message)
		}
		if s.Attempt != 1 {
			t.Errorf("%s: attempt %d", s.Name, s.Attempt)
		}
		if s.FinishedAt < s.StartedAt {
			t.Errorf("%s: finished before started", s.Name)
		}
	}
	if !cmp.Equal(names, StageOrder) {
		t.Error(cmp.Diff(names, StageOrder))
	}
	if len(report.TopN) != 1 {
		t.Errorf("topN: %d", len(report.TopN))
	}
	if report.TopN[0].PriorityScore != 75 {
		t.Errorf("score: %d", report.TopN[0].PriorityScore)
	}

	// Run header is terminal and task logs exist per executed stage.
	runs, err := store.List(ctx, datastore.IndexRuns)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Str("status") != "SUCCEEDED" {
		t.Errorf("run header: %+v", runs)
	}
	tasks, err := store.List(ctx, datastore.IndexTaskLogs)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != len(StageOrder) {
		t.Errorf("task logs: %d, want %d", len(tasks), len(StageOrder))
	}
}

func TestRunFirstFailureSkipsRest(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := mem.NewClient()
	o, err := New(Options{Store: store, TopN: 5, Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	opts := runOpts(t.TempDir()) // empty bundle
	report, err := o.Run(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StageFailed {
		t.Fatalf("status: %s", report.Status)
	}
	acquire := report.Stages[0]
	if acquire.Status != StageFailed {
		t.Fatalf("acquire: %+v", acquire)
	}
	if acquire.ErrorCode != string(argonaut.ErrAcquireMissingArtifacts) {
		t.Errorf("errorCode: %s", acquire.ErrorCode)
	}
	for _, s := range report.Stages[1:] {
		if s.Status != StageSkipped || s.Attempt != 0 {
			t.Errorf("%s: %+v", s.Name, s)
		}
	}

	runs, err := store.List(ctx, datastore.IndexRuns)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Str("status") != "FAILED" {
		t.Errorf("run header: %+v", runs)
	}
}

func TestRunEmptyRankingFails(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := mem.NewClient()
	// Bundle with a lockfile but no SARIF: acquire succeeds with zero
	// findings, enrich trips on the empty reachability index.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte(testLock), 0o644); err != nil {
		t.Fatal(err)
	}
	o, err := New(Options{Store: store, TopN: 5, Now: fixedClock()})
	if err != nil {
		t.Fatal(err)
	}
	opts := runOpts(dir)
	report, err := o.Run(ctx, opts)
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != StageFailed {
		t.Fatalf("status: %s", report.Status)
	}
	enrich := report.Stages[1]
	if enrich.ErrorCode != string(argonaut.ErrEnrichNoReachability) {
		t.Errorf("enrich errorCode: %s", enrich.ErrorCode)
	}
}

func TestToolSchemasValid(t *testing.T) {
	t.Parallel()
	if failures := ValidateTools(Tools()); len(failures) != 0 {
		t.Errorf("violations: %v", failures)
	}
	if err := PreflightTools(); err != nil {
		t.Error(err)
	}
}

func TestToolSet(t *testing.T) {
	t.Parallel()
	tools := Tools()
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	want := []string{"acquire", "enrich", "jira", "score", "search", "slack"}
	if !cmp.Equal(names, want) {
		t.Error(cmp.Diff(names, want))
	}
}

func TestValidateToolsCrossRules(t *testing.T) {
	t.Parallel()
	tt := []struct {
		Name string
		Tool ToolSchema
	}{
		{
			Name: "ReadOnlyWithWrites",
			Tool: ToolSchema{
				Name: "bad", AccessMode: AccessReadOnly, WritePolicy: WriteNone,
				WriteIndices: []datastore.Index{datastore.IndexFindings},
				SortKeys:     []string{"x"}, Input: map[string]any{}, Output: map[string]any{},
			},
		},
		{
			Name: "ActionWriteWrongIndex",
			Tool: ToolSchema{
				Name: "bad", AccessMode: AccessActionWrite, WritePolicy: WriteActionsOnly,
				WriteIndices: []datastore.Index{datastore.IndexFindings},
				SortKeys:     []string{"x"}, Input: map[string]any{}, Output: map[string]any{},
			},
		},
		{
			Name: "PipelineWriteWrongPolicy",
			Tool: ToolSchema{
				Name: "bad", AccessMode: AccessPipelineWrite, WritePolicy: WriteNone,
				SortKeys: []string{"x"}, Input: map[string]any{}, Output: map[string]any{},
			},
		},
		{
			Name: "NoSortKeys",
			Tool: ToolSchema{
				Name: "bad", AccessMode: AccessReadOnly, WritePolicy: WriteNone,
				Input: map[string]any{}, Output: map[string]any{},
			},
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if failures := ValidateTools([]ToolSchema{tc.Tool}); len(failures) == 0 {
				t.Error("expected a violation")
			}
		})
	}
}
