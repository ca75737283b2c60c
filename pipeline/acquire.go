package pipeline

import (
	"context"
	"fmt"

	"github.com/quay/zlog"
	"golang.org/x/sync/errgroup"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
	"github.com/argus-sec/argonaut/datastore"
	"github.com/argus-sec/argonaut/enricher/seed"
	"github.com/argus-sec/argonaut/ingest"
	"github.com/argus-sec/argonaut/ingest/lockfile"
	"github.com/argus-sec/argonaut/ingest/sarif"
	"github.com/argus-sec/argonaut/ingest/sbom"
	"github.com/argus-sec/argonaut/reach"
)

// AcquireOptions parameterize one acquire run.
type AcquireOptions struct {
	// Dir is the bundle directory.
	Dir     string
	Repo    string
	BuildID string
	// RunID is optional; empty derives it from the bundle ID.
	RunID string
	// IntelSeed is the static threat-intel seed for this run.
	IntelSeed []seed.Entry
	// CreatedAt stamps non-identity timestamp fields.
	CreatedAt string
	// DefaultFilePath substitutes for SARIF results without a location.
	DefaultFilePath string
	// ParseConcurrency caps parallel artifact parsing; <=0 means serial.
	ParseConcurrency int
}

// AcquireResult is the outcome of one acquire run.
type AcquireResult struct {
	BundleID string        `json:"bundleId"`
	RunID    string        `json:"runId"`
	Status   string        `json:"status"`
	Stages   []StageResult `json:"stages"`
}

// Written sums the documents written across substages.
func (r *AcquireResult) Written() int {
	var n int
	for _, s := range r.Stages {
		n += s.Written
	}
	return n
}

// Acquirer loads a bundle and persists its derived documents.
type Acquirer struct {
	store  datastore.Client
	engine *reach.Engine
}

// NewAcquirer returns an acquirer writing through c. The reachability
// engine is seeded per run inside Acquire.
func NewAcquirer(c datastore.Client) *Acquirer {
	return &Acquirer{store: c}
}

// Acquire runs the substages in fixed order. The first substage
// FAILURE marks all later substages SKIPPED with written=0; a bundle
// run record is appended at start (RUNNING) and end (SUCCESS/FAILED).
func (a *Acquirer) Acquire(ctx context.Context, opts AcquireOptions) (*AcquireResult, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "pipeline/Acquirer.Acquire",
		"repo", opts.Repo,
		"buildId", opts.BuildID)

	bundle, err := ingest.Load(ctx, opts.Dir, opts.Repo, opts.BuildID)
	if err != nil {
		return nil, err
	}
	if len(bundle.Files) == 0 {
		return nil, &argonaut.Error{
			Op:      "pipeline.Acquire",
			Kind:    argonaut.ErrAcquireMissingArtifacts,
			Message: fmt.Sprintf("bundle %q contains no artifacts", opts.Dir),
		}
	}
	runID := opts.RunID
	if runID == "" {
		runID = bundle.BundleID
	}
	ctx = zlog.ContextWithValues(ctx, "runId", runID)
	res := &AcquireResult{BundleID: bundle.BundleID, RunID: runID}

	if err := a.writeBundleRun(ctx, bundle, runID, "RUNNING", opts.CreatedAt); err != nil {
		return nil, err
	}

	eng := reach.New(reach.Options{Seed: runID})
	st := &acquireState{bundle: bundle, runID: runID, opts: opts, engine: eng}
	failed := false
	for _, stage := range AcquireStages {
		if failed {
			res.Stages = append(res.Stages, StageResult{Stage: stage, Status: StatusSkipped})
			continue
		}
		sr := a.runStage(ctx, stage, st)
		res.Stages = append(res.Stages, sr)
		if sr.Status == StatusFailure {
			failed = true
		}
	}

	final := "SUCCESS"
	res.Status = StatusSuccess
	if failed {
		final = "FAILED"
		res.Status = StatusFailure
	}
	if err := a.writeBundleRun(ctx, bundle, runID, final, opts.CreatedAt); err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Str("status", res.Status).
		Int("written", res.Written()).
		Msg("acquire finished")
	return res, nil
}

// AcquireState carries intermediate products between substages.
type acquireState struct {
	bundle *ingest.Bundle
	runID  string
	opts   AcquireOptions
	engine *reach.Engine

	findings []argonaut.Finding
	edges    []argonaut.DependencyEdge
}

func (a *Acquirer) runStage(ctx context.Context, stage string, st *acquireState) StageResult {
	var (
		docs []datastore.Document
		idx  datastore.Index
		err  error
	)
	switch stage {
	case "artifacts":
		idx = datastore.IndexArtifacts
		var arts []argonaut.Artifact
		arts, err = st.bundle.Artifacts(st.runID, st.opts.CreatedAt)
		if err == nil {
			docs, err = toDocuments(arts)
		}
	case "dependencies":
		idx = datastore.IndexDependencies
		st.edges, err = parseDependencies(ctx, st)
		if err == nil {
			docs, err = toDocuments(st.edges)
		}
	case "sbom":
		idx = datastore.IndexSBOMComponents
		var comps []argonaut.Component
		comps, err = parseComponents(ctx, st)
		if err == nil {
			docs, err = toDocuments(comps)
		}
	case "findings":
		idx = datastore.IndexFindings
		st.findings, err = parseFindings(ctx, st)
		if err == nil {
			docs, err = toDocuments(st.findings)
		}
	case "reachability":
		idx = datastore.IndexReachability
		var recs []argonaut.Reachability
		recs, err = analyzeReachability(ctx, st)
		if err == nil {
			docs, err = toDocuments(recs)
		}
	case "threatIntel":
		idx = datastore.IndexThreatIntel
		var intel []argonaut.ThreatIntel
		intel, err = seed.Load(ctx, st.opts.IntelSeed)
		if err == nil {
			docs, err = toDocuments(intel)
		}
	case "actions":
		// Acquire records no actions; the act stage owns that index.
		return StageResult{Stage: stage, Status: StatusSuccess}
	default:
		err = fmt.Errorf("pipeline: unknown acquire stage %q", stage)
	}
	if err != nil {
		return StageResult{Stage: stage, Status: StatusFailure, Errors: []string{err.Error()}}
	}
	if len(docs) == 0 {
		return StageResult{Stage: stage, Status: StatusSuccess}
	}

	w, err := datastore.NewWriter(a.store, idx)
	if err != nil {
		return StageResult{Stage: stage, Status: StatusFailure, Errors: []string{err.Error()}}
	}
	report, err := w.Write(ctx, docs)
	if err != nil {
		return StageResult{Stage: stage, Status: StatusFailure, Errors: []string{err.Error()}}
	}
	sr := StageResult{Stage: stage, Status: StatusSuccess, Written: report.Succeeded}
	if report.Failed > 0 {
		sr.Status = StatusFailure
		sr.Errors = []string{report.Messages()}
	}
	return sr
}

func parseDependencies(ctx context.Context, st *acquireState) ([]argonaut.DependencyEdge, error) {
	files := st.bundle.FilesOfType(argonaut.ArtifactLockfile)
	opts := lockfile.Options{Repo: st.opts.Repo, BuildID: st.opts.BuildID, RunID: st.runID}
	results := make([][]argonaut.DependencyEdge, len(files))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(parseLimit(st.opts))
	for i, f := range files {
		eg.Go(func() error {
			edges, err := lockfile.Parse(gctx, f.Name, f.Data, opts)
			if err != nil {
				return err
			}
			results[i] = edges
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	// Files were parsed concurrently; name order is reimposed here.
	var out []argonaut.DependencyEdge
	seen := make(map[string]struct{})
	for _, edges := range results {
		for _, e := range edges {
			if _, dup := seen[e.DependencyID]; dup {
				continue
			}
			seen[e.DependencyID] = struct{}{}
			out = append(out, e)
		}
	}
	return out, nil
}

func parseComponents(ctx context.Context, st *acquireState) ([]argonaut.Component, error) {
	files := st.bundle.FilesOfType(argonaut.ArtifactSBOM)
	opts := sbom.Options{Repo: st.opts.Repo, BuildID: st.opts.BuildID, RunID: st.runID}
	var out []argonaut.Component
	seen := make(map[string]struct{})
	for _, f := range files {
		comps, err := sbom.Parse(ctx, f.Data, opts)
		if err != nil {
			return nil, err
		}
		for _, c := range comps {
			if _, dup := seen[c.ComponentID]; dup {
				continue
			}
			seen[c.ComponentID] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

func parseFindings(ctx context.Context, st *acquireState) ([]argonaut.Finding, error) {
	files := st.bundle.FilesOfType(argonaut.ArtifactSARIF)
	results := make([][]argonaut.Finding, len(files))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(parseLimit(st.opts))
	for i, f := range files {
		eg.Go(func() error {
			fs, err := sarif.Parse(gctx, f.Data, sarif.Options{
				Repo:            st.opts.Repo,
				BuildID:         st.opts.BuildID,
				RunID:           st.runID,
				DefaultFilePath: st.opts.DefaultFilePath,
				CreatedAt:       st.opts.CreatedAt,
			})
			if err != nil {
				return err
			}
			results[i] = fs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	var out []argonaut.Finding
	seen := make(map[string]struct{})
	for _, fs := range results {
		for _, f := range fs {
			if _, dup := seen[f.FindingID]; dup {
				continue
			}
			seen[f.FindingID] = struct{}{}
			out = append(out, f)
		}
	}
	return out, nil
}

func analyzeReachability(ctx context.Context, st *acquireState) ([]argonaut.Reachability, error) {
	out := make([]argonaut.Reachability, 0, len(st.findings))
	for _, f := range st.findings {
		rec, err := st.engine.Analyze(ctx, f.FindingID, f.Package, f.Version, st.edges)
		if err != nil {
			return nil, err
		}
		rec.RunID = st.runID
		out = append(out, rec)
	}
	return out, nil
}

func parseLimit(opts AcquireOptions) int {
	if opts.ParseConcurrency <= 0 {
		return 1
	}
	return opts.ParseConcurrency
}

func (a *Acquirer) writeBundleRun(ctx context.Context, b *ingest.Bundle, runID, status, createdAt string) error {
	id, err := canonjson.BundleRunID(b.Repo, b.BuildID, runID, status)
	if err != nil {
		return err
	}
	doc, err := datastore.ToDocument(argonaut.BundleRun{
		ArtifactID: id,
		Repo:       b.Repo,
		BuildID:    b.BuildID,
		RunID:      runID,
		BundleID:   b.BundleID,
		Kind:       "bundle_run",
		Status:     status,
		CreatedAt:  createdAt,
	})
	if err != nil {
		return err
	}
	w, err := datastore.NewWriter(a.store, datastore.IndexArtifacts)
	if err != nil {
		return err
	}
	report, err := w.Write(ctx, []datastore.Document{doc})
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return &argonaut.Error{
			Op:      "pipeline.Acquire",
			Kind:    argonaut.ErrAcquirePipelineFailed,
			Message: report.Messages(),
		}
	}
	return nil
}

func toDocuments[T any](vs []T) ([]datastore.Document, error) {
	out := make([]datastore.Document, len(vs))
	for i, v := range vs {
		doc, err := datastore.ToDocument(v)
		if err != nil {
			return nil, err
		}
		out[i] = doc
	}
	return out, nil
}
