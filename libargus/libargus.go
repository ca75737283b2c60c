// Package libargus is the high-level facade over the pipeline: a
// workflow orchestrator that runs Acquire → Enrich → Score → Act with
// per-stage traces, plus the closed tool-schema registry workflow
// agents call through.
package libargus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/action"
	"github.com/argus-sec/argonaut/datastore"
	"github.com/argus-sec/argonaut/enricher/seed"
	"github.com/argus-sec/argonaut/pipeline"
	"github.com/argus-sec/argonaut/runlog"
)

// Stage trace statuses.
const (
	StageSuccess = `SUCCESS`
	StageFailed  = `FAILED`
	StageSkipped = `SKIPPED`
)

// Stage names, in execution order.
var StageOrder = []string{"Acquire", "Enrich", "Score", "Act"}

// StageTrace records one orchestrated stage.
type StageTrace struct {
	Name       string         `json:"name"`
	Attempt    int            `json:"attempt"`
	Status     string         `json:"status"`
	ErrorCode  string         `json:"errorCode,omitempty"`
	Message    string         `json:"message,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	KeyIDs     []string       `json:"keyIds,omitempty"`
	ToolCalls  []string       `json:"toolCalls,omitempty"`
	StartedAt  int64          `json:"startedAt"`
	FinishedAt int64          `json:"finishedAt"`
}

// RunReport is the outcome of one orchestrated run.
type RunReport struct {
	RunID  string                   `json:"runId"`
	Status string                   `json:"status"`
	Stages []StageTrace             `json:"stages"`
	TopN   []pipeline.RankedFinding `json:"topN,omitempty"`
}

// Options configure an Orchestrator.
type Options struct {
	// Store is the document-store client all stages share.
	Store datastore.Client
	// TopN bounds the ranking and the action selection.
	TopN int
	// Now supplies timestamps for stage traces and run headers; nil
	// means the wall clock.
	Now func() time.Time
}

// RunOptions parameterize one orchestrated run.
type RunOptions struct {
	BundleDir string
	Repo      string
	BuildID   string
	RunID     string
	IntelSeed []seed.Entry
	CreatedAt string
}

// Orchestrator drives the fixed stage sequence.
type Orchestrator struct {
	store datastore.Client
	log   *runlog.Logger
	topN  int
	now   func() time.Time
}

// New constructs an Orchestrator. Tool schemas are validated up front;
// a schema violation fails construction with E_TOOL_SCHEMA_INVALID.
func New(opts Options) (*Orchestrator, error) {
	if err := PreflightTools(); err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	topN := opts.TopN
	if topN == 0 {
		topN = 10
	}
	return &Orchestrator{
		store: opts.Store,
		log:   runlog.New(opts.Store),
		topN:  topN,
		now:   now,
	}, nil
}

// Run executes Acquire → Enrich → Score → Act. The first FAILED stage
// short-circuits the rest as SKIPPED with attempt=0. The report is
// returned even when a stage fails; the error return is reserved for
// invariant violations (nil store, tool schema drift).
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "libargus/Orchestrator.Run",
		"repo", opts.Repo,
		"buildId", opts.BuildID)
	if o.store == nil {
		return nil, fmt.Errorf("libargus: no document-store client configured")
	}

	report := &RunReport{RunID: opts.RunID, Status: StageSuccess}
	started := o.now().UnixMilli()

	failed := false
	for _, name := range StageOrder {
		if failed {
			report.Stages = append(report.Stages, StageTrace{
				Name: name, Attempt: 0, Status: StageSkipped,
			})
			continue
		}
		trace := o.runStage(ctx, name, opts, report)
		report.Stages = append(report.Stages, trace)
		o.log.WriteTask(ctx, runlog.Task{
			RunID:     report.RunID,
			Stage:     trace.Name,
			TaskKey:   fmt.Sprintf("%s/attempt-%d", trace.Name, trace.Attempt),
			Status:    trace.Status,
			Message:   trace.Message,
			Timestamp: trace.FinishedAt,
		})
		if trace.Status == StageFailed {
			failed = true
			report.Status = StageFailed
		}
	}

	finished := o.now().UnixMilli()
	runStatus := runlog.RunSucceeded
	var runErr string
	if failed {
		runStatus = runlog.RunFailed
		for _, s := range report.Stages {
			if s.Status == StageFailed {
				runErr = fmt.Sprintf("%s: %s", s.ErrorCode, s.Message)
				break
			}
		}
	}
	o.log.WriteRun(ctx, runlog.Run{
		RunID:      report.RunID,
		Repo:       opts.Repo,
		BuildID:    opts.BuildID,
		Status:     runStatus,
		StartedAt:  started,
		FinishedAt: &finished,
		Error:      runErr,
	})
	return report, nil
}

func (o *Orchestrator) runStage(ctx context.Context, name string, opts RunOptions, report *RunReport) StageTrace {
	trace := StageTrace{
		Name:      name,
		Attempt:   1,
		Status:    StageSuccess,
		StartedAt: o.now().UnixMilli(),
	}
	var code argonaut.ErrorKind
	var err error

	switch name {
	case "Acquire":
		var res *pipeline.AcquireResult
		res, err = pipeline.NewAcquirer(o.store).Acquire(ctx, pipeline.AcquireOptions{
			Dir:       opts.BundleDir,
			Repo:      opts.Repo,
			BuildID:   opts.BuildID,
			RunID:     opts.RunID,
			IntelSeed: opts.IntelSeed,
			CreatedAt: opts.CreatedAt,
		})
		switch {
		case err != nil:
			code = acquireCode(err)
		case res.Status != pipeline.StatusSuccess:
			err = fmt.Errorf("acquire substage failed")
			code = argonaut.ErrAcquirePipelineFailed
		default:
			if report.RunID == "" {
				report.RunID = res.RunID
			}
			trace.Counts = map[string]int{"written": res.Written()}
			trace.KeyIDs = []string{res.BundleID, res.RunID}
			trace.ToolCalls = []string{"acquire"}
		}
	case "Enrich":
		var res *pipeline.EnrichResult
		res, err = pipeline.NewEnricher(o.store).Enrich(ctx, opts.Repo, opts.BuildID)
		if err == nil {
			var n int
			n, err = o.store.Count(ctx, datastore.IndexReachability)
			if err == nil && n == 0 {
				err = fmt.Errorf("no reachability records for run")
				code = argonaut.ErrEnrichNoReachability
			}
			if err == nil {
				trace.Counts = map[string]int{
					"enriched":   res.Enriched,
					"brokenRefs": res.Integrity.BrokenReachabilityRefsCount + res.Integrity.BrokenExplanationRefsCount + res.Integrity.BrokenDependencyBuildRefsCount,
				}
				trace.ToolCalls = []string{"enrich"}
			}
		}
	case "Score":
		if o.topN <= 0 {
			err = fmt.Errorf("topN must be positive, got %d", o.topN)
			code = argonaut.ErrScoreEmptyRanking
			break
		}
		var res *pipeline.ScoreResult
		res, err = pipeline.NewScorer(o.store).Score(ctx, opts.Repo, opts.BuildID, o.topN)
		if err == nil {
			if len(res.Ranking) == 0 {
				err = fmt.Errorf("score produced an empty ranking")
				code = argonaut.ErrScoreEmptyRanking
			} else {
				report.TopN = res.TopN
				trace.Counts = map[string]int{"scored": res.Scored}
				ids := make([]string, 0, len(res.TopN))
				for _, r := range res.TopN {
					ids = append(ids, r.FindingID)
				}
				trace.KeyIDs = ids
				trace.ToolCalls = []string{"score"}
			}
		}
	case "Act":
		actor := pipeline.NewActor(pipeline.NewEnricher(o.store), action.NewExecutor(o.store))
		var res *pipeline.ActResult
		res, err = actor.Act(ctx, action.Options{
			Repo:      opts.Repo,
			BuildID:   opts.BuildID,
			RunID:     report.RunID,
			TopN:      o.topN,
			Attempt:   1,
			CreatedAt: opts.CreatedAt,
		})
		if err == nil {
			trace.Counts = map[string]int{"generated": res.Generated}
			trace.ToolCalls = []string{"jira", "slack"}
		}
	}

	if err != nil {
		trace.Status = StageFailed
		if code == "" {
			code = stageCode(name, err)
		}
		trace.ErrorCode = string(code)
		trace.Message = err.Error()
	}
	trace.FinishedAt = o.now().UnixMilli()
	return trace
}

func acquireCode(err error) argonaut.ErrorKind {
	if errors.Is(err, argonaut.ErrAcquireMissingArtifacts) {
		return argonaut.ErrAcquireMissingArtifacts
	}
	return argonaut.ErrAcquirePipelineFailed
}

// StageCode maps an untyped stage error onto the closed code set.
func stageCode(name string, err error) argonaut.ErrorKind {
	switch {
	case errors.Is(err, argonaut.ErrActionWriteBlocked):
		return argonaut.ErrActionWriteBlocked
	case errors.Is(err, argonaut.ErrToolSchemaInvalid):
		return argonaut.ErrToolSchemaInvalid
	}
	switch name {
	case "Acquire":
		return argonaut.ErrAcquirePipelineFailed
	case "Enrich":
		return argonaut.ErrEnrichNoReachability
	case "Score":
		return argonaut.ErrScoreEmptyRanking
	case "Act":
		return argonaut.ErrActionWriteBlocked
	}
	return argonaut.ErrAcquirePipelineFailed
}
