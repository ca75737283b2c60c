package pipeline

import (
	"context"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/action"
)

// ActResult is the outcome of one act run.
type ActResult struct {
	Generated int                     `json:"generated"`
	Results   []argonaut.ActionResult `json:"results"`
}

// Actor generates and records dry-run actions for scored findings.
type Actor struct {
	enricher *Enricher
	executor *action.Executor
}

// NewActor returns an actor over the same store the rest of the
// pipeline writes to.
func NewActor(e *Enricher, x *action.Executor) *Actor {
	return &Actor{enricher: e, executor: x}
}

// Act generates ticket and chat actions over the stored findings of
// (repo, buildId) and records them. It is idempotent: reruns surface
// duplicates without touching stored documents, and it never calls
// external systems.
func (a *Actor) Act(ctx context.Context, opts action.Options) (*ActResult, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "pipeline/Actor.Act",
		"repo", opts.Repo,
		"buildId", opts.BuildID)

	findings, err := a.enricher.loadFindings(ctx, opts.Repo, opts.BuildID)
	if err != nil {
		return nil, err
	}

	tickets, err := action.Tickets(findings, opts)
	if err != nil {
		return nil, err
	}
	chat, err := action.ChatActions(findings, opts)
	if err != nil {
		return nil, err
	}
	batch := append(tickets, chat...)

	results, err := a.executor.Execute(ctx, batch)
	if err != nil {
		return nil, err
	}
	zlog.Info(ctx).
		Int("generated", len(batch)).
		Msg("act finished")
	return &ActResult{Generated: len(batch), Results: results}, nil
}
