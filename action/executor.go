package action

import (
	"context"
	"fmt"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/datastore"
)

// Executor records dry-run actions in the document store.
type Executor struct {
	store datastore.Client
}

// NewExecutor returns an executor backed by c.
func NewExecutor(c datastore.Client) *Executor {
	return &Executor{store: c}
}

// Execute validates and persists actions. Actions whose idempotency key
// already exists in storage are reported SKIPPED_DUPLICATE and never
// rewritten; the stored document keeps its original attempt. Any action
// with DryRun false blocks the whole batch before any write.
func (e *Executor) Execute(ctx context.Context, actions []argonaut.Action) ([]argonaut.ActionResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "action/Executor.Execute")

	for i, a := range actions {
		if !a.DryRun {
			return nil, &argonaut.Error{
				Op:      "action.Execute",
				Kind:    argonaut.ErrActionWriteBlocked,
				Message: fmt.Sprintf("action %d (%s): live execution is not supported, dryRun must be true", i, a.Type),
			}
		}
		if a.Attempt <= 0 {
			return nil, &argonaut.Error{
				Op:      "action.Execute",
				Kind:    argonaut.ErrInvalidField,
				Message: fmt.Sprintf("action %d (%s): attempt must be a positive integer, got %d", i, a.Type, a.Attempt),
			}
		}
	}

	// Duplicate detection scans stored actions by idempotency key.
	stored, err := e.store.List(ctx, datastore.IndexActions)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(stored))
	for _, doc := range stored {
		if key := doc.Str("idempotencyKey"); key != "" {
			existing[key] = struct{}{}
		}
		if id := doc.Str("actionId"); id != "" {
			existing[id] = struct{}{}
		}
	}

	results := make([]argonaut.ActionResult, 0, len(actions))
	var fresh []datastore.Document
	for _, a := range actions {
		if _, dup := existing[a.IdempotencyKey]; dup {
			results = append(results, argonaut.ActionResult{
				ActionID:  a.ActionID,
				Type:      a.Type,
				Status:    argonaut.ActionSkippedDuplicate,
				Duplicate: true,
				Attempt:   a.Attempt,
			})
			continue
		}
		existing[a.IdempotencyKey] = struct{}{}
		doc, err := datastore.ToDocument(a)
		if err != nil {
			return nil, err
		}
		fresh = append(fresh, doc)
		results = append(results, argonaut.ActionResult{
			ActionID: a.ActionID,
			Type:     a.Type,
			Status:   argonaut.ActionDryRunReady,
			Attempt:  a.Attempt,
		})
	}

	if len(fresh) > 0 {
		w, err := datastore.NewWriter(e.store, datastore.IndexActions)
		if err != nil {
			return nil, err
		}
		report, err := w.Write(ctx, fresh)
		if err != nil {
			return nil, err
		}
		if report.Failed > 0 {
			return nil, &argonaut.Error{
				Op:      "action.Execute",
				Kind:    argonaut.ErrBulkItemFailed,
				Message: report.Messages(),
			}
		}
	}
	zlog.Debug(ctx).
		Int("actions", len(actions)).
		Int("written", len(fresh)).
		Msg("actions executed")
	return results, nil
}
