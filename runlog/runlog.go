// Package runlog persists run headers and per-stage task logs.
//
// Logging is advisory: a failure to record a run or task must never
// abort the pipeline, so every write degrades to a logged warning.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut/canonjson"
	"github.com/argus-sec/argonaut/datastore"
)

// Run statuses.
const (
	RunRunning   = `RUNNING`
	RunSucceeded = `SUCCEEDED`
	RunFailed    = `FAILED`
	RunCancelled = `CANCELLED`
)

// Truncation budgets for task bodies.
const (
	MaxMessageBytes = 10 << 10
	MaxStackBytes   = 20 << 10
	MaxParamsBytes  = 50 << 10
)

// Run is the header document for one pipeline execution, upserted from
// RUNNING to a terminal status.
type Run struct {
	RunID      string         `json:"runId"`
	Repo       string         `json:"repo"`
	BuildID    string         `json:"buildId"`
	Status     string         `json:"status"`
	StartedAt  int64          `json:"startedAt"`
	FinishedAt *int64         `json:"finishedAt,omitempty"`
	Counts     map[string]int `json:"counts,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// Task is one per-stage event document.
type Task struct {
	TaskID    string `json:"taskId"`
	RunID     string `json:"runId"`
	Stage     string `json:"stage"`
	TaskKey   string `json:"taskKey"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Stack     string `json:"stack,omitempty"`
	Params    any    `json:"params,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Logger writes run and task documents through the store.
type Logger struct {
	store datastore.Client
}

// New returns a logger over c.
func New(c datastore.Client) *Logger {
	return &Logger{store: c}
}

// WriteRun upserts a run header. Errors are absorbed.
func (l *Logger) WriteRun(ctx context.Context, run Run) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "runlog/Logger.WriteRun",
		"runId", run.RunID)
	doc, err := datastore.ToDocument(run)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("dropping run header")
		return
	}
	l.write(ctx, datastore.IndexRuns, doc)
}

// WriteTask records a task event. The body is truncated to budget and
// errors are absorbed.
func (l *Logger) WriteTask(ctx context.Context, task Task) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "runlog/Logger.WriteTask",
		"runId", task.RunID,
		"stage", task.Stage)
	task.Message = truncate(task.Message, MaxMessageBytes)
	task.Stack = truncate(task.Stack, MaxStackBytes)
	task.Params = capParams(task.Params)
	if task.TaskID == "" {
		id, err := canonjson.TaskID(task.RunID, task.Stage, task.TaskKey)
		if err != nil {
			zlog.Warn(ctx).Err(err).Msg("dropping task log")
			return
		}
		task.TaskID = id
	}
	doc, err := datastore.ToDocument(task)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("dropping task log")
		return
	}
	l.write(ctx, datastore.IndexTaskLogs, doc)
}

func (l *Logger) write(ctx context.Context, idx datastore.Index, doc datastore.Document) {
	w, err := datastore.NewWriter(l.store, idx)
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("log write skipped")
		return
	}
	report, err := w.Write(ctx, []datastore.Document{doc})
	if err != nil {
		zlog.Warn(ctx).Err(err).Msg("log write failed")
		return
	}
	if report.Failed > 0 {
		zlog.Warn(ctx).Str("reason", report.Messages()).Msg("log document rejected")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// CapParams replaces an oversized params object with a placeholder
// naming its serialized size.
func capParams(params any) any {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("[unserializable params: %v]", err)
	}
	if len(raw) > MaxParamsBytes {
		return fmt.Sprintf("[params truncated: %d bytes]", len(raw))
	}
	return params
}

// NormalizeTimestamp coerces any timestamp-like value to epoch
// milliseconds. It never fails: unrecognized input maps to 0.
//
// Accepted shapes: [time.Time], epoch seconds or milliseconds as any
// integer or float type, numeric strings in either unit, and RFC 3339
// strings. The seconds/milliseconds split is at 1e12: values below are
// read as seconds.
func NormalizeTimestamp(v any) int64 {
	const msThreshold = 1_000_000_000_000
	toMs := func(n float64) int64 {
		if n < 0 {
			return 0
		}
		if n < msThreshold {
			return int64(n * 1000)
		}
		return int64(n)
	}
	switch t := v.(type) {
	case nil:
		return 0
	case time.Time:
		return t.UnixMilli()
	case int:
		return toMs(float64(t))
	case int64:
		return toMs(float64(t))
	case float64:
		return toMs(t)
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return toMs(f)
		}
		return 0
	case string:
		if ts, err := time.Parse(time.RFC3339, t); err == nil {
			return ts.UnixMilli()
		}
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts.UnixMilli()
		}
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err == nil {
			return toMs(f)
		}
		return 0
	}
	return 0
}
