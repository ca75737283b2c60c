package libargus

import (
	"fmt"
	"sort"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/datastore"
)

// Access modes.
const (
	AccessReadOnly      = `READ_ONLY`
	AccessPipelineWrite = `PIPELINE_WRITE`
	AccessActionWrite   = `ACTION_WRITE`
)

// Write policies.
const (
	WriteNone         = `NONE`
	WriteEpicPipeline = `EPIC_PIPELINE_ONLY`
	WriteActionsOnly  = `ACTIONS_ONLY`
)

// ToolSchema declares a workflow tool: its access posture, the indices
// it may touch, how its output is ordered, and the JSON envelope every
// invocation produces.
type ToolSchema struct {
	Name         string            `json:"name"`
	AccessMode   string            `json:"accessMode"`
	WritePolicy  string            `json:"writePolicy"`
	ReadIndices  []datastore.Index `json:"readIndices"`
	WriteIndices []datastore.Index `json:"writeIndices"`
	SortKeys     []string          `json:"sortKeys"`
	Input        map[string]any    `json:"input"`
	Output       map[string]any    `json:"output"`
}

// Envelope is the shared output schema: every tool returns
// {status, errors[], meta{repo,buildId,runId,startedAt,finishedAt}, data}.
func envelope(data map[string]any) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"status": map[string]any{"type": "string", "enum": []string{"SUCCESS", "FAILED"}},
			"errors": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"meta": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"repo":       map[string]any{"type": "string"},
					"buildId":    map[string]any{"type": "string"},
					"runId":      map[string]any{"type": "string"},
					"startedAt":  map[string]any{"type": "integer"},
					"finishedAt": map[string]any{"type": "integer"},
				},
				"required": []string{"repo", "buildId", "runId"},
			},
			"data": map[string]any{"type": "object", "properties": data},
		},
		"required": []string{"status", "errors", "meta"},
	}
}

func coords(extra map[string]any) map[string]any {
	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"repo":    map[string]any{"type": "string"},
			"buildId": map[string]any{"type": "string"},
			"runId":   map[string]any{"type": "string"},
		},
		"required": []string{"repo", "buildId"},
	}
	for k, v := range extra {
		in["properties"].(map[string]any)[k] = v
	}
	return in
}

// Tools returns the closed tool set, sorted by name.
func Tools() []ToolSchema {
	pipelineIndices := []datastore.Index{
		datastore.IndexArtifacts,
		datastore.IndexDependencies,
		datastore.IndexFindings,
		datastore.IndexReachability,
		datastore.IndexSBOMComponents,
		datastore.IndexThreatIntel,
	}
	tools := []ToolSchema{
		{
			Name:         "acquire",
			AccessMode:   AccessPipelineWrite,
			WritePolicy:  WriteEpicPipeline,
			ReadIndices:  []datastore.Index{datastore.IndexArtifacts},
			WriteIndices: pipelineIndices,
			SortKeys:     []string{"stage"},
			Input: coords(map[string]any{
				"bundleDir": map[string]any{"type": "string"},
			}),
			Output: envelope(map[string]any{
				"bundleId": map[string]any{"type": "string"},
				"stages":   map[string]any{"type": "array"},
			}),
		},
		{
			Name:        "enrich",
			AccessMode:  AccessPipelineWrite,
			WritePolicy: WriteEpicPipeline,
			ReadIndices: []datastore.Index{
				datastore.IndexFindings,
				datastore.IndexReachability,
				datastore.IndexThreatIntel,
				datastore.IndexDependencies,
				datastore.IndexArtifacts,
			},
			WriteIndices: []datastore.Index{datastore.IndexFindings},
			SortKeys:     []string{"findingId"},
			Input:        coords(nil),
			Output: envelope(map[string]any{
				"enriched":  map[string]any{"type": "integer"},
				"integrity": map[string]any{"type": "object"},
			}),
		},
		{
			Name:         "score",
			AccessMode:   AccessPipelineWrite,
			WritePolicy:  WriteEpicPipeline,
			ReadIndices:  []datastore.Index{datastore.IndexFindings},
			WriteIndices: []datastore.Index{datastore.IndexFindings},
			SortKeys:     []string{"-priorityScore", "findingId", "repo", "buildId"},
			Input: coords(map[string]any{
				"topN": map[string]any{"type": "integer"},
			}),
			Output: envelope(map[string]any{
				"ranking": map[string]any{"type": "array"},
			}),
		},
		{
			Name:         "jira",
			AccessMode:   AccessActionWrite,
			WritePolicy:  WriteActionsOnly,
			ReadIndices:  []datastore.Index{datastore.IndexFindings, datastore.IndexActions},
			WriteIndices: []datastore.Index{datastore.IndexActions},
			SortKeys:     []string{"actionId"},
			Input: coords(map[string]any{
				"topN":    map[string]any{"type": "integer"},
				"attempt": map[string]any{"type": "integer", "minimum": 1},
				"dryRun":  map[string]any{"type": "boolean"},
			}),
			Output: envelope(map[string]any{
				"results": map[string]any{"type": "array"},
			}),
		},
		{
			Name:         "slack",
			AccessMode:   AccessActionWrite,
			WritePolicy:  WriteActionsOnly,
			ReadIndices:  []datastore.Index{datastore.IndexFindings, datastore.IndexActions},
			WriteIndices: []datastore.Index{datastore.IndexActions},
			SortKeys:     []string{"actionId"},
			Input: coords(map[string]any{
				"topN":    map[string]any{"type": "integer"},
				"attempt": map[string]any{"type": "integer", "minimum": 1},
				"dryRun":  map[string]any{"type": "boolean"},
			}),
			Output: envelope(map[string]any{
				"results": map[string]any{"type": "array"},
			}),
		},
		{
			Name:        "search",
			AccessMode:  AccessReadOnly,
			WritePolicy: WriteNone,
			ReadIndices: datastore.Indexes(),
			SortKeys:    []string{"_id"},
			Input: coords(map[string]any{
				"index": map[string]any{"type": "string"},
				"id":    map[string]any{"type": "string"},
			}),
			Output: envelope(map[string]any{
				"docs": map[string]any{"type": "array"},
			}),
		},
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// ValidateTools checks every schema against the access cross-rules and
// returns the failures sorted. A non-empty return is an
// E_TOOL_SCHEMA_INVALID condition.
func ValidateTools(tools []ToolSchema) []string {
	var failures []string
	fail := func(tool, format string, args ...any) {
		failures = append(failures, fmt.Sprintf("%s: %s", tool, fmt.Sprintf(format, args...)))
	}
	for _, t := range tools {
		switch t.AccessMode {
		case AccessReadOnly:
			if t.WritePolicy != WriteNone {
				fail(t.Name, "READ_ONLY requires writePolicy NONE, got %s", t.WritePolicy)
			}
			if len(t.WriteIndices) != 0 {
				fail(t.Name, "READ_ONLY forbids write indices, got %v", t.WriteIndices)
			}
		case AccessActionWrite:
			if t.WritePolicy != WriteActionsOnly {
				fail(t.Name, "ACTION_WRITE requires writePolicy ACTIONS_ONLY, got %s", t.WritePolicy)
			}
			for _, idx := range t.WriteIndices {
				if idx != datastore.IndexActions {
					fail(t.Name, "ACTION_WRITE may only write the actions index, got %s", idx)
				}
			}
		case AccessPipelineWrite:
			if t.WritePolicy != WriteEpicPipeline {
				fail(t.Name, "PIPELINE_WRITE requires writePolicy EPIC_PIPELINE_ONLY, got %s", t.WritePolicy)
			}
			for _, idx := range t.WriteIndices {
				if idx == datastore.IndexActions {
					fail(t.Name, "PIPELINE_WRITE must not write the actions index")
				}
			}
		default:
			fail(t.Name, "unknown accessMode %q", t.AccessMode)
		}
		if len(t.SortKeys) == 0 {
			fail(t.Name, "missing deterministic sort keys")
		}
		if t.Input == nil || t.Output == nil {
			fail(t.Name, "missing input or output schema")
		}
	}
	sort.Strings(failures)
	return failures
}

// PreflightTools validates the built-in tool set, returning a typed
// error naming every violation.
func PreflightTools() error {
	failures := ValidateTools(Tools())
	if len(failures) == 0 {
		return nil
	}
	return &argonaut.Error{
		Op:      "libargus.PreflightTools",
		Kind:    argonaut.ErrToolSchemaInvalid,
		Message: fmt.Sprintf("%d tool schema violations: %v", len(failures), failures),
	}
}
