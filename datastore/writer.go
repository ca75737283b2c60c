package datastore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// Failure is one per-document validation or bulk failure.
type Failure struct {
	Index   Index  `json:"index"`
	ID      string `json:"id,omitempty"`
	Pos     int    `json:"pos"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriterReport is the outcome of one Writer.Write call.
type WriterReport struct {
	Attempted   int       `json:"attempted"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	Retries     int       `json:"retries"`
	UpsertedIDs []string  `json:"upsertedIds"`
	Failures    []Failure `json:"failures"`
}

// Messages joins failure messages for stage-level error reporting.
func (r *WriterReport) Messages() string {
	if len(r.Failures) == 0 {
		return ""
	}
	msgs := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		msgs[i] = fmt.Sprintf("%s: %s", f.Code, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// Writer owns writes to a single index within a pipeline run.
//
// Write validates every document (required ID, recomputed identity,
// index-specific required fields), skips the bulk call entirely when
// nothing validates, and maps per-item bulk errors back to input
// positions. Reruns are idempotent: identical input produces identical
// bytes at identical keys, fully replacing the stored document.
type Writer struct {
	client Client
	index  Index
}

// NewWriter returns a writer bound to idx.
func NewWriter(c Client, idx Index) (*Writer, error) {
	if IDField(idx) == "" {
		return nil, fmt.Errorf("datastore: unknown index %q", idx)
	}
	return &Writer{client: c, index: idx}, nil
}

// Write validates and bulk-upserts docs.
func (w *Writer) Write(ctx context.Context, docs []Document) (*WriterReport, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "datastore/Writer.Write",
		"index", string(w.index))
	report := &WriterReport{Attempted: len(docs)}
	idField := IDField(w.index)

	type valid struct {
		pos int
		doc Document
	}
	ok := make([]valid, 0, len(docs))
	for pos, doc := range docs {
		id := doc.Str(idField)
		if id == "" {
			report.Failures = append(report.Failures, Failure{
				Index: w.index, Pos: pos,
				Code:    string(argonaut.ErrMissingRequiredID),
				Message: fmt.Sprintf("document %d missing %s", pos, idField),
			})
			continue
		}
		expect, err := expectedID(w.index, doc)
		if err != nil {
			report.Failures = append(report.Failures, Failure{
				Index: w.index, ID: id, Pos: pos,
				Code:    string(argonaut.ErrMissingRequiredField),
				Message: err.Error(),
			})
			continue
		}
		if expect != id {
			report.Failures = append(report.Failures, Failure{
				Index: w.index, ID: id, Pos: pos,
				Code:    string(argonaut.ErrIDMismatch),
				Message: fmt.Sprintf("%s %q does not match computed identity %q", idField, id, expect),
			})
			continue
		}
		if err := validateRequired(w.index, doc); err != nil {
			report.Failures = append(report.Failures, Failure{
				Index: w.index, ID: id, Pos: pos,
				Code:    string(argonaut.ErrMissingRequiredField),
				Message: err.Error(),
			})
			continue
		}
		ok = append(ok, valid{pos: pos, doc: doc})
	}

	report.Failed = len(report.Failures)
	if len(ok) == 0 {
		// All documents failed pre-validation; no bulk call is issued.
		zlog.Debug(ctx).
			Int("attempted", report.Attempted).
			Msg("nothing to write")
		return report, nil
	}

	send := make([]Document, len(ok))
	pos := make(map[string]int, len(ok))
	for i, v := range ok {
		send[i] = v.doc
		pos[v.doc.Str(idField)] = v.pos
	}
	bulk, err := w.client.BulkUpsert(ctx, w.index, send, BulkOptions{})
	if err != nil {
		return report, err
	}
	report.Retries = bulk.Retries
	// The client pre-sorts; items are positional against the sorted
	// order, and every item carries its ID, so map by ID.
	for _, item := range bulk.Items {
		if item.OK() {
			report.Succeeded++
			report.UpsertedIDs = append(report.UpsertedIDs, item.ID)
			continue
		}
		report.Failed++
		report.Failures = append(report.Failures, Failure{
			Index: w.index, ID: item.ID, Pos: pos[item.ID],
			Code:    string(argonaut.ErrBulkItemFailed),
			Message: fmt.Sprintf("bulk item %q failed with status %d: %s", item.ID, item.Status, item.Error),
		})
	}
	sort.Strings(report.UpsertedIDs)
	zlog.Debug(ctx).
		Int("attempted", report.Attempted).
		Int("succeeded", report.Succeeded).
		Int("failed", report.Failed).
		Msg("write finished")
	return report, nil
}

// ExpectedID recomputes a document's identity from its defining fields.
func expectedID(idx Index, doc Document) (string, error) {
	switch idx {
	case IndexFindings:
		return canonjson.FindingID(doc.Str("repo"), doc.Str("buildId"), doc.Str("fingerprint"))
	case IndexDependencies:
		return canonjson.DependencyID(
			doc.Str("repo"), doc.Str("buildId"),
			doc.Str("parent"), doc.Str("child"),
			doc.StrPtr("version"), doc.Str("scope"),
		)
	case IndexSBOMComponents:
		return canonjson.ComponentID(
			doc.Str("repo"), doc.Str("buildId"),
			doc.Str("purl"), doc.Str("name"), doc.Str("version"),
		)
	case IndexReachability:
		return canonjson.ReachabilityID(
			doc.Str("findingId"),
			doc.Str("package"), doc.Str("version"),
			doc.Str("inputsHash"), doc.Str("analysisVersion"),
		)
	case IndexThreatIntel:
		cve := doc.Str("cve")
		if !argonaut.CVERegexp.MatchString(cve) {
			return "", fmt.Errorf("cve %q is not a normalized CVE identifier", cve)
		}
		return cve, nil
	case IndexActions:
		key := doc.Str("idempotencyKey")
		if key == "" {
			return "", fmt.Errorf("action missing idempotencyKey")
		}
		return key, nil
	case IndexArtifacts:
		if doc.Str("kind") == "bundle_run" {
			return canonjson.BundleRunID(doc.Str("repo"), doc.Str("buildId"), doc.Str("runId"), doc.Str("status"))
		}
		return canonjson.ArtifactID(
			doc.Str("repo"), doc.Str("buildId"), doc.Str("runId"),
			doc.Str("filename"), doc.Str("checksum"),
		)
	case IndexRuns:
		// Run identity is externally assigned.
		return doc.Str("runId"), nil
	case IndexTaskLogs:
		return canonjson.TaskID(doc.Str("runId"), doc.Str("stage"), doc.Str("taskKey"))
	}
	return "", fmt.Errorf("datastore: unknown index %q", idx)
}

// ValidateRequired enforces index-specific required fields beyond the
// identity fields.
func validateRequired(idx Index, doc Document) error {
	switch idx {
	case IndexActions:
		if doc.Str("payloadHash") == "" {
			return fmt.Errorf("action missing payloadHash")
		}
		if doc.Str("templateVersion") == "" {
			return fmt.Errorf("action missing templateVersion")
		}
		attempt, ok := doc.Int("attempt")
		if !ok || attempt <= 0 {
			return fmt.Errorf("action attempt must be a positive integer")
		}
		if doc.Str("type") == argonaut.ActionChatSummary {
			ids := doc.Strs("findingIds")
			if ids == nil {
				return fmt.Errorf("summary action missing findingIds")
			}
			if !sort.StringsAreSorted(ids) {
				return fmt.Errorf("summary action findingIds must be sorted ascending")
			}
		}
	case IndexThreatIntel:
		if cve := doc.Str("cve"); cve != strings.ToUpper(cve) {
			return fmt.Errorf("cve %q must be uppercase", cve)
		}
	}
	return nil
}
