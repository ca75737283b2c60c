package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/datastore"
)

// MaxSampleBrokenIDs caps the broken-reference sample in an integrity
// report.
const MaxSampleBrokenIDs = 20

// IntegrityReport counts referential-integrity violations. Violations
// are reported, never auto-repaired.
type IntegrityReport struct {
	BrokenReachabilityRefsCount    int      `json:"brokenReachabilityRefsCount"`
	BrokenExplanationRefsCount     int      `json:"brokenExplanationRefsCount"`
	BrokenDependencyBuildRefsCount int      `json:"brokenDependencyBuildRefsCount"`
	SampleBrokenIDs                []string `json:"sampleBrokenIds"`
}

// EnrichResult is the outcome of one enrich run.
type EnrichResult struct {
	Enriched  int             `json:"enriched"`
	Warnings  []string        `json:"warnings,omitempty"`
	Integrity IntegrityReport `json:"integrity"`
}

// Enricher joins stored findings with threat intel and reachability.
type Enricher struct {
	store datastore.Client
}

// NewEnricher returns an enricher over c.
func NewEnricher(c datastore.Client) *Enricher {
	return &Enricher{store: c}
}

// Enrich attaches a context object to every finding of (repo, buildId):
// threat intel joined by uppercase CVE and the winning reachability
// record per finding. When a finding has several reachability
// candidates the lexicographically smallest reachabilityId wins and a
// warning is recorded. The updated findings are written back in full.
func (e *Enricher) Enrich(ctx context.Context, repo, buildID string) (*EnrichResult, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "pipeline/Enricher.Enrich",
		"repo", repo,
		"buildId", buildID)

	findings, err := e.loadFindings(ctx, repo, buildID)
	if err != nil {
		return nil, err
	}
	intel, err := e.store.List(ctx, datastore.IndexThreatIntel)
	if err != nil {
		return nil, err
	}
	reachDocs, err := e.store.List(ctx, datastore.IndexReachability)
	if err != nil {
		return nil, err
	}

	intelByCVE := make(map[string]datastore.Document, len(intel))
	for _, doc := range intel {
		intelByCVE[strings.ToUpper(doc.Str("cve"))] = doc
	}

	// Group reachability candidates per finding; candidates are already
	// ID-sorted by List, so the first one per finding wins.
	reachByFinding := make(map[string][]datastore.Document)
	for _, doc := range reachDocs {
		fid := doc.Str("findingId")
		reachByFinding[fid] = append(reachByFinding[fid], doc)
	}

	res := &EnrichResult{}
	for i := range findings {
		f := &findings[i]
		f.Context = &argonaut.Context{}
		if doc, ok := intelByCVE[strings.ToUpper(f.CVE)]; ok && f.CVE != "" {
			f.Context.Threat = threatContext(doc)
		}
		if cands := reachByFinding[f.FindingID]; len(cands) > 0 {
			if len(cands) > 1 {
				ids := make([]string, len(cands))
				for j, c := range cands {
					ids[j] = c.Str("reachabilityId")
				}
				res.Warnings = append(res.Warnings, fmt.Sprintf(
					"finding %s has %d reachability candidates; chose %s",
					f.FindingID, len(cands), ids[0]))
			}
			f.Context.Reachability = reachabilityContext(cands[0])
		}
		res.Enriched++
	}

	if err := e.writeBack(ctx, findings); err != nil {
		return nil, err
	}

	integrity, err := e.checkIntegrity(ctx, findings, reachDocs)
	if err != nil {
		return nil, err
	}
	res.Integrity = *integrity
	zlog.Info(ctx).
		Int("enriched", res.Enriched).
		Int("warnings", len(res.Warnings)).
		Msg("enrich finished")
	return res, nil
}

func (e *Enricher) loadFindings(ctx context.Context, repo, buildID string) ([]argonaut.Finding, error) {
	docs, err := e.store.List(ctx, datastore.IndexFindings)
	if err != nil {
		return nil, err
	}
	var out []argonaut.Finding
	for _, doc := range docs {
		if doc.Str("repo") != repo || doc.Str("buildId") != buildID {
			continue
		}
		var f argonaut.Finding
		if err := redecode(doc, &f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (e *Enricher) writeBack(ctx context.Context, findings []argonaut.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	docs, err := toDocuments(findings)
	if err != nil {
		return err
	}
	w, err := datastore.NewWriter(e.store, datastore.IndexFindings)
	if err != nil {
		return err
	}
	report, err := w.Write(ctx, docs)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return &argonaut.Error{
			Op:      "pipeline.Enrich",
			Kind:    argonaut.ErrBulkItemFailed,
			Message: report.Messages(),
		}
	}
	return nil
}

// CheckIntegrity counts broken references across the whole store:
// reachability records naming absent findings, inline explanations
// naming the wrong finding, and dependency edges whose (repo, buildId)
// has no artifact.
func (e *Enricher) checkIntegrity(ctx context.Context, findings []argonaut.Finding, reachDocs []datastore.Document) (*IntegrityReport, error) {
	rep := &IntegrityReport{SampleBrokenIDs: []string{}}
	broken := map[string]struct{}{}

	allFindings, err := e.store.List(ctx, datastore.IndexFindings)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(allFindings))
	for _, doc := range allFindings {
		known[doc.Str("findingId")] = struct{}{}
	}
	for _, doc := range reachDocs {
		if _, ok := known[doc.Str("findingId")]; !ok {
			rep.BrokenReachabilityRefsCount++
			broken[doc.Str("reachabilityId")] = struct{}{}
		}
	}

	for _, doc := range allFindings {
		expl, ok := doc["priorityExplanation"].(map[string]any)
		if !ok {
			continue
		}
		ref, _ := expl["findingId"].(string)
		if ref != "" && ref != doc.Str("findingId") {
			rep.BrokenExplanationRefsCount++
			broken[doc.Str("findingId")] = struct{}{}
		}
	}

	artifacts, err := e.store.List(ctx, datastore.IndexArtifacts)
	if err != nil {
		return nil, err
	}
	builds := make(map[string]struct{}, len(artifacts))
	for _, doc := range artifacts {
		builds[doc.Str("repo")+"\x00"+doc.Str("buildId")] = struct{}{}
	}
	deps, err := e.store.List(ctx, datastore.IndexDependencies)
	if err != nil {
		return nil, err
	}
	for _, doc := range deps {
		if _, ok := builds[doc.Str("repo")+"\x00"+doc.Str("buildId")]; !ok {
			rep.BrokenDependencyBuildRefsCount++
			broken[doc.Str("dependencyId")] = struct{}{}
		}
	}

	for id := range broken {
		if id != "" {
			rep.SampleBrokenIDs = append(rep.SampleBrokenIDs, id)
		}
	}
	sort.Strings(rep.SampleBrokenIDs)
	if len(rep.SampleBrokenIDs) > MaxSampleBrokenIDs {
		rep.SampleBrokenIDs = rep.SampleBrokenIDs[:MaxSampleBrokenIDs]
	}
	return rep, nil
}

func threatContext(doc datastore.Document) *argonaut.ThreatContext {
	tc := &argonaut.ThreatContext{
		CVE:    doc.Str("cve"),
		Source: doc.Str("source"),
	}
	if kev, ok := doc["kev"].(bool); ok {
		tc.KEV = kev
	}
	if n, ok := doc["epss"].(json.Number); ok {
		if v, err := n.Float64(); err == nil {
			tc.EPSS = &v
		}
	}
	return tc
}

func reachabilityContext(doc datastore.Document) *argonaut.ReachabilityContext {
	rc := &argonaut.ReachabilityContext{
		Method:          doc.Str("method"),
		Status:          doc.Str("status"),
		Reason:          doc.Str("reason"),
		EvidencePath:    doc.Strs("evidencePath"),
		AnalysisVersion: doc.Str("analysisVersion"),
	}
	if b, ok := doc["reachable"].(bool); ok {
		rc.Reachable = b
	}
	if n, ok := doc["confidenceScore"].(json.Number); ok {
		if v, err := n.Float64(); err == nil {
			rc.ConfidenceScore = v
		}
	}
	return rc
}

// Redecode converts a generic document back into its typed struct.
func redecode(doc datastore.Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
