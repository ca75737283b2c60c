package datastore

import "sort"

// Index names one typed document collection.
type Index string

// The fixed index set. One index per entity type; names are frozen per
// release alongside the mapping contracts.
const (
	IndexArtifacts      = Index(`artifacts`)
	IndexFindings       = Index(`findings`)
	IndexDependencies   = Index(`dependencies`)
	IndexSBOMComponents = Index(`sbom-components`)
	IndexReachability   = Index(`reachability`)
	IndexThreatIntel    = Index(`threat-intel`)
	IndexActions        = Index(`actions`)
	IndexRuns           = Index(`runs`)
	IndexTaskLogs       = Index(`task-logs`)
)

// idFields maps each index to its document key field. Every stored
// document carries its own ID in this field; the writer enforces
// body[idField] == indexKey.
var idFields = map[Index]string{
	IndexArtifacts:      "artifactId",
	IndexFindings:       "findingId",
	IndexDependencies:   "dependencyId",
	IndexSBOMComponents: "componentId",
	IndexReachability:   "reachabilityId",
	IndexThreatIntel:    "intelId",
	IndexActions:        "actionId",
	IndexRuns:           "runId",
	IndexTaskLogs:       "taskId",
}

// IDField returns the document key field for an index, or "".
func IDField(idx Index) string { return idFields[idx] }

// Indexes returns all known indices in lexicographic order.
func Indexes() []Index {
	out := make([]Index, 0, len(idFields))
	for idx := range idFields {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RunScoped returns the run-ID-bearing indices in lexicographic order.
// Threat intel is keyed by CVE and shared across runs, so run-scoped
// cleanup must never touch it.
func RunScoped() []Index {
	out := make([]Index, 0, len(idFields)-1)
	for idx := range idFields {
		if idx == IndexThreatIntel {
			continue
		}
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
