package argonaut

// Reachability statuses.
const (
	StatusReachable        = `REACHABLE`
	StatusInsufficientData = `INSUFFICIENT_DATA`
)

// Reachability is the deterministic decision about whether a vulnerable
// package is used via a path from the application root.
//
// Identity: ReachabilityID = hash({findingId, analysis inputs,
// analysisVersion}); AnalysisVersion is part of identity so re-analysis
// under a new contract produces new documents. When multiple candidates
// exist for one finding, the lexicographically smallest ReachabilityID
// is the valid representative.
type Reachability struct {
	ReachabilityID string `json:"reachabilityId"`
	FindingID      string `json:"findingId"`
	RunID          string `json:"runId,omitempty"`
	// Package, Version, and InputsHash record the analysis inputs: the
	// target coordinates and a hash over the sorted dependency IDs the
	// engine walked. They participate in ReachabilityID so the writer
	// can recompute identity from the document alone.
	Package         string   `json:"package"`
	Version         string   `json:"version,omitempty"`
	InputsHash      string   `json:"inputsHash"`
	Reachable       bool     `json:"reachable"`
	ConfidenceScore float64  `json:"confidenceScore"`
	Status          string   `json:"status"`
	Reason          string   `json:"reason"`
	EvidencePath    []string `json:"evidencePath"`
	Method          string   `json:"method"`
	AnalysisVersion string   `json:"analysisVersion"`
	// ComputedAt is derived from a deterministic seed so reruns are
	// byte-identical; the harness strips it anyway.
	ComputedAt string `json:"computedAt"`
}
