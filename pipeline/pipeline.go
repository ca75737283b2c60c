// Package pipeline implements the four run stages: acquire, enrich,
// score, act.
//
// The pipeline is linear per run. Inside a stage, work may be
// parallelized only when the written state is a pure function of the
// inputs, with total ordering reimposed before any write.
package pipeline

// Stage statuses.
const (
	StatusSuccess = `SUCCESS`
	StatusFailure = `FAILURE`
	StatusSkipped = `SKIPPED`
)

// Acquire substages, in execution order.
var AcquireStages = []string{
	"artifacts",
	"dependencies",
	"sbom",
	"findings",
	"reachability",
	"threatIntel",
	"actions",
}

// StageResult is the outcome of one acquire substage.
type StageResult struct {
	Stage   string   `json:"stage"`
	Status  string   `json:"status"`
	Written int      `json:"written"`
	Errors  []string `json:"errors,omitempty"`
}
