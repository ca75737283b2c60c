package argonaut

// Scope classifies a dependency edge.
const (
	ScopeRuntime  = `runtime`
	ScopeDev      = `dev`
	ScopeOptional = `optional`
)

// DependencyEdge is one parent→child edge of a build's dependency
// graph, as recorded by a lockfile.
//
// Identity: DependencyID = hash({repo, buildId, parent, child, version,
// scope}). Parent [RootPackage] denotes the application entry; Version
// is null only for unresolved entries.
type DependencyEdge struct {
	Repo         string  `json:"repo"`
	BuildID      string  `json:"buildId"`
	RunID        string  `json:"runId,omitempty"`
	Parent       string  `json:"parent"`
	Child        string  `json:"child"`
	Version      *string `json:"version"`
	Scope        string  `json:"scope"`
	DependencyID string  `json:"dependencyId"`
}
