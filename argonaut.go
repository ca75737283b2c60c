// Package argonaut holds the domain types shared by the Argonaut
// enrichment pipeline: findings, dependency edges, SBOM components,
// reachability records, threat intel, and dry-run actions.
//
// Every entity is stored as a document under a deterministic,
// content-addressed identifier. The defining fields of each identifier
// are documented on the corresponding type; the canonjson package
// computes them.
package argonaut

// Versions frozen per release. These participate in document identity
// and must only change with a coordinated contract bump.
const (
	// AnalysisVersion is the reachability analysis contract version.
	AnalysisVersion = `1.0`
	// ExplanationVersion is the priority-explanation contract version.
	ExplanationVersion = `1.0`
	// TemplateVersion is the action payload template version.
	TemplateVersion = `1.0`
	// ManifestVersion is the bundle manifest schema version.
	ManifestVersion = `1.0`
	// MappingVersion is pinned in every index mapping's _meta.
	MappingVersion = `1.0`
)

// RootPackage is the virtual parent used for direct dependencies in
// lockfiles and the BFS origin for reachability analysis.
const RootPackage = `__root__`
