package argonaut

// Component is one SBOM entry for a build.
//
// Identity: ComponentID = hash({repo, buildId, purl|name+version}).
// When a purl is present it wins over name+version as the identity
// discriminator.
type Component struct {
	Repo        string `json:"repo"`
	BuildID     string `json:"buildId"`
	RunID       string `json:"runId,omitempty"`
	PURL        string `json:"purl,omitempty"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Scope       string `json:"scope,omitempty"`
	ComponentID string `json:"componentId"`
}
