package argonaut

// Artifact types recognized by the bundle filename heuristic.
const (
	ArtifactSARIF    = `sarif`
	ArtifactLockfile = `lockfile`
	ArtifactSBOM     = `sbom`
	ArtifactOther    = `other`
)

// Artifact describes one file of a bundle.
//
// Identity: ArtifactID = hash({repo, buildId, runId, filename,
// checksum}). The checksum is the lowercase hex SHA-256 of the file
// bytes as stored (compressed artifacts are hashed compressed).
type Artifact struct {
	ArtifactID   string `json:"artifactId"`
	Repo         string `json:"repo"`
	BuildID      string `json:"buildId"`
	RunID        string `json:"runId"`
	Filename     string `json:"filename"`
	ArtifactType string `json:"artifactType"`
	Tool         string `json:"tool,omitempty"`
	Checksum     string `json:"checksum"`
	Bytes        int64  `json:"bytes"`
	Kind         string `json:"kind,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

// BundleRun is the run record appended to the artifacts index at the
// start (RUNNING) and end (SUCCESS/FAILED) of an acquire.
type BundleRun struct {
	ArtifactID string `json:"artifactId"`
	Repo       string `json:"repo"`
	BuildID    string `json:"buildId"`
	RunID      string `json:"runId"`
	BundleID   string `json:"bundleId"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	CreatedAt  string `json:"createdAt,omitempty"`
}
