package ingest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// Manifest is the bundle.manifest.json schema.
type Manifest struct {
	ManifestVersion string             `json:"manifestVersion"`
	BundleID        string             `json:"bundleId"`
	Repo            string             `json:"repo"`
	BuildID         string             `json:"buildId"`
	CreatedAt       string             `json:"createdAt"`
	Artifacts       []ManifestArtifact `json:"artifacts"`
}

// ManifestArtifact is one artifact entry of a manifest.
type ManifestArtifact struct {
	ArtifactID   string `json:"artifactId"`
	ArtifactType string `json:"artifactType"`
	Tool         string `json:"tool,omitempty"`
	Filename     string `json:"filename"`
	ObjectKey    string `json:"objectKey"`
	SHA256       string `json:"sha256"`
	Bytes        int64  `json:"bytes"`
}

// ObjectKey returns the object-store key for a bundle artifact:
// {prefix}/{bundleId}/artifacts/{filename}.
func ObjectKey(prefix, bundleID, filename string) string {
	return fmt.Sprintf("%s/%s/artifacts/%s", prefix, bundleID, filename)
}

// ManifestObjectKey returns the object-store key of the manifest
// itself.
func ManifestObjectKey(prefix, bundleID string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, bundleID, ManifestFilename)
}

// ParseManifest decodes and checks a manifest document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, &argonaut.Error{
			Op:      "ingest.ParseManifest",
			Kind:    argonaut.ErrMalformedJSON,
			Message: "manifest is not valid JSON",
			Inner:   err,
		}
	}
	if m.ManifestVersion != argonaut.ManifestVersion {
		return nil, &argonaut.Error{
			Op:      "ingest.ParseManifest",
			Kind:    argonaut.ErrUnsupportedVersion,
			Message: fmt.Sprintf("manifest version %q is not supported", m.ManifestVersion),
		}
	}
	return &m, nil
}

// BuildManifest derives the manifest for a loaded bundle. Artifact
// entries are sorted by sha256 ascending; that order is fixed before
// both hashing and serialization.
func BuildManifest(b *Bundle, runID, prefix, createdAt string) (*Manifest, error) {
	arts := make([]ManifestArtifact, 0, len(b.Files))
	for _, f := range b.Files {
		id, err := canonjson.ArtifactID(b.Repo, b.BuildID, runID, f.Name, f.Checksum)
		if err != nil {
			return nil, err
		}
		arts = append(arts, ManifestArtifact{
			ArtifactID:   id,
			ArtifactType: f.Type,
			Tool:         f.Tool,
			Filename:     f.Name,
			ObjectKey:    ObjectKey(prefix, b.BundleID, f.Name),
			SHA256:       f.Checksum,
			Bytes:        f.Size,
		})
	}
	sort.Slice(arts, func(i, j int) bool { return arts[i].SHA256 < arts[j].SHA256 })
	return &Manifest{
		ManifestVersion: argonaut.ManifestVersion,
		BundleID:        b.BundleID,
		Repo:            b.Repo,
		BuildID:         b.BuildID,
		CreatedAt:       createdAt,
		Artifacts:       arts,
	}, nil
}

// EncodeManifest renders the stable serialization: canonical JSON with
// sorted keys and a trailing newline.
func EncodeManifest(m *Manifest) ([]byte, error) {
	b, err := canonjson.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
