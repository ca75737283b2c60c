// Package ingest loads scanner bundles from the filesystem: artifact
// discovery by filename heuristic, checksumming, transparent
// decompression, and the bundle manifest codec.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/quay/zlog"
	"github.com/ulikunitz/xz"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// ManifestFilename is excluded from artifact collection.
const ManifestFilename = `bundle.manifest.json`

// File is one artifact file of a bundle.
type File struct {
	// Name is the basename as stored, compression suffix included.
	Name string
	// Type is the artifact type detected from the decompressed name.
	Type string
	// Checksum is the lowercase hex SHA-256 of the stored bytes; for
	// compressed artifacts that is the compressed stream, keeping
	// checksum identity stable against recompression settings upstream.
	Checksum string
	// Size is the stored byte count.
	Size int64
	// Data is the decompressed content, ready for parsing.
	Data []byte
	// Tool is the producing tool, when the manifest declares one.
	Tool string
}

// Bundle is a loaded bundle directory.
type Bundle struct {
	Dir      string
	Repo     string
	BuildID  string
	BundleID string
	Files    []File
	Manifest *Manifest
}

// DetectType classifies a filename per the recognition heuristic.
// Compression suffixes are stripped first.
func DetectType(name string) string {
	name = strings.ToLower(name)
	for _, suffix := range []string{".gz", ".xz"} {
		name = strings.TrimSuffix(name, suffix)
	}
	switch {
	case strings.HasSuffix(name, ".sarif"), strings.HasSuffix(name, ".sarif.json"):
		return argonaut.ArtifactSARIF
	case name == "package-lock.json", name == "yarn.lock", strings.Contains(name, "lock"):
		return argonaut.ArtifactLockfile
	case strings.Contains(name, "sbom"),
		strings.Contains(name, "cyclonedx"),
		strings.HasSuffix(name, ".cdx.json"),
		strings.HasSuffix(name, ".spdx.json"):
		return argonaut.ArtifactSBOM
	}
	return argonaut.ArtifactOther
}

// Load reads a bundle directory. Files are visited in sorted name
// order; the manifest file, when present, is parsed but excluded from
// artifact collection. The bundle ID is the canonical hash of the
// sorted (filename, checksum) pairs.
func Load(ctx context.Context, dir, repo, buildID string) (*Bundle, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "ingest/Load",
		"dir", dir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: read bundle dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	b := &Bundle{Dir: dir, Repo: repo, BuildID: buildID}
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("ingest: read %q: %w", name, err)
		}
		if name == ManifestFilename {
			m, err := ParseManifest(raw)
			if err != nil {
				return nil, err
			}
			b.Manifest = m
			continue
		}
		sum := sha256.Sum256(raw)
		data, err := decompress(name, raw)
		if err != nil {
			return nil, fmt.Errorf("ingest: decompress %q: %w", name, err)
		}
		b.Files = append(b.Files, File{
			Name:     name,
			Type:     DetectType(name),
			Checksum: hex.EncodeToString(sum[:]),
			Size:     int64(len(raw)),
			Data:     data,
		})
	}
	if b.Manifest != nil {
		tools := make(map[string]string, len(b.Manifest.Artifacts))
		for _, a := range b.Manifest.Artifacts {
			tools[a.Filename] = a.Tool
		}
		for i := range b.Files {
			b.Files[i].Tool = tools[b.Files[i].Name]
		}
	}

	b.BundleID, err = bundleID(b.Files)
	if err != nil {
		return nil, err
	}
	zlog.Debug(ctx).
		Str("bundleId", b.BundleID).
		Int("files", len(b.Files)).
		Msg("bundle loaded")
	return b, nil
}

func decompress(name string, raw []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		r, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case strings.HasSuffix(name, ".xz"):
		r, err := xz.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return io.ReadAll(r)
	}
	return raw, nil
}

func bundleID(files []File) (string, error) {
	pairs := make([]map[string]any, len(files))
	for i, f := range files {
		pairs[i] = map[string]any{"filename": f.Name, "checksum": f.Checksum}
	}
	// Files arrive name-sorted from Load; keep the invariant explicit.
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i]["filename"].(string) < pairs[j]["filename"].(string)
	})
	return canonjson.Sum(pairs)
}

// Artifacts derives the artifact documents for a loaded bundle under a
// run.
func (b *Bundle) Artifacts(runID, createdAt string) ([]argonaut.Artifact, error) {
	out := make([]argonaut.Artifact, 0, len(b.Files))
	for _, f := range b.Files {
		id, err := canonjson.ArtifactID(b.Repo, b.BuildID, runID, f.Name, f.Checksum)
		if err != nil {
			return nil, err
		}
		out = append(out, argonaut.Artifact{
			ArtifactID:   id,
			Repo:         b.Repo,
			BuildID:      b.BuildID,
			RunID:        runID,
			Filename:     f.Name,
			ArtifactType: f.Type,
			Tool:         f.Tool,
			Checksum:     f.Checksum,
			Bytes:        f.Size,
			CreatedAt:    createdAt,
		})
	}
	return out, nil
}

// FilesOfType returns the bundle files matching an artifact type, in
// name order.
func (b *Bundle) FilesOfType(t string) []File {
	var out []File
	for _, f := range b.Files {
		if f.Type == t {
			out = append(out, f)
		}
	}
	return out
}
