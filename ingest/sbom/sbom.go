// Package sbom parses CycloneDX and SPDX JSON documents into SBOM
// components.
//
// A component carries a purl whenever the document declares a valid
// one; purls are re-serialized through the parser so equivalent
// spellings converge on one identity.
package sbom

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/package-url/packageurl-go"
	"github.com/quay/zlog"
	spdxjson "github.com/spdx/tools-golang/json"
	"github.com/spdx/tools-golang/spdx/v2/v2_3"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// Options parameterize a parse.
type Options struct {
	Repo    string
	BuildID string
	RunID   string
}

// Format is a recognized SBOM document format.
type Format string

const (
	FormatCycloneDX Format = `cyclonedx`
	FormatSPDX      Format = `spdx`
	FormatUnknown   Format = ``
)

// DetectFormat sniffs the document format from top-level markers.
func DetectFormat(data []byte) Format {
	var probe struct {
		BOMFormat   string `json:"bomFormat"`
		SPDXVersion string `json:"spdxVersion"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return FormatUnknown
	}
	switch {
	case probe.BOMFormat == "CycloneDX":
		return FormatCycloneDX
	case probe.SPDXVersion != "":
		return FormatSPDX
	}
	return FormatUnknown
}

// Parse decodes an SBOM document into components, sorted by component
// ID. Components the document repeats collapse to one entry.
func Parse(ctx context.Context, data []byte, opts Options) ([]argonaut.Component, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "ingest/sbom/Parse")
	var (
		out []argonaut.Component
		err error
	)
	switch f := DetectFormat(data); f {
	case FormatCycloneDX:
		out, err = parseCycloneDX(ctx, data, opts)
	case FormatSPDX:
		out, err = parseSPDX(ctx, data, opts)
	default:
		return nil, &argonaut.Error{
			Op:      "sbom.Parse",
			Kind:    argonaut.ErrUnsupportedVersion,
			Message: "document is neither CycloneDX nor SPDX JSON",
		}
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(out))
	dedup := out[:0]
	for _, c := range out {
		if _, dup := seen[c.ComponentID]; dup {
			continue
		}
		seen[c.ComponentID] = struct{}{}
		dedup = append(dedup, c)
	}
	sort.Slice(dedup, func(i, j int) bool { return dedup[i].ComponentID < dedup[j].ComponentID })
	zlog.Debug(ctx).Int("components", len(dedup)).Msg("parsed SBOM")
	return dedup, nil
}

type cyclonedx struct {
	BOMFormat   string `json:"bomFormat"`
	SpecVersion string `json:"specVersion"`
	Components  []struct {
		Type    string `json:"type"`
		Name    string `json:"name"`
		Version string `json:"version"`
		PURL    string `json:"purl"`
		Scope   string `json:"scope"`
	} `json:"components"`
}

func parseCycloneDX(ctx context.Context, data []byte, opts Options) ([]argonaut.Component, error) {
	var doc cyclonedx
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &argonaut.Error{
			Op:      "sbom.Parse",
			Kind:    argonaut.ErrMalformedJSON,
			Message: "CycloneDX document is not valid JSON",
			Inner:   err,
		}
	}
	out := make([]argonaut.Component, 0, len(doc.Components))
	for _, c := range doc.Components {
		if c.Name == "" && c.PURL == "" {
			continue
		}
		comp, err := newComponent(ctx, opts, c.PURL, c.Name, c.Version, c.Scope)
		if err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	return out, nil
}

func parseSPDX(ctx context.Context, data []byte, opts Options) ([]argonaut.Component, error) {
	doc, err := spdxjson.Read(bytes.NewReader(data))
	if err != nil {
		return nil, &argonaut.Error{
			Op:      "sbom.Parse",
			Kind:    argonaut.ErrMalformedJSON,
			Message: "SPDX document failed to decode",
			Inner:   err,
		}
	}
	var pkgs []*v2_3.Package
	if doc != nil {
		pkgs = doc.Packages
	}
	out := make([]argonaut.Component, 0, len(pkgs))
	for _, pkg := range pkgs {
		if pkg == nil {
			continue
		}
		var purl string
		for _, ref := range pkg.PackageExternalReferences {
			if ref.RefType == "purl" {
				purl = ref.Locator
				break
			}
		}
		if pkg.PackageName == "" && purl == "" {
			continue
		}
		comp, err := newComponent(ctx, opts, purl, pkg.PackageName, pkg.PackageVersion, "")
		if err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	return out, nil
}

func newComponent(ctx context.Context, opts Options, purl, name, version, scope string) (argonaut.Component, error) {
	if purl != "" {
		pu, err := packageurl.FromString(purl)
		if err != nil {
			// An unparseable purl degrades to name+version identity
			// instead of poisoning the whole document.
			zlog.Debug(ctx).
				Str("purl", purl).
				Err(err).
				Msg("unparseable purl, falling back to name+version")
			purl = ""
		} else {
			purl = pu.ToString()
			if name == "" {
				name = pu.Name
			}
			if version == "" {
				version = pu.Version
			}
		}
	}
	id, err := canonjson.ComponentID(opts.Repo, opts.BuildID, purl, name, version)
	if err != nil {
		return argonaut.Component{}, err
	}
	return argonaut.Component{
		Repo:        opts.Repo,
		BuildID:     opts.BuildID,
		RunID:       opts.RunID,
		PURL:        purl,
		Name:        name,
		Version:     version,
		Scope:       scope,
		ComponentID: id,
	}, nil
}
