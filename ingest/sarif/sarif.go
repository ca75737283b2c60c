// Package sarif parses SARIF 2.1.0 logs into normalized findings.
//
// Only the subset of the envelope that findings are derived from is
// modeled; everything else in a log is ignored.
package sarif

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// SupportedVersion is the only SARIF version the parser accepts. Logs
// with any other version decode to the empty finding list.
const SupportedVersion = `2.1.0`

// CVEScan finds CVE identifiers embedded in rule IDs and messages.
var cveScan = regexp.MustCompile(`CVE-\d{4}-\d{4,}`)

type log struct {
	Version string `json:"version"`
	Runs    []run  `json:"runs"`
}

type run struct {
	Tool struct {
		Driver struct {
			Name string `json:"name"`
		} `json:"driver"`
	} `json:"tool"`
	Results []result `json:"results"`
}

type result struct {
	RuleID  string `json:"ruleId"`
	Level   string `json:"level"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	Locations []struct {
		PhysicalLocation struct {
			ArtifactLocation struct {
				URI string `json:"uri"`
			} `json:"artifactLocation"`
			Region struct {
				StartLine *int `json:"startLine"`
			} `json:"region"`
		} `json:"physicalLocation"`
	} `json:"locations"`
	Properties struct {
		Severity string   `json:"severity"`
		CVE      string   `json:"cve"`
		CVEs     []string `json:"cves"`
		Package  string   `json:"package"`
		Version  string   `json:"version"`
	} `json:"properties"`
}

// Options parameterize a parse.
type Options struct {
	Repo    string
	BuildID string
	RunID   string
	// DefaultFilePath substitutes for results without a physical
	// location path.
	DefaultFilePath string
	// CreatedAt is stamped onto findings; it never participates in
	// fingerprints or IDs.
	CreatedAt string
}

// Parse decodes a SARIF log and emits one finding per result.
//
// Identical bytes in produce an identical finding sequence out.
func Parse(ctx context.Context, data []byte, opts Options) ([]argonaut.Finding, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "ingest/sarif/Parse")

	var doc log
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &argonaut.Error{
			Op:      "sarif.Parse",
			Kind:    argonaut.ErrMalformedJSON,
			Message: "SARIF log is not valid JSON",
			Inner:   err,
		}
	}
	if doc.Version != SupportedVersion {
		zlog.Debug(ctx).
			Str("version", doc.Version).
			Msg("unsupported SARIF version, emitting nothing")
		return []argonaut.Finding{}, nil
	}

	var out []argonaut.Finding
	for _, r := range doc.Runs {
		tool := r.Tool.Driver.Name
		for _, res := range r.Results {
			f, err := normalize(res, tool, opts)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	}
	if out == nil {
		out = []argonaut.Finding{}
	}
	return out, nil
}

func normalize(res result, tool string, opts Options) (argonaut.Finding, error) {
	severity := res.Properties.Severity
	if severity == "" {
		severity = argonaut.ParseSeverity(res.Level).String()
	}
	severity = strings.ToUpper(severity)

	filePath := opts.DefaultFilePath
	var line *int
	if len(res.Locations) > 0 {
		loc := res.Locations[0].PhysicalLocation
		if loc.ArtifactLocation.URI != "" {
			filePath = loc.ArtifactLocation.URI
		}
		line = loc.Region.StartLine
	}

	cves := collectCVEs(res)
	var first string
	if len(cves) > 0 {
		first = cves[0]
	}

	fingerprint, err := canonjson.Fingerprint(res.RuleID, filePath, line, res.Properties.Package, res.Properties.Version)
	if err != nil {
		return argonaut.Finding{}, err
	}
	id, err := canonjson.FindingID(opts.Repo, opts.BuildID, fingerprint)
	if err != nil {
		return argonaut.Finding{}, err
	}
	return argonaut.Finding{
		Repo:        opts.Repo,
		BuildID:     opts.BuildID,
		RunID:       opts.RunID,
		RuleID:      res.RuleID,
		Severity:    severity,
		CVE:         first,
		CVEs:        cves,
		Package:     res.Properties.Package,
		Version:     res.Properties.Version,
		FilePath:    filePath,
		LineNumber:  line,
		Tool:        tool,
		Fingerprint: fingerprint,
		CreatedAt:   opts.CreatedAt,
		FindingID:   id,
	}, nil
}

// CollectCVEs gathers identifiers from the declared properties and from
// text scans of the rule ID and message, then dedups and sorts.
func collectCVEs(res result) []string {
	set := make(map[string]struct{})
	add := func(s string) {
		s = strings.ToUpper(strings.TrimSpace(s))
		if argonaut.CVERegexp.MatchString(s) {
			set[s] = struct{}{}
		}
	}
	add(res.Properties.CVE)
	for _, c := range res.Properties.CVEs {
		add(c)
	}
	for _, text := range []string{res.RuleID, res.Message.Text} {
		for _, m := range cveScan.FindAllString(text, -1) {
			add(m)
		}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
