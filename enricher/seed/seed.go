// Package seed normalizes static threat-intel seed lists into intel
// documents keyed by CVE.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
)

// Entry is one raw seed record. CVE casing and whitespace are
// tolerated; everything else about the identifier must already be a
// CVE.
type Entry struct {
	CVE    string   `json:"cve"`
	KEV    bool     `json:"kev"`
	EPSS   *float64 `json:"epss"`
	Source string   `json:"source,omitempty"`
}

// DefaultSource labels intel records whose seed entry carries none.
const DefaultSource = `seed`

// Load normalizes raw entries into intel documents: uppercase CVE,
// intelId == cve, EPSS clamped to [0, 1], sorted by CVE. Duplicate
// CVEs collapse to the last entry, matching upsert behavior.
func Load(ctx context.Context, entries []Entry) ([]argonaut.ThreatIntel, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "enricher/seed/Load")

	byCVE := make(map[string]argonaut.ThreatIntel, len(entries))
	for i, e := range entries {
		cve := strings.ToUpper(strings.TrimSpace(e.CVE))
		if !argonaut.CVERegexp.MatchString(cve) {
			return nil, &argonaut.Error{
				Op:      "seed.Load",
				Kind:    argonaut.ErrInvalidField,
				Message: fmt.Sprintf("entry %d: %q is not a CVE identifier", i, e.CVE),
			}
		}
		epss := e.EPSS
		if epss != nil {
			v := *epss
			switch {
			case v < 0:
				v = 0
			case v > 1:
				v = 1
			}
			epss = &v
		}
		source := e.Source
		if source == "" {
			source = DefaultSource
		}
		byCVE[cve] = argonaut.ThreatIntel{
			IntelID: cve,
			CVE:     cve,
			KEV:     e.KEV,
			EPSS:    epss,
			Source:  source,
		}
	}

	out := make([]argonaut.ThreatIntel, 0, len(byCVE))
	for _, ti := range byCVE {
		out = append(out, ti)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CVE < out[j].CVE })
	zlog.Debug(ctx).
		Int("entries", len(entries)).
		Int("records", len(out)).
		Msg("threat-intel seed normalized")
	return out, nil
}

// Parse decodes a JSON seed list and normalizes it.
func Parse(ctx context.Context, data []byte) ([]argonaut.ThreatIntel, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, &argonaut.Error{
			Op:      "seed.Parse",
			Kind:    argonaut.ErrMalformedJSON,
			Message: "seed list is not valid JSON",
			Inner:   err,
		}
	}
	return Load(ctx, entries)
}
