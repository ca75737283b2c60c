package argonaut

import "regexp"

// CVERegexp matches normalized CVE identifiers. Both IntelID and the
// cve field of a threat-intel document must match it, uppercase.
var CVERegexp = regexp.MustCompile(`^CVE-\d{4}-\d{4,}$`)

// ThreatIntel is an external risk signal keyed by CVE.
//
// Identity: IntelID equals the uppercase CVE itself, so intel
// documents are naturally deduplicated per CVE across runs.
type ThreatIntel struct {
	IntelID string   `json:"intelId"`
	CVE     string   `json:"cve"`
	KEV     bool     `json:"kev"`
	EPSS    *float64 `json:"epss"`
	Source  string   `json:"source,omitempty"`
}
