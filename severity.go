package argonaut

import (
	"fmt"
	"strings"
)

// Severity is the normalized severity of a finding.
//
// Stored documents carry the uppercase text form ("CRITICAL", …), which
// is what MarshalText emits.
type Severity uint

const (
	Unknown Severity = iota
	Low
	Medium
	High
	Critical
)

var severityNames = [...]string{
	Unknown:  `UNKNOWN`,
	Low:      `LOW`,
	Medium:   `MEDIUM`,
	High:     `HIGH`,
	Critical: `CRITICAL`,
}

func (s Severity) String() string {
	if int(s) >= len(severityNames) {
		return fmt.Sprintf("Severity(%d)", s)
	}
	return severityNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if int(s) >= len(severityNames) {
		return nil, fmt.Errorf("invalid severity %d", uint(s))
	}
	return []byte(severityNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

// ParseSeverity maps severity spellings from scanner output onto the
// normalized set. SARIF levels ("error", "warning", "note") are
// accepted alongside the canonical names; comparison is
// case-insensitive. Unrecognized input maps to Unknown so parsers stay
// total.
func ParseSeverity(v string) Severity {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "critical":
		return Critical
	case "high", "error":
		return High
	case "medium", "moderate", "warning":
		return Medium
	case "low", "note", "info", "none":
		return Low
	}
	return Unknown
}
