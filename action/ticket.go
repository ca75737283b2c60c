// Package action generates and executes idempotent dry-run action
// payloads: ticket creation and chat notifications.
//
// Generators are pure: the same findings produce byte-identical
// payloads and keys. The executor only ever records what would be sent;
// live execution is rejected with a typed error.
package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// Options parameterize a generation pass.
type Options struct {
	Repo            string
	BuildID         string
	RunID           string
	TopN            int
	TemplateVersion string
	Attempt         int
	CreatedAt       string
}

func (o *Options) templateVersion() string {
	if o.TemplateVersion == "" {
		return argonaut.TemplateVersion
	}
	return o.TemplateVersion
}

// TicketPayload is the rendered body of a JIRA_CREATE action.
type TicketPayload struct {
	Summary     string   `json:"summary"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
}

// SelectTop filters findings to (repo, buildId), orders them by
// priorityScore descending with findingId as tiebreak, and truncates to
// top-N. N <= 0 selects nothing.
func SelectTop(findings []argonaut.Finding, opts Options) []argonaut.Finding {
	var sel []argonaut.Finding
	for _, f := range findings {
		if f.Repo == opts.Repo && f.BuildID == opts.BuildID {
			sel = append(sel, f)
		}
	}
	sort.SliceStable(sel, func(i, j int) bool {
		si, sj := score(sel[i]), score(sel[j])
		if si != sj {
			return si > sj
		}
		return sel[i].FindingID < sel[j].FindingID
	})
	if opts.TopN <= 0 {
		return nil
	}
	if len(sel) > opts.TopN {
		sel = sel[:opts.TopN]
	}
	return sel
}

func score(f argonaut.Finding) int {
	if f.PriorityScore == nil {
		return 0
	}
	return *f.PriorityScore
}

// Tickets generates one JIRA_CREATE action per selected finding.
func Tickets(findings []argonaut.Finding, opts Options) ([]argonaut.Action, error) {
	sel := SelectTop(findings, opts)
	out := make([]argonaut.Action, 0, len(sel))
	for _, f := range sel {
		a, err := ticket(f, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func ticket(f argonaut.Finding, opts Options) (argonaut.Action, error) {
	payload := TicketPayload{
		Summary:     fmt.Sprintf("[%s] %s@%s %s (%s)", f.Severity, f.Package, f.Version, f.RuleID, f.FindingID),
		Description: ticketDescription(f),
		Labels:      ticketLabels(f),
	}
	key := TicketKey(opts.Repo, opts.BuildID, f.FindingID, opts.templateVersion())
	hash, err := PayloadHash(payload)
	if err != nil {
		return argonaut.Action{}, err
	}
	return argonaut.Action{
		ActionID:        key,
		IdempotencyKey:  key,
		Type:            argonaut.ActionJiraCreate,
		Repo:            opts.Repo,
		BuildID:         opts.BuildID,
		RunID:           opts.RunID,
		FindingID:       f.FindingID,
		Status:          argonaut.ActionDryRunReady,
		Payload:         payload,
		PayloadHash:     hash,
		TemplateVersion: opts.templateVersion(),
		Attempt:         opts.Attempt,
		DryRun:          true,
		CreatedAt:       opts.CreatedAt,
	}, nil
}

// TicketKey derives the idempotency key of a JIRA_CREATE action.
func TicketKey(repo, buildID, findingID, templateVersion string) string {
	return canonjson.SumBytes([]byte(fmt.Sprintf(
		"type=%s|repo=%s|buildId=%s|findingId=%s|templateVersion=%s",
		argonaut.ActionJiraCreate, repo, buildID, findingID, templateVersion,
	)))
}

func ticketDescription(f argonaut.Finding) string {
	var b strings.Builder
	section := func(title string, lines ...string) {
		fmt.Fprintf(&b, "h3. %s\n", title)
		for _, l := range lines {
			b.WriteString(l)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}

	section("Header",
		fmt.Sprintf("Finding: %s", f.FindingID),
		fmt.Sprintf("Rule: %s", f.RuleID),
		fmt.Sprintf("Severity: %s", f.Severity),
		fmt.Sprintf("Tool: %s", orNA(f.Tool)),
	)
	line := "N/A"
	if f.LineNumber != nil {
		line = fmt.Sprintf("%d", *f.LineNumber)
	}
	section("Evidence",
		fmt.Sprintf("File: %s", f.FilePath),
		fmt.Sprintf("Line: %s", line),
		fmt.Sprintf("Package: %s@%s", orNA(f.Package), orNA(f.Version)),
		fmt.Sprintf("CVE: %s", orNA(f.CVE)),
	)

	reach := []string{"Reachability: N/A"}
	if f.Context != nil && f.Context.Reachability != nil {
		r := f.Context.Reachability
		reach = []string{
			fmt.Sprintf("Reachable: %t", r.Reachable),
			fmt.Sprintf("Confidence: %g", r.ConfidenceScore),
			fmt.Sprintf("Status: %s", r.Status),
			fmt.Sprintf("Path: %s", orNA(strings.Join(r.EvidencePath, " -> "))),
		}
	}
	section("Reachability Context", reach...)

	threat := []string{"Threat intel: N/A"}
	if f.Context != nil && f.Context.Threat != nil {
		t := f.Context.Threat
		epss := "N/A"
		if t.EPSS != nil {
			epss = fmt.Sprintf("%g", *t.EPSS)
		}
		threat = []string{
			fmt.Sprintf("KEV: %t", t.KEV),
			fmt.Sprintf("EPSS: %s", epss),
			fmt.Sprintf("Source: %s", orNA(t.Source)),
		}
	}
	section("Threat Context", threat...)

	scoreLines := []string{"Score: N/A"}
	if f.PriorityScore != nil {
		scoreLines = []string{fmt.Sprintf("Score: %d", *f.PriorityScore)}
		if e := f.PriorityExplanation; e != nil {
			scoreLines = append(scoreLines,
				fmt.Sprintf("Reason codes: %s", orNA(strings.Join(e.ReasonCodes, ", "))))
			for _, c := range e.Contributions {
				scoreLines = append(scoreLines, fmt.Sprintf("  %s: +%d", c.Factor, c.Points))
			}
		}
	}
	section("Score and Explanation Context", scoreLines...)

	section("Suggested Next Step",
		"Review the evidence above and upgrade the affected package to a fixed version.")
	return b.String()
}

func ticketLabels(f argonaut.Finding) []string {
	labels := []string{
		"argonaut",
		"repo:" + f.Repo,
		"build:" + f.BuildID,
		"finding:" + f.FindingID,
	}
	if f.CVE != "" {
		labels = append(labels, "cve:"+f.CVE)
	}
	if f.Context != nil && f.Context.Reachability != nil {
		labels = append(labels, fmt.Sprintf("reachable:%t", f.Context.Reachability.Reachable))
	}
	return labels
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

// PayloadHash hashes the canonical JSON of a payload after multiline
// normalization: CRLF becomes LF and trailing whitespace is trimmed per
// line, so editor and platform noise never moves the hash.
func PayloadHash(payload any) (string, error) {
	doc, err := canonjson.Marshal(payload)
	if err != nil {
		return "", err
	}
	var tree any
	if err := unmarshalStrings(doc, &tree); err != nil {
		return "", err
	}
	return canonjson.Sum(normalizeStrings(tree))
}

// UnmarshalStrings decodes with [json.Number] so numeric spellings
// survive the normalization round trip.
func unmarshalStrings(raw []byte, v *any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(v)
}

func normalizeStrings(v any) any {
	switch t := v.(type) {
	case string:
		return NormalizeMultiline(t)
	case map[string]any:
		for k, el := range t {
			t[k] = normalizeStrings(el)
		}
		return t
	case []any:
		for i, el := range t {
			t[i] = normalizeStrings(el)
		}
		return t
	}
	return v
}

// NormalizeMultiline converts CRLF to LF and trims trailing whitespace
// from every line.
func NormalizeMultiline(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.Join(lines, "\n")
}
