package argonaut

// Finding is a normalized vulnerability report emitted by the SARIF
// parser and enriched in place by the enrich and score stages.
//
// Identity: FindingID = hash({repo, buildId, fingerprint}). The
// fingerprint is derived from rule, location, and package only; it must
// never depend on CreatedAt.
type Finding struct {
	Repo        string   `json:"repo"`
	BuildID     string   `json:"buildId"`
	RunID       string   `json:"runId,omitempty"`
	RuleID      string   `json:"ruleId"`
	Severity    string   `json:"severity"`
	CVE         string   `json:"cve,omitempty"`
	CVEs        []string `json:"cves,omitempty"`
	Package     string   `json:"package,omitempty"`
	Version     string   `json:"version,omitempty"`
	FilePath    string   `json:"filePath"`
	LineNumber  *int     `json:"lineNumber"`
	Tool        string   `json:"tool,omitempty"`
	Fingerprint string   `json:"fingerprint"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	FindingID   string   `json:"findingId"`

	// Attached by the enrich stage.
	Context *Context `json:"context,omitempty"`
	// Attached by the score stage.
	PriorityScore       *int         `json:"priorityScore,omitempty"`
	PriorityExplanation *Explanation `json:"priorityExplanation,omitempty"`

	// Optional deployment signals consumed by the score model.
	InternetExposed *bool `json:"internetExposed,omitempty"`
	BlastRadius     *int  `json:"blastRadius,omitempty"`
}

// Context is the enrichment joined onto a finding: threat intel by CVE
// and the winning reachability record by finding ID.
type Context struct {
	Threat       *ThreatContext       `json:"threat"`
	Reachability *ReachabilityContext `json:"reachability"`
}

// ThreatContext is the intel slice of a finding context.
type ThreatContext struct {
	KEV    bool     `json:"kev"`
	EPSS   *float64 `json:"epss"`
	CVE    string   `json:"cve"`
	Source string   `json:"source,omitempty"`
}

// ReachabilityContext is the reachability slice of a finding context.
type ReachabilityContext struct {
	Reachable       bool     `json:"reachable"`
	ConfidenceScore float64  `json:"confidenceScore"`
	Method          string   `json:"method"`
	Status          string   `json:"status"`
	Reason          string   `json:"reason"`
	EvidencePath    []string `json:"evidencePath"`
	AnalysisVersion string   `json:"analysisVersion"`
}

// Explanation is the auditable decomposition of a priority score.
//
// Identity: ExplanationID = hash({findingId, explanationVersion,
// inputs}).
type Explanation struct {
	ExplanationID      string         `json:"explanationId"`
	FindingID          string         `json:"findingId"`
	ExplanationVersion string         `json:"explanationVersion"`
	Score              int            `json:"score"`
	ReasonCodes        []string       `json:"reasonCodes"`
	Contributions      []Contribution `json:"contributions"`
	Inputs             ScoreInputs    `json:"inputs"`
}

// Contribution is a single additive factor of the score model.
type Contribution struct {
	Factor string `json:"factor"`
	Points int    `json:"points"`
}

// ScoreInputs are the raw signals the score model consumed, recorded so
// the explanation is reproducible without re-running enrichment.
type ScoreInputs struct {
	KEV             bool     `json:"kev"`
	EPSS            *float64 `json:"epss"`
	Reachable       bool     `json:"reachable"`
	InternetExposed bool     `json:"internetExposed"`
	BlastRadius     *int     `json:"blastRadius"`
}
