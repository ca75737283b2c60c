package argonaut

// Action types.
const (
	ActionJiraCreate  = `JIRA_CREATE`
	ActionChatSummary = `CHAT_SUMMARY`
	ActionChatThread  = `CHAT_THREAD`
)

// Action statuses.
const (
	ActionDryRunReady      = `DRY_RUN_READY`
	ActionSkippedDuplicate = `SKIPPED_DUPLICATE`
)

// Action is a persisted dry-run payload for an external side effect.
// The action stage never invokes external systems; it only records what
// would be sent.
//
// Identity: ActionID == IdempotencyKey, a canonical hash over the
// action's composite key (type, repo, buildId, findingId or topNHash,
// templateVersion). Equal keys mean the same action: a later attempt
// with the same key surfaces SKIPPED_DUPLICATE and never mutates the
// stored document.
type Action struct {
	ActionID        string `json:"actionId"`
	IdempotencyKey  string `json:"idempotencyKey"`
	Type            string `json:"type"`
	Repo            string `json:"repo"`
	BuildID         string `json:"buildId"`
	RunID           string `json:"runId,omitempty"`
	FindingID       string `json:"findingId,omitempty"`
	Status          string `json:"status"`
	Payload         any    `json:"payload"`
	PayloadHash     string `json:"payloadHash"`
	TemplateVersion string `json:"templateVersion"`
	Attempt         int    `json:"attempt"`
	DryRun          bool   `json:"dryRun"`
	CreatedAt       string `json:"createdAt,omitempty"`

	// FindingIDs is present on summary actions only, sorted ascending.
	FindingIDs []string `json:"findingIds,omitempty"`
}

// ActionResult is the per-action outcome returned by the executor. For
// duplicates, Attempt carries the attempt of the rejected try while the
// stored document keeps its original attempt.
type ActionResult struct {
	ActionID  string `json:"actionId"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
	Attempt   int    `json:"attempt"`
}
