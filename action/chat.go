package action

import (
	"fmt"
	"sort"
	"strings"

	"github.com/slack-go/slack"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
)

// Block budgets. Exceeding either is a hard error, not a truncation.
const (
	MaxSummaryBlocks = 12
	MaxThreadBlocks  = 6
)

// ChatPayload is the rendered body of a chat action: Block Kit blocks
// plus the plain-text fallback.
type ChatPayload struct {
	Text   string        `json:"text"`
	Blocks []slack.Block `json:"blocks"`
}

// SummaryKey derives the idempotency key of a CHAT_SUMMARY action.
// topNHash pins the selection: a different top-N set is a different
// summary.
func SummaryKey(repo, buildID, topNHash, templateVersion string) string {
	return canonjson.SumBytes([]byte(fmt.Sprintf(
		"type=%s|repo=%s|buildId=%s|topNHash=%s|templateVersion=%s",
		argonaut.ActionChatSummary, repo, buildID, topNHash, templateVersion,
	)))
}

// ThreadKey derives the idempotency key of a CHAT_THREAD action.
func ThreadKey(repo, buildID, findingID, templateVersion string) string {
	return canonjson.SumBytes([]byte(fmt.Sprintf(
		"type=%s|repo=%s|buildId=%s|findingId=%s|templateVersion=%s",
		argonaut.ActionChatThread, repo, buildID, findingID, templateVersion,
	)))
}

// TopNHash hashes the selected finding IDs joined by '|', in selection
// order.
func TopNHash(findingIDs []string) string {
	return canonjson.SumBytes([]byte(strings.Join(findingIDs, "|")))
}

// ChatActions generates one CHAT_SUMMARY action over the selected
// findings and one CHAT_THREAD action per finding.
func ChatActions(findings []argonaut.Finding, opts Options) ([]argonaut.Action, error) {
	sel := SelectTop(findings, opts)
	ids := make([]string, len(sel))
	for i, f := range sel {
		ids[i] = f.FindingID
	}

	summary, err := summaryAction(sel, ids, opts)
	if err != nil {
		return nil, err
	}
	out := []argonaut.Action{summary}
	for _, f := range sel {
		th, err := threadAction(f, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, nil
}

func summaryAction(sel []argonaut.Finding, ids []string, opts Options) (argonaut.Action, error) {
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(
			slack.PlainTextType,
			fmt.Sprintf("Security findings for %s build %s", opts.Repo, opts.BuildID),
			false, false,
		)),
	}
	for _, f := range sel {
		text := fmt.Sprintf("*%s* `%s`\n%s", f.RuleID, f.FindingID, rationale(f))
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, text, false, false),
			nil, nil,
		))
	}
	if len(blocks) > MaxSummaryBlocks {
		return argonaut.Action{}, &argonaut.Error{
			Op:      "action.ChatActions",
			Kind:    argonaut.ErrInvalidField,
			Message: fmt.Sprintf("summary has %d blocks, budget is %d", len(blocks), MaxSummaryBlocks),
		}
	}

	payload := ChatPayload{
		Text:   fmt.Sprintf("%d security findings for %s build %s", len(sel), opts.Repo, opts.BuildID),
		Blocks: blocks,
	}
	hash, err := PayloadHash(payload)
	if err != nil {
		return argonaut.Action{}, err
	}
	key := SummaryKey(opts.Repo, opts.BuildID, TopNHash(ids), opts.templateVersion())
	sortedIDs := make([]string, len(ids))
	copy(sortedIDs, ids)
	sort.Strings(sortedIDs)
	return argonaut.Action{
		ActionID:        key,
		IdempotencyKey:  key,
		Type:            argonaut.ActionChatSummary,
		Repo:            opts.Repo,
		BuildID:         opts.BuildID,
		RunID:           opts.RunID,
		Status:          argonaut.ActionDryRunReady,
		Payload:         payload,
		PayloadHash:     hash,
		TemplateVersion: opts.templateVersion(),
		Attempt:         opts.Attempt,
		DryRun:          true,
		CreatedAt:       opts.CreatedAt,
		FindingIDs:      sortedIDs,
	}, nil
}

func threadAction(f argonaut.Finding, opts Options) (argonaut.Action, error) {
	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("*[%s]* %s@%s `%s`", f.Severity, orNA(f.Package), orNA(f.Version), f.RuleID),
				false, false),
			nil, nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, rationale(f), false, false),
			nil, nil,
		),
		slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType,
				fmt.Sprintf("finding `%s` | file `%s`", f.FindingID, f.FilePath),
				false, false),
		),
	}
	if len(blocks) > MaxThreadBlocks {
		return argonaut.Action{}, &argonaut.Error{
			Op:      "action.ChatActions",
			Kind:    argonaut.ErrInvalidField,
			Message: fmt.Sprintf("thread has %d blocks, budget is %d", len(blocks), MaxThreadBlocks),
		}
	}

	payload := ChatPayload{
		Text:   fmt.Sprintf("[%s] %s (%s)", f.Severity, f.RuleID, f.FindingID),
		Blocks: blocks,
	}
	hash, err := PayloadHash(payload)
	if err != nil {
		return argonaut.Action{}, err
	}
	key := ThreadKey(opts.Repo, opts.BuildID, f.FindingID, opts.templateVersion())
	return argonaut.Action{
		ActionID:        key,
		IdempotencyKey:  key,
		Type:            argonaut.ActionChatThread,
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

// Rationale renders the fixed-order signal line. Missing signals render
// as N/A so the layout never shifts.
func rationale(f argonaut.Finding) string {
	scoreStr, kev, epss, reachable := "N/A", "N/A", "N/A", "N/A"
	if f.PriorityScore != nil {
		scoreStr = fmt.Sprintf("%d", *f.PriorityScore)
	}
	if f.Context != nil && f.Context.Threat != nil {
		kev = fmt.Sprintf("%t", f.Context.Threat.KEV)
		if f.Context.Threat.EPSS != nil {
			epss = fmt.Sprintf("%g", *f.Context.Threat.EPSS)
		}
	}
	if f.Context != nil && f.Context.Reachability != nil {
		reachable = fmt.Sprintf("%t", f.Context.Reachability.Reachable)
	}
	return fmt.Sprintf("score=%s | kev=%s | epss=%s | reachable=%s", scoreStr, kev, epss, reachable)
}
