package pipeline

import (
	"context"
	"sort"

	"github.com/quay/zlog"

	"github.com/argus-sec/argonaut"
	"github.com/argus-sec/argonaut/canonjson"
	"github.com/argus-sec/argonaut/datastore"
)

// Reason codes emitted by the score model.
const (
	ReasonKEVTrue           = `KEV_TRUE`
	ReasonEPSSHigh          = `EPSS_HIGH`
	ReasonEPSSMedium        = `EPSS_MEDIUM`
	ReasonEPSSLow           = `EPSS_LOW`
	ReasonReachableTrue     = `REACHABLE_TRUE`
	ReasonInternetExposed   = `INTERNET_EXPOSED_TRUE`
	ReasonBlastRadiusHigh   = `BLAST_RADIUS_HIGH`
	ReasonBlastRadiusMedium = `BLAST_RADIUS_MEDIUM`
	ReasonBlastRadiusLow    = `BLAST_RADIUS_LOW`
)

// RankedFinding is one entry of the priority ranking.
type RankedFinding struct {
	FindingID     string `json:"findingId"`
	Repo          string `json:"repo"`
	BuildID       string `json:"buildId"`
	PriorityScore int    `json:"priorityScore"`
}

// ScoreResult is the outcome of one score run.
type ScoreResult struct {
	Scored  int             `json:"scored"`
	Ranking []RankedFinding `json:"ranking"`
	TopN    []RankedFinding `json:"topN"`
}

// Scorer computes priority scores with auditable explanations.
type Scorer struct {
	store datastore.Client
}

// NewScorer returns a scorer over c.
func NewScorer(c datastore.Client) *Scorer {
	return &Scorer{store: c}
}

// Score computes the additive priority score for every finding of
// (repo, buildId), writes the updated findings back with the
// explanation inline, and returns the ranking ordered by score
// descending with (findingId, repo, buildId) as ascending tiebreaks.
func (s *Scorer) Score(ctx context.Context, repo, buildID string, topN int) (*ScoreResult, error) {
	ctx = zlog.ContextWithValues(ctx,
		"component", "pipeline/Scorer.Score",
		"repo", repo,
		"buildId", buildID)

	enricher := &Enricher{store: s.store}
	findings, err := enricher.loadFindings(ctx, repo, buildID)
	if err != nil {
		return nil, err
	}

	res := &ScoreResult{}
	for i := range findings {
		f := &findings[i]
		expl, err := Explain(f)
		if err != nil {
			return nil, err
		}
		f.PriorityScore = &expl.Score
		f.PriorityExplanation = expl
		res.Scored++
		res.Ranking = append(res.Ranking, RankedFinding{
			FindingID:     f.FindingID,
			Repo:          f.Repo,
			BuildID:       f.BuildID,
			PriorityScore: expl.Score,
		})
	}

	sort.Slice(res.Ranking, func(i, j int) bool {
		a, b := res.Ranking[i], res.Ranking[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if a.FindingID != b.FindingID {
			return a.FindingID < b.FindingID
		}
		if a.Repo != b.Repo {
			return a.Repo < b.Repo
		}
		return a.BuildID < b.BuildID
	})
	if topN > 0 && topN < len(res.Ranking) {
		res.TopN = res.Ranking[:topN]
	} else {
		res.TopN = res.Ranking
	}

	if len(findings) > 0 {
		docs, err := toDocuments(findings)
		if err != nil {
			return nil, err
		}
		w, err := datastore.NewWriter(s.store, datastore.IndexFindings)
		if err != nil {
			return nil, err
		}
		report, err := w.Write(ctx, docs)
		if err != nil {
			return nil, err
		}
		if report.Failed > 0 {
			return nil, &argonaut.Error{
				Op:      "pipeline.Score",
				Kind:    argonaut.ErrBulkItemFailed,
				Message: report.Messages(),
			}
		}
	}
	zlog.Info(ctx).
		Int("scored", res.Scored).
		Int("ranked", len(res.Ranking)).
		Msg("score finished")
	return res, nil
}

// Explain runs the score model over one finding and returns the
// explanation. The model is additive over five independent factors;
// contributions carry only the factors that scored.
func Explain(f *argonaut.Finding) (*argonaut.Explanation, error) {
	inputs := argonaut.ScoreInputs{
		BlastRadius: f.BlastRadius,
	}
	if f.Context != nil && f.Context.Threat != nil {
		inputs.KEV = f.Context.Threat.KEV
		inputs.EPSS = f.Context.Threat.EPSS
	}
	if f.Context != nil && f.Context.Reachability != nil {
		inputs.Reachable = f.Context.Reachability.Reachable
	}
	if f.InternetExposed != nil {
		inputs.InternetExposed = *f.InternetExposed
	}

	var (
		score         int
		codes         []string
		contributions []argonaut.Contribution
	)
	add := func(factor, code string, points int) {
		score += points
		codes = append(codes, code)
		contributions = append(contributions, argonaut.Contribution{Factor: factor, Points: points})
	}

	if inputs.KEV {
		add("kev", ReasonKEVTrue, 30)
	}
	if inputs.EPSS != nil {
		switch v := *inputs.EPSS; {
		case v >= 0.5:
			add("epss", ReasonEPSSHigh, 20)
		case v >= 0.1:
			add("epss", ReasonEPSSMedium, 10)
		case v > 0:
			add("epss", ReasonEPSSLow, 2)
		}
	}
	if inputs.Reachable {
		add("reachable", ReasonReachableTrue, 25)
	}
	if inputs.InternetExposed {
		add("internetExposed", ReasonInternetExposed, 15)
	}
	if inputs.BlastRadius != nil {
		switch v := *inputs.BlastRadius; {
		case v >= 10:
			add("blastRadius", ReasonBlastRadiusHigh, 10)
		case v >= 3:
			add("blastRadius", ReasonBlastRadiusMedium, 5)
		default:
			add("blastRadius", ReasonBlastRadiusLow, 1)
		}
	}
	if codes == nil {
		codes = []string{}
	}
	if contributions == nil {
		contributions = []argonaut.Contribution{}
	}

	id, err := canonjson.Sum(map[string]any{
		"findingId":          f.FindingID,
		"explanationVersion": argonaut.ExplanationVersion,
		"inputs":             inputs,
	})
	if err != nil {
		return nil, err
	}
	return &argonaut.Explanation{
		ExplanationID:      id,
		FindingID:          f.FindingID,
		ExplanationVersion: argonaut.ExplanationVersion,
		Score:              score,
		ReasonCodes:        codes,
		Contributions:      contributions,
		Inputs:             inputs,
	}, nil
}
