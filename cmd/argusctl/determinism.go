package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/argus-sec/argonaut/datastore"
	"github.com/argus-sec/argonaut/harness"
	"github.com/argus-sec/argonaut/pipeline"
)

// DeterminismOptions holds flags for the determinism command.
type DeterminismOptions struct {
	*RootOptions
	Repo     string
	BuildID  string
	Bundle   string
	Seed     string
	TopN     int
	FailFast bool
}

// NewDeterminismCommand creates the determinism command.
func NewDeterminismCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeterminismOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "determinism",
		Short: "Prove a bundle produces byte-identical pipeline state twice",
		Long: `Run the acquire, enrich, and score stages twice against two fresh
in-memory stores and diff the resulting state document by document.
Timestamps that may legitimately vary are excluded from the
comparison.

Exits 0 when both runs agree, 1 on any drift.

Example:
  argusctl determinism --repo acme/app --build-id b-100 --bundle ./bundle --top-n 10`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeterminism(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Repo, "repo", "", "repository coordinate (required)")
	cmd.Flags().StringVar(&opts.BuildID, "build-id", "", "build identifier (required)")
	cmd.Flags().StringVar(&opts.Bundle, "bundle", "", "path to the bundle directory (required)")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "path to a threat-intel seed JSON file")
	cmd.Flags().IntVar(&opts.TopN, "top-n", 10, "ranking depth compared across runs")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop at the first drift instead of collecting all")
	_ = cmd.MarkFlagRequired("bundle")

	return cmd
}

func runDeterminism(cmd *cobra.Command, opts *DeterminismOptions) error {
	ctx := cmd.Context()

	repo, buildID := opts.Repo, opts.BuildID
	if repo == "" {
		repo = opts.config.Repo
	}
	if buildID == "" {
		buildID = opts.config.BuildID
	}
	if repo == "" || buildID == "" {
		return fmt.Errorf("--repo and --build-id are required (flags or config file)")
	}
	if opts.TopN <= 0 {
		return fmt.Errorf("--top-n must be a positive integer, got %d", opts.TopN)
	}

	entries, err := loadSeed(opts.Seed)
	if err != nil {
		return err
	}

	// CreatedAt is fixed per invocation so both runs see identical
	// inputs; the harness strips timestamp fields regardless.
	createdAt := time.Now().UTC().Format(time.RFC3339)
	fn := func(ctx context.Context, store datastore.Client) ([]string, error) {
		res, err := pipeline.NewAcquirer(store).Acquire(ctx, pipeline.AcquireOptions{
			Dir:       opts.Bundle,
			Repo:      repo,
			BuildID:   buildID,
			IntelSeed: entries,
			CreatedAt: createdAt,
		})
		if err != nil {
			return nil, err
		}
		if res.Status != pipeline.StatusSuccess {
			return nil, fmt.Errorf("acquire finished with status %s", res.Status)
		}
		if _, err := pipeline.NewEnricher(store).Enrich(ctx, repo, buildID); err != nil {
			return nil, err
		}
		sr, err := pipeline.NewScorer(store).Score(ctx, repo, buildID, opts.TopN)
		if err != nil {
			return nil, err
		}
		ids := make([]string, len(sr.TopN))
		for i, r := range sr.TopN {
			ids[i] = r.FindingID
		}
		return ids, nil
	}

	res, err := harness.Run(ctx, fn, harness.Options{FailFast: opts.FailFast})
	if err != nil {
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if !res.Passed {
		return fmt.Errorf("determinism check failed with %d drift(s)", len(res.Failures))
	}
	return nil
}
