package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/argus-sec/argonaut/pipeline"
)

// AcquireOptions holds flags for the acquire command.
type AcquireOptions struct {
	*RootOptions
	Repo    string
	BuildID string
	Bundle  string
	RunID   string
	Seed    string
	DryRun  bool
}

// AcquireSummary is the stable JSON output of the acquire command.
type AcquireSummary struct {
	BundleID string                 `json:"bundleId"`
	RunID    string                 `json:"runId"`
	Repo     string                 `json:"repo"`
	BuildID  string                 `json:"buildId"`
	Status   string                 `json:"status"`
	Written  int                    `json:"written"`
	DryRun   bool                   `json:"dryRun"`
	Stages   []pipeline.StageResult `json:"stages"`
}

// NewAcquireCommand creates the acquire command.
func NewAcquireCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AcquireOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Ingest an evidence bundle into the document store",
		Long: `Load an evidence bundle directory, parse its artifacts, and write
the derived documents (artifacts, dependencies, SBOM components,
findings, reachability, threat intel) to the document store.

With --dry-run the bundle runs against an in-memory store: everything
is parsed and validated but nothing reaches the configured store.

Example:
  argusctl acquire --repo acme/app --build-id b-100 --bundle ./bundle
  argusctl acquire --repo acme/app --build-id b-100 --bundle ./bundle --dry-run -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAcquire(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Repo, "repo", "", "repository coordinate (required)")
	cmd.Flags().StringVar(&opts.BuildID, "build-id", "", "build identifier (required)")
	cmd.Flags().StringVar(&opts.Bundle, "bundle", "", "path to the bundle directory (required)")
	cmd.Flags().StringVar(&opts.RunID, "run-id", "", "run identifier (defaults to the bundle ID)")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "path to a threat-intel seed JSON file")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "parse and validate without writing to the configured store")
	_ = cmd.MarkFlagRequired("bundle")

	return cmd
}

func runAcquire(cmd *cobra.Command, opts *AcquireOptions) error {
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

	entries, err := loadSeed(opts.Seed)
	if err != nil {
		return err
	}
	store, err := opts.newStore(opts.DryRun)
	if err != nil {
		return err
	}

	res, err := pipeline.NewAcquirer(store).Acquire(ctx, pipeline.AcquireOptions{
		Dir:       opts.Bundle,
		Repo:      repo,
		BuildID:   buildID,
		RunID:     opts.RunID,
		IntelSeed: entries,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}

	summary := AcquireSummary{
		BundleID: res.BundleID,
		RunID:    res.RunID,
		Repo:     repo,
		BuildID:  buildID,
		Status:   res.Status,
		Written:  res.Written(),
		DryRun:   opts.DryRun,
		Stages:   res.Stages,
	}
	if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if res.Status != pipeline.StatusSuccess {
		return fmt.Errorf("acquire finished with status %s", res.Status)
	}
	return nil
}
