package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/argus-sec/argonaut/datastore"
	"github.com/argus-sec/argonaut/datastore/es"
	"github.com/argus-sec/argonaut/datastore/mem"
	"github.com/argus-sec/argonaut/enricher/seed"
)

// RootOptions holds the flags shared by every subcommand.
type RootOptions struct {
	Verbose    bool
	ConfigPath string

	config Config
}

// Config is the optional YAML configuration file. Flags win over the
// file; the file wins over the environment (the store client falls
// back to ES_URL and friends on its own).
type Config struct {
	Store struct {
		URL      string `yaml:"url"`
		APIKey   string `yaml:"apiKey"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
	} `yaml:"store"`
	Repo    string `yaml:"repo"`
	BuildID string `yaml:"buildId"`
	TopN    int    `yaml:"topN"`
}

// NewRootCommand creates the argusctl root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "argusctl",
		Short:         "Deterministic security-finding enrichment pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.WarnLevel
			if opts.Verbose {
				level = zerolog.DebugLevel
			}
			zerolog.SetGlobalLevel(level)
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			return opts.loadConfig()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose logging on stderr")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to a YAML config file")

	cmd.AddCommand(NewAcquireCommand(opts))
	cmd.AddCommand(NewDeterminismCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() error {
	if o.ConfigPath == "" {
		return nil
	}
	data, err := os.ReadFile(o.ConfigPath)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &o.config); err != nil {
		return fmt.Errorf("parsing config %q: %w", o.ConfigPath, err)
	}
	return nil
}

// NewStore builds the document-store client: the configured
// ES-compatible store, or the in-memory client when dryRun is set or
// no store is configured at all.
func (o *RootOptions) newStore(dryRun bool) (datastore.Client, error) {
	s := o.config.Store
	if dryRun || (s.URL == "" && os.Getenv(es.EnvURL) == "") {
		return mem.NewClient(), nil
	}
	return es.NewClient(es.Options{
		URL:      s.URL,
		APIKey:   s.APIKey,
		Username: s.Username,
		Password: s.Password,
	})
}

func loadSeed(path string) ([]seed.Entry, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var entries []seed.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing seed file %q: %w", path, err)
	}
	return entries, nil
}

// WriteJSON emits v as stable, indented JSON with a trailing newline.
// Struct field order makes the serialization reproducible.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
