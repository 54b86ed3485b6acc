package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openparl/evidence-cli/internal/cache"
	"github.com/openparl/evidence-cli/internal/pipeline"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect pipeline run history",
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run and its manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runID := args[0]

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return err
		}

		cacheStore, err := cache.NewStore(cfg.Cache.Dir, pipeline.NewSourceFetcher(nil, nil))
		if err != nil {
			return err
		}
		events, err := cacheStore.ReadManifest(runID)
		if err != nil {
			// A run without a manifest is still reportable.
			fmt.Fprintf(os.Stderr, "no manifest for run %s: %v\n", runID, err)
		}

		out := struct {
			Run      any           `json:"run"`
			Manifest []cache.Event `json:"manifest,omitempty"`
		}{Run: run, Manifest: events}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
