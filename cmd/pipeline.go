package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/pipeline"
)

var (
	runID            string
	runSeedKeys      []string
	runWahlperiode   []int
	runForce         bool
	runRevalidate    bool
	runSkipReconcile bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: fetch, parse, ingest, reconcile, sink",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		report, err := env.Runner.Run(ctx, pipeline.RunOptions{
			RunID:         runID,
			SeedKeys:      runSeedKeys,
			Wahlperiode:   runWahlperiode,
			Force:         runForce,
			Revalidate:    runRevalidate,
			SkipReconcile: runSkipReconcile,
		})
		if err != nil {
			return err
		}

		zap.L().Info("run complete",
			zap.String("run_id", report.RunID),
			zap.Int("seeds", len(report.Seeds)),
			zap.Int("dip_persons", report.DipPersons),
			zap.Int("accepted", report.Accepted),
			zap.Int("pending", report.Pending),
			zap.Int("rejected", report.Rejected),
			zap.Int("errors", report.Counts.Errors),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var dipCmd = &cobra.Command{
	Use:   "dip",
	Short: "Bundestag DIP source operations",
}

var dipWahlperiode []int

var dipIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest DIP person records for the given electoral periods",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		report, err := env.Runner.Run(ctx, pipeline.RunOptions{
			SkipSeeds:     true,
			Wahlperiode:   dipWahlperiode,
			SkipReconcile: true,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

func init() {
	runCmd.Flags().StringVar(&runID, "run-id", "", "explicit run id; re-using one supersedes the earlier run")
	runCmd.Flags().StringSliceVar(&runSeedKeys, "seed", nil, "restrict to these seed keys (repeatable)")
	runCmd.Flags().IntSliceVar(&runWahlperiode, "wahlperiode", nil, "DIP electoral periods to ingest (repeatable)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "refetch everything, ignoring the cache")
	runCmd.Flags().BoolVar(&runRevalidate, "revalidate", false, "check live revisions before serving from cache")
	runCmd.Flags().BoolVar(&runSkipReconcile, "skip-reconcile", false, "stop after fetch, parse and sink writes")
	rootCmd.AddCommand(runCmd)

	dipIngestCmd.Flags().IntSliceVar(&dipWahlperiode, "wahlperiode", nil, "electoral periods to ingest (required)")
	_ = dipIngestCmd.MarkFlagRequired("wahlperiode")
	dipCmd.AddCommand(dipIngestCmd)
	rootCmd.AddCommand(dipCmd)
}
