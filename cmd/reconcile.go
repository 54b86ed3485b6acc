package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/internal/pipeline"
	"github.com/openparl/evidence-cli/internal/store"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile stored Wikipedia and DIP person records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		report, err := env.Runner.Run(ctx, pipeline.RunOptions{SkipSeeds: true})
		if err != nil {
			return err
		}

		zap.L().Info("reconciliation complete",
			zap.Int("accepted", report.Accepted),
			zap.Int("pending", report.Pending),
			zap.Int("rejected", report.Rejected),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

var (
	assertionsStatus string
	assertionsLimit  int
)

var assertionsCmd = &cobra.Command{
	Use:   "assertions",
	Short: "List stored link assertions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		assertions, err := st.ListAssertions(ctx, store.AssertionFilter{
			Status: model.AssertionStatus(assertionsStatus),
			Limit:  assertionsLimit,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(assertions)
	},
}

func init() {
	assertionsCmd.Flags().StringVar(&assertionsStatus, "status", "", "filter by status (accepted, pending, rejected)")
	assertionsCmd.Flags().IntVar(&assertionsLimit, "limit", 0, "maximum assertions to print")
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(assertionsCmd)
}
