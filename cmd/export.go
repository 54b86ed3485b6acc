package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/sink"
	"github.com/openparl/evidence-cli/internal/store"
)

var exportName string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored records as JSON files",
	Long: `Writes the stored source records, canonical persons and link
assertions to a directory under the configured export root. Output is
deterministic: identical store contents produce byte-identical files.`,
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

		name := exportName
		if name == "" {
			name = "export-" + time.Now().UTC().Format("20060102-150405")
		}
		exp, err := sink.NewExporter(cfg.Cache.ExportDir, name)
		if err != nil {
			return err
		}

		wiki, err := st.ListWikipediaPersons(ctx)
		if err != nil {
			return err
		}
		dip, err := st.ListDipPersons(ctx, 0)
		if err != nil {
			return err
		}
		if err := exp.WriteSourceRecords(wiki, dip); err != nil {
			return err
		}

		canonical, err := st.ListCanonicalPersons(ctx)
		if err != nil {
			return err
		}
		assertions, err := st.ListAssertions(ctx, store.AssertionFilter{})
		if err != nil {
			return err
		}
		if err := exp.WriteReconciliation(canonical, assertions); err != nil {
			return err
		}

		zap.L().Info("export complete",
			zap.String("dir", exp.Dir()),
			zap.Int("wikipedia_persons", len(wiki)),
			zap.Int("dip_persons", len(dip)),
			zap.Int("canonical_persons", len(canonical)),
			zap.Int("assertions", len(assertions)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"dir":               exp.Dir(),
			"wikipedia_persons": len(wiki),
			"dip_persons":       len(dip),
			"canonical_persons": len(canonical),
			"assertions":        len(assertions),
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportName, "name", "", "export directory name (default timestamped)")
	rootCmd.AddCommand(exportCmd)
}
