package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/pipeline"
)

var (
	resolveQuery    string
	resolveIDs      []string
	resolveFormat   string
	resolvePrefer   string
	resolveLimit    int
	resolveSnippets bool
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Inspect and resolve stored evidence",
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve citations for a person query or explicit evidence IDs",
	Long:  "Reconstructs human-readable citations from stored evidence: source URL, revision, retrieval time, content hash and, when the cached revision is available, the exact cited snippet.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if resolveQuery == "" && len(resolveIDs) == 0 {
			return eris.New("either --query or --id is required")
		}

		format, err := evidence.ParseFormat(resolveFormat)
		if err != nil {
			return err
		}
		opts := evidence.ResolveOptions{
			Limit:        resolveLimit,
			WithSnippets: resolveSnippets,
		}
		switch resolvePrefer {
		case "":
		case "table_row":
			opts.Prefer = evidence.SnippetTableRow
		case "lead_paragraph":
			opts.Prefer = evidence.SnippetLeadParagraph
		default:
			return eris.Errorf("unknown --prefer value %q", resolvePrefer)
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		var index evidence.Index
		if env.Search != nil {
			index = env.Search
		}
		resolver := evidence.NewResolver(index, env.Store, pipeline.NewCacheDocuments(env.Cache))

		if len(resolveIDs) > 0 {
			citations, err := resolver.ResolveIDs(ctx, resolveIDs, opts)
			if err != nil {
				return err
			}
			return evidence.RenderCitations(os.Stdout, citations, format)
		}

		if index == nil {
			return eris.New("--query requires a configured Meilisearch index")
		}
		persons, err := resolver.Resolve(ctx, resolveQuery, opts)
		if err != nil {
			return err
		}
		return evidence.RenderPersons(os.Stdout, persons, format)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveQuery, "query", "", "person search query")
	resolveCmd.Flags().StringSliceVar(&resolveIDs, "id", nil, "evidence IDs to resolve (repeatable)")
	resolveCmd.Flags().StringVar(&resolveFormat, "format", "markdown", "output format: json, yaml or markdown")
	resolveCmd.Flags().StringVar(&resolvePrefer, "prefer", "table_row", "snippet kind to surface first (table_row or lead_paragraph)")
	resolveCmd.Flags().IntVar(&resolveLimit, "limit", 0, "maximum persons to resolve")
	resolveCmd.Flags().BoolVar(&resolveSnippets, "snippets", true, "extract cited snippets from cached revisions")
	evidenceCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(evidenceCmd)
}
