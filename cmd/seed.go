package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/seeds"
	"github.com/openparl/evidence-cli/pkg/mediawiki"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Manage the configured fetch targets",
}

var seedValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the seeds file",
	RunE: func(cmd *cobra.Command, args []string) error {
		set, err := seeds.Load(cfg.Seeds.Path)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d seeds ok\n", cfg.Seeds.Path, len(set))
		for _, key := range set.Keys() {
			seed := set[key]
			pinned := ""
			if seed.Pinned() {
				pinned = fmt.Sprintf(" (pinned to revision %d)", seed.RevisionID)
			}
			fmt.Printf("  %-16s %s%s\n", key, seed.PageTitle, pinned)
		}
		return nil
	},
}

var (
	seedDiscoverOut string
	seedDiscoverPin bool
)

var seedDiscoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover member-list seeds from the parliament registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		reg, err := seeds.LoadRegistry(cfg.Seeds.RegistryPath)
		if err != nil {
			return err
		}

		client := &discoveryClient{wiki: initWiki()}
		set, report, err := seeds.Discover(ctx, client, reg, seeds.RegistryHash(cfg.Seeds.RegistryPath), seeds.DiscoverOptions{
			PinRevisions: seedDiscoverPin,
		})
		if err != nil {
			return err
		}

		zap.L().Info("discovery finished",
			zap.Int("seeds", len(set)),
			zap.Int("validated", len(report.Validated)),
			zap.Int("rejected", len(report.Rejected)),
		)

		if seedDiscoverOut != "" {
			if err := set.Save(seedDiscoverOut); err != nil {
				return err
			}
			fmt.Printf("wrote %d seeds to %s\n", len(set), seedDiscoverOut)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	},
}

// discoveryClient adapts the MediaWiki client to the discovery surface.
type discoveryClient struct {
	wiki mediawiki.Client
}

func (c *discoveryClient) Search(ctx context.Context, query string, limit int) ([]seeds.SearchHit, error) {
	results, err := c.wiki.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	hits := make([]seeds.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, seeds.SearchHit{Title: r.Title, Snippet: r.Snippet})
	}
	return hits, nil
}

func (c *discoveryClient) PageInfo(ctx context.Context, title string) (seeds.PageInfo, error) {
	info, err := c.wiki.PageInfo(ctx, title)
	if err != nil {
		return seeds.PageInfo{}, err
	}
	return seeds.PageInfo{PageID: info.PageID, RevisionID: info.RevisionID}, nil
}

func (c *discoveryClient) ParsePage(ctx context.Context, title string) (string, error) {
	resp, err := c.wiki.Parse(ctx, title)
	if err != nil {
		return "", err
	}
	if resp.HTML == "" {
		return "", eris.Errorf("page %q rendered empty", title)
	}
	return resp.HTML, nil
}

func init() {
	seedDiscoverCmd.Flags().StringVar(&seedDiscoverOut, "out", "", "write discovered seeds to this file")
	seedDiscoverCmd.Flags().BoolVar(&seedDiscoverPin, "pin", true, "pin discovered seeds to live revisions")
	seedCmd.AddCommand(seedValidateCmd)
	seedCmd.AddCommand(seedDiscoverCmd)
	rootCmd.AddCommand(seedCmd)
}
