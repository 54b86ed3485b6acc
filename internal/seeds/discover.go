package seeds

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// SearchHit is one full-text search result from the wiki API.
type SearchHit struct {
	Title   string
	Snippet string
}

// PageInfo is the live identity of a page.
type PageInfo struct {
	PageID     int64
	RevisionID int64
}

// DiscoveryClient is the wiki API surface discovery needs. The
// implementation is expected to cache its responses.
type DiscoveryClient interface {
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	PageInfo(ctx context.Context, title string) (PageInfo, error)
	// ParsePage returns the rendered page HTML for table validation.
	ParsePage(ctx context.Context, title string) (string, error)
}

// DiscoverOptions control a discovery run.
type DiscoverOptions struct {
	// PinRevisions records the live page and revision ids on each
	// generated seed.
	PinRevisions bool
	SearchLimit  int
}

// Rejection records a candidate title discovery declined, with why.
type Rejection struct {
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// DiscoveryReport is the audit summary of one discovery run.
type DiscoveryReport struct {
	RunID        string      `json:"run_id"`
	StartedAt    time.Time   `json:"started_at"`
	RegistryHash string      `json:"registry_hash"`
	Queries      []string    `json:"queries"`
	Validated    []string    `json:"validated"`
	Rejected     []Rejection `json:"rejected"`
	Errors       []string    `json:"errors"`
}

var wahlperiodePattern = regexp.MustCompile(`\((\d+)\.\s*Wahlperiode\)`)

// LegislatureNumber extracts the period number from a member-list title
// like "Liste der Mitglieder des Landtages (17. Wahlperiode)". Zero
// when absent.
func LegislatureNumber(s string) int {
	m := wahlperiodePattern.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

// Discover searches the wiki for member-list pages of every registry
// entry, validates each candidate actually carries a member table, and
// returns the resulting seed set. Failures on one entry do not abort
// the others.
func Discover(ctx context.Context, client DiscoveryClient, reg *Registry, regHash string, opts DiscoverOptions) (Set, *DiscoveryReport, error) {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 50
	}

	report := &DiscoveryReport{
		RunID:        uuid.NewString(),
		StartedAt:    time.Now().UTC(),
		RegistryHash: regHash,
	}

	keywords := reg.Defaults.ExpectedTableKeywords
	if len(keywords) == 0 {
		keywords = []string{"Name", "Partei", "Wahlkreis"}
	}

	set := make(Set)
	seenTitles := make(map[string]bool)
	seenPageIDs := make(map[int64]bool)

	landtagKeys := make([]string, 0, len(reg.Landtage))
	for k := range reg.Landtage {
		landtagKeys = append(landtagKeys, k)
	}
	sort.Strings(landtagKeys)

	for _, landtagKey := range landtagKeys {
		entry := reg.Landtage[landtagKey]
		zap.L().Info("discovering seeds",
			zap.String("landtag", landtagKey),
			zap.String("state", entry.State),
		)

		var candidates []candidateTitle
		for _, query := range entry.MemberListSearch {
			report.Queries = append(report.Queries, query)
			hits, err := client.Search(ctx, query, opts.SearchLimit)
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("search %s/%q: %v", landtagKey, query, err))
				zap.L().Warn("seed search failed",
					zap.String("landtag", landtagKey),
					zap.String("query", query),
					zap.Error(err),
				)
				continue
			}
			for _, hit := range hits {
				if hit.Title == "" || seenTitles[hit.Title] {
					continue
				}
				number := LegislatureNumber(hit.Title)
				if number == 0 {
					number = LegislatureNumber(hit.Snippet)
				}
				if number == 0 {
					continue
				}
				candidates = append(candidates, candidateTitle{title: hit.Title, number: number})
				seenTitles[hit.Title] = true
			}
		}

		// Deterministic ordering regardless of search ranking churn.
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].number != candidates[j].number {
				return candidates[i].number < candidates[j].number
			}
			return candidates[i].title < candidates[j].title
		})

		for _, cand := range candidates {
			info, err := client.PageInfo(ctx, cand.title)
			if err != nil {
				report.Rejected = append(report.Rejected, Rejection{Title: cand.title, Reason: err.Error()})
				continue
			}
			if info.PageID == 0 {
				report.Rejected = append(report.Rejected, Rejection{Title: cand.title, Reason: "page not found"})
				continue
			}
			if seenPageIDs[info.PageID] {
				continue
			}

			pageHTML, err := client.ParsePage(ctx, cand.title)
			if err != nil {
				report.Rejected = append(report.Rejected, Rejection{Title: cand.title, Reason: err.Error()})
				continue
			}
			if reason, ok := validateMemberListTable(pageHTML, keywords); !ok {
				report.Rejected = append(report.Rejected, Rejection{Title: cand.title, Reason: reason})
				continue
			}

			seedKey := fmt.Sprintf("%s%d", entry.KeyPrefix, cand.number)
			seed := Seed{
				Key:       seedKey,
				PageTitle: cand.title,
				// Operator fills the membership period in before the
				// seed is eligible for the pipeline.
				ExpectedTimeRange: TimeRange{},
				Hints: Hints{
					Parliament:            entry.Parliament,
					State:                 entry.State,
					LegislatureNumber:     cand.number,
					SectionKeywords:       []string{"Mitglieder", "Abgeordnete"},
					ExpectedTableKeywords: keywords,
				},
			}
			if opts.PinRevisions {
				seed.PageID = info.PageID
				seed.RevisionID = info.RevisionID
			}

			set[seedKey] = seed
			seenPageIDs[info.PageID] = true
			report.Validated = append(report.Validated, cand.title)
		}
	}

	return set, report, nil
}

type candidateTitle struct {
	title  string
	number int
}

// validateMemberListTable checks that the page holds at least one table
// whose header names a member list: a name column plus a party,
// parliamentary-group, or constituency column, with at least one data
// row beneath it.
func validateMemberListTable(pageHTML string, keywords []string) (string, bool) {
	doc, err := html.Parse(strings.NewReader(pageHTML))
	if err != nil {
		return fmt.Sprintf("unparseable html: %v", err), false
	}

	tables := collectTables(doc)
	if len(tables) == 0 {
		return "no tables found", false
	}

	for _, table := range tables {
		rows := collectRows(table)
		if len(rows) < 2 {
			continue
		}
		var headers []string
		for _, cell := range collectCells(rows[0]) {
			headers = append(headers, strings.ToLower(strings.TrimSpace(cellText(cell))))
		}
		hasName := headerContains(headers, "name")
		hasParty := headerContains(headers, "partei") || headerContains(headers, "fraktion")
		hasDistrict := headerContains(headers, "wahlkreis")
		if hasName && (hasParty || hasDistrict) {
			return "", true
		}
	}
	return "no valid member list table found (missing Name + Partei/Wahlkreis columns)", false
}

func headerContains(headers []string, keyword string) bool {
	for _, h := range headers {
		if strings.Contains(h, keyword) {
			return true
		}
	}
	return false
}

func collectTables(n *html.Node) []*html.Node {
	return collectByAtom(n, atom.Table)
}

func collectRows(table *html.Node) []*html.Node {
	return collectByAtom(table, atom.Tr)
}

func collectCells(row *html.Node) []*html.Node {
	var cells []*html.Node
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.DataAtom == atom.Th || c.DataAtom == atom.Td) {
			cells = append(cells, c)
		}
	}
	return cells
}

func collectByAtom(n *html.Node, a atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && node.DataAtom == a {
			out = append(out, node)
			if a == atom.Table {
				return // nested tables handled by the outer match
			}
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return out
}

func cellText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
