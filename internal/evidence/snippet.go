package evidence

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultSnippetMaxLen caps snippet length in citations.
const DefaultSnippetMaxLen = 500

var (
	footnoteMarker = regexp.MustCompile(`\[\d+\]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// CleanSnippetText strips volatile markup from snippet text: footnote
// markers like [1], MediaWiki edit links, and runs of whitespace. Run over
// every snippet before hashing or storing so markup churn does not change
// the semantic content.
func CleanSnippetText(text string) string {
	if text == "" {
		return ""
	}
	text = footnoteMarker.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "[Bearbeiten]", "")
	text = whitespaceRun.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// TruncateAtWord shortens s to at most maxLen runes, cutting at the last
// word boundary and appending an ellipsis marker.
func TruncateAtWord(s string, maxLen int) string {
	if maxLen <= 0 || len([]rune(s)) <= maxLen {
		return s
	}
	cut := string([]rune(s)[:maxLen])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "..."
}

// ExtractLeadParagraph returns the first substantial paragraph of a parsed
// MediaWiki page. Paragraphs shorter than 80 characters (hatnotes,
// coordinates) are skipped; if none qualifies the first non-empty one wins.
func ExtractLeadParagraph(htmlText string, maxLen int) string {
	root, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return ""
	}
	scope := findByClass(root, "mw-parser-output")
	if scope == nil {
		scope = root
	}

	var first string
	for _, p := range findAll(scope, atom.P) {
		cleaned := CleanSnippetText(nodeText(p))
		if cleaned == "" {
			continue
		}
		if first == "" {
			first = cleaned
		}
		if len(cleaned) >= 80 {
			return TruncateAtWord(cleaned, maxLen)
		}
	}
	return TruncateAtWord(first, maxLen)
}

// ExtractTableRowSnippet returns the cleaned " | "-joined cell text of the
// data row addressed by ref. Returns "" if the ref does not address a row in
// the document, never a neighboring row's content.
func ExtractTableRowSnippet(htmlText string, ref *SnippetRef, maxLen int) string {
	if ref == nil || ref.Kind != SnippetTableRow {
		return ""
	}
	root, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return ""
	}

	tables := WikiTables(root)
	if ref.TableIndex >= len(tables) {
		return ""
	}
	rows := findAll(tables[ref.TableIndex], atom.Tr)
	if len(rows) > 1 {
		rows = rows[1:] // header row is not a data row
	}
	if ref.RowIndex >= len(rows) {
		return ""
	}

	var cells []string
	for _, cell := range findAll(rows[ref.RowIndex], atom.Td, atom.Th) {
		if text := strings.TrimSpace(nodeText(cell)); text != "" {
			cells = append(cells, text)
		}
	}
	if len(cells) == 0 {
		return ""
	}
	return TruncateAtWord(CleanSnippetText(strings.Join(cells, " | ")), maxLen)
}

// WikiTables returns the page's wikitable-class tables, falling back to all
// tables when the page uses unstyled markup. Table indices in SnippetRefs
// are positions in this slice; anything that mints or resolves a table_row
// ref must use this ordering.
func WikiTables(root *html.Node) []*html.Node {
	all := findAll(root, atom.Table)
	var wiki []*html.Node
	for _, t := range all {
		if hasClass(t, "wikitable") {
			wiki = append(wiki, t)
		}
	}
	if len(wiki) > 0 {
		return wiki
	}
	return all
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func findAll(root *html.Node, atoms ...atom.Atom) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			for _, a := range atoms {
				if n.DataAtom == a {
					out = append(out, n)
					break
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findByClass(root *html.Node, class string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && hasClass(n, class) {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func hasClass(n *html.Node, class string) bool {
	for _, attr := range n.Attr {
		if attr.Key == "class" {
			for _, c := range strings.Fields(attr.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}
