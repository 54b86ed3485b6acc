package evidence

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Format names a citation serialization.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML:
		return FormatYAML, nil
	case FormatMarkdown, Format("md"):
		return FormatMarkdown, nil
	default:
		return "", eris.Errorf("evidence: format must be json, yaml or markdown (got %q)", s)
	}
}

// RenderPersons writes resolved persons with their citations in the
// requested format. The structured formats serialize the types as-is; the
// field set is the re-verification contract and stays identical across
// formats.
func RenderPersons(w io.Writer, persons []ResolvedPerson, format Format) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, persons)
	case FormatYAML:
		return renderYAML(w, persons)
	case FormatMarkdown:
		for _, p := range persons {
			title := p.Name
			if title == "" {
				title = p.DocID
			}
			if _, err := fmt.Fprintf(w, "## %s\n\n", title); err != nil {
				return eris.Wrap(err, "evidence: write markdown")
			}
			if err := renderMarkdownCitations(w, p.Citations); err != nil {
				return err
			}
		}
		return nil
	default:
		return eris.Errorf("evidence: unknown format %q", format)
	}
}

// RenderCitations writes a bare citation list, the shape used when resolving
// by evidence ID without a search hit.
func RenderCitations(w io.Writer, citations []Citation, format Format) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, citations)
	case FormatYAML:
		return renderYAML(w, citations)
	case FormatMarkdown:
		return renderMarkdownCitations(w, citations)
	default:
		return eris.Errorf("evidence: unknown format %q", format)
	}
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "evidence: encode json")
	}
	return nil
}

func renderYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "evidence: encode yaml")
	}
	return eris.Wrap(enc.Close(), "evidence: encode yaml")
}

func renderMarkdownCitations(w io.Writer, citations []Citation) error {
	if len(citations) == 0 {
		_, err := fmt.Fprintln(w, "_no citations_")
		return eris.Wrap(err, "evidence: write markdown")
	}
	for i, c := range citations {
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d. **%s** %s (revision %d)\n", i+1, c.SnippetKind, c.PageTitle, c.RevisionID)
		fmt.Fprintf(&sb, "   - source: %s %s\n", c.SourceKind, c.SourceURL)
		fmt.Fprintf(&sb, "   - retrieved: %s\n", c.RetrievedAt)
		fmt.Fprintf(&sb, "   - sha256: %s\n", c.SHA256)
		fmt.Fprintf(&sb, "   - evidence_id: %s\n", c.EvidenceID)
		if c.Purpose != "" {
			fmt.Fprintf(&sb, "   - purpose: %s\n", c.Purpose)
		}
		if ref := c.SnippetRef; ref != nil && ref.Kind == SnippetTableRow {
			fmt.Fprintf(&sb, "   - location: table %d, row %d (%s)\n",
				ref.TableIndex, ref.RowIndex, ref.Match.PersonTitle)
		}
		if c.Warning != "" {
			fmt.Fprintf(&sb, "   - warning: %s\n", c.Warning)
		}
		if c.Snippet != "" {
			fmt.Fprintf(&sb, "\n   > %s\n", c.Snippet)
		}
		sb.WriteString("\n")
		if _, err := io.WriteString(w, sb.String()); err != nil {
			return eris.Wrap(err, "evidence: write markdown")
		}
	}
	return nil
}
