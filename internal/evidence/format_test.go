package evidence

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func formatFixtures(t *testing.T) []Citation {
	t.Helper()
	ref, err := NewTableRowRef(0, 5, "Liste_17",
		RowMatch{PersonTitle: "Stephan_Weil", NameCell: "Stephan Weil"})
	require.NoError(t, err)

	return []Citation{
		{
			EvidenceID:  "ev-row-1",
			SourceKind:  SourceMediaWiki,
			PageTitle:   "Liste_17",
			PageID:      7504400,
			RevisionID:  241740573,
			SourceURL:   "https://de.wikipedia.org/w/index.php?oldid=241740573",
			RetrievedAt: "2026-05-01T12:00:00Z",
			SHA256:      "ab12cd34",
			SnippetKind: SnippetTableRow,
			Snippet:     "Stephan Weil | SPD | Hannover-Buchholz",
			Purpose:     "membership_row",
			SnippetRef:  ref,
		},
		{
			EvidenceID:  "ev-page-1",
			SourceKind:  SourceMediaWiki,
			PageTitle:   "Stephan_Weil",
			RevisionID:  240001112,
			SourceURL:   "https://de.wikipedia.org/w/index.php?oldid=240001112",
			RetrievedAt: "2026-05-01T12:00:00Z",
			SHA256:      "ef56ab78",
			SnippetKind: SnippetLeadParagraph,
		},
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"json": FormatJSON, "yaml": FormatYAML,
		"markdown": FormatMarkdown, "md": FormatMarkdown,
		"JSON": FormatJSON,
	} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("xml")
	assert.ErrorContains(t, err, "format must be")
}

func TestRenderCitations_MarkdownGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderCitations(&buf, formatFixtures(t), FormatMarkdown))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "citations_markdown", buf.Bytes())
}

func TestRenderCitations_JSONRoundTrip(t *testing.T) {
	fixtures := formatFixtures(t)
	var buf bytes.Buffer
	require.NoError(t, RenderCitations(&buf, fixtures, FormatJSON))

	var decoded []Citation
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, fixtures, decoded, "every citation field survives serialization")
}

func TestRenderPersons_YAML(t *testing.T) {
	persons := []ResolvedPerson{{
		DocID:          "p-weil",
		Name:           "Stephan Weil",
		WikipediaTitle: "Stephan_Weil",
		Citations:      formatFixtures(t),
	}}
	var buf bytes.Buffer
	require.NoError(t, RenderPersons(&buf, persons, FormatYAML))

	var decoded []ResolvedPerson
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "Stephan Weil", decoded[0].Name)
	require.Len(t, decoded[0].Citations, 2)
	assert.Equal(t, "ab12cd34", decoded[0].Citations[0].SHA256)
}

func TestRenderPersons_MarkdownHeadings(t *testing.T) {
	persons := []ResolvedPerson{
		{DocID: "p-1", Name: "Stephan Weil", Citations: formatFixtures(t)},
		{DocID: "p-2", Name: "Johanne Modder"},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderPersons(&buf, persons, FormatMarkdown))

	out := buf.String()
	assert.Contains(t, out, "## Stephan Weil")
	assert.Contains(t, out, "## Johanne Modder")
	assert.Contains(t, out, "_no citations_")
}

func TestRenderCitations_WarningIsRendered(t *testing.T) {
	cits := formatFixtures(t)
	cits[0].Warning = "row binding mismatch for evidence ev-row-1"
	var buf bytes.Buffer
	require.NoError(t, RenderCitations(&buf, cits, FormatMarkdown))
	assert.Contains(t, buf.String(), "warning: row binding mismatch")
}
