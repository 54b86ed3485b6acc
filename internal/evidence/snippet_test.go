package evidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const membersTableHTML = `<div class="mw-parser-output">
<p>Kurze Notiz.</p>
<p>Der 17. Niedersächsische Landtag wurde am 20. Januar 2013 gewählt und bestand
bis zum Zusammentritt des 18. Landtages im November 2017.[1]</p>
<table class="wikitable">
<tr><th>Name</th><th>Partei</th><th>Wahlkreis</th></tr>
<tr><td><a href="/wiki/Johanne_Modder" title="Johanne Modder">Johanne Modder</a></td><td>SPD</td><td>Leer</td></tr>
<tr><td><a href="/wiki/Stephan_Weil" title="Stephan Weil">Stephan Weil</a></td><td>SPD</td><td>Hannover-Buchholz[2]</td></tr>
</table>
</div>`

func TestCleanSnippetText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"footnotes", "Weil[1] wurde 2013[12] gewählt.", "Weil wurde 2013 gewählt."},
		{"whitespace", "a\n\t b   c ", "a b c"},
		{"edit link", "Abschnitt[Bearbeiten] Text", "Abschnitt Text"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanSnippetText(tt.in))
		})
	}
}

func TestTruncateAtWord(t *testing.T) {
	assert.Equal(t, "short", TruncateAtWord("short", 500))
	long := "eins zwei drei vier"
	got := TruncateAtWord(long, 10)
	assert.Equal(t, "eins zwei...", got)
}

func TestExtractLeadParagraph_SkipsShortParagraphs(t *testing.T) {
	got := ExtractLeadParagraph(membersTableHTML, DefaultSnippetMaxLen)
	assert.Contains(t, got, "17. Niedersächsische Landtag")
	assert.NotContains(t, got, "[1]")
	assert.NotContains(t, got, "Kurze Notiz")
}

func TestExtractLeadParagraph_FallbackToFirst(t *testing.T) {
	html := `<div class="mw-parser-output"><p>Nur kurz.</p></div>`
	assert.Equal(t, "Nur kurz.", ExtractLeadParagraph(html, DefaultSnippetMaxLen))
}

func TestExtractTableRowSnippet_AddressesExactRow(t *testing.T) {
	ref := mustTableRowRef(t, 0, 1, "Stephan_Weil")
	got := ExtractTableRowSnippet(membersTableHTML, ref, DefaultSnippetMaxLen)
	assert.Equal(t, "Stephan Weil | SPD | Hannover-Buchholz", got)

	ref0 := mustTableRowRef(t, 0, 0, "Johanne_Modder")
	got0 := ExtractTableRowSnippet(membersTableHTML, ref0, DefaultSnippetMaxLen)
	assert.Equal(t, "Johanne Modder | SPD | Leer", got0)
}

func TestExtractTableRowSnippet_OutOfRange(t *testing.T) {
	ref := mustTableRowRef(t, 0, 99, "Stephan_Weil")
	assert.Empty(t, ExtractTableRowSnippet(membersTableHTML, ref, DefaultSnippetMaxLen))

	refTable := mustTableRowRef(t, 3, 0, "Stephan_Weil")
	assert.Empty(t, ExtractTableRowSnippet(membersTableHTML, refTable, DefaultSnippetMaxLen))
}

func TestExtractTableRowSnippet_NonRowRef(t *testing.T) {
	assert.Empty(t, ExtractTableRowSnippet(membersTableHTML, NewLeadParagraphRef(), 500))
	assert.Empty(t, ExtractTableRowSnippet(membersTableHTML, nil, 500))
}

func TestExtractTableRowSnippet_PrefersWikitables(t *testing.T) {
	// A layout table before the wikitable must not shift indices.
	html := `<table><tr><td>nav</td></tr></table>` + membersTableHTML
	ref := mustTableRowRef(t, 0, 1, "Stephan_Weil")
	got := ExtractTableRowSnippet(html, ref, DefaultSnippetMaxLen)
	require.Equal(t, "Stephan Weil | SPD | Hannover-Buchholz", got)
}
