package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/ident"
)

const personPageHTML = `<div class="mw-parser-output">
<p>Koordinaten: 52° N, 9° O</p>
<p>Stephan Weil[1] (* 15. Dezember 1958 in Hamburg) ist ein deutscher Politiker (SPD)
und war von 2013 bis 2025 Ministerpräsident des Landes Niedersachsen.</p>
<p>Er war zuvor Oberbürgermeister von Hannover.</p>
<table class="infobox biografie">
<tr><th>Geburtsdatum</th><td><span class="bday">1958-12-15</span> in Hamburg</td></tr>
</table>
<h2>Leben</h2>
<p>Abschnitt, der nicht zur Einleitung gehört.</p>
</div>`

func personSource() PageSource {
	return PageSource{
		PageTitle:   "Stephan_Weil",
		PageID:      1297953,
		RevisionID:  240001112,
		SourceURL:   "https://de.wikipedia.org/w/index.php?oldid=240001112",
		RetrievedAt: "2026-05-01T12:00:00Z",
		SHA256:      "ef56ab78",
		HTML:        personPageHTML,
	}
}

func TestParsePersonPage(t *testing.T) {
	person, ev, err := ParsePersonPage(personSource())
	require.NoError(t, err)

	assert.Equal(t, "Stephan Weil", person.Name)
	assert.Equal(t, "Stephan_Weil", person.WikipediaTitle)
	assert.Equal(t, "https://de.wikipedia.org/wiki/Stephan_Weil", person.WikipediaURL)
	assert.Equal(t, "1958-12-15", person.BirthDate)
	assert.Empty(t, person.DeathDate)

	wantID, err := ident.PersonID("Stephan_Weil")
	require.NoError(t, err)
	assert.Equal(t, wantID, person.ID)

	require.Len(t, person.EvidenceRefs, 1)
	ref := person.EvidenceRefs[0]
	assert.Equal(t, "person_page_intro", ref.Purpose)
	assert.Equal(t, ev.ID, ref.EvidenceID)
	require.NotNil(t, ref.SnippetRef)
	assert.Equal(t, evidence.SnippetLeadParagraph, ref.SnippetRef.Kind)

	require.NotNil(t, person.Provenance)
	assert.Equal(t, int64(240001112), person.Provenance.RevisionID)
	assert.Equal(t, "ef56ab78", person.Provenance.SHA256)
}

func TestParsePersonPage_IntroStopsAtSection(t *testing.T) {
	person, _, err := ParsePersonPage(personSource())
	require.NoError(t, err)

	assert.Contains(t, person.Intro, "Ministerpräsident")
	assert.Contains(t, person.Intro, "Oberbürgermeister")
	assert.NotContains(t, person.Intro, "Koordinaten")
	assert.NotContains(t, person.Intro, "nicht zur Einleitung")
	assert.NotContains(t, person.Intro, "[1]", "footnote markers are cleaned")
}

func TestParsePersonPage_DeathDateFromTime(t *testing.T) {
	html := `<div class="mw-parser-output">
<p>Eine Politikerin.</p>
<table class="infobox">
<tr><th>Geboren</th><td><time datetime="1931-05-02">2. Mai 1931</time></td></tr>
<tr><th>Gestorben</th><td><time datetime="2019-03-10">10. März 2019</time></td></tr>
</table>
</div>`
	src := personSource()
	src.HTML = html
	person, _, err := ParsePersonPage(src)
	require.NoError(t, err)
	assert.Equal(t, "1931-05-02", person.BirthDate)
	assert.Equal(t, "2019-03-10", person.DeathDate)
}

func TestParsePersonPage_NoInfobox(t *testing.T) {
	src := personSource()
	src.HTML = `<div class="mw-parser-output"><p>Nur Text, keine Infobox.</p></div>`
	person, _, err := ParsePersonPage(src)
	require.NoError(t, err)
	assert.Empty(t, person.BirthDate)
	assert.Empty(t, person.DeathDate)
	assert.Equal(t, "Nur Text, keine Infobox.", person.Intro)
}

func TestParsePersonPage_EvidenceDeterministic(t *testing.T) {
	_, evA, err := ParsePersonPage(personSource())
	require.NoError(t, err)
	_, evB, err := ParsePersonPage(personSource())
	require.NoError(t, err)
	assert.Equal(t, evA.ID, evB.ID)
}

func TestWikipediaRecord(t *testing.T) {
	person, _, err := ParsePersonPage(personSource())
	require.NoError(t, err)

	rec := WikipediaRecord(person, personSource())
	assert.Equal(t, person.ID, rec.ID)
	assert.Equal(t, "Stephan_Weil", rec.WikipediaTitle)
	assert.Equal(t, int64(1297953), rec.PageID)
	assert.Equal(t, int64(240001112), rec.RevisionID)
	assert.Equal(t, person.BirthDate, rec.BirthDate)
	assert.Equal(t, person.EvidenceIDs, rec.EvidenceIDs)
}
