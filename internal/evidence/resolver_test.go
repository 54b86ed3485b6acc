package evidence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparl/evidence-cli/internal/resilience"
)

// Six data rows; Stephan Weil sits at row index 5.
const resolverTableHTML = `<div class="mw-parser-output">
<p>Der 17. Niedersächsische Landtag bestand von Februar 2013 bis November 2017
und zählte 137 Mitglieder aus vier Fraktionen.</p>
<table class="wikitable">
<tr><th>Name</th><th>Partei</th><th>Wahlkreis</th></tr>
<tr><td><a title="Johanne Modder">Johanne Modder</a></td><td>SPD</td><td>Leer</td></tr>
<tr><td><a title="Björn Thümler">Björn Thümler</a></td><td>CDU</td><td>Wesermarsch</td></tr>
<tr><td><a title="Anja Piel">Anja Piel</a></td><td>Grüne</td><td>Hannover</td></tr>
<tr><td><a title="Stefan Birkner">Stefan Birkner</a></td><td>FDP</td><td>Garbsen</td></tr>
<tr><td><a title="Petra Tiemann">Petra Tiemann</a></td><td>SPD</td><td>Stade</td></tr>
<tr><td><a title="Stephan Weil">Stephan Weil</a></td><td>SPD</td><td>Hannover-Buchholz</td></tr>
</table>
</div>`

const resolverPageTitle = "Liste_der_Mitglieder_des_Niedersächsischen_Landtages_(17._Wahlperiode)"

type fakeIndex struct {
	docs []PersonDoc
	err  error
}

func (f *fakeIndex) SearchPersons(_ context.Context, _ string, limit int) ([]PersonDoc, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.docs) {
		return f.docs[:limit], nil
	}
	return f.docs, nil
}

type fakeRecords struct {
	recs map[string]Evidence
}

func (f *fakeRecords) GetEvidence(_ context.Context, id string) (*Evidence, error) {
	ev, ok := f.recs[id]
	if !ok {
		return nil, resilience.NewNotFound("evidence", id)
	}
	return &ev, nil
}

type fakeDocs struct {
	pages map[string]string
}

func (f *fakeDocs) PageHTML(_ context.Context, pageTitle string, _ int64) (string, error) {
	html, ok := f.pages[pageTitle]
	if !ok {
		return "", resilience.NewNotFound("page", pageTitle)
	}
	return html, nil
}

func testEvidenceFixtures(t *testing.T) (rowEv, pageEv Evidence, rowRef *SnippetRef) {
	t.Helper()
	var err error
	rowRef, err = NewTableRowRef(0, 5, resolverPageTitle,
		RowMatch{PersonTitle: "Stephan_Weil", NameCell: "Stephan Weil"})
	require.NoError(t, err)

	rowEv, err = New(SourceMediaWiki, EndpointParse, resolverPageTitle,
		7504400, 241740573, "https://de.wikipedia.org/w/index.php?oldid=241740573",
		"2026-05-01T12:00:00Z", "ab12cd34", rowRef)
	require.NoError(t, err)

	pageEv, err = New(SourceMediaWiki, EndpointParse, resolverPageTitle,
		7504400, 241740573, "https://de.wikipedia.org/w/index.php?oldid=241740573",
		"2026-05-01T12:00:00Z", "ab12cd34", nil)
	require.NoError(t, err)
	return rowEv, pageEv, rowRef
}

func newTestResolver(t *testing.T, docs []PersonDoc) (*Resolver, Evidence, Evidence, *SnippetRef) {
	t.Helper()
	rowEv, pageEv, rowRef := testEvidenceFixtures(t)
	r := NewResolver(
		&fakeIndex{docs: docs},
		&fakeRecords{recs: map[string]Evidence{rowEv.ID: rowEv, pageEv.ID: pageEv}},
		&fakeDocs{pages: map[string]string{resolverPageTitle: resolverTableHTML}},
	)
	return r, rowEv, pageEv, rowRef
}

func TestResolver_PrefersTableRow(t *testing.T) {
	rowEv, pageEv, rowRef := testEvidenceFixtures(t)
	doc := PersonDoc{
		ID:             "p-weil",
		Name:           "Stephan Weil",
		WikipediaTitle: "Stephan_Weil",
		EvidenceRefs: []EvidenceRef{
			{EvidenceID: pageEv.ID, Purpose: "person_page_intro"},
			{EvidenceID: rowEv.ID, SnippetRef: rowRef, Purpose: "membership_row"},
		},
	}
	r, _, _, _ := newTestResolver(t, []PersonDoc{doc})

	persons, err := r.Resolve(context.Background(), "Stephan Weil", ResolveOptions{
		Prefer:       SnippetTableRow,
		WithSnippets: true,
	})
	require.NoError(t, err)
	require.Len(t, persons, 1)
	require.Len(t, persons[0].Citations, 2, "non-preferred citations are kept")

	first := persons[0].Citations[0]
	assert.Equal(t, SnippetTableRow, first.SnippetKind)
	require.NotNil(t, first.SnippetRef)
	assert.Equal(t, 5, first.SnippetRef.RowIndex)
	assert.Equal(t, "Stephan_Weil", first.SnippetRef.Match.PersonTitle)
	assert.Equal(t, "Stephan Weil | SPD | Hannover-Buchholz", first.Snippet)
	assert.Empty(t, first.Warning)

	assert.Equal(t, SnippetLeadParagraph, persons[0].Citations[1].SnippetKind)
}

func TestResolver_RowNeverLeaksAcrossRows(t *testing.T) {
	// A ref for row 5 must never surface another row's content.
	_, _, rowRef := testEvidenceFixtures(t)
	snippet := ExtractTableRowSnippet(resolverTableHTML, rowRef, DefaultSnippetMaxLen)
	assert.Equal(t, "Stephan Weil | SPD | Hannover-Buchholz", snippet)
	assert.NotContains(t, snippet, "Modder")
	assert.NotContains(t, snippet, "Tiemann")
}

func TestResolver_BindingMismatchSurfacesWarning(t *testing.T) {
	rowEv, _, rowRef := testEvidenceFixtures(t)
	// Upstream indexing bug: Modder's document carries Weil's row ref.
	doc := PersonDoc{
		ID:             "p-modder",
		Name:           "Johanne Modder",
		WikipediaTitle: "Johanne_Modder",
		EvidenceRefs: []EvidenceRef{
			{EvidenceID: rowEv.ID, SnippetRef: rowRef, Purpose: "membership_row"},
		},
	}
	r, _, _, _ := newTestResolver(t, []PersonDoc{doc})

	persons, err := r.Resolve(context.Background(), "Johanne Modder", ResolveOptions{
		WithSnippets: true,
	})
	require.NoError(t, err)
	require.Len(t, persons, 1)
	require.Len(t, persons[0].Citations, 1, "resolution continues despite the mismatch")

	c := persons[0].Citations[0]
	assert.Contains(t, c.Warning, "binding mismatch")
	assert.Contains(t, c.Warning, "Stephan_Weil")
	assert.Empty(t, c.Snippet, "the wrong row's snippet is never emitted")
}

func TestResolver_FallbackToBareIDs(t *testing.T) {
	_, pageEv, _ := testEvidenceFixtures(t)
	doc := PersonDoc{
		ID:             "p-weil",
		Name:           "Stephan Weil",
		WikipediaTitle: "Stephan_Weil",
		EvidenceIDs:    []string{pageEv.ID},
	}
	r, _, _, _ := newTestResolver(t, []PersonDoc{doc})

	persons, err := r.Resolve(context.Background(), "Stephan Weil", ResolveOptions{
		WithSnippets: true,
	})
	require.NoError(t, err)
	require.Len(t, persons[0].Citations, 1)

	c := persons[0].Citations[0]
	assert.Equal(t, SnippetLeadParagraph, c.SnippetKind)
	assert.Contains(t, c.Snippet, "17. Niedersächsische Landtag")
	assert.Equal(t, pageEv.ID, c.EvidenceID)
	assert.Equal(t, "2026-05-01T12:00:00Z", c.RetrievedAt)
	assert.Equal(t, "ab12cd34", c.SHA256)
}

func TestResolver_MissingEvidenceRecordSkipped(t *testing.T) {
	_, pageEv, _ := testEvidenceFixtures(t)
	doc := PersonDoc{
		ID:             "p-weil",
		WikipediaTitle: "Stephan_Weil",
		EvidenceRefs: []EvidenceRef{
			{EvidenceID: "does-not-exist"},
			{EvidenceID: pageEv.ID},
		},
	}
	r, _, _, _ := newTestResolver(t, []PersonDoc{doc})

	persons, err := r.Resolve(context.Background(), "weil", ResolveOptions{})
	require.NoError(t, err)
	require.Len(t, persons[0].Citations, 1)
	assert.Equal(t, pageEv.ID, persons[0].Citations[0].EvidenceID)
}

func TestResolver_ResolveIDs(t *testing.T) {
	r, rowEv, _, _ := newTestResolver(t, nil)

	citations, err := r.ResolveIDs(context.Background(),
		[]string{rowEv.ID, "missing"}, ResolveOptions{WithSnippets: true})
	require.NoError(t, err)
	require.Len(t, citations, 1)
	assert.Equal(t, rowEv.ID, citations[0].EvidenceID)
	assert.Equal(t, SnippetTableRow, citations[0].SnippetKind)

	_, err = r.ResolveIDs(context.Background(), []string{"missing"}, ResolveOptions{})
	assert.True(t, resilience.IsNotFound(err))
}

func TestResolver_SearchErrorPropagates(t *testing.T) {
	r := NewResolver(&fakeIndex{err: resilience.NewNotFound("index", "persons")}, &fakeRecords{}, nil)
	_, err := r.Resolve(context.Background(), "weil", ResolveOptions{})
	require.Error(t, err)
}

func TestResolver_WithoutDocumentSourceOmitsSnippets(t *testing.T) {
	rowEv, _, rowRef := testEvidenceFixtures(t)
	doc := PersonDoc{
		ID:             "p-weil",
		WikipediaTitle: "Stephan_Weil",
		EvidenceRefs:   []EvidenceRef{{EvidenceID: rowEv.ID, SnippetRef: rowRef}},
	}
	r := NewResolver(
		&fakeIndex{docs: []PersonDoc{doc}},
		&fakeRecords{recs: map[string]Evidence{rowEv.ID: rowEv}},
		nil,
	)
	persons, err := r.Resolve(context.Background(), "weil", ResolveOptions{WithSnippets: true})
	require.NoError(t, err)
	require.Len(t, persons[0].Citations, 1)
	assert.Empty(t, persons[0].Citations[0].Snippet)
	assert.Equal(t, "ab12cd34", persons[0].Citations[0].SHA256, "metadata fields stay complete")
}
