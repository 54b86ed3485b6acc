package sink

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/model"
)

func TestExporter_WriteMembers(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	e, err := NewExporter(root, "run-123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "run-123"), e.Dir())

	page := testMembersPage(t)
	evs := []evidence.Evidence{
		{ID: "zz-later", PageTitle: "Landtag"},
		{ID: "aa-first", PageTitle: "Landtag"},
	}
	require.NoError(t, e.WriteMembers(page, evs))

	var gotPage model.MembersPage
	readJSONFile(t, filepath.Join(e.Dir(), "members_nds-17.json"), &gotPage)
	assert.Equal(t, "nds-17", gotPage.SeedKey)
	require.Len(t, gotPage.Members, 1)

	var gotEvs []evidence.Evidence
	readJSONFile(t, filepath.Join(e.Dir(), "evidence_nds-17.json"), &gotEvs)
	require.Len(t, gotEvs, 2)
	assert.Equal(t, "aa-first", gotEvs[0].ID, "evidence sorted by ID")
}

func TestExporter_WriteReconciliationSortsByID(t *testing.T) {
	t.Parallel()

	e, err := NewExporter(t.TempDir(), "run-123")
	require.NoError(t, err)

	canonical := []model.CanonicalPerson{{ID: "b"}, {ID: "a"}}
	assertions := []model.PersonLinkAssertion{{ID: "2"}, {ID: "1"}}
	require.NoError(t, e.WriteReconciliation(canonical, assertions))

	var gotCanonical []model.CanonicalPerson
	readJSONFile(t, filepath.Join(e.Dir(), "canonical_persons.json"), &gotCanonical)
	assert.Equal(t, "a", gotCanonical[0].ID)

	var gotAssertions []model.PersonLinkAssertion
	readJSONFile(t, filepath.Join(e.Dir(), "assertions.json"), &gotAssertions)
	assert.Equal(t, "1", gotAssertions[0].ID)
}

func TestExporter_Deterministic(t *testing.T) {
	t.Parallel()

	e1, err := NewExporter(t.TempDir(), "run-a")
	require.NoError(t, err)
	e2, err := NewExporter(t.TempDir(), "run-b")
	require.NoError(t, err)

	persons := []model.Person{{ID: "p2", Name: "B"}, {ID: "p1", Name: "A"}}
	require.NoError(t, e1.WritePersons(persons))
	require.NoError(t, e2.WritePersons([]model.Person{persons[1], persons[0]}))

	b1, err := os.ReadFile(filepath.Join(e1.Dir(), "persons.json"))
	require.NoError(t, err)
	b2, err := os.ReadFile(filepath.Join(e2.Dir(), "persons.json"))
	require.NoError(t, err)
	assert.Equal(t, b1, b2, "input order must not change export bytes")
}

func TestExporter_WriteSourceRecords(t *testing.T) {
	t.Parallel()

	e, err := NewExporter(t.TempDir(), "export-1")
	require.NoError(t, err)

	wiki := []model.WikipediaPersonRecord{{ID: "w2"}, {ID: "w1"}}
	dip := []model.DipPersonRecord{{ID: "d2", DipPersonID: 2}, {ID: "d1", DipPersonID: 1}}
	require.NoError(t, e.WriteSourceRecords(wiki, dip))

	var gotWiki []model.WikipediaPersonRecord
	readJSONFile(t, filepath.Join(e.Dir(), "wikipedia_persons.json"), &gotWiki)
	assert.Equal(t, "w1", gotWiki[0].ID)

	var gotDip []model.DipPersonRecord
	readJSONFile(t, filepath.Join(e.Dir(), "dip_persons.json"), &gotDip)
	assert.Equal(t, "d1", gotDip[0].ID)
}

func readJSONFile(t *testing.T, path string, v any) {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, v))
}
