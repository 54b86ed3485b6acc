package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/model"
)

// Exporter writes pipeline output as JSON files under <root>/<run_id>/.
// Files are deterministic for identical input: records sorted by ID,
// indented encoding, no timestamps beyond what the records carry.
type Exporter struct {
	root  string
	runID string
}

// NewExporter creates the per-run export directory.
func NewExporter(root, runID string) (*Exporter, error) {
	dir := filepath.Join(root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "sink: create export dir")
	}
	return &Exporter{root: root, runID: runID}, nil
}

// Dir returns the per-run export directory.
func (e *Exporter) Dir() string {
	return filepath.Join(e.root, e.runID)
}

// WriteMembers exports one parsed members page and its evidence records.
func (e *Exporter) WriteMembers(page *model.MembersPage, evs []evidence.Evidence) error {
	sorted := append([]evidence.Evidence{}, evs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	if err := e.writeJSON(fmt.Sprintf("members_%s.json", page.SeedKey), page); err != nil {
		return err
	}
	return e.writeJSON(fmt.Sprintf("evidence_%s.json", page.SeedKey), sorted)
}

// WriteReconciliation exports canonical persons and link assertions.
func (e *Exporter) WriteReconciliation(canonical []model.CanonicalPerson, assertions []model.PersonLinkAssertion) error {
	cs := append([]model.CanonicalPerson{}, canonical...)
	sort.Slice(cs, func(i, j int) bool { return cs[i].ID < cs[j].ID })

	as := append([]model.PersonLinkAssertion{}, assertions...)
	sort.Slice(as, func(i, j int) bool { return as[i].ID < as[j].ID })

	if err := e.writeJSON("canonical_persons.json", cs); err != nil {
		return err
	}
	return e.writeJSON("assertions.json", as)
}

// WritePersons exports enriched person records (person-page parse output).
func (e *Exporter) WritePersons(persons []model.Person) error {
	ps := append([]model.Person{}, persons...)
	sort.Slice(ps, func(i, j int) bool { return ps[i].ID < ps[j].ID })
	return e.writeJSON("persons.json", ps)
}

// WriteSourceRecords exports the stored source-side person records.
func (e *Exporter) WriteSourceRecords(wiki []model.WikipediaPersonRecord, dip []model.DipPersonRecord) error {
	ws := append([]model.WikipediaPersonRecord{}, wiki...)
	sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })

	ds := append([]model.DipPersonRecord{}, dip...)
	sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })

	if err := e.writeJSON("wikipedia_persons.json", ws); err != nil {
		return err
	}
	return e.writeJSON("dip_persons.json", ds)
}

func (e *Exporter) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrapf(err, "sink: marshal %s", name)
	}
	b = append(b, '\n')
	path := filepath.Join(e.Dir(), name)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return eris.Wrapf(err, "sink: write %s", name)
	}
	return nil
}
