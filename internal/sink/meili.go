package sink

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/pkg/meili"
)

// DefaultPersonsIndex is the Meilisearch index for person documents.
const DefaultPersonsIndex = "persons"

// MeiliSink indexes person documents for evidence resolution. It doubles
// as the resolver's search backend (evidence.Index).
type MeiliSink struct {
	client meili.Client
	index  string
}

// NewMeiliSink wraps a Meilisearch client. An empty index name selects
// DefaultPersonsIndex.
func NewMeiliSink(client meili.Client, index string) *MeiliSink {
	if index == "" {
		index = DefaultPersonsIndex
	}
	return &MeiliSink{client: client, index: index}
}

// EnsureIndexes creates the persons index and applies search settings.
func (s *MeiliSink) EnsureIndexes(ctx context.Context) error {
	settings := &meili.IndexSettings{
		SearchableAttributes: []string{"name", "wikipedia_title"},
		FilterableAttributes: []string{"seed_key"},
	}
	if err := s.client.EnsureIndex(ctx, s.index, "id", settings); err != nil {
		return eris.Wrap(err, "sink: ensure persons index")
	}
	return nil
}

// personDocument is the indexed shape. It is a superset of
// evidence.PersonDoc so search hits unmarshal straight into the
// resolver's input type.
type personDocument struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	WikipediaTitle string                 `json:"wikipedia_title"`
	SeedKey        string                 `json:"seed_key,omitempty"`
	PartyName      string                 `json:"party_name,omitempty"`
	EvidenceIDs    []string               `json:"evidence_ids"`
	EvidenceRefs   []evidence.EvidenceRef `json:"evidence_refs,omitempty"`
}

// IndexMembers indexes one parsed members page. Mandate evidence refs are
// folded into the person document so a search hit carries the row-level
// refs the resolver prefers.
func (s *MeiliSink) IndexMembers(ctx context.Context, page *model.MembersPage) error {
	if len(page.Members) == 0 {
		return nil
	}
	docs := make([]personDocument, 0, len(page.Members))
	for _, m := range page.Members {
		docs = append(docs, memberDocument(page.SeedKey, m))
	}
	if err := s.client.AddDocuments(ctx, s.index, docs); err != nil {
		return eris.Wrapf(err, "sink: index members for %s", page.SeedKey)
	}
	return nil
}

func memberDocument(seedKey string, m model.Member) personDocument {
	refs := append([]evidence.EvidenceRef{}, m.Person.EvidenceRefs...)
	refs = append(refs, m.Mandate.EvidenceRefs...)

	ids := append([]string{}, m.Person.EvidenceIDs...)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, id := range m.Mandate.EvidenceIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	return personDocument{
		ID:             m.Person.ID,
		Name:           m.Person.Name,
		WikipediaTitle: m.Person.WikipediaTitle,
		SeedKey:        seedKey,
		PartyName:      m.Mandate.PartyName,
		EvidenceIDs:    ids,
		EvidenceRefs:   refs,
	}
}

// SearchPersons implements evidence.Index.
func (s *MeiliSink) SearchPersons(ctx context.Context, query string, limit int) ([]evidence.PersonDoc, error) {
	hits, err := s.client.Search(ctx, s.index, query, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "sink: search persons %q", query)
	}
	docs := make([]evidence.PersonDoc, 0, len(hits))
	for _, hit := range hits {
		var doc evidence.PersonDoc
		if err := json.Unmarshal(hit, &doc); err != nil {
			return nil, eris.Wrap(err, "sink: decode person hit")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Health reports whether the search backend is reachable.
func (s *MeiliSink) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}
