// Package model holds the domain records flowing through the pipeline.
// Every record carries the evidence references that produced it; records are
// immutable within a run and upserted by deterministic ID.
package model

import (
	"github.com/openparl/evidence-cli/internal/evidence"
)

// Person is a parliament member extracted from a Wikipedia members table,
// optionally enriched from the person's own page.
type Person struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"name"`
	WikipediaTitle string                 `json:"wikipedia_title"`
	WikipediaURL   string                 `json:"wikipedia_url"`
	BirthDate      string                 `json:"birth_date,omitempty"`
	DeathDate      string                 `json:"death_date,omitempty"`
	Intro          string                 `json:"intro,omitempty"`
	EvidenceIDs    []string               `json:"evidence_ids"`
	EvidenceRefs   []evidence.EvidenceRef `json:"evidence_refs,omitempty"`
	Provenance     *evidence.Provenance   `json:"provenance,omitempty"`
}

// Party is a political party referenced by at least one mandate.
type Party struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	EvidenceIDs []string             `json:"evidence_ids"`
	Provenance  *evidence.Provenance `json:"provenance,omitempty"`
}

// Legislature is one electoral period of one parliament.
type Legislature struct {
	ID          string               `json:"id"`
	Parliament  string               `json:"parliament"`
	State       string               `json:"state"`
	Number      int                  `json:"number"`
	StartDate   string               `json:"start_date"`
	EndDate     string               `json:"end_date"`
	EvidenceIDs []string             `json:"evidence_ids"`
	Provenance  *evidence.Provenance `json:"provenance,omitempty"`
}

// Event is a mandate-level change parsed from a table's notes column
// (nachgerückt, ausgeschieden, fraktionswechsel, ...).
type Event struct {
	EventType   string   `json:"event_type"`
	Description string   `json:"description"`
	Date        string   `json:"date,omitempty"`
	EvidenceIDs []string `json:"evidence_ids"`
}

// Mandate binds a person to a legislature for a party and district. Its
// table-row EvidenceRef is the row-level citation for the membership fact.
type Mandate struct {
	ID            string                 `json:"id"`
	PersonID      string                 `json:"person_id"`
	LegislatureID string                 `json:"legislature_id,omitempty"`
	PartyName     string                 `json:"party_name,omitempty"`
	Wahlkreis     string                 `json:"wahlkreis,omitempty"`
	StartDate     string                 `json:"start_date,omitempty"`
	EndDate       string                 `json:"end_date,omitempty"`
	Role          string                 `json:"role"`
	Notes         string                 `json:"notes,omitempty"`
	Events        []Event                `json:"events,omitempty"`
	EvidenceIDs   []string               `json:"evidence_ids"`
	EvidenceRefs  []evidence.EvidenceRef `json:"evidence_refs,omitempty"`
	Provenance    *evidence.Provenance   `json:"provenance,omitempty"`
}

// MembersPage is the parse result for one legislature members page.
type MembersPage struct {
	SeedKey    string   `json:"seed_key"`
	PageTitle  string   `json:"page_title"`
	PageID     int64    `json:"page_id"`
	RevisionID int64    `json:"revision_id"`
	EvidenceID string   `json:"evidence_id"`
	Members    []Member `json:"members"`
}

// Member pairs a person with their mandate on one members page.
type Member struct {
	Person  Person  `json:"person"`
	Mandate Mandate `json:"mandate"`
}

// EvidenceIDsOf collects the distinct evidence IDs from refs, preserving
// first-seen order. Used to derive legacy evidence_ids for sinks.
func EvidenceIDsOf(refs []evidence.EvidenceRef) []string {
	seen := make(map[string]bool, len(refs))
	var ids []string
	for _, r := range refs {
		if r.EvidenceID == "" || seen[r.EvidenceID] {
			continue
		}
		seen[r.EvidenceID] = true
		ids = append(ids, r.EvidenceID)
	}
	return ids
}
