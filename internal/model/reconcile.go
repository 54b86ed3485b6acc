package model

import "github.com/openparl/evidence-cli/internal/evidence"

// AssertionStatus is the decided state of a candidate cross-source match.
type AssertionStatus string

const (
	StatusAccepted AssertionStatus = "accepted"
	StatusPending  AssertionStatus = "pending"
	StatusRejected AssertionStatus = "rejected"
)

// AssertionMethod records how a link assertion was produced.
type AssertionMethod string

const (
	MethodRuleset  AssertionMethod = "ruleset"
	MethodOverride AssertionMethod = "override"
)

// WikipediaPersonRecord is the Wikipedia-scoped side of reconciliation.
type WikipediaPersonRecord struct {
	ID             string               `json:"id"`
	WikipediaTitle string               `json:"wikipedia_title"`
	WikipediaURL   string               `json:"wikipedia_url"`
	PageID         int64                `json:"page_id"`
	RevisionID     int64                `json:"revision_id"`
	Name           string               `json:"name"`
	BirthDate      string               `json:"birth_date,omitempty"`
	DeathDate      string               `json:"death_date,omitempty"`
	Intro          string               `json:"intro,omitempty"`
	EvidenceIDs    []string             `json:"evidence_ids"`
	Provenance     *evidence.Provenance `json:"provenance,omitempty"`
}

// DipPersonRecord is the DIP-scoped side of reconciliation. Name fields keep
// the DIP API's own vocabulary.
type DipPersonRecord struct {
	ID           string   `json:"id"`
	DipPersonID  int64    `json:"dip_person_id"`
	Vorname      string   `json:"vorname,omitempty"`
	Nachname     string   `json:"nachname,omitempty"`
	Namenszusatz string   `json:"namenszusatz,omitempty"`
	Titel        string   `json:"titel,omitempty"`
	Fraktion     string   `json:"fraktion,omitempty"`
	Wahlperiode  []int    `json:"wahlperiode,omitempty"`
	EvidenceIDs  []string `json:"evidence_ids"`
}

// CanonicalPerson is the merged identity produced by an accepted assertion.
// It subsumes the identifiers of the records it merges and its ID is
// deterministic over the accepted identifier pair.
type CanonicalPerson struct {
	ID          string            `json:"id"`
	DisplayName string            `json:"display_name"`
	Identifiers map[string]string `json:"identifiers"` // wikipedia_title, wikipedia_page_id, dip_person_id
	EvidenceIDs []string          `json:"evidence_ids"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// PersonLinkAssertion is the audit record for one proposed or decided match
// between a Wikipedia record and a DIP record.
type PersonLinkAssertion struct {
	ID                 string          `json:"id"`
	WikipediaPersonRef string          `json:"wikipedia_person_ref"`
	DipPersonRef       string          `json:"dip_person_ref"`
	RulesetVersion     string          `json:"ruleset_version"`
	Method             AssertionMethod `json:"method"`
	Score              float64         `json:"score"`
	Status             AssertionStatus `json:"status"`
	Reason             string          `json:"reason"`
	CanonicalPersonID  string          `json:"canonical_person_id,omitempty"`
	EvidenceIDs        []string        `json:"evidence_ids"`
	CreatedAt          string          `json:"created_at"`
}

// LinkOverride is an operator decision for one Wikipedia title, taking
// precedence over any computed assertion for that key.
type LinkOverride struct {
	DipPersonID int64           `yaml:"dip_person_id" json:"dip_person_id"`
	Status      AssertionStatus `yaml:"status" json:"status"`
	Reason      string          `yaml:"reason" json:"reason"`
}
