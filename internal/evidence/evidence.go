// Package evidence owns the provenance data model: Evidence records binding
// extracted facts to a specific source revision, SnippetRef locations inside
// a revision, and the resolver that reconstructs citations from indexed data.
package evidence

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/openparl/evidence-cli/internal/ident"
	"github.com/openparl/evidence-cli/internal/resilience"
)

// EndpointKind identifies which API endpoint produced a cached response.
type EndpointKind string

const (
	EndpointParse EndpointKind = "parse"
	EndpointQuery EndpointKind = "query"
	// EndpointDipPerson marks DIP person-list responses, which are keyed by
	// request parameters rather than a page revision.
	EndpointDipPerson EndpointKind = "dip_person"
)

// SourceKind identifies the upstream system an Evidence record came from.
type SourceKind string

const (
	SourceMediaWiki SourceKind = "mediawiki"
	SourceDip       SourceKind = "dip"
)

// Evidence is the immutable provenance unit. Its ID is a pure function of
// (page_title, revision_id, endpoint_kind, snippet_ref): identical source
// locations always carry the identical ID, across runs and machines.
type Evidence struct {
	ID           string       `json:"id"`
	SourceKind   SourceKind   `json:"source_kind"`
	EndpointKind EndpointKind `json:"endpoint_kind"`
	PageTitle    string       `json:"page_title"`
	PageID       int64        `json:"page_id"`
	RevisionID   int64        `json:"revision_id"`
	SourceURL    string       `json:"source_url"`
	RetrievedAt  string       `json:"retrieved_at"`
	SHA256       string       `json:"sha256"`
	SnippetRef   *SnippetRef  `json:"snippet_ref,omitempty"`
}

// New builds an Evidence record and computes its deterministic ID.
// RetrievedAt and SHA256 describe the fetch but deliberately do not
// participate in the ID: re-retrieving the same revision yields the same
// Evidence identity.
func New(source SourceKind, endpoint EndpointKind, pageTitle string, pageID, revisionID int64, sourceURL, retrievedAt, sum string, ref *SnippetRef) (Evidence, error) {
	id, err := ComputeID(pageTitle, revisionID, endpoint, ref)
	if err != nil {
		return Evidence{}, err
	}
	return Evidence{
		ID:           id,
		SourceKind:   source,
		EndpointKind: endpoint,
		PageTitle:    pageTitle,
		PageID:       pageID,
		RevisionID:   revisionID,
		SourceURL:    sourceURL,
		RetrievedAt:  retrievedAt,
		SHA256:       sum,
		SnippetRef:   ref,
	}, nil
}

// ComputeID derives the Evidence ID from the identity tuple. A nil ref means
// page-level evidence and contributes a fixed placeholder, so page-level and
// row-level evidence on the same revision get distinct IDs.
func ComputeID(pageTitle string, revisionID int64, endpoint EndpointKind, ref *SnippetRef) (string, error) {
	if pageTitle == "" {
		return "", eris.New("evidence: empty page title")
	}
	if endpoint == "" {
		return "", eris.New("evidence: empty endpoint kind")
	}
	refKey := "-"
	if ref != nil {
		k, err := ref.CanonicalKey()
		if err != nil {
			return "", err
		}
		refKey = k
	}
	return ident.ID(ident.NamespaceEvidence,
		pageTitle, formatInt(revisionID), string(endpoint), refKey)
}

// VerifyID recomputes the deterministic ID from the record's own fields and
// fails with a DeterminismViolationError when the stored ID disagrees. The
// stores call it on every read, so a corrupted or hand-edited row can never
// masquerade as the evidence it claims to be.
func (e Evidence) VerifyID() error {
	id, err := ComputeID(e.PageTitle, e.RevisionID, e.EndpointKind, e.SnippetRef)
	if err != nil {
		return err
	}
	if id != e.ID {
		return &resilience.DeterminismViolationError{
			Entity:   "evidence " + e.PageTitle,
			Expected: e.ID,
			Got:      id,
		}
	}
	return nil
}

// EvidenceRef attaches an Evidence ID to a domain record together with the
// in-page location and the purpose of the reference. This is what sinks
// store alongside records and what the resolver prefers over bare IDs.
type EvidenceRef struct {
	EvidenceID string      `json:"evidence_id"`
	SnippetRef *SnippetRef `json:"snippet_ref,omitempty"`
	Purpose    string      `json:"purpose,omitempty"` // membership_row, person_page_intro, ...
}

// Provenance summarizes where a record's facts came from; carried on every
// exported domain record next to its evidence IDs.
type Provenance struct {
	EvidenceIDs     []string `json:"evidence_ids"`
	SourcePageTitle string   `json:"source_page_title"`
	SourcePageID    int64    `json:"source_page_id"`
	RevisionID      int64    `json:"revision_id"`
	RetrievedAt     string   `json:"retrieved_at"`
	SHA256          string   `json:"sha256"`
}

// SHA256Hex returns the lowercase hex SHA-256 of raw.
func SHA256Hex(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// SHA256JSON hashes the canonical JSON encoding of v (struct field order,
// which json.Marshal keeps stable, plus sorted map keys).
func SHA256JSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "evidence: marshal for hashing")
	}
	return SHA256Hex(b), nil
}
