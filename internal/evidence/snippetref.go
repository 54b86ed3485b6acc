package evidence

import (
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
)

// SnippetRefVersion is the current SnippetRef schema version. Stored with
// every ref so later schema changes can coexist with indexed data.
const SnippetRefVersion = 1

// SnippetKind tags where inside a revision a fact was found.
type SnippetKind string

const (
	SnippetTableRow      SnippetKind = "table_row"
	SnippetLeadParagraph SnippetKind = "lead_paragraph"
)

// RowMatch records the identity columns a table row was bound by. Binding is
// computed from the row's own matched cells, never from parse order; the
// resolver verifies PersonTitle against the search hit it is resolving for.
type RowMatch struct {
	PersonTitle string `json:"person_title"`
	NameCell    string `json:"name_cell,omitempty"`
}

// SnippetRef describes a location inside a source revision. It is a tagged
// variant: table_row refs carry table/row indices and the matched identity,
// lead_paragraph refs carry only the tag. Equality is structural.
type SnippetRef struct {
	Version    int         `json:"version"`
	Kind       SnippetKind `json:"type"`
	TableIndex int         `json:"table_index,omitempty"`
	RowIndex   int         `json:"row_index,omitempty"`
	RowKind    string      `json:"row_kind,omitempty"` // "data" for body rows
	TitleHint  string      `json:"title_hint,omitempty"`
	Match      *RowMatch   `json:"match,omitempty"`
}

// NewTableRowRef builds a validated table_row SnippetRef. The match identity
// is required: a row ref that cannot say who its row names is exactly the
// binding bug the resolver's consistency check exists to catch.
func NewTableRowRef(tableIndex, rowIndex int, titleHint string, match RowMatch) (*SnippetRef, error) {
	if tableIndex < 0 || rowIndex < 0 {
		return nil, eris.Errorf("snippet ref: negative index (table %d, row %d)", tableIndex, rowIndex)
	}
	if match.PersonTitle == "" {
		return nil, eris.New("snippet ref: table row without matched person title")
	}
	return &SnippetRef{
		Version:    SnippetRefVersion,
		Kind:       SnippetTableRow,
		TableIndex: tableIndex,
		RowIndex:   rowIndex,
		RowKind:    "data",
		TitleHint:  titleHint,
		Match:      &match,
	}, nil
}

// NewLeadParagraphRef builds a lead_paragraph SnippetRef.
func NewLeadParagraphRef() *SnippetRef {
	return &SnippetRef{Version: SnippetRefVersion, Kind: SnippetLeadParagraph}
}

// Validate checks structural invariants for the ref's kind.
func (r *SnippetRef) Validate() error {
	if r == nil {
		return nil
	}
	if r.Version <= 0 {
		return eris.New("snippet ref: missing version")
	}
	switch r.Kind {
	case SnippetTableRow:
		if r.TableIndex < 0 || r.RowIndex < 0 {
			return eris.New("snippet ref: negative table/row index")
		}
		if r.Match == nil || r.Match.PersonTitle == "" {
			return eris.New("snippet ref: table row without matched person title")
		}
		return nil
	case SnippetLeadParagraph:
		return nil
	default:
		return eris.Errorf("snippet ref: unknown kind %q", r.Kind)
	}
}

// CanonicalKey encodes the ref for ID derivation. Only location identity
// participates: the matched person title is part of the binding, the free-
// text name cell is not (markup churn in the cell must not change the ID).
func (r *SnippetRef) CanonicalKey() (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	switch r.Kind {
	case SnippetTableRow:
		return fmt.Sprintf("table_row:%d:%d:%s", r.TableIndex, r.RowIndex, r.Match.PersonTitle), nil
	case SnippetLeadParagraph:
		return "lead_paragraph", nil
	default:
		return "", eris.Errorf("snippet ref: unknown kind %q", r.Kind)
	}
}

// Equal reports structural field equality.
func (r *SnippetRef) Equal(o *SnippetRef) bool {
	if r == nil || o == nil {
		return r == o
	}
	if r.Version != o.Version || r.Kind != o.Kind ||
		r.TableIndex != o.TableIndex || r.RowIndex != o.RowIndex ||
		r.RowKind != o.RowKind || r.TitleHint != o.TitleHint {
		return false
	}
	if (r.Match == nil) != (o.Match == nil) {
		return false
	}
	if r.Match != nil && *r.Match != *o.Match {
		return false
	}
	return true
}

func formatInt(n int64) string {
	return strconv.FormatInt(n, 10)
}
