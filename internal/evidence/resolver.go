package evidence

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openparl/evidence-cli/internal/resilience"
)

// PersonDoc is a person document as the search sink stored it: the identity
// fields plus whatever evidence bindings survived indexing. Structured
// EvidenceRefs are the rich form; EvidenceIDs alone are the legacy fallback.
type PersonDoc struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	WikipediaTitle string        `json:"wikipedia_title"`
	EvidenceIDs    []string      `json:"evidence_ids,omitempty"`
	EvidenceRefs   []EvidenceRef `json:"evidence_refs,omitempty"`
}

// Index is the search side of resolution: query-by-text over person docs.
type Index interface {
	SearchPersons(ctx context.Context, query string, limit int) ([]PersonDoc, error)
}

// Records loads Evidence records by ID, typically backed by the store's
// evidence index.
type Records interface {
	GetEvidence(ctx context.Context, id string) (*Evidence, error)
}

// Documents serves the cached HTML of a page revision for snippet
// extraction. Optional: a resolver without one emits citations with empty
// snippet text.
type Documents interface {
	PageHTML(ctx context.Context, pageTitle string, revisionID int64) (string, error)
}

// ResolveOptions control one resolution pass.
type ResolveOptions struct {
	Limit        int
	Prefer       SnippetKind // surfaced first when a fact has several bindings
	WithSnippets bool
	MaxSnippet   int
}

func (o ResolveOptions) limit() int {
	if o.Limit <= 0 {
		return 5
	}
	return o.Limit
}

func (o ResolveOptions) maxSnippet() int {
	if o.MaxSnippet <= 0 {
		return DefaultSnippetMaxLen
	}
	return o.MaxSnippet
}

// Citation is one independently re-verifiable reference to source material.
// Every field needed to check the claim against the original source rides
// along; nothing requires pipeline state to interpret.
type Citation struct {
	EvidenceID  string      `json:"evidence_id"`
	SourceKind  SourceKind  `json:"source_kind"`
	PageTitle   string      `json:"page_title"`
	PageID      int64       `json:"page_id"`
	RevisionID  int64       `json:"revision_id"`
	SourceURL   string      `json:"source_url"`
	RetrievedAt string      `json:"retrieved_at"`
	SHA256      string      `json:"sha256"`
	SnippetKind SnippetKind `json:"snippet_kind"`
	Snippet     string      `json:"snippet,omitempty"`
	Purpose     string      `json:"purpose,omitempty"`
	SnippetRef  *SnippetRef `json:"snippet_ref,omitempty"`
	Warning     string      `json:"warning,omitempty"`
}

// ResolvedPerson is the citation set reconstructed for one search hit.
type ResolvedPerson struct {
	DocID          string     `json:"doc_id"`
	Name           string     `json:"name"`
	WikipediaTitle string     `json:"wikipedia_title"`
	Citations      []Citation `json:"citations"`
}

// Resolver reconstructs citations from indexed person documents. It reads
// only what the sinks stored; docs may be nil, in which case snippet text is
// omitted.
type Resolver struct {
	index   Index
	records Records
	docs    Documents
}

// NewResolver wires a resolver over a search index, an evidence record
// source and an optional document source.
func NewResolver(index Index, records Records, docs Documents) *Resolver {
	return &Resolver{index: index, records: records, docs: docs}
}

// Resolve searches the index and reconstructs citations for the top hits.
// Per-citation failures (missing evidence record, binding mismatch) degrade
// to warnings; only the search itself can fail the call.
func (r *Resolver) Resolve(ctx context.Context, query string, opts ResolveOptions) ([]ResolvedPerson, error) {
	if r.index == nil {
		return nil, eris.New("evidence: resolver has no search index")
	}
	docs, err := r.index.SearchPersons(ctx, query, opts.limit())
	if err != nil {
		return nil, eris.Wrap(err, "evidence: search persons")
	}

	out := make([]ResolvedPerson, 0, len(docs))
	for _, doc := range docs {
		out = append(out, r.ResolveDoc(ctx, doc, opts))
	}
	return out, nil
}

// ResolveDoc reconstructs the citations for a single person document.
// Structured evidence refs win over bare IDs; the preferred snippet kind is
// ordered first but nothing is discarded.
func (r *Resolver) ResolveDoc(ctx context.Context, doc PersonDoc, opts ResolveOptions) ResolvedPerson {
	resolved := ResolvedPerson{
		DocID:          doc.ID,
		Name:           doc.Name,
		WikipediaTitle: doc.WikipediaTitle,
	}

	if len(doc.EvidenceRefs) > 0 {
		for _, ref := range doc.EvidenceRefs {
			c, ok := r.citationForRef(ctx, doc, ref, opts)
			if ok {
				resolved.Citations = append(resolved.Citations, c)
			}
		}
	} else {
		for _, id := range doc.EvidenceIDs {
			c, ok := r.citationForID(ctx, doc, id, opts)
			if ok {
				resolved.Citations = append(resolved.Citations, c)
			}
		}
	}

	if opts.Prefer != "" {
		sort.SliceStable(resolved.Citations, func(i, j int) bool {
			return resolved.Citations[i].SnippetKind == opts.Prefer &&
				resolved.Citations[j].SnippetKind != opts.Prefer
		})
	}
	return resolved
}

// ResolveIDs reconstructs page-level citations for bare evidence IDs, the
// path used when no search document is in play (e.g. `evidence resolve --id`).
func (r *Resolver) ResolveIDs(ctx context.Context, ids []string, opts ResolveOptions) ([]Citation, error) {
	var out []Citation
	var missing int
	for _, id := range ids {
		ev, err := r.records.GetEvidence(ctx, id)
		if err != nil {
			if resilience.IsNotFound(err) {
				missing++
				zap.L().Warn("evidence record not found", zap.String("evidence_id", id))
				continue
			}
			return nil, err
		}
		c := r.render(ctx, *ev, ev.SnippetRef, "", opts)
		out = append(out, c)
	}
	if len(out) == 0 && missing > 0 {
		return nil, resilience.NewNotFound("evidence", fmt.Sprintf("%d id(s)", missing))
	}
	return out, nil
}

func (r *Resolver) citationForRef(ctx context.Context, doc PersonDoc, ref EvidenceRef, opts ResolveOptions) (Citation, bool) {
	ev, err := r.records.GetEvidence(ctx, ref.EvidenceID)
	if err != nil {
		zap.L().Warn("evidence record unavailable",
			zap.String("evidence_id", ref.EvidenceID), zap.Error(err))
		return Citation{}, false
	}

	snippetRef := ref.SnippetRef
	if snippetRef == nil {
		snippetRef = ev.SnippetRef
	}

	c := r.render(ctx, *ev, snippetRef, ref.Purpose, opts)
	if err := checkBinding(doc, ref.EvidenceID, snippetRef); err != nil {
		// Wrong-row citations are surfaced, never silently emitted.
		c.Warning = err.Error()
		c.Snippet = ""
		zap.L().Warn("row binding mismatch",
			zap.String("doc_id", doc.ID),
			zap.String("evidence_id", ref.EvidenceID),
			zap.Error(err))
	}
	return c, true
}

func (r *Resolver) citationForID(ctx context.Context, doc PersonDoc, id string, opts ResolveOptions) (Citation, bool) {
	ev, err := r.records.GetEvidence(ctx, id)
	if err != nil {
		zap.L().Warn("evidence record unavailable",
			zap.String("evidence_id", id), zap.Error(err))
		return Citation{}, false
	}

	c := r.render(ctx, *ev, ev.SnippetRef, "", opts)
	if err := checkBinding(doc, id, ev.SnippetRef); err != nil {
		c.Warning = err.Error()
		c.Snippet = ""
		zap.L().Warn("row binding mismatch",
			zap.String("doc_id", doc.ID),
			zap.String("evidence_id", id),
			zap.Error(err))
	}
	return c, true
}

// checkBinding enforces row/person consistency: a table_row ref resolved for
// a person must name that person in its own matched identity.
func checkBinding(doc PersonDoc, evidenceID string, ref *SnippetRef) error {
	if ref == nil || ref.Kind != SnippetTableRow || ref.Match == nil {
		return nil
	}
	if doc.WikipediaTitle == "" {
		return nil
	}
	if ref.Match.PersonTitle != doc.WikipediaTitle {
		return &resilience.BindingMismatchError{
			EvidenceID: evidenceID,
			Expected:   doc.WikipediaTitle,
			Got:        ref.Match.PersonTitle,
		}
	}
	return nil
}

func (r *Resolver) render(ctx context.Context, ev Evidence, ref *SnippetRef, purpose string, opts ResolveOptions) Citation {
	c := Citation{
		EvidenceID:  ev.ID,
		SourceKind:  ev.SourceKind,
		PageTitle:   ev.PageTitle,
		PageID:      ev.PageID,
		RevisionID:  ev.RevisionID,
		SourceURL:   ev.SourceURL,
		RetrievedAt: ev.RetrievedAt,
		SHA256:      ev.SHA256,
		SnippetKind: snippetKindOf(ref),
		Purpose:     purpose,
		SnippetRef:  ref,
	}
	if c.SourceURL == "" && ev.SourceKind == SourceMediaWiki {
		c.SourceURL = RevisionURL(ev.RevisionID)
	}
	if opts.WithSnippets && r.docs != nil {
		c.Snippet = r.snippet(ctx, ev, ref, opts.maxSnippet())
	}
	return c
}

func (r *Resolver) snippet(ctx context.Context, ev Evidence, ref *SnippetRef, maxLen int) string {
	htmlText, err := r.docs.PageHTML(ctx, ev.PageTitle, ev.RevisionID)
	if err != nil {
		zap.L().Debug("page html unavailable for snippet",
			zap.String("page_title", ev.PageTitle),
			zap.Int64("revision_id", ev.RevisionID),
			zap.Error(err))
		return ""
	}
	if ref != nil && ref.Kind == SnippetTableRow {
		return ExtractTableRowSnippet(htmlText, ref, maxLen)
	}
	return ExtractLeadParagraph(htmlText, maxLen)
}

func snippetKindOf(ref *SnippetRef) SnippetKind {
	if ref == nil {
		return SnippetLeadParagraph
	}
	return ref.Kind
}

// RevisionURL is the canonical revision-pinned URL for a MediaWiki revision.
func RevisionURL(revisionID int64) string {
	return fmt.Sprintf("https://de.wikipedia.org/w/index.php?oldid=%d", revisionID)
}
