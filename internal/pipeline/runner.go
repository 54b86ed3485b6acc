package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openparl/evidence-cli/internal/cache"
	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/model"
	"github.com/openparl/evidence-cli/internal/parser"
	"github.com/openparl/evidence-cli/internal/reconcile"
	"github.com/openparl/evidence-cli/internal/seeds"
	"github.com/openparl/evidence-cli/internal/sink"
	"github.com/openparl/evidence-cli/internal/store"
)

// Deps are the runner's collaborators. Graph, Search and ExportRoot are
// optional; a nil sink is skipped and counted nowhere.
type Deps struct {
	Cache     *cache.Store
	Store     store.Store
	Seeds     seeds.Set
	Overrides map[string]model.LinkOverride

	Graph      *sink.Neo4jSink
	Search     *sink.MeiliSink
	ExportRoot string

	MaxConcurrentSeeds int
	FetchPersonPages   bool
}

// RunOptions select and shape one run.
type RunOptions struct {
	// RunID overrides the generated run id. Re-using an id supersedes
	// the earlier run's bookkeeping row.
	RunID string
	// SeedKeys restricts the run; empty means every configured seed.
	SeedKeys []string
	// Wahlperiode selects the DIP electoral periods to ingest; empty
	// skips DIP ingestion and reconciliation has nothing new to match.
	Wahlperiode []int

	Force         bool
	Revalidate    bool
	SkipReconcile bool
	// SkipSeeds runs only the DIP and reconciliation stages.
	SkipSeeds bool
}

// SeedResult is the per-seed slice of a run report.
type SeedResult struct {
	SeedKey   string `json:"seed_key"`
	FromCache bool   `json:"from_cache"`
	Members   int    `json:"members"`
	Error     string `json:"error,omitempty"`
}

// Report summarizes one run.
type Report struct {
	RunID       string          `json:"run_id"`
	Seeds       []SeedResult    `json:"seeds"`
	DipPersons  int             `json:"dip_persons"`
	Accepted    int             `json:"accepted"`
	Pending     int             `json:"pending"`
	Rejected    int             `json:"rejected"`
	Counts      store.RunCounts `json:"counts"`
	ManifestLoc string          `json:"manifest"`
}

// Runner executes pipeline runs.
type Runner struct {
	deps Deps
}

// NewRunner validates the required collaborators.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.Cache == nil {
		return nil, eris.New("pipeline: cache is required")
	}
	if deps.Store == nil {
		return nil, eris.New("pipeline: store is required")
	}
	if deps.MaxConcurrentSeeds <= 0 {
		deps.MaxConcurrentSeeds = 4
	}
	return &Runner{deps: deps}, nil
}

// Run executes fetch, parse, ingest, reconcile and sink writes for the
// selected seeds. Per-seed failures are recorded and other seeds keep
// going; only setup and reconciliation failures abort the run.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	runID := opts.RunID
	if runID == "" {
		runID = "run-" + time.Now().UTC().Format("20060102-150405")
	}

	manifest, err := r.deps.Cache.OpenManifest(runID)
	if err != nil {
		return nil, err
	}
	defer manifest.Close()

	keys := opts.SeedKeys
	if len(keys) == 0 && !opts.SkipSeeds {
		keys = r.deps.Seeds.Keys()
	}
	selected := make([]seeds.Seed, 0, len(keys))
	for _, key := range keys {
		seed, err := r.deps.Seeds.Get(key)
		if err != nil {
			return nil, err
		}
		selected = append(selected, seed)
	}

	if err := r.deps.Store.CreateRun(ctx, runID, keys); err != nil {
		return nil, err
	}

	var exporter *sink.Exporter
	if r.deps.ExportRoot != "" {
		exporter, err = sink.NewExporter(r.deps.ExportRoot, runID)
		if err != nil {
			return nil, err
		}
	}
	if r.deps.Graph != nil {
		r.deps.Graph.EnsureSchema(ctx)
	}
	if r.deps.Search != nil {
		if err := r.deps.Search.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
	}

	report := &Report{RunID: runID, ManifestLoc: manifest.Path()}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.deps.MaxConcurrentSeeds)
	for _, seed := range selected {
		seed := seed
		g.Go(func() error {
			res := r.runSeed(gctx, manifest, exporter, seed, opts)
			mu.Lock()
			defer mu.Unlock()
			report.Seeds = append(report.Seeds, res)
			if res.Error != "" {
				report.Counts.Errors++
			} else {
				report.Counts.Fetched++
				report.Counts.Parsed++
				report.Counts.SinkWrites++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.failRun(ctx, runID, report)
		return report, err
	}

	if len(opts.Wahlperiode) > 0 {
		n, err := r.ingestDip(ctx, manifest, opts)
		if err != nil {
			r.failRun(ctx, runID, report)
			return report, err
		}
		report.DipPersons = n
	}

	if !opts.SkipReconcile {
		if err := r.reconcile(ctx, manifest, exporter, report, opts); err != nil {
			r.failRun(ctx, runID, report)
			return report, err
		}
	}

	if err := r.deps.Store.CompleteRun(ctx, runID, "complete", report.Counts); err != nil {
		return report, err
	}
	return report, nil
}

func (r *Runner) failRun(ctx context.Context, runID string, report *Report) {
	report.Counts.Errors++
	if err := r.deps.Store.CompleteRun(ctx, runID, "failed", report.Counts); err != nil {
		zap.L().Warn("could not mark run failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// runSeed fetches, parses and sinks one seed. Errors become the seed's
// result; they are also written to the manifest so the run stays
// auditable.
func (r *Runner) runSeed(ctx context.Context, manifest *cache.Manifest, exporter *sink.Exporter, seed seeds.Seed, opts RunOptions) SeedResult {
	res := SeedResult{SeedKey: seed.Key}
	fail := func(kind cache.EventKind, err error) SeedResult {
		res.Error = err.Error()
		_ = manifest.Record(cache.Event{
			Kind: kind, SeedKey: seed.Key, Outcome: "error", Error: err.Error(),
		})
		zap.L().Error("seed failed",
			zap.String("seed", seed.Key),
			zap.String("stage", string(kind)),
			zap.Error(err),
		)
		return res
	}

	req := cache.Request{
		Source:           evidence.SourceMediaWiki,
		Endpoint:         evidence.EndpointParse,
		Title:            seed.PageTitle,
		PinnedRevisionID: seed.RevisionID,
		PinnedPageID:     seed.PageID,
	}
	resp, err := r.deps.Cache.GetOrFetch(ctx, req, cache.Options{
		Force:      opts.Force,
		Revalidate: opts.Revalidate,
	})
	if err != nil {
		return fail(cache.EventFetch, err)
	}
	res.FromCache = resp.FromCache
	outcome := "ok"
	if resp.FromCache {
		outcome = "cached"
	}
	_ = manifest.Record(cache.Event{
		Kind:      cache.EventFetch,
		SeedKey:   seed.Key,
		CacheKey:  r.deps.Cache.ResolveKey(req).String(),
		EntityIDs: pageEvidenceID(resp.Meta),
		Outcome:   outcome,
	})

	src, err := pageSource(resp)
	if err != nil {
		return fail(cache.EventParse, err)
	}
	page, evs, err := parser.ParseMembersPage(src, seed)
	if err != nil {
		return fail(cache.EventParse, err)
	}
	res.Members = len(page.Members)
	_ = manifest.Record(cache.Event{
		Kind:      cache.EventParse,
		SeedKey:   seed.Key,
		EntityIDs: evidenceIDs(evs),
		Outcome:   "ok",
		Detail:    fmt.Sprintf("%d members, revision %d", len(page.Members), page.RevisionID),
	})

	for _, ev := range evs {
		if err := r.deps.Store.UpsertEvidence(ctx, ev); err != nil {
			return fail(cache.EventSinkWrite, err)
		}
	}
	for _, m := range page.Members {
		rec := r.wikiRecord(ctx, manifest, m, src, opts)
		if err := r.deps.Store.UpsertWikipediaPerson(ctx, rec); err != nil {
			return fail(cache.EventSinkWrite, err)
		}
	}

	if r.deps.Search != nil {
		if err := r.deps.Search.IndexMembers(ctx, page); err != nil {
			return fail(cache.EventSinkWrite, err)
		}
	}
	if r.deps.Graph != nil {
		stats, err := r.deps.Graph.WriteMembers(ctx, page, evs)
		if err != nil {
			return fail(cache.EventSinkWrite, err)
		}
		_ = manifest.Record(cache.Event{
			Kind:      cache.EventSinkWrite,
			SeedKey:   seed.Key,
			EntityIDs: evidenceIDs(evs),
			Outcome:   "ok",
			Detail:    fmt.Sprintf("graph: %d nodes, %d rels created", stats.NodesCreated, stats.RelationshipsCreated),
		})
	}
	if exporter != nil {
		if err := exporter.WriteMembers(page, evs); err != nil {
			return fail(cache.EventExport, err)
		}
		_ = manifest.Record(cache.Event{
			Kind:    cache.EventExport,
			SeedKey: seed.Key,
			Outcome: "ok",
		})
	}
	return res
}

// wikiRecord builds the reconciliation-side record for one member. With
// person-page fetching enabled it enriches the record from the member's
// own article; a failed person fetch degrades to the row-derived record.
func (r *Runner) wikiRecord(ctx context.Context, manifest *cache.Manifest, m model.Member, src parser.PageSource, opts RunOptions) model.WikipediaPersonRecord {
	rowIDs := mergeIDs(m.Person.EvidenceIDs, m.Mandate.EvidenceIDs)
	rec := model.WikipediaPersonRecord{
		ID:             m.Person.ID,
		WikipediaTitle: m.Person.WikipediaTitle,
		WikipediaURL:   m.Person.WikipediaURL,
		PageID:         src.PageID,
		RevisionID:     src.RevisionID,
		Name:           m.Person.Name,
		EvidenceIDs:    rowIDs,
		Provenance:     m.Person.Provenance,
	}
	if !r.deps.FetchPersonPages || m.Person.WikipediaTitle == "" {
		return rec
	}

	enriched, err := r.fetchPersonPage(ctx, m.Person.WikipediaTitle, opts)
	if err != nil {
		_ = manifest.Record(cache.Event{
			Kind:    cache.EventFetch,
			SeedKey: m.Person.WikipediaTitle,
			Outcome: "skipped",
			Detail:  "person page unavailable",
			Error:   err.Error(),
		})
		zap.L().Warn("person page unavailable, keeping row-derived record",
			zap.String("title", m.Person.WikipediaTitle),
			zap.Error(err),
		)
		return rec
	}
	enriched.EvidenceIDs = mergeIDs(enriched.EvidenceIDs, rowIDs)
	return enriched
}

func (r *Runner) fetchPersonPage(ctx context.Context, title string, opts RunOptions) (model.WikipediaPersonRecord, error) {
	req := cache.Request{
		Source:   evidence.SourceMediaWiki,
		Endpoint: evidence.EndpointParse,
		Title:    title,
	}
	resp, err := r.deps.Cache.GetOrFetch(ctx, req, cache.Options{
		Force:      opts.Force,
		Revalidate: opts.Revalidate,
	})
	if err != nil {
		return model.WikipediaPersonRecord{}, err
	}
	src, err := pageSource(resp)
	if err != nil {
		return model.WikipediaPersonRecord{}, err
	}
	person, ev, err := parser.ParsePersonPage(src)
	if err != nil {
		return model.WikipediaPersonRecord{}, err
	}
	if err := r.deps.Store.UpsertEvidence(ctx, ev); err != nil {
		return model.WikipediaPersonRecord{}, err
	}
	return parser.WikipediaRecord(person, src), nil
}

// reconcile matches stored Wikipedia records against stored DIP records
// and writes assertions, canonical persons and the sinks.
func (r *Runner) reconcile(ctx context.Context, manifest *cache.Manifest, exporter *sink.Exporter, report *Report, opts RunOptions) error {
	wiki, err := r.deps.Store.ListWikipediaPersons(ctx)
	if err != nil {
		return err
	}
	var dipRecords []model.DipPersonRecord
	if len(opts.Wahlperiode) > 0 {
		for _, wp := range opts.Wahlperiode {
			recs, err := r.deps.Store.ListDipPersons(ctx, wp)
			if err != nil {
				return err
			}
			dipRecords = appendDipRecords(dipRecords, recs)
		}
	} else {
		dipRecords, err = r.deps.Store.ListDipPersons(ctx, 0)
		if err != nil {
			return err
		}
	}

	engine := reconcile.NewEngine(nil, r.deps.Overrides)
	result, err := engine.Reconcile(wiki, dipRecords)
	if err != nil {
		return err
	}
	report.Accepted = result.Accepted
	report.Pending = result.Pending
	report.Rejected = result.Rejected

	var entityIDs []string
	for _, a := range result.Assertions {
		if err := r.deps.Store.UpsertAssertion(ctx, a); err != nil {
			return err
		}
		entityIDs = append(entityIDs, a.ID)
	}
	for _, c := range result.CanonicalPersons {
		if err := r.deps.Store.UpsertCanonicalPerson(ctx, c); err != nil {
			return err
		}
	}
	_ = manifest.Record(cache.Event{
		Kind:      cache.EventReconcile,
		Outcome:   "ok",
		EntityIDs: entityIDs,
		Detail: fmt.Sprintf("%d accepted, %d pending, %d rejected",
			result.Accepted, result.Pending, result.Rejected),
	})

	if r.deps.Graph != nil {
		if _, err := r.deps.Graph.WriteReconciliation(ctx, result.CanonicalPersons, result.Assertions); err != nil {
			return err
		}
		report.Counts.SinkWrites++
	}
	if exporter != nil {
		if err := exporter.WriteReconciliation(result.CanonicalPersons, result.Assertions); err != nil {
			return err
		}
		_ = manifest.Record(cache.Event{Kind: cache.EventExport, Outcome: "ok", Detail: "reconciliation"})
	}
	return nil
}

func evidenceIDs(evs []evidence.Evidence) []string {
	out := make([]string, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.ID)
	}
	return out
}

// pageEvidenceID is the page-level evidence identity of a fetched revision,
// derivable from the fetch metadata alone.
func pageEvidenceID(meta cache.Metadata) []string {
	id, err := evidence.ComputeID(meta.PageTitle, meta.RevisionID, evidence.EndpointParse, nil)
	if err != nil {
		return nil
	}
	return []string{id}
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, id := range a {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range b {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func appendDipRecords(dst, src []model.DipPersonRecord) []model.DipPersonRecord {
	seen := make(map[string]bool, len(dst))
	for _, r := range dst {
		seen[r.ID] = true
	}
	for _, r := range src {
		if !seen[r.ID] {
			seen[r.ID] = true
			dst = append(dst, r)
		}
	}
	return dst
}
