package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparl/evidence-cli/internal/evidence"
)

// fakeFetcher serves canned responses and counts network accesses.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    atomic.Int64
	liveRev  int64
	raw      []byte
	delay    time.Duration
	fetchErr error
}

func (f *fakeFetcher) Fetch(ctx context.Context, req Request) ([]byte, Metadata, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, Metadata{}, f.fetchErr
	}
	rev := f.liveRev
	if req.PinnedRevisionID > 0 {
		rev = req.PinnedRevisionID
	}
	meta := Metadata{
		PageTitle:   req.Title,
		PageID:      42,
		RevisionID:  rev,
		SourceURL:   fmt.Sprintf("https://example.org/w/index.php?title=%s&oldid=%d", req.Title, rev),
		RetrievedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
		SHA256:      evidence.SHA256Hex(f.raw),
	}
	return f.raw, meta, nil
}

func (f *fakeFetcher) LiveRevision(ctx context.Context, req Request) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.liveRev, nil
}

func newTestStore(t *testing.T, f Fetcher) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), f)
	require.NoError(t, err)
	return s
}

func wikiRequest(title string) Request {
	return Request{
		Source:   evidence.SourceMediaWiki,
		Endpoint: evidence.EndpointParse,
		Title:    title,
	}
}

func TestGetOrFetch_Idempotent(t *testing.T) {
	f := &fakeFetcher{liveRev: 100, raw: []byte(`{"parse":{"title":"Landtag"}}`)}
	s := newTestStore(t, f)
	ctx := context.Background()

	first, err := s.GetOrFetch(ctx, wikiRequest("Landtag"), Options{})
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, int64(100), first.Meta.RevisionID)

	second, err := s.GetOrFetch(ctx, wikiRequest("Landtag"), Options{})
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Raw, second.Raw)
	assert.Equal(t, first.Meta.SHA256, second.Meta.SHA256)

	assert.Equal(t, int64(1), f.calls.Load(), "second call must not touch the network")
}

func TestGetOrFetch_Force(t *testing.T) {
	f := &fakeFetcher{liveRev: 100, raw: []byte(`{"a":1}`)}
	s := newTestStore(t, f)
	ctx := context.Background()

	_, err := s.GetOrFetch(ctx, wikiRequest("Landtag"), Options{})
	require.NoError(t, err)
	_, err = s.GetOrFetch(ctx, wikiRequest("Landtag"), Options{Force: true})
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.calls.Load())
}

func TestGetOrFetch_RevalidateUnchanged(t *testing.T) {
	f := &fakeFetcher{liveRev: 100, raw: []byte(`{"a":1}`)}
	s := newTestStore(t, f)
	ctx := context.Background()

	_, err := s.GetOrFetch(ctx, wikiRequest("Landtag"), Options{})
	require.NoError(t, err)

	resp, err := s.GetOrFetch(ctx, wikiRequest("Landtag"), Options{Revalidate: true})
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, int64(1), f.calls.Load(), "unchanged revision must not refetch")
}

func TestGetOrFetch_RevalidateNewRevisionKeepsOld(t *testing.T) {
	f := &fakeFetcher{liveRev: 100, raw: []byte(`{"rev":100}`)}
	s := newTestStore(t, f)
	ctx := context.Background()

	req := wikiRequest("Landtag")
	first, err := s.GetOrFetch(ctx, req, Options{})
	require.NoError(t, err)

	f.mu.Lock()
	f.liveRev = 101
	f.raw = []byte(`{"rev":101}`)
	f.mu.Unlock()

	second, err := s.GetOrFetch(ctx, req, Options{Revalidate: true})
	require.NoError(t, err)
	assert.Equal(t, int64(101), second.Meta.RevisionID)

	// Old revision remains readable (append-only history).
	oldKey := Key{Source: req.Source, Title: req.Title, Endpoint: req.Endpoint}.WithRevision(100)
	old, err := s.readEntry(oldKey)
	require.NoError(t, err)
	assert.Equal(t, first.Raw, old.Raw)

	// Latest pointer now resolves to the new revision.
	resolved := s.ResolveKey(req)
	assert.Equal(t, "101", resolved.Revision)
}

func TestGetOrFetch_PinnedRevisionSkipsRevalidate(t *testing.T) {
	f := &fakeFetcher{liveRev: 200, raw: []byte(`{"rev":150}`)}
	s := newTestStore(t, f)
	ctx := context.Background()

	req := wikiRequest("Landtag")
	req.PinnedRevisionID = 150

	_, err := s.GetOrFetch(ctx, req, Options{})
	require.NoError(t, err)

	resp, err := s.GetOrFetch(ctx, req, Options{Revalidate: true})
	require.NoError(t, err)
	assert.True(t, resp.FromCache)
	assert.Equal(t, int64(150), resp.Meta.RevisionID)
	assert.Equal(t, int64(1), f.calls.Load(), "pinned entries are immutable")
}

func TestGetOrFetch_CorruptEntryRefetches(t *testing.T) {
	f := &fakeFetcher{liveRev: 100, raw: []byte(`{"a":1}`)}
	s := newTestStore(t, f)
	ctx := context.Background()

	req := wikiRequest("Landtag")
	first, err := s.GetOrFetch(ctx, req, Options{})
	require.NoError(t, err)

	key := Key{Source: req.Source, Title: req.Title, Endpoint: req.Endpoint}.WithRevision(first.Meta.RevisionID)
	require.NoError(t, os.WriteFile(filepath.Join(key.Dir(s.Root()), rawFile), []byte("truncat"), 0o644))

	resp, err := s.GetOrFetch(ctx, req, Options{})
	require.NoError(t, err)
	assert.Equal(t, first.Raw, resp.Raw)
	assert.Equal(t, int64(2), f.calls.Load(), "corrupt entry must trigger a refetch")
}

func TestGetOrFetch_ConcurrentSameKeySingleFetch(t *testing.T) {
	f := &fakeFetcher{liveRev: 100, raw: []byte(`{"a":1}`), delay: 50 * time.Millisecond}
	s := newTestStore(t, f)
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.GetOrFetch(ctx, wikiRequest("Landtag"), Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.calls.Load(), "concurrent calls for one key share a single fetch")
}

func TestResolveKey_ParamsHash(t *testing.T) {
	f := &fakeFetcher{}
	s := newTestStore(t, f)

	req := Request{
		Source:   evidence.SourceDip,
		Endpoint: evidence.EndpointDipPerson,
		Title:    "person_search",
		Params:   map[string]string{"f.wahlperiode": "17", "f.person": "Weil"},
	}
	k1 := s.ResolveKey(req)
	k2 := s.ResolveKey(req)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, LatestRevision, k1.Revision)

	req.Params["f.wahlperiode"] = "18"
	k3 := s.ResolveKey(req)
	assert.NotEqual(t, k1.Revision, k3.Revision)
}

func TestSafeTitle(t *testing.T) {
	assert.Equal(t, "Landtag_Niedersachsen_", SafeTitle("Landtag Niedersachsen!"))
	assert.Equal(t, "Stephan_Weil", SafeTitle("Stephan_Weil"))
	assert.Equal(t, "M_ller__Thomas_", SafeTitle("Müller (Thomas)"))
}

func TestManifest_AppendAndRead(t *testing.T) {
	s := newTestStore(t, &fakeFetcher{})

	m, err := s.OpenManifest("run-20260501-120000")
	require.NoError(t, err)

	require.NoError(t, m.Record(Event{Kind: EventFetch, SeedKey: "nds_lt_17", Outcome: "ok"}))
	require.NoError(t, m.Record(Event{Kind: EventParse, SeedKey: "nds_lt_17", Outcome: "ok", EntityIDs: []string{"a", "b"}}))
	require.NoError(t, m.Close())

	// Reopening appends instead of truncating.
	m2, err := s.OpenManifest("run-20260501-120000")
	require.NoError(t, err)
	require.NoError(t, m2.Record(Event{Kind: EventSinkWrite, Outcome: "error", Error: "boom"}))
	require.NoError(t, m2.Close())

	events, err := s.ReadManifest("run-20260501-120000")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventFetch, events[0].Kind)
	assert.Equal(t, []string{"a", "b"}, events[1].EntityIDs)
	assert.Equal(t, "boom", events[2].Error)
	for _, ev := range events {
		assert.False(t, ev.Time.IsZero())
	}
}
