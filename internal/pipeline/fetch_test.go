package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openparl/evidence-cli/internal/cache"
	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/pkg/dip"
	"github.com/openparl/evidence-cli/pkg/mediawiki"
)

type fakeWiki struct {
	pages     map[string]*mediawiki.ParseResponse
	revisions map[int64]*mediawiki.ParseResponse
	live      map[string]int64
	parseErr  error
}

func (f *fakeWiki) Parse(_ context.Context, title string) (*mediawiki.ParseResponse, error) {
	if f.parseErr != nil {
		return nil, f.parseErr
	}
	resp, ok := f.pages[title]
	if !ok {
		return nil, assert.AnError
	}
	return resp, nil
}

func (f *fakeWiki) ParseRevision(_ context.Context, revisionID int64) (*mediawiki.ParseResponse, error) {
	resp, ok := f.revisions[revisionID]
	if !ok {
		return nil, assert.AnError
	}
	return resp, nil
}

func (f *fakeWiki) PageInfo(_ context.Context, title string) (*mediawiki.PageInfo, error) {
	rev, ok := f.live[title]
	if !ok {
		return nil, assert.AnError
	}
	return &mediawiki.PageInfo{Title: title, RevisionID: rev}, nil
}

func (f *fakeWiki) Search(context.Context, string, int) ([]mediawiki.SearchResult, error) {
	return nil, nil
}

type fakeDip struct {
	pages map[string]*dip.PersonListResponse
	calls int
}

func (f *fakeDip) PersonList(_ context.Context, _ []int, cursor string) (*dip.PersonListResponse, error) {
	f.calls++
	resp, ok := f.pages[cursor]
	if !ok {
		return nil, assert.AnError
	}
	return resp, nil
}

func (f *fakeDip) Person(context.Context, int64) (*dip.Person, error) {
	return nil, assert.AnError
}

// parseRaw wraps page HTML in the API response envelope the fetcher
// caches verbatim.
func parseRaw(t *testing.T, title string, pageID, revID int64, html string) []byte {
	t.Helper()
	b, err := json.Marshal(map[string]any{
		"parse": map[string]any{
			"title":  title,
			"pageid": pageID,
			"revid":  revID,
			"text":   html,
		},
	})
	require.NoError(t, err)
	return b
}

func TestSourceFetcher_WikiLatest(t *testing.T) {
	t.Parallel()

	raw := parseRaw(t, "Landtag", 42, 100, "<p>hi</p>")
	wiki := &fakeWiki{pages: map[string]*mediawiki.ParseResponse{
		"Landtag": {Title: "Landtag", PageID: 42, RevisionID: 100, HTML: "<p>hi</p>", Raw: raw},
	}}
	f := NewSourceFetcher(wiki, nil)

	got, meta, err := f.Fetch(context.Background(), cache.Request{
		Source:   evidence.SourceMediaWiki,
		Endpoint: evidence.EndpointParse,
		Title:    "Landtag",
	})
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Equal(t, "Landtag", meta.PageTitle)
	assert.Equal(t, int64(100), meta.RevisionID)
	assert.Equal(t, mediawiki.RevisionURL(100), meta.SourceURL)
	assert.False(t, meta.RetrievedAt.IsZero())
}

func TestSourceFetcher_WikiPinnedRevision(t *testing.T) {
	t.Parallel()

	raw := parseRaw(t, "Landtag", 42, 99, "<p>old</p>")
	wiki := &fakeWiki{revisions: map[int64]*mediawiki.ParseResponse{
		99: {Title: "Landtag", PageID: 42, RevisionID: 99, Raw: raw},
	}}
	f := NewSourceFetcher(wiki, nil)

	_, meta, err := f.Fetch(context.Background(), cache.Request{
		Source:           evidence.SourceMediaWiki,
		Endpoint:         evidence.EndpointParse,
		Title:            "Landtag",
		PinnedRevisionID: 99,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(99), meta.RevisionID)
}

func TestSourceFetcher_LiveRevision(t *testing.T) {
	t.Parallel()

	f := NewSourceFetcher(&fakeWiki{live: map[string]int64{"Landtag": 123}}, nil)
	rev, err := f.LiveRevision(context.Background(), cache.Request{
		Source: evidence.SourceMediaWiki,
		Title:  "Landtag",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(123), rev)

	_, err = f.LiveRevision(context.Background(), cache.Request{Source: evidence.SourceDip})
	assert.Error(t, err, "dip has no revisions")
}

func TestSourceFetcher_DipList(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"numFound":1,"cursor":"c1","documents":[{"id":7001,"vorname":"Stephan","nachname":"Weil"}]}`)
	d := &fakeDip{pages: map[string]*dip.PersonListResponse{
		"": {NumFound: 1, Cursor: "c1", Raw: raw},
	}}
	f := NewSourceFetcher(nil, d)

	got, meta, err := f.Fetch(context.Background(), cache.Request{
		Source:   evidence.SourceDip,
		Endpoint: evidence.EndpointDipPerson,
		Title:    "person",
		Params:   map[string]string{"wahlperiode": "20"},
	})
	require.NoError(t, err)
	assert.Equal(t, raw, got)
	assert.Contains(t, meta.SourceURL, "f.wahlperiode=20")
}

func TestSourceFetcher_UnknownSource(t *testing.T) {
	t.Parallel()

	f := NewSourceFetcher(nil, nil)
	_, _, err := f.Fetch(context.Background(), cache.Request{Source: "ftp"})
	assert.ErrorContains(t, err, "unknown source kind")
}

func TestPageSource_FromCachedResponse(t *testing.T) {
	t.Parallel()

	raw := parseRaw(t, "Landtag", 42, 100, "<table></table>")
	resp := &cache.CachedResponse{
		Raw: raw,
		Meta: cache.Metadata{
			PageTitle:   "Landtag",
			RevisionID:  100,
			SourceURL:   "https://de.wikipedia.org/w/index.php?oldid=100",
			RetrievedAt: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
			SHA256:      "ab12",
		},
	}
	src, err := pageSource(resp)
	require.NoError(t, err)
	assert.Equal(t, "Landtag", src.PageTitle)
	assert.Equal(t, int64(42), src.PageID)
	assert.Equal(t, int64(100), src.RevisionID)
	assert.Equal(t, "<table></table>", src.HTML)
	assert.Equal(t, "2026-05-01T12:00:00Z", src.RetrievedAt)
	assert.Equal(t, "ab12", src.SHA256)
}

func TestPageSource_EmptyTextRejected(t *testing.T) {
	t.Parallel()

	resp := &cache.CachedResponse{Raw: []byte(`{"parse":{"title":"X"}}`)}
	_, err := pageSource(resp)
	assert.ErrorContains(t, err, "no page text")
}
