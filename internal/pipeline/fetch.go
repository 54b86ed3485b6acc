// Package pipeline orchestrates the full run: fetch seed pages through
// the revision cache, parse them, persist records and evidence, ingest
// DIP persons, reconcile, and write the sinks. Seeds are processed
// concurrently; one failing seed never aborts the others.
package pipeline

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openparl/evidence-cli/internal/cache"
	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/parser"
	"github.com/openparl/evidence-cli/pkg/dip"
	"github.com/openparl/evidence-cli/pkg/mediawiki"
)

// SourceFetcher implements cache.Fetcher over the MediaWiki and DIP
// clients, dispatching on the request's source kind.
type SourceFetcher struct {
	wiki mediawiki.Client
	dip  dip.Client
}

// NewSourceFetcher wires both API clients. Either may be nil when a run
// only touches the other source.
func NewSourceFetcher(wiki mediawiki.Client, dipClient dip.Client) *SourceFetcher {
	return &SourceFetcher{wiki: wiki, dip: dipClient}
}

// Fetch retrieves the raw response for a cache request.
func (f *SourceFetcher) Fetch(ctx context.Context, req cache.Request) ([]byte, cache.Metadata, error) {
	switch req.Source {
	case evidence.SourceMediaWiki:
		return f.fetchWiki(ctx, req)
	case evidence.SourceDip:
		return f.fetchDip(ctx, req)
	default:
		return nil, cache.Metadata{}, eris.Errorf("pipeline: unknown source kind %q", req.Source)
	}
}

// LiveRevision reports the current revision for revalidation. Only
// MediaWiki pages are revisioned.
func (f *SourceFetcher) LiveRevision(ctx context.Context, req cache.Request) (int64, error) {
	if req.Source != evidence.SourceMediaWiki {
		return 0, eris.Errorf("pipeline: source %q has no revisions", req.Source)
	}
	if f.wiki == nil {
		return 0, eris.New("pipeline: mediawiki client not configured")
	}
	info, err := f.wiki.PageInfo(ctx, req.Title)
	if err != nil {
		return 0, err
	}
	return info.RevisionID, nil
}

func (f *SourceFetcher) fetchWiki(ctx context.Context, req cache.Request) ([]byte, cache.Metadata, error) {
	if f.wiki == nil {
		return nil, cache.Metadata{}, eris.New("pipeline: mediawiki client not configured")
	}

	var (
		resp *mediawiki.ParseResponse
		err  error
	)
	if req.PinnedRevisionID > 0 {
		resp, err = f.wiki.ParseRevision(ctx, req.PinnedRevisionID)
	} else {
		resp, err = f.wiki.Parse(ctx, req.Title)
	}
	if err != nil {
		return nil, cache.Metadata{}, err
	}

	meta := cache.Metadata{
		PageTitle:   req.Title,
		PageID:      resp.PageID,
		RevisionID:  resp.RevisionID,
		SourceURL:   mediawiki.RevisionURL(resp.RevisionID),
		RetrievedAt: time.Now().UTC(),
	}
	return resp.Raw, meta, nil
}

func (f *SourceFetcher) fetchDip(ctx context.Context, req cache.Request) ([]byte, cache.Metadata, error) {
	if f.dip == nil {
		return nil, cache.Metadata{}, eris.New("pipeline: dip client not configured")
	}

	wahlperiode, err := parseWahlperiode(req.Params["wahlperiode"])
	if err != nil {
		return nil, cache.Metadata{}, err
	}
	resp, err := f.dip.PersonList(ctx, wahlperiode, req.Params["cursor"])
	if err != nil {
		return nil, cache.Metadata{}, err
	}

	meta := cache.Metadata{
		PageTitle:   req.Title,
		SourceURL:   dipListURL(req.Params),
		RetrievedAt: time.Now().UTC(),
	}
	return resp.Raw, meta, nil
}

func parseWahlperiode(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: bad wahlperiode %q", s)
	}
	return []int{n}, nil
}

func dipListURL(params map[string]string) string {
	q := url.Values{}
	if wp := params["wahlperiode"]; wp != "" {
		q.Set("f.wahlperiode", wp)
	}
	if cursor := params["cursor"]; cursor != "" {
		q.Set("cursor", cursor)
	}
	u := dip.DefaultBaseURL + "/person"
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	return u
}

// parseEnvelope is the slice of the MediaWiki parse response the
// pipeline replays from cache.
type parseEnvelope struct {
	Parse struct {
		Title  string `json:"title"`
		PageID int64  `json:"pageid"`
		RevID  int64  `json:"revid"`
		Text   string `json:"text"`
	} `json:"parse"`
}

// pageSource rebuilds the parser input from a cached response. The
// cached raw bytes are the verbatim API body, so replaying from cache
// and parsing a fresh fetch are the same operation.
func pageSource(resp *cache.CachedResponse) (parser.PageSource, error) {
	var env parseEnvelope
	if err := json.Unmarshal(resp.Raw, &env); err != nil {
		return parser.PageSource{}, eris.Wrap(err, "pipeline: decode cached parse response")
	}
	if env.Parse.Text == "" {
		return parser.PageSource{}, eris.Errorf("pipeline: cached entry for %q has no page text", resp.Meta.PageTitle)
	}
	title := resp.Meta.PageTitle
	if title == "" {
		title = env.Parse.Title
	}
	return parser.PageSource{
		PageTitle:   title,
		PageID:      env.Parse.PageID,
		RevisionID:  env.Parse.RevID,
		SourceURL:   resp.Meta.SourceURL,
		RetrievedAt: resp.Meta.RetrievedAt.Format(time.RFC3339),
		SHA256:      resp.Meta.SHA256,
		HTML:        env.Parse.Text,
	}, nil
}
