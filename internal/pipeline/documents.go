package pipeline

import (
	"context"

	"github.com/openparl/evidence-cli/internal/cache"
	"github.com/openparl/evidence-cli/internal/evidence"
)

// CacheDocuments serves page HTML to the evidence resolver from the
// revision cache. Resolution pins the exact revision the evidence was
// minted from, so a snippet is always cut from the bytes it cites.
type CacheDocuments struct {
	cache *cache.Store
}

// NewCacheDocuments wraps the cache store.
func NewCacheDocuments(c *cache.Store) *CacheDocuments {
	return &CacheDocuments{cache: c}
}

// PageHTML implements evidence.Documents.
func (d *CacheDocuments) PageHTML(ctx context.Context, pageTitle string, revisionID int64) (string, error) {
	resp, err := d.cache.GetOrFetch(ctx, cache.Request{
		Source:           evidence.SourceMediaWiki,
		Endpoint:         evidence.EndpointParse,
		Title:            pageTitle,
		PinnedRevisionID: revisionID,
	}, cache.Options{})
	if err != nil {
		return "", err
	}
	src, err := pageSource(resp)
	if err != nil {
		return "", err
	}
	return src.HTML, nil
}
