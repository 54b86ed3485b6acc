// Package cache implements the revision-addressed response store.
//
// Every fetched API response is written once under its source revision
// and never mutated; newer revisions are appended alongside, and a
// per-title latest pointer tracks the most recently fetched revision.
// Repeated runs over unchanged seeds therefore touch the network at
// most once per entry, and every cached byte stays traceable to the
// exact revision it came from.
package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/openparl/evidence-cli/internal/evidence"
	"github.com/openparl/evidence-cli/internal/resilience"
)

const (
	rawFile     = "raw.json"
	metaFile    = "metadata.json"
	latestFile  = "latest.json"
	manifestDir = "manifests"
)

// Metadata describes one cached response. It is written next to the raw
// bytes and is the record of where those bytes came from.
type Metadata struct {
	SourceKind   evidence.SourceKind   `json:"source_kind"`
	EndpointKind evidence.EndpointKind `json:"endpoint_kind"`
	PageTitle    string                `json:"page_title"`
	PageID       int64                 `json:"page_id,omitempty"`
	RevisionID   int64                 `json:"revision_id,omitempty"`
	SourceURL    string                `json:"source_url"`
	RetrievedAt  time.Time             `json:"retrieved_at"`
	SHA256       string                `json:"sha256"`
}

// CachedResponse pairs raw response bytes with their metadata.
type CachedResponse struct {
	Raw  []byte
	Meta Metadata
	// FromCache reports whether the response was served without a
	// network access.
	FromCache bool
}

// Request identifies what to fetch and how it is keyed.
type Request struct {
	Source   evidence.SourceKind
	Endpoint evidence.EndpointKind
	Title    string
	// Params addresses non-revisioned endpoints; when set, the key is a
	// hash of the parameters and revalidation is meaningless.
	Params map[string]string
	// PinnedRevisionID fixes the entry to an explicit revision. Pinned
	// entries are immutable, so Revalidate is a no-op for them.
	PinnedRevisionID int64
	PinnedPageID     int64
}

// Options control a single GetOrFetch call.
type Options struct {
	// Force always fetches and overwrites, ignoring any cached entry.
	Force bool
	// Revalidate checks the live revision and fetches only when it
	// differs from the cached one. Ignored for pinned or parameter-keyed
	// requests.
	Revalidate bool
}

// Fetcher is the network collaborator. It must distinguish not-found,
// transient, and rate-limited failures via the resilience taxonomy.
type Fetcher interface {
	// Fetch retrieves the raw response and its metadata. When
	// req.PinnedRevisionID is set the fetch must address exactly that
	// revision.
	Fetch(ctx context.Context, req Request) ([]byte, Metadata, error)
	// LiveRevision reports the current live revision id for the request's
	// title, for revalidation.
	LiveRevision(ctx context.Context, req Request) (int64, error)
}

// Store is the revision cache over a single directory tree.
type Store struct {
	root    string
	fetcher Fetcher
	group   singleflight.Group
}

// NewStore opens (creating if needed) a cache rooted at dir.
func NewStore(dir string, fetcher Fetcher) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrap(err, "cache: create root")
	}
	if err := os.MkdirAll(filepath.Join(dir, manifestDir), 0o755); err != nil {
		return nil, eris.Wrap(err, "cache: create manifest dir")
	}
	return &Store{root: dir, fetcher: fetcher}, nil
}

// Root returns the cache root directory.
func (s *Store) Root() string {
	return s.root
}

// ResolveKey maps a request to its cache key. Pinned revisions and
// parameter-keyed requests resolve directly; otherwise the key resolves
// through the latest pointer, yielding the latest bucket when nothing
// has been fetched yet.
func (s *Store) ResolveKey(req Request) Key {
	k := Key{Source: req.Source, Title: req.Title, Endpoint: req.Endpoint}
	switch {
	case len(req.Params) > 0:
		k.Revision = ParamsHash(req.Params)
	case req.PinnedRevisionID > 0:
		k = k.WithRevision(req.PinnedRevisionID)
	default:
		if rev, ok := s.latestRevision(k); ok {
			k.Revision = rev
		} else {
			k.Revision = LatestRevision
		}
	}
	return k
}

// GetOrFetch returns the cached entry for the request, fetching it if
// absent. With Force it always fetches; with Revalidate it fetches only
// when the live revision moved. Concurrent calls for the same key are
// collapsed onto one fetch.
func (s *Store) GetOrFetch(ctx context.Context, req Request, opts Options) (*CachedResponse, error) {
	key := s.ResolveKey(req)

	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		return s.getOrFetchOne(ctx, req, key, opts)
	})
	if err != nil {
		return nil, err
	}
	return v.(*CachedResponse), nil
}

func (s *Store) getOrFetchOne(ctx context.Context, req Request, key Key, opts Options) (*CachedResponse, error) {
	pinned := req.PinnedRevisionID > 0 || len(req.Params) > 0

	if !opts.Force && key.Revision != LatestRevision {
		cached, err := s.readEntry(key)
		switch {
		case err == nil:
			if opts.Revalidate && !pinned {
				return s.revalidate(ctx, req, key, cached)
			}
			return cached, nil
		case resilience.IsCacheCorruption(err):
			zap.L().Warn("corrupt cache entry, refetching",
				zap.String("key", key.String()),
				zap.Error(err),
			)
		case !os.IsNotExist(eris.Cause(err)):
			return nil, err
		}
	}

	return s.fetchAndStore(ctx, req, key)
}

func (s *Store) revalidate(ctx context.Context, req Request, key Key, cached *CachedResponse) (*CachedResponse, error) {
	live, err := s.fetcher.LiveRevision(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "cache: revalidate")
	}
	if live == cached.Meta.RevisionID {
		return cached, nil
	}
	zap.L().Info("revision moved, fetching new revision",
		zap.String("title", req.Title),
		zap.Int64("cached_revision", cached.Meta.RevisionID),
		zap.Int64("live_revision", live),
	)
	return s.fetchAndStore(ctx, req, key)
}

func (s *Store) fetchAndStore(ctx context.Context, req Request, key Key) (*CachedResponse, error) {
	raw, meta, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	meta.SourceKind = req.Source
	meta.EndpointKind = req.Endpoint
	if meta.SHA256 == "" {
		meta.SHA256 = evidence.SHA256Hex(raw)
	}

	// Entries are stored under their actual revision, not the
	// resolution-time bucket.
	stored := key
	if len(req.Params) == 0 && meta.RevisionID > 0 {
		stored = key.WithRevision(meta.RevisionID)
	}

	if err := s.writeEntry(stored, raw, meta); err != nil {
		return nil, err
	}
	if err := s.updateLatest(stored, meta); err != nil {
		return nil, err
	}

	return &CachedResponse{Raw: raw, Meta: meta, FromCache: false}, nil
}

// readEntry loads a cache entry. A missing entry surfaces os.IsNotExist;
// unreadable or hash-mismatched entries surface CacheCorruptionError so
// callers treat them as misses.
func (s *Store) readEntry(key Key) (*CachedResponse, error) {
	dir := key.Dir(s.root)

	metaBytes, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, eris.Wrap(err, "cache: entry not found")
		}
		return nil, &resilience.CacheCorruptionError{Path: key.String(), Err: err}
	}

	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, &resilience.CacheCorruptionError{Path: key.String(), Err: err}
	}

	raw, err := os.ReadFile(filepath.Join(dir, rawFile))
	if err != nil {
		return nil, &resilience.CacheCorruptionError{Path: key.String(), Err: err}
	}

	if sum := evidence.SHA256Hex(raw); sum != meta.SHA256 {
		return nil, &resilience.CacheCorruptionError{
			Path: key.String(),
			Err: eris.Errorf("sha256 mismatch: stored %s, computed %s", meta.SHA256, sum),
		}
	}

	return &CachedResponse{Raw: raw, Meta: meta, FromCache: true}, nil
}

// writeEntry stages the entry in a temporary directory and atomically
// promotes it, so concurrent readers see either the old entry or the
// complete new one.
func (s *Store) writeEntry(key Key, raw []byte, meta Metadata) error {
	final := key.Dir(s.root)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return eris.Wrap(err, "cache: create entry parent")
	}

	tmp, err := os.MkdirTemp(filepath.Dir(final), ".tmp-")
	if err != nil {
		return eris.Wrap(err, "cache: create staging dir")
	}
	defer os.RemoveAll(tmp)

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cache: marshal metadata")
	}
	if err := os.WriteFile(filepath.Join(tmp, rawFile), raw, 0o644); err != nil {
		return eris.Wrap(err, "cache: write raw")
	}
	if err := os.WriteFile(filepath.Join(tmp, metaFile), metaBytes, 0o644); err != nil {
		return eris.Wrap(err, "cache: write metadata")
	}

	if err := os.RemoveAll(final); err != nil {
		return eris.Wrap(err, "cache: clear entry dir")
	}
	if err := os.Rename(tmp, final); err != nil {
		return eris.Wrap(err, "cache: promote entry")
	}
	return nil
}

// latestPointer records, per endpoint, the revision most recently
// fetched for a title.
type latestPointer struct {
	Revisions map[string]string `json:"revisions"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (s *Store) latestRevision(key Key) (string, bool) {
	p, err := s.readLatest(key)
	if err != nil {
		return "", false
	}
	rev, ok := p.Revisions[string(key.Endpoint)]
	return rev, ok && rev != ""
}

func (s *Store) readLatest(key Key) (*latestPointer, error) {
	b, err := os.ReadFile(filepath.Join(key.titleDir(s.root), latestFile))
	if err != nil {
		return nil, err
	}
	var p latestPointer
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	if p.Revisions == nil {
		p.Revisions = make(map[string]string)
	}
	return &p, nil
}

func (s *Store) updateLatest(key Key, meta Metadata) error {
	dir := key.titleDir(s.root)
	p, err := s.readLatest(key)
	if err != nil {
		p = &latestPointer{Revisions: make(map[string]string)}
	}
	p.Revisions[string(key.Endpoint)] = key.Revision
	p.UpdatedAt = meta.RetrievedAt

	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return eris.Wrap(err, "cache: marshal latest pointer")
	}

	tmp, err := os.CreateTemp(dir, ".latest-")
	if err != nil {
		return eris.Wrap(err, "cache: create latest temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrap(err, "cache: write latest pointer")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "cache: close latest temp")
	}
	if err := os.Rename(tmpName, filepath.Join(dir, latestFile)); err != nil {
		os.Remove(tmpName)
		return eris.Wrap(err, "cache: promote latest pointer")
	}
	return nil
}
