package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/openparl/evidence-cli/internal/evidence"
)

var unsafeTitleChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SafeTitle maps a page title to a filesystem-safe directory name.
// Distinct titles may collide after sanitization; the metadata file
// always carries the exact original title.
func SafeTitle(title string) string {
	return unsafeTitleChars.ReplaceAllString(strings.TrimSpace(title), "_")
}

// Key addresses one cache entry: a source, a title (or parameter hash
// for non-revisioned endpoints), a revision bucket, and an endpoint kind.
type Key struct {
	Source   evidence.SourceKind
	Title    string
	Revision string
	Endpoint evidence.EndpointKind
}

// LatestRevision is the revision bucket used before a concrete revision
// is known. Entries are never stored under it; it only drives resolution
// through the latest pointer.
const LatestRevision = "latest"

// Dir returns the directory holding the entry's raw and metadata files.
func (k Key) Dir(root string) string {
	return filepath.Join(root, string(k.Source), SafeTitle(k.Title), k.Revision, string(k.Endpoint))
}

// titleDir returns the per-title directory that owns the latest pointer.
func (k Key) titleDir(root string) string {
	return filepath.Join(root, string(k.Source), SafeTitle(k.Title))
}

// String renders a stable identity for the key, used for request
// deduplication and logging.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Source, SafeTitle(k.Title), k.Revision, k.Endpoint)
}

// WithRevision returns a copy of the key bound to a concrete revision.
func (k Key) WithRevision(revisionID int64) Key {
	k.Revision = strconv.FormatInt(revisionID, 10)
	return k
}

// ParamsHash derives a deterministic revision-bucket name for endpoints
// that are addressed by query parameters rather than page revisions
// (the DIP API has no revision concept). Parameters are hashed in
// sorted key order so map iteration cannot perturb the key.
func ParamsHash(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(params[k]))
		h.Write([]byte{0})
	}
	return "p" + hex.EncodeToString(h.Sum(nil))[:16]
}
