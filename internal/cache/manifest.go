package cache

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// EventKind classifies a manifest event.
type EventKind string

const (
	EventFetch     EventKind = "fetch"
	EventParse     EventKind = "parse"
	EventReconcile EventKind = "reconcile"
	EventExport    EventKind = "export"
	EventSinkWrite EventKind = "sink_write"
)

// Event is one audit record in a run manifest.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      EventKind `json:"kind"`
	SeedKey   string    `json:"seed_key,omitempty"`
	CacheKey  string    `json:"cache_key,omitempty"`
	EntityIDs []string  `json:"entity_ids,omitempty"`
	Outcome   string    `json:"outcome"` // "ok", "cached", "skipped", "error"
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Manifest is the append-only audit log for one pipeline run. Records
// are newline-delimited JSON; appends are serialized so concurrent
// workers never interleave partial lines.
type Manifest struct {
	runID string
	path  string

	mu sync.Mutex
	f  *os.File
}

// OpenManifest opens (appending) the manifest for a run under the
// store's manifest directory.
func (s *Store) OpenManifest(runID string) (*Manifest, error) {
	path := filepath.Join(s.root, manifestDir, runID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrap(err, "manifest: open")
	}
	return &Manifest{runID: runID, path: path, f: f}, nil
}

// RunID returns the run this manifest belongs to.
func (m *Manifest) RunID() string { return m.runID }

// Path returns the manifest file location.
func (m *Manifest) Path() string { return m.path }

// Record appends one event. The timestamp is filled in when unset.
func (m *Manifest) Record(ev Event) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "manifest: marshal event")
	}
	line = append(line, '\n')

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.f.Write(line); err != nil {
		return eris.Wrap(err, "manifest: append event")
	}
	return nil
}

// Close flushes and closes the manifest file.
func (m *Manifest) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.f.Close(); err != nil {
		return eris.Wrap(err, "manifest: close")
	}
	return nil
}

// ReadManifest loads all events recorded for a run, for audit tooling
// and tests.
func (s *Store) ReadManifest(runID string) ([]Event, error) {
	b, err := os.ReadFile(filepath.Join(s.root, manifestDir, runID+".jsonl"))
	if err != nil {
		return nil, eris.Wrap(err, "manifest: read")
	}
	var events []Event
	dec := json.NewDecoder(bytes.NewReader(b))
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return nil, eris.Wrap(err, "manifest: decode event")
		}
		events = append(events, ev)
	}
	return events, nil
}
