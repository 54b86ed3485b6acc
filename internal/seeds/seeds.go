// Package seeds loads and validates the configured fetch targets.
//
// A seed names one member-list page: its expected title, the
// legislative period it covers, and optionally a pinned page and
// revision id that freeze the fetch to an exact source state.
package seeds

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/openparl/evidence-cli/internal/resilience"
)

// TimeRange is the expected membership period for a seed, ISO dates.
type TimeRange struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// Hints carry classification context for parsers and reconciliation.
type Hints struct {
	Parliament            string   `yaml:"parliament,omitempty" json:"parliament,omitempty"`
	State                 string   `yaml:"state,omitempty" json:"state,omitempty"`
	LegislatureNumber     int      `yaml:"legislature_number,omitempty" json:"legislature_number,omitempty"`
	SectionKeywords       []string `yaml:"section_keywords,omitempty" json:"section_keywords,omitempty"`
	ExpectedTableKeywords []string `yaml:"expected_table_keywords,omitempty" json:"expected_table_keywords,omitempty"`
}

// Seed is one configured target page. Immutable once loaded.
type Seed struct {
	Key               string    `yaml:"key" json:"key"`
	PageTitle         string    `yaml:"page_title" json:"page_title"`
	ExpectedTimeRange TimeRange `yaml:"expected_time_range" json:"expected_time_range"`
	// PageID and RevisionID, when set, pin the seed to an exact source
	// revision; pinned seeds never revalidate.
	PageID     int64 `yaml:"page_id,omitempty" json:"page_id,omitempty"`
	RevisionID int64 `yaml:"revision_id,omitempty" json:"revision_id,omitempty"`
	Hints      Hints `yaml:"hints,omitempty" json:"hints,omitempty"`
}

// Pinned reports whether the seed is frozen to an explicit revision.
func (s Seed) Pinned() bool {
	return s.RevisionID > 0
}

// Set is the full seed file, keyed by seed key.
type Set map[string]Seed

// Load reads and validates a seeds file.
func Load(path string) (Set, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, resilience.NewNotFound("seeds file", path)
		}
		return nil, eris.Wrap(err, "seeds: read file")
	}

	var set Set
	if err := yaml.Unmarshal(b, &set); err != nil {
		return nil, eris.Wrap(err, "seeds: parse yaml")
	}
	if err := Validate(set); err != nil {
		return nil, err
	}
	return set, nil
}

// Validate checks structural invariants: every entry echoes its map key
// in the key field, keys are unique, and the expected time range is
// fully populated.
func Validate(set Set) error {
	seen := make(map[string]string, len(set))
	for mapKey, seed := range set {
		if seed.Key == "" {
			return eris.Errorf("seeds: seed %s missing required field: key", mapKey)
		}
		if seed.PageTitle == "" {
			return eris.Errorf("seeds: seed %s missing required field: page_title", mapKey)
		}
		if seed.Key != mapKey {
			return eris.Errorf("seeds: seed %s key mismatch: %s", mapKey, seed.Key)
		}
		if prev, dup := seen[seed.Key]; dup {
			return eris.Errorf("seeds: duplicate seed key %s (entries %s and %s)", seed.Key, prev, mapKey)
		}
		seen[seed.Key] = mapKey
		if seed.ExpectedTimeRange.Start == "" || seed.ExpectedTimeRange.End == "" {
			return eris.Errorf("seeds: seed %s expected_time_range must have start and end", mapKey)
		}
	}
	return nil
}

// Get returns a single seed by key.
func (s Set) Get(key string) (Seed, error) {
	seed, ok := s[key]
	if !ok {
		return Seed{}, resilience.NewNotFound("seed", key)
	}
	return seed, nil
}

// Keys returns the seed keys in sorted order, for deterministic
// iteration.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Save writes the set back to disk, used by discovery.
func (s Set) Save(path string) error {
	b, err := yaml.Marshal(s)
	if err != nil {
		return eris.Wrap(err, "seeds: marshal yaml")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return eris.Wrap(err, "seeds: write file")
	}
	return nil
}
