package seeds

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/openparl/evidence-cli/internal/resilience"
)

// RegistryEntry describes one state parliament for seed discovery.
type RegistryEntry struct {
	KeyPrefix           string   `yaml:"key_prefix"`
	State               string   `yaml:"state"`
	Parliament          string   `yaml:"parliament"`
	WikipediaIndexTitle string   `yaml:"wikipedia_index_title"`
	MemberListSearch    []string `yaml:"member_list_search"`
}

// Registry is the operator-maintained list of parliaments to discover
// seeds for, plus shared defaults.
type Registry struct {
	Version  int                      `yaml:"version"`
	Defaults RegistryDefaults         `yaml:"defaults"`
	Landtage map[string]RegistryEntry `yaml:"landtage"`
}

// RegistryDefaults hold settings shared by all registry entries.
type RegistryDefaults struct {
	ExpectedTableKeywords []string `yaml:"expected_table_keywords"`
	SectionKeywords       []string `yaml:"section_keywords"`
}

// LoadRegistry reads and validates the registry file.
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, resilience.NewNotFound("registry file", path)
		}
		return nil, eris.Wrap(err, "seeds: read registry")
	}

	var reg Registry
	if err := yaml.Unmarshal(b, &reg); err != nil {
		return nil, eris.Wrap(err, "seeds: parse registry yaml")
	}
	if reg.Version == 0 {
		return nil, eris.New("seeds: registry missing version")
	}
	for key, entry := range reg.Landtage {
		if entry.KeyPrefix == "" {
			return nil, eris.Errorf("seeds: registry entry %s missing key_prefix", key)
		}
		if len(entry.MemberListSearch) == 0 {
			return nil, eris.Errorf("seeds: registry entry %s has no member_list_search queries", key)
		}
	}
	return &reg, nil
}

// RegistryHash returns the sha256 of the registry file, recorded for
// provenance in discovery reports. Missing file hashes to empty.
func RegistryHash(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
