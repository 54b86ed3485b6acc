package reconcile

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/openparl/evidence-cli/internal/model"
)

// overridesFile is the on-disk shape of the operator override file:
// a single overrides map keyed by Wikipedia title.
type overridesFile struct {
	Overrides map[string]model.LinkOverride `yaml:"overrides"`
}

// LoadOverrides reads the link override file. A missing file is an
// empty override set, not an error: overrides are optional.
func LoadOverrides(path string) (map[string]model.LinkOverride, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]model.LinkOverride{}, nil
		}
		return nil, eris.Wrap(err, "reconcile: read overrides")
	}

	var f overridesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, eris.Wrap(err, "reconcile: parse overrides yaml")
	}
	if f.Overrides == nil {
		f.Overrides = map[string]model.LinkOverride{}
	}
	for key, ov := range f.Overrides {
		switch ov.Status {
		case "", model.StatusAccepted, model.StatusRejected:
		default:
			return nil, eris.Errorf("reconcile: override %s has invalid status %q", key, ov.Status)
		}
	}
	return f.Overrides, nil
}
