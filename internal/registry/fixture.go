// Package registry seeds the farm registry from YAML fixtures.
package registry

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/agri-ai/farm-monitor/internal/model"
)

// Fixture is the on-disk layout of a farms file.
type Fixture struct {
	Farms []model.Farm `yaml:"farms"`
}

// LoadFarmsFromFile reads and validates a YAML farms fixture.
func LoadFarmsFromFile(path string) ([]model.Farm, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read farms fixture")
	}
	farms, err := ParseFarms(data)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: %s", path)
	}
	return farms, nil
}

// ParseFarms decodes a fixture. Unknown keys, invalid farms and duplicate
// farm IDs are rejected so a typo never silently disables a threshold.
func ParseFarms(data []byte) ([]model.Farm, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fx Fixture
	if err := dec.Decode(&fx); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, eris.New("registry: fixture is empty")
		}
		return nil, eris.Wrap(err, "registry: unmarshal farms fixture")
	}

	seen := make(map[string]bool, len(fx.Farms))
	for i, f := range fx.Farms {
		if err := f.Validate(); err != nil {
			return nil, eris.Wrapf(err, "registry: farm #%d", i+1)
		}
		if seen[f.ID] {
			return nil, eris.Errorf("registry: duplicate farm id %s", f.ID)
		}
		seen[f.ID] = true
	}
	return fx.Farms, nil
}
