// Package configfile loads satellite configuration from YAML files on disk,
// the on-disk counterpart to the Dictionary payloads a controller sends over
// CSCP initialize/reconfigure commands.
package configfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/constellation-daq/constellation-core/config"
	"github.com/constellation-daq/constellation-core/dictionary"
)

// LoadYAML reads path as a YAML mapping and folds its top-level keys into a
// Configuration via dictionary.FromGoValue. Nested mappings are rejected:
// Constellation configuration is a flat key/value table, not a tree.
func LoadYAML(path string) (*config.Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("configfile: parse %s: %w", path, err)
	}

	dict := dictionary.New()
	for key, val := range raw {
		if _, isMap := val.(map[string]any); isMap {
			return nil, fmt.Errorf("configfile: %s: key %q: nested mappings are not supported", path, key)
		}
		v, err := dictionary.FromGoValue(val)
		if err != nil {
			return nil, fmt.Errorf("configfile: %s: key %q: %w", path, key, err)
		}
		dict.Set(key, v)
	}
	return config.FromDictionary(dict), nil
}
