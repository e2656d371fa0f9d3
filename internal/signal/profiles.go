package signal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profilesFile is the top-level YAML structure for threshold overrides.
type profilesFile struct {
	Strategies map[string]Profile `yaml:"strategies"`
}

// LoadProfiles reads threshold profiles from a YAML file and merges them over
// the built-in defaults. A missing path returns the defaults unchanged.
func LoadProfiles(path string) (map[string]Profile, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return profiles, nil
		}
		return nil, fmt.Errorf("read profiles: %w", err)
	}

	var file profilesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	for name, p := range file.Strategies {
		if p.SignalThreshold <= 0 || p.MaxSignalStrength <= 0 {
			return nil, fmt.Errorf("profile %s: thresholds must be positive", name)
		}
		profiles[name] = p
	}
	return profiles, nil
}
