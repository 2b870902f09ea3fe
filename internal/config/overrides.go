package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides is the optional mender.yaml document. It tunes the model
// selector's preference lists and replaces tool registry cells without a
// rebuild; the builtin tables stay authoritative for anything not named.
//
//	selector:
//	  LOGIC:
//	    - {provider: openrouter, model: meta-llama/llama-3.3-70b-instruct}
//	tools:
//	  python:
//	    LINTING: [autopep8, black]
type Overrides struct {
	Selector map[string][]SelectorCandidate `yaml:"selector"`
	Tools    map[string]map[string][]string `yaml:"tools"`
}

// SelectorCandidate overrides one (provider, model) slot in a preference list.
type SelectorCandidate struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// LoadOverrides reads the YAML overrides file. A missing file is not an
// error; a malformed one is fatal (ConfigError).
func LoadOverrides(path string) (Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Overrides{}, nil
		}
		return Overrides{}, &ConfigError{Message: fmt.Sprintf("read %s: %v", path, err)}
	}
	var ov Overrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return Overrides{}, &ConfigError{Message: fmt.Sprintf("parse %s: %v", path, err)}
	}
	return ov, nil
}
