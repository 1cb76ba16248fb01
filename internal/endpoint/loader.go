package endpoint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// modelConfig is one entry in the models config file.
//
//	models:
//	  - name: qwen
//	    endpoint: https://acme--inference.modal.run/v1
//	    api_key: ${INFERENCE_API_KEY}
//
// Values may reference environment variables with ${VAR} syntax; expansion
// happens at load time so credentials stay out of the file.
type modelConfig struct {
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
}

type fileConfig struct {
	Models []modelConfig `yaml:"models"`
}

// LoadFile builds a Registry from a YAML config file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read models config: %w", err)
	}
	return Load(data)
}

// Load builds a Registry from YAML config bytes.
func Load(data []byte) (*Registry, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse models config: %w", err)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("models config declares no models")
	}

	reg := NewRegistry()
	for _, m := range cfg.Models {
		if err := reg.Register(m.Name, os.ExpandEnv(m.Endpoint), os.ExpandEnv(m.APIKey)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
