package config

import (
	"fmt"
	"os"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"
)

// ParseFile decodes YAML configuration on top of base.
//
// String settings may reference the environment as ${VAR}; they are
// expanded after decoding. Keys absent from the document keep the value
// from base.
func ParseFile(b []byte, base *Config) (*Config, error) {
	cfg := base.Clone()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	for _, field := range []*string{
		&cfg.CommandPath,
		&cfg.SudoPrefix,
		&cfg.ClusterName,
		&cfg.PropertiesDir,
		&cfg.CatPath,
		&cfg.MetricsAddr,
	} {
		v, err := envsubst.EvalEnv(*field)
		if err != nil {
			return nil, fmt.Errorf("expand %q: %w", *field, err)
		}
		*field = v
	}

	return cfg, nil
}

// FromFile reads a YAML configuration file on top of base.
func FromFile(path string, base *Config) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFile(b, base)
}
