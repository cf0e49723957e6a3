package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/xlat64/xlat64/common/go/logging"
	"github.com/xlat64/xlat64/controlplane/nat64"
	"github.com/xlat64/xlat64/controlplane/siit"
)

// Build names which daemon module this process runs, matching the wire
// protocol's own build-type distinction (spec §4.13, internal/control/wire).
type Build string

const (
	BuildNAT64 Build = "nat64"
	BuildSIIT  Build = "siit"
)

// Config is the daemon's top-level configuration file.
type Config struct {
	Build Build `yaml:"build"`

	Logging logging.Config `yaml:"logging"`

	NAT64 *nat64.Config `yaml:"nat64,omitempty"`
	SIIT  *siit.Config  `yaml:"siit,omitempty"`
}

// Validate checks cfg is internally consistent and fills in any missing
// per-build section with its defaults.
func (c *Config) Validate() error {
	switch c.Build {
	case BuildNAT64:
		if c.NAT64 == nil {
			c.NAT64 = nat64.DefaultConfig()
		}
		return c.NAT64.Validate()
	case BuildSIIT:
		if c.SIIT == nil {
			c.SIIT = siit.DefaultConfig()
		}
		return c.SIIT.Validate()
	default:
		return fmt.Errorf("build must be %q or %q, got %q", BuildNAT64, BuildSIIT, c.Build)
	}
}

// LoadConfig reads and validates the daemon configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
