// Package siit is the stateless SIIT daemon module (spec §1, §4.2-§4.5):
// it owns pool6, the EAM table, the SIIT pool4/blacklist/RFC6791 prefix
// sets, and the per-packet processor that runs RFC 6145 translation with
// no session state.
package siit

import (
	"fmt"
	"time"
)

// Config is the SIIT module's bootstrap configuration.
type Config struct {
	// HostResolveTimeout bounds how long NewModule retries resolving this
	// host's own primary IPv4 address (the RFC 6791 pool-empty fallback,
	// spec §4.5) before giving up; the kernel's routing table may not be
	// populated yet immediately at process start.
	HostResolveTimeout time.Duration `yaml:"host_resolve_timeout"`
}

// Validate checks that cfg is usable.
func (c *Config) Validate() error {
	if c.HostResolveTimeout <= 0 {
		return fmt.Errorf("host resolve timeout must be greater than 0")
	}
	return nil
}

// DefaultConfig returns the default SIIT module configuration.
func DefaultConfig() *Config {
	return &Config{HostResolveTimeout: 10 * time.Second}
}
