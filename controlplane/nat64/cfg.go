// Package nat64 is the stateful NAT64 daemon module (spec §1, §4.7-§4.9):
// it owns the BIB, Session DB and fragment reassembly database for one
// NAT64 instance and runs their TTL-driven eviction.
package nat64

import (
	"fmt"
	"time"

	"github.com/c2h5oh/datasize"
)

// avgFragmentBytes estimates the per-bucket memory cost of a held
// fragment set, for converting FragMemory into fragdb's bucket-count
// ceiling (§4.6 "cap at max_stored_pkts", sized in bytes the way a
// shared-memory module sizes its own requirement).
const avgFragmentBytes = 4096

// Config is the NAT64 module's bootstrap configuration: the static
// infrastructure knobs a deployment needs at process start (a byte-valued
// memory budget plus a handful of scalars, validated up front). Everything
// the translator actually translates against (pool6, pool4, EAM, TTLs) is
// runtime state populated over the control-plane wire protocol instead,
// per §4.13.
type Config struct {
	// FragMemory bounds the memory the fragment reassembly database may
	// hold for in-flight datagrams.
	FragMemory datasize.ByteSize `yaml:"frag_memory"`

	// FragTTL is how long an incomplete fragment set is held before being
	// dropped. Validate only requires it to be positive; the global
	// frag_ttl minimum (config.MinFragTTL) is not applied here.
	FragTTL time.Duration `yaml:"frag_ttl"`

	// SweepInterval bounds how often the session/BIB/fragment sweeper
	// wakes even when no deadline is imminent, so a misconfigured or
	// stalled timer can't wedge eviction indefinitely.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Validate checks that cfg is usable.
func (c *Config) Validate() error {
	if c.FragMemory == 0 {
		return fmt.Errorf("frag memory must be greater than 0")
	}
	if c.FragTTL <= 0 {
		return fmt.Errorf("frag ttl must be greater than 0")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be greater than 0")
	}
	return nil
}

// DefaultConfig returns the default NAT64 module configuration.
func DefaultConfig() *Config {
	return &Config{
		FragMemory:    16 * datasize.MB,
		FragTTL:       2 * time.Second,
		SweepInterval: time.Second,
	}
}

func (c *Config) maxFragBuckets() int {
	n := int(c.FragMemory.Bytes() / avgFragmentBytes)
	if n < 1 {
		n = 1
	}
	return n
}
