package pool4

// Blacklist is the set of IPv4 prefixes SIIT must never translate via
// pool6/EAM (spec §1, §4.2); it shares the generic prefix-set semantics.
type Blacklist = Set

// NewBlacklist returns an empty blacklist.
func NewBlacklist() *Blacklist { return NewSet() }

// SIITPool is the SIIT pool4 variant: a simple IPv4 membership set with no
// port-range or BIB-allocation behavior (spec §4.2: "SIIT variant is a
// simple membership set").
type SIITPool = Set

// NewSIITPool returns an empty SIIT pool4.
func NewSIITPool() *SIITPool { return NewSet() }
