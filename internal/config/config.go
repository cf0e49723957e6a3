// Package config holds the translator's global configuration as an
// immutable snapshot, published by atomic pointer swap so that dataplane
// readers never block on the control-plane writer (spec §4.1, §5, §9).
package config

import (
	"math"
	"time"

	"github.com/xlat64/xlat64/internal/xfault"
)

// TTL bounds per spec §4.1. The upper bound on every NAT64 TTL is the
// largest value that still fits in a uint32 count of milliseconds on the
// wire (~49.7 days); MaxTTL enforces that uniformly.
const (
	MinUDPTTL      = 5 * time.Minute
	MinICMPTTL     = 0
	MinTCPEstTTL   = 2 * time.Hour
	MinTCPTransTTL = 4 * time.Minute
	MinFragTTL     = 2 * time.Second

	// MaxTTL is the largest TTL representable as milliseconds in a uint32,
	// matching the "bounded above by ~49 days" language of spec §4.1 and the
	// "TTL just above MAX_U32 ms is rejected" boundary test of spec §8.
	MaxTTL = time.Duration(math.MaxUint32) * time.Millisecond
)

// Global is the immutable configuration snapshot. Every field named in
// spec §4.1 is represented; SIIT-only and NAT64-only fields are always
// present on the struct (both build flavors share one Config type) but are
// only reachable through §4.13's mode/operation matrix for the matching
// build.
type Global struct {
	Disable bool

	ResetTrafficClass bool
	ResetTOS          bool
	NewTOS            uint8

	// Atomic-fragments sub-flags, individually settable; see
	// SetAtomicFragments for the legacy composite setter.
	DFAlwaysOn  bool
	BuildIPv6FH bool
	BuildIPv4ID bool
	LowerMTUFail bool

	// MTUPlateaus is kept sorted strictly descending, deduplicated, with
	// zeroes removed, and non-empty (spec §8 boundary behaviors).
	MTUPlateaus []uint16

	// SIIT-only.
	ComputeUDPChecksumZero bool
	RandomizeRFC6791       bool

	// NAT64-only.
	UDPTTL      time.Duration
	ICMPTTL     time.Duration
	TCPEstTTL   time.Duration
	TCPTransTTL time.Duration
	FragTTL     time.Duration

	MaxStoredPkts      uint32
	SrcICMP6ErrsBetter bool
	DropByAddr         bool
	DropICMP6Info      bool
	DropExternalTCP    bool
	BIBLogging         bool
	SessionLogging     bool
}

// DefaultMTUPlateaus mirrors the plateau table of RFC 1191.
var DefaultMTUPlateaus = []uint16{65535, 32000, 17914, 8166, 4352, 2002, 1492, 1006, 508, 296, 68}

// Default returns the default global configuration, matching the baseline
// any real deployment starts from before control-plane overrides apply.
func Default() *Global {
	return &Global{
		MTUPlateaus: append([]uint16(nil), DefaultMTUPlateaus...),

		BuildIPv4ID: true,

		UDPTTL:      5 * time.Minute,
		ICMPTTL:     0,
		TCPEstTTL:   2 * time.Hour,
		TCPTransTTL: 4 * time.Minute,
		FragTTL:     2 * time.Second,

		MaxStoredPkts:   200,
		DropExternalTCP: false,
	}
}

// Clone returns a deep copy, so that Update can mutate the copy and publish
// it without ever exposing a half-mutated snapshot to readers.
func (g *Global) Clone() *Global {
	c := *g
	c.MTUPlateaus = append([]uint16(nil), g.MTUPlateaus...)
	return &c
}

// SetAtomicFragments implements the legacy composite setter documented in
// spec §9: it copies value into DFAlwaysOn and BuildIPv6FH, and its
// negation into BuildIPv4ID and LowerMTUFail. Individual sub-flags remain
// independently settable afterward through their own fields.
func (g *Global) SetAtomicFragments(value bool) {
	g.DFAlwaysOn = value
	g.BuildIPv6FH = value
	g.BuildIPv4ID = !value
	g.LowerMTUFail = !value
}

// Validate enforces every invariant from spec §4.1/§8: TTL bounds, a
// sorted/deduplicated/non-empty/zero-free MTUPlateaus list.
func (g *Global) Validate() error {
	const op = "config.Validate"

	if err := validateTTL(op, "udp_ttl", g.UDPTTL, MinUDPTTL); err != nil {
		return err
	}
	if err := validateTTL(op, "icmp_ttl", g.ICMPTTL, MinICMPTTL); err != nil {
		return err
	}
	if err := validateTTL(op, "tcp_est_ttl", g.TCPEstTTL, MinTCPEstTTL); err != nil {
		return err
	}
	if err := validateTTL(op, "tcp_trans_ttl", g.TCPTransTTL, MinTCPTransTTL); err != nil {
		return err
	}
	if err := validateTTL(op, "frag_ttl", g.FragTTL, MinFragTTL); err != nil {
		return err
	}

	if len(g.MTUPlateaus) == 0 {
		return xfault.New(xfault.InvalidArg, op, "mtu_plateaus must be non-empty")
	}
	for i, v := range g.MTUPlateaus {
		if v == 0 {
			return xfault.New(xfault.InvalidArg, op, "mtu_plateaus must not contain zero")
		}
		if i > 0 && g.MTUPlateaus[i-1] <= v {
			return xfault.New(xfault.InvalidArg, op, "mtu_plateaus must be strictly decreasing")
		}
	}

	return nil
}

func validateTTL(op, field string, ttl, min time.Duration) error {
	if ttl < min {
		return xfault.Newf(xfault.InvalidArg, op, "%s: %s below minimum %s", field, ttl, min)
	}
	if ttl > MaxTTL {
		return xfault.Newf(xfault.InvalidArg, op, "%s: %s exceeds maximum %s", field, ttl, MaxTTL)
	}
	return nil
}

// NormalizeMTUPlateaus sorts a raw plateau list descending, drops zeroes,
// and deduplicates, matching the `flush(MTU_PLATEAUS=[...])` behavior
// required by spec §8.
func NormalizeMTUPlateaus(raw []uint16) []uint16 {
	seen := make(map[uint16]struct{}, len(raw))
	out := make([]uint16, 0, len(raw))
	for _, v := range raw {
		if v == 0 {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] < out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// TTLMillis converts a TTL to the uint32 millisecond count the wire
// protocol uses (spec §6, §9: "ms on the wire").
func TTLMillis(d time.Duration) uint32 {
	return uint32(d / time.Millisecond)
}

// MillisTTL converts a wire millisecond count back into a Duration.
func MillisTTL(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
