// Package addr implements the prefix, transport-address and tuple
// primitives shared by every other package in this module: containment,
// intersection, bit extraction and the suffix-copy arithmetic RFC 6052 and
// the EAM table both need.
package addr

import (
	"fmt"
	"net/netip"
)

// Prefix4 is an IPv4 prefix. The invariant enforced by New4 is that the host
// bits past Len are zero.
type Prefix4 struct {
	Addr netip.Addr
	Len  uint8
}

// Prefix6 is an IPv6 prefix, with the same host-bits-zero invariant.
type Prefix6 struct {
	Addr netip.Addr
	Len  uint8
}

// New4 validates and constructs an IPv4 prefix.
func New4(ip netip.Addr, length uint8) (Prefix4, error) {
	if !ip.Is4() {
		return Prefix4{}, fmt.Errorf("address %s is not IPv4", ip)
	}
	if length > 32 {
		return Prefix4{}, fmt.Errorf("invalid IPv4 prefix length %d", length)
	}
	masked := maskBytes(ip.AsSlice(), int(length))
	if !bytesEqual(masked, ip.AsSlice()) {
		return Prefix4{}, fmt.Errorf("prefix %s/%d has nonzero host bits", ip, length)
	}
	return Prefix4{Addr: ip, Len: length}, nil
}

// New6 validates and constructs an IPv6 prefix.
func New6(ip netip.Addr, length uint8) (Prefix6, error) {
	if !ip.Is6() {
		return Prefix6{}, fmt.Errorf("address %s is not IPv6", ip)
	}
	if length > 128 {
		return Prefix6{}, fmt.Errorf("invalid IPv6 prefix length %d", length)
	}
	masked := maskBytes(ip.AsSlice(), int(length))
	if !bytesEqual(masked, ip.AsSlice()) {
		return Prefix6{}, fmt.Errorf("prefix %s/%d has nonzero host bits", ip, length)
	}
	return Prefix6{Addr: ip, Len: length}, nil
}

// MustNew4 panics on an invalid prefix; for use with literal test fixtures.
func MustNew4(s string) Prefix4 {
	p := netip.MustParsePrefix(s)
	pfx, err := New4(p.Addr(), uint8(p.Bits()))
	if err != nil {
		panic(err)
	}
	return pfx
}

// MustNew6 panics on an invalid prefix; for use with literal test fixtures.
func MustNew6(s string) Prefix6 {
	p := netip.MustParsePrefix(s)
	pfx, err := New6(p.Addr(), uint8(p.Bits()))
	if err != nil {
		panic(err)
	}
	return pfx
}

func (p Prefix4) String() string { return netip.PrefixFrom(p.Addr, int(p.Len)).String() }
func (p Prefix6) String() string { return netip.PrefixFrom(p.Addr, int(p.Len)).String() }

// Contains reports whether addr falls within p.
func (p Prefix4) Contains(a netip.Addr) bool {
	return netip.PrefixFrom(p.Addr, int(p.Len)).Contains(a)
}

// Contains reports whether addr falls within p.
func (p Prefix6) Contains(a netip.Addr) bool {
	return netip.PrefixFrom(p.Addr, int(p.Len)).Contains(a)
}

// Equal reports whether the two prefixes name the same (address, length).
func (p Prefix4) Equal(o Prefix4) bool { return p.Len == o.Len && p.Addr == o.Addr }
func (p Prefix6) Equal(o Prefix6) bool { return p.Len == o.Len && p.Addr == o.Addr }

// Intersects reports whether p and o share at least one address.
func (p Prefix4) Intersects(o Prefix4) bool {
	shorter, longer := p, o
	if o.Len < p.Len {
		shorter, longer = o, p
	}
	return netip.PrefixFrom(shorter.Addr, int(shorter.Len)).Contains(longer.Addr)
}

// Intersects reports whether p and o share at least one address.
func (p Prefix6) Intersects(o Prefix6) bool {
	shorter, longer := p, o
	if o.Len < p.Len {
		shorter, longer = o, p
	}
	return netip.PrefixFrom(shorter.Addr, int(shorter.Len)).Contains(longer.Addr)
}

// AddrCount returns the number of addresses covered by the prefix.
func (p Prefix4) AddrCount() uint64 {
	return uint64(1) << (32 - p.Len)
}

// SuffixLen returns the number of host bits, i.e. 32-Len (or 128-Len for v6).
func (p Prefix4) SuffixLen() int { return 32 - int(p.Len) }
func (p Prefix6) SuffixLen() int { return 128 - int(p.Len) }

// GetBit returns the value of the pos'th bit (0 = most significant bit) of
// addr, mirroring addr4_get_bit/addr6_get_bit in the reference
// implementation.
func GetBit(b []byte, pos int) uint32 {
	byteIdx := pos / 8
	bitIdx := 7 - (pos % 8)
	return uint32((b[byteIdx] >> uint(bitIdx)) & 1)
}

// maskBytes zeroes every bit past the first `bits` bits of b (MSB-first),
// returning a new slice of the same length.
func maskBytes(b []byte, bits int) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	fullBytes := bits / 8
	rem := bits % 8
	for i := fullBytes; i < len(out); i++ {
		if i == fullBytes && rem > 0 {
			mask := byte(0xFF << uint(8-rem))
			out[i] &= mask
		} else {
			out[i] = 0
		}
	}
	return out
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
