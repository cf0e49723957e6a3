package pool4

import (
	"math/rand/v2"
	"net/netip"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

// HostAddressResolver supplies the "outbound interface's primary
// non-loopback IPv4 address" fallback spec §4.5 requires when the RFC
// 6791 pool is empty. The production implementation is netlink-backed
// (see cmd/xlat64d); tests use a stub.
type HostAddressResolver interface {
	PrimaryAddress() (netip.Addr, error)
}

// RFC6791Pool is the IPv4 source-address pool consulted when an outgoing
// ICMPv4 error's originating address has no representation in IPv4
// (spec §4.5).
type RFC6791Pool struct {
	*Set
	resolver HostAddressResolver
}

// NewRFC6791Pool builds an empty pool backed by resolver for the
// pool-empty fallback.
func NewRFC6791Pool(resolver HostAddressResolver) *RFC6791Pool {
	return &RFC6791Pool{Set: NewSet(), resolver: resolver}
}

// Pick selects a source address. If the pool is empty, it falls back to
// the resolver's primary address. Otherwise it derives an index in
// [0, total_addr_count) — uniformly at random if randomize is true,
// deterministically from hopLimit otherwise — then walks entries in
// stored order, subtracting each entry's address count, using `>=` as the
// boundary comparison (matching mod/stateless/rfc6791.c literally; see
// the Open Question this resolves in spec §9).
func (p *RFC6791Pool) Pick(hopLimit uint8, randomize bool) (netip.Addr, error) {
	const op = "pool4.RFC6791Pool.Pick"

	entries := p.snapshot()
	if len(entries) == 0 {
		if p.resolver == nil {
			return netip.Addr{}, xfault.New(xfault.Unsupported, op, "rfc6791 pool empty and no host resolver configured")
		}
		addr, err := p.resolver.PrimaryAddress()
		if err != nil {
			return netip.Addr{}, xfault.Wrap(xfault.Unsupported, op, err)
		}
		return addr, nil
	}

	var total uint64
	for _, e := range entries {
		total += e.AddrCount()
	}

	var index uint64
	if randomize {
		index = rand.Uint64N(total)
	} else {
		index = uint64(hopLimit) % total
	}

	var running uint64
	for _, e := range entries {
		count := e.AddrCount()
		if running+count >= index {
			offset := index - running
			return addrAtOffset(e, offset), nil
		}
		running += count
	}

	// Per the literal `>=` comparison, the loop above is guaranteed to
	// return before exhausting entries whenever index < total; this path
	// is unreachable for a consistent pool.
	return netip.Addr{}, xfault.New(xfault.Unsupported, op, "rfc6791 index computation exhausted pool")
}

func addrAtOffset(prefix addr.Prefix4, offset uint64) netip.Addr {
	b := prefix.Addr.As4()
	base := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	v := base + uint32(offset)
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
}
