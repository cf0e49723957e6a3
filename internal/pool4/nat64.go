package pool4

import (
	"sync"
	"sync/atomic"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

// PortRange is an inclusive [Lo, Hi] port range configured for a pool4
// entry.
type PortRange struct {
	Lo, Hi uint16
}

// Entry is one NAT64 pool4 configuration line: an IPv4 prefix plus the
// port range available on every address in it.
type Entry struct {
	Prefix addr.Prefix4
	Ports  PortRange
}

// NAT64Pool is the stateful pool4 variant: besides the membership-set
// behavior of §4.2, it picks (address, port) pairs for BIB allocation
// following the NAT64 port-preservation and parity rules (spec §4.7).
type NAT64Pool struct {
	mu  sync.Mutex
	ptr atomic.Pointer[[]Entry]
}

// NewNAT64Pool returns an empty NAT64 pool4.
func NewNAT64Pool() *NAT64Pool {
	p := &NAT64Pool{}
	empty := []Entry{}
	p.ptr.Store(&empty)
	return p
}

func (p *NAT64Pool) snapshot() []Entry {
	return *p.ptr.Load()
}

// Add inserts entry. AlreadyExists on an exact duplicate prefix,
// InvalidArg on any prefix overlap with an existing entry.
func (p *NAT64Pool) Add(entry Entry) error {
	const op = "pool4.NAT64Pool.Add"

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.snapshot()
	for _, e := range cur {
		if e.Prefix.Equal(entry.Prefix) {
			return xfault.Newf(xfault.AlreadyExists, op, "prefix %s already present", entry.Prefix)
		}
		if e.Prefix.Intersects(entry.Prefix) {
			return xfault.Newf(xfault.InvalidArg, op, "prefix %s overlaps existing entry %s", entry.Prefix, e.Prefix)
		}
	}

	next := append(append([]Entry(nil), cur...), entry)
	p.ptr.Store(&next)
	return nil
}

// Remove deletes the entry whose prefix exactly matches prefix. NotFound
// if absent. The caller (control dispatch) is responsible for sweeping
// sessions/BIBs bound to addresses in prefix per spec §8 scenario 5.
func (p *NAT64Pool) Remove(prefix addr.Prefix4) error {
	const op = "pool4.NAT64Pool.Remove"

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.snapshot()
	next := make([]Entry, 0, len(cur))
	found := false
	for _, e := range cur {
		if e.Prefix.Equal(prefix) {
			found = true
			continue
		}
		next = append(next, e)
	}
	if !found {
		return xfault.Newf(xfault.NotFound, op, "prefix %s not present", prefix)
	}
	p.ptr.Store(&next)
	return nil
}

// Flush empties the pool.
func (p *NAT64Pool) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	empty := []Entry{}
	p.ptr.Store(&empty)
}

// Count returns the number of configured prefix entries (not the number
// of addresses or ports they cover).
func (p *NAT64Pool) Count() int { return len(p.snapshot()) }

// ForEach visits configured entries over a stable snapshot.
func (p *NAT64Pool) ForEach(fn func(Entry) bool) {
	for _, e := range p.snapshot() {
		if !fn(e) {
			return
		}
	}
}

// Pick allocates a v4 transport address for proto, preferring to preserve
// wantPort's value, then its parity, then any free port — each within the
// matching well-known ([0,1023]) or registered/ephemeral ([1024,65535])
// class, per RFC 6146 §3.3. inUse reports whether a candidate is already
// bound; OutOfMemory is returned if the pool is exhausted.
func (p *NAT64Pool) Pick(proto addr.Proto, wantPort uint16, inUse func(addr.TransportAddr) bool) (addr.TransportAddr, error) {
	const op = "pool4.NAT64Pool.Pick"

	entries := p.snapshot()
	if len(entries) == 0 {
		return addr.TransportAddr{}, xfault.New(xfault.OutOfMemory, op, "pool4 is empty")
	}

	wellKnown := wantPort < 1024

	// Tier 1: exact port preserved.
	if cand, ok := p.scan(entries, wellKnown, func(port uint16) bool { return port == wantPort }, inUse); ok {
		return cand, nil
	}
	// Tier 2: same parity.
	wantParity := wantPort % 2
	if cand, ok := p.scan(entries, wellKnown, func(port uint16) bool { return port%2 == wantParity }, inUse); ok {
		return cand, nil
	}
	// Tier 3: any free port in the matching class.
	if cand, ok := p.scan(entries, wellKnown, func(uint16) bool { return true }, inUse); ok {
		return cand, nil
	}

	return addr.TransportAddr{}, xfault.New(xfault.OutOfMemory, op, "pool4 exhausted")
}

func (p *NAT64Pool) scan(entries []Entry, wellKnown bool, accept func(port uint16) bool, inUse func(addr.TransportAddr) bool) (addr.TransportAddr, bool) {
	for _, e := range entries {
		lo, hi, ok := classRange(e.Ports, wellKnown)
		if !ok {
			continue
		}
		count := e.Prefix.AddrCount()
		for off := uint64(0); off < count; off++ {
			ip := addrAtOffset(e.Prefix, off)
			for port := uint32(lo); port <= uint32(hi); port++ {
				if !accept(uint16(port)) {
					continue
				}
				cand := addr.TransportAddr{IP: ip, Port: uint16(port)}
				if !inUse(cand) {
					return cand, true
				}
			}
		}
	}
	return addr.TransportAddr{}, false
}

// classRange intersects ports with the well-known or registered/ephemeral
// class, per RFC 6146 §3.3.
func classRange(ports PortRange, wellKnown bool) (lo, hi uint16, ok bool) {
	var classLo, classHi uint16 = 1024, 65535
	if wellKnown {
		classLo, classHi = 0, 1023
	}
	lo = ports.Lo
	if lo < classLo {
		lo = classLo
	}
	hi = ports.Hi
	if hi > classHi {
		hi = classHi
	}
	if lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
