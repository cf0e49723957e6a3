// Package pool6 implements the pool6 table (spec §4.4, §4.2): the set of
// IPv6 prefixes RFC 6052 algorithmic translation embeds IPv4 addresses
// into and extracts them from.
package pool6

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

// Pool holds a set of non-intersecting pool6 prefixes, published by
// atomic pointer swap so lookups never block a concurrent Add/Remove
// (spec §5).
type Pool struct {
	mu  sync.Mutex
	ptr atomic.Pointer[[]addr.Prefix6]
}

// New returns an empty pool6 table.
func New() *Pool {
	p := &Pool{}
	empty := []addr.Prefix6{}
	p.ptr.Store(&empty)
	return p
}

func (p *Pool) snapshot() []addr.Prefix6 {
	return *p.ptr.Load()
}

// Add inserts prefix. It is rejected with InvalidArg if its length is not
// one of the RFC 6052 algorithmic lengths, with InvalidArg if it
// intersects an existing entry (spec §8: "no two prefixes in the same
// pool intersect"), or with AlreadyExists if it exactly duplicates one.
func (p *Pool) Add(prefix addr.Prefix6) error {
	const op = "pool6.Add"

	if !addr.IsValidPool6Length(prefix.Len) {
		return xfault.Newf(xfault.InvalidArg, op, "prefix length %d is not a valid pool6 length", prefix.Len)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.snapshot()
	for _, e := range cur {
		if e.Equal(prefix) {
			return xfault.Newf(xfault.AlreadyExists, op, "prefix %s already in pool6", prefix)
		}
		if e.Intersects(prefix) {
			return xfault.Newf(xfault.InvalidArg, op, "prefix %s overlaps existing entry %s", prefix, e)
		}
	}

	next := append(append([]addr.Prefix6(nil), cur...), prefix)
	p.ptr.Store(&next)
	return nil
}

// Remove deletes the exact prefix. NotFound if absent.
func (p *Pool) Remove(prefix addr.Prefix6) error {
	const op = "pool6.Remove"

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := p.snapshot()
	next := make([]addr.Prefix6, 0, len(cur))
	found := false
	for _, e := range cur {
		if e.Equal(prefix) {
			found = true
			continue
		}
		next = append(next, e)
	}
	if !found {
		return xfault.Newf(xfault.NotFound, op, "prefix %s not in pool6", prefix)
	}
	p.ptr.Store(&next)
	return nil
}

// Flush empties the pool.
func (p *Pool) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	empty := []addr.Prefix6{}
	p.ptr.Store(&empty)
}

// Count returns the number of entries.
func (p *Pool) Count() int {
	return len(p.snapshot())
}

// ForEach visits every entry exactly once over a stable snapshot; fn
// returning false stops iteration early.
func (p *Pool) ForEach(fn func(addr.Prefix6) bool) {
	for _, e := range p.snapshot() {
		if !fn(e) {
			return
		}
	}
}

// Find returns the prefix containing ip, if any.
func (p *Pool) Find(ip netip.Addr) (addr.Prefix6, bool) {
	for _, e := range p.snapshot() {
		if e.Contains(ip) {
			return e, true
		}
	}
	return addr.Prefix6{}, false
}

// Translate4To6 embeds v4 using the pool's prefix. Unsupported if the
// pool is empty.
func (p *Pool) Translate4To6(v4 netip.Addr) (netip.Addr, error) {
	const op = "pool6.Translate4To6"
	cur := p.snapshot()
	if len(cur) == 0 {
		return netip.Addr{}, xfault.New(xfault.Unsupported, op, "pool6 is empty")
	}
	return addr.Translate4To6(v4, cur[0])
}

// Translate6To4 extracts the IPv4 payload from v6 using whichever pool
// prefix contains it. NotFound if v6 is not covered by any entry.
func (p *Pool) Translate6To4(v6 netip.Addr) (netip.Addr, error) {
	const op = "pool6.Translate6To4"
	prefix, ok := p.Find(v6)
	if !ok {
		return netip.Addr{}, xfault.Newf(xfault.NotFound, op, "%s not covered by pool6", v6)
	}
	return addr.Translate6To4(v6, prefix)
}
