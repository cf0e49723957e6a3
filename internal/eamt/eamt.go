// Package eamt implements the SIIT Explicit Address Mapping table (spec
// §4.3): a pair of longest-prefix-match indexes, one keyed by IPv6
// prefix and one by IPv4 prefix, jointly covering the same entries.
package eamt

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

// Entry is one EAM mapping. The invariant 128-Len6 == 32-Len4 (equal
// suffix widths) is enforced by Add.
type Entry struct {
	V6 addr.Prefix6
	V4 addr.Prefix4
}

// Table is the EAM table, published by atomic pointer swap.
type Table struct {
	mu  sync.Mutex
	ptr atomic.Pointer[[]Entry]
}

// New returns an empty EAM table.
func New() *Table {
	t := &Table{}
	empty := []Entry{}
	t.ptr.Store(&empty)
	return t
}

func (t *Table) snapshot() []Entry {
	return *t.ptr.Load()
}

// Add inserts entry. InvalidArg if the suffix widths mismatch or if
// either prefix overlaps an existing entry's same-family prefix;
// AlreadyExists if both prefixes exactly duplicate an existing entry.
func (t *Table) Add(entry Entry) error {
	const op = "eamt.Add"

	if entry.V6.SuffixLen() != entry.V4.SuffixLen() {
		return xfault.Newf(xfault.InvalidArg, op,
			"suffix width mismatch: v6 suffix %d, v4 suffix %d", entry.V6.SuffixLen(), entry.V4.SuffixLen())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snapshot()
	for _, e := range cur {
		v6Dup := e.V6.Equal(entry.V6)
		v4Dup := e.V4.Equal(entry.V4)
		if v6Dup && v4Dup {
			return xfault.Newf(xfault.AlreadyExists, op, "entry %s <-> %s already present", entry.V6, entry.V4)
		}
		if e.V6.Intersects(entry.V6) {
			return xfault.Newf(xfault.InvalidArg, op, "v6 prefix %s overlaps existing entry %s", entry.V6, e.V6)
		}
		if e.V4.Intersects(entry.V4) {
			return xfault.Newf(xfault.InvalidArg, op, "v4 prefix %s overlaps existing entry %s", entry.V4, e.V4)
		}
	}

	next := append(append([]Entry(nil), cur...), entry)
	t.ptr.Store(&next)
	return nil
}

// Remove deletes the entry identified by v6, v4, or both. If both are
// given they must identify the same entry, or InvalidArg is returned.
// NotFound if no entry matches.
func (t *Table) Remove(v6 *addr.Prefix6, v4 *addr.Prefix4) error {
	const op = "eamt.Remove"

	if v6 == nil && v4 == nil {
		return xfault.New(xfault.InvalidArg, op, "at least one of v6, v4 must be given")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	cur := t.snapshot()

	v6Idx, v4Idx := -1, -1
	if v6 != nil {
		for i, e := range cur {
			if e.V6.Equal(*v6) {
				v6Idx = i
				break
			}
		}
	}
	if v4 != nil {
		for i, e := range cur {
			if e.V4.Equal(*v4) {
				v4Idx = i
				break
			}
		}
	}

	var idx int
	switch {
	case v6 != nil && v4 != nil:
		if v6Idx < 0 || v4Idx < 0 {
			return xfault.New(xfault.NotFound, op, "no matching entry")
		}
		if v6Idx != v4Idx {
			return xfault.New(xfault.InvalidArg, op, "v6 and v4 prefixes identify different entries")
		}
		idx = v6Idx
	case v6 != nil:
		if v6Idx < 0 {
			return xfault.New(xfault.NotFound, op, "no matching entry")
		}
		idx = v6Idx
	default:
		if v4Idx < 0 {
			return xfault.New(xfault.NotFound, op, "no matching entry")
		}
		idx = v4Idx
	}

	next := make([]Entry, 0, len(cur)-1)
	next = append(next, cur[:idx]...)
	next = append(next, cur[idx+1:]...)
	t.ptr.Store(&next)
	return nil
}

// Flush empties the table.
func (t *Table) Flush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	empty := []Entry{}
	t.ptr.Store(&empty)
}

// Count returns the number of entries.
func (t *Table) Count() int { return len(t.snapshot()) }

// ForEach visits entries over a stable snapshot.
func (t *Table) ForEach(fn func(Entry) bool) {
	for _, e := range t.snapshot() {
		if !fn(e) {
			return
		}
	}
}

// GetIPv4ByIPv6 performs a longest-prefix match on v6 and returns the
// translated IPv4 address.
func (t *Table) GetIPv4ByIPv6(v6 netip.Addr) (netip.Addr, error) {
	const op = "eamt.GetIPv4ByIPv6"

	entry, ok := t.matchV6(v6)
	if !ok {
		return netip.Addr{}, xfault.Newf(xfault.NotFound, op, "%s not covered by any EAM entry", v6)
	}

	bits := entry.V6.SuffixLen()
	suffix := addr.LowBitsV6(v6.As16(), bits)
	out := addr.WithLowBitsV4(entry.V4, bits, suffix)
	return netip.AddrFrom4(out), nil
}

// GetIPv6ByIPv4 performs a longest-prefix match on v4 and returns the
// translated IPv6 address.
func (t *Table) GetIPv6ByIPv4(v4 netip.Addr) (netip.Addr, error) {
	const op = "eamt.GetIPv6ByIPv4"

	entry, ok := t.matchV4(v4)
	if !ok {
		return netip.Addr{}, xfault.Newf(xfault.NotFound, op, "%s not covered by any EAM entry", v4)
	}

	bits := entry.V4.SuffixLen()
	suffix := addr.LowBitsV4(v4.As4(), bits)
	out := addr.WithLowBitsV6(entry.V6, bits, suffix)
	return netip.AddrFrom16(out), nil
}

func (t *Table) matchV6(v6 netip.Addr) (Entry, bool) {
	best, ok := Entry{}, false
	for _, e := range t.snapshot() {
		if e.V6.Contains(v6) && (!ok || e.V6.Len > best.V6.Len) {
			best, ok = e, true
		}
	}
	return best, ok
}

func (t *Table) matchV4(v4 netip.Addr) (Entry, bool) {
	best, ok := Entry{}, false
	for _, e := range t.snapshot() {
		if e.V4.Contains(v4) && (!ok || e.V4.Len > best.V4.Len) {
			best, ok = e, true
		}
	}
	return best, ok
}
