// Package pool4 implements the IPv4 prefix sets of spec §4.2: the SIIT
// pool4 membership set, the blacklist, the RFC 6791 ICMP-source pool, and
// the NAT64 pool4 (address + port range) variant used by the BIB.
package pool4

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

// Set is a simple IPv4 prefix membership set: SIIT's pool4 variant, the
// blacklist, and the RFC 6791 pool are all one of these (§4.2 "All pool
// variants expose add/remove/flush/count/is_empty/contains/for_each").
type Set struct {
	mu  sync.Mutex
	ptr atomic.Pointer[[]addr.Prefix4]
}

// NewSet returns an empty prefix set.
func NewSet() *Set {
	s := &Set{}
	empty := []addr.Prefix4{}
	s.ptr.Store(&empty)
	return s
}

func (s *Set) snapshot() []addr.Prefix4 {
	return *s.ptr.Load()
}

// Add inserts prefix. AlreadyExists on an exact duplicate, InvalidArg on
// any overlap with an existing entry.
func (s *Set) Add(op string, prefix addr.Prefix4) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot()
	for _, e := range cur {
		if e.Equal(prefix) {
			return xfault.Newf(xfault.AlreadyExists, op, "prefix %s already present", prefix)
		}
		if e.Intersects(prefix) {
			return xfault.Newf(xfault.InvalidArg, op, "prefix %s overlaps existing entry %s", prefix, e)
		}
	}

	next := insertSorted(cur, prefix)
	s.ptr.Store(&next)
	return nil
}

// insertSorted inserts prefix into cur, keeping entries ordered by
// (address, length) so that cursor-based iteration has a well-defined
// successor even across concurrent removals.
func insertSorted(cur []addr.Prefix4, prefix addr.Prefix4) []addr.Prefix4 {
	next := make([]addr.Prefix4, 0, len(cur)+1)
	inserted := false
	for _, e := range cur {
		if !inserted && less4(prefix, e) {
			next = append(next, prefix)
			inserted = true
		}
		next = append(next, e)
	}
	if !inserted {
		next = append(next, prefix)
	}
	return next
}

func less4(a, b addr.Prefix4) bool {
	ab, bb := a.Addr.As4(), b.Addr.As4()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return a.Len < b.Len
}

// Remove deletes the exact prefix. NotFound if absent.
func (s *Set) Remove(op string, prefix addr.Prefix4) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.snapshot()
	next := make([]addr.Prefix4, 0, len(cur))
	found := false
	for _, e := range cur {
		if e.Equal(prefix) {
			found = true
			continue
		}
		next = append(next, e)
	}
	if !found {
		return xfault.Newf(xfault.NotFound, op, "prefix %s not present", prefix)
	}
	s.ptr.Store(&next)
	return nil
}

// Flush empties the set.
func (s *Set) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	empty := []addr.Prefix4{}
	s.ptr.Store(&empty)
}

// Count returns the number of entries.
func (s *Set) Count() int { return len(s.snapshot()) }

// IsEmpty reports whether the set has no entries.
func (s *Set) IsEmpty() bool { return s.Count() == 0 }

// Contains performs a longest-prefix match, returning the most specific
// covering entry.
func (s *Set) Contains(ip netip.Addr) (addr.Prefix4, bool) {
	best, ok := addr.Prefix4{}, false
	for _, e := range s.snapshot() {
		if e.Contains(ip) && (!ok || e.Len > best.Len) {
			best, ok = e, true
		}
	}
	return best, ok
}

// ForEach visits entries in address order over a stable snapshot; fn
// returning false stops early. cursor, if non-nil, resumes after the
// matching prefix; if cursor has since been removed, iteration resumes at
// the next existing key in address order (spec §9 "iteration under
// mutation").
func (s *Set) ForEach(cursor *addr.Prefix4, fn func(addr.Prefix4) bool) {
	cur := s.snapshot()
	start := 0
	if cursor != nil {
		for i, e := range cur {
			if less4(*cursor, e) || e.Equal(*cursor) {
				start = i
				if e.Equal(*cursor) {
					start = i + 1
				}
				break
			}
			start = i + 1
		}
	}
	for _, e := range cur[start:] {
		if !fn(e) {
			return
		}
	}
}
