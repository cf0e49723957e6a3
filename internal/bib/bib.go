// Package bib implements the Binding Information Base (spec §4.7): per
// L4-protocol dual indexes on (v6 transport, proto) and (v4 transport,
// proto), with port allocation delegated to a pool4 picker.
package bib

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

// Entry is one BIB binding. Refcount is guarded independently of the
// DB-level lock (spec §5: "Session and BIB writers additionally guard ...
// refcounts"), since sessions increment/decrement it without taking the
// DB's table lock.
type Entry struct {
	V6       addr.TransportAddr
	V4       addr.TransportAddr
	Proto    addr.Proto
	IsStatic bool

	refcount atomic.Int32
}

// Refcount returns the current session refcount.
func (e *Entry) Refcount() int32 { return e.refcount.Load() }

// Retain increments the refcount; called when a session starts
// referencing this BIB entry.
func (e *Entry) Retain() { e.refcount.Add(1) }

// Release decrements the refcount and returns the resulting value;
// called when a session referencing this entry is destroyed.
func (e *Entry) Release() int32 { return e.refcount.Add(-1) }

// Picker allocates a v4 transport address for a new binding, following
// the NAT64 port-preservation/parity rules of pool4 (spec §4.7).
// inUse reports whether a candidate is already bound in this DB.
type Picker func(wantPort uint16, inUse func(addr.TransportAddr) bool) (addr.TransportAddr, error)

// DB is the Binding Information Base, storing one independent table per
// L4 protocol.
type DB struct {
	mu   sync.Mutex
	byV6 map[addr.Proto]map[addr.TransportAddr]*Entry
	byV4 map[addr.Proto]map[addr.TransportAddr]*Entry
}

// New returns an empty BIB.
func New() *DB {
	return &DB{
		byV6: map[addr.Proto]map[addr.TransportAddr]*Entry{},
		byV4: map[addr.Proto]map[addr.TransportAddr]*Entry{},
	}
}

func (db *DB) tables(proto addr.Proto) (map[addr.TransportAddr]*Entry, map[addr.TransportAddr]*Entry) {
	v6t, ok := db.byV6[proto]
	if !ok {
		v6t = map[addr.TransportAddr]*Entry{}
		db.byV6[proto] = v6t
	}
	v4t, ok := db.byV4[proto]
	if !ok {
		v4t = map[addr.TransportAddr]*Entry{}
		db.byV4[proto] = v4t
	}
	return v6t, v4t
}

// FindByV6 looks up the entry bound to (v6, proto).
func (db *DB) FindByV6(proto addr.Proto, v6 addr.TransportAddr) (*Entry, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.byV6[proto][v6]
	return e, ok
}

// FindByV4 looks up the entry bound to (v4, proto).
func (db *DB) FindByV4(proto addr.Proto, v4 addr.TransportAddr) (*Entry, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.byV4[proto][v4]
	return e, ok
}

// FindOrCreate returns the existing entry for (v6, proto), or allocates a
// fresh v4 transport address via pick and inserts a new dynamic entry.
// The second return value reports whether a new entry was created.
func (db *DB) FindOrCreate(proto addr.Proto, v6 addr.TransportAddr, pick Picker) (*Entry, bool, error) {
	const op = "bib.FindOrCreate"

	db.mu.Lock()
	defer db.mu.Unlock()

	v6t, v4t := db.tables(proto)
	if e, ok := v6t[v6]; ok {
		return e, false, nil
	}

	v4, err := pick(v6.Port, func(cand addr.TransportAddr) bool {
		_, taken := v4t[cand]
		return taken
	})
	if err != nil {
		return nil, false, xfault.Wrap(xfault.KindOf(err), op, err)
	}

	e := &Entry{V6: v6, V4: v4, Proto: proto}
	v6t[v6] = e
	v4t[v4] = e
	return e, true, nil
}

// StaticAdd inserts a user-configured static binding. AlreadyExists if
// either side conflicts with an existing entry.
func (db *DB) StaticAdd(proto addr.Proto, v6, v4 addr.TransportAddr) (*Entry, error) {
	const op = "bib.StaticAdd"

	db.mu.Lock()
	defer db.mu.Unlock()

	v6t, v4t := db.tables(proto)
	if _, ok := v6t[v6]; ok {
		return nil, xfault.Newf(xfault.AlreadyExists, op, "v6 transport %s already bound", v6)
	}
	if _, ok := v4t[v4]; ok {
		return nil, xfault.Newf(xfault.AlreadyExists, op, "v4 transport %s already bound", v4)
	}

	e := &Entry{V6: v6, V4: v4, Proto: proto, IsStatic: true}
	v6t[v6] = e
	v4t[v4] = e
	return e, nil
}

// Remove deletes the entry for (v6, proto). It succeeds only if the
// entry has no referencing sessions or is static (spec §4.7); otherwise
// it returns InvalidArg. NotFound if no entry matches.
func (db *DB) Remove(proto addr.Proto, v6 addr.TransportAddr) error {
	const op = "bib.Remove"

	db.mu.Lock()
	defer db.mu.Unlock()

	v6t, v4t := db.tables(proto)
	e, ok := v6t[v6]
	if !ok {
		return xfault.Newf(xfault.NotFound, op, "no BIB entry for %s", v6)
	}
	if e.Refcount() > 0 && !e.IsStatic {
		return xfault.Newf(xfault.InvalidArg, op, "entry %s is referenced by %d session(s)", v6, e.Refcount())
	}

	delete(v6t, v6)
	delete(v4t, e.V4)
	return nil
}

// removeEntry deletes a specific entry once its refcount reaches zero
// (called by the session sweeper; does not re-check refcount).
func (db *DB) removeEntry(e *Entry) {
	db.mu.Lock()
	defer db.mu.Unlock()
	v6t, v4t := db.tables(e.Proto)
	delete(v6t, e.V6)
	delete(v4t, e.V4)
}

// ReleaseIfUnreferenced decrements e's refcount and, if it drops to zero
// and e is dynamic, removes it from the DB. Called by the session
// sweeper when a session referencing e is destroyed (spec §4.8 purge
// rule).
func (db *DB) ReleaseIfUnreferenced(e *Entry) {
	if e.Release() <= 0 && !e.IsStatic {
		db.removeEntry(e)
	}
}

// Count returns the number of entries for proto.
func (db *DB) Count(proto addr.Proto) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.byV6[proto])
}

// ForEachByV4 visits proto's entries in v4-address order, resuming after
// cursor if given (spec §4.7 "yields entries in v4-address order for
// display").
func (db *DB) ForEachByV4(proto addr.Proto, cursor *addr.TransportAddr, fn func(*Entry) bool) {
	db.mu.Lock()
	v4t := db.byV4[proto]
	entries := make([]*Entry, 0, len(v4t))
	for _, e := range v4t {
		entries = append(entries, e)
	}
	db.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return less(entries[i].V4, entries[j].V4) })

	start := 0
	if cursor != nil {
		for i, e := range entries {
			if less(*cursor, e.V4) {
				start = i
				break
			}
			start = i + 1
		}
	}

	for _, e := range entries[start:] {
		if !fn(e) {
			return
		}
	}
}

func less(a, b addr.TransportAddr) bool {
	ab, bb := a.IP.As4(), b.IP.As4()
	for i := range ab {
		if ab[i] != bb[i] {
			return ab[i] < bb[i]
		}
	}
	return a.Port < b.Port
}
