// Package session implements the NAT64 Session DB (spec §4.8): per-proto
// entries keyed two ways, a per-proto LRU ordered by update_time, and the
// TCP state machine (tcp.go) driving state transitions.
package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/bib"
)

// FullKey is the primary session lookup key (spec §4.8: "by (remote6,
// local6, local4, remote4, proto)").
type FullKey struct {
	Remote6 addr.TransportAddr
	Local6  addr.TransportAddr
	Local4  addr.TransportAddr
	Remote4 addr.TransportAddr
}

// OutKey is the secondary lookup key used by pool4 removal sweeps (spec
// §4.8: "by (local4, remote4, proto)").
type OutKey struct {
	Local4  addr.TransportAddr
	Remote4 addr.TransportAddr
}

// Entry is one session record. UpdateTime is the only field the
// dataplane may mutate after creation (spec §5); every other field is
// fixed at creation or changed only under the session lock during a
// state transition.
type Entry struct {
	Key    FullKey
	Out    OutKey
	Proto  addr.Proto
	State  State
	BIB    *bib.Entry
	Deadline   time.Time
	UpdateTime time.Time

	elem *list.Element // LRU linkage, owned by this session's storage
}

// TTLSet is the set of TTLs the purge deadline calculation needs, a
// subset of the global config snapshot (spec §4.1, §4.8).
type TTLSet struct {
	UDP      time.Duration
	ICMP     time.Duration
	TCPEst   time.Duration
	TCPTrans time.Duration
}

// DeadlineFor computes update_time + ttl(proto, state), per spec §4.8's
// per-state TTL table.
func (t TTLSet) DeadlineFor(proto addr.Proto, state State, updateTime time.Time) time.Time {
	return updateTime.Add(t.ttlFor(proto, state))
}

func (t TTLSet) ttlFor(proto addr.Proto, state State) time.Duration {
	switch proto {
	case addr.ProtoUDP:
		return t.UDP
	case addr.ProtoICMP:
		return t.ICMP
	case addr.ProtoTCP:
		if state == Established {
			return t.TCPEst
		}
		return t.TCPTrans // INIT, FIN-received, TRANS states all use tcp_trans
	default:
		return t.TCPTrans
	}
}

type table struct {
	byFull map[FullKey]*Entry
	byOut  map[OutKey][]*Entry
	lru    *list.List
}

func newTable() *table {
	return &table{
		byFull: map[FullKey]*Entry{},
		byOut:  map[OutKey][]*Entry{},
		lru:    list.New(),
	}
}

// DB is the Session DB, one table per L4 protocol.
type DB struct {
	mu     sync.Mutex
	tables map[addr.Proto]*table
	now    func() time.Time
}

// New returns an empty Session DB. now defaults to time.Now when nil.
func New(now func() time.Time) *DB {
	if now == nil {
		now = time.Now
	}
	return &DB{tables: map[addr.Proto]*table{}, now: now}
}

func (db *DB) table(proto addr.Proto) *table {
	tb, ok := db.tables[proto]
	if !ok {
		tb = newTable()
		db.tables[proto] = tb
	}
	return tb
}

// Find looks up a session by its full key.
func (db *DB) Find(proto addr.Proto, key FullKey) (*Entry, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	e, ok := db.table(proto).byFull[key]
	return e, ok
}

// Create inserts a new session in the given initial state, bumping b's
// refcount (spec §8 invariant: every session's BIB has refcount >= 1).
func (db *DB) Create(proto addr.Proto, key FullKey, out OutKey, state State, b *bib.Entry, ttls TTLSet) *Entry {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	e := &Entry{
		Key:        key,
		Out:        out,
		Proto:      proto,
		State:      state,
		BIB:        b,
		UpdateTime: now,
		Deadline:   ttls.DeadlineFor(proto, state, now),
	}
	b.Retain()

	tb := db.table(proto)
	tb.byFull[key] = e
	tb.byOut[out] = append(tb.byOut[out], e)
	e.elem = tb.lru.PushBack(e)
	return e
}

// Touch applies a state transition (or a pure refresh when newState
// equals e.State), recomputes the deadline, and moves e to the LRU tail
// (spec §4.8 "On state change the session is moved to the tail").
func (db *DB) Touch(e *Entry, newState State, ttls TTLSet) {
	db.mu.Lock()
	defer db.mu.Unlock()

	e.State = newState
	e.UpdateTime = db.now()
	e.Deadline = ttls.DeadlineFor(e.Proto, newState, e.UpdateTime)

	tb := db.table(e.Proto)
	tb.lru.MoveToBack(e.elem)
}

// Sweep removes every session whose deadline has elapsed, releasing each
// one's BIB reference (spec §4.8 "Purge rule"), and returns the removed
// entries. The LRU is ordered by update_time, so the walk stops at the
// first entry whose deadline is still in the future.
func (db *DB) Sweep(bibDB *bib.DB) []*Entry {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	var purged []*Entry
	for proto, tb := range db.tables {
		for el := tb.lru.Front(); el != nil; {
			e := el.Value.(*Entry)
			if e.Deadline.After(now) {
				break
			}
			next := el.Next()
			db.removeLocked(proto, tb, e)
			purged = append(purged, e)
			el = next
		}
	}

	for _, e := range purged {
		bibDB.ReleaseIfUnreferenced(e.BIB)
	}
	return purged
}

// RemoveByV4Prefix deletes every session whose Out.Local4 falls within
// prefix (spec §8 scenario 5, "pool4 remove non-quick"), releasing their
// BIB references, and returns the removed entries.
func (db *DB) RemoveByV4Prefix(bibDB *bib.DB, prefix addr.Prefix4) []*Entry {
	db.mu.Lock()

	var removed []*Entry
	for proto, tb := range db.tables {
		var matched []*Entry
		for _, e := range tb.byFull {
			if prefix.Contains(e.Out.Local4.IP) {
				matched = append(matched, e)
			}
		}
		for _, e := range matched {
			db.removeLocked(proto, tb, e)
		}
		removed = append(removed, matched...)
	}
	db.mu.Unlock()

	for _, e := range removed {
		bibDB.ReleaseIfUnreferenced(e.BIB)
	}
	return removed
}

// removeLocked unlinks e from every index of tb. Caller holds db.mu.
func (db *DB) removeLocked(proto addr.Proto, tb *table, e *Entry) {
	delete(tb.byFull, e.Key)
	tb.lru.Remove(e.elem)

	bucket := tb.byOut[e.Out]
	for i, c := range bucket {
		if c == e {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(tb.byOut, e.Out)
	} else {
		tb.byOut[e.Out] = bucket
	}
}

// Count returns the number of sessions for proto.
func (db *DB) Count(proto addr.Proto) int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.table(proto).byFull)
}

// NextDeadline returns the earliest deadline across every protocol's
// LRU head, for the sweeper timer to arm against (spec §5 "Session
// eviction is driven by a single timer armed at min(head deadline, ...)").
func (db *DB) NextDeadline() (time.Time, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	var earliest time.Time
	found := false
	for _, tb := range db.tables {
		if front := tb.lru.Front(); front != nil {
			d := front.Value.(*Entry).Deadline
			if !found || d.Before(earliest) {
				earliest = d
				found = true
			}
		}
	}
	return earliest, found
}

// ForEach visits every session for proto over a stable snapshot, in LRU
// (update_time) order, for control-plane display (spec §4.13). fn
// returning false stops iteration early.
func (db *DB) ForEach(proto addr.Proto, fn func(*Entry) bool) {
	db.mu.Lock()
	tb := db.table(proto)
	snapshot := make([]*Entry, 0, tb.lru.Len())
	for el := tb.lru.Front(); el != nil; el = el.Next() {
		snapshot = append(snapshot, el.Value.(*Entry))
	}
	db.mu.Unlock()

	for _, e := range snapshot {
		if !fn(e) {
			return
		}
	}
}
