// Package fragdb implements the NAT64 fragment reassembly database (spec
// §4.6): packets are held, keyed by (src6, dst6, identification, proto),
// until a contiguous cover is assembled or the bucket's deadline elapses.
package fragdb

import (
	"net/netip"
	"sync"
	"time"

	"github.com/xlat64/xlat64/common/go/bitset"
	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

// blockSize is the IPv6 fragment-offset granularity (RFC 8200 §4.5): all
// offsets and all but the last fragment's length are multiples of 8
// bytes. Coverage is tracked per block in a bitset.TinyBitset, whose fixed
// 1024-bit capacity caps a reassembled datagram at maxPayload bytes; a
// fragment set implying a larger datagram is rejected as malformed.
const blockSize = 8

// maxPayload is the largest reassembled payload this database can track,
// bounded by bitset.TinyBitset's fixed capacity.
const maxPayload = blockSize * 64 * bitset.MaxBitsetWords

// Key identifies a fragment bucket.
type Key struct {
	Src6  netip.Addr
	Dst6  netip.Addr
	ID    uint32
	Proto addr.Proto
}

// Fragment is one arriving fragment.
type Fragment struct {
	Offset        uint32 // byte offset within the reassembled payload
	Data          []byte
	MoreFragments bool
}

// Reassembled is the payload produced once every fragment of a datagram
// has arrived.
type Reassembled struct {
	Key  Key
	Data []byte
}

type bucket struct {
	fragments   map[uint32][]byte // offset -> data, for final concatenation
	covered     bitset.TinyBitset
	totalBlocks uint32 // 0 until the last fragment (MoreFragments=false) arrives
	haveTotal   bool
	deadline    time.Time
}

// DB is the fragment reassembly database. maxBuckets bounds the number of
// in-flight reassemblies (spec §5 "Fragment DB ... cap at max_stored_pkts");
// on overflow the oldest bucket (by deadline) is dropped.
type DB struct {
	mu         sync.Mutex
	buckets    map[Key]*bucket
	order      []Key // insertion order, oldest first, for memory-pressure eviction
	maxBuckets int
	fragTTL    time.Duration
	now        func() time.Time
}

// New returns an empty fragment database. now defaults to time.Now if nil
// (tests may override it to control deadline arithmetic deterministically).
func New(maxBuckets int, fragTTL time.Duration, now func() time.Time) *DB {
	if now == nil {
		now = time.Now
	}
	return &DB{
		buckets:    make(map[Key]*bucket),
		maxBuckets: maxBuckets,
		fragTTL:    fragTTL,
		now:        now,
	}
}

// Add inserts a fragment. It returns (reassembled, true, nil) once the
// bucket is complete, in which case the bucket is removed. Otherwise it
// returns (nil, false, nil) meaning the packet should be held (verdict
// STOLEN). A malformed overlapping fragment or a fragment set implying a
// payload larger than this database can track returns a non-nil error
// (verdict DROP per spec §4.6).
func (db *DB) Add(key Key, frag Fragment) (*Reassembled, bool, error) {
	const op = "fragdb.Add"

	if len(frag.Data)%blockSize != 0 && frag.MoreFragments {
		return nil, false, xfault.New(xfault.InvalidArg, op, "non-final fragment length not a multiple of 8")
	}
	if frag.Offset%blockSize != 0 {
		return nil, false, xfault.New(xfault.InvalidArg, op, "fragment offset not a multiple of 8")
	}

	end := frag.Offset + uint32(len(frag.Data))
	if end > maxPayload {
		return nil, false, xfault.Newf(xfault.InvalidArg, op, "reassembled payload would exceed %d bytes", maxPayload)
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	b, ok := db.buckets[key]
	if !ok {
		b = &bucket{fragments: make(map[uint32][]byte)}
		db.buckets[key] = b
		db.order = append(db.order, key)
		db.evictIfOverCapacity(key)
		b.deadline = db.now().Add(db.fragTTL)
	}

	startBlock := frag.Offset / blockSize
	endBlock := end / blockSize
	for blk := startBlock; blk < endBlock; blk++ {
		if b.covered.Contains(blk) {
			delete(db.buckets, key)
			db.removeFromOrder(key)
			return nil, false, xfault.New(xfault.InvalidArg, op, "overlapping fragment")
		}
	}

	b.fragments[frag.Offset] = frag.Data
	for blk := startBlock; blk < endBlock; blk++ {
		b.covered.Insert(blk)
	}

	if !frag.MoreFragments {
		b.totalBlocks = endBlock
		b.haveTotal = true
	}

	if b.haveTotal && b.covered.Count() == uint(b.totalBlocks) {
		data := assemble(b, b.totalBlocks*blockSize)
		delete(db.buckets, key)
		db.removeFromOrder(key)
		return &Reassembled{Key: key, Data: data}, true, nil
	}

	return nil, false, nil
}

func assemble(b *bucket, total uint32) []byte {
	out := make([]byte, total)
	for offset, data := range b.fragments {
		copy(out[offset:], data)
	}
	return out
}

// evictIfOverCapacity drops the oldest bucket (other than keep) if the
// database is over maxBuckets, per spec §5's memory-pressure rule.
func (db *DB) evictIfOverCapacity(keep Key) {
	if db.maxBuckets <= 0 {
		return
	}
	for len(db.buckets) > db.maxBuckets && len(db.order) > 0 {
		oldest := db.order[0]
		if oldest == keep {
			break
		}
		db.order = db.order[1:]
		delete(db.buckets, oldest)
	}
}

func (db *DB) removeFromOrder(key Key) {
	for i, k := range db.order {
		if k == key {
			db.order = append(db.order[:i], db.order[i+1:]...)
			return
		}
	}
}

// Sweep drops every bucket whose deadline has elapsed and returns the
// keys of the dropped buckets, for the caller to log/account.
func (db *DB) Sweep() []Key {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	var dropped []Key
	for key, b := range db.buckets {
		if !b.deadline.After(now) {
			dropped = append(dropped, key)
			delete(db.buckets, key)
			db.removeFromOrder(key)
		}
	}
	return dropped
}

// Count returns the number of in-flight buckets.
func (db *DB) Count() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.buckets)
}
