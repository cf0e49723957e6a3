package fragdb

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

func testKey() Key {
	return Key{
		Src6:  netip.MustParseAddr("2001:db8::1"),
		Dst6:  netip.MustParseAddr("2001:db8::2"),
		ID:    1234,
		Proto: addr.ProtoUDP,
	}
}

func TestAddReassemblesTwoFragments(t *testing.T) {
	db := New(16, time.Second, nil)
	key := testKey()

	_, done, err := db.Add(key, Fragment{Offset: 0, Data: make([]byte, 16), MoreFragments: true})
	require.NoError(t, err)
	require.False(t, done)

	rec, done, err := db.Add(key, Fragment{Offset: 16, Data: make([]byte, 8), MoreFragments: false})
	require.NoError(t, err)
	require.True(t, done)
	require.NotNil(t, rec)
	require.Len(t, rec.Data, 24)
	require.Equal(t, 0, db.Count())
}

func TestAddOutOfOrderFragments(t *testing.T) {
	db := New(16, time.Second, nil)
	key := testKey()

	_, done, err := db.Add(key, Fragment{Offset: 16, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}, MoreFragments: false})
	require.NoError(t, err)
	require.False(t, done)

	rec, done, err := db.Add(key, Fragment{Offset: 0, Data: make([]byte, 16), MoreFragments: true})
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, rec.Data[16:24])
}

func TestAddOverlappingFragmentIsDropped(t *testing.T) {
	db := New(16, time.Second, nil)
	key := testKey()

	_, _, err := db.Add(key, Fragment{Offset: 0, Data: make([]byte, 16), MoreFragments: true})
	require.NoError(t, err)

	_, _, err = db.Add(key, Fragment{Offset: 8, Data: make([]byte, 16), MoreFragments: true})
	require.True(t, xfault.Is(err, xfault.InvalidArg))
}

func TestSweepDropsExpiredBucketAtDeadline(t *testing.T) {
	now := time.Now()
	clock := now
	db := New(16, 2*time.Second, func() time.Time { return clock })

	key := testKey()
	_, _, err := db.Add(key, Fragment{Offset: 0, Data: make([]byte, 16), MoreFragments: true})
	require.NoError(t, err)

	clock = now.Add(2 * time.Second)
	dropped := db.Sweep()
	require.Equal(t, []Key{key}, dropped)
	require.Equal(t, 0, db.Count())
}

func TestSweepKeepsBucketBeforeDeadline(t *testing.T) {
	now := time.Now()
	clock := now
	db := New(16, 2*time.Second, func() time.Time { return clock })

	key := testKey()
	_, _, err := db.Add(key, Fragment{Offset: 0, Data: make([]byte, 16), MoreFragments: true})
	require.NoError(t, err)

	clock = now.Add(time.Second)
	dropped := db.Sweep()
	require.Empty(t, dropped)
	require.Equal(t, 1, db.Count())
}

func TestMemoryPressureDropsOldestBucket(t *testing.T) {
	db := New(1, time.Minute, nil)

	key1 := testKey()
	key2 := testKey()
	key2.ID = 5678

	_, _, err := db.Add(key1, Fragment{Offset: 0, Data: make([]byte, 16), MoreFragments: true})
	require.NoError(t, err)
	_, _, err = db.Add(key2, Fragment{Offset: 0, Data: make([]byte, 16), MoreFragments: true})
	require.NoError(t, err)

	require.Equal(t, 1, db.Count())
}
