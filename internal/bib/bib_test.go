package bib

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

func v6ta(ip string, port uint16) addr.TransportAddr {
	return addr.TransportAddr{IP: netip.MustParseAddr(ip), Port: port}
}

func fixedPicker(v4 addr.TransportAddr) Picker {
	return func(uint16, func(addr.TransportAddr) bool) (addr.TransportAddr, error) {
		return v4, nil
	}
}

func TestFindOrCreateCreatesBIBScenario(t *testing.T) {
	db := New()
	v6 := v6ta("2001:db8::1", 1234)
	v4 := v6ta("198.51.100.0", 1234)

	e, created, err := db.FindOrCreate(addr.ProtoUDP, v6, fixedPicker(v4))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, v6, e.V6)
	require.Equal(t, v4, e.V4)
	require.False(t, e.IsStatic)

	again, created2, err := db.FindOrCreate(addr.ProtoUDP, v6, fixedPicker(v4))
	require.NoError(t, err)
	require.False(t, created2)
	require.Same(t, e, again)
}

func TestStaticAddRejectsConflict(t *testing.T) {
	db := New()
	v6 := v6ta("2001:db8::1", 1234)
	v4 := v6ta("198.51.100.0", 1234)

	_, err := db.StaticAdd(addr.ProtoUDP, v6, v4)
	require.NoError(t, err)

	_, err = db.StaticAdd(addr.ProtoUDP, v6, v6ta("198.51.100.1", 1))
	require.True(t, xfault.Is(err, xfault.AlreadyExists))
}

func TestRemoveFailsWhileReferencedUnlessStatic(t *testing.T) {
	db := New()
	v6 := v6ta("2001:db8::1", 1234)
	v4 := v6ta("198.51.100.0", 1234)

	e, _, err := db.FindOrCreate(addr.ProtoUDP, v6, fixedPicker(v4))
	require.NoError(t, err)
	e.Retain()

	err = db.Remove(addr.ProtoUDP, v6)
	require.True(t, xfault.Is(err, xfault.InvalidArg))

	e.Release()
	require.NoError(t, db.Remove(addr.ProtoUDP, v6))
}

func TestRemoveStaticSucceedsEvenWhileReferenced(t *testing.T) {
	db := New()
	v6 := v6ta("2001:db8::1", 1234)
	v4 := v6ta("198.51.100.0", 1234)

	e, err := db.StaticAdd(addr.ProtoUDP, v6, v4)
	require.NoError(t, err)
	e.Retain()

	require.NoError(t, db.Remove(addr.ProtoUDP, v6))
}

func TestReleaseIfUnreferencedRemovesDynamicEntry(t *testing.T) {
	db := New()
	v6 := v6ta("2001:db8::1", 1234)
	v4 := v6ta("198.51.100.0", 1234)

	e, _, err := db.FindOrCreate(addr.ProtoUDP, v6, fixedPicker(v4))
	require.NoError(t, err)
	e.Retain()

	db.ReleaseIfUnreferenced(e)
	require.Equal(t, 0, db.Count(addr.ProtoUDP))
}

func TestForEachByV4OrdersByAddress(t *testing.T) {
	db := New()
	_, _, err := db.FindOrCreate(addr.ProtoUDP, v6ta("2001:db8::2", 2), fixedPicker(v6ta("198.51.100.2", 2)))
	require.NoError(t, err)
	_, _, err = db.FindOrCreate(addr.ProtoUDP, v6ta("2001:db8::1", 1), fixedPicker(v6ta("198.51.100.1", 1)))
	require.NoError(t, err)

	var order []addr.TransportAddr
	db.ForEachByV4(addr.ProtoUDP, nil, func(e *Entry) bool {
		order = append(order, e.V4)
		return true
	})
	require.Equal(t, []addr.TransportAddr{
		v6ta("198.51.100.1", 1),
		v6ta("198.51.100.2", 2),
	}, order)
}
