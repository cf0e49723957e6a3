package pool4

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/internal/addr"
)

type stubResolver struct {
	addr netip.Addr
	err  error
}

func (s stubResolver) PrimaryAddress() (netip.Addr, error) { return s.addr, s.err }

func TestRFC6791PickFallsBackToHostAddressWhenEmpty(t *testing.T) {
	want := netip.MustParseAddr("192.0.2.1")
	p := NewRFC6791Pool(stubResolver{addr: want})

	got, err := p.Pick(64, false)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestRFC6791PickDeterministicFromHopLimit(t *testing.T) {
	p := NewRFC6791Pool(nil)
	require.NoError(t, p.Add("op", addr.MustNew4("192.0.2.0/30")))

	got, err := p.Pick(2, false)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.2"), got)
}

func TestRFC6791PickBoundaryCountEqualsIndex(t *testing.T) {
	// Two /32 entries: total_addr_count = 2. hop_limit=1 -> index = 1%2 = 1,
	// equal to the first entry's count: running(0)+count(1) >= index(1)
	// selects the first entry at offset 1.
	p := NewRFC6791Pool(nil)
	require.NoError(t, p.Add("op", addr.MustNew4("192.0.2.1/32")))
	require.NoError(t, p.Add("op", addr.MustNew4("192.0.2.2/32")))

	got, err := p.Pick(1, false)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("192.0.2.2"), got)
}

func TestRFC6791PickExhaustsSingleEntryBoundary(t *testing.T) {
	// Single /32: count=1. index = hopLimit % 1 = 0 always. running(0)+count(1) >= index(0)
	// must select offset 0 on the first (only) entry; a `>` comparison would
	// select the same entry here, so this case does not tell the two apart.
	p := NewRFC6791Pool(nil)
	require.NoError(t, p.Add("op", addr.MustNew4("203.0.113.9/32")))

	got, err := p.Pick(17, false)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("203.0.113.9"), got)
}
