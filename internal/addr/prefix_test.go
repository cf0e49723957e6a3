package addr

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew4RejectsNonzeroHostBits(t *testing.T) {
	_, err := New4(netip.MustParseAddr("192.0.2.17"), 28)
	require.Error(t, err)
}

func TestNew6RejectsNonzeroHostBits(t *testing.T) {
	_, err := New6(netip.MustParseAddr("2001:db8:cccc::1"), 124)
	require.Error(t, err)
}

func TestPrefixIntersects(t *testing.T) {
	a := MustNew4("192.0.2.0/24")
	b := MustNew4("192.0.2.128/25")
	c := MustNew4("198.51.100.0/24")

	require.True(t, a.Intersects(b))
	require.True(t, b.Intersects(a))
	require.False(t, a.Intersects(c))
}

func TestPrefix6Intersects(t *testing.T) {
	a := MustNew6("2001:db8::/32")
	b := MustNew6("2001:db8:cccc::/48")
	c := MustNew6("2001:db9::/32")

	require.True(t, a.Intersects(b))
	require.True(t, b.Intersects(a))
	require.False(t, a.Intersects(c))
}

func TestEAMSuffixTranslation(t *testing.T) {
	v4Prefix := MustNew4("192.0.2.16/28")
	v6Prefix := MustNew6("2001:db8:cccc::/124")
	require.Equal(t, v4Prefix.SuffixLen(), v6Prefix.SuffixLen())

	v4 := netip.MustParseAddr("192.0.2.24")
	suffix := LowBitsV4(v4.As4(), v4Prefix.SuffixLen())
	v6bytes := WithLowBitsV6(v6Prefix, v6Prefix.SuffixLen(), suffix)
	require.Equal(t, netip.MustParseAddr("2001:db8:cccc::8"), netip.AddrFrom16(v6bytes))

	v6 := netip.MustParseAddr("2001:db8:cccc::f")
	suffix2 := LowBitsV6(v6.As16(), v6Prefix.SuffixLen())
	v4bytes := WithLowBitsV4(v4Prefix, v4Prefix.SuffixLen(), suffix2)
	require.Equal(t, netip.MustParseAddr("192.0.2.31"), netip.AddrFrom4(v4bytes))
}

func TestGetBit(t *testing.T) {
	b := []byte{0b10000000, 0x00}
	require.Equal(t, uint32(1), GetBit(b, 0))
	require.Equal(t, uint32(0), GetBit(b, 1))
}

func TestAddrCount(t *testing.T) {
	require.Equal(t, uint64(256), MustNew4("192.0.2.0/24").AddrCount())
	require.Equal(t, uint64(1), MustNew4("192.0.2.1/32").AddrCount())
}
