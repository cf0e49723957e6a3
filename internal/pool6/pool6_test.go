package pool6

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

func TestAddRejectsInvalidLength(t *testing.T) {
	p := New()
	prefix := addr.MustNew6("2001:db8::/48")
	prefix.Len = 48 + 1 // not a valid RFC 6052 algorithmic length
	err := p.Add(prefix)
	require.True(t, xfault.Is(err, xfault.InvalidArg))
}

func TestTranslateWithPool6Example(t *testing.T) {
	p := New()
	require.NoError(t, p.Add(addr.MustNew6("64:ff9b::/96")))

	v6, err := p.Translate4To6(netip.MustParseAddr("203.0.113.5"))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("64:ff9b::cb00:7105"), v6)

	v4, err := p.Translate6To4(v6)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddr("203.0.113.5"), v4)
}

func TestAddDuplicateReturnsAlreadyExists(t *testing.T) {
	p := New()
	prefix := addr.MustNew6("64:ff9b::/96")
	require.NoError(t, p.Add(prefix))
	err := p.Add(prefix)
	require.True(t, xfault.Is(err, xfault.AlreadyExists))
}

func TestAddIntersectingReturnsInvalidArg(t *testing.T) {
	p := New()
	require.NoError(t, p.Add(addr.MustNew6("2001:db8::/32")))
	err := p.Add(addr.MustNew6("2001:db8::/48"))
	require.True(t, xfault.Is(err, xfault.InvalidArg))
}

func TestRemoveMissingReturnsNotFound(t *testing.T) {
	p := New()
	err := p.Remove(addr.MustNew6("64:ff9b::/96"))
	require.True(t, xfault.Is(err, xfault.NotFound))
}

func TestForEachVisitsEveryEntryOnce(t *testing.T) {
	p := New()
	require.NoError(t, p.Add(addr.MustNew6("2001:db8:1::/64")))
	require.NoError(t, p.Add(addr.MustNew6("2001:db8:2::/64")))

	seen := map[string]int{}
	p.ForEach(func(e addr.Prefix6) bool {
		seen[e.String()]++
		return true
	})
	require.Len(t, seen, 2)
	for _, n := range seen {
		require.Equal(t, 1, n)
	}
}

func TestFlush(t *testing.T) {
	p := New()
	require.NoError(t, p.Add(addr.MustNew6("64:ff9b::/96")))
	p.Flush()
	require.Equal(t, 0, p.Count())
}
