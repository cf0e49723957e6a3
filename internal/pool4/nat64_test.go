package pool4

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/xfault"
)

func TestNAT64PoolPickPreservesPort(t *testing.T) {
	p := NewNAT64Pool()
	require.NoError(t, p.Add(Entry{
		Prefix: addr.MustNew4("198.51.100.0/32"),
		Ports:  PortRange{Lo: 1024, Hi: 65535},
	}))

	got, err := p.Pick(addr.ProtoUDP, 1234, func(addr.TransportAddr) bool { return false })
	require.NoError(t, err)
	require.Equal(t, uint16(1234), got.Port)
}

func TestNAT64PoolPickFallsBackToParityThenAny(t *testing.T) {
	p := NewNAT64Pool()
	require.NoError(t, p.Add(Entry{
		Prefix: addr.MustNew4("198.51.100.0/32"),
		Ports:  PortRange{Lo: 1024, Hi: 1030},
	}))

	taken := map[uint16]bool{1234: true}
	got, err := p.Pick(addr.ProtoUDP, 1234, func(c addr.TransportAddr) bool { return taken[c.Port] })
	require.NoError(t, err)
	require.Equal(t, uint16(0), got.Port%2)
	require.NotEqual(t, uint16(1234), got.Port)
}

func TestNAT64PoolPickExhaustedReturnsOutOfMemory(t *testing.T) {
	p := NewNAT64Pool()
	require.NoError(t, p.Add(Entry{
		Prefix: addr.MustNew4("198.51.100.0/32"),
		Ports:  PortRange{Lo: 1024, Hi: 1024},
	}))

	_, err := p.Pick(addr.ProtoUDP, 1234, func(addr.TransportAddr) bool { return true })
	require.True(t, xfault.Is(err, xfault.OutOfMemory))
}

func TestNAT64PoolAddRejectsOverlap(t *testing.T) {
	p := NewNAT64Pool()
	require.NoError(t, p.Add(Entry{Prefix: addr.MustNew4("198.51.100.0/24"), Ports: PortRange{Lo: 1024, Hi: 65535}}))
	err := p.Add(Entry{Prefix: addr.MustNew4("198.51.100.0/25"), Ports: PortRange{Lo: 1024, Hi: 65535}})
	require.True(t, xfault.Is(err, xfault.InvalidArg))
}

func TestNAT64PoolRemove(t *testing.T) {
	p := NewNAT64Pool()
	prefix := addr.MustNew4("198.51.100.0/32")
	require.NoError(t, p.Add(Entry{Prefix: prefix, Ports: PortRange{Lo: 1024, Hi: 65535}}))
	require.NoError(t, p.Remove(prefix))
	require.Equal(t, 0, p.Count())

	err := p.Remove(prefix)
	require.True(t, xfault.Is(err, xfault.NotFound))
}
