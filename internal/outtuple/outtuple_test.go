package outtuple

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/session"
)

var errBoom = errors.New("translation failed")

func ta(ip string, port uint16) addr.TransportAddr {
	return addr.TransportAddr{IP: netip.MustParseAddr(ip), Port: port}
}

func TestFromSessionV6ToV4ReplacesSourceAndDest(t *testing.T) {
	sess := &session.Entry{
		Key: session.FullKey{
			Remote6: ta("2001:db8::1", 1234),
			Local6:  ta("64:ff9b::203.0.113.5", 80),
			Local4:  ta("198.51.100.0", 1234),
			Remote4: ta("203.0.113.5", 80),
		},
		Proto: addr.ProtoUDP,
	}

	out := FromSession(sess, true)
	require.Equal(t, ta("198.51.100.0", 1234), out.Src)
	require.Equal(t, ta("203.0.113.5", 80), out.Dst)
	require.Equal(t, addr.ProtoUDP, out.Proto)
}

func TestFromSessionV4ToV6ReplacesSourceAndDest(t *testing.T) {
	sess := &session.Entry{
		Key: session.FullKey{
			Remote6: ta("2001:db8::1", 1234),
			Local6:  ta("64:ff9b::203.0.113.5", 80),
			Local4:  ta("198.51.100.0", 1234),
			Remote4: ta("203.0.113.5", 80),
		},
		Proto: addr.ProtoUDP,
	}

	out := FromSession(sess, false)
	require.Equal(t, ta("2001:db8::1", 1234), out.Src)
	require.Equal(t, ta("64:ff9b::203.0.113.5", 80), out.Dst)
}

func TestFromSIITMapsEachAddressIndependently(t *testing.T) {
	in := addr.Tuple{
		Src:   ta("192.0.2.1", 443),
		Dst:   ta("198.51.100.9", 80),
		Proto: addr.ProtoTCP,
	}

	out, err := FromSIIT(in,
		func(t addr.TransportAddr) (addr.TransportAddr, error) {
			return ta("64:ff9b::192.0.2.1", t.Port), nil
		},
		func(t addr.TransportAddr) (addr.TransportAddr, error) {
			return ta("2001:db8::9", t.Port), nil
		},
	)
	require.NoError(t, err)
	require.Equal(t, ta("64:ff9b::192.0.2.1", 443), out.Src)
	require.Equal(t, ta("2001:db8::9", 80), out.Dst)
	require.Equal(t, addr.ProtoTCP, out.Proto)
}

func TestFromSIITPropagatesTranslationError(t *testing.T) {
	in := addr.Tuple{Src: ta("192.0.2.1", 443), Dst: ta("198.51.100.9", 80), Proto: addr.ProtoTCP}

	_, err := FromSIIT(in,
		func(addr.TransportAddr) (addr.TransportAddr, error) { return addr.TransportAddr{}, errBoom },
		func(t addr.TransportAddr) (addr.TransportAddr, error) { return t, nil },
	)
	require.ErrorIs(t, err, errBoom)
}
