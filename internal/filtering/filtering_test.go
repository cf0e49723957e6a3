package filtering

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/bib"
	"github.com/xlat64/xlat64/internal/session"
	"github.com/xlat64/xlat64/internal/verdict"
)

func ta(ip string, port uint16) addr.TransportAddr {
	return addr.TransportAddr{IP: netip.MustParseAddr(ip), Port: port}
}

func testTTLs() session.TTLSet {
	return session.TTLSet{
		UDP:      5 * time.Minute,
		ICMP:     0,
		TCPEst:   2 * time.Hour,
		TCPTrans: 4 * time.Minute,
	}
}

func fixedV4(v4 addr.TransportAddr) bib.Picker {
	return func(uint16, func(addr.TransportAddr) bool) (addr.TransportAddr, error) {
		return v4, nil
	}
}

func newEngine(v4 addr.TransportAddr) *Engine {
	return New(bib.New(), session.New(nil), fixedV4(v4))
}

func TestProcessV6CreatesBIBAndSession(t *testing.T) {
	e := newEngine(ta("198.51.100.0", 1234))

	in := V6Ingress{
		Remote6: ta("2001:db8::1", 1234),
		Remote4: ta("203.0.113.5", 80),
		Local6:  ta("64:ff9b::203.0.113.5", 80),
		Proto:   addr.ProtoUDP,
	}
	v, sess, err := e.ProcessV6(in, Config{TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Continue, v)
	require.Equal(t, session.Open, sess.State)
	require.EqualValues(t, 1, sess.BIB.Refcount())

	// A second packet on the same flow should find the existing session.
	v, sess2, err := e.ProcessV6(in, Config{TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Continue, v)
	require.Same(t, sess, sess2)
}

func TestProcessV6DropsICMPv6InfoWhenConfigured(t *testing.T) {
	e := newEngine(ta("198.51.100.0", 1234))

	in := V6Ingress{
		Remote6:    ta("2001:db8::1", 0),
		Remote4:    ta("203.0.113.5", 0),
		Local6:     ta("64:ff9b::203.0.113.5", 0),
		Proto:      addr.ProtoICMP,
		ICMPv6Info: true,
	}
	v, sess, err := e.ProcessV6(in, Config{DropICMP6Info: true, TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Drop, v)
	require.Nil(t, sess)
	require.Equal(t, 0, e.BIB.Count(addr.ProtoICMP))
}

func TestProcessV4DropsWhenNoBIBEntry(t *testing.T) {
	e := newEngine(ta("198.51.100.0", 1234))

	in := V4Ingress{
		Remote4: ta("203.0.113.5", 80),
		Local4:  ta("198.51.100.0", 1234),
		Local6:  ta("64:ff9b::203.0.113.5", 80),
		Proto:   addr.ProtoUDP,
	}
	v, sess, err := e.ProcessV4(in, Config{TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Drop, v)
	require.Nil(t, sess)
}

func TestProcessV4FirstPacketRequiresExistingBIB(t *testing.T) {
	v6 := ta("2001:db8::1", 1234)
	v4 := ta("198.51.100.0", 1234)
	e := newEngine(v4)

	// Establish the BIB entry via a v6-originated packet first.
	_, _, err := e.ProcessV6(V6Ingress{
		Remote6: v6,
		Remote4: ta("203.0.113.5", 80),
		Local6:  ta("64:ff9b::203.0.113.5", 80),
		Proto:   addr.ProtoUDP,
	}, Config{TTLs: testTTLs()})
	require.NoError(t, err)

	in := V4Ingress{
		Remote4: ta("203.0.113.5", 80),
		Local4:  v4,
		Local6:  ta("64:ff9b::203.0.113.5", 80),
		Proto:   addr.ProtoUDP,
	}
	v, sess, err := e.ProcessV4(in, Config{TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Continue, v)
	require.NotNil(t, sess)
}

func TestProcessV4DropsExternalTCPWithoutPriorV6Flow(t *testing.T) {
	v6 := ta("2001:db8::1", 1234)
	v4 := ta("198.51.100.0", 1234)
	e := newEngine(v4)

	// BIB is statically provisioned (e.g. port forwarding), no session yet.
	_, err := e.BIB.StaticAdd(addr.ProtoTCP, v6, v4)
	require.NoError(t, err)

	in := V4Ingress{
		Remote4: ta("203.0.113.5", 80),
		Local4:  v4,
		Local6:  ta("64:ff9b::203.0.113.5", 80),
		Proto:   addr.ProtoTCP,
		TCP:     &TCPSignal{SYN: true},
	}
	v, sess, err := e.ProcessV4(in, Config{DropExternalTCP: true, TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Drop, v)
	require.Nil(t, sess)
}

func TestProcessV4RejectsNonSYNFirstSegment(t *testing.T) {
	v6 := ta("2001:db8::1", 1234)
	v4 := ta("198.51.100.0", 1234)
	e := newEngine(v4)

	_, err := e.BIB.StaticAdd(addr.ProtoTCP, v6, v4)
	require.NoError(t, err)

	in := V4Ingress{
		Remote4: ta("203.0.113.5", 80),
		Local4:  v4,
		Local6:  ta("64:ff9b::203.0.113.5", 80),
		Proto:   addr.ProtoTCP,
		TCP:     &TCPSignal{FIN: true},
	}
	v, sess, err := e.ProcessV4(in, Config{TTLs: testTTLs()})
	require.Error(t, err)
	require.Equal(t, verdict.Drop, v)
	require.Nil(t, sess)
}

func TestProcessV4AddressDependentFilteringDropsWithoutPriorV6Session(t *testing.T) {
	v6 := ta("2001:db8::1", 1234)
	v4 := ta("198.51.100.0", 1234)
	e := newEngine(v4)

	_, err := e.BIB.StaticAdd(addr.ProtoUDP, v6, v4)
	require.NoError(t, err)

	in := V4Ingress{
		Remote4: ta("203.0.113.5", 80),
		Local4:  v4,
		Local6:  ta("64:ff9b::203.0.113.5", 80),
		Proto:   addr.ProtoUDP,
		HasV6SessionFromRemote: func(addr.TransportAddr) bool {
			return false
		},
	}
	v, sess, err := e.ProcessV4(in, Config{DropByAddr: true, TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Drop, v)
	require.Nil(t, sess)
}

func TestProcessV4AddressDependentFilteringAllowsWithPriorV6Session(t *testing.T) {
	v6 := ta("2001:db8::1", 1234)
	v4 := ta("198.51.100.0", 1234)
	e := newEngine(v4)

	_, err := e.BIB.StaticAdd(addr.ProtoUDP, v6, v4)
	require.NoError(t, err)

	in := V4Ingress{
		Remote4: ta("203.0.113.5", 80),
		Local4:  v4,
		Local6:  ta("64:ff9b::203.0.113.5", 80),
		Proto:   addr.ProtoUDP,
		HasV6SessionFromRemote: func(remote6 addr.TransportAddr) bool {
			return remote6 == v6
		},
	}
	v, sess, err := e.ProcessV4(in, Config{DropByAddr: true, TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Continue, v)
	require.NotNil(t, sess)
}

func TestTCPStateAdvancesAcrossBothDirections(t *testing.T) {
	v6 := ta("2001:db8::1", 1234)
	v4 := ta("198.51.100.0", 1234)
	e := newEngine(v4)

	remote4 := ta("203.0.113.5", 80)
	local6 := ta("64:ff9b::203.0.113.5", 80)

	v, sess, err := e.ProcessV6(V6Ingress{
		Remote6: v6,
		Remote4: remote4,
		Local6:  local6,
		Proto:   addr.ProtoTCP,
		TCP:     &TCPSignal{SYN: true},
	}, Config{TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Continue, v)
	require.Equal(t, session.V6Init, sess.State)

	v, sess2, err := e.ProcessV4(V4Ingress{
		Remote4: remote4,
		Local4:  v4,
		Local6:  local6,
		Proto:   addr.ProtoTCP,
		TCP:     &TCPSignal{SYN: true},
	}, Config{TTLs: testTTLs()})
	require.NoError(t, err)
	require.Equal(t, verdict.Continue, v)
	require.Same(t, sess, sess2)
	require.Equal(t, session.Established, sess.State)
}
