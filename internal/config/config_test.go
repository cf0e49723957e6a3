package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/internal/xfault"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejectsTTLBelowMinimum(t *testing.T) {
	g := Default()
	g.UDPTTL = time.Minute
	err := g.Validate()
	require.Error(t, err)
	require.Equal(t, xfault.InvalidArg, xfault.KindOf(err))
}

func TestValidateRejectsTTLAboveMaxU32Millis(t *testing.T) {
	g := Default()
	g.FragTTL = MaxTTL + time.Millisecond
	err := g.Validate()
	require.Error(t, err)
}

func TestValidateAcceptsICMPTTLZero(t *testing.T) {
	g := Default()
	g.ICMPTTL = 0
	require.NoError(t, g.Validate())
}

func TestValidateRejectsEmptyPlateaus(t *testing.T) {
	g := Default()
	g.MTUPlateaus = nil
	require.Error(t, g.Validate())
}

func TestValidateRejectsUnsortedPlateaus(t *testing.T) {
	g := Default()
	g.MTUPlateaus = []uint16{1000, 1500}
	require.Error(t, g.Validate())
}

func TestValidateRejectsZeroPlateau(t *testing.T) {
	g := Default()
	g.MTUPlateaus = []uint16{1500, 0}
	require.Error(t, g.Validate())
}

func TestNormalizeMTUPlateaus(t *testing.T) {
	got := NormalizeMTUPlateaus([]uint16{0, 1492, 1500, 1492, 0, 576})
	require.Equal(t, []uint16{1500, 1492, 576}, got)
}

func TestSetAtomicFragments(t *testing.T) {
	g := Default()
	g.SetAtomicFragments(true)
	require.True(t, g.DFAlwaysOn)
	require.True(t, g.BuildIPv6FH)
	require.False(t, g.BuildIPv4ID)
	require.False(t, g.LowerMTUFail)

	g.SetAtomicFragments(false)
	require.False(t, g.DFAlwaysOn)
	require.False(t, g.BuildIPv6FH)
	require.True(t, g.BuildIPv4ID)
	require.True(t, g.LowerMTUFail)
}

func TestCloneIsIndependent(t *testing.T) {
	g := Default()
	clone := g.Clone()
	clone.MTUPlateaus[0] = 1

	require.NotEqual(t, g.MTUPlateaus[0], clone.MTUPlateaus[0])
}

func TestTTLMillisRoundTrip(t *testing.T) {
	d := 90 * time.Second
	require.Equal(t, d, MillisTTL(TTLMillis(d)))
}

func TestStoreUpdatePublishesAndSignalsTTLChange(t *testing.T) {
	s := NewStore(Default())

	err := s.Update(func(g *Global) {
		g.UDPTTL = 10 * time.Minute
	})
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, s.Load().UDPTTL)

	select {
	case <-s.TTLChanged():
	default:
		t.Fatal("expected TTL change signal")
	}
}

func TestStoreUpdateRejectsInvalidMutationWithoutPublishing(t *testing.T) {
	s := NewStore(Default())
	before := s.Load()

	err := s.Update(func(g *Global) {
		g.MTUPlateaus = nil
	})
	require.Error(t, err)
	require.Same(t, before, s.Load())
}

func TestStoreUpdateDoesNotSignalWhenTTLUnchanged(t *testing.T) {
	s := NewStore(Default())

	err := s.Update(func(g *Global) {
		g.DropExternalTCP = true
	})
	require.NoError(t, err)

	select {
	case <-s.TTLChanged():
		t.Fatal("unexpected TTL change signal")
	default:
	}
}
