package wire

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBIBEntryRoundTrips(t *testing.T) {
	want := BIBEntryUsr{
		Addr4:    TransportAddr4{IP: netip.MustParseAddr("198.51.100.1"), Port: 1234},
		Addr6:    TransportAddr6{IP: netip.MustParseAddr("2001:db8::1"), Port: 5678},
		IsStatic: true,
	}
	got, err := DecodeBIBEntry(want.Encode())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestSessionEntryRoundTrips(t *testing.T) {
	want := SessionEntryUsr{
		Remote6:   TransportAddr6{IP: netip.MustParseAddr("2001:db8::1"), Port: 1},
		Local6:    TransportAddr6{IP: netip.MustParseAddr("2001:db8::2"), Port: 2},
		Local4:    TransportAddr4{IP: netip.MustParseAddr("198.51.100.1"), Port: 3},
		Remote4:   TransportAddr4{IP: netip.MustParseAddr("198.51.100.2"), Port: 4},
		DyingTime: 123456,
		State:     7,
	}
	got, err := DecodeSessionEntry(want.Encode())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestEAMEntryRoundTrips(t *testing.T) {
	want := EAMEntryUsr{
		Pref4: Prefix4{Addr: netip.MustParseAddr("192.0.2.16"), Len: 28},
		Pref6: Prefix6{Addr: netip.MustParseAddr("2001:db8:cccc::"), Len: 124},
	}
	got, err := DecodeEAMEntry(want.Encode())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestGlobalConfigRoundTripsWithPlateaus(t *testing.T) {
	want := GlobalConfigUsr{
		JoolStatus:        true,
		ResetTOS:          true,
		NewTOS:            7,
		BuildIPv4ID:       true,
		UDPTTLMillis:      300000,
		MaxStoredPkts:     200,
		DropExternalTCP:   true,
		MTUPlateaus:       []uint16{1500, 1400, 576},
	}
	got, err := DecodeGlobalConfig(want.Encode())
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeBIBEntryRejectsShortBuffer(t *testing.T) {
	_, err := DecodeBIBEntry(make([]byte, BIBEntryLen-1))
	require.Error(t, err)
}
