package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrips(t *testing.T) {
	hdr := Header{Type: BuildNAT64, Version: Version{Major: 1}.Encode(), Mode: ModeBIB, Operation: OpDisplay}
	body := []byte{1, 2, 3}

	msg := Encode(hdr, body)

	got, gotBody, err := Decode(msg)
	require.NoError(t, err)
	require.Equal(t, hdr.Type, got.Type)
	require.Equal(t, hdr.Version, got.Version)
	require.Equal(t, hdr.Mode, got.Mode)
	require.Equal(t, hdr.Operation, got.Operation)
	require.Equal(t, body, gotBody)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	msg := Encode(Header{Type: BuildSIIT}, nil)
	msg[0] = 'x'

	_, _, err := Decode(msg)
	require.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	msg := Encode(Header{Type: BuildSIIT}, []byte{1, 2})
	msg = append(msg, 0xFF) // extend past the declared length

	_, _, err := Decode(msg)
	require.Error(t, err)
}

func TestVersionEncodeDecodeRoundTrips(t *testing.T) {
	v := Version{Major: 3, Minor: 1, Rev: 4, Dev: 1}
	got := DecodeVersion(v.Encode())
	require.Equal(t, v, got)
}
