package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

// Addr4Len/Addr6Len/TAddr4Len/TAddr6Len/Prefix4Len/Prefix6Len are the wire
// sizes of the address building blocks every *_usr record is made of.
const (
	Addr4Len   = 4
	Addr6Len   = 16
	TAddr4Len  = Addr4Len + 2
	TAddr6Len  = Addr6Len + 2
	Prefix4Len = Addr4Len + 1
	Prefix6Len = Addr6Len + 1
)

func putAddr4(buf []byte, a netip.Addr) {
	b := a.As4()
	copy(buf, b[:])
}

func getAddr4(buf []byte) netip.Addr {
	var b [4]byte
	copy(b[:], buf)
	return netip.AddrFrom4(b)
}

func putAddr6(buf []byte, a netip.Addr) {
	b := a.As16()
	copy(buf, b[:])
}

func getAddr6(buf []byte) netip.Addr {
	var b [16]byte
	copy(b[:], buf)
	return netip.AddrFrom16(b)
}

// TransportAddr4 is the wire form of an IPv4 transport address.
type TransportAddr4 struct {
	IP   netip.Addr
	Port uint16
}

// Put encodes t into buf, which must be at least TAddr4Len bytes.
func (t TransportAddr4) Put(buf []byte) {
	putAddr4(buf[0:4], t.IP)
	binary.LittleEndian.PutUint16(buf[4:6], t.Port)
}

// GetTransportAddr4 decodes a TransportAddr4 from buf.
func GetTransportAddr4(buf []byte) TransportAddr4 {
	return TransportAddr4{IP: getAddr4(buf[0:4]), Port: binary.LittleEndian.Uint16(buf[4:6])}
}

// TransportAddr6 is the wire form of an IPv6 transport address.
type TransportAddr6 struct {
	IP   netip.Addr
	Port uint16
}

// Put encodes t into buf, which must be at least TAddr6Len bytes.
func (t TransportAddr6) Put(buf []byte) {
	putAddr6(buf[0:16], t.IP)
	binary.LittleEndian.PutUint16(buf[16:18], t.Port)
}

// GetTransportAddr6 decodes a TransportAddr6 from buf.
func GetTransportAddr6(buf []byte) TransportAddr6 {
	return TransportAddr6{IP: getAddr6(buf[0:16]), Port: binary.LittleEndian.Uint16(buf[16:18])}
}

// Prefix4 is the wire form of an IPv4 prefix: address followed by length.
type Prefix4 struct {
	Addr netip.Addr
	Len  uint8
}

// Put encodes p into buf, which must be at least Prefix4Len bytes.
func (p Prefix4) Put(buf []byte) {
	putAddr4(buf[0:4], p.Addr)
	buf[4] = p.Len
}

// GetPrefix4 decodes a Prefix4 from buf.
func GetPrefix4(buf []byte) Prefix4 {
	return Prefix4{Addr: getAddr4(buf[0:4]), Len: buf[4]}
}

// Prefix6 is the wire form of an IPv6 prefix: address followed by length.
type Prefix6 struct {
	Addr netip.Addr
	Len  uint8
}

// Put encodes p into buf, which must be at least Prefix6Len bytes.
func (p Prefix6) Put(buf []byte) {
	putAddr6(buf[0:16], p.Addr)
	buf[16] = p.Len
}

// GetPrefix6 decodes a Prefix6 from buf.
func GetPrefix6(buf []byte) Prefix6 {
	return Prefix6{Addr: getAddr6(buf[0:16]), Len: buf[16]}
}

// BIBEntryLen is the encoded size of BIBEntryUsr.
const BIBEntryLen = TAddr4Len + TAddr6Len + 1

// BIBEntryUsr is the wire form of a displayed BIB entry (config.h's
// `bib_entry_usr`).
type BIBEntryUsr struct {
	Addr4    TransportAddr4
	Addr6    TransportAddr6
	IsStatic bool
}

// Encode serializes e as BIBEntryLen bytes.
func (e BIBEntryUsr) Encode() []byte {
	buf := make([]byte, BIBEntryLen)
	e.Addr4.Put(buf[0:TAddr4Len])
	e.Addr6.Put(buf[TAddr4Len : TAddr4Len+TAddr6Len])
	if e.IsStatic {
		buf[TAddr4Len+TAddr6Len] = 1
	}
	return buf
}

// DecodeBIBEntry parses one BIBEntryUsr from buf.
func DecodeBIBEntry(buf []byte) (BIBEntryUsr, error) {
	if len(buf) < BIBEntryLen {
		return BIBEntryUsr{}, fmt.Errorf("wire: bib_entry_usr record too short")
	}
	return BIBEntryUsr{
		Addr4:    GetTransportAddr4(buf[0:TAddr4Len]),
		Addr6:    GetTransportAddr6(buf[TAddr4Len : TAddr4Len+TAddr6Len]),
		IsStatic: buf[TAddr4Len+TAddr6Len] != 0,
	}, nil
}

// SessionEntryLen is the encoded size of SessionEntryUsr.
const SessionEntryLen = TAddr6Len*2 + TAddr4Len*2 + 8 + 1

// SessionEntryUsr is the wire form of a displayed session (config.h's
// `session_entry_usr`).
type SessionEntryUsr struct {
	Remote6   TransportAddr6
	Local6    TransportAddr6
	Local4    TransportAddr4
	Remote4   TransportAddr4
	DyingTime uint64 // milliseconds until eviction, as observed at encode time
	State     uint8
}

// Encode serializes e as SessionEntryLen bytes.
func (e SessionEntryUsr) Encode() []byte {
	buf := make([]byte, SessionEntryLen)
	off := 0
	e.Remote6.Put(buf[off : off+TAddr6Len])
	off += TAddr6Len
	e.Local6.Put(buf[off : off+TAddr6Len])
	off += TAddr6Len
	e.Local4.Put(buf[off : off+TAddr4Len])
	off += TAddr4Len
	e.Remote4.Put(buf[off : off+TAddr4Len])
	off += TAddr4Len
	binary.LittleEndian.PutUint64(buf[off:off+8], e.DyingTime)
	off += 8
	buf[off] = e.State
	return buf
}

// DecodeSessionEntry parses one SessionEntryUsr from buf.
func DecodeSessionEntry(buf []byte) (SessionEntryUsr, error) {
	if len(buf) < SessionEntryLen {
		return SessionEntryUsr{}, fmt.Errorf("wire: session_entry_usr record too short")
	}
	off := 0
	remote6 := GetTransportAddr6(buf[off : off+TAddr6Len])
	off += TAddr6Len
	local6 := GetTransportAddr6(buf[off : off+TAddr6Len])
	off += TAddr6Len
	local4 := GetTransportAddr4(buf[off : off+TAddr4Len])
	off += TAddr4Len
	remote4 := GetTransportAddr4(buf[off : off+TAddr4Len])
	off += TAddr4Len
	dying := binary.LittleEndian.Uint64(buf[off : off+8])
	off += 8
	return SessionEntryUsr{
		Remote6: remote6, Local6: local6, Local4: local4, Remote4: remote4,
		DyingTime: dying, State: buf[off],
	}, nil
}

// EAMEntryLen is the encoded size of EAMEntryUsr.
const EAMEntryLen = Prefix4Len + Prefix6Len

// EAMEntryUsr is the wire form of a displayed EAM entry (config.h's
// `eam_entry_usr`).
type EAMEntryUsr struct {
	Pref4 Prefix4
	Pref6 Prefix6
}

// Encode serializes e as EAMEntryLen bytes.
func (e EAMEntryUsr) Encode() []byte {
	buf := make([]byte, EAMEntryLen)
	e.Pref4.Put(buf[0:Prefix4Len])
	e.Pref6.Put(buf[Prefix4Len : Prefix4Len+Prefix6Len])
	return buf
}

// DecodeEAMEntry parses one EAMEntryUsr from buf.
func DecodeEAMEntry(buf []byte) (EAMEntryUsr, error) {
	if len(buf) < EAMEntryLen {
		return EAMEntryUsr{}, fmt.Errorf("wire: eam_entry_usr record too short")
	}
	return EAMEntryUsr{
		Pref4: GetPrefix4(buf[0:Prefix4Len]),
		Pref6: GetPrefix6(buf[Prefix4Len : Prefix4Len+Prefix6Len]),
	}, nil
}
