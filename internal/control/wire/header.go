// Package wire implements the control-plane's fixed binary message layout
// (spec §6): the request header, per-mode body records, and the
// mode/operation bitflags they carry. Every encoding here is little-endian
// and packed, mirroring a C-struct-compatible wire format, except the
// global config's TTL fields, which are in network byte order.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Mode is the bitflag naming which table/config a request addresses.
type Mode uint16

const (
	ModeGlobal    Mode = 1 << 0
	ModePool6     Mode = 1 << 1
	ModePool4     Mode = 1 << 2
	ModeBIB       Mode = 1 << 3
	ModeSession   Mode = 1 << 4
	ModeLogtime   Mode = 1 << 5
	ModeEAMT      Mode = 1 << 6
	ModeRFC6791   Mode = 1 << 7
	ModeBlacklist Mode = 1 << 8
)

func (m Mode) String() string {
	switch m {
	case ModeGlobal:
		return "GLOBAL"
	case ModePool6:
		return "POOL6"
	case ModePool4:
		return "POOL4"
	case ModeBIB:
		return "BIB"
	case ModeSession:
		return "SESSION"
	case ModeLogtime:
		return "LOGTIME"
	case ModeEAMT:
		return "EAMT"
	case ModeRFC6791:
		return "RFC6791"
	case ModeBlacklist:
		return "BLACKLIST"
	default:
		return fmt.Sprintf("Mode(%d)", uint16(m))
	}
}

// Operation is the bitflag naming what the request wants done to Mode.
type Operation uint8

const (
	OpDisplay Operation = 1 << 0
	OpCount   Operation = 1 << 1
	OpAdd     Operation = 1 << 2
	OpUpdate  Operation = 1 << 3
	OpRemove  Operation = 1 << 4
	OpFlush   Operation = 1 << 5
)

func (o Operation) String() string {
	switch o {
	case OpDisplay:
		return "DISPLAY"
	case OpCount:
		return "COUNT"
	case OpAdd:
		return "ADD"
	case OpUpdate:
		return "UPDATE"
	case OpRemove:
		return "REMOVE"
	case OpFlush:
		return "FLUSH"
	default:
		return fmt.Sprintf("Operation(%d)", uint8(o))
	}
}

// BuildType is the translator build flavor a request targets, carried in
// the header's single-byte type field.
type BuildType byte

const (
	BuildNAT64 BuildType = 'n'
	BuildSIIT  BuildType = 's'
)

// Magic is the fixed 4-byte protocol tag every request header starts with.
var Magic = [4]byte{'j', 'o', 'o', 'l'}

// HeaderLen is the encoded size of Header in bytes.
const HeaderLen = 4 + 1 + 4 + 4 + 2 + 1

// Version packs (major, minor, rev, dev) the way the wire format does:
// (major<<24)|(minor<<16)|(rev<<8)|dev.
type Version struct {
	Major, Minor, Rev, Dev uint8
}

// Encode packs v into the u32 wire representation.
func (v Version) Encode() uint32 {
	return uint32(v.Major)<<24 | uint32(v.Minor)<<16 | uint32(v.Rev)<<8 | uint32(v.Dev)
}

// DecodeVersion unpacks a wire u32 back into its four components.
func DecodeVersion(raw uint32) Version {
	return Version{
		Major: uint8(raw >> 24),
		Minor: uint8(raw >> 16),
		Rev:   uint8(raw >> 8),
		Dev:   uint8(raw),
	}
}

// Header is the fixed prefix of every control-plane message (spec §6).
type Header struct {
	Type      BuildType
	Version   uint32
	Length    uint32
	Mode      Mode
	Operation Operation
}

// Encode serializes hdr followed by body into one wire message.
func Encode(hdr Header, body []byte) []byte {
	hdr.Length = uint32(HeaderLen + len(body))

	buf := make([]byte, HeaderLen+len(body))
	copy(buf[0:4], Magic[:])
	buf[4] = byte(hdr.Type)
	binary.LittleEndian.PutUint32(buf[5:9], hdr.Version)
	binary.LittleEndian.PutUint32(buf[9:13], hdr.Length)
	binary.LittleEndian.PutUint16(buf[13:15], uint16(hdr.Mode))
	buf[15] = byte(hdr.Operation)
	copy(buf[HeaderLen:], body)
	return buf
}

// Decode parses a wire message into its header and trailing body, checking
// the length field and the magic. Type and version are left to the caller,
// which knows the expected build type.
func Decode(msg []byte) (Header, []byte, error) {
	if len(msg) < HeaderLen {
		return Header{}, nil, fmt.Errorf("wire: message too short: %d bytes", len(msg))
	}

	var hdr Header
	hdr.Type = BuildType(msg[4])
	hdr.Version = binary.LittleEndian.Uint32(msg[5:9])
	hdr.Length = binary.LittleEndian.Uint32(msg[9:13])
	hdr.Mode = Mode(binary.LittleEndian.Uint16(msg[13:15]))
	hdr.Operation = Operation(msg[15])

	if int(hdr.Length) != len(msg) {
		return Header{}, nil, fmt.Errorf("wire: length field %d does not match message size %d", hdr.Length, len(msg))
	}

	var magic [4]byte
	copy(magic[:], msg[0:4])
	if magic != Magic {
		return hdr, nil, fmt.Errorf("wire: bad magic %q", magic)
	}

	return hdr, msg[HeaderLen:], nil
}
