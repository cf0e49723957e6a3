package translate

import (
	"encoding/binary"
	"net/netip"
)

// EmbeddedAddrMapper independently maps one address across families,
// used only for the single embedded packet carried inside an ICMP error
// (spec §4.11: "translate the embedded packet, exactly one level, no
// recursion"). internal/pool6.Pool and internal/eamt.Table each already
// expose the relevant half of this.
type EmbeddedAddrMapper interface {
	ToV4(netip.Addr) (netip.Addr, error)
	ToV6(netip.Addr) (netip.Addr, error)
}

const (
	ipv6HeaderLen = 40
	ipv4HeaderLen = 20
)

func protoNumberToV4(nextHeader byte) byte {
	if nextHeader == 58 { // ICMPv6
		return 1 // ICMPv4
	}
	return nextHeader // TCP(6)/UDP(17) share numbers across families
}

func protoNumberToV6(proto byte) byte {
	if proto == 1 { // ICMPv4
		return 58 // ICMPv6
	}
	return proto
}

// translateEmbeddedV6ToV4 rewrites the IPv6 header of a datagram embedded
// in an ICMPv6 error into an IPv4 header, copying whatever of the
// original L4 header survived truncation unmodified. Best-effort: a
// datagram too short to contain a full IPv6 header is dropped silently,
// since no ICMP error is generated for a malformed embedded packet.
func translateEmbeddedV6ToV4(raw []byte, mapper EmbeddedAddrMapper) []byte {
	if len(raw) < ipv6HeaderLen || mapper == nil {
		return nil
	}

	var src16, dst16 [16]byte
	copy(src16[:], raw[8:24])
	copy(dst16[:], raw[24:40])

	srcV4, err := mapper.ToV4(netip.AddrFrom16(src16))
	if err != nil {
		return nil
	}
	dstV4, err := mapper.ToV4(netip.AddrFrom16(dst16))
	if err != nil {
		return nil
	}

	nextHeader := raw[6]
	hopLimit := raw[7]
	payloadLen := binary.BigEndian.Uint16(raw[4:6])
	rest := raw[ipv6HeaderLen:]

	out := make([]byte, ipv4HeaderLen+len(rest))
	out[0] = 0x45 // version 4, IHL 5
	out[1] = raw[0]<<4 | raw[1]>>4
	binary.BigEndian.PutUint16(out[2:4], uint16(ipv4HeaderLen)+payloadLen)
	out[8] = hopLimit
	out[9] = protoNumberToV4(nextHeader)
	srcBytes := srcV4.As4()
	dstBytes := dstV4.As4()
	copy(out[12:16], srcBytes[:])
	copy(out[16:20], dstBytes[:])
	copy(out[ipv4HeaderLen:], rest)
	return out
}

// translateEmbeddedV4ToV6 is the inverse: an IPv4 header embedded in an
// ICMPv4 error, rewritten to IPv6.
func translateEmbeddedV4ToV6(raw []byte, mapper EmbeddedAddrMapper) []byte {
	if len(raw) < ipv4HeaderLen || mapper == nil {
		return nil
	}
	ihl := int(raw[0]&0x0f) * 4
	if ihl < ipv4HeaderLen || len(raw) < ihl {
		return nil
	}

	var src4, dst4 [4]byte
	copy(src4[:], raw[12:16])
	copy(dst4[:], raw[16:20])

	srcV6, err := mapper.ToV6(netip.AddrFrom4(src4))
	if err != nil {
		return nil
	}
	dstV6, err := mapper.ToV6(netip.AddrFrom4(dst4))
	if err != nil {
		return nil
	}

	ttl := raw[8]
	proto := raw[9]
	totalLen := binary.BigEndian.Uint16(raw[2:4])
	rest := raw[ihl:]
	payloadLen := int(totalLen) - ihl
	if payloadLen < 0 {
		payloadLen = len(rest)
	}

	out := make([]byte, ipv6HeaderLen+len(rest))
	out[0] = 0x60 // version 6, traffic class high nibble 0
	out[1] = raw[1] << 4
	binary.BigEndian.PutUint16(out[4:6], uint16(payloadLen))
	out[6] = protoNumberToV6(proto)
	out[7] = ttl
	srcBytes := srcV6.As16()
	dstBytes := dstV6.As16()
	copy(out[8:24], srcBytes[:])
	copy(out[24:40], dstBytes[:])
	copy(out[ipv6HeaderLen:], rest)
	return out
}
