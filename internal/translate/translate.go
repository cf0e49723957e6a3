// Package translate implements the RFC 6145 packet translator (spec
// §4.11): header rewrite between IPv4 and IPv6, ICMP type/code mapping
// with one level of embedded-packet translation, checksum recompute, and
// the MTU/fragmentation decisions the global config snapshot controls.
package translate

import (
	"encoding/binary"
	"hash/fnv"
	"net"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/verdict"
)

// MinIPv6MTU is the minimum MTU every IPv6 link must carry (RFC 8200 §5),
// used as the 6→4 DF threshold and the 4→6 MTU floor.
const MinIPv6MTU = 1280

// Config is the subset of the global snapshot the translator needs (spec
// §4.1, §4.11).
type Config struct {
	ResetTrafficClass bool
	ResetTOS          bool
	NewTOS            uint8
	DFAlwaysOn        bool
	BuildIPv6FH       bool
	BuildIPv4ID       bool
	LowerMTUFail      bool
	MTUPlateaus       []uint16 // descending, per config.NormalizeMTUPlateaus

	// ComputeUDPChecksumZero, when true, computes a fresh UDP checksum on
	// 4→6 translation of a zero-checksum IPv4 UDP datagram instead of
	// dropping it (IPv6 forbids a zero UDP checksum).
	ComputeUDPChecksumZero bool
}

// ICMPSourcePicker supplies a source address for a 4→6 ICMP error whose
// IPv4 source has no pool6/EAM mapping (RFC 6791, spec §4.5). Only the
// SIIT pipeline supplies one; NAT64 errors always originate from an
// address already covered by pool6/EAM (the session's local6/remote6).
type ICMPSourcePicker func(hopLimit uint8) (netip.Addr, error)

// Result is what a translation produces.
type Result struct {
	Verdict verdict.Verdict
	// Packet is the newly allocated translated packet's bytes (IP header
	// onward), valid when Verdict is Continue.
	Packet []byte
	// ICMPError, when non-nil, is a locally generated ICMP error (time
	// exceeded) that must be sent back to the original sender; the
	// original packet is always dropped in that case.
	ICMPError []byte
}

// Translator rewrites one packet's network/transport headers per RFC 6145.
type Translator struct {
	Cfg Config
	// NextHopMTU is the egress link's MTU, or 0 if unknown.
	NextHopMTU uint16
	// ICMPSource is set by the SIIT pipeline and may be nil for NAT64.
	// Neither TranslateV4ToV6 nor TranslateV6ToV4 calls it: the SIIT
	// pipeline drops a packet whose source address has no mapping before
	// translation, ICMP errors included.
	ICMPSource ICMPSourcePicker
	// EmbeddedAddr maps the single address pair found inside an ICMP
	// error's embedded packet. Required whenever ICMP errors may occur.
	EmbeddedAddr EmbeddedAddrMapper
}

// trafficClass maps IPv4 TOS <-> IPv6 traffic class, applying the
// caller's reset override.
func (tr *Translator) tosToTrafficClass(tos uint8) uint8 {
	if tr.Cfg.ResetTrafficClass {
		return tr.Cfg.NewTOS
	}
	return tos
}

func (tr *Translator) trafficClassToTOS(tc uint8) uint8 {
	if tr.Cfg.ResetTOS {
		return tr.Cfg.NewTOS
	}
	return tc
}

// mtuPlateau returns the greatest configured plateau strictly less than
// totalLen, or MinIPv6MTU if none qualifies (spec §4.11 "Packet Too Big").
func (tr *Translator) mtuPlateau(totalLen uint16) uint16 {
	for _, p := range tr.Cfg.MTUPlateaus {
		if p < totalLen {
			return p
		}
	}
	return MinIPv6MTU
}

// outgoingMTU computes the MTU to report in a translated "too big" error
// (spec §4.11).
func (tr *Translator) outgoingMTU(incomingTotalLen uint16) uint16 {
	if tr.NextHopMTU >= MinIPv6MTU {
		return tr.NextHopMTU
	}
	if tr.Cfg.LowerMTUFail {
		return MinIPv6MTU
	}
	return tr.mtuPlateau(incomingTotalLen)
}

func flowHash(t addr.Tuple) uint16 {
	h := fnv.New32a()
	h.Write(t.Src.IP.AsSlice())
	h.Write(t.Dst.IP.AsSlice())
	var portBuf [4]byte
	binary.BigEndian.PutUint16(portBuf[0:2], t.Src.Port)
	binary.BigEndian.PutUint16(portBuf[2:4], t.Dst.Port)
	h.Write(portBuf[:])
	h.Write([]byte{byte(t.Proto)})
	return uint16(h.Sum32())
}

func ipProtoToAddrProto(p layers.IPProtocol) (addr.Proto, bool) {
	switch p {
	case layers.IPProtocolUDP:
		return addr.ProtoUDP, true
	case layers.IPProtocolTCP:
		return addr.ProtoTCP, true
	case layers.IPProtocolICMPv4, layers.IPProtocolICMPv6:
		return addr.ProtoICMP, true
	default:
		return 0, false
	}
}

func addrProtoToIPv4(p addr.Proto) layers.IPProtocol {
	switch p {
	case addr.ProtoUDP:
		return layers.IPProtocolUDP
	case addr.ProtoTCP:
		return layers.IPProtocolTCP
	default:
		return layers.IPProtocolICMPv4
	}
}

func addrProtoToIPv6(p addr.Proto) layers.IPProtocol {
	switch p {
	case addr.ProtoUDP:
		return layers.IPProtocolUDP
	case addr.ProtoTCP:
		return layers.IPProtocolTCP
	default:
		return layers.IPProtocolICMPv6
	}
}

func toNetIP(a netip.Addr) net.IP {
	if a.Is4() {
		b := a.As4()
		return net.IP(b[:])
	}
	b := a.As16()
	return net.IP(b[:])
}

func serialize(opts gopacket.SerializeOptions, lyrs ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, opts, lyrs...); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}

var defaultSerializeOpts = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}
