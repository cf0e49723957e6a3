package translate

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/verdict"
)

// TranslateV4ToV6 translates pkt (an IPv4 datagram, with or without
// Ethernet framing) into an IPv6 datagram with the given outer
// addresses. outSrc/outDst are the already-computed out-tuple addresses
// (spec §4.10).
func (tr *Translator) TranslateV4ToV6(pkt gopacket.Packet, outSrc, outDst netip.Addr) (Result, error) {
	const op = "translate.TranslateV4ToV6"

	ip4Layer := pkt.Layer(layers.LayerTypeIPv4)
	if ip4Layer == nil {
		return Result{Verdict: verdict.Drop}, fmt.Errorf("%s: no IPv4 layer", op)
	}
	ip4 := ip4Layer.(*layers.IPv4)

	ttl := ip4.TTL
	if ttl > 0 {
		ttl--
	}
	if ttl == 0 {
		icmpErr, err := tr.buildICMPv4TimeExceeded(ip4)
		if err != nil {
			return Result{Verdict: verdict.Drop}, err
		}
		return Result{Verdict: verdict.Drop, ICMPError: icmpErr}, nil
	}

	proto, ok := ipProtoToAddrProto(ip4.Protocol)
	if !ok {
		return Result{Verdict: verdict.Drop}, fmt.Errorf("%s: unsupported protocol %v", op, ip4.Protocol)
	}

	ip6 := &layers.IPv6{
		Version:      6,
		TrafficClass: tr.tosToTrafficClass(ip4.TOS),
		HopLimit:     ttl,
		NextHeader:   addrProtoToIPv6(proto),
		SrcIP:        toNetIP(outSrc),
		DstIP:        toNetIP(outDst),
	}

	fragmented := ip4.Flags&layers.IPv4MoreFragments != 0 || ip4.FragOffset != 0
	needFH := fragmented || (tr.Cfg.BuildIPv6FH && ip4.Flags&layers.IPv4DontFragment == 0)

	var frag *layers.IPv6Fragment
	if needFH {
		frag = &layers.IPv6Fragment{
			NextHeader:     addrProtoToIPv6(proto),
			FragmentOffset: ip4.FragOffset,
			MoreFragments:  ip4.Flags&layers.IPv4MoreFragments != 0,
			Identification: uint32(ip4.Id),
		}
		ip6.NextHeader = layers.IPProtocolIPv6Fragment
	}

	payloadLayers, err := tr.translateTransportV4ToV6(pkt, proto, ip6)
	if err != nil {
		return Result{Verdict: verdict.Drop}, err
	}
	if payloadLayers == nil {
		// A zero-checksum UDP datagram and compute_udp_csum_zero is off.
		return Result{Verdict: verdict.Drop}, nil
	}

	allLayers := []gopacket.SerializableLayer{ip6}
	if frag != nil {
		allLayers = append(allLayers, frag)
	}
	allLayers = append(allLayers, payloadLayers...)

	out, err := serialize(defaultSerializeOpts, allLayers...)
	if err != nil {
		return Result{Verdict: verdict.Drop}, err
	}
	return Result{Verdict: verdict.Continue, Packet: out}, nil
}

func (tr *Translator) translateTransportV4ToV6(pkt gopacket.Packet, proto addr.Proto, ip6 *layers.IPv6) ([]gopacket.SerializableLayer, error) {
	switch proto {
	case addr.ProtoTCP:
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			return nil, fmt.Errorf("translate: missing TCP layer")
		}
		tcp := *tcpLayer.(*layers.TCP)
		tcp.SetNetworkLayerForChecksum(ip6)
		return []gopacket.SerializableLayer{&tcp, gopacket.Payload(tcp.LayerPayload())}, nil

	case addr.ProtoUDP:
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			return nil, fmt.Errorf("translate: missing UDP layer")
		}
		udp := *udpLayer.(*layers.UDP)
		if udp.Checksum == 0 && !tr.Cfg.ComputeUDPChecksumZero {
			// IPv6 forbids a zero UDP checksum (spec §4.11) and the
			// operator has not asked us to compute a fresh one.
			return nil, nil
		}
		udp.SetNetworkLayerForChecksum(ip6)
		return []gopacket.SerializableLayer{&udp, gopacket.Payload(udp.LayerPayload())}, nil

	case addr.ProtoICMP:
		icmp4Layer := pkt.Layer(layers.LayerTypeICMPv4)
		if icmp4Layer == nil {
			return nil, fmt.Errorf("translate: missing ICMPv4 layer")
		}
		icmp4 := icmp4Layer.(*layers.ICMPv4)
		return tr.icmp4To6(pkt, icmp4, ip6)
	}
	return nil, fmt.Errorf("translate: unhandled protocol %v", proto)
}

// buildICMPv4TimeExceeded constructs an ICMPv4 Time Exceeded message
// (type 11, code 0) addressed back to the original IPv4 source.
func (tr *Translator) buildICMPv4TimeExceeded(orig *layers.IPv4) ([]byte, error) {
	reply := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    orig.DstIP,
		DstIP:    orig.SrcIP,
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeTimeExceeded, 0),
	}
	icmp.SetNetworkLayerForChecksum(reply)

	origBytes := append([]byte{}, orig.LayerContents()...)
	origBytes = append(origBytes, orig.LayerPayload()...)
	if len(origBytes) > 28 {
		origBytes = origBytes[:28] // IPv4 header + 8 bytes of L4, RFC 792
	}

	return serialize(defaultSerializeOpts, reply, icmp, gopacket.Payload(origBytes))
}
