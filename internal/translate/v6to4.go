package translate

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/verdict"
)

// TranslateV6ToV4 translates pkt (an IPv6 datagram, with or without
// Ethernet framing) into an IPv4 datagram with the given outer addresses.
// outSrc/outDst are the already-computed out-tuple addresses (spec
// §4.10); this function only rewrites headers, never address mappings.
func (tr *Translator) TranslateV6ToV4(pkt gopacket.Packet, outSrc, outDst netip.Addr) (Result, error) {
	const op = "translate.TranslateV6ToV4"

	ip6Layer := pkt.Layer(layers.LayerTypeIPv6)
	if ip6Layer == nil {
		return Result{Verdict: verdict.Drop}, fmt.Errorf("%s: no IPv6 layer", op)
	}
	ip6 := ip6Layer.(*layers.IPv6)

	hopLimit := ip6.HopLimit
	if hopLimit > 0 {
		hopLimit--
	}
	if hopLimit == 0 {
		icmpErr, err := tr.buildICMPv6TimeExceeded(ip6)
		if err != nil {
			return Result{Verdict: verdict.Drop}, err
		}
		return Result{Verdict: verdict.Drop, ICMPError: icmpErr}, nil
	}

	var frag *layers.IPv6Fragment
	nextHeader := ip6.NextHeader
	if fragLayer := pkt.Layer(layers.LayerTypeIPv6Fragment); fragLayer != nil {
		frag = fragLayer.(*layers.IPv6Fragment)
		nextHeader = frag.NextHeader
	}

	proto, ok := ipProtoToAddrProto(nextHeader)
	if !ok {
		return Result{Verdict: verdict.Drop}, xfaultUnsupportedProto(op, nextHeader)
	}

	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TOS:      tr.trafficClassToTOS(ip6.TrafficClass),
		TTL:      hopLimit,
		Protocol: addrProtoToIPv4(proto),
		SrcIP:    toNetIP(outSrc),
		DstIP:    toNetIP(outDst),
	}

	totalLen := ip6.Length + 40
	switch {
	case frag != nil:
		ip4.Id = uint16(frag.Identification)
		ip4.FragOffset = frag.FragmentOffset
		if frag.MoreFragments {
			ip4.Flags = layers.IPv4MoreFragments
		}
	default:
		if tr.Cfg.DFAlwaysOn || totalLen <= MinIPv6MTU {
			ip4.Flags = layers.IPv4DontFragment
		}
		if tr.Cfg.BuildIPv4ID {
			t := addr.Tuple{
				Src:   addr.TransportAddr{IP: outSrc},
				Dst:   addr.TransportAddr{IP: outDst},
				Proto: proto,
			}
			ip4.Id = flowHash(t)
		}
	}

	payloadLayers, err := tr.translateTransportV6ToV4(pkt, ip6, proto, ip4)
	if err != nil {
		return Result{Verdict: verdict.Drop}, err
	}

	allLayers := append([]gopacket.SerializableLayer{ip4}, payloadLayers...)
	out, err := serialize(defaultSerializeOpts, allLayers...)
	if err != nil {
		return Result{Verdict: verdict.Drop}, err
	}
	return Result{Verdict: verdict.Continue, Packet: out}, nil
}

// translateTransportV6ToV4 rewrites the transport-layer payload, leaving
// addresses/ports untouched (those were already decided by out-tuple
// computation) and fixing up only what the protocol translation itself
// requires (ICMPv6<->ICMPv4 type/code and the embedded packet).
func (tr *Translator) translateTransportV6ToV4(pkt gopacket.Packet, ip6 *layers.IPv6, proto addr.Proto, ip4 *layers.IPv4) ([]gopacket.SerializableLayer, error) {
	switch proto {
	case addr.ProtoTCP:
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			return nil, fmt.Errorf("translate: missing TCP layer")
		}
		tcp := *tcpLayer.(*layers.TCP)
		tcp.SetNetworkLayerForChecksum(ip4)
		return []gopacket.SerializableLayer{&tcp, gopacket.Payload(tcp.LayerPayload())}, nil

	case addr.ProtoUDP:
		udpLayer := pkt.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			return nil, fmt.Errorf("translate: missing UDP layer")
		}
		udp := *udpLayer.(*layers.UDP)
		udp.SetNetworkLayerForChecksum(ip4)
		return []gopacket.SerializableLayer{&udp, gopacket.Payload(udp.LayerPayload())}, nil

	case addr.ProtoICMP:
		icmp6Layer := pkt.Layer(layers.LayerTypeICMPv6)
		if icmp6Layer == nil {
			return nil, fmt.Errorf("translate: missing ICMPv6 layer")
		}
		icmp6 := icmp6Layer.(*layers.ICMPv6)
		return tr.icmp6To4(pkt, icmp6, ip4, ip6.Length+ipv6HeaderLen)
	}
	return nil, fmt.Errorf("translate: unhandled protocol %v", proto)
}

func xfaultUnsupportedProto(op string, p layers.IPProtocol) error {
	return fmt.Errorf("%s: unsupported next header %v", op, p)
}

// buildICMPv6TimeExceeded constructs an ICMPv6 Time Exceeded message
// (type 3, code 0) addressed back to the original IPv6 source, carrying
// as much of the original datagram as fits (spec §4.11 "Hop limit / TTL").
func (tr *Translator) buildICMPv6TimeExceeded(orig *layers.IPv6) ([]byte, error) {
	reply := &layers.IPv6{
		Version:      6,
		TrafficClass: orig.TrafficClass,
		HopLimit:     64,
		NextHeader:   layers.IPProtocolICMPv6,
		SrcIP:        orig.DstIP,
		DstIP:        orig.SrcIP,
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeTimeExceeded, 0),
	}
	icmp.SetNetworkLayerForChecksum(reply)

	unused := make([]byte, 4)
	origBytes := append([]byte{}, orig.LayerContents()...)
	origBytes = append(origBytes, orig.LayerPayload()...)

	return serialize(defaultSerializeOpts, reply, icmp, gopacket.Payload(unused), gopacket.Payload(origBytes))
}
