// Package pipeline ties together every stage named in spec §2's data flow
// — pool gate, fragment reassembly, filtering/updating, compute-out-tuple,
// translation, hairpinning — into the two concrete per-packet entry points
// a deployment actually runs: SIITProcessor and NAT64Processor.
package pipeline

import (
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/config"
	"github.com/xlat64/xlat64/internal/filtering"
	"github.com/xlat64/xlat64/internal/session"
	"github.com/xlat64/xlat64/internal/translate"
	"github.com/xlat64/xlat64/internal/verdict"
	"github.com/xlat64/xlat64/internal/xfault"
)

// Outcome is what one ingress packet produces. Packets holds zero or more
// byte slices to hand back to the caller's network hook: a translated
// packet, a locally generated ICMP error, or a hairpinned result. A
// translated packet is in the opposite family from the one the caller
// called Process{V4,V6} with; a locally generated ICMP error and a
// hairpinned result are in the same family, since the error goes back to
// the sender and the hairpinned packet has been translated a second time.
type Outcome struct {
	Verdict verdict.Verdict
	Packets [][]byte
}

func dropOutcome() Outcome { return Outcome{Verdict: verdict.Drop} }

func stolenOutcome() Outcome { return Outcome{Verdict: verdict.Stolen} }

func continueOutcome(pkts ...[]byte) Outcome {
	return Outcome{Verdict: verdict.Continue, Packets: pkts}
}

// l4Info is the address-family-independent transport-layer information
// every ingress packet needs extracted before it can be handed to
// filtering or the out-tuple computation.
type l4Info struct {
	proto      addr.Proto
	srcPort    uint16
	dstPort    uint16
	tcp        *filtering.TCPSignal
	icmpv6Info bool
}

func ipv6ProtoToAddr(p layers.IPProtocol) (addr.Proto, bool) {
	switch p {
	case layers.IPProtocolUDP:
		return addr.ProtoUDP, true
	case layers.IPProtocolTCP:
		return addr.ProtoTCP, true
	case layers.IPProtocolICMPv6:
		return addr.ProtoICMP, true
	default:
		return 0, false
	}
}

func ipv4ProtoToAddr(p layers.IPProtocol) (addr.Proto, bool) {
	switch p {
	case layers.IPProtocolUDP:
		return addr.ProtoUDP, true
	case layers.IPProtocolTCP:
		return addr.ProtoTCP, true
	case layers.IPProtocolICMPv4:
		return addr.ProtoICMP, true
	default:
		return 0, false
	}
}

// decodeV6L4 extracts per-protocol port/identifier and signal information
// from an already-decoded IPv6 packet whose next header is nextHeader
// (the caller has already stripped any fragment header).
func decodeV6L4(pkt gopacket.Packet, nextHeader layers.IPProtocol) (l4Info, error) {
	const op = "pipeline.decodeV6L4"

	proto, ok := ipv6ProtoToAddr(nextHeader)
	if !ok {
		return l4Info{}, xfault.Newf(xfault.InvalidArg, op, "unsupported next header %v", nextHeader)
	}

	switch proto {
	case addr.ProtoTCP:
		layer := pkt.Layer(layers.LayerTypeTCP)
		if layer == nil {
			return l4Info{}, xfault.New(xfault.InvalidArg, op, "missing TCP layer")
		}
		tcp := layer.(*layers.TCP)
		return l4Info{
			proto:   proto,
			srcPort: uint16(tcp.SrcPort),
			dstPort: uint16(tcp.DstPort),
			tcp:     &filtering.TCPSignal{SYN: tcp.SYN, FIN: tcp.FIN, RST: tcp.RST},
		}, nil

	case addr.ProtoUDP:
		layer := pkt.Layer(layers.LayerTypeUDP)
		if layer == nil {
			return l4Info{}, xfault.New(xfault.InvalidArg, op, "missing UDP layer")
		}
		udp := layer.(*layers.UDP)
		return l4Info{proto: proto, srcPort: uint16(udp.SrcPort), dstPort: uint16(udp.DstPort)}, nil

	case addr.ProtoICMP:
		layer := pkt.Layer(layers.LayerTypeICMPv6)
		if layer == nil {
			return l4Info{}, xfault.New(xfault.InvalidArg, op, "missing ICMPv6 layer")
		}
		icmp6 := layer.(*layers.ICMPv6)
		var id uint16
		if echo := pkt.Layer(layers.LayerTypeICMPv6Echo); echo != nil {
			id = echo.(*layers.ICMPv6Echo).Identifier
		}
		return l4Info{
			proto:      proto,
			srcPort:    id,
			dstPort:    id,
			icmpv6Info: icmp6.TypeCode.Type() >= 128, // RFC 4443 §2.1 informational range
		}, nil
	}
	return l4Info{}, xfault.New(xfault.InvalidArg, op, "unreachable")
}

// decodeV4L4 is the v4-side counterpart of decodeV6L4.
func decodeV4L4(pkt gopacket.Packet, proto layers.IPProtocol) (l4Info, error) {
	const op = "pipeline.decodeV4L4"

	p, ok := ipv4ProtoToAddr(proto)
	if !ok {
		return l4Info{}, xfault.Newf(xfault.InvalidArg, op, "unsupported protocol %v", proto)
	}

	switch p {
	case addr.ProtoTCP:
		layer := pkt.Layer(layers.LayerTypeTCP)
		if layer == nil {
			return l4Info{}, xfault.New(xfault.InvalidArg, op, "missing TCP layer")
		}
		tcp := layer.(*layers.TCP)
		return l4Info{
			proto:   p,
			srcPort: uint16(tcp.SrcPort),
			dstPort: uint16(tcp.DstPort),
			tcp:     &filtering.TCPSignal{SYN: tcp.SYN, FIN: tcp.FIN, RST: tcp.RST},
		}, nil

	case addr.ProtoUDP:
		layer := pkt.Layer(layers.LayerTypeUDP)
		if layer == nil {
			return l4Info{}, xfault.New(xfault.InvalidArg, op, "missing UDP layer")
		}
		udp := layer.(*layers.UDP)
		return l4Info{proto: p, srcPort: uint16(udp.SrcPort), dstPort: uint16(udp.DstPort)}, nil

	case addr.ProtoICMP:
		layer := pkt.Layer(layers.LayerTypeICMPv4)
		if layer == nil {
			return l4Info{}, xfault.New(xfault.InvalidArg, op, "missing ICMPv4 layer")
		}
		icmp4 := layer.(*layers.ICMPv4)
		return l4Info{proto: p, srcPort: icmp4.Id, dstPort: icmp4.Id}, nil
	}
	return l4Info{}, xfault.New(xfault.InvalidArg, op, "unreachable")
}

func translateConfigFrom(g *config.Global) translate.Config {
	return translate.Config{
		ResetTrafficClass:      g.ResetTrafficClass,
		ResetTOS:               g.ResetTOS,
		NewTOS:                 g.NewTOS,
		DFAlwaysOn:             g.DFAlwaysOn,
		BuildIPv6FH:            g.BuildIPv6FH,
		BuildIPv4ID:            g.BuildIPv4ID,
		LowerMTUFail:           g.LowerMTUFail,
		MTUPlateaus:            g.MTUPlateaus,
		ComputeUDPChecksumZero: g.ComputeUDPChecksumZero,
	}
}

func filteringConfigFrom(g *config.Global) filtering.Config {
	return filtering.Config{
		DropICMP6Info:   g.DropICMP6Info,
		DropByAddr:      g.DropByAddr,
		DropExternalTCP: g.DropExternalTCP,
		TTLs: session.TTLSet{
			UDP:      g.UDPTTL,
			ICMP:     g.ICMPTTL,
			TCPEst:   g.TCPEstTTL,
			TCPTrans: g.TCPTransTTL,
		},
	}
}

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

// rewriteSourcePort patches a just-translated packet's source port (TCP
// or UDP) or ICMP query identifier to assigned, and recomputes the
// transport checksum. It is only needed for the v6->v4 NAT64 direction,
// the one case where the out-tuple can carry a port the BIB had to
// reassign because the original could not be preserved (spec §4.7's
// port-preservation rule is best-effort, not a guarantee); every other
// direction's out-tuple port already equals what the inbound packet
// itself carried, so translate's verbatim port copy is already correct.
func rewriteSourcePort(pkt []byte, proto addr.Proto, assigned uint16) ([]byte, error) {
	const op = "pipeline.rewriteSourcePort"

	p := gopacket.NewPacket(pkt, layers.LayerTypeIPv4, gopacket.Default)
	ip4Layer := p.Layer(layers.LayerTypeIPv4)
	if ip4Layer == nil {
		return nil, xfault.New(xfault.InvalidArg, op, "no IPv4 layer")
	}
	ip4 := ip4Layer.(*layers.IPv4)

	buf := gopacket.NewSerializeBuffer()

	switch proto {
	case addr.ProtoTCP:
		layer := p.Layer(layers.LayerTypeTCP)
		if layer == nil {
			return nil, xfault.New(xfault.InvalidArg, op, "no TCP layer")
		}
		tcp := *layer.(*layers.TCP)
		tcp.SrcPort = layers.TCPPort(assigned)
		tcp.SetNetworkLayerForChecksum(ip4)
		if err := gopacket.SerializeLayers(buf, serializeOpts, ip4, &tcp, gopacket.Payload(tcp.LayerPayload())); err != nil {
			return nil, xfault.Wrap(xfault.InvalidArg, op, err)
		}

	case addr.ProtoUDP:
		layer := p.Layer(layers.LayerTypeUDP)
		if layer == nil {
			return nil, xfault.New(xfault.InvalidArg, op, "no UDP layer")
		}
		udp := *layer.(*layers.UDP)
		udp.SrcPort = layers.UDPPort(assigned)
		udp.SetNetworkLayerForChecksum(ip4)
		if err := gopacket.SerializeLayers(buf, serializeOpts, ip4, &udp, gopacket.Payload(udp.LayerPayload())); err != nil {
			return nil, xfault.Wrap(xfault.InvalidArg, op, err)
		}

	case addr.ProtoICMP:
		layer := p.Layer(layers.LayerTypeICMPv4)
		if layer == nil {
			return nil, xfault.New(xfault.InvalidArg, op, "no ICMPv4 layer")
		}
		icmp4 := *layer.(*layers.ICMPv4)
		icmp4.Id = assigned
		icmp4.SetNetworkLayerForChecksum(ip4)
		if err := gopacket.SerializeLayers(buf, serializeOpts, ip4, &icmp4, gopacket.Payload(icmp4.LayerPayload())); err != nil {
			return nil, xfault.Wrap(xfault.InvalidArg, op, err)
		}

	default:
		return nil, xfault.Newf(xfault.InvalidArg, op, "unsupported proto %v", proto)
	}

	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
