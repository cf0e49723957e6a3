package translate

import (
	"fmt"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// icmp6To4 maps an ICMPv6 message onto its ICMPv4 equivalent per the
// RFC 6145 §4.2/§4.3 type/code tables, handling the handful of message
// types this translator supports (spec §4.11). It returns the ICMPv4
// layer followed by zero or more trailing payload layers.
func (tr *Translator) icmp6To4(pkt gopacket.Packet, icmp6 *layers.ICMPv6, ip4 *layers.IPv4, totalLen uint16) ([]gopacket.SerializableLayer, error) {
	typ := icmp6.TypeCode.Type()
	code := icmp6.TypeCode.Code()

	switch typ {
	case layers.ICMPv6TypeEchoRequest, layers.ICMPv6TypeEchoReply:
		echoLayer := pkt.Layer(layers.LayerTypeICMPv6Echo)
		if echoLayer == nil {
			return nil, fmt.Errorf("translate: ICMPv6 echo missing identifier/sequence")
		}
		echo := echoLayer.(*layers.ICMPv6Echo)

		outType := layers.ICMPv4TypeEchoRequest
		if typ == layers.ICMPv6TypeEchoReply {
			outType = layers.ICMPv4TypeEchoReply
		}
		icmp4 := &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(outType, 0),
			Id:       echo.Identifier,
			Seq:      echo.SeqNumber,
		}
		icmp4.SetNetworkLayerForChecksum(ip4)
		return []gopacket.SerializableLayer{icmp4, gopacket.Payload(echo.LayerPayload())}, nil

	case layers.ICMPv6TypeDestinationUnreachable:
		return tr.icmp6ErrorTo4(icmp6, ip4, layers.ICMPv4TypeDestinationUnreachable, unreachCode6to4(code), nil)

	case layers.ICMPv6TypePacketTooBig:
		rest := icmp6.LayerPayload()
		if len(rest) < 4 {
			return nil, fmt.Errorf("translate: packet too big message too short")
		}
		mtu := tr.outgoingMTU(totalLen)
		mtuField := []byte{0, 0, byte(mtu >> 8), byte(mtu)}
		return tr.icmp6ErrorTo4(icmp6, ip4, layers.ICMPv4TypeDestinationUnreachable, 4, mtuField)

	case layers.ICMPv6TypeTimeExceeded:
		return tr.icmp6ErrorTo4(icmp6, ip4, layers.ICMPv4TypeTimeExceeded, code, nil)

	default:
		return nil, fmt.Errorf("translate: unsupported ICMPv6 type %d", typ)
	}
}

// icmp6ErrorTo4 builds the translated ICMPv4 error, reusing restOverride
// as the 4-byte "unused"/MTU field when non-nil (zero otherwise), and
// translating the embedded packet one level deep.
func (tr *Translator) icmp6ErrorTo4(icmp6 *layers.ICMPv6, ip4 *layers.IPv4, outType uint8, outCode uint8, restOverride []byte) ([]gopacket.SerializableLayer, error) {
	payload := icmp6.LayerPayload()
	rest := make([]byte, 4)
	if restOverride != nil {
		copy(rest, restOverride)
	} else if len(payload) >= 4 {
		copy(rest, payload[:4])
	}

	var embedded []byte
	if len(payload) > 4 {
		embedded = translateEmbeddedV6ToV4(payload[4:], tr.EmbeddedAddr)
	}

	icmp4 := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(outType, outCode),
	}
	icmp4.Id = uint16(rest[0])<<8 | uint16(rest[1])
	icmp4.Seq = uint16(rest[2])<<8 | uint16(rest[3])
	icmp4.SetNetworkLayerForChecksum(ip4)

	if embedded == nil {
		return []gopacket.SerializableLayer{icmp4}, nil
	}
	return []gopacket.SerializableLayer{icmp4, gopacket.Payload(embedded)}, nil
}

// icmp4To6 is the inverse mapping, ICMPv4 -> ICMPv6.
func (tr *Translator) icmp4To6(pkt gopacket.Packet, icmp4 *layers.ICMPv4, ip6 *layers.IPv6) ([]gopacket.SerializableLayer, error) {
	typ := icmp4.TypeCode.Type()
	code := icmp4.TypeCode.Code()

	switch typ {
	case layers.ICMPv4TypeEchoRequest, layers.ICMPv4TypeEchoReply:
		outType := layers.ICMPv6TypeEchoRequest
		if typ == layers.ICMPv4TypeEchoReply {
			outType = layers.ICMPv6TypeEchoReply
		}
		icmp6 := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(outType, 0)}
		icmp6.SetNetworkLayerForChecksum(ip6)
		echo := &layers.ICMPv6Echo{Identifier: icmp4.Id, SeqNumber: icmp4.Seq}
		return []gopacket.SerializableLayer{icmp6, echo, gopacket.Payload(icmp4.LayerPayload())}, nil

	case layers.ICMPv4TypeDestinationUnreachable:
		if code == 4 { // fragmentation needed
			mtu := uint32(icmp4.Seq)
			if mtu < MinIPv6MTU {
				mtu = MinIPv6MTU
			}
			return tr.icmp4ErrorTo6(icmp4, ip6, layers.ICMPv6TypePacketTooBig, 0, mtu)
		}
		return tr.icmp4ErrorTo6(icmp4, ip6, layers.ICMPv6TypeDestinationUnreachable, unreachCode4to6(code), 0)

	case layers.ICMPv4TypeTimeExceeded:
		return tr.icmp4ErrorTo6(icmp4, ip6, layers.ICMPv6TypeTimeExceeded, code, 0)

	default:
		return nil, fmt.Errorf("translate: unsupported ICMPv4 type %d", typ)
	}
}

func (tr *Translator) icmp4ErrorTo6(icmp4 *layers.ICMPv4, ip6 *layers.IPv6, outType uint8, outCode uint8, mtuOverride uint32) ([]gopacket.SerializableLayer, error) {
	payload := icmp4.LayerPayload()

	var embedded []byte
	if len(payload) > 0 {
		embedded = translateEmbeddedV4ToV6(payload, tr.EmbeddedAddr)
	}

	icmp6 := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(outType, outCode)}
	icmp6.SetNetworkLayerForChecksum(ip6)

	rest := make([]byte, 4)
	if outType == layers.ICMPv6TypePacketTooBig {
		rest[0] = byte(mtuOverride >> 24)
		rest[1] = byte(mtuOverride >> 16)
		rest[2] = byte(mtuOverride >> 8)
		rest[3] = byte(mtuOverride)
	}

	out := []gopacket.SerializableLayer{icmp6, gopacket.Payload(rest)}
	if embedded != nil {
		out = append(out, gopacket.Payload(embedded))
	}
	return out, nil
}

// unreachCode6to4 maps RFC 4443 §3.1 Destination Unreachable codes to
// RFC 792 Destination Unreachable codes per RFC 6145 §4.2.
func unreachCode6to4(code uint8) uint8 {
	switch code {
	case 0: // no route to destination
		return 1 // host unreachable
	case 1: // communication administratively prohibited
		return 10 // communication administratively prohibited
	case 3: // address unreachable
		return 1 // host unreachable
	case 4: // port unreachable
		return 3 // port unreachable
	default:
		return 1
	}
}

// unreachCode4to6 is the inverse table (RFC 6145 §4.3).
func unreachCode4to6(code uint8) uint8 {
	switch code {
	case 0, 1, 5: // net/host/source-route-failed unreachable
		return 0 // no route to destination
	case 3: // port unreachable
		return 4
	case 9, 10, 13: // admin prohibited variants
		return 1
	default:
		return 0
	}
}
