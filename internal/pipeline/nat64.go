package pipeline

import (
	"net/netip"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/xlat64/xlat64/common/go/logging"
	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/bib"
	"github.com/xlat64/xlat64/internal/config"
	"github.com/xlat64/xlat64/internal/filtering"
	"github.com/xlat64/xlat64/internal/fragdb"
	"github.com/xlat64/xlat64/internal/hairpin"
	"github.com/xlat64/xlat64/internal/outtuple"
	"github.com/xlat64/xlat64/internal/pool4"
	"github.com/xlat64/xlat64/internal/pool6"
	"github.com/xlat64/xlat64/internal/session"
	"github.com/xlat64/xlat64/internal/translate"
	"github.com/xlat64/xlat64/internal/verdict"
	"github.com/xlat64/xlat64/internal/xfault"
)

// dropLogInterval bounds how often the filtering-drop log site below can
// fire; a port scan or a single noisy talker can otherwise push thousands
// of drop verdicts per second through the logger.
const dropLogInterval = time.Second

// NAT64Tables bundles the stateful components a NAT64 deployment's
// pipeline consults: pool6 for the algorithmic address embedding, pool4
// for BIB port allocation, the fragment database, and the BIB/Session
// pair filtering & updating maintains.
type NAT64Tables struct {
	Config *config.Store

	Pool6  *pool6.Pool
	Pool4  *pool4.NAT64Pool
	FragDB *fragdb.DB

	BIB     *bib.DB
	Session *session.DB

	HairpinScope hairpin.Scope
	Log          *zap.SugaredLogger
}

// nat64Mapper is the NAT64-side EmbeddedAddrMapper: unlike SIIT, there is
// no EAM table, only pool6's algorithmic RFC 6052 mapping (spec §4.11's
// embedded-packet translation applies identically to both builds).
type nat64Mapper struct {
	pool6 *pool6.Pool
}

func (m nat64Mapper) ToV4(v6 netip.Addr) (netip.Addr, error) { return m.pool6.Translate6To4(v6) }
func (m nat64Mapper) ToV6(v4 netip.Addr) (netip.Addr, error) { return m.pool6.Translate4To6(v4) }

// NAT64Processor runs the stateful translation pipeline: fragment
// reassembly, filtering & updating, compute-out-tuple, translation, and
// hairpinning (spec §2 data flow, NAT64 variant).
type NAT64Processor struct {
	tables      NAT64Tables
	mapper      nat64Mapper
	dropLimiter *logging.RateLimiter
}

// NewNAT64 returns a processor over tables.
func NewNAT64(tables NAT64Tables) *NAT64Processor {
	return &NAT64Processor{
		tables:      tables,
		mapper:      nat64Mapper{pool6: tables.Pool6},
		dropLimiter: logging.NewRateLimiter(dropLogInterval),
	}
}

// logDrop emits a rate-limited warning for a filtering-stage drop, folding
// in how many prior drops were suppressed since the last message logged.
func (p *NAT64Processor) logDrop(reason string) {
	if p.tables.Log == nil {
		return
	}
	if ok, suppressed := p.dropLimiter.Allow(time.Now()); ok {
		p.tables.Log.Warnw("packet dropped", "reason", reason, "suppressed", suppressed)
	}
}

func (p *NAT64Processor) pickFor(proto addr.Proto) bib.Picker {
	return func(wantPort uint16, inUse func(addr.TransportAddr) bool) (addr.TransportAddr, error) {
		return p.tables.Pool4.Pick(proto, wantPort, inUse)
	}
}

func (p *NAT64Processor) engine(proto addr.Proto) *filtering.Engine {
	return filtering.New(p.tables.BIB, p.tables.Session, p.pickFor(proto))
}

func (p *NAT64Processor) translator() *translate.Translator {
	return &translate.Translator{
		Cfg:          translateConfigFrom(p.tables.Config.Load()),
		EmbeddedAddr: p.mapper,
	}
}

// ProcessV6 runs one IPv6-originated packet through the NAT64 pipeline.
func (p *NAT64Processor) ProcessV6(raw []byte) Outcome {
	return p.processV6(raw, &hairpin.Guard{})
}

// ProcessV4 runs one IPv4-originated packet through the NAT64 pipeline.
func (p *NAT64Processor) ProcessV4(raw []byte) Outcome {
	return p.processV4(raw, &hairpin.Guard{})
}

func (p *NAT64Processor) processV6(raw []byte, guard *hairpin.Guard) Outcome {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv6, gopacket.Default)
	if pkt.ErrorLayer() != nil {
		return dropOutcome()
	}
	ip6Layer := pkt.Layer(layers.LayerTypeIPv6)
	if ip6Layer == nil {
		return dropOutcome()
	}
	ip6 := ip6Layer.(*layers.IPv6)

	srcAddr, ok := netip.AddrFromSlice(ip6.SrcIP)
	if !ok {
		return dropOutcome()
	}
	dstAddr, ok := netip.AddrFromSlice(ip6.DstIP)
	if !ok {
		return dropOutcome()
	}

	if _, inScope := p.tables.Pool6.Find(dstAddr); !inScope {
		return dropOutcome() // not addressed to this box's pool6 range
	}

	nextHeader := ip6.NextHeader
	if fragLayer := pkt.Layer(layers.LayerTypeIPv6Fragment); fragLayer != nil {
		frag := fragLayer.(*layers.IPv6Fragment)
		nextHeader = frag.NextHeader

		fragProto, ok := ipv6ProtoToAddr(frag.NextHeader)
		if !ok {
			return dropOutcome()
		}
		key := fragdb.Key{Src6: srcAddr, Dst6: dstAddr, ID: frag.Identification, Proto: fragProto}
		reassembled, done, err := p.tables.FragDB.Add(key, fragdb.Fragment{
			Offset:        uint32(frag.FragmentOffset) * 8,
			Data:          frag.LayerPayload(),
			MoreFragments: frag.MoreFragments,
		})
		if err != nil {
			return dropOutcome()
		}
		if !done {
			return stolenOutcome()
		}

		rebuilt, err := rebuildIPv6(ip6, nextHeader, reassembled.Data)
		if err != nil {
			return dropOutcome()
		}
		raw = rebuilt
		pkt = gopacket.NewPacket(raw, layers.LayerTypeIPv6, gopacket.Default)
		if pkt.ErrorLayer() != nil {
			return dropOutcome()
		}
		ip6 = pkt.Layer(layers.LayerTypeIPv6).(*layers.IPv6)
	}

	l4, err := decodeV6L4(pkt, nextHeader)
	if err != nil {
		return dropOutcome()
	}

	remote4, err := p.tables.Pool6.Translate6To4(dstAddr)
	if err != nil {
		return dropOutcome()
	}

	in := filtering.V6Ingress{
		Remote6:    addr.TransportAddr{IP: srcAddr, Port: l4.srcPort},
		Remote4:    addr.TransportAddr{IP: remote4, Port: l4.dstPort},
		Local6:     addr.TransportAddr{IP: dstAddr, Port: l4.dstPort},
		Proto:      l4.proto,
		TCP:        l4.tcp,
		ICMPv6Info: l4.icmpv6Info,
	}

	v, sess, err := p.engine(l4.proto).ProcessV6(in, filteringConfigFrom(p.tables.Config.Load()))
	if err != nil || v != verdict.Continue {
		if v == verdict.Drop {
			p.logDrop("filtering-v6")
		}
		return Outcome{Verdict: v}
	}

	out := outtuple.FromSession(sess, true)
	res, err := p.translator().TranslateV6ToV4(pkt, out.Src.IP, out.Dst.IP)
	if err != nil {
		return dropOutcome()
	}
	if res.Verdict == verdict.Continue && out.Src.Port != l4.srcPort {
		patched, err := rewriteSourcePort(res.Packet, l4.proto, out.Src.Port)
		if err != nil {
			return dropOutcome()
		}
		res.Packet = patched
	}
	return p.finishV6(res, guard)
}

func (p *NAT64Processor) processV4(raw []byte, guard *hairpin.Guard) Outcome {
	pkt := gopacket.NewPacket(raw, layers.LayerTypeIPv4, gopacket.Default)
	if pkt.ErrorLayer() != nil {
		return dropOutcome()
	}
	ip4Layer := pkt.Layer(layers.LayerTypeIPv4)
	if ip4Layer == nil {
		return dropOutcome()
	}
	ip4 := ip4Layer.(*layers.IPv4)

	srcAddr, ok := netip.AddrFromSlice(ip4.SrcIP)
	if !ok {
		return dropOutcome()
	}
	dstAddr, ok := netip.AddrFromSlice(ip4.DstIP)
	if !ok {
		return dropOutcome()
	}
	srcAddr, dstAddr = srcAddr.Unmap(), dstAddr.Unmap()

	l4, err := decodeV4L4(pkt, ip4.Protocol)
	if err != nil {
		return dropOutcome()
	}

	local6, err := p.tables.Pool6.Translate4To6(srcAddr)
	if err != nil {
		return dropOutcome()
	}

	in := filtering.V4Ingress{
		Remote4: addr.TransportAddr{IP: srcAddr, Port: l4.srcPort},
		Local4:  addr.TransportAddr{IP: dstAddr, Port: l4.dstPort},
		Local6:  addr.TransportAddr{IP: local6, Port: l4.srcPort},
		Proto:   l4.proto,
		TCP:     l4.tcp,
		HasV6SessionFromRemote: func(remote6 addr.TransportAddr) bool {
			found := false
			p.tables.Session.ForEach(l4.proto, func(e *session.Entry) bool {
				if e.Key.Remote6 == remote6 {
					found = true
					return false
				}
				return true
			})
			return found
		},
	}

	v, sess, err := p.engine(l4.proto).ProcessV4(in, filteringConfigFrom(p.tables.Config.Load()))
	if err != nil || v != verdict.Continue {
		if v == verdict.Drop {
			p.logDrop("filtering-v4")
		}
		return Outcome{Verdict: v}
	}

	out := outtuple.FromSession(sess, false)
	res, err := p.translator().TranslateV4ToV6(pkt, out.Src.IP, out.Dst.IP)
	if err != nil {
		return dropOutcome()
	}
	return p.finishV4(res, guard)
}

func (p *NAT64Processor) finishV6(res translate.Result, guard *hairpin.Guard) Outcome {
	if res.Verdict != verdict.Continue {
		if res.ICMPError != nil {
			return continueOutcome(res.ICMPError)
		}
		return dropOutcome()
	}
	if p.tables.HairpinScope != nil {
		if hp, err := hairpin.CheckV4(res.Packet, p.tables.HairpinScope); err == nil && hp.Hairpin && guard.Enter() {
			return p.processV4(res.Packet, guard)
		}
	}
	return continueOutcome(res.Packet)
}

func (p *NAT64Processor) finishV4(res translate.Result, guard *hairpin.Guard) Outcome {
	if res.Verdict != verdict.Continue {
		if res.ICMPError != nil {
			return continueOutcome(res.ICMPError)
		}
		return dropOutcome()
	}
	if p.tables.HairpinScope != nil {
		if hp, err := hairpin.CheckV6(res.Packet, p.tables.HairpinScope); err == nil && hp.Hairpin && guard.Enter() {
			return p.processV6(res.Packet, guard)
		}
	}
	return continueOutcome(res.Packet)
}

// rebuildIPv6 reconstructs a full IPv6 datagram (header + payload) from a
// reassembled fragment set's payload bytes, dropping the fragment header
// and restoring the original next-header value (RFC 8200 §4.5). Upper-
// layer checksums were computed over the whole reassembled payload
// before fragmentation, so they remain valid unchanged.
func rebuildIPv6(orig *layers.IPv6, nextHeader layers.IPProtocol, payload []byte) ([]byte, error) {
	ip6 := &layers.IPv6{
		Version:      6,
		TrafficClass: orig.TrafficClass,
		FlowLabel:    orig.FlowLabel,
		NextHeader:   nextHeader,
		HopLimit:     orig.HopLimit,
		SrcIP:        orig.SrcIP,
		DstIP:        orig.DstIP,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ip6, gopacket.Payload(payload)); err != nil {
		return nil, xfault.Wrap(xfault.InvalidArg, "pipeline.rebuildIPv6", err)
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
