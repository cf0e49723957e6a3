package pipeline

import (
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/xlat64/xlat64/internal/config"
	"github.com/xlat64/xlat64/internal/eamt"
	"github.com/xlat64/xlat64/internal/hairpin"
	"github.com/xlat64/xlat64/internal/pool4"
	"github.com/xlat64/xlat64/internal/pool6"
	"github.com/xlat64/xlat64/internal/translate"
	"github.com/xlat64/xlat64/internal/verdict"
	"github.com/xlat64/xlat64/internal/xfault"
)

// SIITTables bundles the stateless components a SIIT deployment's
// pipeline consults: the EAM table for explicit mappings, pool6 for the
// algorithmic RFC 6052 fallback, the SIIT pool4 membership set, the
// blacklist, and the RFC 6791 ICMP-source picker.
type SIITTables struct {
	Config *config.Store

	Pool6     *pool6.Pool
	EAMT      *eamt.Table
	Pool4     *pool4.SIITPool
	Blacklist *pool4.Blacklist
	RFC6791   *pool4.RFC6791Pool

	HairpinScope hairpin.Scope
	Log          *zap.SugaredLogger
}

// siitMapper composes the EAM table and pool6 into the single address
// mapper both the translator's embedded-packet rewriter and this
// processor's outer-address lookup need: an EAM entry wins when present
// (it is more specific by construction — spec §4.3), falling back to
// pool6's algorithmic RFC 6052 translation otherwise (spec §4.4).
type siitMapper struct {
	eamt  *eamt.Table
	pool6 *pool6.Pool
}

func (m siitMapper) ToV4(v6 netip.Addr) (netip.Addr, error) {
	if m.eamt != nil {
		if v4, err := m.eamt.GetIPv4ByIPv6(v6); err == nil {
			return v4, nil
		}
	}
	if m.pool6 != nil {
		return m.pool6.Translate6To4(v6)
	}
	return netip.Addr{}, xfault.New(xfault.NotFound, "pipeline.siitMapper.ToV4", "no EAM or pool6 mapping for address")
}

func (m siitMapper) ToV6(v4 netip.Addr) (netip.Addr, error) {
	if m.eamt != nil {
		if v6, err := m.eamt.GetIPv6ByIPv4(v4); err == nil {
			return v6, nil
		}
	}
	if m.pool6 != nil {
		return m.pool6.Translate4To6(v4)
	}
	return netip.Addr{}, xfault.New(xfault.NotFound, "pipeline.siitMapper.ToV6", "no EAM or pool6 mapping for address")
}

// SIITProcessor runs the stateless translation pipeline (spec §2 data
// flow, minus the NAT64-only fragment/filtering/session stages).
type SIITProcessor struct {
	tables SIITTables
	mapper siitMapper
}

// NewSIIT returns a processor over tables.
func NewSIIT(tables SIITTables) *SIITProcessor {
	return &SIITProcessor{
		tables: tables,
		mapper: siitMapper{eamt: tables.EAMT, pool6: tables.Pool6},
	}
}

func (p *SIITProcessor) icmpSource(hopLimit uint8) (netip.Addr, error) {
	const op = "pipeline.SIITProcessor.icmpSource"
	if p.tables.RFC6791 == nil {
		return netip.Addr{}, xfault.New(xfault.Unsupported, op, "no rfc6791 pool configured")
	}
	return p.tables.RFC6791.Pick(hopLimit, p.tables.Config.Load().RandomizeRFC6791)
}

func (p *SIITProcessor) translator() *translate.Translator {
	return &translate.Translator{
		Cfg:          translateConfigFrom(p.tables.Config.Load()),
		ICMPSource:   p.icmpSource,
		EmbeddedAddr: p.mapper,
	}
}

// ProcessV6 runs one IPv6-originated packet through the stateless
// pipeline.
func (p *SIITProcessor) ProcessV6(raw []byte) Outcome {
	return p.processV6(raw, &hairpin.Guard{})
}

// ProcessV4 runs one IPv4-originated packet through the stateless
// pipeline.
func (p *SIITProcessor) ProcessV4(raw []byte) Outcome {
	return p.processV4(raw, &hairpin.Guard{})
}

func (p *SIITProcessor) processV6(raw []byte, guard *hairpin.Guard) Outcome {
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

	outDst, err := p.mapper.ToV4(dstAddr)
	if err != nil {
		return dropOutcome() // destination outside this box's translation scope
	}
	outSrc, err := p.mapper.ToV4(srcAddr)
	if err != nil {
		return dropOutcome()
	}

	res, err := p.translator().TranslateV6ToV4(pkt, outSrc, outDst)
	if err != nil {
		return dropOutcome()
	}
	return p.finishV6(res, guard)
}

func (p *SIITProcessor) processV4(raw []byte, guard *hairpin.Guard) Outcome {
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

	if p.tables.Blacklist != nil {
		if _, hit := p.tables.Blacklist.Contains(dstAddr); hit {
			return dropOutcome() // not this box's to translate; caller passes it through unmodified
		}
	}

	outDst, err := p.mapper.ToV6(dstAddr)
	if err != nil {
		return dropOutcome()
	}
	outSrc, err := p.mapper.ToV6(srcAddr)
	if err != nil {
		return dropOutcome()
	}

	res, err := p.translator().TranslateV4ToV6(pkt, outSrc, outDst)
	if err != nil {
		return dropOutcome()
	}
	return p.finishV4(res, guard)
}

// finishV6 disposes of a V6ToV4 translation result: a locally generated
// ICMPv6 error goes back out the v6 side unchanged; a successfully
// translated packet is hairpin-checked and, if it loops back into this
// box's own v4 scope, fed straight back in as v4 ingress.
func (p *SIITProcessor) finishV6(res translate.Result, guard *hairpin.Guard) Outcome {
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

func (p *SIITProcessor) finishV4(res translate.Result, guard *hairpin.Guard) Outcome {
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
