// Package hairpin implements the post-translation loop check described in
// spec §4.12: once a packet has been translated, its destination may still
// name a node this same box translates for, in which case the packet must
// be fed back through the pipeline instead of handed to the network stack.
package hairpin

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// MaxReentries bounds how many additional pipeline passes a single ingress
// packet may trigger via hairpinning. One re-entry is enough for the
// A-talks-to-B-via-NAT64's-own-pool4 case; anything beyond that is a loop.
const MaxReentries = 1

// Scope reports whether addr falls within this node's own translation
// scope: pool4 for a NAT64 box checking a freshly-translated IPv4
// destination, or the pool6/EAM mapping range for SIIT checking a
// freshly-translated IPv6 destination.
type Scope interface {
	Contains(addr netip.Addr) bool
}

// ScopeFunc adapts a plain function to Scope.
type ScopeFunc func(netip.Addr) bool

// Contains implements Scope.
func (f ScopeFunc) Contains(addr netip.Addr) bool { return f(addr) }

// Result is the outcome of a hairpin check.
type Result struct {
	// Hairpin is true when Dest falls within the checked Scope: the
	// packet must be re-entered rather than transmitted.
	Hairpin bool
	// Dest is the translated packet's destination address.
	Dest netip.Addr
}

// CheckV4 inspects a translated IPv4 packet (the product of a v6->v4
// translation) and reports whether its destination is one this node would
// itself translate for, per NAT64 hairpinning.
func CheckV4(pkt []byte, scope Scope) (Result, error) {
	dst, err := destIPv4(pkt)
	if err != nil {
		return Result{}, err
	}
	return Result{Hairpin: scope.Contains(dst), Dest: dst}, nil
}

// CheckV6 is the SIIT-direction counterpart, operating on a translated
// IPv6 packet (the product of a v4->v6 translation).
func CheckV6(pkt []byte, scope Scope) (Result, error) {
	dst, err := destIPv6(pkt)
	if err != nil {
		return Result{}, err
	}
	return Result{Hairpin: scope.Contains(dst), Dest: dst}, nil
}

func destIPv4(pkt []byte) (netip.Addr, error) {
	p := gopacket.NewPacket(pkt, layers.LayerTypeIPv4, gopacket.NoCopy)
	layer := p.Layer(layers.LayerTypeIPv4)
	if layer == nil {
		return netip.Addr{}, fmt.Errorf("hairpin: no IPv4 layer in translated packet")
	}
	ip4 := layer.(*layers.IPv4)
	addr, ok := netip.AddrFromSlice(ip4.DstIP)
	if !ok {
		return netip.Addr{}, fmt.Errorf("hairpin: malformed IPv4 destination")
	}
	return addr.Unmap(), nil
}

func destIPv6(pkt []byte) (netip.Addr, error) {
	p := gopacket.NewPacket(pkt, layers.LayerTypeIPv6, gopacket.NoCopy)
	layer := p.Layer(layers.LayerTypeIPv6)
	if layer == nil {
		return netip.Addr{}, fmt.Errorf("hairpin: no IPv6 layer in translated packet")
	}
	ip6 := layer.(*layers.IPv6)
	addr, ok := netip.AddrFromSlice(ip6.DstIP)
	if !ok {
		return netip.Addr{}, fmt.Errorf("hairpin: malformed IPv6 destination")
	}
	return addr, nil
}

// Guard tracks how many times a single ingress packet has been re-entered
// into the pipeline by hairpin checks, so the pipeline can refuse to loop
// forever when scope checks are misconfigured. The zero value is ready to
// use.
type Guard struct {
	depth int
}

// Enter reports whether another pipeline pass is still permitted and, if
// so, counts it. Once MaxReentries passes have been taken, Enter returns
// false for the lifetime of this Guard.
func (g *Guard) Enter() bool {
	if g.depth >= MaxReentries {
		return false
	}
	g.depth++
	return true
}

// Depth returns the number of re-entries taken so far.
func (g *Guard) Depth() int { return g.depth }
