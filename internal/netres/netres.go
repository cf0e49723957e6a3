// Package netres resolves this host's own primary outbound IPv4 address,
// the RFC 6791 pool-empty fallback (spec §4.5), against the live kernel
// routing table via netlink.
package netres

import (
	"net/netip"

	"github.com/vishvananda/netlink"

	"github.com/xlat64/xlat64/internal/xfault"
)

// LinkResolver implements pool4.HostAddressResolver against the kernel's
// default IPv4 route, following the same vishvananda/netlink usage this
// module's teacher uses for its own link/neighbor discovery.
type LinkResolver struct{}

// PrimaryAddress returns the first non-loopback IPv4 address configured
// on the link the default IPv4 route points out of.
func (LinkResolver) PrimaryAddress() (netip.Addr, error) {
	const op = "netres.PrimaryAddress"

	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		return netip.Addr{}, xfault.Wrap(xfault.Unsupported, op, err)
	}

	var linkIndex = -1
	for _, r := range routes {
		if r.Dst == nil { // the default route has no destination prefix
			linkIndex = r.LinkIndex
			break
		}
	}
	if linkIndex < 0 {
		return netip.Addr{}, xfault.New(xfault.NotFound, op, "no default IPv4 route")
	}

	link, err := netlink.LinkByIndex(linkIndex)
	if err != nil {
		return netip.Addr{}, xfault.Wrap(xfault.NotFound, op, err)
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return netip.Addr{}, xfault.Wrap(xfault.Unsupported, op, err)
	}
	for _, a := range addrs {
		if a.IP.IsLoopback() {
			continue
		}
		ip, ok := netip.AddrFromSlice(a.IP.To4())
		if !ok {
			continue
		}
		return ip, nil
	}

	return netip.Addr{}, xfault.Newf(xfault.NotFound, op, "link %s has no usable IPv4 address", link.Attrs().Name)
}
