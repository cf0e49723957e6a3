package addr

import (
	"fmt"
	"net/netip"
)

// Proto identifies the L4 protocol a tuple/BIB/session entry is keyed by.
type Proto uint8

const (
	ProtoUDP Proto = iota
	ProtoTCP
	ProtoICMP
)

func (p Proto) String() string {
	switch p {
	case ProtoUDP:
		return "UDP"
	case ProtoTCP:
		return "TCP"
	case ProtoICMP:
		return "ICMP"
	default:
		return fmt.Sprintf("Proto(%d)", uint8(p))
	}
}

// TransportAddr is an (IP address, port-or-ICMP-identifier) pair.
type TransportAddr struct {
	IP   netip.Addr
	Port uint16
}

func (t TransportAddr) String() string {
	return fmt.Sprintf("%s#%d", t.IP, t.Port)
}

// Equal reports whether the two transport addresses are identical.
func (t TransportAddr) Equal(o TransportAddr) bool {
	return t.IP == o.IP && t.Port == o.Port
}

// Tuple is a 5-tuple: source and destination transport addresses plus the
// L4 protocol.
type Tuple struct {
	Src   TransportAddr
	Dst   TransportAddr
	Proto Proto
}

func (t Tuple) String() string {
	return fmt.Sprintf("%s:%s->%s [%s]", t.Proto, t.Src, t.Dst, t.Proto)
}
