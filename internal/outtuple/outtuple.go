// Package outtuple computes the outgoing 5-tuple for a packet that has
// passed filtering (spec §4.10). SIIT has no session to consult and maps
// addresses directly through pool6/EAM; NAT64 derives the out tuple from
// the session created or found during filtering.
package outtuple

import (
	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/session"
)

// FromSession derives the outgoing tuple for a NAT64 flow from the
// session that filtering & updating attached to the packet. fromV6
// indicates the packet's arrival side: v6→v4 replaces the source with
// the session's local4 and the destination with remote4; v4→v6 replaces
// the source with remote6 and the destination with local6.
func FromSession(sess *session.Entry, fromV6 bool) addr.Tuple {
	if fromV6 {
		return addr.Tuple{
			Src:   sess.Key.Local4,
			Dst:   sess.Key.Remote4,
			Proto: sess.Proto,
		}
	}
	return addr.Tuple{
		Src:   sess.Key.Remote6,
		Dst:   sess.Key.Local6,
		Proto: sess.Proto,
	}
}

// FromSIIT derives the outgoing tuple for a stateless flow by mapping
// each address independently through the caller-supplied translation
// functions (backed by pool6 for algorithmic mappings, or the EAM table
// for explicit ones); there is no session to carry port/ID state, so the
// original tuple's ports/identifiers pass through unchanged.
func FromSIIT(in addr.Tuple, translateSrc, translateDst func(addr.TransportAddr) (addr.TransportAddr, error)) (addr.Tuple, error) {
	src, err := translateSrc(in.Src)
	if err != nil {
		return addr.Tuple{}, err
	}
	dst, err := translateDst(in.Dst)
	if err != nil {
		return addr.Tuple{}, err
	}
	return addr.Tuple{Src: src, Dst: dst, Proto: in.Proto}, nil
}
