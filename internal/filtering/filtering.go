// Package filtering implements NAT64 filtering & updating (spec §4.9):
// given an ingress tuple, it finds or creates the BIB/Session state that
// decides whether the packet continues through the pipeline.
//
// Field naming follows the session package's FullKey regardless of which
// side the packet arrived from: Remote6 is the IPv6 host's own
// transport address, Local6 is the NAT64-embedded representation of the
// IPv4 peer (pool6.Translate4To6(Remote4)), Local4 is the NAT64-owned v4
// transport address bound to Remote6 via the BIB, and Remote4 is the
// real external IPv4 peer's transport address.
package filtering

import (
	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/bib"
	"github.com/xlat64/xlat64/internal/session"
	"github.com/xlat64/xlat64/internal/verdict"
	"github.com/xlat64/xlat64/internal/xfault"
)

// TCPSignal carries which TCP control bits the caller observed in the
// segment, already translated into the direction-neutral event the
// state machine needs.
type TCPSignal struct {
	SYN bool
	FIN bool
	RST bool
}

// Config is the subset of the global snapshot filtering needs.
type Config struct {
	DropICMP6Info   bool
	DropByAddr      bool
	DropExternalTCP bool
	TTLs            session.TTLSet
}

// Engine ties together the BIB, Session DB and pool4 picker that
// filtering/updating needs.
type Engine struct {
	BIB     *bib.DB
	Session *session.DB
	Pick    bib.Picker
}

// New returns a filtering engine over the given BIB, Session DB and
// pool4 picker.
func New(b *bib.DB, s *session.DB, pick bib.Picker) *Engine {
	return &Engine{BIB: b, Session: s, Pick: pick}
}

// V6Ingress describes a packet arriving from the IPv6 side.
type V6Ingress struct {
	Remote6    addr.TransportAddr
	Remote4    addr.TransportAddr // the translated destination, from pool6/EAM
	Local6     addr.TransportAddr // pool6.Translate4To6(Remote4); supplied by caller
	Proto      addr.Proto
	TCP        *TCPSignal
	ICMPv6Info bool
}

// ProcessV6 runs filtering & updating for a v6-originated packet.
func (e *Engine) ProcessV6(in V6Ingress, cfg Config) (verdict.Verdict, *session.Entry, error) {
	if in.ICMPv6Info && cfg.DropICMP6Info {
		return verdict.Drop, nil, nil
	}

	bibEntry, _, err := e.BIB.FindOrCreate(in.Proto, in.Remote6, e.Pick)
	if err != nil {
		return verdict.Drop, nil, err
	}

	key := session.FullKey{Remote6: in.Remote6, Local6: in.Local6, Local4: bibEntry.V4, Remote4: in.Remote4}
	out := session.OutKey{Local4: bibEntry.V4, Remote4: in.Remote4}

	if sess, ok := e.Session.Find(in.Proto, key); ok {
		next := sess.State
		if in.Proto == addr.ProtoTCP && in.TCP != nil {
			next = session.NextTCPState(sess.State, tcpEvent(in.TCP, false))
		}
		e.Session.Touch(sess, next, cfg.TTLs)
		return verdict.Continue, sess, nil
	}

	initial := session.Open
	if in.Proto == addr.ProtoTCP {
		initial = session.V6Init
	}

	sess := e.Session.Create(in.Proto, key, out, initial, bibEntry, cfg.TTLs)
	return verdict.Continue, sess, nil
}

// V4Ingress describes a packet arriving from the IPv4 side.
type V4Ingress struct {
	Remote4 addr.TransportAddr
	Local4  addr.TransportAddr // the NAT64-owned v4 transport address the packet targets
	Local6  addr.TransportAddr // pool6.Translate4To6(Remote4); supplied by caller
	Proto   addr.Proto
	TCP     *TCPSignal

	// HasV6SessionFromRemote reports whether a session already exists
	// with this Local6 as the embedded peer and the given Remote6 as the
	// internal host — used for the address-dependent filtering check
	// (cfg.DropByAddr) before any BIB/session is created for this flow.
	HasV6SessionFromRemote func(remote6 addr.TransportAddr) bool
}

// ProcessV4 runs filtering & updating for a v4-originated packet.
func (e *Engine) ProcessV4(in V4Ingress, cfg Config) (verdict.Verdict, *session.Entry, error) {
	const op = "filtering.ProcessV4"

	bibEntry, ok := e.BIB.FindByV4(in.Proto, in.Local4)
	if !ok {
		return verdict.Drop, nil, nil
	}

	key := session.FullKey{Remote6: bibEntry.V6, Local6: in.Local6, Local4: in.Local4, Remote4: in.Remote4}
	out := session.OutKey{Local4: in.Local4, Remote4: in.Remote4}

	if sess, ok := e.Session.Find(in.Proto, key); ok {
		next := sess.State
		if in.Proto == addr.ProtoTCP && in.TCP != nil {
			next = session.NextTCPState(sess.State, tcpEvent(in.TCP, true))
		}
		e.Session.Touch(sess, next, cfg.TTLs)
		return verdict.Continue, sess, nil
	}

	if cfg.DropByAddr && (in.Proto == addr.ProtoUDP || in.Proto == addr.ProtoICMP) {
		if in.HasV6SessionFromRemote == nil || !in.HasV6SessionFromRemote(bibEntry.V6) {
			return verdict.Drop, nil, nil
		}
	}

	initial := session.Open
	if in.Proto == addr.ProtoTCP {
		if cfg.DropExternalTCP {
			return verdict.Drop, nil, nil
		}
		initial = session.V4Init
	}

	if initial == session.V4Init && (in.TCP == nil || !in.TCP.SYN) {
		return verdict.Drop, nil, xfault.New(xfault.InvalidArg, op, "first v4 TCP segment for an unknown flow must be a SYN")
	}

	sess := e.Session.Create(in.Proto, key, out, initial, bibEntry, cfg.TTLs)
	return verdict.Continue, sess, nil
}

func tcpEvent(sig *TCPSignal, fromV4 bool) session.Event {
	switch {
	case sig.RST:
		if fromV4 {
			return session.EventV4RST
		}
		return session.EventV6RST
	case sig.FIN:
		if fromV4 {
			return session.EventV4FIN
		}
		return session.EventV6FIN
	default:
		if fromV4 {
			return session.EventV4SYN
		}
		return session.EventV6SYN
	}
}
