package control

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xlat64/xlat64/common/go/xiter"
	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/bib"
	"github.com/xlat64/xlat64/internal/config"
	"github.com/xlat64/xlat64/internal/control/wire"
	"github.com/xlat64/xlat64/internal/eamt"
	"github.com/xlat64/xlat64/internal/pool4"
	"github.com/xlat64/xlat64/internal/pool6"
	"github.com/xlat64/xlat64/internal/session"
	"github.com/xlat64/xlat64/internal/xfault"
)

// maxDisplayRecords bounds how many records a single DISPLAY response may
// carry (spec "List responses are paginated: the server fills a buffer up
// to a transport-defined cap; the client re-requests with the last
// returned key as cursor to resume"). The out-of-scope transport owns the
// actual wire buffer size; this is this dispatcher's own conservative
// per-call ceiling so one request can't walk an entire table unbounded.
const maxDisplayRecords = 256

// SupportedVersion is the exact wire version this dispatcher accepts
// (spec §4.13: "exact version").
var SupportedVersion = wire.Version{Major: 1, Minor: 0, Rev: 0, Dev: 0}

// Tables bundles every component dispatch can reach. Nil fields are
// treated as "this mode is unavailable", distinct from "mode recognized,
// table empty" (a SIIT deployment leaves BIB/Session nil, for instance).
type Tables struct {
	Build wire.BuildType

	Config *config.Store

	Pool6     *pool6.Pool
	Pool4SIIT *pool4.SIITPool
	Pool4NAT  *pool4.NAT64Pool
	Blacklist *pool4.Blacklist
	RFC6791   *pool4.Set
	EAMT      *eamt.Table

	BIB     *bib.DB
	Session *session.DB
}

// Caller describes the requester, for the privilege check of spec §4.13.
type Caller struct {
	// NetAdmin reports whether the caller holds the host's network-admin
	// capability, required for add/remove/flush/update operations.
	NetAdmin bool
}

// Dispatcher validates and routes control-plane requests against one set
// of Tables (spec §4.13). It is safe for concurrent use; each table
// provides its own locking.
type Dispatcher struct {
	tables Tables
	log    *zap.Logger
}

// New returns a Dispatcher serving tables, logging dispatch outcomes via
// log (or a no-op logger if nil).
func New(tables Tables, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{tables: tables, log: log}
}

// Dispatch validates msg's header and body against the legality matrix
// and the caller's privilege, then routes it to the matching component.
// It returns the raw response body (a serialized payload, a stream of
// fixed-width records, or nothing for operations with no return value).
func (d *Dispatcher) Dispatch(msg []byte, caller Caller) ([]byte, error) {
	const op = "control.Dispatch"
	reqID := uuid.New().String()

	hdr, body, err := wire.Decode(msg)
	if err != nil {
		d.log.Warn("malformed request", zap.String("req_id", reqID), zap.Error(err))
		return nil, xfault.Newf(xfault.VersionMismatch, op, "%v", err)
	}
	if hdr.Type != d.tables.Build {
		return nil, xfault.Newf(xfault.VersionMismatch, op,
			"request type %q does not match this build (%q)", byte(hdr.Type), byte(d.tables.Build))
	}
	if hdr.Version != SupportedVersion.Encode() {
		got := wire.DecodeVersion(hdr.Version)
		return nil, xfault.Newf(xfault.VersionMismatch, op, "unsupported version %+v", got)
	}

	if err := checkLegal(hdr.Type, hdr.Mode, hdr.Operation); err != nil {
		d.log.Warn("rejected request", zap.String("req_id", reqID), zap.Error(err))
		return nil, err
	}
	if isPrivileged(hdr.Operation) && !caller.NetAdmin {
		return nil, xfault.Newf(xfault.PermissionDenied, op,
			"mode %s operation %s requires network-admin capability", hdr.Mode, hdr.Operation)
	}

	resp, err := d.route(hdr.Mode, hdr.Operation, body)
	if err != nil {
		d.log.Debug("dispatch failed", zap.String("req_id", reqID), zap.String("mode", hdr.Mode.String()),
			zap.String("op", hdr.Operation.String()), zap.Error(err))
		return nil, err
	}
	d.log.Debug("dispatch ok", zap.String("req_id", reqID), zap.String("mode", hdr.Mode.String()),
		zap.String("op", hdr.Operation.String()))
	return resp, nil
}

func (d *Dispatcher) route(mode wire.Mode, op wire.Operation, body []byte) ([]byte, error) {
	switch mode {
	case wire.ModeGlobal:
		return d.dispatchGlobal(op, body)
	case wire.ModePool6:
		return d.dispatchPool6(op, body)
	case wire.ModePool4:
		return d.dispatchPool4(op, body)
	case wire.ModeBlacklist:
		return d.dispatchPrefixSet(d.tables.Blacklist, "control.Blacklist", op, body)
	case wire.ModeRFC6791:
		return d.dispatchPrefixSet(d.tables.RFC6791, "control.RFC6791", op, body)
	case wire.ModeEAMT:
		return d.dispatchEAMT(op, body)
	case wire.ModeBIB:
		return d.dispatchBIB(op, body)
	case wire.ModeSession:
		return d.dispatchSession(op, body)
	case wire.ModeLogtime:
		return nil, nil // no benchmark harness in this build; DISPLAY returns empty
	default:
		return nil, xfault.Newf(xfault.InvalidArg, "control.route", "unhandled mode %s", mode)
	}
}

func (d *Dispatcher) dispatchGlobal(op wire.Operation, body []byte) ([]byte, error) {
	const errOp = "control.Global"

	switch op {
	case wire.OpDisplay:
		g := d.tables.Config.Load()
		return globalToWire(g).Encode(), nil

	case wire.OpUpdate:
		w, err := wire.DecodeGlobalConfig(body)
		if err != nil {
			return nil, xfault.Newf(xfault.InvalidArg, errOp, "%v", err)
		}
		next := wireToGlobal(w)
		if err := d.tables.Config.Replace(next); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		return nil, xfault.Newf(xfault.InvalidArg, errOp, "unsupported operation %s", op)
	}
}

func globalToWire(g *config.Global) wire.GlobalConfigUsr {
	return wire.GlobalConfigUsr{
		JoolStatus:             !g.Disable,
		IsDisable:              g.Disable,
		ResetTrafficClass:      g.ResetTrafficClass,
		ResetTOS:               g.ResetTOS,
		NewTOS:                 g.NewTOS,
		DFAlwaysOn:             g.DFAlwaysOn,
		BuildIPv6FH:            g.BuildIPv6FH,
		BuildIPv4ID:            g.BuildIPv4ID,
		LowerMTUFail:           g.LowerMTUFail,
		ComputeUDPChecksumZero: g.ComputeUDPChecksumZero,
		RandomizeRFC6791:       g.RandomizeRFC6791,
		UDPTTLMillis:           config.TTLMillis(g.UDPTTL),
		ICMPTTLMillis:          config.TTLMillis(g.ICMPTTL),
		TCPEstTTLMillis:        config.TTLMillis(g.TCPEstTTL),
		TCPTransTTLMillis:      config.TTLMillis(g.TCPTransTTL),
		FragTTLMillis:          config.TTLMillis(g.FragTTL),
		MaxStoredPkts:          g.MaxStoredPkts,
		SrcICMP6ErrsBetter:     g.SrcICMP6ErrsBetter,
		DropByAddr:             g.DropByAddr,
		DropICMP6Info:          g.DropICMP6Info,
		DropExternalTCP:        g.DropExternalTCP,
		BIBLogging:             g.BIBLogging,
		SessionLogging:         g.SessionLogging,
		MTUPlateaus:            append([]uint16(nil), g.MTUPlateaus...),
	}
}

func wireToGlobal(w wire.GlobalConfigUsr) *config.Global {
	return &config.Global{
		Disable:                w.IsDisable,
		ResetTrafficClass:      w.ResetTrafficClass,
		ResetTOS:               w.ResetTOS,
		NewTOS:                 w.NewTOS,
		DFAlwaysOn:             w.DFAlwaysOn,
		BuildIPv6FH:            w.BuildIPv6FH,
		BuildIPv4ID:            w.BuildIPv4ID,
		LowerMTUFail:           w.LowerMTUFail,
		ComputeUDPChecksumZero: w.ComputeUDPChecksumZero,
		RandomizeRFC6791:       w.RandomizeRFC6791,
		UDPTTL:                 config.MillisTTL(w.UDPTTLMillis),
		ICMPTTL:                config.MillisTTL(w.ICMPTTLMillis),
		TCPEstTTL:              config.MillisTTL(w.TCPEstTTLMillis),
		TCPTransTTL:            config.MillisTTL(w.TCPTransTTLMillis),
		FragTTL:                config.MillisTTL(w.FragTTLMillis),
		MaxStoredPkts:          w.MaxStoredPkts,
		SrcICMP6ErrsBetter:     w.SrcICMP6ErrsBetter,
		DropByAddr:             w.DropByAddr,
		DropICMP6Info:          w.DropICMP6Info,
		DropExternalTCP:        w.DropExternalTCP,
		BIBLogging:             w.BIBLogging,
		SessionLogging:         w.SessionLogging,
		MTUPlateaus:            config.NormalizeMTUPlateaus(w.MTUPlateaus),
	}
}

func (d *Dispatcher) dispatchPool6(op wire.Operation, body []byte) ([]byte, error) {
	const errOp = "control.Pool6"
	p := d.tables.Pool6
	if p == nil {
		return nil, xfault.New(xfault.Unsupported, errOp, "pool6 unavailable in this build")
	}

	switch op {
	case wire.OpDisplay:
		var out []byte
		for idx, pfx := range xiter.Enumerate(p.ForEach) {
			if idx >= maxDisplayRecords {
				break
			}
			rec := wire.Prefix6{Addr: pfx.Addr, Len: pfx.Len}
			out = append(out, encodePrefix6(rec)...)
		}
		return out, nil
	case wire.OpCount:
		return encodeCount(uint32(p.Count())), nil
	case wire.OpAdd:
		pfx, err := decodePrefix6Body(body)
		if err != nil {
			return nil, err
		}
		return nil, p.Add(pfx)
	case wire.OpRemove:
		pfx, err := decodePrefix6Body(body)
		if err != nil {
			return nil, err
		}
		return nil, p.Remove(pfx)
	case wire.OpFlush:
		p.Flush()
		return nil, nil
	default:
		return nil, xfault.Newf(xfault.InvalidArg, errOp, "unsupported operation %s", op)
	}
}

func (d *Dispatcher) dispatchPool4(op wire.Operation, body []byte) ([]byte, error) {
	const errOp = "control.Pool4"

	if d.tables.Pool4NAT != nil {
		return d.dispatchNAT64Pool4(op, body)
	}
	if d.tables.Pool4SIIT != nil {
		return d.dispatchPrefixSet(d.tables.Pool4SIIT, errOp, op, body)
	}
	return nil, xfault.New(xfault.Unsupported, errOp, "pool4 unavailable in this build")
}

func (d *Dispatcher) dispatchNAT64Pool4(op wire.Operation, body []byte) ([]byte, error) {
	const errOp = "control.Pool4.NAT64"
	p := d.tables.Pool4NAT

	switch op {
	case wire.OpDisplay:
		var out []byte
		for idx, e := range xiter.Enumerate(p.ForEach) {
			if idx >= maxDisplayRecords {
				break
			}
			rec := wire.Prefix4{Addr: e.Prefix.Addr, Len: e.Prefix.Len}
			out = append(out, encodePrefix4(rec)...)
		}
		return out, nil
	case wire.OpCount:
		return encodeCount(uint32(p.Count())), nil
	case wire.OpAdd:
		pfx, err := decodePrefix4Body(body)
		if err != nil {
			return nil, err
		}
		return nil, p.Add(pool4.Entry{Prefix: pfx, Ports: pool4.PortRange{Lo: 1024, Hi: 65535}})
	case wire.OpRemove:
		pfx, err := decodePrefix4Body(body)
		if err != nil {
			return nil, err
		}
		if err := p.Remove(pfx); err != nil {
			return nil, err
		}
		if d.tables.Session != nil && d.tables.BIB != nil {
			d.tables.Session.RemoveByV4Prefix(d.tables.BIB, pfx)
		}
		return nil, nil
	case wire.OpFlush:
		p.Flush()
		return nil, nil
	default:
		return nil, xfault.Newf(xfault.InvalidArg, errOp, "unsupported operation %s", op)
	}
}

func (d *Dispatcher) dispatchPrefixSet(s *pool4.Set, errOp string, op wire.Operation, body []byte) ([]byte, error) {
	if s == nil {
		return nil, xfault.New(xfault.Unsupported, errOp, "table unavailable in this build")
	}

	switch op {
	case wire.OpDisplay:
		var out []byte
		all := func(yield func(addr.Prefix4) bool) { s.ForEach(nil, yield) }
		for idx, e := range xiter.Enumerate(all) {
			if idx >= maxDisplayRecords {
				break
			}
			out = append(out, encodePrefix4(wire.Prefix4{Addr: e.Addr, Len: e.Len})...)
		}
		return out, nil
	case wire.OpCount:
		return encodeCount(uint32(s.Count())), nil
	case wire.OpAdd:
		pfx, err := decodePrefix4Body(body)
		if err != nil {
			return nil, err
		}
		return nil, s.Add(errOp, pfx)
	case wire.OpRemove:
		pfx, err := decodePrefix4Body(body)
		if err != nil {
			return nil, err
		}
		return nil, s.Remove(errOp, pfx)
	case wire.OpFlush:
		s.Flush()
		return nil, nil
	default:
		return nil, xfault.Newf(xfault.InvalidArg, errOp, "unsupported operation %s", op)
	}
}

func (d *Dispatcher) dispatchEAMT(op wire.Operation, body []byte) ([]byte, error) {
	const errOp = "control.EAMT"
	t := d.tables.EAMT
	if t == nil {
		return nil, xfault.New(xfault.Unsupported, errOp, "eamt unavailable in this build")
	}

	switch op {
	case wire.OpDisplay:
		var out []byte
		for idx, e := range xiter.Enumerate(t.ForEach) {
			if idx >= maxDisplayRecords {
				break
			}
			rec := wire.EAMEntryUsr{
				Pref4: wire.Prefix4{Addr: e.V4.Addr, Len: e.V4.Len},
				Pref6: wire.Prefix6{Addr: e.V6.Addr, Len: e.V6.Len},
			}
			out = append(out, rec.Encode()...)
		}
		return out, nil
	case wire.OpCount:
		return encodeCount(uint32(t.Count())), nil
	case wire.OpAdd:
		rec, err := wire.DecodeEAMEntry(body)
		if err != nil {
			return nil, xfault.Newf(xfault.InvalidArg, errOp, "%v", err)
		}
		entry := eamt.Entry{
			V6: addr.Prefix6{Addr: rec.Pref6.Addr, Len: rec.Pref6.Len},
			V4: addr.Prefix4{Addr: rec.Pref4.Addr, Len: rec.Pref4.Len},
		}
		return nil, t.Add(entry)
	case wire.OpRemove:
		rec, err := wire.DecodeEAMEntry(body)
		if err != nil {
			return nil, xfault.Newf(xfault.InvalidArg, errOp, "%v", err)
		}
		v6 := addr.Prefix6{Addr: rec.Pref6.Addr, Len: rec.Pref6.Len}
		v4 := addr.Prefix4{Addr: rec.Pref4.Addr, Len: rec.Pref4.Len}
		return nil, t.Remove(&v6, &v4)
	case wire.OpFlush:
		t.Flush()
		return nil, nil
	default:
		return nil, xfault.Newf(xfault.InvalidArg, errOp, "unsupported operation %s", op)
	}
}

func (d *Dispatcher) dispatchBIB(op wire.Operation, body []byte) ([]byte, error) {
	const errOp = "control.BIB"
	db := d.tables.BIB
	if db == nil {
		return nil, xfault.New(xfault.Unsupported, errOp, "bib unavailable in this build")
	}
	if len(body) < 1 {
		return nil, xfault.New(xfault.InvalidArg, errOp, "missing l4_proto")
	}
	proto := addr.Proto(body[0])
	body = body[1:]

	switch op {
	case wire.OpDisplay:
		var out []byte
		all := func(yield func(*bib.Entry) bool) { db.ForEachByV4(proto, nil, yield) }
		for idx, e := range xiter.Enumerate(all) {
			if idx >= maxDisplayRecords {
				break
			}
			rec := wire.BIBEntryUsr{
				Addr4:    wire.TransportAddr4{IP: e.V4.IP, Port: e.V4.Port},
				Addr6:    wire.TransportAddr6{IP: e.V6.IP, Port: e.V6.Port},
				IsStatic: e.IsStatic,
			}
			out = append(out, rec.Encode()...)
		}
		return out, nil
	case wire.OpCount:
		return encodeCount(uint32(db.Count(proto))), nil
	case wire.OpAdd:
		rec, err := wire.DecodeBIBEntry(body)
		if err != nil {
			return nil, xfault.Newf(xfault.InvalidArg, errOp, "%v", err)
		}
		v6 := addr.TransportAddr{IP: rec.Addr6.IP, Port: rec.Addr6.Port}
		v4 := addr.TransportAddr{IP: rec.Addr4.IP, Port: rec.Addr4.Port}
		_, err = db.StaticAdd(proto, v6, v4)
		return nil, err
	case wire.OpRemove:
		rec, err := wire.DecodeBIBEntry(body)
		if err != nil {
			return nil, xfault.Newf(xfault.InvalidArg, errOp, "%v", err)
		}
		v6 := addr.TransportAddr{IP: rec.Addr6.IP, Port: rec.Addr6.Port}
		return nil, db.Remove(proto, v6)
	default:
		return nil, xfault.Newf(xfault.InvalidArg, errOp, "unsupported operation %s", op)
	}
}

func (d *Dispatcher) dispatchSession(op wire.Operation, body []byte) ([]byte, error) {
	const errOp = "control.Session"
	db := d.tables.Session
	if db == nil {
		return nil, xfault.New(xfault.Unsupported, errOp, "session db unavailable in this build")
	}
	if len(body) < 1 {
		return nil, xfault.New(xfault.InvalidArg, errOp, "missing l4_proto")
	}
	proto := addr.Proto(body[0])

	switch op {
	case wire.OpDisplay:
		var out []byte
		all := func(yield func(*session.Entry) bool) { db.ForEach(proto, yield) }
		for idx, e := range xiter.Enumerate(all) {
			if idx >= maxDisplayRecords {
				break
			}
			rec := wire.SessionEntryUsr{
				Remote6:   wire.TransportAddr6{IP: e.Key.Remote6.IP, Port: e.Key.Remote6.Port},
				Local6:    wire.TransportAddr6{IP: e.Key.Local6.IP, Port: e.Key.Local6.Port},
				Local4:    wire.TransportAddr4{IP: e.Key.Local4.IP, Port: e.Key.Local4.Port},
				Remote4:   wire.TransportAddr4{IP: e.Key.Remote4.IP, Port: e.Key.Remote4.Port},
				DyingTime: uint64(config.TTLMillis(remaining(e.Deadline))),
				State:     uint8(e.State),
			}
			out = append(out, rec.Encode()...)
		}
		return out, nil
	case wire.OpCount:
		return encodeCount(uint32(db.Count(proto))), nil
	default:
		return nil, xfault.Newf(xfault.InvalidArg, errOp, "unsupported operation %s", op)
	}
}

// remaining returns the time left until deadline, floored at zero, for
// a session display record's dying_time field.
func remaining(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < 0 {
		return 0
	}
	return d
}

func encodeCount(n uint32) []byte {
	buf := make([]byte, 4)
	buf[0] = byte(n)
	buf[1] = byte(n >> 8)
	buf[2] = byte(n >> 16)
	buf[3] = byte(n >> 24)
	return buf
}

func encodePrefix4(p wire.Prefix4) []byte {
	buf := make([]byte, wire.Prefix4Len)
	p.Put(buf)
	return buf
}

func encodePrefix6(p wire.Prefix6) []byte {
	buf := make([]byte, wire.Prefix6Len)
	p.Put(buf)
	return buf
}

func decodePrefix4Body(body []byte) (addr.Prefix4, error) {
	const op = "control.decodePrefix4Body"
	if len(body) < wire.Prefix4Len {
		return addr.Prefix4{}, xfault.New(xfault.InvalidArg, op, "request body too short")
	}
	w := wire.GetPrefix4(body)
	return addr.New4(w.Addr, w.Len)
}

func decodePrefix6Body(body []byte) (addr.Prefix6, error) {
	const op = "control.decodePrefix6Body"
	if len(body) < wire.Prefix6Len {
		return addr.Prefix6{}, xfault.New(xfault.InvalidArg, op, "request body too short")
	}
	w := wire.GetPrefix6(body)
	return addr.New6(w.Addr, w.Len)
}
