package wire

import (
	"encoding/binary"
	"fmt"
)

// GlobalConfigFixedLen is the size of GlobalConfigUsr's fixed portion,
// before the inlined, count-prefixed mtu_plateaus array (spec §6: "globals
// serialized with network-order TTLs in ms and an inlined mtu_plateaus
// array").
const GlobalConfigFixedLen = 1 + 1 + // jool_status, is_disable
	1 + 1 + 1 + // reset_traffic_class, reset_tos, new_tos
	1 + 1 + 1 + 1 + // df_always_on, build_ipv6_fh, build_ipv4_id, lower_mtu_fail
	1 + 1 + // compute_udp_csum_zero, randomize_rfc6791
	4*5 + // udp/icmp/tcp_est/tcp_trans/frag TTLs, ms
	4 + 1 + 1 + 1 + 1 + 1 + 1 // max_stored_pkts, src_icmp6errs_better, drop_by_addr, drop_icmp6_info, drop_external_tcp, bib_logging, session_logging

// GlobalConfigUsr is the wire form of the global configuration snapshot
// (config.h's `struct global_config`), with MTUPlateaus appended as a
// u16-count-prefixed array of u16s rather than a fixed-size field.
type GlobalConfigUsr struct {
	JoolStatus bool
	IsDisable  bool

	ResetTrafficClass bool
	ResetTOS          bool
	NewTOS            uint8

	DFAlwaysOn   bool
	BuildIPv6FH  bool
	BuildIPv4ID  bool
	LowerMTUFail bool

	ComputeUDPChecksumZero bool
	RandomizeRFC6791       bool

	UDPTTLMillis      uint32
	ICMPTTLMillis     uint32
	TCPEstTTLMillis   uint32
	TCPTransTTLMillis uint32
	FragTTLMillis     uint32

	MaxStoredPkts      uint32
	SrcICMP6ErrsBetter bool
	DropByAddr         bool
	DropICMP6Info      bool
	DropExternalTCP    bool
	BIBLogging         bool
	SessionLogging     bool

	MTUPlateaus []uint16
}

func putBool(buf []byte, i int, v bool) {
	if v {
		buf[i] = 1
	}
}

// Encode serializes g, inlining MTUPlateaus as a u16 count followed by
// that many little-endian u16s.
func (g GlobalConfigUsr) Encode() []byte {
	buf := make([]byte, GlobalConfigFixedLen+2+2*len(g.MTUPlateaus))

	i := 0
	putBool(buf, i, g.JoolStatus)
	i++
	putBool(buf, i, g.IsDisable)
	i++
	putBool(buf, i, g.ResetTrafficClass)
	i++
	putBool(buf, i, g.ResetTOS)
	i++
	buf[i] = g.NewTOS
	i++
	putBool(buf, i, g.DFAlwaysOn)
	i++
	putBool(buf, i, g.BuildIPv6FH)
	i++
	putBool(buf, i, g.BuildIPv4ID)
	i++
	putBool(buf, i, g.LowerMTUFail)
	i++
	putBool(buf, i, g.ComputeUDPChecksumZero)
	i++
	putBool(buf, i, g.RandomizeRFC6791)
	i++

	for _, ms := range []uint32{g.UDPTTLMillis, g.ICMPTTLMillis, g.TCPEstTTLMillis, g.TCPTransTTLMillis, g.FragTTLMillis} {
		binary.BigEndian.PutUint32(buf[i:i+4], ms)
		i += 4
	}

	binary.LittleEndian.PutUint32(buf[i:i+4], g.MaxStoredPkts)
	i += 4
	putBool(buf, i, g.SrcICMP6ErrsBetter)
	i++
	putBool(buf, i, g.DropByAddr)
	i++
	putBool(buf, i, g.DropICMP6Info)
	i++
	putBool(buf, i, g.DropExternalTCP)
	i++
	putBool(buf, i, g.BIBLogging)
	i++
	putBool(buf, i, g.SessionLogging)
	i++

	binary.LittleEndian.PutUint16(buf[i:i+2], uint16(len(g.MTUPlateaus)))
	i += 2
	for _, p := range g.MTUPlateaus {
		binary.LittleEndian.PutUint16(buf[i:i+2], p)
		i += 2
	}

	return buf
}

// DecodeGlobalConfig parses a GlobalConfigUsr from buf.
func DecodeGlobalConfig(buf []byte) (GlobalConfigUsr, error) {
	if len(buf) < GlobalConfigFixedLen+2 {
		return GlobalConfigUsr{}, fmt.Errorf("wire: global_config record too short")
	}

	var g GlobalConfigUsr
	i := 0
	g.JoolStatus = buf[i] != 0
	i++
	g.IsDisable = buf[i] != 0
	i++
	g.ResetTrafficClass = buf[i] != 0
	i++
	g.ResetTOS = buf[i] != 0
	i++
	g.NewTOS = buf[i]
	i++
	g.DFAlwaysOn = buf[i] != 0
	i++
	g.BuildIPv6FH = buf[i] != 0
	i++
	g.BuildIPv4ID = buf[i] != 0
	i++
	g.LowerMTUFail = buf[i] != 0
	i++
	g.ComputeUDPChecksumZero = buf[i] != 0
	i++
	g.RandomizeRFC6791 = buf[i] != 0
	i++

	ttls := make([]*uint32, 5)
	ttls[0], ttls[1], ttls[2], ttls[3], ttls[4] =
		&g.UDPTTLMillis, &g.ICMPTTLMillis, &g.TCPEstTTLMillis, &g.TCPTransTTLMillis, &g.FragTTLMillis
	for _, p := range ttls {
		*p = binary.BigEndian.Uint32(buf[i : i+4])
		i += 4
	}

	g.MaxStoredPkts = binary.LittleEndian.Uint32(buf[i : i+4])
	i += 4
	g.SrcICMP6ErrsBetter = buf[i] != 0
	i++
	g.DropByAddr = buf[i] != 0
	i++
	g.DropICMP6Info = buf[i] != 0
	i++
	g.DropExternalTCP = buf[i] != 0
	i++
	g.BIBLogging = buf[i] != 0
	i++
	g.SessionLogging = buf[i] != 0
	i++

	count := int(binary.LittleEndian.Uint16(buf[i : i+2]))
	i += 2
	if len(buf) < i+2*count {
		return GlobalConfigUsr{}, fmt.Errorf("wire: global_config mtu_plateaus record too short")
	}
	g.MTUPlateaus = make([]uint16, count)
	for k := range g.MTUPlateaus {
		g.MTUPlateaus[k] = binary.LittleEndian.Uint16(buf[i : i+2])
		i += 2
	}

	return g, nil
}
