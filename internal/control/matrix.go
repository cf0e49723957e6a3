// Package control implements the control-plane request dispatcher of spec
// §4.13: header validation, the mode×operation legality matrix, and
// routing validated requests to the config/pool6/pool4/eamt/bib/session
// components.
package control

import (
	"github.com/xlat64/xlat64/internal/control/wire"
	"github.com/xlat64/xlat64/internal/xfault"
)

// modeOps enumerates, per mode, the operations that mode accepts. Mirrors
// `original_source/include/nat64/common/config.h`'s GLOBAL_OPS/POOL6_OPS/
// .../SESSION_OPS/LOGTIME_OPS macros.
var modeOps = map[wire.Mode]wire.Operation{
	wire.ModeGlobal:    wire.OpDisplay | wire.OpUpdate,
	wire.ModePool6:     databaseOps,
	wire.ModePool4:     databaseOps,
	wire.ModeBlacklist: databaseOps,
	wire.ModeRFC6791:   databaseOps,
	wire.ModeEAMT:      databaseOps,
	wire.ModeBIB:       databaseOps &^ wire.OpFlush,
	wire.ModeSession:   wire.OpDisplay | wire.OpCount,
	wire.ModeLogtime:   wire.OpDisplay,
}

const databaseOps = wire.OpDisplay | wire.OpCount | wire.OpAdd | wire.OpRemove | wire.OpFlush

// siitModes/nat64Modes are the modes each build flavor recognizes, mirror
// of config.h's SIIT_MODES/NAT64_MODES.
const (
	siitModes  = wire.ModeGlobal | wire.ModePool6 | wire.ModePool4 | wire.ModeBlacklist | wire.ModeRFC6791 | wire.ModeEAMT | wire.ModeLogtime
	nat64Modes = wire.ModeGlobal | wire.ModePool6 | wire.ModePool4 | wire.ModeBIB | wire.ModeSession | wire.ModeLogtime
)

// modesForBuild returns the Mode bitmask a given build flavor recognizes.
func modesForBuild(t wire.BuildType) (wire.Mode, error) {
	const op = "control.modesForBuild"
	switch t {
	case wire.BuildSIIT:
		return siitModes, nil
	case wire.BuildNAT64:
		return nat64Modes, nil
	default:
		return 0, xfault.Newf(xfault.VersionMismatch, op, "unrecognized build type %q", byte(t))
	}
}

// checkLegal validates that mode is recognized by build and operation is
// one mode accepts, per spec §4.13: "Unknown/mismatched combinations
// return InvalidArg."
func checkLegal(build wire.BuildType, mode wire.Mode, op wire.Operation) error {
	const errOp = "control.checkLegal"

	allowedModes, err := modesForBuild(build)
	if err != nil {
		return err
	}
	if mode&allowedModes == 0 {
		return xfault.Newf(xfault.InvalidArg, errOp, "mode %s is not valid for build type %q", mode, byte(build))
	}

	ops, ok := modeOps[mode]
	if !ok {
		return xfault.Newf(xfault.InvalidArg, errOp, "unrecognized mode %s", mode)
	}
	if op&ops == 0 {
		return xfault.Newf(xfault.InvalidArg, errOp, "operation %s is not valid for mode %s", op, mode)
	}

	return nil
}

// isPrivileged reports whether op requires the network-admin capability
// (spec §4.13: "Privileged operations (add/remove/flush/update)").
func isPrivileged(op wire.Operation) bool {
	return op&(wire.OpAdd|wire.OpUpdate|wire.OpRemove|wire.OpFlush) != 0
}
