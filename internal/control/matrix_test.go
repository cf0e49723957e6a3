package control

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xlat64/xlat64/internal/control/wire"
	"github.com/xlat64/xlat64/internal/xfault"
)

func TestCheckLegalAcceptsGlobalDisplayOnBothBuilds(t *testing.T) {
	require.NoError(t, checkLegal(wire.BuildNAT64, wire.ModeGlobal, wire.OpDisplay))
	require.NoError(t, checkLegal(wire.BuildSIIT, wire.ModeGlobal, wire.OpDisplay))
}

func TestCheckLegalRejectsSessionModeOnSIITBuild(t *testing.T) {
	err := checkLegal(wire.BuildSIIT, wire.ModeSession, wire.OpDisplay)
	require.Error(t, err)
	require.Equal(t, xfault.InvalidArg, err.(*xfault.Error).Kind)
}

func TestCheckLegalRejectsEAMTOnNAT64Build(t *testing.T) {
	err := checkLegal(wire.BuildNAT64, wire.ModeEAMT, wire.OpDisplay)
	require.Error(t, err)
}

func TestCheckLegalRejectsFlushOnBIB(t *testing.T) {
	err := checkLegal(wire.BuildNAT64, wire.ModeBIB, wire.OpFlush)
	require.Error(t, err)
}

func TestCheckLegalRejectsAddOnSession(t *testing.T) {
	err := checkLegal(wire.BuildNAT64, wire.ModeSession, wire.OpAdd)
	require.Error(t, err)
}

func TestCheckLegalAcceptsBIBAddButNotFlush(t *testing.T) {
	require.NoError(t, checkLegal(wire.BuildNAT64, wire.ModeBIB, wire.OpAdd))
	require.Error(t, checkLegal(wire.BuildNAT64, wire.ModeBIB, wire.OpFlush))
}

func TestIsPrivileged(t *testing.T) {
	require.True(t, isPrivileged(wire.OpAdd))
	require.True(t, isPrivileged(wire.OpUpdate))
	require.True(t, isPrivileged(wire.OpRemove))
	require.True(t, isPrivileged(wire.OpFlush))
	require.False(t, isPrivileged(wire.OpDisplay))
	require.False(t, isPrivileged(wire.OpCount))
}
