package nat64

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xlat64/xlat64/internal/addr"
	"github.com/xlat64/xlat64/internal/pool4"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func TestNewModuleBuildsTables(t *testing.T) {
	m, err := NewModule(DefaultConfig(), testLogger())
	require.NoError(t, err)
	require.NotNil(t, m.Processor)
	require.NotNil(t, m.Dispatcher)
}

func TestPoolContains(t *testing.T) {
	m, err := NewModule(DefaultConfig(), testLogger())
	require.NoError(t, err)

	require.NoError(t, m.pool4.Add(pool4.Entry{
		Prefix: addr.MustNew4("192.0.2.0/24"),
		Ports:  pool4.PortRange{Lo: 1024, Hi: 65535},
	}))

	require.True(t, m.poolContains(netip.MustParseAddr("192.0.2.17")))
	require.False(t, m.poolContains(netip.MustParseAddr("203.0.113.1")))
}

func TestSweepDoesNotPanicOnEmptyTables(t *testing.T) {
	m, err := NewModule(DefaultConfig(), testLogger())
	require.NoError(t, err)
	m.sweep()
}
