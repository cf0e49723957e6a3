package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xlat64/xlat64/controlplane/nat64"
	"github.com/xlat64/xlat64/controlplane/siit"
)

func TestConfigValidateFillsDefaultsPerBuild(t *testing.T) {
	cfg := &Config{Build: BuildNAT64}
	require.NoError(t, cfg.Validate())
	require.Equal(t, nat64.DefaultConfig(), cfg.NAT64)
	require.Nil(t, cfg.SIIT)

	cfg = &Config{Build: BuildSIIT}
	require.NoError(t, cfg.Validate())
	require.Equal(t, siit.DefaultConfig(), cfg.SIIT)
	require.Nil(t, cfg.NAT64)
}

func TestConfigValidateRejectsUnknownBuild(t *testing.T) {
	cfg := &Config{Build: "vrf64"}
	require.Error(t, cfg.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xlat64d.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
build: nat64
logging:
  level: info
nat64:
  frag_memory: 16MB
  frag_ttl: 2s
  sweep_interval: 1s
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, BuildNAT64, cfg.Build)
	require.NotNil(t, cfg.NAT64)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
