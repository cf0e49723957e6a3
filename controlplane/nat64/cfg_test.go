package nat64

import (
	"fmt"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		cfg      string
		expected *Config
	}{
		{
			cfg: `
frag_memory: 16MB
frag_ttl: 2s
sweep_interval: 1s
`,
			expected: &Config{
				FragMemory:    16 * datasize.MB,
				FragTTL:       2 * time.Second,
				SweepInterval: time.Second,
			},
		},
		{
			cfg:      "frag_ttl: 2s\nsweep_interval: 1s",
			expected: &Config{FragTTL: 2 * time.Second, SweepInterval: time.Second},
		},
	}

	for idx, c := range cases {
		t.Run(fmt.Sprintf("case #%d", idx), func(t *testing.T) {
			cfg := &Config{}
			require.NoError(t, yaml.Unmarshal([]byte(c.cfg), cfg))
			require.Equal(t, c.expected, cfg)
		})
	}
}

func TestConfigValidateRejectsZeroFields(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate())

	cases := []struct {
		name string
		cfg  Config
	}{
		{"zero frag memory", Config{FragMemory: 0, FragTTL: time.Second, SweepInterval: time.Second}},
		{"zero frag ttl", Config{FragMemory: datasize.MB, FragTTL: 0, SweepInterval: time.Second}},
		{"zero sweep interval", Config{FragMemory: datasize.MB, FragTTL: time.Second, SweepInterval: 0}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Error(t, c.cfg.Validate())
		})
	}
}

func TestMaxFragBuckets(t *testing.T) {
	cfg := &Config{FragMemory: datasize.ByteSize(avgFragmentBytes * 10)}
	require.Equal(t, 10, cfg.maxFragBuckets())

	tiny := &Config{FragMemory: datasize.ByteSize(1)}
	require.Equal(t, 1, tiny.maxFragBuckets())
}
