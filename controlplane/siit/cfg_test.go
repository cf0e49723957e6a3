package siit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		cfg      string
		expected *Config
	}{
		{
			cfg:      "host_resolve_timeout: 5s",
			expected: &Config{HostResolveTimeout: 5 * time.Second},
		},
		{
			cfg:      "{}",
			expected: &Config{},
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

func TestConfigValidateRejectsZeroTimeout(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.Error(t, (&Config{HostResolveTimeout: 0}).Validate())
}
