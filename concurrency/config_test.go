/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/acronis/go-concurrencylimit/config"
)

func TestConfig(t *testing.T) {
	tests := []struct {
		name        string
		cfgDataType config.DataType
		cfgData     string
		expectedCfg func() *Config
	}{
		{
			name:        "defaults",
			cfgDataType: config.DataTypeYAML,
			cfgData:     `concurrency: {}`,
			expectedCfg: NewDefaultConfig,
		},
		{
			name:        "yaml config",
			cfgDataType: config.DataTypeYAML,
			cfgData: `
concurrency:
  keys:
    prefix: "limiter:"
    delimiter: "|lease|"
  switch:
    key: limiter_switch
    defaultMode: SLOTS
  scan:
    count: 200
    maxRounds: 0
  cleanup:
    interval: 30s
    maxRounds: 50
`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Keys = KeysConfig{Prefix: "limiter:", Delimiter: "|lease|"}
				cfg.Switch = SwitchConfig{Key: "limiter_switch", DefaultMode: ModeSlots}
				cfg.Scan = ScanConfig{Count: 200, MaxRounds: 0}
				cfg.Cleanup.Interval = config.TimeDuration(30 * time.Second)
				cfg.Cleanup.MaxRounds = 50
				return cfg
			},
		},
		{
			name:        "json config",
			cfgDataType: config.DataTypeJSON,
			cfgData:     `{"concurrency": {"cleanup": {"enabled": false, "interval": 0}}}`,
			expectedCfg: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Cleanup.Enabled = false
				cfg.Cleanup.Interval = 0
				return cfg
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(tt.cfgData), tt.cfgDataType, cfg)
			require.NoError(t, err)
			require.Equal(t, tt.expectedCfg(), cfg)
		})
	}
}

func TestConfigErrors(t *testing.T) {
	tests := []struct {
		name        string
		cfgData     string
		expectedErr string
	}{
		{
			name:        "empty prefix",
			cfgData:     "concurrency:\n  keys:\n    prefix: \"\"",
			expectedErr: "concurrency.keys.prefix: cannot be empty",
		},
		{
			name:        "switch key inside tracking namespace",
			cfgData:     "concurrency:\n  switch:\n    key: \"concurrency:switch\"",
			expectedErr: `concurrency.switch.key: must not start with keys prefix "concurrency:"`,
		},
		{
			name:        "unknown mode",
			cfgData:     "concurrency:\n  switch:\n    defaultMode: hash",
			expectedErr: "concurrency.switch.defaultMode: unknown value \"hash\"",
		},
		{
			name:        "non-positive scan count",
			cfgData:     "concurrency:\n  scan:\n    count: 0",
			expectedErr: "concurrency.scan.count: must be positive",
		},
		{
			name:        "negative cleanup rounds",
			cfgData:     "concurrency:\n  cleanup:\n    maxRounds: -1",
			expectedErr: "concurrency.cleanup.maxRounds: cannot be negative",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewDefaultLoader("").LoadFromReader(bytes.NewBufferString(tt.cfgData), config.DataTypeYAML, cfg)
			require.ErrorContains(t, err, tt.expectedErr)
		})
	}
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := NewDefaultConfig()
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	var decoded Config
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	decoded.keyPrefix = cfgDefaultKeyPrefix
	require.Equal(t, cfg, &decoded)
	require.Equal(t, DefaultKeyLayout(), decoded.KeyLayout())
}
