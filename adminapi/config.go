/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package adminapi

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/acronis/go-concurrencylimit/concurrency"
	"github.com/acronis/go-concurrencylimit/config"
)

const cfgDefaultKeyPrefix = "admin"

const (
	cfgKeyScanAllowedPatterns = "scan.allowedPatterns"
	cfgKeyScanDefaultCount    = "scan.defaultCount"
	cfgKeyScanMaxCount        = "scan.maxCount"
	cfgKeySwitchMaxFreeze     = "switch.maxFreeze"
)

// Default values.
const (
	DefaultScanDefaultCount = 100
	DefaultScanMaxCount     = 1000
	DefaultMaxFreeze        = time.Hour
)

// DefaultScanAllowedPatterns allows inspecting only the keys of the concurrency limiter.
var DefaultScanAllowedPatterns = []string{concurrency.DefaultKeyPrefix + "*"}

// Config represents a set of configuration parameters for the admin API.
type Config struct {
	Scan   ScanConfig   `mapstructure:"scan" yaml:"scan" json:"scan"`
	Switch SwitchConfig `mapstructure:"switch" yaml:"switch" json:"switch"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ScanConfig bounds the keyspace inspection endpoint.
// A requested pattern is served only if it matches one of AllowedPatterns (globs).
type ScanConfig struct {
	AllowedPatterns []string `mapstructure:"allowedPatterns" yaml:"allowedPatterns" json:"allowedPatterns"`
	DefaultCount    int      `mapstructure:"defaultCount" yaml:"defaultCount" json:"defaultCount"`
	MaxCount        int      `mapstructure:"maxCount" yaml:"maxCount" json:"maxCount"`
}

// SwitchConfig bounds freeze durations requested by operators.
type SwitchConfig struct {
	MaxFreeze config.TimeDuration `mapstructure:"maxFreeze" yaml:"maxFreeze" json:"maxFreeze"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Scan: ScanConfig{
			AllowedPatterns: append([]string(nil), DefaultScanAllowedPatterns...),
			DefaultCount:    DefaultScanDefaultCount,
			MaxCount:        DefaultScanMaxCount,
		},
		Switch: SwitchConfig{MaxFreeze: config.TimeDuration(DefaultMaxFreeze)},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyScanAllowedPatterns, DefaultScanAllowedPatterns)
	dp.SetDefault(cfgKeyScanDefaultCount, DefaultScanDefaultCount)
	dp.SetDefault(cfgKeyScanMaxCount, DefaultScanMaxCount)
	dp.SetDefault(cfgKeySwitchMaxFreeze, DefaultMaxFreeze)
}

// Set sets configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var patterns []string
	err := dp.UnmarshalKey(cfgKeyScanAllowedPatterns, &patterns,
		config.WithDecodeHook(mapstructure.StringToSliceHookFunc(",")))
	if err != nil {
		return err
	}
	for _, p := range patterns {
		if p == "" {
			return dp.WrapKeyErr(cfgKeyScanAllowedPatterns, fmt.Errorf("pattern cannot be empty"))
		}
	}
	c.Scan.AllowedPatterns = patterns

	if c.Scan.MaxCount, err = dp.GetInt(cfgKeyScanMaxCount); err != nil {
		return err
	}
	if c.Scan.MaxCount <= 0 {
		return dp.WrapKeyErr(cfgKeyScanMaxCount, fmt.Errorf("must be positive"))
	}
	if c.Scan.DefaultCount, err = dp.GetInt(cfgKeyScanDefaultCount); err != nil {
		return err
	}
	if c.Scan.DefaultCount <= 0 || c.Scan.DefaultCount > c.Scan.MaxCount {
		return dp.WrapKeyErr(cfgKeyScanDefaultCount, fmt.Errorf("must be in range [1, %d]", c.Scan.MaxCount))
	}

	var maxFreeze time.Duration
	if maxFreeze, err = dp.GetDuration(cfgKeySwitchMaxFreeze); err != nil {
		return err
	}
	if maxFreeze <= 0 {
		return dp.WrapKeyErr(cfgKeySwitchMaxFreeze, fmt.Errorf("must be positive"))
	}
	c.Switch.MaxFreeze = config.TimeDuration(maxFreeze)

	return nil
}
