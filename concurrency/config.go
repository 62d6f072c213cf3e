/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package concurrency

import (
	"fmt"
	"strings"
	"time"

	"github.com/acronis/go-concurrencylimit/config"
)

const cfgDefaultKeyPrefix = "concurrency"

const (
	cfgKeyKeysPrefix        = "keys.prefix"
	cfgKeyKeysDelimiter     = "keys.delimiter"
	cfgKeySwitchKey         = "switch.key"
	cfgKeySwitchDefaultMode = "switch.defaultMode"
	cfgKeyScanCount         = "scan.count"
	cfgKeyScanMaxRounds     = "scan.maxRounds"
	cfgKeyCleanupEnabled    = "cleanup.enabled"
	cfgKeyCleanupInterval   = "cleanup.interval"
	cfgKeyCleanupMaxRounds  = "cleanup.maxRounds"
)

// Default values.
const (
	DefaultScanCount        = 1000
	DefaultScanMaxRounds    = 1000
	DefaultCleanupInterval  = time.Minute
	DefaultCleanupMaxRounds = 10000
)

// Config represents a set of configuration parameters for the concurrency limiter core.
type Config struct {
	Keys    KeysConfig    `mapstructure:"keys" yaml:"keys" json:"keys"`
	Switch  SwitchConfig  `mapstructure:"switch" yaml:"switch" json:"switch"`
	Scan    ScanConfig    `mapstructure:"scan" yaml:"scan" json:"scan"`
	Cleanup CleanupConfig `mapstructure:"cleanup" yaml:"cleanup" json:"cleanup"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// KeysConfig describes the persisted key layout.
type KeysConfig struct {
	Prefix    string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter" json:"delimiter"`
}

// SwitchConfig describes where the switch state is stored.
type SwitchConfig struct {
	Key         string `mapstructure:"key" yaml:"key" json:"key"`
	DefaultMode Mode   `mapstructure:"defaultMode" yaml:"defaultMode" json:"defaultMode"`
}

// ScanConfig bounds enumeration used for counting leases in slots mode.
type ScanConfig struct {
	Count     int `mapstructure:"count" yaml:"count" json:"count"`
	MaxRounds int `mapstructure:"maxRounds" yaml:"maxRounds" json:"maxRounds"`
}

// CleanupConfig configures the periodic cleanup.
type CleanupConfig struct {
	Enabled   bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Interval  config.TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`
	MaxRounds int                 `mapstructure:"maxRounds" yaml:"maxRounds" json:"maxRounds"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Keys:      KeysConfig{Prefix: DefaultKeyPrefix, Delimiter: DefaultLeaseDelimiter},
		Switch:    SwitchConfig{Key: DefaultSwitchKey, DefaultMode: ModeZset},
		Scan:      ScanConfig{Count: DefaultScanCount, MaxRounds: DefaultScanMaxRounds},
		Cleanup: CleanupConfig{
			Enabled:   true,
			Interval:  config.TimeDuration(DefaultCleanupInterval),
			MaxRounds: DefaultCleanupMaxRounds,
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// KeyLayout returns the key layout described by the configuration.
func (c *Config) KeyLayout() KeyLayout {
	return KeyLayout{Prefix: c.Keys.Prefix, Delimiter: c.Keys.Delimiter}
}

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyKeysPrefix, DefaultKeyPrefix)
	dp.SetDefault(cfgKeyKeysDelimiter, DefaultLeaseDelimiter)
	dp.SetDefault(cfgKeySwitchKey, DefaultSwitchKey)
	dp.SetDefault(cfgKeySwitchDefaultMode, string(ModeZset))
	dp.SetDefault(cfgKeyScanCount, DefaultScanCount)
	dp.SetDefault(cfgKeyScanMaxRounds, DefaultScanMaxRounds)
	dp.SetDefault(cfgKeyCleanupEnabled, true)
	dp.SetDefault(cfgKeyCleanupInterval, DefaultCleanupInterval)
	dp.SetDefault(cfgKeyCleanupMaxRounds, DefaultCleanupMaxRounds)
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Keys.Prefix, err = dp.GetString(cfgKeyKeysPrefix); err != nil {
		return err
	}
	if c.Keys.Prefix == "" {
		return dp.WrapKeyErr(cfgKeyKeysPrefix, fmt.Errorf("cannot be empty"))
	}
	if c.Keys.Delimiter, err = dp.GetString(cfgKeyKeysDelimiter); err != nil {
		return err
	}
	if c.Keys.Delimiter == "" {
		return dp.WrapKeyErr(cfgKeyKeysDelimiter, fmt.Errorf("cannot be empty"))
	}

	if c.Switch.Key, err = dp.GetString(cfgKeySwitchKey); err != nil {
		return err
	}
	if strings.HasPrefix(c.Switch.Key, c.Keys.Prefix) {
		return dp.WrapKeyErr(cfgKeySwitchKey, fmt.Errorf("must not start with keys prefix %q", c.Keys.Prefix))
	}
	var mode string
	if mode, err = dp.GetStringFromSet(cfgKeySwitchDefaultMode,
		[]string{string(ModeZset), string(ModeSlots)}, true); err != nil {
		return err
	}
	c.Switch.DefaultMode = Mode(strings.ToLower(mode))

	if c.Scan.Count, err = dp.GetInt(cfgKeyScanCount); err != nil {
		return err
	}
	if c.Scan.Count <= 0 {
		return dp.WrapKeyErr(cfgKeyScanCount, fmt.Errorf("must be positive"))
	}
	if c.Scan.MaxRounds, err = dp.GetInt(cfgKeyScanMaxRounds); err != nil {
		return err
	}
	if c.Scan.MaxRounds < 0 {
		return dp.WrapKeyErr(cfgKeyScanMaxRounds, fmt.Errorf("cannot be negative"))
	}

	if c.Cleanup.Enabled, err = dp.GetBool(cfgKeyCleanupEnabled); err != nil {
		return err
	}
	var interval time.Duration
	if interval, err = dp.GetDuration(cfgKeyCleanupInterval); err != nil {
		return err
	}
	if c.Cleanup.Enabled && interval <= 0 {
		return dp.WrapKeyErr(cfgKeyCleanupInterval, fmt.Errorf("must be positive"))
	}
	c.Cleanup.Interval = config.TimeDuration(interval)
	if c.Cleanup.MaxRounds, err = dp.GetInt(cfgKeyCleanupMaxRounds); err != nil {
		return err
	}
	if c.Cleanup.MaxRounds < 0 {
		return dp.WrapKeyErr(cfgKeyCleanupMaxRounds, fmt.Errorf("cannot be negative"))
	}

	return nil
}
