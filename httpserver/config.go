/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"fmt"
	"time"

	"github.com/acronis/go-concurrencylimit/config"
)

const cfgDefaultKeyPrefix = "server"

const (
	cfgKeyServerAddress                 = "address"
	cfgKeyServerTimeoutsWrite           = "timeouts.write"
	cfgKeyServerTimeoutsRead            = "timeouts.read"
	cfgKeyServerTimeoutsReadHeader      = "timeouts.readHeader"
	cfgKeyServerTimeoutsIdle            = "timeouts.idle"
	cfgKeyServerTimeoutsShutdown        = "timeouts.shutdown"
	cfgKeyServerLimitsMaxBodySize       = "limits.maxBodySize"
	cfgKeyServerConcurrencyEnabled      = "concurrency.enabled"
	cfgKeyServerConcurrencyLimit        = "concurrency.limit"
	cfgKeyServerConcurrencyLeaseTTL     = "concurrency.leaseTTL"
	cfgKeyServerConcurrencyKeyHeader    = "concurrency.keyHeader"
	cfgKeyServerLogRequestStart         = "log.requestStart"
	cfgKeyServerLogExcludedEndpoints    = "log.excludedEndpoints"
	cfgKeyServerLogSlowRequestThreshold = "log.slowRequestThreshold"
)

const (
	defaultServerAddress             = ":8080"
	defaultServerTimeoutsWrite       = time.Minute
	defaultServerTimeoutsRead        = time.Second * 15
	defaultServerTimeoutsReadHeader  = time.Second * 10
	defaultServerTimeoutsIdle        = time.Minute
	defaultServerTimeoutsShutdown    = time.Second * 5
	defaultServerLimitsMaxBodySize   = "1M"
	defaultServerConcurrencyLimit    = 10
	defaultServerConcurrencyLeaseTTL = time.Minute
	defaultServerConcurrencyHeader   = "X-Tenant-ID"
	defaultSlowRequestThreshold      = time.Second
)

// Config represents a set of configuration parameters for HTTPServer.
type Config struct {
	Address     string            `mapstructure:"address" yaml:"address" json:"address"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Limits      LimitsConfig      `mapstructure:"limits" yaml:"limits" json:"limits"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency"`
	Log         LogConfig         `mapstructure:"log" yaml:"log" json:"log"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// TimeoutsConfig represents a set of configuration parameters for HTTPServer relating to timeouts.
type TimeoutsConfig struct {
	Write      config.TimeDuration `mapstructure:"write" yaml:"write" json:"write"`
	Read       config.TimeDuration `mapstructure:"read" yaml:"read" json:"read"`
	ReadHeader config.TimeDuration `mapstructure:"readHeader" yaml:"readHeader" json:"readHeader"`
	Idle       config.TimeDuration `mapstructure:"idle" yaml:"idle" json:"idle"`
	Shutdown   config.TimeDuration `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
}

// LimitsConfig represents a set of configuration parameters for HTTPServer relating to limits.
type LimitsConfig struct {
	MaxBodySize config.ByteSize `mapstructure:"maxBodySize" yaml:"maxBodySize" json:"maxBodySize"`
}

// ConcurrencyConfig configures limiting of concurrent API requests per resource key.
// The resource key is taken from the KeyHeader request header, requests without it are not limited.
type ConcurrencyConfig struct {
	Enabled   bool                `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Limit     int64               `mapstructure:"limit" yaml:"limit" json:"limit"`
	LeaseTTL  config.TimeDuration `mapstructure:"leaseTTL" yaml:"leaseTTL" json:"leaseTTL"`
	KeyHeader string              `mapstructure:"keyHeader" yaml:"keyHeader" json:"keyHeader"`
}

// LogConfig represents a set of configuration parameters for HTTPServer relating to logging.
type LogConfig struct {
	RequestStart         bool                `mapstructure:"requestStart" yaml:"requestStart" json:"requestStart"`
	ExcludedEndpoints    []string            `mapstructure:"excludedEndpoints" yaml:"excludedEndpoints" json:"excludedEndpoints"`
	SlowRequestThreshold config.TimeDuration `mapstructure:"slowRequestThreshold" yaml:"slowRequestThreshold" json:"slowRequestThreshold"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewConfigWithKeyPrefix creates a new instance of the Config with a custom key prefix.
func NewConfigWithKeyPrefix(keyPrefix string) *Config {
	return &Config{keyPrefix: keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	maxBodySize, _ := config.ParseByteSize(defaultServerLimitsMaxBodySize)
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Address:   defaultServerAddress,
		Timeouts: TimeoutsConfig{
			Write:      config.TimeDuration(defaultServerTimeoutsWrite),
			Read:       config.TimeDuration(defaultServerTimeoutsRead),
			ReadHeader: config.TimeDuration(defaultServerTimeoutsReadHeader),
			Idle:       config.TimeDuration(defaultServerTimeoutsIdle),
			Shutdown:   config.TimeDuration(defaultServerTimeoutsShutdown),
		},
		Limits: LimitsConfig{MaxBodySize: maxBodySize},
		Concurrency: ConcurrencyConfig{
			Enabled:   true,
			Limit:     defaultServerConcurrencyLimit,
			LeaseTTL:  config.TimeDuration(defaultServerConcurrencyLeaseTTL),
			KeyHeader: defaultServerConcurrencyHeader,
		},
		Log: LogConfig{SlowRequestThreshold: config.TimeDuration(defaultSlowRequestThreshold)},
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

// SetProviderDefaults sets default configuration values for HTTPServer in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyServerAddress, defaultServerAddress)

	dp.SetDefault(cfgKeyServerTimeoutsWrite, defaultServerTimeoutsWrite)
	dp.SetDefault(cfgKeyServerTimeoutsRead, defaultServerTimeoutsRead)
	dp.SetDefault(cfgKeyServerTimeoutsReadHeader, defaultServerTimeoutsReadHeader)
	dp.SetDefault(cfgKeyServerTimeoutsIdle, defaultServerTimeoutsIdle)
	dp.SetDefault(cfgKeyServerTimeoutsShutdown, defaultServerTimeoutsShutdown)

	dp.SetDefault(cfgKeyServerLimitsMaxBodySize, defaultServerLimitsMaxBodySize)

	dp.SetDefault(cfgKeyServerConcurrencyEnabled, true)
	dp.SetDefault(cfgKeyServerConcurrencyLimit, defaultServerConcurrencyLimit)
	dp.SetDefault(cfgKeyServerConcurrencyLeaseTTL, defaultServerConcurrencyLeaseTTL)
	dp.SetDefault(cfgKeyServerConcurrencyKeyHeader, defaultServerConcurrencyHeader)

	dp.SetDefault(cfgKeyServerLogRequestStart, false)
	dp.SetDefault(cfgKeyServerLogSlowRequestThreshold, defaultSlowRequestThreshold)
}

// Set sets HTTPServer configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyServerAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyServerAddress, fmt.Errorf("cannot be empty"))
	}
	if err = c.Timeouts.Set(dp); err != nil {
		return err
	}
	if c.Limits.MaxBodySize, err = dp.GetByteSize(cfgKeyServerLimitsMaxBodySize); err != nil {
		return err
	}
	if err = c.Concurrency.Set(dp); err != nil {
		return err
	}
	return c.Log.Set(dp)
}

// Set sets timeout server configuration values from config.DataProvider.
func (t *TimeoutsConfig) Set(dp config.DataProvider) error {
	for _, item := range []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyServerTimeoutsWrite, &t.Write},
		{cfgKeyServerTimeoutsRead, &t.Read},
		{cfgKeyServerTimeoutsReadHeader, &t.ReadHeader},
		{cfgKeyServerTimeoutsIdle, &t.Idle},
		{cfgKeyServerTimeoutsShutdown, &t.Shutdown},
	} {
		dur, err := dp.GetDuration(item.key)
		if err != nil {
			return err
		}
		if dur < 0 {
			return dp.WrapKeyErr(item.key, fmt.Errorf("cannot be negative"))
		}
		*item.dst = config.TimeDuration(dur)
	}
	return nil
}

// Set sets concurrency limiting configuration values from config.DataProvider.
func (cc *ConcurrencyConfig) Set(dp config.DataProvider) error {
	var err error

	if cc.Enabled, err = dp.GetBool(cfgKeyServerConcurrencyEnabled); err != nil {
		return err
	}
	var limit int
	if limit, err = dp.GetInt(cfgKeyServerConcurrencyLimit); err != nil {
		return err
	}
	if cc.Enabled && limit <= 0 {
		return dp.WrapKeyErr(cfgKeyServerConcurrencyLimit, fmt.Errorf("must be positive"))
	}
	cc.Limit = int64(limit)

	var ttl time.Duration
	if ttl, err = dp.GetDuration(cfgKeyServerConcurrencyLeaseTTL); err != nil {
		return err
	}
	if cc.Enabled && ttl < time.Millisecond {
		return dp.WrapKeyErr(cfgKeyServerConcurrencyLeaseTTL, fmt.Errorf("must be at least 1ms"))
	}
	cc.LeaseTTL = config.TimeDuration(ttl)

	if cc.KeyHeader, err = dp.GetString(cfgKeyServerConcurrencyKeyHeader); err != nil {
		return err
	}
	if cc.Enabled && cc.KeyHeader == "" {
		return dp.WrapKeyErr(cfgKeyServerConcurrencyKeyHeader, fmt.Errorf("cannot be empty"))
	}
	return nil
}

// Set sets log server configuration values from config.DataProvider.
func (l *LogConfig) Set(dp config.DataProvider) error {
	var err error

	if l.RequestStart, err = dp.GetBool(cfgKeyServerLogRequestStart); err != nil {
		return err
	}
	if l.ExcludedEndpoints, err = dp.GetStringSlice(cfgKeyServerLogExcludedEndpoints); err != nil {
		return err
	}
	var dur time.Duration
	if dur, err = dp.GetDuration(cfgKeyServerLogSlowRequestThreshold); err != nil {
		return err
	}
	l.SlowRequestThreshold = config.TimeDuration(dur)
	return nil
}
