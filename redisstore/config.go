/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package redisstore

import (
	"fmt"
	"time"

	"github.com/acronis/go-concurrencylimit/config"
)

const cfgDefaultKeyPrefix = "redis"

const (
	cfgKeyAddress                = "address"
	cfgKeyUsername               = "username"
	cfgKeyPassword               = "password" //nolint:gosec // not a credential
	cfgKeyDB                     = "db"
	cfgKeyPoolSize               = "poolSize"
	cfgKeyMinIdleConns           = "minIdleConns"
	cfgKeyTimeoutsDial           = "timeouts.dial"
	cfgKeyTimeoutsRead           = "timeouts.read"
	cfgKeyTimeoutsWrite          = "timeouts.write"
	cfgKeyConnectMaxAttempts     = "connect.maxAttempts"
	cfgKeyConnectInitialInterval = "connect.initialInterval"
	cfgKeyConnectMaxInterval     = "connect.maxInterval"
)

const (
	defaultAddress                = "localhost:6379"
	defaultTimeoutsDial           = time.Second * 5
	defaultTimeoutsRead           = time.Second * 3
	defaultTimeoutsWrite          = time.Second * 3
	defaultConnectMaxAttempts     = 10
	defaultConnectInitialInterval = time.Millisecond * 500
	defaultConnectMaxInterval     = time.Second * 10
)

// Config represents a set of configuration parameters for the Redis client.
type Config struct {
	Address      string         `mapstructure:"address" yaml:"address" json:"address"`
	Username     string         `mapstructure:"username" yaml:"username" json:"username"`
	Password     string         `mapstructure:"password" yaml:"password" json:"-"`
	DB           int            `mapstructure:"db" yaml:"db" json:"db"`
	PoolSize     int            `mapstructure:"poolSize" yaml:"poolSize" json:"poolSize"`
	MinIdleConns int            `mapstructure:"minIdleConns" yaml:"minIdleConns" json:"minIdleConns"`
	Timeouts     TimeoutsConfig `mapstructure:"timeouts" yaml:"timeouts" json:"timeouts"`
	Connect      ConnectConfig  `mapstructure:"connect" yaml:"connect" json:"connect"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// TimeoutsConfig contains timeouts of the Redis connections.
type TimeoutsConfig struct {
	Dial  config.TimeDuration `mapstructure:"dial" yaml:"dial" json:"dial"`
	Read  config.TimeDuration `mapstructure:"read" yaml:"read" json:"read"`
	Write config.TimeDuration `mapstructure:"write" yaml:"write" json:"write"`
}

// ConnectConfig configures retrying of the initial connection check.
type ConnectConfig struct {
	// MaxAttempts is the total number of PING attempts, 1 disables retrying.
	MaxAttempts     int                 `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	InitialInterval config.TimeDuration `mapstructure:"initialInterval" yaml:"initialInterval" json:"initialInterval"`
	MaxInterval     config.TimeDuration `mapstructure:"maxInterval" yaml:"maxInterval" json:"maxInterval"`
}

// NewConfig creates a new instance of the Config.
func NewConfig() *Config {
	return &Config{keyPrefix: cfgDefaultKeyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		keyPrefix: cfgDefaultKeyPrefix,
		Address:   defaultAddress,
		Timeouts: TimeoutsConfig{
			Dial:  config.TimeDuration(defaultTimeoutsDial),
			Read:  config.TimeDuration(defaultTimeoutsRead),
			Write: config.TimeDuration(defaultTimeoutsWrite),
		},
		Connect: ConnectConfig{
			MaxAttempts:     defaultConnectMaxAttempts,
			InitialInterval: config.TimeDuration(defaultConnectInitialInterval),
			MaxInterval:     config.TimeDuration(defaultConnectMaxInterval),
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

// SetProviderDefaults sets default configuration values in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyAddress, defaultAddress)
	dp.SetDefault(cfgKeyDB, 0)
	dp.SetDefault(cfgKeyPoolSize, 0)
	dp.SetDefault(cfgKeyMinIdleConns, 0)
	dp.SetDefault(cfgKeyTimeoutsDial, defaultTimeoutsDial)
	dp.SetDefault(cfgKeyTimeoutsRead, defaultTimeoutsRead)
	dp.SetDefault(cfgKeyTimeoutsWrite, defaultTimeoutsWrite)
	dp.SetDefault(cfgKeyConnectMaxAttempts, defaultConnectMaxAttempts)
	dp.SetDefault(cfgKeyConnectInitialInterval, defaultConnectInitialInterval)
	dp.SetDefault(cfgKeyConnectMaxInterval, defaultConnectMaxInterval)
}

// Set sets configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if c.Address, err = dp.GetString(cfgKeyAddress); err != nil {
		return err
	}
	if c.Address == "" {
		return dp.WrapKeyErr(cfgKeyAddress, fmt.Errorf("cannot be empty"))
	}
	if c.Username, err = dp.GetString(cfgKeyUsername); err != nil {
		return err
	}
	if c.Password, err = dp.GetString(cfgKeyPassword); err != nil {
		return err
	}

	for _, item := range []struct {
		key string
		dst *int
	}{
		{cfgKeyDB, &c.DB},
		{cfgKeyPoolSize, &c.PoolSize},
		{cfgKeyMinIdleConns, &c.MinIdleConns},
	} {
		if *item.dst, err = dp.GetInt(item.key); err != nil {
			return err
		}
		if *item.dst < 0 {
			return dp.WrapKeyErr(item.key, fmt.Errorf("cannot be negative"))
		}
	}

	for _, item := range []struct {
		key string
		dst *config.TimeDuration
	}{
		{cfgKeyTimeoutsDial, &c.Timeouts.Dial},
		{cfgKeyTimeoutsRead, &c.Timeouts.Read},
		{cfgKeyTimeoutsWrite, &c.Timeouts.Write},
		{cfgKeyConnectInitialInterval, &c.Connect.InitialInterval},
		{cfgKeyConnectMaxInterval, &c.Connect.MaxInterval},
	} {
		var dur time.Duration
		if dur, err = dp.GetDuration(item.key); err != nil {
			return err
		}
		if dur < 0 {
			return dp.WrapKeyErr(item.key, fmt.Errorf("cannot be negative"))
		}
		*item.dst = config.TimeDuration(dur)
	}

	if c.Connect.MaxAttempts, err = dp.GetInt(cfgKeyConnectMaxAttempts); err != nil {
		return err
	}
	if c.Connect.MaxAttempts < 1 {
		return dp.WrapKeyErr(cfgKeyConnectMaxAttempts, fmt.Errorf("must be at least 1"))
	}
	return nil
}
