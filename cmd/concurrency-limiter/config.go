/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"github.com/acronis/go-concurrencylimit/adminapi"
	"github.com/acronis/go-concurrencylimit/concurrency"
	"github.com/acronis/go-concurrencylimit/config"
	"github.com/acronis/go-concurrencylimit/httpserver"
	"github.com/acronis/go-concurrencylimit/log"
	"github.com/acronis/go-concurrencylimit/redisstore"
)

// AppConfig combines configuration sections of the service.
type AppConfig struct {
	Log         *log.Config
	Redis       *redisstore.Config
	Server      *httpserver.Config
	Concurrency *concurrency.Config
	Admin       *adminapi.Config
}

// NewAppConfig creates a new AppConfig with sections bound to their default key prefixes.
func NewAppConfig() *AppConfig {
	return &AppConfig{
		Log:         log.NewConfig(),
		Redis:       redisstore.NewConfig(),
		Server:      httpserver.NewConfig(),
		Concurrency: concurrency.NewConfig(),
		Admin:       adminapi.NewConfig(),
	}
}

func (c *AppConfig) sections() []config.Config {
	return []config.Config{c.Log, c.Redis, c.Server, c.Concurrency, c.Admin}
}

// loadAppConfig loads all sections from the file (if the path is not empty) and the environment variables.
func loadAppConfig(path, envPrefix string) (*AppConfig, error) {
	cfg := NewAppConfig()
	sections := cfg.sections()
	loader := config.NewDefaultLoader(envPrefix)
	if path == "" {
		return cfg, loader.Load(sections[0], sections[1:]...)
	}
	return cfg, loader.LoadFromFile(path, "", sections[0], sections[1:]...)
}
