// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package config loads the layered Sixgate configuration: built-in defaults,
// then an optional YAML file, then SIXGATE_-prefixed environment variables.
//
// Every component owns its section struct; this package only assembles and
// validates the whole.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/sixgate/sixgate/internal/aggregator"
	"github.com/sixgate/sixgate/internal/authdb"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/brokerauth"
	"github.com/sixgate/sixgate/internal/comparator"
	"github.com/sixgate/sixgate/internal/enrich"
	"github.com/sixgate/sixgate/internal/eventdb"
	"github.com/sixgate/sixgate/internal/kvstore"
	"github.com/sixgate/sixgate/internal/metrics"
	"github.com/sixgate/sixgate/internal/notifier"
	"github.com/sixgate/sixgate/internal/opsconf"
)

// DefaultConfigPaths lists where the config file is searched, in order.
var DefaultConfigPaths = []string{
	"sixgate.yaml",
	"sixgate.yml",
	"/etc/sixgate/sixgate.yaml",
	"/etc/sixgate/sixgate.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "SIXGATE_CONFIG"

// envPrefix namespaces environment overrides: SIXGATE_BROKER_HOST maps to
// broker.host.
const envPrefix = "SIXGATE_"

// LoggingConfig is the file/env shape of the logging section.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// PipelineConfig is the file/env shape of the stage-router section.
type PipelineConfig struct {
	CloseTimeout         time.Duration `koanf:"close_timeout"`
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	RetryMultiplier      float64       `koanf:"retry_multiplier"`
}

// AuthIndexConfig configures the authorization-index reloader.
type AuthIndexConfig struct {
	ReloadInterval time.Duration `koanf:"reload_interval"`
}

// Config is the full Sixgate configuration.
type Config struct {
	Logging    LoggingConfig     `koanf:"logging"`
	Broker     broker.Config     `koanf:"broker" validate:"required"`
	Pipeline   PipelineConfig    `koanf:"pipeline"`
	Aggregator aggregator.Config `koanf:"aggregator"`
	Comparator comparator.Config `koanf:"comparator"`
	Enricher   enrich.Config     `koanf:"enricher"`
	AuthDB     authdb.Config     `koanf:"authdb"`
	AuthIndex  AuthIndexConfig   `koanf:"authindex"`
	EventDB    eventdb.Config    `koanf:"eventdb"`
	Redis      kvstore.Config    `koanf:"redis"`
	Notifier   notifier.Config   `koanf:"notifier"`
	BrokerAuth brokerauth.Config `koanf:"brokerauth"`
	Metrics    metrics.Config    `koanf:"metrics"`
	Ops        opsconf.Config    `koanf:"ops"`
}

// Default returns the built-in defaults for every section.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Broker: broker.DefaultConfig(),
		Pipeline: PipelineConfig{
			CloseTimeout:         30 * time.Second,
			RetryMaxRetries:      3,
			RetryInitialInterval: 100 * time.Millisecond,
			RetryMaxInterval:     5 * time.Second,
			RetryMultiplier:      2.0,
		},
		Aggregator: aggregator.DefaultConfig(),
		Comparator: comparator.DefaultConfig(),
		Enricher:   enrich.DefaultConfig(),
		AuthDB:     authdb.DefaultConfig(),
		AuthIndex: AuthIndexConfig{
			ReloadInterval: 5 * time.Minute,
		},
		EventDB:    eventdb.DefaultConfig(),
		Redis:      kvstore.DefaultConfig(),
		Notifier:   notifier.DefaultConfig(),
		BrokerAuth: brokerauth.DefaultConfig(),
		Metrics:    metrics.DefaultConfig(),
		Ops:        opsconf.DefaultConfig(),
	}
}

// Load assembles the configuration from defaults, the optional config file
// and the environment, then validates it.
func Load() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile loads from an explicit file path plus environment overrides.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("config environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate runs the struct validation tags of every section.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	return nil
}

// findConfigFile returns the first existing config path.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps SIXGATE_<SECTION>_<KEY> to <section>.<key>. Only the
// first underscore separates the section, so key names keep their own
// underscores: SIXGATE_AGGREGATOR_SNAPSHOT_PATH -> aggregator.snapshot_path.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}
