// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Host != "localhost" || cfg.Broker.Port != 5672 {
		t.Errorf("broker defaults = %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	if cfg.Aggregator.SnapshotPath == "" {
		t.Error("aggregator snapshot path default missing")
	}
	if cfg.Pipeline.RetryMaxRetries != 3 {
		t.Errorf("retry default = %d", cfg.Pipeline.RetryMaxRetries)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sixgate.yaml")
	content := `
broker:
  host: amqp.internal
  port: 5671
  ssl: true
aggregator:
  time_tolerance: 300s
notifier:
  fromaddr: soc@example.org
  server_smtp_host: mail.internal
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Host != "amqp.internal" || cfg.Broker.Port != 5671 || !cfg.Broker.SSL {
		t.Errorf("broker = %+v", cfg.Broker)
	}
	if cfg.Aggregator.TimeTolerance != 5*time.Minute {
		t.Errorf("time tolerance = %v", cfg.Aggregator.TimeTolerance)
	}
	if cfg.Notifier.FromAddr != "soc@example.org" {
		t.Errorf("fromaddr = %q", cfg.Notifier.FromAddr)
	}
	// Untouched sections keep their defaults.
	if cfg.EventDB.Path == "" {
		t.Error("eventdb default lost")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sixgate.yaml")
	if err := os.WriteFile(path, []byte("broker:\n  host: from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SIXGATE_BROKER_HOST", "from-env")
	t.Setenv("SIXGATE_AGGREGATOR_SNAPSHOT_PATH", "/tmp/agg.json")

	cfg, err := load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Broker.Host != "from-env" {
		t.Errorf("broker host = %q, want env override", cfg.Broker.Host)
	}
	if cfg.Aggregator.SnapshotPath != "/tmp/agg.json" {
		t.Errorf("snapshot path = %q", cfg.Aggregator.SnapshotPath)
	}
}

func TestEnvTransform(t *testing.T) {
	for in, want := range map[string]string{
		"SIXGATE_BROKER_HOST":              "broker.host",
		"SIXGATE_AGGREGATOR_SNAPSHOT_PATH": "aggregator.snapshot_path",
		"SIXGATE_EVENTDB_MAX_MEMORY":       "eventdb.max_memory",
		"SIXGATE_LOGGING_LEVEL":            "logging.level",
	} {
		if got := envTransform(in); got != want {
			t.Errorf("envTransform(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate_RejectsBadConfig(t *testing.T) {
	cfg := Default()
	cfg.Broker.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for port 0")
	}
}
