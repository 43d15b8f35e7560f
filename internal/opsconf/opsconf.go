// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package opsconf renders process-manager configuration for the pipeline
// binaries: one supervisord-style [program:<stage>] section per enabled
// stage, written to stdout or one file per stage in a directory.
package opsconf

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/template"
)

// Stages lists the Sixgate binaries in pipeline order.
var Stages = []string{
	"aggregator",
	"comparator",
	"enricher",
	"filter",
	"anonymizer",
	"recorder",
	"counter",
	"notifier",
	"brokerauth",
}

// Config holds the generation settings.
type Config struct {
	// BinDir is where the stage binaries are installed.
	BinDir string `koanf:"bin_dir"`
	// User is the system account the programs run as.
	User string `koanf:"user"`
	// LogDir receives per-stage log files.
	LogDir string `koanf:"log_dir"`
	// Stages selects which programs to render; empty means all.
	Stages []string `koanf:"stages"`
	// StopWaitSecs is how long the process manager waits before SIGKILL.
	// Stages need it to finish snapshot writes on shutdown.
	StopWaitSecs int `koanf:"stop_wait_secs"`
}

// DefaultConfig returns the generation defaults.
func DefaultConfig() Config {
	return Config{
		BinDir:       "/usr/local/bin",
		User:         "sixgate",
		LogDir:       "/var/log/sixgate",
		StopWaitSecs: 30,
	}
}

var programTemplate = template.Must(template.New("program").Parse(
	`[program:sixgate-{{.Stage}}]
command={{.BinDir}}/sixgate-{{.Stage}}
user={{.User}}
autostart=true
autorestart=true
startsecs=5
stopwaitsecs={{.StopWaitSecs}}
stdout_logfile={{.LogDir}}/{{.Stage}}.log
redirect_stderr=true
`))

type programContext struct {
	Stage        string
	BinDir       string
	User         string
	LogDir       string
	StopWaitSecs int
}

// enabledStages resolves the stage selection, rejecting unknown names.
func enabledStages(cfg Config) ([]string, error) {
	if len(cfg.Stages) == 0 {
		return Stages, nil
	}
	known := make(map[string]struct{}, len(Stages))
	for _, s := range Stages {
		known[s] = struct{}{}
	}
	for _, s := range cfg.Stages {
		if _, ok := known[s]; !ok {
			return nil, fmt.Errorf("unknown stage %q", s)
		}
	}
	return cfg.Stages, nil
}

// RenderStage writes one program section.
func RenderStage(w io.Writer, cfg Config, stage string) error {
	return programTemplate.Execute(w, programContext{
		Stage:        stage,
		BinDir:       cfg.BinDir,
		User:         cfg.User,
		LogDir:       cfg.LogDir,
		StopWaitSecs: cfg.StopWaitSecs,
	})
}

// Render writes the sections for every enabled stage, blank-line separated.
func Render(w io.Writer, cfg Config) error {
	stages, err := enabledStages(cfg)
	if err != nil {
		return err
	}
	for i, stage := range stages {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := RenderStage(w, cfg, stage); err != nil {
			return fmt.Errorf("render %s: %w", stage, err)
		}
	}
	return nil
}

// WriteDir writes one <stage>.conf file per enabled stage into dir,
// creating it when missing.
func WriteDir(dir string, cfg Config) error {
	stages, err := enabledStages(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, stage := range stages {
		f, err := os.Create(filepath.Join(dir, stage+".conf"))
		if err != nil {
			return fmt.Errorf("create %s.conf: %w", stage, err)
		}
		if err := RenderStage(f, cfg, stage); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", stage, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s.conf: %w", stage, err)
		}
	}
	return nil
}
