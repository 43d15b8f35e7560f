// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package opsconf

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderStage(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderStage(&buf, DefaultConfig(), "aggregator"); err != nil {
		t.Fatalf("RenderStage: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"[program:sixgate-aggregator]",
		"command=/usr/local/bin/sixgate-aggregator",
		"user=sixgate",
		"autorestart=true",
		"stopwaitsecs=30",
		"stdout_logfile=/var/log/sixgate/aggregator.log",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("section missing %q:\n%s", want, out)
		}
	}
}

func TestRender_AllStagesByDefault(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, DefaultConfig()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, stage := range Stages {
		if !strings.Contains(out, "[program:sixgate-"+stage+"]") {
			t.Errorf("stage %s missing from output", stage)
		}
	}
}

func TestRender_SelectedStagesOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stages = []string{"notifier"}

	var buf bytes.Buffer
	if err := Render(&buf, cfg); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "[program:sixgate-notifier]") {
		t.Error("selected stage missing")
	}
	if strings.Contains(out, "[program:sixgate-aggregator]") {
		t.Error("unselected stage rendered")
	}
}

func TestRender_UnknownStageRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stages = []string{"collector"}
	if err := Render(&bytes.Buffer{}, cfg); err == nil {
		t.Error("Expected error for unknown stage")
	}
}

func TestWriteDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stages = []string{"recorder", "counter"}
	dir := filepath.Join(t.TempDir(), "conf.d")

	if err := WriteDir(dir, cfg); err != nil {
		t.Fatalf("WriteDir: %v", err)
	}

	for _, stage := range cfg.Stages {
		data, err := os.ReadFile(filepath.Join(dir, stage+".conf"))
		if err != nil {
			t.Fatalf("read %s.conf: %v", stage, err)
		}
		if !strings.Contains(string(data), "[program:sixgate-"+stage+"]") {
			t.Errorf("%s.conf has wrong section header", stage)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d files, want 2", len(entries))
	}
}
