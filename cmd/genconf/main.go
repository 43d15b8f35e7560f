// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// genconf renders supervisord program sections for the Sixgate pipeline
// binaries: to stdout by default, or one file per stage with -out.
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/opsconf"
)

func main() {
	outDir := flag.String("out", "", "write one <stage>.conf per stage into this directory instead of stdout")
	stages := flag.String("stages", "", "comma-separated stage subset (default: all)")
	flag.Parse()

	cfg, _, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	opsCfg := cfg.Ops
	if *stages != "" {
		opsCfg.Stages = strings.Split(*stages, ",")
	}

	if *outDir != "" {
		if err := opsconf.WriteDir(*outDir, opsCfg); err != nil {
			logging.Fatal().Err(err).Msg("Failed to write program sections")
		}
		return
	}
	if err := opsconf.Render(os.Stdout, opsCfg); err != nil {
		logging.Fatal().Err(err).Msg("Failed to render program sections")
	}
}
