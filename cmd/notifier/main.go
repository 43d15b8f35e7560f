// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// The notifier sends per-organization scheduled email digests of the counter
// deltas accumulated since the last send, honoring per-org send times and
// the business-day calendar.
package main

import (
	"github.com/sixgate/sixgate/internal/authdb"
	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/counter"
	"github.com/sixgate/sixgate/internal/kvstore"
	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/notifier"
)

func main() {
	cfg, logger, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().
		Str("smtp_host", cfg.Notifier.SMTPHost).
		Str("templates", cfg.Notifier.TemplatesDirPath).
		Msg("Starting notifier")

	ctx, cancel := bootstrap.SignalContext()
	defer cancel()

	rdb, err := kvstore.Open(ctx, cfg.Redis)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to key-value store")
	}
	defer rdb.Close()

	db, err := authdb.Open(ctx, cfg.AuthDB)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to auth db")
	}
	defer db.Close()

	reloader, err := authindex.NewReloader(ctx, authdb.NewIndexLoader(db), cfg.AuthIndex.ReloadInterval, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load authorization index")
	}

	templates, err := notifier.LoadTemplates(cfg.Notifier.TemplatesDirPath, cfg.Notifier.Templates, cfg.Notifier.DefaultLanguage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load digest templates")
	}

	svc, err := notifier.New(
		cfg.Notifier,
		reloader,
		counter.NewStore(rdb),
		notifier.NewStateStore(rdb),
		templates,
		notifier.NewSMTPMailer(cfg.Notifier),
		logger,
	)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create notifier")
	}

	tree := bootstrap.NewTree(cfg.Metrics, logger)
	tree.AddStorageService(reloader)
	tree.AddPipelineService(svc)

	if err := bootstrap.Run(ctx, tree, logger); err != nil {
		logging.Fatal().Err(err).Msg("Notifier terminated")
	}
}
