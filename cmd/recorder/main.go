// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// The recorder stores filtered events canonically in the Event DB,
// deduplicating on (id, time, ip) and applying blacklist lifecycle updates.
package main

import (
	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/eventdb"
	"github.com/sixgate/sixgate/internal/logging"
)

func main() {
	cfg, logger, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().Str("db_path", cfg.EventDB.Path).Msg("Starting recorder")

	ctx, cancel := bootstrap.SignalContext()
	defer cancel()

	db, err := eventdb.Open(ctx, cfg.EventDB)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open event db")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event db")
		}
	}()

	wmLogger := logging.Watermill(logger)
	router, err := bootstrap.NewRouter(cfg.Pipeline, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stage router")
	}

	sub, err := broker.NewSubscriber(cfg.Broker, broker.SubscriberOptions{
		Exchange: broker.ExchangeEvent,
		Queue:    broker.QueueRecorder,
	}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create subscriber")
	}

	svc, err := eventdb.NewRecorderService(db, router, sub, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create recorder")
	}

	tree := bootstrap.NewTree(cfg.Metrics, logger)
	tree.AddPipelineService(svc)

	if err := bootstrap.Run(ctx, tree, logger); err != nil {
		logging.Fatal().Err(err).Msg("Recorder terminated")
	}
}
