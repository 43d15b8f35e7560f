// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// The anonymizer fans filtered events out to the clients headers exchange:
// one copy per (resource, organization), source replaced by its anonymized
// id, internal and restricted keys stripped.
package main

import (
	"github.com/sixgate/sixgate/internal/anonymizer"
	"github.com/sixgate/sixgate/internal/authdb"
	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/logging"
)

func main() {
	cfg, logger, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().Msg("Starting anonymizer")

	ctx, cancel := bootstrap.SignalContext()
	defer cancel()

	db, err := authdb.Open(ctx, cfg.AuthDB)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to auth db")
	}
	defer db.Close()

	reloader, err := authindex.NewReloader(ctx, authdb.NewIndexLoader(db), cfg.AuthIndex.ReloadInterval, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load authorization index")
	}

	wmLogger := logging.Watermill(logger)
	router, err := bootstrap.NewRouter(cfg.Pipeline, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stage router")
	}

	sub, err := broker.NewSubscriber(cfg.Broker, broker.SubscriberOptions{
		Exchange: broker.ExchangeEvent,
		Queue:    broker.QueueAnonymizer,
	}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create subscriber")
	}
	// Subscriber streams are transient: non-persistent delivery, no confirms.
	pub, err := broker.NewPublisher(cfg.Broker, broker.PublisherOptions{
		Exchange:     broker.ExchangeClients,
		ExchangeType: "headers",
		Persistent:   false,
	}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create publisher")
	}

	svc, err := anonymizer.NewService(reloader, router, sub, pub, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create anonymizer")
	}

	tree := bootstrap.NewTree(cfg.Metrics, logger)
	tree.AddStorageService(reloader)
	tree.AddPipelineService(svc)

	if err := bootstrap.Run(ctx, tree, logger); err != nil {
		logging.Fatal().Err(err).Msg("Anonymizer terminated")
	}
}
