// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// The filter stamps enriched events with the client org-ids whose inside
// zone the event concerns, using the periodically reloaded authorization
// index.
package main

import (
	"github.com/sixgate/sixgate/internal/authdb"
	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/filter"
	"github.com/sixgate/sixgate/internal/logging"
)

func main() {
	cfg, logger, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().Msg("Starting filter")

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
		Queue:    broker.QueueFilter,
	}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create subscriber")
	}
	pub, err := broker.NewPublisher(cfg.Broker, broker.PublisherOptions{
		Exchange:        broker.ExchangeEvent,
		Persistent:      true,
		ConfirmDelivery: true,
	}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create publisher")
	}

	svc, err := filter.NewService(reloader, router, sub, pub, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create filter")
	}

	tree := bootstrap.NewTree(cfg.Metrics, logger)
	tree.AddStorageService(reloader)
	tree.AddPipelineService(svc)

	if err := bootstrap.Run(ctx, tree, logger); err != nil {
		logging.Fatal().Err(err).Msg("Filter terminated")
	}
}
