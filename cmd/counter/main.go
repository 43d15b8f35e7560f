// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// The counter enumerates the receiving organizations of each filtered event
// and increments their persistent per-category counters, which the notifier
// reads on its schedule.
package main

import (
	"github.com/sixgate/sixgate/internal/authdb"
	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/counter"
	"github.com/sixgate/sixgate/internal/kvstore"
	"github.com/sixgate/sixgate/internal/logging"
)

func main() {
	cfg, logger, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().Msg("Starting counter")

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

	wmLogger := logging.Watermill(logger)
	router, err := bootstrap.NewRouter(cfg.Pipeline, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stage router")
	}

	sub, err := broker.NewSubscriber(cfg.Broker, broker.SubscriberOptions{
		Exchange: broker.ExchangeEvent,
		Queue:    broker.QueueCounter,
	}, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create subscriber")
	}

	svc, err := counter.NewService(counter.NewStore(rdb), reloader, router, sub, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create counter")
	}

	tree := bootstrap.NewTree(cfg.Metrics, logger)
	tree.AddStorageService(reloader)
	tree.AddPipelineService(svc)

	if err := bootstrap.Run(ctx, tree, logger); err != nil {
		logging.Fatal().Err(err).Msg("Counter terminated")
	}
}
