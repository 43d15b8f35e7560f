// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// The comparator diffs whole-blacklist series against the previously
// remembered state of each source and emits bl-new/-update/-change/-delist/
// -expire lifecycle events.
package main

import (
	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/comparator"
	"github.com/sixgate/sixgate/internal/logging"
)

func main() {
	cfg, logger, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().Str("snapshot_path", cfg.Comparator.SnapshotPath).Msg("Starting comparator")

	ctx, cancel := bootstrap.SignalContext()
	defer cancel()

	wmLogger := logging.Watermill(logger)
	router, err := bootstrap.NewRouter(cfg.Pipeline, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stage router")
	}

	sub, err := broker.NewSubscriber(cfg.Broker, broker.SubscriberOptions{
		Exchange: broker.ExchangeEvent,
		Queue:    broker.QueueComparator,
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

	svc, err := comparator.NewService(cfg.Comparator, router, sub, pub, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create comparator")
	}

	tree := bootstrap.NewTree(cfg.Metrics, logger)
	tree.AddPipelineService(svc)

	if err := bootstrap.Run(ctx, tree, logger); err != nil {
		logging.Fatal().Err(err).Msg("Comparator terminated")
	}
}
