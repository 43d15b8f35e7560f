// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// The aggregator deduplicates high-frequency parser output into time-bucketed
// groups, emitting one event per group plus periodic suppression summaries.
package main

import (
	"github.com/sixgate/sixgate/internal/aggregator"
	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/logging"
)

func main() {
	cfg, logger, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().Str("snapshot_path", cfg.Aggregator.SnapshotPath).Msg("Starting aggregator")

	ctx, cancel := bootstrap.SignalContext()
	defer cancel()

	wmLogger := logging.Watermill(logger)
	router, err := bootstrap.NewRouter(cfg.Pipeline, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stage router")
	}

	sub, err := broker.NewSubscriber(cfg.Broker, broker.SubscriberOptions{
		Exchange: broker.ExchangeEvent,
		Queue:    broker.QueueAggregator,
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

	svc, err := aggregator.NewService(cfg.Aggregator, router, sub, pub, logger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create aggregator")
	}

	tree := bootstrap.NewTree(cfg.Metrics, logger)
	tree.AddPipelineService(svc)

	if err := bootstrap.Run(ctx, tree, logger); err != nil {
		logging.Fatal().Err(err).Msg("Aggregator terminated")
	}
}
