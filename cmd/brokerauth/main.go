// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// The brokerauth service answers the AMQP broker's HTTP auth-backend
// protocol from the Auth DB: user, vhost, resource and topic decisions.
package main

import (
	"github.com/sixgate/sixgate/internal/authdb"
	"github.com/sixgate/sixgate/internal/bootstrap"
	"github.com/sixgate/sixgate/internal/brokerauth"
	"github.com/sixgate/sixgate/internal/logging"
)

func main() {
	cfg, logger, err := bootstrap.Init()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Info().Str("listen_addr", cfg.BrokerAuth.ListenAddr).Msg("Starting broker-auth service")

	ctx, cancel := bootstrap.SignalContext()
	defer cancel()

	db, err := authdb.Open(ctx, cfg.AuthDB)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect to auth db")
	}
	defer db.Close()

	srv := brokerauth.NewServer(cfg.BrokerAuth, brokerauth.NewDBManagerFactory(db), logger)

	tree := bootstrap.NewTree(cfg.Metrics, logger)
	tree.AddAPIService(srv)

	if err := bootstrap.Run(ctx, tree, logger); err != nil {
		logging.Fatal().Err(err).Msg("Broker-auth service terminated")
	}
}
