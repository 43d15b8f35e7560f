// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package bootstrap holds the startup plumbing shared by every Sixgate
// binary: configuration loading, logger initialization, signal handling and
// the standard supervision-tree run loop.
package bootstrap

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/config"
	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/metrics"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/supervisor"
)

// Init loads the layered configuration and configures the process logger.
func Init() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	return cfg, logging.Logger(), nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// NewRouter builds the stage router from the pipeline config section.
func NewRouter(cfg config.PipelineConfig, logger zerolog.Logger) (*pipeline.Router, error) {
	return pipeline.NewRouter(pipeline.RouterConfig{
		CloseTimeout:         cfg.CloseTimeout,
		RetryMaxRetries:      cfg.RetryMaxRetries,
		RetryInitialInterval: cfg.RetryInitialInterval,
		RetryMaxInterval:     cfg.RetryMaxInterval,
		RetryMultiplier:      cfg.RetryMultiplier,
	}, logging.Watermill(logger))
}

// NewTree builds the standard supervision tree with the metrics endpoint
// already attached.
func NewTree(cfg metrics.Config, logger zerolog.Logger) *supervisor.Tree {
	tree := supervisor.NewTree(logger, supervisor.DefaultTreeConfig())
	tree.AddAPIService(metrics.NewServer(cfg, logger))
	return tree
}

// Run serves the tree until the context is cancelled. A signal-driven
// shutdown is a clean exit, not an error.
func Run(ctx context.Context, tree *supervisor.Tree, logger zerolog.Logger) error {
	err := tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if unstopped, reportErr := tree.UnstoppedServiceReport(); reportErr == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logger.Warn().Str("service", svc.Name).Msg("Service did not stop within timeout")
		}
	}
	logger.Info().Msg("Shutdown complete")
	return nil
}
