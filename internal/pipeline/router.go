// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package pipeline provides the consumer-loop base shared by every stage:
// a Watermill router with panic recovery and bounded in-process retry,
// record decoding, ack/nack mapping and graceful shutdown.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// RouterConfig holds configuration for the stage router.
type RouterConfig struct {
	// CloseTimeout is how long to wait for in-flight handlers on shutdown.
	CloseTimeout time.Duration

	// Bounded in-process retry for transient failures. After the retries
	// are exhausted the message is nacked; the subscriber is configured
	// not to requeue, so the broker drops or dead-letters it.
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: time.Second,
		RetryMaxInterval:     time.Minute,
		RetryMultiplier:      2.0,
	}
}

// Router wraps the Watermill router with the stage middleware chain.
type Router struct {
	router *message.Router
	logger watermill.LoggerAdapter
}

// NewRouter creates the stage router with recoverer and retry middleware.
func NewRouter(cfg RouterConfig, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}
	wmRouter, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	return &Router{router: wmRouter, logger: logger}, nil
}

// AddConsumerHandler registers a no-output handler for one binding pattern.
// Stages publish explicitly from inside their handlers, so per-message
// routing keys are possible.
func (r *Router) AddConsumerHandler(name, bindingKey string, sub message.Subscriber, h message.NoPublishHandlerFunc) {
	r.router.AddNoPublisherHandler(name, bindingKey, sub, h)
}

// Run starts the router and blocks until context cancellation or Close.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel that closes once the router is consuming.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close gracefully stops the router, waiting up to CloseTimeout.
func (r *Router) Close() error {
	return r.router.Close()
}
