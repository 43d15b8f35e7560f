// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Config holds the metrics endpoint settings. An empty ListenAddr disables
// the listener.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`
}

// DefaultConfig returns the metrics defaults: endpoint disabled.
func DefaultConfig() Config {
	return Config{}
}

// Server exposes /metrics over HTTP. Implements suture.Service.
type Server struct {
	cfg    Config
	logger zerolog.Logger
}

// NewServer builds the metrics listener.
func NewServer(cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Serve runs the listener until ctx is cancelled. With no address configured
// it just blocks, so it stays a valid supervised service either way.
func (s *Server) Serve(ctx context.Context) error {
	if s.cfg.ListenAddr == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", s.cfg.ListenAddr).Msg("Metrics endpoint listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String implements fmt.Stringer for suture service naming.
func (s *Server) String() string { return "metrics" }
