// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package authindex

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/metrics"
)

// Loader builds a fresh snapshot from the Auth DB.
type Loader interface {
	Load(ctx context.Context) (*Index, error)
}

// Reloader owns the current snapshot and swaps it atomically on reload.
// A failed reload keeps the previous snapshot in place.
type Reloader struct {
	loader   Loader
	interval time.Duration
	logger   zerolog.Logger
	current  atomic.Pointer[Index]
}

// NewReloader performs the initial load synchronously so consumers never
// observe a nil index.
func NewReloader(ctx context.Context, loader Loader, interval time.Duration, logger zerolog.Logger) (*Reloader, error) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	r := &Reloader{
		loader:   loader,
		interval: interval,
		logger:   logger.With().Str("component", "authindex").Logger(),
	}
	idx, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial auth index load: %w", err)
	}
	r.current.Store(idx)
	return r, nil
}

// Current returns the live snapshot.
func (r *Reloader) Current() *Index { return r.current.Load() }

// Reload builds and swaps in a new snapshot.
func (r *Reloader) Reload(ctx context.Context) error {
	idx, err := r.loader.Load(ctx)
	if err != nil {
		metrics.AuthIndexReloads.WithLabelValues("error").Inc()
		return err
	}
	r.current.Store(idx)
	metrics.AuthIndexReloads.WithLabelValues("ok").Inc()
	return nil
}

// Serve reloads on the configured interval until ctx is cancelled.
// Implements suture.Service.
func (r *Reloader) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Reload(ctx); err != nil {
				r.logger.Error().Err(err).Msg("Auth index reload failed, keeping previous snapshot")
			} else {
				r.logger.Debug().Msg("Auth index reloaded")
			}
		}
	}
}

// String implements fmt.Stringer for suture service naming.
func (r *Reloader) String() string { return "authindex-reloader" }
