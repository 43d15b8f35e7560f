// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package comparator

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// Config holds the comparator component settings.
type Config struct {
	// SnapshotPath is where remembered blacklists are persisted on shutdown.
	SnapshotPath string `koanf:"snapshot_path" validate:"required"`
}

// DefaultConfig returns the comparator defaults.
func DefaultConfig() Config {
	return Config{SnapshotPath: "/var/lib/sixgate/comparator/state.json"}
}

// Service is the comparator pipeline stage. Implements suture.Service.
type Service struct {
	stage  *pipeline.Stage
	store  *SnapshotStore
	logger zerolog.Logger

	mu   sync.Mutex
	comp *Comparator
}

// NewService restores state from the snapshot and wires the stage to the
// blacklist-series bindings.
func NewService(cfg Config, router *pipeline.Router, sub message.Subscriber, pub message.Publisher, logger zerolog.Logger) (*Service, error) {
	store, err := NewSnapshotStore(cfg.SnapshotPath, logger)
	if err != nil {
		return nil, fmt.Errorf("comparator snapshot store: %w", err)
	}

	s := &Service{
		store:  store,
		logger: logger.With().Str("component", "comparator").Logger(),
		comp:   NewComparator(store.Load(), logger),
	}

	stage, err := pipeline.NewStage(pipeline.StageOptions{
		Name:     "comparator",
		Router:   router,
		Sub:      sub,
		Pub:      pub,
		Bindings: broker.ComparatorBindings,
		Handler:  s.handle,
		Logger:   logger,
		OnStop:   s.persist,
	})
	if err != nil {
		return nil, err
	}
	s.stage = stage
	return s, nil
}

// handle feeds one series record to the comparator; a completed series comes
// back as a batch of lifecycle events that re-enter the flow at the parsed
// stage.
func (s *Service) handle(_ context.Context, rec *record.Record) ([]pipeline.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, err := s.comp.Process(rec)
	if err != nil {
		return nil, err
	}

	pubs := make([]pipeline.Publication, 0, len(events))
	for _, ev := range events {
		body, err := ev.ReadyJSON()
		if err != nil {
			return nil, fmt.Errorf("serialize lifecycle event: %w", err)
		}
		pubs = append(pubs, pipeline.Publication{
			RoutingKey: ev.RoutingKey(record.StageParsed),
			Body:       body,
		})
	}
	return pubs, nil
}

// Serve runs the stage until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	return s.stage.Serve(ctx)
}

// persist snapshots the remembered blacklists on shutdown.
func (s *Service) persist(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Save(s.comp.State())
}

// String implements fmt.Stringer for suture service naming.
func (s *Service) String() string { return "comparator" }
