// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// Config holds the aggregator component settings.
type Config struct {
	// SnapshotPath is where pending aggregates are persisted on shutdown.
	SnapshotPath string `koanf:"snapshot_path" validate:"required"`
	// TimeTolerance is the out-of-order slack window in seconds.
	TimeTolerance time.Duration `koanf:"time_tolerance"`
	// TickInterval overrides the inactivity-check cadence (tests only).
	TickInterval time.Duration `koanf:"tick_interval"`
}

// DefaultConfig returns the aggregator defaults.
func DefaultConfig() Config {
	return Config{
		SnapshotPath:  "/var/lib/sixgate/aggregator/state.json",
		TimeTolerance: DefaultTimeTolerance,
		TickInterval:  TickInterval,
	}
}

// Service is the aggregator pipeline stage plus its inactivity ticker.
// Implements suture.Service.
type Service struct {
	stage  *pipeline.Stage
	pub    message.Publisher
	store  *SnapshotStore
	logger zerolog.Logger
	tick   time.Duration

	mu   sync.Mutex
	proc *Processor
}

// NewService restores state from the snapshot and wires the stage to the
// hifreq bindings.
func NewService(cfg Config, router *pipeline.Router, sub message.Subscriber, pub message.Publisher, logger zerolog.Logger) (*Service, error) {
	store, err := NewSnapshotStore(cfg.SnapshotPath, logger)
	if err != nil {
		return nil, fmt.Errorf("aggregator snapshot store: %w", err)
	}

	tick := cfg.TickInterval
	if tick <= 0 {
		tick = TickInterval
	}

	s := &Service{
		pub:    pub,
		store:  store,
		logger: logger.With().Str("component", "aggregator").Logger(),
		tick:   tick,
		proc:   NewProcessor(store.Load(), cfg.TimeTolerance, logger),
	}

	stage, err := pipeline.NewStage(pipeline.StageOptions{
		Name:     "aggregator",
		Router:   router,
		Sub:      sub,
		Pub:      pub,
		Bindings: broker.AggregatorBindings,
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

// handle feeds one hifreq event to the processor and maps its decisions to
// publications.
func (s *Service) handle(_ context.Context, rec *record.Record) ([]pipeline.Publication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	first, suppressed, err := s.proc.Process(rec)
	if err != nil {
		return nil, err
	}

	var pubs []pipeline.Publication
	if first != nil {
		p, err := publicationFor(first)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	for _, sup := range suppressed {
		p, err := publicationFor(sup)
		if err != nil {
			return nil, err
		}
		pubs = append(pubs, p)
	}
	return pubs, nil
}

// publicationFor serializes an output record at the aggregated stage.
func publicationFor(rec *record.Record) (pipeline.Publication, error) {
	body, err := rec.ReadyJSON()
	if err != nil {
		return pipeline.Publication{}, fmt.Errorf("serialize aggregated event: %w", err)
	}
	return pipeline.Publication{
		RoutingKey: rec.RoutingKey(record.StageAggregated),
		Body:       body,
	}, nil
}

// Serve runs the stage and the inactivity ticker until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	tickCtx, cancelTick := context.WithCancel(ctx)
	defer cancelTick()
	go s.tickLoop(tickCtx)
	return s.stage.Serve(ctx)
}

// tickLoop periodically flushes sources that stopped sending.
func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.flushInactive()
		}
	}
}

func (s *Service) flushInactive() {
	s.mu.Lock()
	suppressed := s.proc.FlushInactive()
	s.mu.Unlock()

	for _, sup := range suppressed {
		p, err := publicationFor(sup)
		if err != nil {
			s.logger.Error().Err(err).Msg("Inactivity flush: cannot serialize summary")
			continue
		}
		msg := message.NewMessage(uuid.NewString(), p.Body)
		if err := s.pub.Publish(p.RoutingKey, msg); err != nil {
			s.logger.Error().Err(err).Str("routing_key", p.RoutingKey).Msg("Inactivity flush: publish failed")
		}
	}
}

// persist snapshots the processor state on shutdown.
func (s *Service) persist(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Save(s.proc.State())
}

// String implements fmt.Stringer for suture service naming.
func (s *Service) String() string { return "aggregator" }
