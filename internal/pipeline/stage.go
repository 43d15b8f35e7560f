// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package pipeline

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/metrics"
	"github.com/sixgate/sixgate/internal/record"
)

// Publication is one outgoing message produced by a stage handler.
type Publication struct {
	// RoutingKey is the AMQP routing key (the watermill topic).
	RoutingKey string
	Body       []byte
	// Metadata is carried as AMQP headers.
	Metadata map[string]string
}

// RecordHandler processes one canonical record and returns the publications
// it produces. Returning a PermanentError drops the input (ack, log, count);
// any other error nacks it for redelivery handling.
type RecordHandler func(ctx context.Context, rec *record.Record) ([]Publication, error)

// Stage is a single-queue cooperative consumer: one subscriber, one handler,
// zero or one output publisher. It implements suture.Service.
type Stage struct {
	name     string
	router   *Router
	sub      message.Subscriber
	pub      message.Publisher
	bindings []string
	handle   RecordHandler
	logger   zerolog.Logger

	// onStop runs after the consume loop exits, before Serve returns.
	// Stages use it to persist snapshots on shutdown.
	onStop func(ctx context.Context) error
}

// StageOptions bundles the stage wiring.
type StageOptions struct {
	Name     string
	Router   *Router
	Sub      message.Subscriber
	Pub      message.Publisher
	Bindings []string
	Handler  RecordHandler
	Logger   zerolog.Logger
	OnStop   func(ctx context.Context) error
}

// NewStage registers a consumer handler for every binding pattern.
func NewStage(opts StageOptions) (*Stage, error) {
	if opts.Name == "" || opts.Router == nil || opts.Sub == nil || opts.Handler == nil {
		return nil, fmt.Errorf("stage %q: incomplete wiring", opts.Name)
	}
	s := &Stage{
		name:     opts.Name,
		router:   opts.Router,
		sub:      opts.Sub,
		pub:      opts.Pub,
		bindings: opts.Bindings,
		handle:   opts.Handler,
		logger:   opts.Logger.With().Str("component", opts.Name).Logger(),
		onStop:   opts.OnStop,
	}
	for i, binding := range s.bindings {
		s.router.AddConsumerHandler(
			fmt.Sprintf("%s-%d", s.name, i),
			binding,
			s.sub,
			s.consume,
		)
	}
	return s, nil
}

// consume decodes the wire record, runs the handler and publishes its output.
func (s *Stage) consume(msg *message.Message) error {
	rec, err := record.FromJSON(msg.Payload)
	if err != nil {
		s.logger.Error().Err(err).Str("message_uuid", msg.UUID).Msg("Malformed input dropped")
		metrics.DropsTotal.WithLabelValues(s.name, "input_shape").Inc()
		metrics.EventsTotal.WithLabelValues(s.name, "dropped").Inc()
		return nil // ack: the same input will always fail
	}

	pubs, err := s.handle(msg.Context(), rec)
	if err != nil {
		if IsPermanent(err) {
			s.logger.Error().
				Err(err).
				Str("source", rec.Source()).
				Str("event_id", rec.ID()).
				Msg("Event dropped")
			metrics.DropsTotal.WithLabelValues(s.name, DropReason(err)).Inc()
			metrics.EventsTotal.WithLabelValues(s.name, "dropped").Inc()
			return nil
		}
		return err
	}

	for i, p := range pubs {
		out := message.NewMessage(uuid.NewString(), p.Body)
		for k, v := range p.Metadata {
			out.Metadata.Set(k, v)
		}
		if err := s.pub.Publish(p.RoutingKey, out); err != nil {
			metrics.PublishFailures.WithLabelValues(s.name, p.RoutingKey).Inc()
			// Partial progress matters for fan-out stages: on redelivery
			// the already-published copies will be sent again.
			s.logger.Error().
				Err(err).
				Str("routing_key", p.RoutingKey).
				Fields(map[string]any{"headers": p.Metadata}).
				Int("published", i).
				Int("pending", len(pubs)-i).
				Msg("Publish failed mid-fanout")
			return fmt.Errorf("publish %q: %w", p.RoutingKey, err)
		}
	}

	if len(pubs) == 0 {
		metrics.EventsTotal.WithLabelValues(s.name, "suppressed").Inc()
	} else {
		metrics.EventsTotal.WithLabelValues(s.name, "published").Inc()
	}
	return nil
}

// Serve runs the consume loop until ctx is cancelled, then drains in-flight
// work and runs the stage's shutdown hook.
func (s *Stage) Serve(ctx context.Context) error {
	s.logger.Info().Strs("bindings", s.bindings).Msg("Stage starting")
	err := s.router.Run(ctx)
	if s.onStop != nil {
		// Shutdown hook gets a fresh context: the serve context is
		// already cancelled.
		stopCtx := context.Background()
		if hookErr := s.onStop(stopCtx); hookErr != nil {
			s.logger.Error().Err(hookErr).Msg("Stage shutdown hook failed")
		}
	}
	s.logger.Info().Msg("Stage stopped")
	return err
}

// String implements fmt.Stringer for suture service naming.
func (s *Stage) String() string { return s.name }
