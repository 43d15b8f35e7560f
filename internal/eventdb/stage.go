// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package eventdb

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// NewRecorderService builds the recorder pipeline stage: it consumes
// filtered events and persists them, producing no broker output.
func NewRecorderService(db *DB, router *pipeline.Router, sub message.Subscriber, logger zerolog.Logger) (*pipeline.Stage, error) {
	rec := NewRecorder(db, logger)
	return pipeline.NewStage(pipeline.StageOptions{
		Name:     "recorder",
		Router:   router,
		Sub:      sub,
		Pub:      noopPublisher{},
		Bindings: broker.RecorderBindings,
		Handler:  rec.Handle,
		Logger:   logger,
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
}

// Handle persists one filtered event. Storage errors nack the message so a
// transient DB failure redelivers; envelope-level defects drop it.
func (r *Recorder) Handle(ctx context.Context, rec *record.Record) ([]pipeline.Publication, error) {
	if err := rec.Validate(); err != nil {
		return nil, pipeline.Permanent("input_shape", err)
	}
	if err := r.Store(ctx, rec); err != nil {
		return nil, err
	}
	return nil, nil
}

// noopPublisher satisfies the stage wiring for sink stages.
type noopPublisher struct{}

func (noopPublisher) Publish(string, ...*message.Message) error { return nil }
func (noopPublisher) Close() error                              { return nil }
