// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package counter

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/anonymizer"
	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// Counter consumes filtered events and feeds the store. A sink stage: it
// publishes nothing.
type Counter struct {
	store  *Store
	index  anonymizer.IndexProvider
	logger zerolog.Logger
}

// NewCounter wires the store and the live authorization index.
func NewCounter(store *Store, index anonymizer.IndexProvider, logger zerolog.Logger) *Counter {
	return &Counter{
		store:  store,
		index:  index,
		logger: logger.With().Str("component", "counter").Logger(),
	}
}

// Handle resolves the event's audience the same way the anonymizer does and
// increments each receiving org's category counter. Store errors nack the
// message; a Redis hiccup redelivers rather than losing counts.
func (c *Counter) Handle(ctx context.Context, rec *record.Record) ([]pipeline.Publication, error) {
	category := rec.Category()
	if category == "" {
		c.logger.Debug().Str("event_id", rec.ID()).Msg("Event without category, not counted")
		return nil, nil
	}
	t, ok := rec.Time()
	if !ok {
		return nil, pipeline.Permanent("input_shape", fmt.Errorf("event without time"))
	}

	idx := c.index.Current()
	orgs := audience(idx, rec)
	if len(orgs) == 0 {
		return nil, nil
	}
	return nil, c.store.Add(ctx, orgs, category, t)
}

// audience is the union of the inside audience (gated by the stamped client
// list) and the threats audience, deduplicated.
func audience(idx *authindex.Index, rec *record.Record) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(orgs []string) {
		for _, org := range orgs {
			if _, dup := seen[org]; dup {
				continue
			}
			seen[org] = struct{}{}
			out = append(out, org)
		}
	}

	inside := idx.Resolve(rec, authindex.ZoneInside)
	if clients := rec.Clients(); len(clients) > 0 {
		allowed := make(map[string]struct{}, len(clients))
		for _, org := range clients {
			allowed[org] = struct{}{}
		}
		gated := inside[:0:0]
		for _, org := range inside {
			if _, ok := allowed[org]; ok {
				gated = append(gated, org)
			}
		}
		add(gated)
	}
	add(idx.Resolve(rec, authindex.ZoneThreats))
	return out
}

// NewService builds the counter pipeline stage.
func NewService(store *Store, index anonymizer.IndexProvider, router *pipeline.Router, sub message.Subscriber, logger zerolog.Logger) (*pipeline.Stage, error) {
	c := NewCounter(store, index, logger)
	return pipeline.NewStage(pipeline.StageOptions{
		Name:     "counter",
		Router:   router,
		Sub:      sub,
		Pub:      noopPublisher{},
		Bindings: broker.CounterBindings,
		Handler:  c.Handle,
		Logger:   logger,
	})
}

type noopPublisher struct{}

func (noopPublisher) Publish(string, ...*message.Message) error { return nil }
func (noopPublisher) Close() error                              { return nil }
