// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package filter resolves inside-zone visibility: it stamps each enriched
// event with the client org-ids whose own networks the event concerns, then
// republishes it at the filtered stage for the anonymizer, recorder and
// counter.
package filter

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// IndexProvider yields the live authorization snapshot.
type IndexProvider interface {
	Current() *authindex.Index
}

// Filter stamps events with their inside-zone client list.
type Filter struct {
	index  IndexProvider
	logger zerolog.Logger
}

// NewFilter wires the live authorization index.
func NewFilter(index IndexProvider, logger zerolog.Logger) *Filter {
	return &Filter{
		index:  index,
		logger: logger.With().Str("component", "filter").Logger(),
	}
}

// Handle resolves the inside zone and republishes at the filtered stage.
// Events with no inside clients still flow on: the threats zone and the
// recorder are resolved downstream.
func (f *Filter) Handle(_ context.Context, rec *record.Record) ([]pipeline.Publication, error) {
	clients := f.index.Current().Resolve(rec, authindex.ZoneInside)
	if len(clients) > 0 {
		if err := f.setClients(rec, clients); err != nil {
			return nil, err
		}
	} else {
		rec.Delete("client")
	}

	body, err := rec.ReadyJSON()
	if err != nil {
		return nil, pipeline.Permanent("serialize", err)
	}
	return []pipeline.Publication{{
		RoutingKey: rec.RoutingKey(record.StageFiltered),
		Body:       body,
	}}, nil
}

func (f *Filter) setClients(rec *record.Record, clients []string) error {
	if err := rec.Set("client", clients); err != nil {
		f.logger.Error().
			Err(err).
			Str("event_id", rec.ID()).
			Strs("clients", clients).
			Msg("Resolved client list rejected by envelope")
		return pipeline.Permanent("client_shape", err)
	}
	return nil
}

// NewService builds the filter pipeline stage.
func NewService(index IndexProvider, router *pipeline.Router, sub message.Subscriber, pub message.Publisher, logger zerolog.Logger) (*pipeline.Stage, error) {
	f := NewFilter(index, logger)
	return pipeline.NewStage(pipeline.StageOptions{
		Name:     "filter",
		Router:   router,
		Sub:      sub,
		Pub:      pub,
		Bindings: broker.FilterBindings,
		Handler:  f.Handle,
		Logger:   logger,
	})
}
