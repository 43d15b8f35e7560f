// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package anonymizer turns filtered events into per-client messages on the
// clients headers exchange: it resolves which organizations may see the
// event in which resource zone, replaces the source with its anonymized
// form, strips internal and restricted keys, and publishes one copy per
// (resource, org) with the target org-id in the n6-client-id header.
package anonymizer

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// Resources a subscriber can receive events under.
const (
	ResourceInside  = "inside"
	ResourceThreats = "threats"
)

// internalKeys never reach subscribers.
var internalKeys = []string{"client", "enriched", "type"}

// restrictedKeys are stripped for organizations without full access.
var restrictedKeys = []string{"rid", "dip"}

// IndexProvider yields the live authorization snapshot.
type IndexProvider interface {
	Current() *authindex.Index
}

// Anonymizer prepares and routes per-client output.
type Anonymizer struct {
	index  IndexProvider
	logger zerolog.Logger
}

// NewAnonymizer wires the live authorization index.
func NewAnonymizer(index IndexProvider, logger zerolog.Logger) *Anonymizer {
	return &Anonymizer{
		index:  index,
		logger: logger.With().Str("component", "anonymizer").Logger(),
	}
}

// Handle resolves the event's audience and produces one publication per
// (resource, org) in deterministic order: inside before threats, org-ids
// ascending within each resource.
func (a *Anonymizer) Handle(_ context.Context, rec *record.Record) ([]pipeline.Publication, error) {
	idx := a.index.Current()

	inside := intersect(idx.Resolve(rec, authindex.ZoneInside), rec.Clients())
	threats := idx.Resolve(rec, authindex.ZoneThreats)

	if len(inside) == 0 && len(threats) == 0 {
		a.logger.Debug().
			Str("event_id", rec.ID()).
			Str("source", rec.Source()).
			Msg("No subscribers, event dropped")
		return nil, nil
	}

	anonSource, ok := idx.Anonymize(rec.Source())
	if !ok {
		return nil, pipeline.Permanent("unknown_source",
			fmt.Errorf("no anonymized id for source %q", rec.Source()))
	}

	bodies := newBodyCache(idx, rec, anonSource)

	var pubs []pipeline.Publication
	for _, target := range []struct {
		resource string
		orgs     []string
	}{
		{ResourceInside, inside},
		{ResourceThreats, threats},
	} {
		routingKey := target.resource + "." + rec.Category() + "." + anonSource
		for _, org := range target.orgs {
			body, err := bodies.forOrg(org)
			if err != nil {
				return nil, pipeline.Permanent("serialize", err)
			}
			pubs = append(pubs, pipeline.Publication{
				RoutingKey: routingKey,
				Body:       body,
				Metadata:   map[string]string{broker.ClientIDHeader: org},
			})
		}
	}
	return pubs, nil
}

// bodyCache serializes the anonymized result at most twice: one full-access
// form and one restricted form.
type bodyCache struct {
	idx        *authindex.Index
	full       []byte
	restricted []byte
	rec        *record.Record
	anonSource string
}

func newBodyCache(idx *authindex.Index, rec *record.Record, anonSource string) *bodyCache {
	return &bodyCache{idx: idx, rec: rec, anonSource: anonSource}
}

func (c *bodyCache) forOrg(org string) ([]byte, error) {
	fullAccess := c.idx.FullAccess(org)
	if fullAccess && c.full != nil {
		return c.full, nil
	}
	if !fullAccess && c.restricted != nil {
		return c.restricted, nil
	}

	out := c.rec.Clone()
	for _, key := range out.Keys() {
		if len(key) > 0 && key[0] == '_' {
			out.Delete(key)
		}
	}
	for _, key := range internalKeys {
		out.Delete(key)
	}
	if !fullAccess {
		for _, key := range restrictedKeys {
			out.Delete(key)
		}
	}
	if err := out.Set("source", c.anonSource); err != nil {
		return nil, err
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	body, err := out.ReadyJSON()
	if err != nil {
		return nil, err
	}
	if fullAccess {
		c.full = body
	} else {
		c.restricted = body
	}
	return body, nil
}

// intersect returns the members of resolved also present in allowed,
// preserving resolved's (sorted) order. An empty allowed list yields nil.
func intersect(resolved, allowed []string) []string {
	if len(resolved) == 0 || len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	var out []string
	for _, r := range resolved {
		if _, ok := set[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

// NewService builds the anonymizer pipeline stage. pub must publish to the
// clients headers exchange with non-persistent delivery.
func NewService(index IndexProvider, router *pipeline.Router, sub message.Subscriber, pub message.Publisher, logger zerolog.Logger) (*pipeline.Stage, error) {
	a := NewAnonymizer(index, logger)
	return pipeline.NewStage(pipeline.StageOptions{
		Name:     "anonymizer",
		Router:   router,
		Sub:      sub,
		Pub:      pub,
		Bindings: broker.AnonymizerBindings,
		Handler:  a.Handle,
		Logger:   logger,
	})
}
