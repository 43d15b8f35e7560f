// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// Config holds the enricher component settings.
type Config struct {
	DNSHost    string        `koanf:"dnshost"`
	DNSPort    int           `koanf:"dnsport"`
	DNSTimeout time.Duration `koanf:"dns_timeout"`

	GeoIPPath            string `koanf:"geoippath"`
	ASNDatabaseFilename  string `koanf:"asndatabasefilename"`
	CityDatabaseFilename string `koanf:"citydatabasefilename"`

	ExcludedIPs []string `koanf:"excluded_ips"`
}

// DefaultConfig returns the enricher defaults: resolution and GeoIP disabled
// until configured.
func DefaultConfig() Config {
	return Config{
		DNSPort:    53,
		DNSTimeout: 3 * time.Second,
	}
}

// NewService builds the enricher pipeline stage from its configuration.
func NewService(cfg Config, router *pipeline.Router, sub message.Subscriber, pub message.Publisher, logger zerolog.Logger) (*pipeline.Stage, error) {
	var resolver DNSResolver
	if cfg.DNSHost != "" {
		resolver = NewResolver(cfg.DNSHost, cfg.DNSPort, cfg.DNSTimeout)
	}

	var geo GeoIPLookup = NoopGeoIP{}
	if cfg.GeoIPPath != "" && (cfg.ASNDatabaseFilename != "" || cfg.CityDatabaseFilename != "") {
		opened, err := OpenMaxMind(cfg.GeoIPPath, cfg.ASNDatabaseFilename, cfg.CityDatabaseFilename)
		if err != nil {
			return nil, fmt.Errorf("enricher geoip: %w", err)
		}
		geo = opened
	}

	excluded, err := NewExcludedIPs(cfg.ExcludedIPs)
	if err != nil {
		return nil, err
	}

	enricher := NewEnricher(resolver, geo, excluded, logger)

	return pipeline.NewStage(pipeline.StageOptions{
		Name:     "enricher",
		Router:   router,
		Sub:      sub,
		Pub:      pub,
		Bindings: broker.EnricherBindings,
		Handler:  enricher.Handle,
		Logger:   logger,
		OnStop: func(context.Context) error {
			return geo.Close()
		},
	})
}

// Handle enriches one event and republishes it at the enriched stage.
func (e *Enricher) Handle(ctx context.Context, rec *record.Record) ([]pipeline.Publication, error) {
	if err := e.Enrich(ctx, rec); err != nil {
		return nil, pipeline.Permanent("enrichment", err)
	}
	body, err := rec.ReadyJSON()
	if err != nil {
		return nil, pipeline.Permanent("serialize", err)
	}
	return []pipeline.Publication{{
		RoutingKey: rec.RoutingKey(record.StageEnriched),
		Body:       body,
	}}, nil
}
