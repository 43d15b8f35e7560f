// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package authindex

import (
	"sort"

	"github.com/sixgate/sixgate/internal/record"
)

// Access zones.
const (
	ZoneInside       = "inside"
	ZoneThreats      = "threats"
	ZoneSearch       = "search"
	ZoneNotification = "notification"
)

// Zones lists every zone in canonical order.
var Zones = []string{ZoneInside, ZoneThreats, ZoneSearch, ZoneNotification}

// Subsource is one compiled subsource of a source: its access predicate and
// the organizations subscribed per zone.
type Subsource struct {
	RefInt    string
	Predicate Predicate
	// ZoneOrgIDs maps zone name to the set of subscribed org-ids.
	ZoneOrgIDs map[string]map[string]struct{}
}

// NotificationConfig is an organization's digest settings.
type NotificationConfig struct {
	OrgID            string
	Emails           []string
	Times            []string // "HH:MM", on the notifier's clock (UTC)
	Language         string
	BusinessDaysOnly bool
	// FullAccess orgs see restricted fields in anonymized output.
	FullAccess bool
}

// Index is an immutable snapshot of the authorization data.
type Index struct {
	// bySource: source id -> subsource refint -> compiled subsource.
	bySource map[string]map[string]*Subsource
	// anonymized: source id -> anonymized source id.
	anonymized map[string]string
	// notification: org id -> digest config.
	notification map[string]NotificationConfig
}

// Builder accumulates entries for one snapshot.
type Builder struct {
	idx *Index
}

// NewBuilder starts an empty snapshot.
func NewBuilder() *Builder {
	return &Builder{idx: &Index{
		bySource:     make(map[string]map[string]*Subsource),
		anonymized:   make(map[string]string),
		notification: make(map[string]NotificationConfig),
	}}
}

// AddSource registers a source with its anonymized id.
func (b *Builder) AddSource(sourceID, anonymizedID string) {
	if _, ok := b.idx.bySource[sourceID]; !ok {
		b.idx.bySource[sourceID] = make(map[string]*Subsource)
	}
	b.idx.anonymized[sourceID] = anonymizedID
}

// AddSubsource registers a compiled subsource under its source.
func (b *Builder) AddSubsource(sourceID string, sub *Subsource) {
	if _, ok := b.idx.bySource[sourceID]; !ok {
		b.idx.bySource[sourceID] = make(map[string]*Subsource)
	}
	if sub.ZoneOrgIDs == nil {
		sub.ZoneOrgIDs = make(map[string]map[string]struct{})
	}
	if sub.Predicate == nil {
		sub.Predicate = True
	}
	b.idx.bySource[sourceID][sub.RefInt] = sub
}

// Subscribe adds an org to a subsource's zone set.
func (b *Builder) Subscribe(sourceID, refInt, zone, orgID string) {
	source, ok := b.idx.bySource[sourceID]
	if !ok {
		return
	}
	sub, ok := source[refInt]
	if !ok {
		return
	}
	set, ok := sub.ZoneOrgIDs[zone]
	if !ok {
		set = make(map[string]struct{})
		sub.ZoneOrgIDs[zone] = set
	}
	set[orgID] = struct{}{}
}

// SetNotificationConfig records an organization's digest settings.
func (b *Builder) SetNotificationConfig(cfg NotificationConfig) {
	b.idx.notification[cfg.OrgID] = cfg
}

// Build freezes the snapshot. The builder must not be used afterwards.
func (b *Builder) Build() *Index {
	idx := b.idx
	b.idx = nil
	return idx
}

// Resolve returns the sorted org-ids subscribed to the event's source in the
// given zone whose subsource predicate matches the event.
func (idx *Index) Resolve(rec *record.Record, zone string) []string {
	subsources, exists := idx.bySource[rec.Source()]
	if !exists {
		return nil
	}
	matched := make(map[string]struct{})
	for _, sub := range subsources {
		orgs, hasZone := sub.ZoneOrgIDs[zone]
		if !hasZone || len(orgs) == 0 {
			continue
		}
		if !sub.Predicate(rec) {
			continue
		}
		for org := range orgs {
			matched[org] = struct{}{}
		}
	}
	return sortedKeys(matched)
}

// SubsourceAccessInfo returns the compiled subsources of a source keyed by
// refint. The returned map shares the snapshot's immutable entries.
func (idx *Index) SubsourceAccessInfo(sourceID string) map[string]*Subsource {
	return idx.bySource[sourceID]
}

// Anonymize maps a source id to its anonymized form.
func (idx *Index) Anonymize(sourceID string) (string, bool) {
	anon, ok := idx.anonymized[sourceID]
	return anon, ok
}

// NotificationConfigs returns the digest config of every organization,
// sorted by org id.
func (idx *Index) NotificationConfigs() []NotificationConfig {
	out := make([]NotificationConfig, 0, len(idx.notification))
	for _, cfg := range idx.notification {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrgID < out[j].OrgID })
	return out
}

// NotificationConfig returns one organization's digest config.
func (idx *Index) NotificationConfig(orgID string) (NotificationConfig, bool) {
	cfg, ok := idx.notification[orgID]
	return cfg, ok
}

// FullAccess reports whether the org sees restricted fields.
func (idx *Index) FullAccess(orgID string) bool {
	cfg, ok := idx.notification[orgID]
	return ok && cfg.FullAccess
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
