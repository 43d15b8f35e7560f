// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package authindex holds the compiled authorization index: per-subsource
// access predicates, per-zone organization sets, and source anonymization.
// The index is an immutable snapshot rebuilt on reload and swapped
// atomically; readers hold a reference and never see partial updates.
package authindex

import (
	"net/netip"
	"time"

	"github.com/sixgate/sixgate/internal/record"
)

// Predicate is a pure function deciding whether an event belongs to a
// subsource. Predicates never perform I/O.
type Predicate func(rec *record.Record) bool

// True matches every event; a subsource without criteria accepts all events
// of its source.
func True(*record.Record) bool { return true }

// And matches when every predicate matches.
func And(preds ...Predicate) Predicate {
	if len(preds) == 0 {
		return True
	}
	if len(preds) == 1 {
		return preds[0]
	}
	return func(rec *record.Record) bool {
		for _, p := range preds {
			if !p(rec) {
				return false
			}
		}
		return true
	}
}

// CategoryIn matches events whose category is one of the given values.
func CategoryIn(categories []string) Predicate {
	set := stringSet(categories)
	return func(rec *record.Record) bool {
		_, ok := set[rec.Category()]
		return ok
	}
}

// NameIn matches events whose name is one of the given values.
func NameIn(names []string) Predicate {
	set := stringSet(names)
	return func(rec *record.Record) bool {
		name, _ := rec.Get("name")
		s, _ := name.(string)
		_, ok := set[s]
		return ok
	}
}

// ASNIn matches events with at least one address in the given ASN set.
func ASNIn(asns []int64) Predicate {
	set := make(map[int64]struct{}, len(asns))
	for _, a := range asns {
		set[a] = struct{}{}
	}
	return func(rec *record.Record) bool {
		for _, addr := range rec.Addresses() {
			if _, ok := set[addr.ASN]; ok && addr.ASN != 0 {
				return true
			}
		}
		return false
	}
}

// CCIn matches events with at least one address in the given country set.
func CCIn(ccs []string) Predicate {
	set := stringSet(ccs)
	return func(rec *record.Record) bool {
		for _, addr := range rec.Addresses() {
			if _, ok := set[addr.CC]; ok && addr.CC != "" {
				return true
			}
		}
		return false
	}
}

// IPNetworkIn matches events with at least one address inside any of the
// given IPv4 CIDR ranges. Invalid entries never match.
func IPNetworkIn(cidrs []string) Predicate {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		prefix, err := netip.ParsePrefix(c)
		if err != nil || !prefix.Addr().Is4() {
			continue
		}
		prefixes = append(prefixes, prefix.Masked())
	}
	return func(rec *record.Record) bool {
		for _, addr := range rec.Addresses() {
			parsed, err := netip.ParseAddr(addr.IP)
			if err != nil {
				continue
			}
			for _, prefix := range prefixes {
				if prefix.Contains(parsed) {
					return true
				}
			}
		}
		return false
	}
}

// TimeRange matches events whose time lies in [min, max]; a zero bound is
// open on that side.
func TimeRange(min, max time.Time) Predicate {
	return func(rec *record.Record) bool {
		t, ok := rec.Time()
		if !ok {
			return false
		}
		if !min.IsZero() && t.Before(min) {
			return false
		}
		if !max.IsZero() && t.After(max) {
			return false
		}
		return true
	}
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
