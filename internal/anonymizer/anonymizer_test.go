// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package anonymizer

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/goccy/go-json"

	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/broker"
	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/record"
)

type staticIndex struct{ idx *authindex.Index }

func (s staticIndex) Current() *authindex.Index { return s.idx }

// buildIndex subscribes org-a and org-b inside, org-c threats, with org-c
// holding full access.
func buildIndex() *authindex.Index {
	b := authindex.NewBuilder()
	b.AddSource("example.feed", "hidden.abc")
	b.AddSubsource("example.feed", &authindex.Subsource{RefInt: "sub-1"})
	b.Subscribe("example.feed", "sub-1", authindex.ZoneInside, "org-b")
	b.Subscribe("example.feed", "sub-1", authindex.ZoneInside, "org-a")
	b.Subscribe("example.feed", "sub-1", authindex.ZoneThreats, "org-c")
	b.SetNotificationConfig(authindex.NotificationConfig{OrgID: "org-c", FullAccess: true})
	return b.Build()
}

func filteredEvent(t *testing.T, fields map[string]any) *record.Record {
	t.Helper()
	rec := record.New()
	base := map[string]any{
		"id":       "0123456789abcdef0123456789abcdef",
		"source":   "example.feed",
		"time":     "2024-01-01 00:00:00",
		"category": "malurl",
	}
	for k, v := range base {
		if err := rec.Set(k, v); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	for k, v := range fields {
		if err := rec.Set(k, v); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	return rec
}

func TestAnonymizer_RoutesPerClient(t *testing.T) {
	a := NewAnonymizer(staticIndex{buildIndex()}, logging.NewTestLogger(io.Discard))
	rec := filteredEvent(t, map[string]any{"client": []string{"org-a", "org-b"}})

	pubs, err := a.Handle(context.Background(), rec)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(pubs) != 3 {
		t.Fatalf("Expected 3 publications, got %d", len(pubs))
	}

	// inside first, ascending org-ids, then threats.
	wantOrgs := []string{"org-a", "org-b", "org-c"}
	wantKeys := []string{
		"inside.malurl.hidden.abc",
		"inside.malurl.hidden.abc",
		"threats.malurl.hidden.abc",
	}
	for i, p := range pubs {
		if p.Metadata[broker.ClientIDHeader] != wantOrgs[i] {
			t.Errorf("pub %d client = %q, want %q", i, p.Metadata[broker.ClientIDHeader], wantOrgs[i])
		}
		if p.RoutingKey != wantKeys[i] {
			t.Errorf("pub %d routing key = %q, want %q", i, p.RoutingKey, wantKeys[i])
		}
	}

	// Same access level, byte-identical bodies.
	if !bytes.Equal(pubs[0].Body, pubs[1].Body) {
		t.Error("Same-access bodies must be identical")
	}

	var wire map[string]any
	if err := json.Unmarshal(pubs[0].Body, &wire); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if wire["source"] != "hidden.abc" {
		t.Errorf("source = %v, want hidden.abc", wire["source"])
	}
	for _, forbidden := range []string{"client", "enriched", "type", "_group"} {
		if _, present := wire[forbidden]; present {
			t.Errorf("Internal key %q leaked to subscriber output", forbidden)
		}
	}
}

func TestAnonymizer_InsideIntersectsClientList(t *testing.T) {
	a := NewAnonymizer(staticIndex{buildIndex()}, logging.NewTestLogger(io.Discard))
	// Filter stamped only org-a; org-b matches the index but is not in
	// the event's client list.
	rec := filteredEvent(t, map[string]any{"client": []string{"org-a"}})

	pubs, err := a.Handle(context.Background(), rec)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	var insideOrgs []string
	for _, p := range pubs {
		if p.RoutingKey == "inside.malurl.hidden.abc" {
			insideOrgs = append(insideOrgs, p.Metadata[broker.ClientIDHeader])
		}
	}
	if len(insideOrgs) != 1 || insideOrgs[0] != "org-a" {
		t.Errorf("inside orgs = %v, want [org-a]", insideOrgs)
	}
}

func TestAnonymizer_NoAudienceDropsQuietly(t *testing.T) {
	b := authindex.NewBuilder()
	b.AddSource("example.feed", "hidden.abc")
	b.AddSubsource("example.feed", &authindex.Subsource{RefInt: "sub-1"})
	a := NewAnonymizer(staticIndex{b.Build()}, logging.NewTestLogger(io.Discard))

	pubs, err := a.Handle(context.Background(), filteredEvent(t, nil))
	if err != nil {
		t.Fatalf("No audience must not be an error: %v", err)
	}
	if len(pubs) != 0 {
		t.Errorf("Expected no publications, got %d", len(pubs))
	}
}

func TestAnonymizer_RestrictedFieldsStripped(t *testing.T) {
	a := NewAnonymizer(staticIndex{buildIndex()}, logging.NewTestLogger(io.Discard))
	rec := filteredEvent(t, map[string]any{
		"client": []string{"org-a"},
		"rid":    "ffffffffffffffffffffffffffffffff",
		"dip":    "192.0.2.1",
	})

	pubs, err := a.Handle(context.Background(), rec)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	for _, p := range pubs {
		var wire map[string]any
		if err := json.Unmarshal(p.Body, &wire); err != nil {
			t.Fatal(err)
		}
		org := p.Metadata[broker.ClientIDHeader]
		_, hasRid := wire["rid"]
		_, hasDip := wire["dip"]
		if org == "org-c" {
			// Full access keeps restricted keys.
			if !hasRid || !hasDip {
				t.Errorf("Full-access org %s must see restricted fields", org)
			}
		} else if hasRid || hasDip {
			t.Errorf("Org %s must not see restricted fields", org)
		}
	}
}

func TestAnonymizer_UnknownSourceDropped(t *testing.T) {
	b := authindex.NewBuilder()
	// Subsource present but no anonymized id registered for the source.
	b.AddSubsource("example.feed", &authindex.Subsource{RefInt: "sub-1"})
	b.Subscribe("example.feed", "sub-1", authindex.ZoneThreats, "org-c")
	idx := b.Build()
	a := NewAnonymizer(staticIndex{idx}, logging.NewTestLogger(io.Discard))

	_, err := a.Handle(context.Background(), filteredEvent(t, nil))
	if err == nil {
		t.Fatal("Expected error for missing anonymized source id")
	}
}
