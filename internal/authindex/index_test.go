// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package authindex

import (
	"context"
	"errors"
	"io"
	"reflect"
	"testing"
	"time"

	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/record"
)

func testEvent(t *testing.T, fields map[string]any) *record.Record {
	t.Helper()
	rec := record.New()
	base := map[string]any{
		"id":     "0123456789abcdef0123456789abcdef",
		"source": "example.feed",
		"time":   "2024-01-01 00:00:00",
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

func buildTestIndex() *Index {
	b := NewBuilder()
	b.AddSource("example.feed", "hidden.abc")
	b.AddSubsource("example.feed", &Subsource{
		RefInt:    "sub-1",
		Predicate: CategoryIn([]string{"malurl", "phish"}),
	})
	b.AddSubsource("example.feed", &Subsource{
		RefInt:    "sub-2",
		Predicate: IPNetworkIn([]string{"10.0.0.0/8"}),
	})
	b.Subscribe("example.feed", "sub-1", ZoneInside, "org-b")
	b.Subscribe("example.feed", "sub-1", ZoneInside, "org-a")
	b.Subscribe("example.feed", "sub-2", ZoneThreats, "org-c")
	return b.Build()
}

func TestIndex_ResolveSorted(t *testing.T) {
	idx := buildTestIndex()
	rec := testEvent(t, map[string]any{"category": "malurl"})

	got := idx.Resolve(rec, ZoneInside)
	if !reflect.DeepEqual(got, []string{"org-a", "org-b"}) {
		t.Errorf("Resolve = %v, want [org-a org-b]", got)
	}
}

func TestIndex_ResolveRequiresZoneMembership(t *testing.T) {
	idx := buildTestIndex()
	rec := testEvent(t, map[string]any{"category": "malurl"})

	// sub-1 matches but has no threats subscribers.
	if got := idx.Resolve(rec, ZoneThreats); got != nil {
		t.Errorf("Resolve threats = %v, want nil", got)
	}
}

func TestIndex_ResolvePredicateGate(t *testing.T) {
	idx := buildTestIndex()

	rec := testEvent(t, map[string]any{"category": "bots"})
	if got := idx.Resolve(rec, ZoneInside); got != nil {
		t.Errorf("Category mismatch must not resolve, got %v", got)
	}

	inNet := testEvent(t, map[string]any{
		"category": "bots",
		"address":  []record.Address{{IP: "10.9.9.9"}},
	})
	if got := idx.Resolve(inNet, ZoneThreats); !reflect.DeepEqual(got, []string{"org-c"}) {
		t.Errorf("CIDR predicate resolve = %v, want [org-c]", got)
	}
}

func TestIndex_ResolveUnknownSource(t *testing.T) {
	idx := buildTestIndex()
	rec := testEvent(t, nil)
	if err := rec.Set("source", "unknown.src"); err != nil {
		t.Fatal(err)
	}
	if got := idx.Resolve(rec, ZoneInside); got != nil {
		t.Errorf("Unknown source must resolve to nothing, got %v", got)
	}
}

func TestIndex_Anonymize(t *testing.T) {
	idx := buildTestIndex()
	if anon, ok := idx.Anonymize("example.feed"); !ok || anon != "hidden.abc" {
		t.Errorf("Anonymize = %q, %v", anon, ok)
	}
	if _, ok := idx.Anonymize("unknown.src"); ok {
		t.Error("Unknown source must not anonymize")
	}
}

func TestPredicates(t *testing.T) {
	t.Run("name", func(t *testing.T) {
		p := NameIn([]string{"mirai"})
		if !p(testEvent(t, map[string]any{"name": "mirai"})) {
			t.Error("Expected match")
		}
		if p(testEvent(t, nil)) {
			t.Error("Absent name must not match")
		}
	})

	t.Run("asn", func(t *testing.T) {
		p := ASNIn([]int64{64500})
		hit := testEvent(t, map[string]any{"address": []record.Address{{IP: "1.2.3.4", ASN: 64500}}})
		miss := testEvent(t, map[string]any{"address": []record.Address{{IP: "1.2.3.4"}}})
		if !p(hit) || p(miss) {
			t.Error("ASN predicate mismatch")
		}
	})

	t.Run("cc", func(t *testing.T) {
		p := CCIn([]string{"PL"})
		hit := testEvent(t, map[string]any{"address": []record.Address{{IP: "1.2.3.4", CC: "PL"}}})
		if !p(hit) {
			t.Error("Expected match")
		}
	})

	t.Run("time range", func(t *testing.T) {
		min := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		p := TimeRange(min, min.Add(24*time.Hour))
		if !p(testEvent(t, nil)) {
			t.Error("In-range time must match")
		}
		late := testEvent(t, map[string]any{"time": "2024-02-01 00:00:00"})
		if p(late) {
			t.Error("Out-of-range time must not match")
		}
	})

	t.Run("and", func(t *testing.T) {
		p := And(CategoryIn([]string{"malurl"}), CCIn([]string{"PL"}))
		hit := testEvent(t, map[string]any{
			"category": "malurl",
			"address":  []record.Address{{IP: "1.2.3.4", CC: "PL"}},
		})
		half := testEvent(t, map[string]any{"category": "malurl"})
		if !p(hit) || p(half) {
			t.Error("And predicate mismatch")
		}
	})
}

type fakeLoader struct {
	idx *Index
	err error
}

func (f *fakeLoader) Load(context.Context) (*Index, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.idx, nil
}

func TestReloader_KeepsPreviousOnFailure(t *testing.T) {
	first := buildTestIndex()
	loader := &fakeLoader{idx: first}

	r, err := NewReloader(context.Background(), loader, time.Minute, logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewReloader: %v", err)
	}
	if r.Current() != first {
		t.Fatal("Initial snapshot not installed")
	}

	second := buildTestIndex()
	loader.idx = second
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if r.Current() != second {
		t.Error("Reload must swap the snapshot")
	}

	loader.err = errors.New("db down")
	if err := r.Reload(context.Background()); err == nil {
		t.Fatal("Expected reload error")
	}
	if r.Current() != second {
		t.Error("Failed reload must keep the previous snapshot")
	}
}

func TestReloader_InitialLoadFailure(t *testing.T) {
	_, err := NewReloader(context.Background(), &fakeLoader{err: errors.New("db down")}, time.Minute, logging.NewTestLogger(io.Discard))
	if err == nil {
		t.Fatal("Expected error when the initial load fails")
	}
}
