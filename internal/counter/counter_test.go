// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package counter

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sixgate/sixgate/internal/authindex"
	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/record"
)

func testStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb), mr
}

type staticIndex struct{ idx *authindex.Index }

func (s staticIndex) Current() *authindex.Index { return s.idx }

func buildIndex(t *testing.T) *authindex.Index {
	t.Helper()
	b := authindex.NewBuilder()
	b.AddSource("example.feed", "hidden.abc")
	b.AddSubsource("example.feed", &authindex.Subsource{RefInt: "sub-1"})
	b.Subscribe("example.feed", "sub-1", authindex.ZoneInside, "org-a")
	b.Subscribe("example.feed", "sub-1", authindex.ZoneInside, "org-b")
	b.Subscribe("example.feed", "sub-1", authindex.ZoneThreats, "org-c")
	return b.Build()
}

func filteredEvent(t *testing.T, fields map[string]any) *record.Record {
	t.Helper()
	rec := record.New()
	base := map[string]any{
		"id":       "77777777777777777777777777777777",
		"source":   "example.feed",
		"category": "malurl",
		"time":     "2024-04-01 09:30:00",
	}
	for k, v := range base {
		if err := rec.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for k, v := range fields {
		if err := rec.Set(k, v); err != nil {
			t.Fatal(err)
		}
	}
	return rec
}

func TestHandle_CountsPerOrgAndCategory(t *testing.T) {
	store, mr := testStore(t)
	c := NewCounter(store, staticIndex{buildIndex(t)}, logging.NewTestLogger(io.Discard))
	ctx := context.Background()

	rec := filteredEvent(t, map[string]any{"client": []string{"org-a", "org-b"}})
	for i := 0; i < 2; i++ {
		if pubs, err := c.Handle(ctx, rec.Clone()); err != nil || pubs != nil {
			t.Fatalf("Handle: pubs=%v err=%v", pubs, err)
		}
	}

	for _, org := range []string{"org-a", "org-b", "org-c"} {
		if got := mr.HGet(org, "malurl"); got != "2" {
			t.Errorf("%s/malurl = %q, want 2", org, got)
		}
	}
}

func TestHandle_InsideGatedByClientList(t *testing.T) {
	store, mr := testStore(t)
	c := NewCounter(store, staticIndex{buildIndex(t)}, logging.NewTestLogger(io.Discard))

	// Only org-a was stamped by the filter; org-b must not be counted.
	rec := filteredEvent(t, map[string]any{"client": []string{"org-a"}})
	if _, err := c.Handle(context.Background(), rec); err != nil {
		t.Fatal(err)
	}

	if got := mr.HGet("org-a", "malurl"); got != "1" {
		t.Errorf("org-a/malurl = %q, want 1", got)
	}
	if mr.Exists("org-b") {
		t.Error("org-b counted despite missing from the client list")
	}
	if got := mr.HGet("org-c", "malurl"); got != "1" {
		t.Errorf("org-c/malurl = %q, want 1 (threats audience is not client-gated)", got)
	}
}

func TestHandle_NoAudienceIsANoOp(t *testing.T) {
	store, mr := testStore(t)
	b := authindex.NewBuilder()
	b.AddSource("example.feed", "hidden.abc")
	c := NewCounter(store, staticIndex{b.Build()}, logging.NewTestLogger(io.Discard))

	if _, err := c.Handle(context.Background(), filteredEvent(t, nil)); err != nil {
		t.Fatal(err)
	}
	if len(mr.Keys()) != 0 {
		t.Errorf("keys = %v, want none", mr.Keys())
	}
}

func TestStore_WindowWidens(t *testing.T) {
	store, mr := testStore(t)
	ctx := context.Background()

	times := []string{
		"2024-04-01 12:00:00",
		"2024-04-01 08:00:00", // earlier, extends _tmin
		"2024-04-01 18:00:00", // later, extends _tmax
	}
	for _, s := range times {
		ts, err := time.Parse(record.TimeLayout, s)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Add(ctx, []string{"org-a"}, "bots", ts); err != nil {
			t.Fatal(err)
		}
	}

	if got, _ := mr.Get("org-a" + suffixTimeMin); got != "2024-04-01 08:00:00" {
		t.Errorf("_tmin = %q", got)
	}
	if got, _ := mr.Get("org-a" + suffixTimeMax); got != "2024-04-01 18:00:00" {
		t.Errorf("_tmax = %q", got)
	}

	first, last, ok, err := store.Window(ctx, "org-a")
	if err != nil || !ok {
		t.Fatalf("Window: ok=%v err=%v", ok, err)
	}
	if first.Hour() != 8 || last.Hour() != 18 {
		t.Errorf("window = %v..%v", first, last)
	}
}

func TestStore_Counters(t *testing.T) {
	store, _ := testStore(t)
	ctx := context.Background()

	ts := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	if err := store.Add(ctx, []string{"org-a"}, "bots", ts); err != nil {
		t.Fatal(err)
	}
	if err := store.Add(ctx, []string{"org-a"}, "malurl", ts); err != nil {
		t.Fatal(err)
	}

	got, err := store.Counters(ctx, "org-a")
	if err != nil {
		t.Fatal(err)
	}
	if got["bots"] != 1 || got["malurl"] != 1 {
		t.Errorf("counters = %v", got)
	}

	empty, err := store.Counters(ctx, "org-unknown")
	if err != nil || len(empty) != 0 {
		t.Errorf("unknown org: counters=%v err=%v", empty, err)
	}
}
