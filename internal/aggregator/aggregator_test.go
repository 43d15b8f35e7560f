// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package aggregator

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

var baseTime = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func hifreqEvent(t *testing.T, source, group string, at time.Time) *record.Record {
	t.Helper()
	rec := record.New()
	for key, val := range map[string]any{
		"id":       "0123456789abcdef0123456789abcdef",
		"source":   source,
		"type":     record.TypeHifreq,
		"category": "scanning",
		"_group":   group,
		"time":     at,
	} {
		if err := rec.Set(key, val); err != nil {
			t.Fatalf("Set %s: %v", key, err)
		}
	}
	return rec
}

func newTestProcessor(t *testing.T) *Processor {
	t.Helper()
	return NewProcessor(NewState(), DefaultTimeTolerance, logging.NewTestLogger(io.Discard))
}

func TestProcessor_FirstOfGroupPublished(t *testing.T) {
	p := newTestProcessor(t)

	first, suppressed, err := p.Process(hifreqEvent(t, "prov.chan", "g1", baseTime))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if first == nil {
		t.Fatal("First event of a group must be republished")
	}
	if len(suppressed) != 0 {
		t.Errorf("No summaries expected yet, got %d", len(suppressed))
	}
	if got := first.TypeName(); got != record.TypeEvent {
		t.Errorf("Republished type = %q, want %q", got, record.TypeEvent)
	}
	if _, ok := first.Group(); ok {
		t.Error("_group must be stripped from the republished event")
	}
}

func TestProcessor_DuplicatesAbsorbedThenSummarized(t *testing.T) {
	p := newTestProcessor(t)
	src := "prov.chan"

	t0 := baseTime
	t1 := baseTime.Add(time.Hour)
	t2 := baseTime.Add(2 * time.Hour)

	if first, _, err := p.Process(hifreqEvent(t, src, "g1", t0)); err != nil || first == nil {
		t.Fatalf("First event: first=%v err=%v", first, err)
	}
	for _, at := range []time.Time{t1, t2} {
		first, suppressed, err := p.Process(hifreqEvent(t, src, "g1", at))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		if first != nil || len(suppressed) != 0 {
			t.Fatalf("Duplicate at %v must be absorbed silently", at)
		}
	}

	// Activity on the next day, long after the group went quiet,
	// finalizes it.
	later := baseTime.Add(25 * time.Hour)
	first, suppressed, err := p.Process(hifreqEvent(t, src, "g2", later))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if first == nil {
		t.Error("New group must republish its first event")
	}
	if len(suppressed) != 1 {
		t.Fatalf("Expected one summary, got %d", len(suppressed))
	}

	sup := suppressed[0]
	if got := sup.TypeName(); got != record.TypeSuppressed {
		t.Errorf("Summary type = %q, want %q", got, record.TypeSuppressed)
	}
	if got, _ := sup.Count(); got != 3 {
		t.Errorf("Summary count = %v, want 3", got)
	}
	if got, ok := sup.Time(); !ok || !got.Equal(t0) {
		t.Errorf("Summary time = %v, want %v", got, t0)
	}
	if got, ok := sup.Until(); !ok || !got.Equal(t2) {
		t.Errorf("Summary until = %v, want %v", got, t2)
	}
}

func TestProcessor_SingletonGroupEmitsNoSummary(t *testing.T) {
	p := newTestProcessor(t)

	if _, _, err := p.Process(hifreqEvent(t, "prov.chan", "lone", baseTime)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	_, suppressed, err := p.Process(hifreqEvent(t, "prov.chan", "g2", baseTime.Add(25*time.Hour)))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	// A group that only ever saw its (already republished) first event
	// has nothing left to say.
	if len(suppressed) != 0 {
		t.Errorf("Expected no summary for a count-1 group, got %d", len(suppressed))
	}
}

func TestProcessor_OutOfOrderDropped(t *testing.T) {
	p := newTestProcessor(t)

	if _, _, err := p.Process(hifreqEvent(t, "prov.chan", "g1", baseTime)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	_, _, err := p.Process(hifreqEvent(t, "prov.chan", "other", baseTime.Add(-DefaultTimeTolerance-time.Minute)))
	if err == nil {
		t.Fatal("Expected out-of-order error")
	}
	if !pipeline.IsPermanent(err) {
		t.Errorf("Out-of-order must be a drop, got %v", err)
	}
	if pipeline.DropReason(err) != "out_of_order" {
		t.Errorf("Unexpected drop reason %q", pipeline.DropReason(err))
	}
}

func TestProcessor_LateInToleranceAttributedToActiveGroup(t *testing.T) {
	p := newTestProcessor(t)
	src := "prov.chan"

	if _, _, err := p.Process(hifreqEvent(t, src, "g1", baseTime)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, _, err := p.Process(hifreqEvent(t, src, "g1", baseTime.Add(time.Hour))); err != nil {
		t.Fatalf("Process: %v", err)
	}
	// Within tolerance of the newest event: still counted.
	first, _, err := p.Process(hifreqEvent(t, src, "g1", baseTime.Add(time.Hour-time.Minute)))
	if err != nil {
		t.Fatalf("Late in-tolerance event: %v", err)
	}
	if first != nil {
		t.Error("Late in-tolerance duplicate must not be republished")
	}

	data, ok := p.State().Sources[src].Groups.get("g1")
	if !ok {
		t.Fatal("Group missing from state")
	}
	if data.Count != 3 {
		t.Errorf("Count = %d, want 3", data.Count)
	}
}

func TestProcessor_CalendarDayRollover(t *testing.T) {
	p := newTestProcessor(t)
	src := "prov.chan"

	evening := time.Date(2024, 3, 10, 23, 50, 0, 0, time.UTC)
	nextDay := time.Date(2024, 3, 11, 0, 10, 0, 0, time.UTC)

	if _, _, err := p.Process(hifreqEvent(t, src, "g1", evening)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	// Same group 20 minutes later, but a new UTC day: starts a fresh
	// aggregate.
	first, _, err := p.Process(hifreqEvent(t, src, "g1", nextDay))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if first == nil {
		t.Error("First event after a day change must be republished")
	}
	if _, ok := p.State().Sources[src].Buffer.get("g1"); !ok {
		t.Error("Previous aggregate must move to the buffer on rollover")
	}
}

func TestProcessor_InactiveSourceFlushed(t *testing.T) {
	p := newTestProcessor(t)
	now := time.Date(2024, 3, 12, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	src := "prov.chan"
	if _, _, err := p.Process(hifreqEvent(t, src, "g1", baseTime)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if _, _, err := p.Process(hifreqEvent(t, src, "g1", baseTime.Add(time.Minute))); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := p.FlushInactive(); len(got) != 0 {
		t.Fatalf("Active source must not be flushed, got %d summaries", len(got))
	}

	now = now.Add(SourceInactivityTimeout + time.Hour)
	suppressed := p.FlushInactive()
	if len(suppressed) != 1 {
		t.Fatalf("Expected one summary from inactivity flush, got %d", len(suppressed))
	}
	if got, _ := suppressed[0].Count(); got != 2 {
		t.Errorf("Summary count = %v, want 2", got)
	}
	if _, ok := p.State().Sources[src]; ok {
		t.Error("Flushed source must be removed from state")
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	logger := logging.NewTestLogger(io.Discard)
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := NewSnapshotStore(path, logger)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}

	p := NewProcessor(NewState(), DefaultTimeTolerance, logger)
	for _, group := range []string{"g1", "g2", "g1"} {
		if _, _, err := p.Process(hifreqEvent(t, "prov.chan", group, baseTime)); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	if err := store.Save(p.State()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := store.Load()
	src, ok := restored.Sources["prov.chan"]
	if !ok {
		t.Fatal("Source missing after restore")
	}
	if src.Groups.len() != 2 {
		t.Errorf("Groups after restore = %d, want 2", src.Groups.len())
	}
	g1, _ := src.Groups.get("g1")
	if g1 == nil || g1.Count != 2 {
		t.Errorf("g1 count after restore = %+v, want 2", g1)
	}
	if got := src.Groups.orderedKeys(); len(got) != 2 || got[0] != "g1" || got[1] != "g2" {
		t.Errorf("Restore must preserve insertion order, got %v", got)
	}
}

func TestSnapshot_MissingFileYieldsEmptyState(t *testing.T) {
	store, err := NewSnapshotStore(filepath.Join(t.TempDir(), "absent.json"), logging.NewTestLogger(io.Discard))
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	state := store.Load()
	if state == nil || len(state.Sources) != 0 {
		t.Errorf("Expected fresh empty state, got %+v", state)
	}
}
