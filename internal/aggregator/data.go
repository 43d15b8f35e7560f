// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package aggregator implements time-bucketed deduplication of
// high-frequency events.
//
// Events arrive with a transient "_group" key set by the parser. The first
// event of a group is republished immediately; later events only bump a
// counter. Once a group has been quiet long enough, a single "suppressed"
// summary event carrying the count and time window is emitted.
//
// Groups live in two ordered maps per source: "groups" holds the active
// aggregate, "buffer" holds the previous aggregate for one tolerance window
// after a rollover, so late-but-in-tolerance events can still be attributed.
// A summary may only be emitted after no in-tolerance event can extend the
// aggregate any more; anything earlier would double-count or report a stale
// count.
package aggregator

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Aggregation constants.
const (
	// AggregateWait is how long a group may stay active without new
	// events before it is rolled over.
	AggregateWait = 12 * time.Hour

	// SourceInactivityTimeout flushes all pending aggregates of a source
	// that has stopped sending entirely (wall clock, not event time).
	SourceInactivityTimeout = 24 * time.Hour

	// TickInterval is the cadence of the inactivity check.
	TickInterval = time.Hour

	// DefaultTimeTolerance is the default out-of-order slack window.
	DefaultTimeTolerance = 600 * time.Second
)

// HiFreqEventData is one aggregate: the payload of the first event of the
// group plus the observed time window and count.
type HiFreqEventData struct {
	Payload   json.RawMessage `json:"payload"`
	FirstTime time.Time       `json:"first_time"`
	LastTime  time.Time       `json:"last_time"`
	Count     int64           `json:"count"`
}

// groupMap is an insertion-ordered map group-id -> aggregate. Iteration
// order must reflect insertion so suppression flushing is deterministic.
type groupMap struct {
	keys  []string
	items map[string]*HiFreqEventData
}

func newGroupMap() *groupMap {
	return &groupMap{items: make(map[string]*HiFreqEventData)}
}

func (m *groupMap) get(key string) (*HiFreqEventData, bool) {
	v, ok := m.items[key]
	return v, ok
}

func (m *groupMap) set(key string, v *HiFreqEventData) {
	if _, exists := m.items[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.items[key] = v
}

func (m *groupMap) delete(key string) {
	if _, exists := m.items[key]; !exists {
		return
	}
	delete(m.items, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *groupMap) len() int { return len(m.items) }

// orderedKeys returns a copy safe to iterate while mutating the map.
func (m *groupMap) orderedKeys() []string {
	return append([]string(nil), m.keys...)
}

type groupEntry struct {
	Group string           `json:"group"`
	Data  *HiFreqEventData `json:"data"`
}

// MarshalJSON persists entries as an ordered array of pairs.
func (m *groupMap) MarshalJSON() ([]byte, error) {
	entries := make([]groupEntry, 0, len(m.keys))
	for _, k := range m.keys {
		entries = append(entries, groupEntry{Group: k, Data: m.items[k]})
	}
	return json.Marshal(entries)
}

// UnmarshalJSON restores entries preserving order.
func (m *groupMap) UnmarshalJSON(data []byte) error {
	var entries []groupEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	m.keys = nil
	m.items = make(map[string]*HiFreqEventData, len(entries))
	for _, e := range entries {
		m.set(e.Group, e.Data)
	}
	return nil
}

// SourceData is the aggregation state of one source.
type SourceData struct {
	// CurrentTime is the highest event time seen (not wall clock).
	CurrentTime time.Time `json:"current_time"`
	// LastWallSeen is the wall-clock time of the last update, for
	// inactivity detection.
	LastWallSeen time.Time `json:"last_wall_seen"`
	// TimeTolerance is the out-of-order slack window for this source.
	TimeTolerance time.Duration `json:"time_tolerance"`

	Groups *groupMap `json:"groups"`
	Buffer *groupMap `json:"buffer"`
}

func newSourceData(tolerance time.Duration) *SourceData {
	if tolerance <= 0 {
		tolerance = DefaultTimeTolerance
	}
	return &SourceData{
		TimeTolerance: tolerance,
		Groups:        newGroupMap(),
		Buffer:        newGroupMap(),
	}
}

// State is the full aggregator state, snapshotted to disk on shutdown.
type State struct {
	Sources map[string]*SourceData `json:"sources"`
}

// NewState returns an empty aggregator state.
func NewState() *State {
	return &State{Sources: make(map[string]*SourceData)}
}

func (s *State) validate() error {
	for source, sd := range s.Sources {
		if sd == nil || sd.Groups == nil || sd.Buffer == nil {
			return fmt.Errorf("source %q: incomplete snapshot entry", source)
		}
	}
	return nil
}
