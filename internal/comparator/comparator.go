// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package comparator turns whole-blacklist snapshots into lifecycle events.
//
// Parsers emit each blacklist as a numbered series of "bl" records carrying
// transient _bl-series-* control keys. Once a series is complete, the
// comparator diffs it against the previously seen state of that source and
// emits bl-new / bl-change / bl-update / bl-delist / bl-expire events that
// re-enter the flow ahead of the enricher.
package comparator

import (
	"crypto/md5" //nolint:gosec // Payload digest for change detection only
	"encoding/hex"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// Transient series control keys set by blacklist parsers.
const (
	KeySeriesID    = "_bl-series-id"
	KeySeriesNo    = "_bl-series-no"
	KeySeriesTotal = "_bl-series-total"
)

// EntryState is what the comparator remembers about one blacklist entry.
type EntryState struct {
	Time    time.Time       `json:"time"`
	Expires time.Time       `json:"expires,omitempty"`
	Digest  string          `json:"digest"`
	Payload json.RawMessage `json:"payload"`
}

// SourceState is the remembered blacklist of one source.
type SourceState struct {
	Entries map[string]*EntryState `json:"entries"`
}

// State is the full comparator state, persisted across restarts.
type State struct {
	Sources map[string]*SourceState `json:"sources"`
}

// NewState returns an empty comparator state.
func NewState() *State {
	return &State{Sources: make(map[string]*SourceState)}
}

// series is one partially collected blacklist snapshot.
type series struct {
	id      string
	total   int64
	records []*record.Record
	seen    map[int64]struct{}
}

// Comparator collects series and produces lifecycle events. Not safe for
// concurrent use; the stage serializes access.
type Comparator struct {
	state  *State
	open   map[string]*series // keyed by source
	logger zerolog.Logger
	now    func() time.Time
}

// NewComparator wraps restored state.
func NewComparator(state *State, logger zerolog.Logger) *Comparator {
	return &Comparator{
		state:  state,
		open:   make(map[string]*series),
		logger: logger.With().Str("component", "comparator").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// State exposes the underlying state for snapshotting.
func (c *Comparator) State() *State { return c.state }

// Process buffers one series record. When the record completes its series,
// the diff against remembered state is returned as lifecycle events.
func (c *Comparator) Process(rec *record.Record) ([]*record.Record, error) {
	source := rec.Source()
	seriesID, no, total, err := seriesKeys(rec)
	if err != nil {
		return nil, pipeline.Permanent("input_shape", err)
	}

	cur, ok := c.open[source]
	if !ok || cur.id != seriesID {
		if ok {
			c.logger.Warn().
				Str("source", source).
				Str("abandoned_series", cur.id).
				Int("collected", len(cur.records)).
				Msg("New series started before the previous one completed")
		}
		cur = &series{id: seriesID, total: total, seen: make(map[int64]struct{})}
		c.open[source] = cur
	}

	if _, dup := cur.seen[no]; dup {
		return nil, nil
	}
	cur.seen[no] = struct{}{}
	cur.records = append(cur.records, rec)

	if int64(len(cur.records)) < cur.total {
		return nil, nil
	}
	delete(c.open, source)
	return c.diff(source, cur.records)
}

// diff compares a complete snapshot against remembered state and replaces it.
func (c *Comparator) diff(source string, records []*record.Record) ([]*record.Record, error) {
	prev, ok := c.state.Sources[source]
	if !ok {
		prev = &SourceState{Entries: make(map[string]*EntryState)}
	}
	next := &SourceState{Entries: make(map[string]*EntryState, len(records))}
	now := c.now()

	var out []*record.Record
	for _, rec := range records {
		entry, digest, err := entryFor(rec)
		if err != nil {
			return nil, pipeline.Permanent("input_shape", err)
		}
		id := rec.ID()
		next.Entries[id] = entry

		var blType string
		switch old, known := prev.Entries[id]; {
		case !entry.Expires.IsZero() && entry.Expires.Before(now):
			blType = record.TypeBlExpire
		case !known:
			blType = record.TypeBlNew
		case old.Digest != digest:
			blType = record.TypeBlChange
		default:
			blType = record.TypeBlUpdate
		}
		ev, err := lifecycleEvent(rec, blType)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	// Entries that vanished from the snapshot are delisted.
	for id, old := range prev.Entries {
		if _, still := next.Entries[id]; still {
			continue
		}
		rec, err := record.FromJSON(old.Payload)
		if err != nil {
			c.logger.Error().Err(err).Str("entry_id", id).Msg("Dropping unreadable remembered entry")
			continue
		}
		ev, err := lifecycleEvent(rec, record.TypeBlDelist)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}

	c.state.Sources[source] = next
	return out, nil
}

// lifecycleEvent rewrites a snapshot record as one lifecycle event,
// stripping the series control keys.
func lifecycleEvent(rec *record.Record, blType string) (*record.Record, error) {
	out := rec.Clone()
	for _, key := range []string{KeySeriesID, KeySeriesNo, KeySeriesTotal} {
		out.Delete(key)
	}
	if err := out.Set("type", blType); err != nil {
		return nil, pipeline.Permanent("input_shape", err)
	}
	return out, nil
}

// entryFor digests the payload without its volatile series keys.
func entryFor(rec *record.Record) (*EntryState, string, error) {
	stripped := rec.Clone()
	for _, key := range []string{KeySeriesID, KeySeriesNo, KeySeriesTotal} {
		stripped.Delete(key)
	}
	payload, err := stripped.ReadyJSON()
	if err != nil {
		return nil, "", err
	}
	sum := md5.Sum(payload) //nolint:gosec
	digest := hex.EncodeToString(sum[:])

	t, ok := rec.Time()
	if !ok {
		return nil, "", fmt.Errorf("blacklist entry without time")
	}
	entry := &EntryState{Time: t, Digest: digest, Payload: payload}
	if expires, ok := rec.Expires(); ok {
		entry.Expires = expires
	}
	return entry, digest, nil
}

func seriesKeys(rec *record.Record) (id string, no, total int64, err error) {
	rawID, ok := rec.Get(KeySeriesID)
	if !ok {
		return "", 0, 0, fmt.Errorf("blacklist record without %s", KeySeriesID)
	}
	switch v := rawID.(type) {
	case string:
		id = v
	case int64:
		id = fmt.Sprintf("%d", v)
	default:
		return "", 0, 0, fmt.Errorf("%s is not a scalar", KeySeriesID)
	}
	no, err = intKey(rec, KeySeriesNo)
	if err != nil {
		return "", 0, 0, err
	}
	total, err = intKey(rec, KeySeriesTotal)
	if err != nil {
		return "", 0, 0, err
	}
	if total <= 0 || no < 1 || no > total {
		return "", 0, 0, fmt.Errorf("inconsistent series numbering %d/%d", no, total)
	}
	return id, no, total, nil
}

func intKey(rec *record.Record, key string) (int64, error) {
	raw, ok := rec.Get(key)
	if !ok {
		return 0, fmt.Errorf("blacklist record without %s", key)
	}
	n, ok := raw.(int64)
	if !ok {
		return 0, fmt.Errorf("%s is not an integer", key)
	}
	return n, nil
}
