// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package aggregator

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/metrics"
	"github.com/sixgate/sixgate/internal/pipeline"
	"github.com/sixgate/sixgate/internal/record"
)

// ErrOutOfOrder marks an event older than the tolerance window with no
// aggregate to attribute it to. Drop semantics, never requeued.
var ErrOutOfOrder = fmt.Errorf("event out of order")

// Processor applies the aggregation state machine. Not safe for concurrent
// use; each stage instance owns one processor (one message at a time).
type Processor struct {
	state         *State
	timeTolerance time.Duration
	logger        zerolog.Logger

	// now is injectable for tests.
	now func() time.Time
}

// NewProcessor wraps existing state (typically restored from a snapshot).
func NewProcessor(state *State, tolerance time.Duration, logger zerolog.Logger) *Processor {
	if tolerance <= 0 {
		tolerance = DefaultTimeTolerance
	}
	return &Processor{
		state:         state,
		timeTolerance: tolerance,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// State exposes the underlying state for snapshotting.
func (p *Processor) State() *State { return p.state }

// Process handles one input event. It returns the first-in-group event to
// publish (nil when the input was absorbed into an aggregate) plus any
// suppressed summary events that became final.
func (p *Processor) Process(rec *record.Record) (first *record.Record, suppressed []*record.Record, err error) {
	source := rec.Source()
	group, ok := rec.Group()
	if !ok {
		return nil, nil, pipeline.Permanent("input_shape", fmt.Errorf("hifreq event without _group"))
	}
	t, ok := rec.Time()
	if !ok {
		return nil, nil, pipeline.Permanent("input_shape", fmt.Errorf("event without time"))
	}

	src, exists := p.state.Sources[source]
	if !exists {
		src = newSourceData(p.timeTolerance)
		src.CurrentTime = t
		p.state.Sources[source] = src
	}

	publish, err := p.apply(source, src, group, t, rec)
	if err != nil {
		return nil, nil, err
	}

	if t.After(src.CurrentTime) {
		src.CurrentTime = t
	}
	src.LastWallSeen = p.now()

	suppressed = p.finalizeQuietGroups(src)
	metrics.AggregatorGroups.WithLabelValues(source).Set(float64(src.Groups.len()))

	if publish {
		first = firstOfGroup(rec)
	}
	return first, suppressed, nil
}

// apply runs the decision steps for one event; reports whether the event is
// republished as the first of a fresh aggregate.
func (p *Processor) apply(source string, src *SourceData, group string, t time.Time, rec *record.Record) (bool, error) {
	// Older than the tolerance window.
	if t.Add(src.TimeTolerance).Before(src.CurrentTime) {
		active, known := src.Groups.get(group)
		if !known || t.Before(active.FirstTime) {
			p.logger.Warn().
				Str("source", source).
				Str("group", group).
				Time("event_time", t).
				Time("current_time", src.CurrentTime).
				Msg("Event out of order")
			metrics.OutOfOrderTotal.WithLabelValues(source).Inc()
			return false, pipeline.Permanent("out_of_order", ErrOutOfOrder)
		}
		if t.After(active.LastTime) {
			active.LastTime = t
		}
		active.Count++
		return false, nil
	}

	active, known := src.Groups.get(group)
	if !known {
		// A late arrival right after a rollover still belongs to the
		// buffered previous aggregate.
		if t.Before(src.CurrentTime) {
			if buffered, ok := src.Buffer.get(group); ok {
				buffered.Count++
				return false, nil
			}
		}
		src.Groups.set(group, newAggregate(rec, t))
		return true, nil
	}

	// Group is active: roll it over after a long gap or on a new
	// calendar day (UTC), otherwise absorb.
	if t.After(active.LastTime.Add(AggregateWait)) || laterDay(t, src.CurrentTime) {
		src.Buffer.set(group, active)
		src.Groups.delete(group)
		src.Groups.set(group, newAggregate(rec, t))
		return true, nil
	}

	active.Count++
	if t.After(active.LastTime) {
		active.LastTime = t
	}
	return false, nil
}

// finalizeQuietGroups moves long-quiet groups to the buffer and emits the
// summaries whose tolerance window has fully passed.
func (p *Processor) finalizeQuietGroups(src *SourceData) []*record.Record {
	// Groups quiet for AggregateWait and from a previous calendar day
	// are rolled into the buffer.
	cutoff := src.CurrentTime.Add(-AggregateWait)
	for _, group := range src.Groups.orderedKeys() {
		data, _ := src.Groups.get(group)
		if data.LastTime.Before(cutoff) && earlierDay(data.LastTime, src.CurrentTime) {
			src.Buffer.set(group, data)
			src.Groups.delete(group)
		}
	}

	// Buffered aggregates past the tolerance window are final.
	var out []*record.Record
	final := src.CurrentTime.Add(-src.TimeTolerance)
	for _, group := range src.Buffer.orderedKeys() {
		data, _ := src.Buffer.get(group)
		if data.LastTime.Before(final) {
			src.Buffer.delete(group)
			if data.Count > 1 {
				if sup := p.suppressedEvent(data); sup != nil {
					out = append(out, sup)
				}
			}
		}
	}
	return out
}

// FlushInactive emits the summaries of every source whose last activity
// (wall clock) is older than SourceInactivityTimeout, then clears it.
func (p *Processor) FlushInactive() []*record.Record {
	var out []*record.Record
	deadline := p.now().Add(-SourceInactivityTimeout)
	for source, src := range p.state.Sources {
		if src.LastWallSeen.After(deadline) || src.LastWallSeen.IsZero() {
			continue
		}
		p.logger.Info().Str("source", source).Msg("Source inactive, flushing pending aggregates")
		out = append(out, p.flushAll(src)...)
		metrics.AggregatorGroups.WithLabelValues(source).Set(0)
		delete(p.state.Sources, source)
	}
	return out
}

// FlushAll finalizes everything (used by operator tooling, not shutdown:
// shutdown snapshots instead).
func (p *Processor) FlushAll() []*record.Record {
	var out []*record.Record
	for source, src := range p.state.Sources {
		out = append(out, p.flushAll(src)...)
		delete(p.state.Sources, source)
	}
	return out
}

func (p *Processor) flushAll(src *SourceData) []*record.Record {
	var out []*record.Record
	for _, group := range src.Groups.orderedKeys() {
		data, _ := src.Groups.get(group)
		if data.Count > 1 {
			if sup := p.suppressedEvent(data); sup != nil {
				out = append(out, sup)
			}
		}
		src.Groups.delete(group)
	}
	for _, group := range src.Buffer.orderedKeys() {
		data, _ := src.Buffer.get(group)
		if data.Count > 1 {
			if sup := p.suppressedEvent(data); sup != nil {
				out = append(out, sup)
			}
		}
		src.Buffer.delete(group)
	}
	return out
}

// suppressedEvent builds the summary record from a finished aggregate.
func (p *Processor) suppressedEvent(data *HiFreqEventData) *record.Record {
	rec, err := record.FromJSON(data.Payload)
	if err != nil {
		// Snapshot corruption; the aggregate payload was validated on
		// the way in, so this should not happen.
		p.logger.Error().Err(err).Msg("Dropping unreadable aggregate payload")
		return nil
	}
	rec.Delete("_group")
	if err := rec.Set("type", record.TypeSuppressed); err != nil {
		return nil
	}
	if err := rec.Set("count", data.Count); err != nil {
		return nil
	}
	if err := rec.Set("until", data.LastTime); err != nil {
		return nil
	}
	_ = rec.Set("time", data.FirstTime)
	return rec
}

// newAggregate starts a fresh aggregate from an input event.
func newAggregate(rec *record.Record, t time.Time) *HiFreqEventData {
	payload, _ := rec.ReadyJSON()
	return &HiFreqEventData{
		Payload:   payload,
		FirstTime: t,
		LastTime:  t,
		Count:     1,
	}
}

// firstOfGroup prepares the first event of a fresh aggregate for publishing.
func firstOfGroup(rec *record.Record) *record.Record {
	out := rec.Clone()
	out.Delete("_group")
	_ = out.Set("type", record.TypeEvent)
	return out
}

func laterDay(t, ref time.Time) bool {
	ty, tm, td := t.UTC().Date()
	ry, rm, rd := ref.UTC().Date()
	return ty > ry || (ty == ry && (tm > rm || (tm == rm && td > rd)))
}

func earlierDay(t, ref time.Time) bool {
	return laterDay(ref, t)
}
