// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package record implements the canonical event envelope passed between
// pipeline stages.
//
// A Record is a mutable key-value structure with a fixed set of recognized
// keys. Every key has an adjuster that normalizes raw input (and rejects
// malformed values), so downstream stages can trust field invariants without
// re-validating. Keys that are absent or null are omitted from the wire form.
//
// Transient control keys (underscore-prefixed, e.g. "_group" and the
// "_bl-*" series keys) are carried between stages but never surfaced in
// client-facing output.
package record

import (
	"crypto/md5" //nolint:gosec // Not used for security; deterministic event id only
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Event types carried in the "type" key and in routing keys.
const (
	TypeEvent      = "event"
	TypeHifreq     = "hifreq"
	TypeSuppressed = "suppressed"
	TypeBl         = "bl"
	TypeBlNew      = "bl-new"
	TypeBlUpdate   = "bl-update"
	TypeBlChange   = "bl-change"
	TypeBlDelist   = "bl-delist"
	TypeBlExpire   = "bl-expire"
)

// Pipeline stage names used as the middle token of routing keys.
const (
	StageParsed     = "parsed"
	StageAggregated = "aggregated"
	StageEnriched   = "enriched"
	StageFiltered   = "filtered"
)

// PlaceholderIP is the "no IP" marker; it is stored as 0 in the Event DB
// and stripped from client-facing JSON.
const PlaceholderIP = "0.0.0.0"

// TimeLayout is the wire format for all date-time values (UTC, no zone suffix).
const TimeLayout = "2006-01-02 15:04:05"

// Address is one entry of the "address" sequence.
type Address struct {
	IP  string `json:"ip"`
	ASN int64  `json:"asn,omitempty"`
	CC  string `json:"cc,omitempty"`
}

// Enriched records enrichment provenance: which top-level keys the enricher
// added, and which per-address keys it added for each IP.
//
// Wire form is a two-element array: [["fqdn"], {"1.2.3.4": ["asn", "cc"]}].
type Enriched struct {
	TopLevel []string
	Address  map[string][]string
}

// MarshalJSON encodes the provenance pair in its wire form.
func (e Enriched) MarshalJSON() ([]byte, error) {
	top := e.TopLevel
	if top == nil {
		top = []string{}
	}
	addr := e.Address
	if addr == nil {
		addr = map[string][]string{}
	}
	return json.Marshal([2]any{top, addr})
}

// UnmarshalJSON decodes the provenance pair from its wire form.
func (e *Enriched) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &e.TopLevel); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &e.Address)
}

// Record is the canonical event. Values stored under each key are always in
// canonical form (adjusters run on every write path).
type Record struct {
	fields map[string]any
}

// New returns an empty record.
func New() *Record {
	return &Record{fields: make(map[string]any)}
}

// FromJSON parses wire bytes and runs adjusters on every key.
// Unknown keys (other than the transient "_bl-*" series) are rejected.
func FromJSON(data []byte) (*Record, error) {
	var raw map[string]any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, &EnvelopeError{Msg: "malformed record JSON", Err: err}
	}
	r := New()
	for key, value := range raw {
		if value == nil {
			continue
		}
		if err := r.Set(key, value); err != nil {
			return nil, &EnvelopeError{Msg: "record rejected", Err: err}
		}
	}
	return r, nil
}

// Set adjusts and stores a value under key. A nil canonical result
// (e.g. an empty "address" list) deletes the key.
func (r *Record) Set(key string, value any) error {
	spec, ok := lookupField(key)
	if !ok {
		return adjusterErr(key, "unrecognized key")
	}
	canonical, err := spec.adjust(value)
	if err != nil {
		return err
	}
	if canonical == nil {
		delete(r.fields, key)
		return nil
	}
	r.fields[key] = canonical
	return nil
}

// Delete removes a key.
func (r *Record) Delete(key string) { delete(r.fields, key) }

// Get returns the canonical value stored under key.
func (r *Record) Get(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Keys returns the present keys in registry order (transient keys last).
func (r *Record) Keys() []string {
	out := make([]string, 0, len(r.fields))
	for _, key := range fieldOrder {
		if _, ok := r.fields[key]; ok {
			out = append(out, key)
		}
	}
	var transient []string
	for key := range r.fields {
		if strings.HasPrefix(key, "_bl-") {
			transient = append(transient, key)
		}
	}
	sort.Strings(transient)
	return append(out, transient...)
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	out := New()
	for key, value := range r.fields {
		out.fields[key] = cloneValue(value)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []Address:
		cp := make([]Address, len(val))
		copy(cp, val)
		return cp
	case []string:
		cp := make([]string, len(val))
		copy(cp, val)
		return cp
	case Enriched:
		cp := Enriched{TopLevel: append([]string(nil), val.TopLevel...)}
		if val.Address != nil {
			cp.Address = make(map[string][]string, len(val.Address))
			for ip, keys := range val.Address {
				cp.Address[ip] = append([]string(nil), keys...)
			}
		}
		return cp
	default:
		return v
	}
}

// ReadyJSON serializes the record for the wire, iterating the field registry
// and stripping absent values. Empty address/client sequences never appear
// (adjusters already drop them); numeric zero and false are preserved.
// Transient keys are included: stages consume them before events leave the
// pipeline.
func (r *Record) ReadyJSON() ([]byte, error) {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, key := range r.Keys() {
		spec, ok := lookupField(key)
		var encoded any
		if ok && spec.encode != nil {
			encoded = spec.encode(r.fields[key])
		} else {
			encoded = r.fields[key]
		}
		raw, err := json.Marshal(encoded)
		if err != nil {
			return nil, fmt.Errorf("marshal field %q: %w", key, err)
		}
		if !first {
			b.WriteByte(',')
		}
		first = false
		keyJSON, _ := json.Marshal(key)
		b.Write(keyJSON)
		b.WriteByte(':')
		b.Write(raw)
	}
	b.WriteByte('}')
	return []byte(b.String()), nil
}

// Validate checks cross-field invariants on a record about to be published.
func (r *Record) Validate() error {
	if !r.Has("id") {
		return adjusterErr("id", "required")
	}
	if !r.Has("source") {
		return adjusterErr("source", "required")
	}
	t, hasTime := r.Time()
	if !hasTime {
		return adjusterErr("time", "required")
	}
	if mod, ok := r.timeField("modified"); ok && t.After(mod) {
		return adjusterErr("modified", "earlier than event time")
	}
	if exp, ok := r.timeField("expires"); ok && t.After(exp) {
		return adjusterErr("expires", "earlier than event time")
	}
	return nil
}

// EnsureID computes and assigns the deterministic event id when absent:
// an MD5 digest over the canonicalized payload (sorted key=value pairs of
// all persistent keys except id and modified).
func (r *Record) EnsureID() {
	if r.Has("id") {
		return
	}
	var parts []string
	for _, key := range fieldOrder {
		if key == "id" || key == "modified" || strings.HasPrefix(key, "_") {
			continue
		}
		value, ok := r.fields[key]
		if !ok {
			continue
		}
		spec, _ := lookupField(key)
		encoded := value
		if spec.encode != nil {
			encoded = spec.encode(value)
		}
		raw, err := json.Marshal(encoded)
		if err != nil {
			continue
		}
		parts = append(parts, key+"="+string(raw))
	}
	sort.Strings(parts)
	sum := md5.Sum([]byte(strings.Join(parts, ","))) //nolint:gosec // id, not auth
	r.fields["id"] = hex.EncodeToString(sum[:])
}

// --- typed accessors used across stages ---

// ID returns the hex event id.
func (r *Record) ID() string { return r.stringField("id") }

// Source returns the <provider>.<channel> source id.
func (r *Record) Source() string { return r.stringField("source") }

// TypeName returns the event type, defaulting to "event" when absent.
func (r *Record) TypeName() string {
	if t := r.stringField("type"); t != "" {
		return t
	}
	return TypeEvent
}

// Category returns the event category.
func (r *Record) Category() string { return r.stringField("category") }

// DoNotResolveFQDN reports whether the parser asked to skip DNS resolution.
func (r *Record) DoNotResolveFQDN() bool {
	v, _ := r.fields["_do_not_resolve_fqdn_to_ip"].(bool)
	return v
}

// Group returns the transient aggregation group key.
func (r *Record) Group() (string, bool) {
	g, ok := r.fields["_group"].(string)
	return g, ok
}

// Time returns the event occurrence time.
func (r *Record) Time() (time.Time, bool) { return r.timeField("time") }

// Expires returns the blacklist expiry time.
func (r *Record) Expires() (time.Time, bool) { return r.timeField("expires") }

// Until returns the end of a suppressed summary's time window.
func (r *Record) Until() (time.Time, bool) { return r.timeField("until") }

// Count returns the suppressed summary's event count.
func (r *Record) Count() (int64, bool) {
	v, ok := r.fields["count"].(int64)
	return v, ok
}

// URL returns the url field.
func (r *Record) URL() string { return r.stringField("url") }

// FQDN returns the fqdn field.
func (r *Record) FQDN() string { return r.stringField("fqdn") }

// Addresses returns a copy of the address sequence.
func (r *Record) Addresses() []Address {
	v, ok := r.fields["address"].([]Address)
	if !ok {
		return nil
	}
	return append([]Address(nil), v...)
}

// SetAddresses replaces the address sequence (empty deletes the key).
func (r *Record) SetAddresses(addrs []Address) {
	if len(addrs) == 0 {
		delete(r.fields, "address")
		return
	}
	r.fields["address"] = addrs
}

// Clients returns the sorted client org-id list.
func (r *Record) Clients() []string {
	v, ok := r.fields["client"].([]string)
	if !ok {
		return nil
	}
	return append([]string(nil), v...)
}

// EnrichedInfo returns the enrichment provenance pair.
func (r *Record) EnrichedInfo() (Enriched, bool) {
	v, ok := r.fields["enriched"].(Enriched)
	return v, ok
}

// RoutingKey builds the AMQP routing key <type>.<stage>.<source> for this
// record at the given pipeline stage.
func (r *Record) RoutingKey(stage string) string {
	return r.TypeName() + "." + stage + "." + r.Source()
}

func (r *Record) stringField(key string) string {
	v, _ := r.fields[key].(string)
	return v
}

func (r *Record) timeField(key string) (time.Time, bool) {
	v, ok := r.fields[key].(time.Time)
	return v, ok
}
