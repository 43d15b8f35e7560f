// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package record

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestFromJSON(t *testing.T) {
	t.Run("valid record", func(t *testing.T) {
		data := []byte(`{
			"id": "0123456789abcdef0123456789abcdef",
			"source": "provider.channel",
			"category": "bots",
			"restriction": "public",
			"confidence": "medium",
			"time": "2024-01-01 00:00:00",
			"address": [{"ip": "1.2.3.4", "asn": 64500, "cc": "pl"}],
			"sport": 1024,
			"proto": "tcp"
		}`)
		r, err := FromJSON(data)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if r.Source() != "provider.channel" {
			t.Errorf("Expected source=provider.channel, got %s", r.Source())
		}
		addrs := r.Addresses()
		if len(addrs) != 1 || addrs[0].IP != "1.2.3.4" || addrs[0].ASN != 64500 {
			t.Errorf("Unexpected addresses: %+v", addrs)
		}
		if addrs[0].CC != "PL" {
			t.Errorf("Expected cc uppercased, got %q", addrs[0].CC)
		}
		ts, ok := r.Time()
		if !ok || !ts.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("Unexpected time: %v", ts)
		}
	})

	t.Run("malformed JSON", func(t *testing.T) {
		if _, err := FromJSON([]byte(`{broken`)); err == nil {
			t.Error("Expected error for malformed JSON")
		}
	})

	t.Run("unknown key rejected", func(t *testing.T) {
		_, err := FromJSON([]byte(`{"source": "a.b", "bogus": 1}`))
		if err == nil {
			t.Error("Expected error for unknown key")
		}
	})

	t.Run("transient bl series keys accepted", func(t *testing.T) {
		r, err := FromJSON([]byte(`{"source": "a.b", "_bl-series-no": 3, "_bl-series-id": "0123456789abcdef0123456789abcdef"}`))
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if v, ok := r.Get("_bl-series-no"); !ok || v.(int64) != 3 {
			t.Errorf("Expected _bl-series-no=3, got %v", v)
		}
	})

	t.Run("adjuster failure surfaces field", func(t *testing.T) {
		_, err := FromJSON([]byte(`{"source": "NotLower"}`))
		if err == nil || !strings.Contains(err.Error(), "source") {
			t.Errorf("Expected source adjuster error, got %v", err)
		}
	})
}

func TestAdjusters(t *testing.T) {
	t.Run("empty address list dropped", func(t *testing.T) {
		r := New()
		if err := r.Set("address", []any{}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if r.Has("address") {
			t.Error("Empty address sequence must be absent, never []")
		}
	})

	t.Run("client sorted and deduplicated", func(t *testing.T) {
		r := New()
		if err := r.Set("client", []any{"org-b", "org-a", "org-b"}); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		clients := r.Clients()
		if len(clients) != 2 || clients[0] != "org-a" || clients[1] != "org-b" {
			t.Errorf("Expected sorted dedup list, got %v", clients)
		}
	})

	t.Run("client org id regex", func(t *testing.T) {
		r := New()
		if err := r.Set("client", []any{"Bad Org!"}); err == nil {
			t.Error("Expected error for invalid org id")
		}
		if err := r.Set("client", []any{strings.Repeat("a", 33)}); err == nil {
			t.Error("Expected error for over-long org id")
		}
	})

	t.Run("url non-ascii escaped", func(t *testing.T) {
		r := New()
		if err := r.Set("url", "http://example.com/ż"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		u := r.URL()
		for i := 0; i < len(u); i++ {
			if u[i] >= 0x7f || u[i] < 0x20 {
				t.Fatalf("URL not ASCII-escaped: %q", u)
			}
		}
	})

	t.Run("sport range", func(t *testing.T) {
		r := New()
		if err := r.Set("sport", 65536); err == nil {
			t.Error("Expected error for sport out of range")
		}
		if err := r.Set("sport", 0); err != nil {
			t.Errorf("Port 0 must be accepted: %v", err)
		}
	})

	t.Run("fqdn tolerates underscore", func(t *testing.T) {
		r := New()
		if err := r.Set("fqdn", "_dmarc.Example.COM."); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if r.FQDN() != "_dmarc.example.com" {
			t.Errorf("Expected lowercased fqdn, got %q", r.FQDN())
		}
	})

	t.Run("placeholder ip accepted", func(t *testing.T) {
		r := New()
		if err := r.Set("address", []any{map[string]any{"ip": PlaceholderIP}}); err != nil {
			t.Errorf("Placeholder IP must pass the adjuster: %v", err)
		}
	})

	t.Run("anonymized ip", func(t *testing.T) {
		r := New()
		if err := r.Set("adip", "x.x.2.3"); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		if err := r.Set("adip", "1.2.3.4"); err == nil {
			t.Error("adip without x labels must be rejected")
		}
	})
}

func TestReadyJSONRoundTrip(t *testing.T) {
	r := New()
	mustSet := func(key string, v any) {
		t.Helper()
		if err := r.Set(key, v); err != nil {
			t.Fatalf("Set(%s): %v", key, err)
		}
	}
	mustSet("id", "0123456789abcdef0123456789abcdef")
	mustSet("source", "provider.channel")
	mustSet("category", "cnc")
	mustSet("restriction", "need-to-know")
	mustSet("confidence", "high")
	mustSet("time", "2024-06-01 12:30:00")
	mustSet("address", []any{map[string]any{"ip": "8.8.8.8", "asn": 15169, "cc": "US"}})
	mustSet("dport", 0)
	mustSet("fqdn", "cnc.example.org")
	mustSet("client", []any{"org-a"})
	mustSet("enriched", Enriched{TopLevel: []string{"fqdn"}, Address: map[string][]string{"8.8.8.8": {"asn", "cc"}}})

	wire, err := r.ReadyJSON()
	if err != nil {
		t.Fatalf("ReadyJSON: %v", err)
	}

	back, err := FromJSON(wire)
	if err != nil {
		t.Fatalf("FromJSON(ReadyJSON): %v", err)
	}
	wire2, err := back.ReadyJSON()
	if err != nil {
		t.Fatalf("second ReadyJSON: %v", err)
	}
	if string(wire) != string(wire2) {
		t.Errorf("Round trip not stable:\n%s\n%s", wire, wire2)
	}

	// dport=0 must be preserved, not stripped.
	var decoded map[string]any
	if err := json.Unmarshal(wire, &decoded); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if v, ok := decoded["dport"]; !ok || v.(float64) != 0 {
		t.Errorf("Expected dport=0 preserved, got %v", decoded["dport"])
	}
	if _, ok := decoded["url"]; ok {
		t.Error("Absent keys must not be serialized")
	}
}

func TestEnsureID(t *testing.T) {
	build := func() *Record {
		r := New()
		_ = r.Set("source", "provider.channel")
		_ = r.Set("category", "scanning")
		_ = r.Set("time", "2024-01-01 00:00:00")
		_ = r.Set("address", []any{map[string]any{"ip": "1.2.3.4"}})
		return r
	}

	t.Run("deterministic", func(t *testing.T) {
		a, b := build(), build()
		a.EnsureID()
		b.EnsureID()
		if a.ID() == "" || a.ID() != b.ID() {
			t.Errorf("Expected identical ids, got %q vs %q", a.ID(), b.ID())
		}
		if !reHex32.MatchString(a.ID()) {
			t.Errorf("id is not 32 hex chars: %q", a.ID())
		}
	})

	t.Run("assigned once", func(t *testing.T) {
		a := build()
		a.EnsureID()
		id := a.ID()
		_ = a.Set("category", "cnc")
		a.EnsureID()
		if a.ID() != id {
			t.Error("EnsureID must not reassign an existing id")
		}
	})

	t.Run("payload-sensitive", func(t *testing.T) {
		a, b := build(), build()
		_ = b.Set("category", "cnc")
		a.EnsureID()
		b.EnsureID()
		if a.ID() == b.ID() {
			t.Error("Different payloads must hash to different ids")
		}
	})
}

func TestClone(t *testing.T) {
	r := New()
	_ = r.Set("source", "provider.channel")
	_ = r.Set("address", []any{map[string]any{"ip": "1.2.3.4"}})
	_ = r.Set("client", []any{"org-a"})

	cp := r.Clone()
	addrs := cp.Addresses()
	addrs[0].IP = "9.9.9.9"
	cp.SetAddresses(addrs)

	if r.Addresses()[0].IP != "1.2.3.4" {
		t.Error("Clone must be a deep copy")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Record {
		r := New()
		_ = r.Set("id", "0123456789abcdef0123456789abcdef")
		_ = r.Set("source", "provider.channel")
		_ = r.Set("time", "2024-01-01 10:00:00")
		return r
	}

	t.Run("ok", func(t *testing.T) {
		if err := base().Validate(); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	})

	t.Run("modified before time", func(t *testing.T) {
		r := base()
		_ = r.Set("modified", "2024-01-01 09:00:00")
		if err := r.Validate(); err == nil {
			t.Error("Expected error: time must be <= modified")
		}
	})

	t.Run("expires before time", func(t *testing.T) {
		r := base()
		_ = r.Set("expires", "2023-12-31 00:00:00")
		if err := r.Validate(); err == nil {
			t.Error("Expected error: time must be <= expires")
		}
	})
}

func TestRoutingKey(t *testing.T) {
	r := New()
	_ = r.Set("source", "provider.channel")
	if got := r.RoutingKey(StageParsed); got != "event.parsed.provider.channel" {
		t.Errorf("Expected default type event, got %s", got)
	}
	_ = r.Set("type", TypeSuppressed)
	if got := r.RoutingKey(StageAggregated); got != "suppressed.aggregated.provider.channel" {
		t.Errorf("Unexpected routing key %s", got)
	}
}

func TestEnrichedWireForm(t *testing.T) {
	e := Enriched{TopLevel: []string{"fqdn"}, Address: map[string][]string{"1.2.3.4": {"asn"}}}
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if data[0] != '[' {
		t.Fatalf("Expected pair (array) wire form, got %s", data)
	}
	var back Enriched
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(back.TopLevel) != 1 || back.TopLevel[0] != "fqdn" || len(back.Address["1.2.3.4"]) != 1 {
		t.Errorf("Round trip mismatch: %+v", back)
	}
}
