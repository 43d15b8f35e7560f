// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package eventdb

import (
	"context"
	"io"
	"testing"

	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/record"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func storedEvent(t *testing.T, id string, fields map[string]any) *record.Record {
	t.Helper()
	rec := record.New()
	base := map[string]any{
		"id":     id,
		"source": "prov.chan",
		"time":   "2024-01-01 12:00:00",
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

func countRows(t *testing.T, db *DB, query string, args ...any) int {
	t.Helper()
	var n int
	if err := db.Conn().QueryRowContext(context.Background(), query, args...).Scan(&n); err != nil {
		t.Fatalf("count query: %v", err)
	}
	return n
}

func TestRecorder_StorePerAddressRows(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, logging.NewTestLogger(io.Discard))

	rec := storedEvent(t, "11111111111111111111111111111111", map[string]any{
		"category": "scanning",
		"address": []record.Address{
			{IP: "1.2.3.4", ASN: 64500, CC: "PL"},
			{IP: "5.6.7.8"},
		},
		"client": []string{"org-a", "org-b"},
	})

	if err := r.Store(context.Background(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}

	if n := countRows(t, db, `SELECT COUNT(*) FROM event`); n != 2 {
		t.Errorf("event rows = %d, want 2", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM client_to_event`); n != 2 {
		t.Errorf("client rows = %d, want 2", n)
	}

	var asn int64
	var cc string
	if err := db.Conn().QueryRowContext(context.Background(),
		`SELECT asn, cc FROM event WHERE ip = ?`, int64(0x01020304)).Scan(&asn, &cc); err != nil {
		t.Fatalf("select annotated row: %v", err)
	}
	if asn != 64500 || cc != "PL" {
		t.Errorf("annotated row = asn %d cc %q", asn, cc)
	}
}

func TestRecorder_PlaceholderRowForAddresslessEvent(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, logging.NewTestLogger(io.Discard))

	rec := storedEvent(t, "22222222222222222222222222222222", map[string]any{"fqdn": "evil.example.com"})
	if err := r.Store(context.Background(), rec); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM event WHERE ip = 0`); n != 1 {
		t.Errorf("placeholder rows = %d, want 1", n)
	}
}

func TestRecorder_DuplicateIsNoOp(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, logging.NewTestLogger(io.Discard))

	rec := storedEvent(t, "33333333333333333333333333333333", map[string]any{
		"address": []record.Address{{IP: "1.2.3.4"}},
		"client":  []string{"org-a"},
	})
	for i := 0; i < 2; i++ {
		if err := r.Store(context.Background(), rec.Clone()); err != nil {
			t.Fatalf("Store #%d: %v", i+1, err)
		}
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM event`); n != 1 {
		t.Errorf("event rows = %d, want 1", n)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM client_to_event`); n != 1 {
		t.Errorf("client rows = %d, want 1", n)
	}
}

func TestRecorder_BlacklistLifecycle(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, logging.NewTestLogger(io.Discard))
	ctx := context.Background()
	id := "44444444444444444444444444444444"

	blNew := storedEvent(t, id, map[string]any{
		"type":    record.TypeBlNew,
		"expires": "2024-02-01 00:00:00",
		"address": []record.Address{{IP: "1.2.3.4"}},
	})
	if err := r.Store(ctx, blNew); err != nil {
		t.Fatalf("bl-new: %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM event WHERE status = 'active'`); n != 1 {
		t.Fatalf("active rows = %d, want 1", n)
	}

	blUpdate := storedEvent(t, id, map[string]any{
		"type":    record.TypeBlUpdate,
		"expires": "2024-03-01 00:00:00",
	})
	if err := r.Store(ctx, blUpdate); err != nil {
		t.Fatalf("bl-update: %v", err)
	}
	var expires string
	if err := db.Conn().QueryRowContext(ctx,
		`SELECT strftime(expires, '%Y-%m-%d') FROM event WHERE status = 'active'`).Scan(&expires); err != nil {
		t.Fatalf("select expires: %v", err)
	}
	if expires != "2024-03-01" {
		t.Errorf("expires = %q, want 2024-03-01", expires)
	}

	blDelist := storedEvent(t, id, map[string]any{"type": record.TypeBlDelist})
	if err := r.Store(ctx, blDelist); err != nil {
		t.Fatalf("bl-delist: %v", err)
	}
	if n := countRows(t, db, `SELECT COUNT(*) FROM event WHERE status = 'delisted'`); n != 1 {
		t.Errorf("delisted rows = %d, want 1", n)
	}
}

func TestIPConversion(t *testing.T) {
	for ip, want := range map[string]uint32{
		"0.0.0.0":         0,
		"0.0.0.1":         1,
		"1.2.3.4":         0x01020304,
		"255.255.255.255": 0xffffffff,
	} {
		got, err := IPToUint32(ip)
		if err != nil {
			t.Fatalf("IPToUint32(%q): %v", ip, err)
		}
		if got != want {
			t.Errorf("IPToUint32(%q) = %d, want %d", ip, got, want)
		}
		if back := Uint32ToIP(got); back != ip {
			t.Errorf("Uint32ToIP(%d) = %q, want %q", got, back, ip)
		}
	}
	if _, err := IPToUint32("not-an-ip"); err == nil {
		t.Error("Expected error for invalid ip")
	}
}

func TestCompile_SelectsStoredEvents(t *testing.T) {
	db := openTestDB(t)
	r := NewRecorder(db, logging.NewTestLogger(io.Discard))
	ctx := context.Background()

	if err := r.Store(ctx, storedEvent(t, "55555555555555555555555555555555", map[string]any{
		"category": "scanning",
		"address":  []record.Address{{IP: "10.1.2.3"}},
	})); err != nil {
		t.Fatal(err)
	}
	if err := r.Store(ctx, storedEvent(t, "66666666666666666666666666666666", map[string]any{
		"category": "malurl",
		"fqdn":     "evil.example.com",
	})); err != nil {
		t.Fatal(err)
	}

	run := func(t *testing.T, params map[string][]string, want int) {
		t.Helper()
		q, err := Compile(params)
		if err != nil {
			t.Fatalf("Compile: %v", err)
		}
		n := countRows(t, db, `SELECT COUNT(*) FROM event WHERE 1=1`+q.Where(), q.Args()...)
		if n != want {
			t.Errorf("matched %d rows, want %d", n, want)
		}
	}

	t.Run("category exact", func(t *testing.T) {
		run(t, map[string][]string{"category": {"scanning"}}, 1)
	})
	t.Run("category in", func(t *testing.T) {
		run(t, map[string][]string{"category": {"scanning", "malurl"}}, 2)
	})
	t.Run("cidr skips placeholder", func(t *testing.T) {
		run(t, map[string][]string{"ip.net": {"10.0.0.0/8"}}, 1)
		run(t, map[string][]string{"ip.net": {"0.0.0.0/0"}}, 1)
	})
	t.Run("fqdn substring", func(t *testing.T) {
		run(t, map[string][]string{"fqdn.sub": {"example"}}, 1)
	})
	t.Run("time window", func(t *testing.T) {
		run(t, map[string][]string{"time.min": {"2024-01-01 00:00:00"}}, 2)
		run(t, map[string][]string{"time.until": {"2024-01-01 12:00:00"}}, 0)
		run(t, map[string][]string{"time.max": {"2024-01-01 12:00:00"}}, 2)
	})
}

func TestCompile_RejectsUnknownParameter(t *testing.T) {
	if _, err := Compile(map[string][]string{"bogus": {"x"}}); err == nil {
		t.Error("Expected error for unknown parameter")
	}
	if _, err := Compile(map[string][]string{"time.bogus": {"2024-01-01"}}); err == nil {
		t.Error("Expected error for unknown time op")
	}
}
