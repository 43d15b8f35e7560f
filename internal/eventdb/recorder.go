// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package eventdb

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/metrics"
	"github.com/sixgate/sixgate/internal/record"
)

// eventRow is the flattened columnar form of one (event, address) pair.
type eventRow struct {
	ID          []byte
	RID         []byte
	Source      string
	Origin      sql.NullString
	Restriction sql.NullString
	Confidence  sql.NullString
	Category    sql.NullString
	Time        time.Time
	Modified    sql.NullTime
	Expires     sql.NullTime
	IP          uint32
	ASN         sql.NullInt64
	CC          sql.NullString
	DIP         sql.NullInt64
	DPort       sql.NullInt64
	SPort       sql.NullInt64
	Proto       sql.NullString
	FQDN        sql.NullString
	URL         sql.NullString
	Name        sql.NullString
	Target      sql.NullString
	MD5         []byte
	SHA1        []byte
	SHA256      []byte
	Status      sql.NullString
	Replaces    []byte
	Custom      sql.NullString
}

// Recorder persists filtered events.
type Recorder struct {
	db     *DB
	logger zerolog.Logger
}

// NewRecorder wraps an open Event DB.
func NewRecorder(db *DB, logger zerolog.Logger) *Recorder {
	return &Recorder{
		db:     db,
		logger: logger.With().Str("component", "recorder").Logger(),
	}
}

// Store upserts one event: one row per address (or a single placeholder
// row), client join rows, and blacklist lifecycle transitions.
func (r *Recorder) Store(ctx context.Context, rec *record.Record) error {
	start := time.Now()
	defer func() {
		metrics.EventDBWriteDuration.Observe(time.Since(start).Seconds())
	}()

	switch rec.TypeName() {
	case record.TypeBlUpdate:
		return r.blUpdate(ctx, rec)
	case record.TypeBlDelist:
		return r.blSetStatus(ctx, rec, "delisted")
	case record.TypeBlExpire:
		return r.blSetStatus(ctx, rec, "expired")
	case record.TypeBlChange:
		return r.blChange(ctx, rec)
	default:
		return r.insert(ctx, rec, blacklistStatus(rec))
	}
}

// blacklistStatus returns the initial status column value for insert types.
func blacklistStatus(rec *record.Record) sql.NullString {
	switch rec.TypeName() {
	case record.TypeBl, record.TypeBlNew:
		return sql.NullString{String: "active", Valid: true}
	default:
		return sql.NullString{}
	}
}

func (r *Recorder) insert(ctx context.Context, rec *record.Record, status sql.NullString) error {
	rows, err := flatten(rec)
	if err != nil {
		return err
	}

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin event tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const upsert = `INSERT INTO event (
		id, rid, source, origin, restriction, confidence, category,
		time, modified, expires, ip, asn, cc, dip, dport, sport, proto,
		fqdn, url, name, target, md5, sha1, sha256, status, replaces, custom
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	ON CONFLICT (id, time, ip) DO UPDATE SET modified = EXCLUDED.modified`

	for _, row := range rows {
		if status.Valid && !row.Status.Valid {
			row.Status = status
		}
		if _, err := tx.ExecContext(ctx, upsert,
			row.ID, row.RID, row.Source, row.Origin, row.Restriction,
			row.Confidence, row.Category, row.Time, row.Modified, row.Expires,
			row.IP, row.ASN, row.CC, row.DIP, row.DPort, row.SPort, row.Proto,
			row.FQDN, row.URL, row.Name, row.Target, row.MD5, row.SHA1,
			row.SHA256, row.Status, row.Replaces, row.Custom,
		); err != nil {
			return fmt.Errorf("insert event row: %w", err)
		}
	}

	if err := insertClients(ctx, tx, rows[0].ID, rows[0].Time, rec.Clients()); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event tx: %w", err)
	}
	return nil
}

// blUpdate advances expires/modified on the existing blacklist entry, or
// inserts it when the entry is not yet known.
func (r *Recorder) blUpdate(ctx context.Context, rec *record.Record) error {
	id, err := hexID(rec)
	if err != nil {
		return err
	}
	expires, _ := rec.Expires()

	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE event SET expires = ?, modified = ?, status = 'active'
		 WHERE id = ? AND source = ?`,
		expires, time.Now().UTC(), id, rec.Source())
	if err != nil {
		return fmt.Errorf("blacklist update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.insert(ctx, rec, sql.NullString{String: "active", Valid: true})
	}
	return nil
}

func (r *Recorder) blSetStatus(ctx context.Context, rec *record.Record, status string) error {
	id, err := hexID(rec)
	if err != nil {
		return err
	}
	res, err := r.db.conn.ExecContext(ctx,
		`UPDATE event SET status = ?, modified = ? WHERE id = ? AND source = ?`,
		status, time.Now().UTC(), id, rec.Source())
	if err != nil {
		return fmt.Errorf("blacklist %s: %w", status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.logger.Warn().
			Str("event_id", rec.ID()).
			Str("status", status).
			Msg("Blacklist transition for unknown entry")
	}
	return nil
}

// blChange inserts the changed entry and marks the replaced one.
func (r *Recorder) blChange(ctx context.Context, rec *record.Record) error {
	if err := r.insert(ctx, rec, sql.NullString{String: "active", Valid: true}); err != nil {
		return err
	}
	replaces, ok := rec.Get("replaces")
	if !ok {
		return nil
	}
	oldID, err := hex.DecodeString(replaces.(string))
	if err != nil {
		return fmt.Errorf("decode replaces id: %w", err)
	}
	_, err = r.db.conn.ExecContext(ctx,
		`UPDATE event SET status = 'replaced', modified = ? WHERE id = ? AND source = ?`,
		time.Now().UTC(), oldID, rec.Source())
	if err != nil {
		return fmt.Errorf("mark replaced entry: %w", err)
	}
	return nil
}

func insertClients(ctx context.Context, tx *sql.Tx, id []byte, t time.Time, clients []string) error {
	const insert = `INSERT INTO client_to_event (id, time, client_org_id)
		VALUES (?, ?, ?) ON CONFLICT DO NOTHING`
	for _, org := range clients {
		if _, err := tx.ExecContext(ctx, insert, id, t, org); err != nil {
			return fmt.Errorf("insert client row: %w", err)
		}
	}
	return nil
}

// flatten produces one row per address; an event without addresses yields a
// single placeholder row (ip = 0).
func flatten(rec *record.Record) ([]*eventRow, error) {
	id, err := hexID(rec)
	if err != nil {
		return nil, err
	}
	t, ok := rec.Time()
	if !ok {
		return nil, fmt.Errorf("event %s without time", rec.ID())
	}

	base := &eventRow{
		ID:     id,
		Source: rec.Source(),
		Time:   t,
	}
	base.RID = hexField(rec, "rid")
	base.MD5 = hexField(rec, "md5")
	base.SHA1 = hexField(rec, "sha1")
	base.SHA256 = hexField(rec, "sha256")
	base.Replaces = hexField(rec, "replaces")
	base.Origin = stringField(rec, "origin")
	base.Restriction = stringField(rec, "restriction")
	base.Confidence = stringField(rec, "confidence")
	base.Category = stringField(rec, "category")
	base.Proto = stringField(rec, "proto")
	base.FQDN = stringField(rec, "fqdn")
	base.URL = stringField(rec, "url")
	base.Name = stringField(rec, "name")
	base.Target = stringField(rec, "target")
	base.Status = stringField(rec, "status")
	base.Modified = timeField(rec, "modified")
	base.Expires = timeField(rec, "expires")
	base.DPort = intField(rec, "dport")
	base.SPort = intField(rec, "sport")

	if dip, ok := rec.Get("dip"); ok {
		n, err := IPToUint32(dip.(string))
		if err != nil {
			return nil, err
		}
		base.DIP = sql.NullInt64{Int64: int64(n), Valid: true}
	}

	custom, err := customJSON(rec)
	if err != nil {
		return nil, err
	}
	base.Custom = custom

	addrs := rec.Addresses()
	if len(addrs) == 0 {
		return []*eventRow{base}, nil
	}

	rows := make([]*eventRow, 0, len(addrs))
	for _, addr := range addrs {
		row := *base
		n, err := IPToUint32(addr.IP)
		if err != nil {
			return nil, err
		}
		row.IP = n
		if addr.ASN != 0 {
			row.ASN = sql.NullInt64{Int64: addr.ASN, Valid: true}
		}
		if addr.CC != "" {
			row.CC = sql.NullString{String: addr.CC, Valid: true}
		}
		rows = append(rows, &row)
	}
	return rows, nil
}

// customKeys are stored as JSON in the custom column rather than as columns.
var customKeys = []string{"count", "until", "adip", "type"}

func customJSON(rec *record.Record) (sql.NullString, error) {
	custom := make(map[string]any)
	for _, key := range customKeys {
		v, ok := rec.Get(key)
		if !ok {
			continue
		}
		if key == "type" && v == record.TypeEvent {
			continue
		}
		if t, isTime := v.(time.Time); isTime {
			v = t.UTC().Format(record.TimeLayout)
		}
		custom[key] = v
	}
	if len(custom) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(custom)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal custom fields: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// IPToUint32 converts a dotted-quad IPv4 address to its numeric form;
// the placeholder maps to 0.
func IPToUint32(ip string) (uint32, error) {
	if ip == record.PlaceholderIP {
		return 0, nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil || !addr.Is4() {
		return 0, fmt.Errorf("invalid IPv4 address %q", ip)
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// Uint32ToIP is the inverse of IPToUint32; 0 yields the placeholder.
func Uint32ToIP(n uint32) string {
	if n == 0 {
		return record.PlaceholderIP
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b).String()
}

func hexID(rec *record.Record) ([]byte, error) {
	id, err := hex.DecodeString(rec.ID())
	if err != nil || len(id) == 0 {
		return nil, fmt.Errorf("event without a valid id")
	}
	return id, nil
}

func hexField(rec *record.Record, key string) []byte {
	v, ok := rec.Get(key)
	if !ok {
		return nil
	}
	b, err := hex.DecodeString(v.(string))
	if err != nil {
		return nil
	}
	return b
}

func stringField(rec *record.Record, key string) sql.NullString {
	v, ok := rec.Get(key)
	if !ok {
		return sql.NullString{}
	}
	s, ok := v.(string)
	if !ok {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timeField(rec *record.Record, key string) sql.NullTime {
	v, ok := rec.Get(key)
	if !ok {
		return sql.NullTime{}
	}
	t, ok := v.(time.Time)
	if !ok {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func intField(rec *record.Record, key string) sql.NullInt64 {
	v, ok := rec.Get(key)
	if !ok {
		return sql.NullInt64{}
	}
	n, ok := v.(int64)
	if !ok {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}
