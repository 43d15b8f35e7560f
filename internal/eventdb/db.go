// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package eventdb stores canonical events in DuckDB for querying. Rows are
// keyed by (id, time, ip); client visibility lives in a separate join table
// so per-client fan-out queries stay cheap.
package eventdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Config holds the Event DB settings.
type Config struct {
	Path      string `koanf:"path" validate:"required"`
	Threads   int    `koanf:"threads"`
	MaxMemory string `koanf:"max_memory"`
}

// DefaultConfig returns the Event DB defaults.
func DefaultConfig() Config {
	return Config{
		Path:      "/var/lib/sixgate/events.duckdb",
		MaxMemory: "1GB",
	}
}

// DB wraps the DuckDB connection.
type DB struct {
	conn *sql.DB
}

// Open connects, creates the schema and configures the pool. ":memory:" is
// accepted for tests.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create event db directory: %w", err)
			}
		}
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d", cfg.Path, threads)
	if cfg.MaxMemory != "" {
		connStr += "&max_memory=" + cfg.MaxMemory
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open event db: %w", err)
	}
	// DuckDB is embedded; a single writer connection avoids write-write
	// conflicts between pooled handles.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.createSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Conn exposes the underlying handle for query composition.
func (db *DB) Conn() *sql.DB { return db.conn }

// Close checkpoints and closes the database.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, _ = db.conn.ExecContext(ctx, "CHECKPOINT")
	return db.conn.Close()
}

func (db *DB) createSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS event (
			id          BLOB NOT NULL,
			rid         BLOB,
			source      VARCHAR NOT NULL,
			origin      VARCHAR,
			restriction VARCHAR,
			confidence  VARCHAR,
			category    VARCHAR,
			time        TIMESTAMP NOT NULL,
			modified    TIMESTAMP,
			expires     TIMESTAMP,
			ip          UINTEGER NOT NULL DEFAULT 0,
			asn         UBIGINT,
			cc          VARCHAR,
			dip         UINTEGER,
			dport       INTEGER,
			sport       INTEGER,
			proto       VARCHAR,
			fqdn        VARCHAR,
			url         VARCHAR,
			name        VARCHAR,
			target      VARCHAR,
			md5         BLOB,
			sha1        BLOB,
			sha256      BLOB,
			status      VARCHAR,
			replaces    BLOB,
			custom      VARCHAR,
			PRIMARY KEY (id, time, ip)
		)`,
		`CREATE TABLE IF NOT EXISTS client_to_event (
			id            BLOB NOT NULL,
			time          TIMESTAMP NOT NULL,
			client_org_id VARCHAR NOT NULL,
			PRIMARY KEY (id, time, client_org_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_event_time ON event (time)`,
		`CREATE INDEX IF NOT EXISTS idx_event_source_time ON event (source, time)`,
		`CREATE INDEX IF NOT EXISTS idx_client_to_event_org ON client_to_event (client_org_id, time)`,
	}
	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("event db schema: %w", err)
		}
	}
	return nil
}
