// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package brokerauth answers the AMQP broker's HTTP auth-backend protocol:
// four form-encoded POST endpoints that reply "allow" or "deny" in plain
// text, always with HTTP 200. Decisions are made by a per-request manager
// holding one Auth DB session.
package brokerauth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/sixgate/sixgate/internal/authdb"
)

// Manager makes the auth decisions for one request and is released when the
// request ends.
type Manager interface {
	AuthenticateUser(ctx context.Context, username, password string) (bool, error)
	AllowVhost(ctx context.Context, username, vhost, ip string) (bool, error)
	AllowResource(ctx context.Context, username, vhost, resource, name, permission string) (bool, error)
	AllowTopic(ctx context.Context, username, vhost, resource, name, permission, routingKey string) (bool, error)
	Release()
}

// ManagerFactory produces one Manager per request.
type ManagerFactory interface {
	Acquire(ctx context.Context) (Manager, error)
}

// DBManagerFactory builds managers over a shared Auth DB pool. Construction
// runs under a process-wide lock so session acquisition stays serialized
// even when the connector is shared across workers.
type DBManagerFactory struct {
	db *sqlx.DB
	mu sync.Mutex
}

// NewDBManagerFactory wraps an open Auth DB pool.
func NewDBManagerFactory(db *sqlx.DB) *DBManagerFactory {
	return &DBManagerFactory{db: db}
}

// Acquire checks out one connection scoped to the request.
func (f *DBManagerFactory) Acquire(ctx context.Context) (Manager, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conn, err := f.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	return &dbManager{conn: conn}, nil
}

// dbManager answers decisions from one checked-out session.
type dbManager struct {
	conn *sqlx.Conn
}

func (m *dbManager) Release() {
	m.conn.Close()
}

func (m *dbManager) getUser(ctx context.Context, login string) (*authdb.User, error) {
	var u authdb.User
	err := m.conn.GetContext(ctx, &u,
		`SELECT login, password_hash, org_id, is_blocked FROM user WHERE login = ?`, login)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// AuthenticateUser verifies the password against the stored bcrypt hash.
// Unknown, blocked, and password-less accounts are all denied.
func (m *dbManager) AuthenticateUser(ctx context.Context, username, password string) (bool, error) {
	u, err := m.getUser(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if u.IsBlocked || !u.PasswordHash.Valid || u.PasswordHash.String == "" {
		return false, nil
	}
	err = bcrypt.CompareHashAndPassword([]byte(u.PasswordHash.String), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AllowVhost admits any known, unblocked user; transport identity was
// already established by the broker.
func (m *dbManager) AllowVhost(ctx context.Context, username, _, _ string) (bool, error) {
	return m.knownAndActive(ctx, username)
}

// AllowResource admits known, unblocked users; configure on the broker's
// reserved amq.* namespace is refused.
func (m *dbManager) AllowResource(ctx context.Context, username, _, _, name, permission string) (bool, error) {
	if permission == "configure" && strings.HasPrefix(name, "amq.") {
		return false, nil
	}
	return m.knownAndActive(ctx, username)
}

// AllowTopic applies the resource rules; topic-level routing keys are
// enforced by the clients exchange's header matching, not here.
func (m *dbManager) AllowTopic(ctx context.Context, username, vhost, resource, name, permission, _ string) (bool, error) {
	return m.AllowResource(ctx, username, vhost, resource, name, permission)
}

func (m *dbManager) knownAndActive(ctx context.Context, username string) (bool, error) {
	u, err := m.getUser(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return !u.IsBlocked, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, authdb.ErrUserNotFound)
}
