// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package authdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ErrUserNotFound reports an unknown login.
var ErrUserNotFound = errors.New("authdb: user not found")

// User is one broker/API account.
type User struct {
	Login        string         `db:"login"`
	PasswordHash sql.NullString `db:"password_hash"`
	OrgID        string         `db:"org_id"`
	IsBlocked    bool           `db:"is_blocked"`
}

// UserStore reads accounts for authentication decisions.
type UserStore struct {
	db *sqlx.DB
}

// NewUserStore wraps an open connection pool.
func NewUserStore(db *sqlx.DB) *UserStore {
	return &UserStore{db: db}
}

// GetUser fetches one account by login.
func (s *UserStore) GetUser(ctx context.Context, login string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		`SELECT login, password_hash, org_id, is_blocked FROM user WHERE login = ?`, login)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}
