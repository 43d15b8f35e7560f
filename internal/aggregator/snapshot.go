// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package aggregator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// SnapshotStore persists aggregator state across restarts. Writes go through
// a temp file plus rename so a crash mid-write never truncates the snapshot.
type SnapshotStore struct {
	path   string
	logger zerolog.Logger
}

// NewSnapshotStore creates the snapshot directory if needed.
func NewSnapshotStore(path string, logger zerolog.Logger) (*SnapshotStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &SnapshotStore{path: path, logger: logger}, nil
}

// Save writes the state atomically.
func (s *SnapshotStore) Save(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename snapshot: %w", err)
	}

	s.logger.Info().Str("path", s.path).Int("bytes", len(data)).Msg("Aggregator state persisted")
	return nil
}

// Load reads the persisted state. A missing or unreadable snapshot yields a
// fresh empty state: losing pending aggregates is preferable to refusing to
// start.
func (s *SnapshotStore) Load() *State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("Snapshot unreadable, starting with empty state")
		}
		return NewState()
	}

	state := NewState()
	if err := json.Unmarshal(data, state); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Snapshot corrupt, starting with empty state")
		return NewState()
	}
	if err := state.validate(); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("Snapshot invalid, starting with empty state")
		return NewState()
	}

	s.logger.Info().Str("path", s.path).Int("sources", len(state.Sources)).Msg("Aggregator state restored")
	return state
}
