// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package notifier

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// State key layout, alongside the counter's `{org}` hash:
//
//	{org}_last_send_dt       ISO timestamp of the last digest
//	{org}_last_send_counter  hash of category -> total at that digest
const (
	suffixLastSendTime    = "_last_send_dt"
	suffixLastSendCounter = "_last_send_counter"
)

// OrgState is the remembered per-org notification state.
type OrgState struct {
	LastSendTime    time.Time
	LastSendCounter map[string]int64
}

// StateStore persists per-org notification state in Redis.
type StateStore struct {
	rdb *redis.Client
}

// NewStateStore wraps an open Redis client.
func NewStateStore(rdb *redis.Client) *StateStore {
	return &StateStore{rdb: rdb}
}

// Load reads one org's state; ok is false when the org has never been
// notified.
func (s *StateStore) Load(ctx context.Context, org string) (OrgState, bool, error) {
	raw, err := s.rdb.Get(ctx, org+suffixLastSendTime).Result()
	if err == redis.Nil {
		return OrgState{}, false, nil
	}
	if err != nil {
		return OrgState{}, false, fmt.Errorf("notifier state: read %s: %w", org, err)
	}
	lastSend, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return OrgState{}, false, fmt.Errorf("notifier state: %s holds %q: %w", org+suffixLastSendTime, raw, err)
	}

	counters, err := s.rdb.HGetAll(ctx, org+suffixLastSendCounter).Result()
	if err != nil {
		return OrgState{}, false, fmt.Errorf("notifier state: read counters of %s: %w", org, err)
	}
	state := OrgState{
		LastSendTime:    lastSend.UTC(),
		LastSendCounter: make(map[string]int64, len(counters)),
	}
	for category, value := range counters {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return OrgState{}, false, fmt.Errorf("notifier state: %s/%s holds %q: %w", org, category, value, err)
		}
		state.LastSendCounter[category] = n
	}
	return state, true, nil
}

// Save replaces one org's state.
func (s *StateStore) Save(ctx context.Context, org string, state OrgState) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, org+suffixLastSendTime, state.LastSendTime.UTC().Format(time.RFC3339), 0)
	pipe.Del(ctx, org+suffixLastSendCounter)
	if len(state.LastSendCounter) > 0 {
		fields := make(map[string]any, len(state.LastSendCounter))
		for category, n := range state.LastSendCounter {
			fields[category] = n
		}
		pipe.HSet(ctx, org+suffixLastSendCounter, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("notifier state: save %s: %w", org, err)
	}
	return nil
}

// Touch records the first-run timestamp without counters.
func (s *StateStore) Touch(ctx context.Context, org string, now time.Time) error {
	if err := s.rdb.Set(ctx, org+suffixLastSendTime, now.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("notifier state: touch %s: %w", org, err)
	}
	return nil
}
