// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package counter maintains the persistent per-organization event counters
// the notifier builds its digests from. For every filtered event it resolves
// the receiving org-ids the same way the anonymizer does and increments
// `(org, category)` totals in Redis.
package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sixgate/sixgate/internal/record"
)

// State key layout: the `{org}` hash holds category totals; the companion
// scalar keys track the observed event-time window and the last update.
const (
	suffixTimeMin    = "/_tmin"
	suffixTimeMax    = "/_tmax"
	suffixUpdateTime = "/_time"
)

// Store is the Redis-backed counter state.
type Store struct {
	rdb *redis.Client
	now func() time.Time
}

// NewStore wraps an open Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, now: func() time.Time { return time.Now().UTC() }}
}

// Add increments the category counter of every receiving org and widens the
// per-org event-time window.
func (s *Store) Add(ctx context.Context, orgs []string, category string, eventTime time.Time) error {
	stamp := eventTime.UTC().Format(record.TimeLayout)
	nowStamp := s.now().Format(record.TimeLayout)

	for _, org := range orgs {
		pipe := s.rdb.TxPipeline()
		pipe.HIncrBy(ctx, org, category, 1)
		pipe.Set(ctx, org+suffixUpdateTime, nowStamp, 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("counter: increment %s/%s: %w", org, category, err)
		}
		if err := s.widenWindow(ctx, org, stamp); err != nil {
			return err
		}
	}
	return nil
}

// widenWindow updates _tmin/_tmax. The stage handles one message at a time,
// so read-compare-write needs no cross-process locking.
func (s *Store) widenWindow(ctx context.Context, org, stamp string) error {
	for _, bound := range []struct {
		suffix string
		wider  func(old, new string) bool
	}{
		{suffixTimeMin, func(old, new string) bool { return new < old }},
		{suffixTimeMax, func(old, new string) bool { return new > old }},
	} {
		key := org + bound.suffix
		old, err := s.rdb.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
			old = ""
		case err != nil:
			return fmt.Errorf("counter: read %s: %w", key, err)
		}
		if old == "" || bound.wider(old, stamp) {
			if err := s.rdb.Set(ctx, key, stamp, 0).Err(); err != nil {
				return fmt.Errorf("counter: write %s: %w", key, err)
			}
		}
	}
	return nil
}

// Counters returns the category totals of one org. A missing org reads as
// an empty map.
func (s *Store) Counters(ctx context.Context, org string) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, org).Result()
	if err != nil {
		return nil, fmt.Errorf("counter: read %s: %w", org, err)
	}
	out := make(map[string]int64, len(raw))
	for category, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("counter: %s/%s holds %q: %w", org, category, value, err)
		}
		out[category] = n
	}
	return out, nil
}

// Window returns the observed event-time bounds of one org.
func (s *Store) Window(ctx context.Context, org string) (first, last time.Time, ok bool, err error) {
	rawMin, err := s.rdb.Get(ctx, org+suffixTimeMin).Result()
	if err == redis.Nil {
		return time.Time{}, time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("counter: read window: %w", err)
	}
	rawMax, err := s.rdb.Get(ctx, org+suffixTimeMax).Result()
	if err != nil && err != redis.Nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("counter: read window: %w", err)
	}
	first, perr := time.Parse(record.TimeLayout, rawMin)
	if perr != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("counter: window min %q: %w", rawMin, perr)
	}
	last, perr = time.Parse(record.TimeLayout, rawMax)
	if perr != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("counter: window max %q: %w", rawMax, perr)
	}
	return first, last, true, nil
}
