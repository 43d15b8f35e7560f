// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package kvstore opens the Redis connection shared by the per-client
// counter and the notifier state.
package kvstore

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the Redis connection settings.
type Config struct {
	Host     string        `koanf:"host" validate:"required"`
	Port     int           `koanf:"port" validate:"min=1,max=65535"`
	DB       int           `koanf:"db" validate:"min=0"`
	Password string        `koanf:"password"`
	Timeout  time.Duration `koanf:"timeout"`
}

// DefaultConfig returns the Redis defaults.
func DefaultConfig() Config {
	return Config{
		Host:    "127.0.0.1",
		Port:    6379,
		Timeout: 5 * time.Second,
	}
}

// Open connects and pings the store.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		DB:           cfg.DB,
		Password:     cfg.Password,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("kvstore ping: %w", err)
	}
	return client, nil
}
