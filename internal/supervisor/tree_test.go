// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package supervisor

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sixgate/sixgate/internal/logging"
)

// blockingService runs until its context is cancelled, counting starts.
type blockingService struct {
	name   string
	starts atomic.Int32
}

func (s *blockingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *blockingService) String() string { return s.name }

// failingService fails a fixed number of times, then blocks.
type failingService struct {
	name     string
	failures atomic.Int32
	limit    int32
}

func (s *failingService) Serve(ctx context.Context) error {
	if s.failures.Add(1) <= s.limit {
		return errors.New("transient failure")
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *failingService) String() string { return s.name }

func testTree() *Tree {
	cfg := DefaultTreeConfig()
	cfg.FailureBackoff = 10 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	return NewTree(logging.NewTestLogger(io.Discard), cfg)
}

func TestTree_RunsServicesInAllLayers(t *testing.T) {
	tree := testTree()
	storage := &blockingService{name: "snapshot-store"}
	stage := &blockingService{name: "aggregator"}
	api := &blockingService{name: "brokerauth"}
	tree.AddStorageService(storage)
	tree.AddPipelineService(stage)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for storage.starts.Load() == 0 || stage.starts.Load() == 0 || api.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("services not started: storage=%d pipeline=%d api=%d",
				storage.starts.Load(), stage.starts.Load(), api.starts.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTree_RestartsFailedService(t *testing.T) {
	tree := testTree()
	svc := &failingService{name: "flaky-stage", limit: 2}
	tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(3 * time.Second)
	for svc.failures.Load() <= svc.limit {
		select {
		case <-deadline:
			t.Fatalf("service restarted %d times, want > %d", svc.failures.Load(), svc.limit)
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-errCh
}

func TestTree_ZeroConfigGetsDefaults(t *testing.T) {
	tree := NewTree(logging.NewTestLogger(io.Discard), TreeConfig{})
	if tree.config.FailureThreshold != 5.0 {
		t.Errorf("FailureThreshold = %v, want 5.0", tree.config.FailureThreshold)
	}
	if tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", tree.config.ShutdownTimeout)
	}
	if tree.Root() == nil {
		t.Error("Root() returned nil")
	}
}

func TestTree_RemovePipelineService(t *testing.T) {
	tree := testTree()
	svc := &blockingService{name: "removable"}
	token := tree.AddPipelineService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	deadline := time.After(2 * time.Second)
	for svc.starts.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("service never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := tree.RemovePipelineService(token, time.Second); err != nil {
		t.Errorf("RemovePipelineService: %v", err)
	}

	cancel()
	<-errCh
}
