// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/sixgate/sixgate/internal/logging"
	"github.com/sixgate/sixgate/internal/record"
)

// collectingPublisher records everything published through it.
type collectingPublisher struct {
	mu   sync.Mutex
	got  []string
	msgs []*message.Message
}

func (p *collectingPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range messages {
		p.got = append(p.got, topic)
		p.msgs = append(p.msgs, m)
	}
	return nil
}

func (p *collectingPublisher) Close() error { return nil }

func (p *collectingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.got...)
}

func validRecordJSON(t *testing.T) []byte {
	t.Helper()
	r := record.New()
	if err := r.Set("id", "0123456789abcdef0123456789abcdef"); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("source", "provider.channel"); err != nil {
		t.Fatal(err)
	}
	if err := r.Set("time", "2024-01-01 00:00:00"); err != nil {
		t.Fatal(err)
	}
	data, err := r.ReadyJSON()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func runStage(t *testing.T, handler RecordHandler, inputs [][]byte) *collectingPublisher {
	t.Helper()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	out := &collectingPublisher{}

	cfg := DefaultRouterConfig()
	cfg.RetryMaxRetries = 1
	cfg.RetryInitialInterval = time.Millisecond
	cfg.CloseTimeout = time.Second

	router, err := NewRouter(cfg, watermill.NopLogger{})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	stage, err := NewStage(StageOptions{
		Name:     "test-stage",
		Router:   router,
		Sub:      pubsub,
		Pub:      out,
		Bindings: []string{"input.topic"},
		Handler:  handler,
		Logger:   logging.Logger(),
	})
	if err != nil {
		t.Fatalf("NewStage: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = stage.Serve(ctx)
	}()
	<-router.Running()

	for _, body := range inputs {
		if err := pubsub.Publish("input.topic", message.NewMessage(watermill.NewUUID(), body)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stage did not stop")
	}
	return out
}

func TestStage_PublishesHandlerOutput(t *testing.T) {
	handler := func(_ context.Context, rec *record.Record) ([]Publication, error) {
		body, err := rec.ReadyJSON()
		if err != nil {
			return nil, err
		}
		return []Publication{{RoutingKey: rec.RoutingKey(record.StageEnriched), Body: body}}, nil
	}

	out := runStage(t, handler, [][]byte{validRecordJSON(t)})

	topics := out.topics()
	if len(topics) != 1 || topics[0] != "event.enriched.provider.channel" {
		t.Errorf("Expected one publish with enriched routing key, got %v", topics)
	}
}

func TestStage_MalformedInputDropped(t *testing.T) {
	calls := 0
	handler := func(_ context.Context, _ *record.Record) ([]Publication, error) {
		calls++
		return nil, nil
	}

	out := runStage(t, handler, [][]byte{[]byte(`{not json`)})

	if calls != 0 {
		t.Errorf("Handler must not run on malformed input, ran %d times", calls)
	}
	if len(out.topics()) != 0 {
		t.Errorf("Nothing should be published, got %v", out.topics())
	}
}

func TestStage_PermanentErrorAcked(t *testing.T) {
	calls := 0
	handler := func(_ context.Context, _ *record.Record) ([]Publication, error) {
		calls++
		return nil, Permanent("out_of_order", errors.New("event out of order"))
	}

	runStage(t, handler, [][]byte{validRecordJSON(t)})

	// Permanent errors ack: no retry, exactly one handler call.
	if calls != 1 {
		t.Errorf("Expected exactly one handler call, got %d", calls)
	}
}

func TestStage_TransientErrorRetried(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	handler := func(_ context.Context, _ *record.Record) ([]Publication, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return nil, nil
	}

	runStage(t, handler, [][]byte{validRecordJSON(t)})

	mu.Lock()
	defer mu.Unlock()
	if calls < 2 {
		t.Errorf("Expected in-process retry after transient error, got %d calls", calls)
	}
}

func TestPermanentError(t *testing.T) {
	err := Permanent("input_shape", errors.New("boom"))
	if !IsPermanent(err) {
		t.Error("Expected IsPermanent")
	}
	if IsPermanent(errors.New("plain")) {
		t.Error("Plain errors are not permanent")
	}
	if DropReason(err) != "input_shape" {
		t.Errorf("Unexpected reason %q", DropReason(err))
	}
}

func TestPublishFromIterator(t *testing.T) {
	out := &collectingPublisher{}
	items := []*Publication{
		{RoutingKey: "a.parsed.p.c", Body: []byte("1")},
		FlushOut,
		{RoutingKey: "b.parsed.p.c", Body: []byte("2")},
	}
	i := 0
	next := func(_ context.Context) (*Publication, error) {
		if i >= len(items) {
			return nil, ErrIteratorDone
		}
		p := items[i]
		i++
		return p, nil
	}

	if err := PublishFromIterator(context.Background(), out, next); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	topics := out.topics()
	if len(topics) != 2 || topics[0] != "a.parsed.p.c" || topics[1] != "b.parsed.p.c" {
		t.Errorf("Unexpected publishes: %v", topics)
	}
}
