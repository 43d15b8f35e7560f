// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package pipeline

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// FlushOut is the sentinel an iterator yields to flush buffered publishes
// before continuing. With the AMQP publisher every publish is synchronous,
// so the sentinel is a no-op checkpoint, kept so iterators written against
// buffering publishers behave identically.
var FlushOut = &Publication{}

// ErrIteratorDone signals normal end of an iterator.
var ErrIteratorDone = errors.New("pipeline: iterator done")

// PublicationIterator yields publications one at a time. Return
// ErrIteratorDone to finish, FlushOut to checkpoint.
type PublicationIterator func(ctx context.Context) (*Publication, error)

// PublishFromIterator drives a publisher from an iterator instead of from
// incoming messages. Used by source-driven components (collectors, replay
// tools) that have no input queue.
func PublishFromIterator(ctx context.Context, pub message.Publisher, next PublicationIterator) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		p, err := next(ctx)
		if errors.Is(err, ErrIteratorDone) {
			return nil
		}
		if err != nil {
			return err
		}
		if p == FlushOut {
			continue
		}

		msg := message.NewMessage(uuid.NewString(), p.Body)
		for k, v := range p.Metadata {
			msg.Metadata.Set(k, v)
		}
		if err := pub.Publish(p.RoutingKey, msg); err != nil {
			return err
		}
	}
}
