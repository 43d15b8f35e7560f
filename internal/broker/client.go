// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package broker

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	wmamqp "github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// PublisherOptions selects the target exchange and delivery mode.
type PublisherOptions struct {
	Exchange string
	// ExchangeType is "topic" for pipeline exchanges, "headers" for clients.
	ExchangeType string
	// Persistent selects the AMQP persistent delivery mode. The clients
	// exchange is stream-only and publishes non-persistent.
	Persistent bool
	// ConfirmDelivery waits for broker confirms on each publish.
	ConfirmDelivery bool
}

// NewPublisher builds a watermill publisher bound to one exchange.
// The watermill "topic" is used verbatim as the AMQP routing key; message
// metadata is carried as AMQP headers (that is how the anonymizer routes
// per-client copies on the headers exchange).
func NewPublisher(cfg Config, opts PublisherOptions, logger watermill.LoggerAdapter) (*wmamqp.Publisher, error) {
	amqpCfg, err := buildConfig(cfg, opts.Exchange, opts.ExchangeType, opts.Persistent)
	if err != nil {
		return nil, err
	}
	amqpCfg.Publish.ConfirmDelivery = opts.ConfirmDelivery
	pub, err := wmamqp.NewPublisher(amqpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create AMQP publisher for %q: %w", opts.Exchange, err)
	}
	return pub, nil
}

// SubscriberOptions selects the input queue and its exchange.
type SubscriberOptions struct {
	Exchange     string
	ExchangeType string
	Queue        string
}

// NewSubscriber builds a watermill subscriber on one durable queue.
// Each Subscribe(topic) call adds a binding with the topic as routing key,
// so a stage binds its queue once per binding pattern. Nacked messages are
// not requeued by the broker; in-process retry is the router's job.
func NewSubscriber(cfg Config, opts SubscriberOptions, logger watermill.LoggerAdapter) (*wmamqp.Subscriber, error) {
	amqpCfg, err := buildConfig(cfg, opts.Exchange, opts.ExchangeType, true)
	if err != nil {
		return nil, err
	}
	amqpCfg.Queue = wmamqp.QueueConfig{
		GenerateName: wmamqp.GenerateQueueNameConstant(opts.Queue),
		Durable:      true,
	}
	amqpCfg.Consume = wmamqp.ConsumeConfig{
		Qos:             wmamqp.QosConfig{PrefetchCount: cfg.PrefetchCount},
		NoRequeueOnNack: true,
	}
	sub, err := wmamqp.NewSubscriber(amqpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("create AMQP subscriber for queue %q: %w", opts.Queue, err)
	}
	return sub, nil
}

// buildConfig assembles the shared watermill-amqp configuration: idempotent
// exchange/queue declaration, topic-as-routing-key, TLS and heartbeat.
func buildConfig(cfg Config, exchange, exchangeType string, persistent bool) (wmamqp.Config, error) {
	if exchangeType == "" {
		exchangeType = "topic"
	}
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return wmamqp.Config{}, err
	}

	heartbeat := cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = DefaultConfig().HeartbeatInterval
	}

	return wmamqp.Config{
		Connection: wmamqp.ConnectionConfig{
			AmqpURI:   cfg.URI(),
			TLSConfig: tlsCfg,
			AmqpConfig: &amqp091.Config{
				Heartbeat:       heartbeat,
				TLSClientConfig: tlsCfg,
				Vhost:           cfg.Vhost,
			},
		},
		Marshaler: wmamqp.DefaultMarshaler{
			NotPersistentDeliveryMode: !persistent,
		},
		Exchange: wmamqp.ExchangeConfig{
			GenerateName: func(string) string { return exchange },
			Type:         exchangeType,
			Durable:      true,
		},
		QueueBind: wmamqp.QueueBindConfig{
			GenerateRoutingKey: func(topic string) string { return topic },
		},
		Publish: wmamqp.PublishConfig{
			GenerateRoutingKey: func(topic string) string { return topic },
		},
		Queue: wmamqp.QueueConfig{
			GenerateName: wmamqp.GenerateQueueNameTopicName,
			Durable:      true,
		},
		TopologyBuilder: &wmamqp.DefaultTopologyBuilder{},
	}, nil
}
