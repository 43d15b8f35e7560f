// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package metrics provides Prometheus instrumentation for the pipeline:
// per-stage event throughput, drop reasons, publish failures, storage
// latency and aggregator state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsTotal counts events handled per stage, partitioned by result:
	// "published", "suppressed", "dropped".
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sixgate_events_total",
			Help: "Events handled per pipeline stage",
		},
		[]string{"stage", "result"},
	)

	// DropsTotal counts dropped events by reason ("input_shape",
	// "out_of_order", "handler").
	DropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sixgate_drops_total",
			Help: "Events dropped without requeue, by reason",
		},
		[]string{"stage", "reason"},
	)

	// PublishFailures counts failed publishes per stage and exchange.
	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sixgate_publish_failures_total",
			Help: "Failed AMQP publishes",
		},
		[]string{"stage", "exchange"},
	)

	// OutOfOrderTotal counts aggregator inputs beyond the tolerance window
	// with no existing group to attribute them to.
	OutOfOrderTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sixgate_aggregator_out_of_order_total",
			Help: "Aggregator events dropped as out of order",
		},
		[]string{"source"},
	)

	// AggregatorGroups gauges the number of active aggregation groups.
	AggregatorGroups = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sixgate_aggregator_groups",
			Help: "Active aggregation groups per source",
		},
		[]string{"source"},
	)

	// EventDBWriteDuration observes Event DB insert latency.
	EventDBWriteDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sixgate_eventdb_write_duration_seconds",
			Help:    "Event DB write latency",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AuthIndexReloads counts authorization index rebuilds by outcome.
	AuthIndexReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sixgate_authindex_reloads_total",
			Help: "Authorization index reloads",
		},
		[]string{"result"},
	)

	// BrokerAuthDecisions counts broker-auth endpoint decisions.
	BrokerAuthDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sixgate_brokerauth_decisions_total",
			Help: "Broker auth-backend decisions per endpoint",
		},
		[]string{"endpoint", "decision"},
	)

	// NotificationsSent counts notifier digest emails by outcome.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sixgate_notifications_total",
			Help: "Digest notifications per outcome",
		},
		[]string{"result"},
	)
)
