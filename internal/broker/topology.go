// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package broker

import (
	"fmt"
	"strings"

	"github.com/sixgate/sixgate/internal/record"
)

// Exchange names of the pipeline topology.
const (
	// ExchangeRaw carries collector output (raw source bytes).
	ExchangeRaw = "raw"
	// ExchangeEvent carries canonical record JSON between stages.
	ExchangeEvent = "event"
	// ExchangeClients is the headers exchange feeding per-client streams.
	ExchangeClients = "clients"
)

// ClientIDHeader is the per-message header carrying the target org id on the
// clients exchange.
const ClientIDHeader = "n6-client-id"

// Queue names, one per consuming stage.
const (
	QueueAggregator = "aggregator"
	QueueComparator = "comparator"
	QueueEnricher   = "enricher"
	QueueFilter     = "filter"
	QueueAnonymizer = "anonymizer"
	QueueRecorder   = "recorder"
	QueueCounter    = "counter"
)

// Binding key sets per consuming stage. Keys are 4 tokens:
// <type>.<stage>.<provider>.<channel>.
var (
	// AggregatorBindings: only high-frequency parser output is aggregated.
	AggregatorBindings = []string{"hifreq." + record.StageParsed + ".#"}

	// ComparatorBindings: whole-blacklist parser output.
	ComparatorBindings = []string{"bl." + record.StageParsed + ".#"}

	// EnricherBindings: plain parsed events, blacklist lifecycle events and
	// everything the aggregator emits.
	EnricherBindings = []string{
		record.TypeEvent + "." + record.StageParsed + ".#",
		record.TypeBlNew + "." + record.StageParsed + ".#",
		record.TypeBlUpdate + "." + record.StageParsed + ".#",
		record.TypeBlChange + "." + record.StageParsed + ".#",
		record.TypeBlDelist + "." + record.StageParsed + ".#",
		record.TypeBlExpire + "." + record.StageParsed + ".#",
		record.TypeEvent + "." + record.StageAggregated + ".#",
		record.TypeSuppressed + "." + record.StageAggregated + ".#",
	}

	// FilterBindings: everything the enricher emits.
	FilterBindings = []string{"*." + record.StageEnriched + ".#"}

	// Filtered output feeds the anonymizer, the recorder and the counter.
	AnonymizerBindings = []string{"*." + record.StageFiltered + ".#"}
	RecorderBindings   = []string{"*." + record.StageFiltered + ".#"}
	CounterBindings    = []string{"*." + record.StageFiltered + ".#"}
)

// RoutingKey holds the parsed tokens of an event-exchange routing key.
type RoutingKey struct {
	Type   string
	Stage  string
	Source string // <provider>.<channel>
}

// ParseRoutingKey splits <type>.<stage>.<provider>.<channel>.
func ParseRoutingKey(key string) (RoutingKey, error) {
	parts := strings.Split(key, ".")
	if len(parts) != 4 {
		return RoutingKey{}, fmt.Errorf("routing key %q: want 4 tokens, got %d", key, len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return RoutingKey{}, fmt.Errorf("routing key %q: empty token", key)
		}
	}
	return RoutingKey{
		Type:   parts[0],
		Stage:  parts[1],
		Source: parts[2] + "." + parts[3],
	}, nil
}

// ClientRoutingKey builds the clients-exchange routing key
// <resource>.<category>.<anonymized source>.
func ClientRoutingKey(resource, category, anonSource string) string {
	return resource + "." + category + "." + anonSource
}
