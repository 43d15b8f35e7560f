// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package enrich

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/miekg/dns"
	"github.com/sony/gobreaker/v2"

	"github.com/sixgate/sixgate/internal/record"
)

// DNSResolver resolves a domain name to its IPv4 A records.
type DNSResolver interface {
	LookupA(ctx context.Context, fqdn string) ([]string, error)
}

// Resolver queries a single configured DNS server. Lookups run behind a
// circuit breaker so a dead resolver degrades to unannotated events instead
// of stalling the stage on every message.
type Resolver struct {
	client  *dns.Client
	addr    string
	breaker *gobreaker.CircuitBreaker[[]string]
}

// NewResolver targets the resolver at host:port.
func NewResolver(host string, port int, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	settings := gobreaker.Settings{
		Name: "dns-resolver",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		Timeout: 30 * time.Second,
	}
	return &Resolver{
		client:  &dns.Client{Timeout: timeout},
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		breaker: gobreaker.NewCircuitBreaker[[]string](settings),
	}
}

// LookupA returns the dotted-quad A records of fqdn, placeholder excluded.
func (r *Resolver) LookupA(ctx context.Context, fqdn string) ([]string, error) {
	return r.breaker.Execute(func() ([]string, error) {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(fqdn), dns.TypeA)
		msg.RecursionDesired = true

		resp, _, err := r.client.ExchangeContext(ctx, msg, r.addr)
		if err != nil {
			return nil, fmt.Errorf("dns query %q: %w", fqdn, err)
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("dns query %q: rcode %s", fqdn, dns.RcodeToString[resp.Rcode])
		}

		var ips []string
		for _, rr := range resp.Answer {
			a, ok := rr.(*dns.A)
			if !ok {
				continue
			}
			ip := a.A.String()
			if ip == record.PlaceholderIP {
				continue
			}
			ips = append(ips, ip)
		}
		return ips, nil
	})
}
