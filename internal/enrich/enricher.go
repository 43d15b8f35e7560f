// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

// Package enrich annotates events with network context: FQDN/IP extraction
// from the URL, DNS A resolution, GeoIP ASN and country code, and stripping
// of excluded addresses.
package enrich

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sixgate/sixgate/internal/record"
)

// Enricher runs the annotation pass over one event. DNS and GeoIP failures
// are non-fatal: the address is kept, the annotation is simply absent.
type Enricher struct {
	resolver DNSResolver
	geo      GeoIPLookup
	excluded *ExcludedIPs
	logger   zerolog.Logger
}

// NewEnricher wires the lookups. resolver may be nil to disable resolution,
// geo may be NoopGeoIP.
func NewEnricher(resolver DNSResolver, geo GeoIPLookup, excluded *ExcludedIPs, logger zerolog.Logger) *Enricher {
	if geo == nil {
		geo = NoopGeoIP{}
	}
	if excluded == nil {
		excluded, _ = NewExcludedIPs(nil)
	}
	return &Enricher{
		resolver: resolver,
		geo:      geo,
		excluded: excluded,
		logger:   logger.With().Str("component", "enricher").Logger(),
	}
}

// Enrich mutates rec in place and records provenance in the enriched pair.
func (e *Enricher) Enrich(ctx context.Context, rec *record.Record) error {
	var topLevel []string
	addrKeys := make(map[string][]string)

	urlHost := hostOfURL(rec.URL())

	// FQDN from the URL host, unless the host is an IP literal.
	if rec.FQDN() == "" && urlHost != "" && !record.ValidIPv4(urlHost) {
		if err := rec.Set("fqdn", urlHost); err != nil {
			e.logger.Warn().Err(err).Str("host", urlHost).Msg("URL host is not a usable fqdn")
		} else if rec.FQDN() != "" {
			topLevel = append(topLevel, "fqdn")
		}
	}

	// Addresses from DNS or the URL host.
	if len(rec.Addresses()) == 0 {
		if fqdn := rec.FQDN(); fqdn != "" && !rec.DoNotResolveFQDN() && e.resolver != nil {
			ips, err := e.resolver.LookupA(ctx, fqdn)
			if err != nil {
				e.logger.Warn().Err(err).Str("fqdn", fqdn).Msg("DNS resolution failed")
			}
			var addrs []record.Address
			for _, ip := range ips {
				addrs = append(addrs, record.Address{IP: ip})
				addrKeys[ip] = append(addrKeys[ip], "ip")
			}
			rec.SetAddresses(addrs)
		} else if record.ValidIPv4(urlHost) {
			rec.SetAddresses([]record.Address{{IP: urlHost}})
			addrKeys[urlHost] = append(addrKeys[urlHost], "ip")
		}
	}

	// Strip excluded addresses, annotate the rest.
	var kept []record.Address
	for _, addr := range rec.Addresses() {
		if e.excluded.Contains(addr.IP) {
			e.logger.Debug().Str("ip", addr.IP).Str("event_id", rec.ID()).Msg("Excluded address removed")
			delete(addrKeys, addr.IP)
			continue
		}
		if addr.ASN != 0 || addr.CC != "" {
			e.logger.Warn().
				Str("ip", addr.IP).
				Str("event_id", rec.ID()).
				Msg("Discarding asn/cc supplied upstream")
			addr.ASN = 0
			addr.CC = ""
		}
		if asn, ok, err := e.geo.ASN(addr.IP); err != nil {
			e.logger.Warn().Err(err).Str("ip", addr.IP).Msg("ASN lookup failed")
		} else if ok {
			addr.ASN = asn
			addrKeys[addr.IP] = append(addrKeys[addr.IP], "asn")
		}
		if cc, ok, err := e.geo.CountryCode(addr.IP); err != nil {
			e.logger.Warn().Err(err).Str("ip", addr.IP).Msg("Country lookup failed")
		} else if ok {
			addr.CC = cc
			addrKeys[addr.IP] = append(addrKeys[addr.IP], "cc")
		}
		kept = append(kept, addr)
	}
	rec.SetAddresses(kept)

	// Provenance entries may only reference surviving addresses.
	surviving := make(map[string]struct{}, len(kept))
	for _, addr := range kept {
		surviving[addr.IP] = struct{}{}
	}
	for ip, keys := range addrKeys {
		if _, ok := surviving[ip]; !ok {
			delete(addrKeys, ip)
			continue
		}
		sort.Strings(keys)
		addrKeys[ip] = keys
	}
	sort.Strings(topLevel)

	return rec.Set("enriched", record.Enriched{TopLevel: topLevel, Address: addrKeys})
}

// hostOfURL extracts the lowercase hostname, or "" when the URL is absent or
// unparseable.
func hostOfURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
