// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package enrich

import (
	"fmt"
	"net"
	"path/filepath"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPLookup annotates an IPv4 address with network context. Either lookup
// may report "not available" by returning ok=false without an error.
type GeoIPLookup interface {
	ASN(ip string) (asn int64, ok bool, err error)
	CountryCode(ip string) (cc string, ok bool, err error)
	Close() error
}

// NoopGeoIP is used when no MaxMind databases are configured.
type NoopGeoIP struct{}

func (NoopGeoIP) ASN(string) (int64, bool, error)          { return 0, false, nil }
func (NoopGeoIP) CountryCode(string) (string, bool, error) { return "", false, nil }
func (NoopGeoIP) Close() error                             { return nil }

// MaxMindGeoIP reads ASN and City mmdb files. Either reader may be nil when
// the corresponding database is not configured.
type MaxMindGeoIP struct {
	asn  *geoip2.Reader
	city *geoip2.Reader
}

// OpenMaxMind opens the configured databases under dir. Empty filenames skip
// the corresponding lookup.
func OpenMaxMind(dir, asnFile, cityFile string) (*MaxMindGeoIP, error) {
	g := &MaxMindGeoIP{}
	if asnFile != "" {
		r, err := geoip2.Open(filepath.Join(dir, asnFile))
		if err != nil {
			return nil, fmt.Errorf("open ASN database: %w", err)
		}
		g.asn = r
	}
	if cityFile != "" {
		r, err := geoip2.Open(filepath.Join(dir, cityFile))
		if err != nil {
			if g.asn != nil {
				g.asn.Close()
			}
			return nil, fmt.Errorf("open city database: %w", err)
		}
		g.city = r
	}
	return g, nil
}

func (g *MaxMindGeoIP) ASN(ip string) (int64, bool, error) {
	if g.asn == nil {
		return 0, false, nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return 0, false, fmt.Errorf("invalid ip %q", ip)
	}
	rec, err := g.asn.ASN(parsed)
	if err != nil {
		return 0, false, err
	}
	if rec.AutonomousSystemNumber == 0 {
		return 0, false, nil
	}
	return int64(rec.AutonomousSystemNumber), true, nil
}

func (g *MaxMindGeoIP) CountryCode(ip string) (string, bool, error) {
	if g.city == nil {
		return "", false, nil
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", false, fmt.Errorf("invalid ip %q", ip)
	}
	rec, err := g.city.City(parsed)
	if err != nil {
		return "", false, err
	}
	if rec.Country.IsoCode == "" {
		return "", false, nil
	}
	return rec.Country.IsoCode, true, nil
}

func (g *MaxMindGeoIP) Close() error {
	var firstErr error
	if g.asn != nil {
		if err := g.asn.Close(); err != nil {
			firstErr = err
		}
	}
	if g.city != nil {
		if err := g.city.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
