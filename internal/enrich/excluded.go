// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package enrich

import (
	"fmt"
	"net/netip"
	"strings"
)

// ExcludedIPs is a static match set of IPv4 singletons and CIDR ranges.
// Matching addresses are stripped from events and never annotated.
type ExcludedIPs struct {
	singles  map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

// NewExcludedIPs parses entries like "10.1.2.3" or "10.0.0.0/8".
func NewExcludedIPs(entries []string) (*ExcludedIPs, error) {
	e := &ExcludedIPs{singles: make(map[netip.Addr]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil || !prefix.Addr().Is4() {
				return nil, fmt.Errorf("excluded_ips: invalid CIDR %q", entry)
			}
			e.prefixes = append(e.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil || !addr.Is4() {
			return nil, fmt.Errorf("excluded_ips: invalid address %q", entry)
		}
		e.singles[addr] = struct{}{}
	}
	return e, nil
}

// Contains reports whether the dotted-quad ip matches the set. Unparseable
// input does not match.
func (e *ExcludedIPs) Contains(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	if _, ok := e.singles[addr]; ok {
		return true
	}
	for _, prefix := range e.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// Empty reports whether the set has no entries.
func (e *ExcludedIPs) Empty() bool {
	return len(e.singles) == 0 && len(e.prefixes) == 0
}
