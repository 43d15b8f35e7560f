// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package eventdb

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/sixgate/sixgate/internal/record"
)

// exactColumns are the parameters compiled to equality (or IN) conditions.
var exactColumns = map[string]string{
	"source":      "source",
	"category":    "category",
	"confidence":  "confidence",
	"restriction": "restriction",
	"origin":      "origin",
	"proto":       "proto",
	"name":        "name",
	"status":      "status",
	"target":      "target",
}

// hexColumns are compiled to equality over binary columns.
var hexColumns = map[string]string{
	"md5":    "md5",
	"sha1":   "sha1",
	"sha256": "sha256",
}

// timeColumns maps the query prefix to the column expression. "active"
// selects by expires with fallback to time for pre-expires blacklists.
var timeColumns = map[string]string{
	"time":     "time",
	"modified": "modified",
	"active":   "COALESCE(expires, time)",
}

// CompiledQuery is the storage predicate produced from query parameters.
type CompiledQuery struct {
	conditions []string
	args       []any
}

// Where returns the conditions joined for appending to "WHERE 1=1".
func (q *CompiledQuery) Where() string {
	if len(q.conditions) == 0 {
		return ""
	}
	return " AND " + strings.Join(q.conditions, " AND ")
}

// Args returns the bind arguments matching Where's placeholders.
func (q *CompiledQuery) Args() []any { return q.args }

func (q *CompiledQuery) add(condition string, args ...any) {
	q.conditions = append(q.conditions, condition)
	q.args = append(q.args, args...)
}

// Compile turns query parameters into a storage predicate. Comparisons are
// closed on .min/.max and half-open on .until; time values are normalized
// to UTC. Unknown parameters are rejected.
func Compile(params map[string][]string) (*CompiledQuery, error) {
	q := &CompiledQuery{}

	// Deterministic condition order regardless of map iteration.
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := params[key]
		if len(values) == 0 {
			continue
		}
		if err := q.compileOne(key, values); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (q *CompiledQuery) compileOne(key string, values []string) error {
	if column, ok := exactColumns[key]; ok {
		q.addIn(column, toAny(values))
		return nil
	}
	if column, ok := hexColumns[key]; ok {
		decoded := make([]any, 0, len(values))
		for _, v := range values {
			raw, err := hex.DecodeString(strings.ToLower(v))
			if err != nil {
				return fmt.Errorf("query: %s is not a hex digest", key)
			}
			decoded = append(decoded, raw)
		}
		q.addIn(column, decoded)
		return nil
	}

	switch key {
	case "client":
		q.add(`id IN (SELECT id FROM client_to_event WHERE client_org_id = ?)`, values[0])
	case "fqdn.sub":
		q.add("fqdn LIKE ? ESCAPE '\\'", "%"+escapeLike(values[0])+"%")
	case "url.sub":
		q.add("url LIKE ? ESCAPE '\\'", "%"+escapeLike(values[0])+"%")
	case "url.b64":
		decoded, err := base64.URLEncoding.DecodeString(values[0])
		if err != nil {
			return fmt.Errorf("query: url.b64 is not base64url")
		}
		q.add("url = ?", string(decoded))
	case "ip":
		n, err := IPToUint32(values[0])
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		q.add("ip = ?", int64(n))
	case "ip.net":
		minIP, maxIP, err := cidrRange(values[0])
		if err != nil {
			return err
		}
		q.add("ip >= ? AND ip <= ?", int64(minIP), int64(maxIP))
	default:
		prefix, op, found := strings.Cut(key, ".")
		column, known := timeColumns[prefix]
		if !found || !known {
			return fmt.Errorf("query: unknown parameter %q", key)
		}
		t, err := parseQueryTime(values[0])
		if err != nil {
			return fmt.Errorf("query: %s: %w", key, err)
		}
		switch op {
		case "min":
			q.add(column+" >= ?", t)
		case "max":
			q.add(column+" <= ?", t)
		case "until":
			q.add(column+" < ?", t)
		default:
			return fmt.Errorf("query: unknown parameter %q", key)
		}
	}
	return nil
}

func (q *CompiledQuery) addIn(column string, values []any) {
	if len(values) == 1 {
		q.add(column+" = ?", values[0])
		return
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	q.add(fmt.Sprintf("%s IN (%s)", column, placeholders), values...)
}

// cidrRange converts an IPv4 CIDR to its numeric range; the lower bound is
// forced above 0 so the placeholder never matches a network query.
func cidrRange(cidr string) (uint32, uint32, error) {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil || !prefix.Addr().Is4() {
		return 0, 0, fmt.Errorf("query: invalid CIDR %q", cidr)
	}
	prefix = prefix.Masked()

	minIP, err := IPToUint32(prefix.Addr().String())
	if err != nil {
		return 0, 0, err
	}
	hostBits := 32 - prefix.Bits()
	maxIP := minIP | (1<<hostBits - 1)
	if minIP == 0 {
		minIP = 1
	}
	return minIP, maxIP, nil
}

// escapeLike guards LIKE metacharacters in substring searches.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func parseQueryTime(s string) (time.Time, error) {
	for _, layout := range []string{record.TimeLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", s)
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
