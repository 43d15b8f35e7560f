// Sixgate - Security Event Exchange Platform
// Copyright 2026 The Sixgate Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sixgate/sixgate

package record

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// fieldSpec couples a key's adjuster (raw wire value -> canonical value)
// with its wire encoder (canonical value -> JSON-ready value).
type fieldSpec struct {
	adjust func(any) (any, error)
	encode func(any) any
}

// fieldOrder fixes the serialization order of persistent keys, followed by
// the transient control keys.
var fieldOrder = []string{
	"id", "rid", "source", "origin", "restriction", "confidence", "category",
	"time", "modified", "expires", "until", "count",
	"address", "dip", "adip", "sport", "dport", "proto",
	"fqdn", "url", "client", "enriched", "type",
	"name", "target", "md5", "sha1", "sha256", "status", "replaces",
	"_group", "_do_not_resolve_fqdn_to_ip",
}

var (
	reHex32  = regexp.MustCompile(`^[0-9a-f]{32}$`)
	reHex40  = regexp.MustCompile(`^[0-9a-f]{40}$`)
	reHex64  = regexp.MustCompile(`^[0-9a-f]{64}$`)
	reSource = regexp.MustCompile(`^[-0-9a-z]+\.[-0-9a-z]+$`)
	reOrgID  = regexp.MustCompile(`^(?:[a-z0-9-]+\.)*[a-z0-9-]+$`)
	reFQDN   = regexp.MustCompile(`^(?:[a-z0-9_-]{1,63}\.)*[a-z0-9_-]{1,63}$`)
	reAnonIP = regexp.MustCompile(`^x(?:\.(?:x|\d{1,3})){3}$`)
)

var (
	restrictionValues = []string{"public", "need-to-know", "internal"}
	confidenceValues  = []string{"low", "medium", "high"}
	protoValues       = []string{"tcp", "udp", "icmp"}
	statusValues      = []string{"active", "delisted", "expired", "replaced"}
	typeValues        = []string{
		TypeEvent, TypeHifreq, TypeSuppressed, TypeBl,
		TypeBlNew, TypeBlUpdate, TypeBlChange, TypeBlDelist, TypeBlExpire,
	}
	originValues = []string{
		"c2", "dropzone", "proxy", "p2p-crawler", "p2p-drone", "sinkhole",
		"sandbox", "honeypot", "darknet", "av", "ids", "waf",
	}
	categoryValues = []string{
		"amplifier", "bots", "backdoor", "cnc", "deface", "dns-query",
		"dos-attacker", "dos-victim", "flow", "flow-anomaly", "fraud",
		"leak", "malurl", "malware-action", "other", "phish", "proxy",
		"sandbox-url", "scam", "scanning", "server-exploit", "spam",
		"spam-url", "tor", "vulnerable", "webinject",
	}
)

// MaxOrgIDLen is the maximum length of a client org-id.
const MaxOrgIDLen = 32

var fieldRegistry = map[string]fieldSpec{
	"id":          {adjust: hexAdjuster("id", reHex32)},
	"rid":         {adjust: hexAdjuster("rid", reHex32)},
	"replaces":    {adjust: hexAdjuster("replaces", reHex32)},
	"md5":         {adjust: hexAdjuster("md5", reHex32)},
	"sha1":        {adjust: hexAdjuster("sha1", reHex40)},
	"sha256":      {adjust: hexAdjuster("sha256", reHex64)},
	"source":      {adjust: regexAdjuster("source", reSource, 64)},
	"restriction": {adjust: enumAdjuster("restriction", restrictionValues)},
	"confidence":  {adjust: enumAdjuster("confidence", confidenceValues)},
	"category":    {adjust: enumAdjuster("category", categoryValues)},
	"proto":       {adjust: enumAdjuster("proto", protoValues)},
	"status":      {adjust: enumAdjuster("status", statusValues)},
	"type":        {adjust: enumAdjuster("type", typeValues)},
	"origin":      {adjust: enumAdjuster("origin", originValues)},
	"time":        {adjust: timeAdjuster("time"), encode: encodeTime},
	"modified":    {adjust: timeAdjuster("modified"), encode: encodeTime},
	"expires":     {adjust: timeAdjuster("expires"), encode: encodeTime},
	"until":       {adjust: timeAdjuster("until"), encode: encodeTime},
	"count":       {adjust: intAdjuster("count", 1, 1<<31-1)},
	"sport":       {adjust: intAdjuster("sport", 0, 65535)},
	"dport":       {adjust: intAdjuster("dport", 0, 65535)},
	"dip":         {adjust: ipAdjuster("dip")},
	"adip":        {adjust: adjustAnonIP},
	"address":     {adjust: adjustAddress},
	"fqdn":        {adjust: adjustFQDN},
	"url":         {adjust: adjustURL},
	"client":      {adjust: adjustClient},
	"enriched":    {adjust: adjustEnriched},
	"name":        {adjust: adjustName},
	"target":      {adjust: stringAdjuster("target", 100)},
	"_group":      {adjust: stringAdjuster("_group", 255)},

	"_do_not_resolve_fqdn_to_ip": {adjust: adjustBool("_do_not_resolve_fqdn_to_ip")},
}

// lookupField resolves a key to its spec; "_bl-*" series keys pass through.
func lookupField(key string) (fieldSpec, bool) {
	if spec, ok := fieldRegistry[key]; ok {
		return spec, true
	}
	if strings.HasPrefix(key, "_bl-") {
		return fieldSpec{adjust: adjustTransient}, true
	}
	return fieldSpec{}, false
}

// --- generic adjusters ---

func toString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func hexAdjuster(field string, re *regexp.Regexp) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := toString(v)
		if !ok {
			return nil, adjusterErr(field, "not a string")
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if !re.MatchString(s) {
			return nil, adjusterErr(field, "not a valid hex digest")
		}
		return s, nil
	}
}

func regexAdjuster(field string, re *regexp.Regexp, maxLen int) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := toString(v)
		if !ok {
			return nil, adjusterErr(field, "not a string")
		}
		s = strings.TrimSpace(s)
		if len(s) == 0 || len(s) > maxLen || !re.MatchString(s) {
			return nil, adjusterErr(field, "invalid value")
		}
		return s, nil
	}
}

func enumAdjuster(field string, allowed []string) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := toString(v)
		if !ok {
			return nil, adjusterErr(field, "not a string")
		}
		s = strings.ToLower(strings.TrimSpace(s))
		for _, a := range allowed {
			if s == a {
				return s, nil
			}
		}
		return nil, adjusterErr(field, "not one of the allowed values")
	}
}

func intAdjuster(field string, min, max int64) func(any) (any, error) {
	return func(v any) (any, error) {
		n, ok := toInt64(v)
		if !ok || n < min || n > max {
			return nil, adjusterErr(field, "not an integer in range")
		}
		return n, nil
	}
}

func adjustBool(field string) func(any) (any, error) {
	return func(v any) (any, error) {
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "true", "1":
				return true, nil
			case "false", "0":
				return false, nil
			}
			return nil, adjusterErr(field, "not a boolean")
		default:
			return nil, adjusterErr(field, "not a boolean")
		}
	}
}

func stringAdjuster(field string, maxLen int) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := toString(v)
		if !ok {
			return nil, adjusterErr(field, "not a string")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		if len(s) > maxLen {
			return nil, adjusterErr(field, "too long")
		}
		return s, nil
	}
}

// timeAdjuster accepts time.Time or a string in the wire layout or RFC 3339,
// and normalizes to UTC with second precision.
func timeAdjuster(field string) func(any) (any, error) {
	return func(v any) (any, error) {
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Truncate(time.Second), nil
		case string:
			s := strings.TrimSpace(t)
			for _, layout := range []string{TimeLayout, time.RFC3339, "2006-01-02T15:04:05"} {
				if parsed, err := time.Parse(layout, s); err == nil {
					return parsed.UTC().Truncate(time.Second), nil
				}
			}
			return nil, adjusterErr(field, "unparseable date-time")
		default:
			return nil, adjusterErr(field, "not a date-time")
		}
	}
}

func encodeTime(v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	return t.UTC().Format(TimeLayout)
}

// --- ip-family adjusters ---

// ValidIPv4 reports whether s is a dotted-quad IPv4 address.
func ValidIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return false
		}
		if len(p) > 1 && p[0] == '0' {
			return false
		}
	}
	return true
}

func ipAdjuster(field string) func(any) (any, error) {
	return func(v any) (any, error) {
		s, ok := toString(v)
		if !ok {
			return nil, adjusterErr(field, "not a string")
		}
		s = strings.TrimSpace(s)
		if !ValidIPv4(s) {
			return nil, adjusterErr(field, "not an IPv4 address")
		}
		return s, nil
	}
}

func adjustAnonIP(v any) (any, error) {
	s, ok := toString(v)
	if !ok {
		return nil, adjusterErr("adip", "not a string")
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if !reAnonIP.MatchString(s) {
		return nil, adjusterErr("adip", "not an anonymized IPv4 address")
	}
	return s, nil
}

// adjustAddress canonicalizes the address sequence. An empty sequence is
// dropped entirely: "address" is non-empty or absent, never [].
func adjustAddress(v any) (any, error) {
	switch list := v.(type) {
	case []Address:
		if len(list) == 0 {
			return nil, nil
		}
		for i, a := range list {
			canonical, err := adjustOneAddress(map[string]any{"ip": a.IP, "asn": a.ASN, "cc": a.CC})
			if err != nil {
				return nil, err
			}
			list[i] = canonical
		}
		return list, nil
	case []any:
		if len(list) == 0 {
			return nil, nil
		}
		out := make([]Address, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, adjusterErr("address", "entry is not an object")
			}
			canonical, err := adjustOneAddress(m)
			if err != nil {
				return nil, err
			}
			out = append(out, canonical)
		}
		return out, nil
	default:
		return nil, adjusterErr("address", "not a sequence")
	}
}

func adjustOneAddress(m map[string]any) (Address, error) {
	var out Address
	ip, ok := toString(m["ip"])
	if !ok || !ValidIPv4(strings.TrimSpace(ip)) {
		return out, adjusterErr("address", "entry without a valid ip")
	}
	out.IP = strings.TrimSpace(ip)
	if raw, present := m["asn"]; present && raw != nil {
		asn, ok := toInt64(raw)
		if !ok || asn < 0 || asn > 1<<32-1 {
			return out, adjusterErr("address", "invalid asn")
		}
		out.ASN = asn
	}
	if raw, present := m["cc"]; present && raw != nil {
		cc, ok := toString(raw)
		cc = strings.ToUpper(strings.TrimSpace(cc))
		if !ok || len(cc) != 2 {
			return out, adjusterErr("address", "invalid cc")
		}
		out.CC = cc
	}
	return out, nil
}

func adjustFQDN(v any) (any, error) {
	s, ok := toString(v)
	if !ok {
		return nil, adjusterErr("fqdn", "not a string")
	}
	s = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if s == "" {
		return nil, nil
	}
	if len(s) > 255 || !reFQDN.MatchString(s) {
		return nil, adjusterErr("fqdn", "not a valid domain name")
	}
	return s, nil
}

// adjustURL enforces an ASCII-only URL of bounded length; non-ASCII bytes
// are percent-encoded so the stored form is always substring-searchable.
func adjustURL(v any) (any, error) {
	s, ok := toString(v)
	if !ok {
		return nil, adjusterErr("url", "not a string")
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c < 0x7f {
			b.WriteByte(c)
		} else {
			b.WriteString("%" + strings.ToUpper(strconv.FormatInt(int64(c), 16)))
		}
	}
	escaped := b.String()
	if len(escaped) > 2048 {
		return nil, adjusterErr("url", "too long")
	}
	return escaped, nil
}

// adjustClient produces the sorted, deduplicated org-id list.
func adjustClient(v any) (any, error) {
	var raw []string
	switch list := v.(type) {
	case []string:
		raw = list
	case []any:
		for _, item := range list {
			s, ok := toString(item)
			if !ok {
				return nil, adjusterErr("client", "entry is not a string")
			}
			raw = append(raw, s)
		}
	default:
		return nil, adjusterErr("client", "not a sequence")
	}
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if len(s) > MaxOrgIDLen || !reOrgID.MatchString(s) {
			return nil, adjusterErr("client", "invalid org id")
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, nil
	}
	sort.Strings(out)
	return out, nil
}

func adjustEnriched(v any) (any, error) {
	switch e := v.(type) {
	case Enriched:
		return e, nil
	case []any:
		raw, err := json.Marshal(e)
		if err != nil {
			return nil, adjusterErr("enriched", "not a provenance pair")
		}
		var out Enriched
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, adjusterErr("enriched", "not a provenance pair")
		}
		return out, nil
	default:
		return nil, adjusterErr("enriched", "not a provenance pair")
	}
}

func adjustName(v any) (any, error) {
	s, ok := toString(v)
	if !ok {
		return nil, adjusterErr("name", "not a string")
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return nil, nil
	}
	if len(s) > 255 {
		s = s[:255]
	}
	return s, nil
}

// adjustTransient accepts "_bl-*" series keys as-is (string or integer).
func adjustTransient(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	default:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
		return nil, adjusterErr("_bl-*", "not a scalar")
	}
}
