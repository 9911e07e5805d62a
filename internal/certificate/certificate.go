// Package certificate normalises certificate codes and extracts them from
// loosely shaped booking orders.
package certificate

import (
	"regexp"
	"sort"
	"strings"

	"acuity-passkit-bridge/internal/validation"
)

// Length is the exact number of characters in a certificate code.
const Length = 8

var codeRegex = regexp.MustCompile(`^[A-Za-z0-9]{8}$`)

// Code is a validated, upper-case certificate code.
type Code string

func (c Code) String() string { return string(c) }

// Valid reports whether s, once trimmed, has the shape of a certificate code.
func Valid(s string) bool {
	return codeRegex.MatchString(strings.TrimSpace(s))
}

// Normalize validates s and returns it trimmed and upper-cased.
func Normalize(s string) (Code, error) {
	trimmed := strings.TrimSpace(s)
	if !codeRegex.MatchString(trimmed) {
		return "", &validation.ValidationError{
			Field:   "certificate_code",
			Message: "must be exactly 8 alphanumeric characters",
		}
	}
	return Code(strings.ToUpper(trimmed)), nil
}

// directPaths are checked in order before the recursive scan. Each path is a
// flat key or a one-level nested key.
var directPaths = [][]string{
	{"certificateCode"},
	{"certificate"},
	{"certificate_code"},
	{"giftCertificateCode"},
	{"gift_certificate_code"},
	{"membershipCode"},
	{"code"},
	{"certificate", "code"},
	{"certificate", "certificateCode"},
	{"giftCertificate", "code"},
	{"giftCertificate", "certificate"},
	{"giftCertificate", "certificateCode"},
}

// maxDepth bounds the recursive scan.
const maxDepth = 10

// Extract returns the first certificate code found in order, trimmed, or
// false when the order carries none. It never panics on odd input.
func Extract(order map[string]any) (string, bool) {
	if order == nil {
		return "", false
	}

	for _, path := range directPaths {
		if s, ok := lookup(order, path); ok && Valid(s) {
			return strings.TrimSpace(s), true
		}
	}

	return scan(order, 0)
}

func lookup(m map[string]any, path []string) (string, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return "", false
		}
		cur, ok = obj[key]
		if !ok {
			return "", false
		}
	}
	s, ok := cur.(string)
	return s, ok
}

// scan walks nested maps and slices depth-first in key order. A string is a
// candidate only when the key it sits under hints at a certificate.
func scan(v any, depth int) (string, bool) {
	if depth > maxDepth {
		return "", false
	}

	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			child := t[k]
			if s, ok := child.(string); ok {
				if hintsCertificate(k) && Valid(s) {
					return strings.TrimSpace(s), true
				}
				continue
			}
			if list, ok := child.([]any); ok && hintsCertificate(k) {
				for _, item := range list {
					if s, ok := item.(string); ok && Valid(s) {
						return strings.TrimSpace(s), true
					}
				}
			}
			if code, ok := scan(child, depth+1); ok {
				return code, true
			}
		}
	case []any:
		for _, item := range t {
			if code, ok := scan(item, depth+1); ok {
				return code, true
			}
		}
	}
	return "", false
}

func hintsCertificate(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "certificate") || strings.Contains(k, "gift")
}
