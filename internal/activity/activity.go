// Package activity decides whether a booking order still represents an
// active membership and whether its product is a membership at all.
package activity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Evaluation is the outcome of EvaluateOrder.
type Evaluation struct {
	Active bool   `json:"active"`
	Reason string `json:"reason,omitempty"`
}

var cancelFlags = []string{"cancelled", "canceled", "isCancelled", "isCanceled"}

var activeFlags = []string{"active", "isActive"}

var statusFields = []string{"status", "orderStatus", "subscriptionStatus", "membershipStatus"}

var terminalStatuses = map[string]bool{
	"cancelled": true,
	"canceled":  true,
	"expired":   true,
	"inactive":  true,
	"voided":    true,
	"refunded":  true,
	"failed":    true,
}

// EvaluateOrder applies the cancellation rules in order; the first match
// wins and an order matching none is active.
func EvaluateOrder(order map[string]any) Evaluation {
	for _, flag := range cancelFlags {
		if Truthy(order[flag]) {
			return Evaluation{Reason: fmt.Sprintf("order flag %s is set", flag)}
		}
	}

	for _, flag := range activeFlags {
		if b, ok := order[flag].(bool); ok && !b {
			return Evaluation{Reason: fmt.Sprintf("order %s is false", flag)}
		}
	}

	for _, field := range statusFields {
		raw, ok := order[field].(string)
		if !ok {
			continue
		}
		status := strings.ToLower(strings.TrimSpace(raw))
		if status == "" {
			continue
		}
		if terminalStatuses[status] || strings.Contains(status, "cancel") || strings.Contains(status, "expire") {
			return Evaluation{Reason: fmt.Sprintf("order %s is %q", field, raw)}
		}
	}

	return Evaluation{Active: true}
}

// Truthy coerces a decoded JSON value to a flag: true, non-zero numbers and
// the strings "true", "1" and "yes" count.
func Truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes":
			return true
		}
	}
	return false
}

// ProductFilter matches order titles against a configured list of
// case-insensitive substrings. An empty filter matches everything.
type ProductFilter struct {
	terms []string
}

// ParseProductFilter builds a filter from a comma-separated list.
func ParseProductFilter(list string) ProductFilter {
	var terms []string
	for _, part := range strings.Split(list, ",") {
		if term := strings.ToLower(strings.TrimSpace(part)); term != "" {
			terms = append(terms, term)
		}
	}
	return ProductFilter{terms: terms}
}

// Configured reports whether the filter restricts anything.
func (f ProductFilter) Configured() bool {
	return len(f.terms) > 0
}

// Matches reports whether title contains any of the filter terms.
func (f ProductFilter) Matches(title string) bool {
	if len(f.terms) == 0 {
		return true
	}
	t := strings.ToLower(title)
	for _, term := range f.terms {
		if strings.Contains(t, term) {
			return true
		}
	}
	return false
}

// Terms returns the normalised filter terms.
func (f ProductFilter) Terms() []string {
	out := make([]string, len(f.terms))
	copy(out, f.terms)
	return out
}
