package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Order is a booking-system order as decoded from JSON. No canonical schema
// is guaranteed, so fields are looked up by name and may be absent or nested.
type Order map[string]any

// String returns the field as a trimmed string. Numbers are formatted without
// a fractional part when they are integral.
func (o Order) String(key string) string {
	return StringValue(o[key])
}

// ID returns the order identifier as a string.
func (o Order) ID() string {
	return o.String("id")
}

// Title returns the product title of the order.
func (o Order) Title() string {
	return o.String("title")
}

// StringValue formats a decoded JSON scalar as a string.
func StringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// Result statuses returned by the reconciliation engine.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusError   = "error"
	StatusIgnored = "ignored"
)

// Cancellation methods.
const (
	MethodStatusUpdate   = "status_update"
	MethodDelete         = "delete"
	MethodMemberNotFound = "member_not_found"
)

// Result is the structured outcome of an Enroll or Cancel run.
type Result struct {
	Status          string  `json:"status"`
	Action          string  `json:"action"`
	OrderID         string  `json:"orderId,omitempty"`
	CertificateCode string  `json:"certificateCode,omitempty"`
	MemberID        string  `json:"memberId,omitempty"`
	DisplayName     string  `json:"displayName,omitempty"`
	MembershipTitle string  `json:"membershipTitle,omitempty"`
	InstallURL      string  `json:"installUrl,omitempty"`
	Method          string  `json:"method,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	Error           string  `json:"error,omitempty"`
	Cancellation    *Result `json:"cancellation,omitempty"`
}

// Log levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LogEntry is one activity-log record.
type LogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ReprocessRequest is the body of an operator-triggered reprocess.
type ReprocessRequest struct {
	Action          string `json:"action" validate:"required,oneof=enroll cancel"`
	OrderID         string `json:"orderId" validate:"required_without=CertificateCode,max=64"`
	CertificateCode string `json:"certificateCode" validate:"omitempty,len=8,alphanum"`
	Reason          string `json:"reason" validate:"omitempty,max=200"`
}

// ToggleRequest is the body of a webhook-enabled toggle update.
type ToggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// ToggleResponse reports the webhook-enabled flag.
type ToggleResponse struct {
	Enabled bool `json:"enabled"`
}

// CertificateLookupResponse reports what is known about a certificate code.
type CertificateLookupResponse struct {
	CertificateCode string `json:"certificateCode"`
	OrderID         string `json:"orderId,omitempty"`
	MemberID        string `json:"memberId,omitempty"`
	Email           string `json:"email,omitempty"`
	Found           bool   `json:"found"`
}

// ConnectionTestResponse reports the outcome of an upstream connection test.
type ConnectionTestResponse struct {
	Service string `json:"service"`
	OK      bool   `json:"ok"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is the payload of the status endpoint.
type StatusResponse struct {
	WebhooksEnabled   bool            `json:"webhooksEnabled"`
	StoreAvailable    bool            `json:"storeAvailable"`
	AcuityConfigured  bool            `json:"acuityConfigured"`
	PassKitConfigured bool            `json:"passkitConfigured"`
	ProductFilter     string          `json:"productFilter,omitempty"`
	Features          map[string]bool `json:"features"`
	RecentLogs        []LogEntry      `json:"recentLogs"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}
