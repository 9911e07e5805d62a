// Package httpx holds the shared outbound HTTP client.
package httpx

import (
	"net"
	"net/http"
	"time"
	"unicode/utf8"
)

var defaultClient = &http.Client{
	Timeout: 20 * time.Second,
	Transport: &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
}

// Client returns the process-wide client used for upstream APIs.
func Client() *http.Client { return defaultClient }

// Truncate shortens an upstream response body for logs and errors. The cut
// never splits a UTF-8 sequence.
func Truncate(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}
	if max < 0 {
		max = 0
	}
	for max > 0 && !utf8.RuneStart(body[max]) {
		max--
	}
	return string(body[:max]) + "..."
}
