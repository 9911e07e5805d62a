// Package acuity is a thin client for the booking system's REST API.
package acuity

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"acuity-passkit-bridge/internal/config"
	"acuity-passkit-bridge/internal/httpx"
	"acuity-passkit-bridge/internal/models"
)

// SignatureHeader carries the webhook body signature.
const SignatureHeader = "X-Acuity-Signature"

// APIError is returned for non-2xx responses.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("acuity %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

type Client struct {
	baseURL string
	userID  string
	apiKey  string
	http    *http.Client
}

// NewClient builds a client. httpClient defaults to the shared client.
func NewClient(cfg config.AcuityConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpx.Client()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		userID:  cfg.UserID,
		apiKey:  cfg.APIKey,
		http:    httpClient,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.userID != "" && c.apiKey != ""
}

func (c *Client) checkConfig() error {
	if c.userID == "" {
		return config.Missing("acuity user id")
	}
	if c.apiKey == "" {
		return config.Missing("acuity api key")
	}
	if c.baseURL == "" {
		return config.Missing("acuity base url")
	}
	return nil
}

// FetchOrder returns the order with the given id.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (models.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("acuity fetch order: order id is required")
	}
	var order models.Order
	if err := c.get(ctx, "fetch order", "/orders/"+url.PathEscape(orderID), &order); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("acuity fetch order %s: empty response", orderID)
	}
	return order, nil
}

// Me returns the authenticated account, used as a connection test.
func (c *Client) Me(ctx context.Context) (map[string]any, error) {
	var me map[string]any
	if err := c.get(ctx, "me", "/me", &me); err != nil {
		return nil, err
	}
	return me, nil
}

// Ping runs the connection test and describes the account it reached.
func (c *Client) Ping(ctx context.Context) (string, error) {
	me, err := c.Me(ctx)
	if err != nil {
		return "", err
	}
	for _, key := range []string{"name", "email", "id"} {
		if s := models.StringValue(me[key]); s != "" {
			return "authenticated as " + s, nil
		}
	}
	return "authenticated", nil
}

func (c *Client) get(ctx context.Context, op, path string, dest any) error {
	if err := c.checkConfig(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("acuity %s: create request: %w", op, err)
	}
	req.SetBasicAuth(c.userID, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("acuity %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("acuity %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: httpx.Truncate(body, 512)}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(dest); err != nil {
		return fmt.Errorf("acuity %s: decode response: %w", op, err)
	}
	return nil
}

// Sign returns the base64 HMAC-SHA256 signature of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against body in constant time.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := Sign(secret, body)
	return hmac.Equal([]byte(expected), []byte(strings.TrimSpace(signature)))
}
