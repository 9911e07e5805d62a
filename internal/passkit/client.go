// Package passkit talks to the wallet provider: member upserts, deletes,
// lookups and searches for a single membership program.
package passkit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"acuity-passkit-bridge/internal/config"
	"acuity-passkit-bridge/internal/httpx"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("passkit %s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	installURL string
	apiKey     string
	apiSecret  string
	programID  string
	http       *http.Client
	now        func() time.Time
}

// NewClient builds a client. httpClient defaults to the shared client.
func NewClient(cfg config.PassKitConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = httpx.Client()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		installURL: strings.TrimRight(cfg.InstallBaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		programID:  cfg.ProgramID,
		http:       httpClient,
		now:        time.Now,
	}
}

// Configured reports whether credentials and a program are present.
func (c *Client) Configured() bool {
	return c.apiKey != "" && c.apiSecret != "" && c.programID != ""
}

// ProgramID returns the configured membership program.
func (c *Client) ProgramID() string {
	return c.programID
}

// InstallURL returns the customer-facing pass install link for a member.
func (c *Client) InstallURL(memberID string) string {
	if c.installURL == "" || memberID == "" {
		return ""
	}
	return c.installURL + "/" + url.PathEscape(memberID)
}

// UpsertMember creates or replaces a member and returns its reference.
func (c *Client) UpsertMember(ctx context.Context, m Member) (MemberRef, error) {
	body, err := c.do(ctx, "upsert member", http.MethodPut, "/members/member", m)
	if err != nil {
		return MemberRef{}, err
	}
	ref, ok := ParseMemberPayload(body)
	if !ok {
		return MemberRef{}, fmt.Errorf("passkit upsert member: response carries no member id: %s", httpx.Truncate(body, 256))
	}
	if ref.ExternalID == "" {
		ref.ExternalID = m.ExternalID
	}
	return ref, nil
}

// DeleteMember removes a member by id.
func (c *Client) DeleteMember(ctx context.Context, memberID string) error {
	_, err := c.do(ctx, "delete member", http.MethodDelete, "/members/member", map[string]string{"id": memberID})
	return err
}

// LookupByExternalID fetches a member by its external id within a program.
func (c *Client) LookupByExternalID(ctx context.Context, programID, externalID string) ([]byte, error) {
	path := "/members/member/external/" + url.PathEscape(programID) + "/" + url.PathEscape(externalID)
	return c.do(ctx, "lookup member", http.MethodGet, path, nil)
}

// SearchMembers lists the newest member of a program matching f.
func (c *Client) SearchMembers(ctx context.Context, programID string, f Filter) ([]byte, error) {
	path := "/members/member/list/" + url.PathEscape(programID)
	return c.do(ctx, "search members", http.MethodPost, path, newestMatch(f))
}

// GetProgram fetches the configured program, used as a connection test.
func (c *Client) GetProgram(ctx context.Context) ([]byte, error) {
	if c.programID == "" {
		return nil, config.Missing("passkit program id")
	}
	return c.do(ctx, "get program", http.MethodGet, "/members/program/"+url.PathEscape(c.programID), nil)
}

// Ping mints a token and fetches the program.
func (c *Client) Ping(ctx context.Context) (string, error) {
	if _, err := c.GetProgram(ctx); err != nil {
		return "", err
	}
	return "program " + c.programID + " reachable", nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	if c.apiKey == "" || c.apiSecret == "" {
		return nil, config.Missing("passkit api key and secret")
	}
	if c.baseURL == "" {
		return nil, config.Missing("passkit base url")
	}

	token, err := MintToken(c.apiKey, c.apiSecret, c.now())
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("passkit %s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("passkit %s: create request: %w", op, err)
	}
	req.Header.Set("Authorization", token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("passkit %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("passkit %s: read body: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: httpx.Truncate(body, 512)}
	}
	return body, nil
}
