// Package client drives the session bridge from the wallet side: it signs in
// with a wallet, keeps the local session consistent with the connected
// account and talks to the bridge through a cookie-carrying HTTP client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/layer-3/fundgate/core"
)

const DefaultCookieName = "polyagent_session"

// StatusError is returned for any non-2xx bridge response
type StatusError struct {
	Path   string
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed, path=%s, status=%d", e.Path, e.Status)
}

// NonceParams scopes a nonce request
type NonceParams struct {
	Address string `json:"address"`
	ChainID int64  `json:"chainId"`
	Domain  string `json:"domain"`
}

// LoginParams is the signed SIWE message submitted to login
type LoginParams struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// User is the profile returned by login
type User struct {
	Address                  string    `json:"address"`
	Role                     core.Role `json:"role"`
	CreatedAt                string    `json:"createdAt,omitempty"`
	ManagerApplicationStatus string    `json:"managerApplicationStatus,omitempty"`
}

// AuthAPI is the part of the bridge the sign-in flow needs
type AuthAPI interface {
	Nonce(ctx context.Context, params NonceParams) (string, error)
	Login(ctx context.Context, params LoginParams) (*User, error)
	Logout(ctx context.Context) error
}

// APIClient talks to the bridge's /api surface, keeping the session cookie in a jar
type APIClient struct {
	base       *url.URL
	http       *http.Client
	cookieName string
}

// APIOption configures an APIClient
type APIOption func(*APIClient)

// WithCookieName overrides the session cookie name
func WithCookieName(name string) APIOption {
	return func(c *APIClient) { c.cookieName = name }
}

// WithTransport replaces the HTTP transport; the cookie jar is kept
func WithTransport(rt http.RoundTripper) APIOption {
	return func(c *APIClient) { c.http.Transport = rt }
}

// NewAPIClient creates a client for the bridge at baseURL (e.g. https://app.example.com)
func NewAPIClient(baseURL string, opts ...APIOption) (*APIClient, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid bridge url %q", baseURL)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	c := &APIClient{
		base:       base,
		http:       &http.Client{Jar: jar},
		cookieName: DefaultCookieName,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Nonce requests a login nonce
func (c *APIClient) Nonce(ctx context.Context, params NonceParams) (string, error) {
	var data struct {
		Nonce string `json:"nonce"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/nonce", params, &data); err != nil {
		return "", err
	}
	if data.Nonce == "" {
		return "", fmt.Errorf("empty nonce in response")
	}
	return data.Nonce, nil
}

// Login submits a signed message; on success the jar holds the session cookie
func (c *APIClient) Login(ctx context.Context, params LoginParams) (*User, error) {
	var data struct {
		User *User `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", params, &data); err != nil {
		return nil, err
	}
	if data.User == nil || data.User.Address == "" {
		return nil, fmt.Errorf("missing user in login response")
	}
	return data.User, nil
}

// Logout ends the session
func (c *APIClient) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
}

// Session reports what the bridge thinks of the current cookie
func (c *APIClient) Session(ctx context.Context) (*core.SessionStatus, error) {
	var status core.SessionStatus
	if err := c.do(ctx, http.MethodGet, "/auth/session", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Profile fetches the signed-in user's profile through the proxy
func (c *APIClient) Profile(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/user/profile", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SessionCookie returns the session cookie value currently held in the jar
func (c *APIClient) SessionCookie() string {
	for _, ck := range c.http.Jar.Cookies(c.base) {
		if ck.Name == c.cookieName {
			return ck.Value
		}
	}
	return ""
}

// SetSessionCookie seeds the jar with a previously issued session cookie
func (c *APIClient) SetSessionCookie(value string) {
	c.http.Jar.SetCookies(c.base, []*http.Cookie{{Name: c.cookieName, Value: value, Path: "/"}})
}

func (c *APIClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+"/api"+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Path: path, Status: resp.StatusCode, Body: raw}
	}
	if out == nil {
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("missing data in %s response", path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s data: %w", path, err)
	}
	return nil
}
