// Package backend is the REST client for the college backend. It owns the
// credentials used on every outgoing call, the cookie-based refresh
// handshake and the session bootstrap sequence.
package backend

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
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	DefaultCSRFCookie = "csrf_token"
	DefaultCSRFHeader = "X-CSRF-Token"
)

// Options configures a Client. Only BaseURL is required.
type Options struct {
	BaseURL    string
	CSRFCookie string
	CSRFHeader string
	Timeout    time.Duration
	// Cookies seeds the jar, typically from a persisted session record.
	Cookies    []*http.Cookie
	HTTPClient *http.Client
}

// Client talks to the backend on behalf of a single user session. It is safe
// for concurrent use.
type Client struct {
	root       *url.URL
	http       *http.Client
	creds      *Credentials
	csrfCookie string
	csrfHeader string
	flight     singleflight.Group
}

// APIRoot roots API paths at /api unless the configured origin already ends
// in /api. An empty origin means same-origin "/api".
func APIRoot(origin string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(origin), "/")
	if strings.HasSuffix(trimmed, "/api") {
		return trimmed
	}
	return trimmed + "/api"
}

// New builds a client. creds may be nil, in which case the client starts
// without a session.
func New(opts Options, creds *Credentials) (*Client, error) {
	root, err := url.Parse(APIRoot(opts.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if !root.IsAbs() {
		return nil, fmt.Errorf("backend url must be absolute, got %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	} else {
		copied := *httpClient
		httpClient = &copied
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient.Jar = jar
	}

	if creds == nil {
		creds = &Credentials{}
	}

	c := &Client{
		root:       root,
		http:       httpClient,
		creds:      creds,
		csrfCookie: firstNonBlank(opts.CSRFCookie, DefaultCSRFCookie),
		csrfHeader: firstNonBlank(opts.CSRFHeader, DefaultCSRFHeader),
	}
	if len(opts.Cookies) > 0 {
		c.http.Jar.SetCookies(c.endpoint(refreshPath, nil), opts.Cookies)
	}
	return c, nil
}

// Credentials returns the provider attached to this client.
func (c *Client) Credentials() *Credentials {
	return c.creds
}

// Cookies returns the backend cookies visible to the refresh endpoint, which
// is where the refresh and CSRF cookies are scoped.
func (c *Client) Cookies() []*http.Cookie {
	return c.http.Jar.Cookies(c.endpoint(refreshPath, nil))
}

// CSRFToken returns the value of the CSRF hint cookie, or "".
func (c *Client) CSRFToken() string {
	for _, cookie := range c.Cookies() {
		if cookie.Name == c.csrfCookie {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) endpoint(path string, query url.Values) *url.URL {
	u := c.root.JoinPath(strings.Split(strings.Trim(path, "/"), "/")...)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u
}

// do sends a JSON request with the session bearer token attached and decodes
// a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query).String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.creds.authorize(req.Header)
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
