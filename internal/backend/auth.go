package backend

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
)

const (
	loginPath   = "auth/login"
	logoutPath  = "auth/logout"
	mePath      = "auth/me"
	refreshPath = "auth/refresh"
)

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
	User        *User  `json:"user"`
}

func (r tokenResponse) token() string {
	return firstNonBlank(r.AccessToken, r.Token)
}

// Login authenticates with username and password. On success the returned
// token is attached to every later request and the profile is cached.
func (c *Client) Login(ctx context.Context, username, password string) (*User, error) {
	var resp tokenResponse
	body := map[string]string{"username": strings.TrimSpace(username), "password": password}
	if err := c.do(ctx, http.MethodPost, loginPath, nil, body, &resp); err != nil {
		c.creds.Clear()
		return nil, err
	}
	if resp.token() == "" {
		c.creds.Clear()
		return nil, fmt.Errorf("login: %w", ErrUnauthorized)
	}
	c.creds.SetToken(resp.token())

	user := resp.User
	if user == nil {
		me, err := c.Me(ctx)
		if err != nil {
			c.creds.Clear()
			return nil, err
		}
		user = me
	}
	c.creds.SetUser(user)
	return cloneUser(user), nil
}

// Logout tells the backend to end the session. Local credentials are cleared
// whatever the backend answers.
func (c *Client) Logout(ctx context.Context) error {
	defer c.creds.Clear()
	if err := c.do(ctx, http.MethodPost, logoutPath, nil, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Me fetches the authoritative profile for the current token.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, mePath, nil, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Refresh exchanges the refresh cookie for a new access token. The refresh
// endpoint authenticates with the CSRF cookie value echoed in a header, not
// with the bearer token. Concurrent callers share one request.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	token, err, _ := c.flight.Do("refresh", func() (any, error) {
		csrf := c.CSRFToken()
		if csrf == "" {
			return "", ErrNoRefreshCookie
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(refreshPath, nil).String(), nil)
		if err != nil {
			return "", fmt.Errorf("build refresh request: %w", err)
		}
		req.Header.Set(c.csrfHeader, csrf)

		var resp tokenResponse
		if err := c.send(req, &resp); err != nil {
			return "", fmt.Errorf("refresh: %w", err)
		}
		if resp.token() == "" {
			return "", fmt.Errorf("refresh: empty token: %w", ErrUnauthorized)
		}
		c.creds.SetToken(resp.token())
		return resp.token(), nil
	})
	if err != nil {
		return "", err
	}
	return token.(string), nil
}

// Bootstrap decides on load whether a usable session exists without asking
// for credentials again.
//
// With neither the CSRF cookie nor a bearer token there is no session and no
// request is made. With the cookie, a refresh is attempted first. The /me
// call that follows is the only authoritative signal: its profile replaces
// any cached one, and its failure clears every piece of session state.
// Failures are never returned; the caller only learns whether a session
// exists. Concurrent callers share one run.
func (c *Client) Bootstrap(ctx context.Context) (*User, bool) {
	result, _, _ := c.flight.Do("bootstrap", func() (any, error) {
		if c.CSRFToken() == "" && c.creds.Token() == "" {
			c.creds.Clear()
			return (*User)(nil), nil
		}

		if c.CSRFToken() != "" {
			if _, err := c.Refresh(ctx); err != nil {
				log.Printf("backend: session refresh failed: %v", err)
			}
		}

		user, err := c.Me(ctx)
		if err != nil {
			log.Printf("backend: session validation failed: %v", err)
			c.creds.Clear()
			return (*User)(nil), nil
		}
		c.creds.SetUser(user)
		return user, nil
	})

	user, _ := result.(*User)
	if user == nil {
		return nil, false
	}
	return cloneUser(user), true
}
