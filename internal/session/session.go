// Package session stores the backend credentials held for each browser
// session so that a reload can resume without asking for the password again.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"colegio/panel/internal/backend"
)

// ErrNotFound is returned when a session id is unknown or has expired.
var ErrNotFound = errors.New("session not found or expired")

// DefaultTTL bounds how long an idle session record survives.
const DefaultTTL = 8 * time.Hour

// Cookie is a backend cookie captured from the client jar.
type Cookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Record is what the gateway keeps per browser session. The cached user is
// only a hint for optimistic rendering; /me stays authoritative.
type Record struct {
	Token     string        `json:"token"`
	User      *backend.User `json:"user,omitempty"`
	Cookies   []Cookie      `json:"cookies,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// HTTPCookies converts the stored cookies for seeding a client jar.
func (r Record) HTTPCookies() []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(r.Cookies))
	for _, c := range r.Cookies {
		cookies = append(cookies, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies
}

// Capture builds a record from a client's current state.
func Capture(client *backend.Client, createdAt time.Time) Record {
	rec := Record{
		Token:     client.Credentials().Token(),
		User:      client.Credentials().User(),
		CreatedAt: createdAt,
	}
	for _, c := range client.Cookies() {
		rec.Cookies = append(rec.Cookies, Cookie{Name: c.Name, Value: c.Value})
	}
	return rec
}

// Empty reports whether the record carries nothing a bootstrap could use.
func (r Record) Empty() bool {
	return r.Token == "" && len(r.Cookies) == 0
}

// Store persists session records with a time to live.
type Store interface {
	Save(ctx context.Context, id string, rec Record, ttl time.Duration) error
	Load(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Close() error
}
