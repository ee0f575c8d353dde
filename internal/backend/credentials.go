package backend

import (
	"encoding/json"
	"net/http"
	"sync"
)

// ID accepts both numeric and string identifiers from the backend.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*id = ""
		return nil
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*id = ID(text)
		return nil
	}
	var number json.Number
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}
	*id = ID(number.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}

// User is the profile returned by /auth/me.
type User struct {
	ID        ID       `json:"id"`
	DisplayID string   `json:"display_id"`
	Name      string   `json:"name"`
	Scopes    []string `json:"scopes"`
	Role      string   `json:"role"`
}

// Credentials is the bearer token and cached profile attached to a session.
// It replaces a shared header map: every request reads the token through it,
// and login, refresh and logout are its only writers.
type Credentials struct {
	mu    sync.RWMutex
	token string
	user  *User
}

// NewCredentials seeds a provider, usually from a persisted session record.
func NewCredentials(token string, user *User) *Credentials {
	return &Credentials{token: token, user: cloneUser(user)}
}

func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// User returns a copy of the cached profile, or nil.
func (c *Credentials) User() *User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneUser(c.user)
}

func (c *Credentials) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Credentials) SetUser(user *User) {
	c.mu.Lock()
	c.user = cloneUser(user)
	c.mu.Unlock()
}

// Clear drops the token and cached profile.
func (c *Credentials) Clear() {
	c.mu.Lock()
	c.token = ""
	c.user = nil
	c.mu.Unlock()
}

func (c *Credentials) authorize(header http.Header) {
	if token := c.Token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
}

func cloneUser(user *User) *User {
	if user == nil {
		return nil
	}
	copied := *user
	copied.Scopes = append([]string(nil), user.Scopes...)
	return &copied
}
