// Package auth manages the stored backend credential for a session:
// the JWT issued by the login endpoints plus a snapshot of the logged-in
// user, persisted in the session directory.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials holds the auth token and the logged-in user snapshot.
type Credentials struct {
	Token     string `json:"token"`
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	AvatarURL string `json:"image_url"`
}

// Valid reports whether the credential can still authenticate requests.
// The token is parsed without signature verification (verification is
// the backend's job); a token without an exp claim is treated as valid.
func (c *Credentials) Valid() bool {
	if c == nil || c.Token == "" {
		return false
	}
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.Token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return false
	}
	if exp == nil {
		return true
	}
	return exp.After(time.Now())
}

// Store owns the credential file for one session.
type Store struct {
	path string

	mu      sync.RWMutex
	current *Credentials
}

// NewStore loads the credential file if present. A missing file is not
// an error; the session simply starts logged out.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	var c Credentials
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	s.current = &c
	return s, nil
}

// Current returns the stored credential, or nil when logged out.
func (s *Store) Current() *Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set persists a new credential with owner-only permissions.
func (s *Store) Set(c *Credentials) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	s.mu.Lock()
	s.current = c
	s.mu.Unlock()
	return nil
}

// Clear removes the stored credential (logout).
func (s *Store) Clear() error {
	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
