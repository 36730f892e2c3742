// ABOUTME: Process-wide session state holding the bearer token and current user.
// ABOUTME: The user profile persists across restarts; the access token never does.

package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/golang-jwt/jwt/v5"
)

// User is the lightweight identity record kept alongside the session.
type User struct {
	ID    string `toml:"id"`
	Email string `toml:"email"`
	Name  string `toml:"name"`
	Role  string `toml:"role"`
}

// profile is the on-disk representation of the session. The access token is
// deliberately absent: it must be re-derived via refresh after a restart.
type profile struct {
	User                  *User `toml:"user"`
	BelievedAuthenticated bool  `toml:"believed_authenticated"`
}

// Store holds the current session. All mutation goes through the store so
// the invariant "no token implies not authenticated" always holds.
type Store struct {
	mu            sync.RWMutex
	accessToken   string
	authenticated bool
	user          *User

	path string
}

// NewStore creates a session store that persists its profile at path.
// An empty path disables persistence (used by tests).
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load restores the persisted profile from disk. A missing profile file is
// not an error; it simply leaves the store logged out. The access token is
// never restored from disk.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	var p profile
	if _, err := toml.DecodeFile(s.path, &p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("loading session profile: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = p.User
	// The persisted flag only records that a login happened before the last
	// shutdown. The session is not authenticated until a refresh yields a
	// fresh token.
	return nil
}

// Save writes the current profile to disk.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}

	s.mu.RLock()
	p := profile{User: s.user, BelievedAuthenticated: s.authenticated}
	s.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating profile directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("writing session profile: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("encoding session profile: %w", err)
	}
	return nil
}

// RememberedLogin reports whether the persisted profile recorded a login
// before the last shutdown. Callers use it to decide whether a startup
// refresh attempt is worthwhile.
func (s *Store) RememberedLogin() bool {
	if s.path == "" {
		return false
	}

	var p profile
	if _, err := toml.DecodeFile(s.path, &p); err != nil {
		return false
	}
	return p.BelievedAuthenticated
}

// Token returns the current access token, or "" when logged out.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// SetToken replaces the access token. A non-empty token marks the session
// authenticated (refresh success); an empty token marks it unauthenticated.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
	s.authenticated = token != ""
}

// Authenticated reports whether a login has succeeded and no logout has
// occurred since.
func (s *Store) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// User returns the current user, or nil when none is known.
func (s *Store) User() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Login records a successful login: token, user, and the authenticated flag
// change together under one lock.
func (s *Store) Login(token string, u *User) {
	s.mu.Lock()
	s.accessToken = token
	s.authenticated = token != ""
	s.user = u
	s.mu.Unlock()
}

// Logout clears the token, the user, and the authenticated flag atomically.
func (s *Store) Logout() {
	s.mu.Lock()
	s.accessToken = ""
	s.authenticated = false
	s.user = nil
	s.mu.Unlock()
}

// TokenExpiry decodes the access token's exp claim without verifying the
// signature. Returns the zero time when there is no token or the claim
// cannot be read; callers treat that as "expiry unknown".
func (s *Store) TokenExpiry() time.Time {
	token := s.Token()
	if token == "" {
		return time.Time{}
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
