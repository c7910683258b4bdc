// Package auth manages the process-wide bearer credential.
package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenStore holds the bearer credential shared by all outbound calls and the
// push channel. It is explicitly constructed and passed by reference; writers
// are the login flow and the forced-logout error handler.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

// NewTokenStore creates an empty token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// NewTokenStoreWith creates a token store pre-loaded with a credential.
func NewTokenStoreWith(token string) *TokenStore {
	return &TokenStore{token: token}
}

// Set replaces the stored credential.
func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Get returns the stored credential, or an empty string when logged out.
func (s *TokenStore) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Clear discards the stored credential.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// HasToken reports whether a credential is present.
func (s *TokenStore) HasToken() bool {
	return s.Get() != ""
}

// Subject returns the subject (user id) claim of the stored token, or an
// empty string when absent or unparseable. The token is not verified here;
// the server is the authority, this is only used for self-suppression and
// display.
func (s *TokenStore) Subject() string {
	claims := s.claims()
	if claims == nil {
		return ""
	}
	sub, _ := claims.GetSubject()
	return sub
}

// ExpiresAt returns the expiry claim of the stored token. The second return
// is false when no token is stored or the token carries no expiry.
func (s *TokenStore) ExpiresAt() (time.Time, bool) {
	claims := s.claims()
	if claims == nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// ExpiresWithin reports whether the stored token expires within d.
func (s *TokenStore) ExpiresWithin(d time.Duration) bool {
	exp, ok := s.ExpiresAt()
	if !ok {
		return false
	}
	return time.Until(exp) < d
}

func (s *TokenStore) claims() jwt.Claims {
	token := s.Get()
	if token == "" {
		return nil
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	return parsed.Claims
}
