/**
 * @description
 * Session tokens for the customer-facing API. Sessions are HS256 JWTs
 * issued at login, tracked server-side so logout revokes them immediately
 * rather than waiting for expiry. The manager is constructed and injected
 * at startup; nothing here touches process-global state.
 *
 * @dependencies
 * - github.com/golang-jwt/jwt/v5: Session token signing and parsing.
 */

package app

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrSessionInvalid = errors.New("session token is invalid or revoked")

// DefaultSessionTTL bounds how long a session stays valid without logout.
const DefaultSessionTTL = 24 * time.Hour

type sessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// SessionManager issues, validates, and revokes login sessions.
type SessionManager struct {
	secret []byte
	ttl    time.Duration

	mu     sync.Mutex
	active map[string]uuid.UUID
}

// NewSessionManager creates a session manager signing with the given secret.
func NewSessionManager(secret string, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		secret: []byte(secret),
		ttl:    ttl,
		active: make(map[string]uuid.UUID),
	}
}

// Issue creates a session token for the user.
func (m *SessionManager) Issue(userID uuid.UUID, username string) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		UserID: userID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	m.mu.Lock()
	m.active[signed] = userID
	m.mu.Unlock()
	return signed, nil
}

// Validate checks the token signature and that the session has not been
// revoked, returning the user id it belongs to.
func (m *SessionManager) Validate(tokenString string) (uuid.UUID, error) {
	m.mu.Lock()
	userID, ok := m.active[tokenString]
	m.mu.Unlock()
	if !ok {
		return uuid.Nil, ErrSessionInvalid
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		// Expired sessions are also dropped from the active set.
		m.mu.Lock()
		delete(m.active, tokenString)
		m.mu.Unlock()
		return uuid.Nil, ErrSessionInvalid
	}
	return userID, nil
}

// Revoke ends the session; subsequent Validate calls fail.
func (m *SessionManager) Revoke(tokenString string) {
	m.mu.Lock()
	delete(m.active, tokenString)
	m.mu.Unlock()
}
