/**
 * @description
 * This package owns the bank's RSA signing keys. It enforces the
 * single-active-key invariant (exactly one key pair signs outgoing transfers
 * at any time), generates a 2048-bit pair on first use, and supports forced
 * rotation at startup. Rotated-out keys stay in the verification set so
 * tokens signed before a rotation still verify.
 *
 * Key features:
 * - Generation and rotation run under a mutex: two cold-start callers can
 *   never both win and publish conflicting active keys.
 * - A storage outage never blocks signing. If a freshly generated key cannot
 *   be persisted the store degrades to an in-memory-only key and logs a
 *   recoverable warning for operators.
 *
 * @dependencies
 * - crypto/rand, crypto/rsa, crypto/x509, encoding/pem, sync: Standard Go libraries.
 * - github.com/google/uuid: Key identifiers.
 */

package keystore

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JoonasMagi/jmbpank/internal/domain"
	"github.com/JoonasMagi/jmbpank/internal/token"
)

const keyBits = 2048

// ErrKeyStorageDegraded indicates the active key could not be persisted and
// lives only in process memory. Signing keeps working; the condition is a
// warning, not a failure.
var ErrKeyStorageDegraded = errors.New("key storage degraded; active key is in-memory only")

// Repository is the persistence contract the keystore needs. InsertKeyPair
// must deactivate any previously active key in the same transaction when the
// new pair is active.
type Repository interface {
	InsertKeyPair(ctx context.Context, pair *domain.KeyPair) error
	FindActiveKeyPair(ctx context.Context) (*domain.KeyPair, error)
	ListKeyPairs(ctx context.Context) ([]domain.KeyPair, error)
}

// ErrNoActiveKey is returned by Repository implementations when no key pair
// is currently marked active.
var ErrNoActiveKey = errors.New("no active key pair")

// SigningKey bundles the material needed to sign a token.
type SigningKey struct {
	KID        string
	PrivateKey *rsa.PrivateKey
	CreatedAt  time.Time
}

// Store caches the active signing key and mediates all key lifecycle
// operations. Construct one per process with New; it is safe for concurrent
// use.
type Store struct {
	repo Repository

	mu       sync.Mutex
	active   *SigningKey
	degraded bool
}

// New creates a keystore backed by the given repository.
func New(repo Repository) *Store {
	return &Store{repo: repo}
}

// ActiveKeyPair returns the current signing key, generating and activating a
// new pair if none exists yet. Concurrent cold-start callers serialize on the
// store mutex, so only one generation can win.
func (s *Store) ActiveKeyPair(ctx context.Context) (*SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(ctx, false)
}

// Rotate replaces the active key pair. When force is false and an active key
// already exists the call is a no-op and returns the existing key.
func (s *Store) Rotate(ctx context.Context, force bool) (*SigningKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked(ctx, force)
}

// Degraded reports whether the active key is in-memory only because
// persistence failed.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) activeLocked(ctx context.Context, forceNew bool) (*SigningKey, error) {
	if s.active != nil && !forceNew {
		return s.active, nil
	}

	if !forceNew {
		stored, err := s.repo.FindActiveKeyPair(ctx)
		if err == nil {
			key, parseErr := ParsePrivateKeyPEM(stored.PrivateKeyPEM)
			if parseErr != nil {
				return nil, fmt.Errorf("failed to parse stored active key %s: %w", stored.KID, parseErr)
			}
			s.active = &SigningKey{KID: stored.KID, PrivateKey: key, CreatedAt: stored.CreatedAt}
			return s.active, nil
		}
		if !errors.Is(err, ErrNoActiveKey) {
			log.Printf("level=warn component=keystore msg=\"active key lookup failed; generating in-memory key\" err=%v", err)
		}
	}

	generated, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate rsa key pair: %w", err)
	}

	pair := &domain.KeyPair{
		KID:           uuid.NewString(),
		PublicKeyPEM:  EncodePublicKeyPEM(&generated.PublicKey),
		PrivateKeyPEM: EncodePrivateKeyPEM(generated),
		Active:        true,
		CreatedAt:     time.Now().UTC(),
	}

	s.degraded = false
	if err := s.repo.InsertKeyPair(ctx, pair); err != nil {
		// Signing must never be blocked by a storage outage.
		s.degraded = true
		log.Printf("level=warn component=keystore msg=\"key persistence failed; continuing with in-memory key\" kid=%s err=%v", pair.KID, err)
	} else {
		log.Printf("level=info component=keystore msg=\"signing key activated\" kid=%s", pair.KID)
	}

	s.active = &SigningKey{KID: pair.KID, PrivateKey: generated, CreatedAt: pair.CreatedAt}
	return s.active, nil
}

// PublicKeySet returns the JWKS projection of every key considered valid for
// verification: all persisted keys plus, in degraded mode, the in-memory
// active key.
func (s *Store) PublicKeySet(ctx context.Context) (domain.JWKS, error) {
	// Ensure at least one key exists before publishing the set.
	active, err := s.ActiveKeyPair(ctx)
	if err != nil {
		return domain.JWKS{}, err
	}

	pairs, err := s.repo.ListKeyPairs(ctx)
	if err != nil {
		log.Printf("level=warn component=keystore msg=\"key listing failed; publishing active key only\" err=%v", err)
		pairs = nil
	}

	set := domain.JWKS{Keys: make([]domain.JWK, 0, len(pairs)+1)}
	seen := map[string]bool{}
	for _, pair := range pairs {
		pub, parseErr := ParsePublicKeyPEM(pair.PublicKeyPEM)
		if parseErr != nil {
			log.Printf("level=warn component=keystore msg=\"skipping unparsable stored key\" kid=%s err=%v", pair.KID, parseErr)
			continue
		}
		set.Keys = append(set.Keys, token.PublicKeyToJWK(pub, pair.KID))
		seen[pair.KID] = true
	}

	if !seen[active.KID] {
		set.Keys = append(set.Keys, token.PublicKeyToJWK(&active.PrivateKey.PublicKey, active.KID))
	}
	return set, nil
}

// EncodePrivateKeyPEM renders a private key as PKCS#1 PEM.
func EncodePrivateKeyPEM(key *rsa.PrivateKey) string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
}

// EncodePublicKeyPEM renders a public key as PKIX PEM.
func EncodePublicKeyPEM(key *rsa.PublicKey) string {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		// MarshalPKIXPublicKey cannot fail for a well-formed *rsa.PublicKey.
		return ""
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// ParsePrivateKeyPEM parses a PKCS#1 or PKCS#8 PEM private key.
func ParsePrivateKeyPEM(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// ParsePublicKeyPEM parses a PKIX or PKCS#1 PEM public key.
func ParsePublicKeyPEM(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		key, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not RSA")
		}
		return key, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}
