package token

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JoonasMagi/jmbpank/internal/domain"
)

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
	otherKey    *rsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()
	testKeyOnce.Do(func() {
		var err error
		testKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		otherKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})
	return testKey, otherKey
}

func testPayload() domain.TransferPayload {
	return domain.TransferPayload{
		AccountFrom: "ABC1234567890abcdef12345",
		AccountTo:   "XYZ1234567890abcdef12345",
		Amount:      15000,
		Currency:    "EUR",
		Explanation: "Invoice 42",
		SenderName:  "Mari Maasikas",
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, _ := testKeys(t)
	payload := testPayload()

	signed, err := Sign(payload, "key-1", key)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	claims, err := Verify(signed, &key.PublicKey)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Payload() != payload {
		t.Fatalf("payload mismatch: got %+v, want %+v", claims.Payload(), payload)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key, other := testKeys(t)

	signed, err := Sign(testPayload(), "key-1", key)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	_, err = Verify(signed, &other.PublicKey)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key, _ := testKeys(t)

	signed, err := Sign(testPayload(), "key-1", key)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	// Swap out the payload segment while keeping the original signature.
	parts := strings.Split(signed, ".")
	if len(parts) != 3 {
		t.Fatalf("expected compact JWT with 3 segments, got %d", len(parts))
	}
	forged, err := Sign(domain.TransferPayload{
		AccountFrom: "ABC1234567890abcdef12345",
		AccountTo:   "XYZ1234567890abcdef12345",
		Amount:      9999999,
		Currency:    "EUR",
	}, "key-1", key)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}
	forgedParts := strings.Split(forged, ".")
	tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]

	_, err = Verify(tampered, &key.PublicKey)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for tampered token, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key, _ := testKeys(t)

	claims := TransferClaims{
		AccountFrom: "ABC1234567890abcdef12345",
		AccountTo:   "XYZ1234567890abcdef12345",
		Amount:      100,
		Currency:    "EUR",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "key-1"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString returned error: %v", err)
	}

	_, err = Verify(signed, &key.PublicKey)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsNonRS256Algorithm(t *testing.T) {
	key, _ := testKeys(t)

	// A token signed with HS256 must not be accepted even if the HMAC secret
	// were somehow known; the verifier only admits RS256.
	claims := TransferClaims{AccountFrom: "ABC1", AccountTo: "XYZ1", Amount: 100}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("SignedString returned error: %v", err)
	}

	_, err = Verify(signed, &key.PublicKey)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature for HS256 token, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	key, _ := testKeys(t)
	_, err := Verify("not-a-jwt", &key.PublicKey)
	if !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestDecodeUnverifiedExtractsKidAndClaims(t *testing.T) {
	key, _ := testKeys(t)
	payload := testPayload()

	signed, err := Sign(payload, "key-7", key)
	if err != nil {
		t.Fatalf("Sign returned error: %v", err)
	}

	kid, claims, err := DecodeUnverified(signed)
	if err != nil {
		t.Fatalf("DecodeUnverified returned error: %v", err)
	}
	if kid != "key-7" {
		t.Fatalf("expected kid key-7, got %q", kid)
	}
	if claims.AccountTo != payload.AccountTo {
		t.Fatalf("expected accountTo %q, got %q", payload.AccountTo, claims.AccountTo)
	}
}

func TestJWKRoundTrip(t *testing.T) {
	key, _ := testKeys(t)

	jwk := PublicKeyToJWK(&key.PublicKey, "key-1")
	if jwk.Kty != "RSA" || jwk.Alg != "RS256" || jwk.Use != "sig" {
		t.Fatalf("unexpected JWK metadata: %+v", jwk)
	}
	if strings.ContainsAny(jwk.N, "+/=") {
		t.Fatalf("modulus must be unpadded base64url, got %q", jwk.N)
	}

	restored, err := JWKToPublicKey(jwk)
	if err != nil {
		t.Fatalf("JWKToPublicKey returned error: %v", err)
	}
	if restored.N.Cmp(key.PublicKey.N) != 0 || restored.E != key.PublicKey.E {
		t.Fatal("restored public key does not match original")
	}
}

func TestJWKToPublicKeyToleratesPadding(t *testing.T) {
	key, _ := testKeys(t)

	jwk := PublicKeyToJWK(&key.PublicKey, "key-1")
	// Some banks publish standard base64url with trailing padding.
	for len(jwk.N)%4 != 0 {
		jwk.N += "="
	}
	jwk.E = "AQAB=="

	restored, err := JWKToPublicKey(jwk)
	if err != nil {
		t.Fatalf("JWKToPublicKey returned error for padded input: %v", err)
	}
	if restored.E != 65537 {
		t.Fatalf("expected exponent 65537, got %d", restored.E)
	}
}

func TestJWKToPublicKeyRejectsOversizedExponent(t *testing.T) {
	key, _ := testKeys(t)
	jwk := PublicKeyToJWK(&key.PublicKey, "key-1")

	// Nine bytes whose low eight decode to 65537; an unchecked accumulator
	// would wrap this back into the accepted range.
	jwk.E = base64.RawURLEncoding.EncodeToString([]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01})

	if _, err := JWKToPublicKey(jwk); err == nil {
		t.Fatal("expected error for oversized exponent encoding, got nil")
	}
}

func TestJWKToPublicKeyRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		jwk  domain.JWK
	}{
		{name: "wrong key type", jwk: domain.JWK{Kty: "EC", N: "AQAB", E: "AQAB"}},
		{name: "empty modulus", jwk: domain.JWK{Kty: "RSA", N: "", E: "AQAB"}},
		{name: "invalid base64", jwk: domain.JWK{Kty: "RSA", N: "!!!", E: "AQAB"}},
		{name: "zero exponent", jwk: domain.JWK{Kty: "RSA", N: "AQAB", E: "AA"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := JWKToPublicKey(tt.jwk); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
