/**
 * @description
 * This package signs and verifies the inter-bank transfer tokens exchanged
 * between settlement-network participants. A token is a compact RS256 JWT:
 * the header carries the signing key id so the receiving bank can select the
 * right entry from the sender's published JWKS.
 *
 * Key features:
 * - Signing and verification are pinned to RS256 (PKCS#1 v1.5 / SHA-256).
 *   The verifier only accepts RS256, so an attacker cannot downgrade the
 *   advertised algorithm.
 * - Verification failures are reported as typed sentinel errors so callers
 *   can map them to stable error codes.
 * - Public keys convert between *rsa.PublicKey and the JWK exchange form
 *   (unpadded base64url modulus and exponent), and the conversion round-trips.
 *
 * @dependencies
 * - crypto/rsa, encoding/base64, math/big: Standard Go libraries.
 * - github.com/golang-jwt/jwt/v5: JWT signing and parsing.
 */

package token

import (
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/JoonasMagi/jmbpank/internal/domain"
)

var (
	ErrTokenMalformed   = errors.New("token malformed")
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// TransferClaims is the signed payload of an inter-bank transfer token. The
// economic fields are fixed at signing time; any later mutation invalidates
// the signature.
type TransferClaims struct {
	AccountFrom string `json:"accountFrom"`
	AccountTo   string `json:"accountTo"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Explanation string `json:"explanation"`
	SenderName  string `json:"senderName"`
	jwt.RegisteredClaims
}

// Payload projects the claims back into the domain payload form.
func (c *TransferClaims) Payload() domain.TransferPayload {
	return domain.TransferPayload{
		AccountFrom: c.AccountFrom,
		AccountTo:   c.AccountTo,
		Amount:      c.Amount,
		Currency:    c.Currency,
		Explanation: c.Explanation,
		SenderName:  c.SenderName,
	}
}

// Sign produces a compact RS256 token over the transfer payload using the
// given private key. The kid is embedded in the token header so the verifier
// can locate the matching public key in the sender's JWKS.
func Sign(payload domain.TransferPayload, kid string, key *rsa.PrivateKey) (string, error) {
	claims := TransferClaims{
		AccountFrom: payload.AccountFrom,
		AccountTo:   payload.AccountTo,
		Amount:      payload.Amount,
		Currency:    payload.Currency,
		Explanation: payload.Explanation,
		SenderName:  payload.SenderName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now().UTC()),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid

	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign transfer token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature against the supplied public key and
// returns the verified claims. Only RS256 is accepted; tokens with an `exp`
// claim in the past are rejected.
func Verify(tokenString string, publicKey *rsa.PublicKey) (*TransferClaims, error) {
	claims := &TransferClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}
	return claims, nil
}

// DecodeUnverified extracts the signing key id and the claimed payload from
// a token WITHOUT verifying the signature. Callers must treat the result as
// untrusted routing information until Verify has succeeded.
func DecodeUnverified(tokenString string) (kid string, claims *TransferClaims, err error) {
	claims = &TransferClaims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	tok, _, err := parser.ParseUnverified(tokenString, claims)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	kid, _ = tok.Header["kid"].(string)
	return kid, claims, nil
}

// PublicKeyToJWK converts an RSA public key into its JWK exchange form with
// unpadded base64url modulus and exponent.
func PublicKeyToJWK(key *rsa.PublicKey, kid string) domain.JWK {
	return domain.JWK{
		Kty: "RSA",
		Kid: kid,
		Use: "sig",
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}

// JWKToPublicKey converts a JWK entry back into an *rsa.PublicKey. It
// tolerates both padded and unpadded base64url input, since counterpart
// banks differ in how they encode their key sets.
func JWKToPublicKey(jwk domain.JWK) (*rsa.PublicKey, error) {
	if !strings.EqualFold(jwk.Kty, "RSA") {
		return nil, fmt.Errorf("unsupported key type %q", jwk.Kty)
	}

	nb, err := decodeBase64URL(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eb, err := decodeBase64URL(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}
	if len(nb) == 0 || len(eb) == 0 {
		return nil, errors.New("modulus and exponent must be non-empty")
	}
	// Longer encodings would wrap the accumulator below and could land back
	// inside the accepted range.
	if len(eb) > 8 {
		return nil, fmt.Errorf("exponent encoding too long: %d bytes", len(eb))
	}

	var exp uint64
	for _, b := range eb {
		exp = (exp << 8) | uint64(b)
	}
	if exp == 0 || exp > uint64(1)<<31 {
		return nil, fmt.Errorf("exponent out of range: %d", exp)
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(exp),
	}, nil
}

// decodeBase64URL accepts base64url with or without trailing padding.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
