/**
 * @description
 * Signing key models. The bank signs outgoing inter-bank transfers with an
 * RSA private key; counterpart banks verify them against the public half,
 * distributed as a JSON Web Key Set.
 *
 * @notes
 * - At most one key pair is active for signing at any time. Rotation inserts
 *   a new record and deactivates the old one; rotated-out keys remain in the
 *   verification set so in-flight tokens still verify.
 */

package domain

import "time"

// KeyPair is a persisted RSA key pair. Key material is stored PEM-encoded.
type KeyPair struct {
	KID           string    `json:"kid"`
	PublicKeyPEM  string    `json:"public_key_pem"`
	PrivateKeyPEM string    `json:"-"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

// JWK is the exchange representation of a single RSA public key, as
// published in a JWKS document. N and E are unpadded base64url.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is a published set of public keys usable to verify tokens signed by
// their corresponding private keys.
type JWKS struct {
	Keys []JWK `json:"keys"`
}
