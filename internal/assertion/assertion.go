// Package assertion builds RFC 7523 client assertions for SMART Backend
// Services authentication. A client proves its identity to the token endpoint
// with a short-lived JWT signed by its private key (private_key_jwt) instead
// of a shared secret; the authorization server verifies the signature against
// the client's published JWKS.
//
// The claim set follows the SMART Backend Services profile:
//   - iss and sub are both the client_id
//   - aud is the token endpoint URL
//   - jti is a unique identifier preventing replay
//   - exp is bounded to at most five minutes after iat
package assertion

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
)

const (
	// AlgorithmRS384 is the RSA SHA-384 signing algorithm.
	AlgorithmRS384 = "RS384"
	// AlgorithmES384 is the ECDSA P-384 SHA-384 signing algorithm.
	AlgorithmES384 = "ES384"

	// rsaKeyBits is the RSA modulus size for generated key pairs.
	rsaKeyBits = 2048
)

// KeyPair holds a signing key pair for client assertion construction
// together with the key ID published in the JWKS.
type KeyPair struct {
	// Algorithm is the JWT signing algorithm (RS384 or ES384).
	Algorithm string
	// KeyID is the JWKS kid, derived from the public key thumbprint.
	KeyID string

	private crypto.PrivateKey
	public  crypto.PublicKey
}

// GenerateKeyPair creates a fresh signing key pair for the given algorithm.
// RS384 produces a 2048-bit RSA key; ES384 produces a P-384 ECDSA key.
func GenerateKeyPair(algorithm string) (*KeyPair, error) {
	var (
		private crypto.PrivateKey
		public  crypto.PublicKey
	)

	switch algorithm {
	case AlgorithmRS384:
		key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA key: %w", err)
		}
		private, public = key, &key.PublicKey
	case AlgorithmES384:
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ECDSA key: %w", err)
		}
		private, public = key, &key.PublicKey
	default:
		return nil, fmt.Errorf("unsupported assertion algorithm: %s", algorithm)
	}

	kid, err := thumbprint(public)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		Algorithm: algorithm,
		KeyID:     kid,
		private:   private,
		public:    public,
	}, nil
}

// PublicJWKS returns the key pair's public key as a serialized JSON Web Key
// Set suitable for publishing at a jwks_url or uploading to the authorization
// server during app registration.
func (k *KeyPair) PublicJWKS() ([]byte, error) {
	key, err := jwk.Import(k.public)
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}

	if err := key.Set(jwk.KeyIDKey, k.KeyID); err != nil {
		return nil, fmt.Errorf("failed to set kid: %w", err)
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set use: %w", err)
	}

	var alg jwa.SignatureAlgorithm
	switch k.Algorithm {
	case AlgorithmRS384:
		alg = jwa.RS384()
	case AlgorithmES384:
		alg = jwa.ES384()
	}
	if err := key.Set(jwk.AlgorithmKey, alg); err != nil {
		return nil, fmt.Errorf("failed to set alg: %w", err)
	}

	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, fmt.Errorf("failed to add key to set: %w", err)
	}

	out, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JWKS: %w", err)
	}
	return out, nil
}

// thumbprint derives a stable key ID from the public key's RFC 7638
// JWK thumbprint.
func thumbprint(public crypto.PublicKey) (string, error) {
	key, err := jwk.Import(public)
	if err != nil {
		return "", fmt.Errorf("failed to import public key for thumbprint: %w", err)
	}

	sum, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(sum), nil
}

// Builder constructs signed client assertions for a single client and
// token endpoint.
type Builder struct {
	clientID string
	tokenURL string
	keyPair  *KeyPair
	lifetime time.Duration
}

// NewBuilder creates an assertion builder for the given client.
//
// Parameters:
//   - clientID: OAuth2 client identifier (becomes iss and sub)
//   - tokenURL: token endpoint URL (becomes aud)
//   - keyPair: signing key pair whose public half is registered with the server
//   - lifetime: assertion validity window (exp - iat), at most five minutes
func NewBuilder(clientID, tokenURL string, keyPair *KeyPair, lifetime time.Duration) *Builder {
	return &Builder{
		clientID: clientID,
		tokenURL: tokenURL,
		keyPair:  keyPair,
		lifetime: lifetime,
	}
}

// Sign produces a signed client assertion JWT valid from now until
// now+lifetime, with a fresh jti.
func (b *Builder) Sign() (string, error) {
	now := time.Now()
	return b.signAt(now, now.Add(b.lifetime))
}

// SignExpired produces a signed client assertion whose validity window lies
// entirely in the past. Used by the security test suite to verify that the
// token endpoint rejects expired assertions.
func (b *Builder) SignExpired() (string, error) {
	issuedAt := time.Now().Add(-2 * b.lifetime)
	return b.signAt(issuedAt, issuedAt.Add(b.lifetime/2))
}

// signAt builds and signs the assertion with explicit iat and exp times.
func (b *Builder) signAt(issuedAt, expiresAt time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    b.clientID,
		Subject:   b.clientID,
		Audience:  jwt.ClaimStrings{b.tokenURL},
		ID:        uuid.New().String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}

	token := jwt.NewWithClaims(jwt.GetSigningMethod(b.keyPair.Algorithm), claims)
	token.Header["kid"] = b.keyPair.KeyID

	signed, err := token.SignedString(b.keyPair.private)
	if err != nil {
		return "", fmt.Errorf("failed to sign client assertion: %w", err)
	}

	return signed, nil
}

// ParseUnverified decodes an assertion's registered claims without verifying
// the signature. Intended for tests and diagnostics inspecting what was sent;
// signature verification is the authorization server's job.
func ParseUnverified(assertion string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(assertion, claims); err != nil {
		return nil, fmt.Errorf("failed to parse client assertion: %w", err)
	}
	return claims, nil
}
