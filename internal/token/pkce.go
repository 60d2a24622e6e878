// Package token provides OAuth2 PKCE (Proof Key for Code Exchange) helpers
// used by the clientctl tooling to build authorization requests. It
// implements code verifier and code challenge generation and validation for
// the plain and S256 methods defined in RFC 7636.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// PKCE-related constants. Lengths follow RFC 7636 recommendations.
const (
	// CodeChallengeMethodPlain represents the plain (no transformation)
	// challenge method.
	CodeChallengeMethodPlain = "plain"

	// CodeChallengeMethodS256 represents the SHA-256 based challenge method.
	CodeChallengeMethodS256 = "S256"

	// CodeVerifierMinLength is the minimum allowed length for a code verifier.
	CodeVerifierMinLength = 43

	// CodeVerifierMaxLength is the maximum allowed length for a code verifier.
	CodeVerifierMaxLength = 128

	// codeEntropyBytes is the number of random bytes used to generate
	// a code verifier.
	codeEntropyBytes = 32
)

// GenerateCodeVerifier returns a new, URL-safe, base64-encoded code verifier
// suitable for use in an OAuth2 PKCE flow.
func GenerateCodeVerifier() (string, error) {
	buf := make([]byte, codeEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes for code verifier: %w", err)
	}

	verifier := base64.RawURLEncoding.EncodeToString(buf)
	if len(verifier) < CodeVerifierMinLength {
		return "", errors.New("generated code verifier is too short")
	}

	return verifier, nil
}

// CodeChallenge computes the code challenge for the provided verifier using
// the given method ("plain" or "S256"). The verifier and method are validated
// before the challenge is computed.
func CodeChallenge(verifier, method string) (string, error) {
	if err := ValidateCodeVerifier(verifier); err != nil {
		return "", fmt.Errorf("invalid code verifier: %w", err)
	}

	switch method {
	case CodeChallengeMethodPlain:
		return verifier, nil
	case CodeChallengeMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		return base64.RawURLEncoding.EncodeToString(sum[:]), nil
	case "":
		return "", errors.New("code challenge method is required")
	default:
		return "", fmt.Errorf("unsupported code challenge method: %s", method)
	}
}

// VerifyCodeChallenge reports whether the provided challenge is the expected
// challenge for the given verifier and method.
func VerifyCodeChallenge(verifier, challenge, method string) bool {
	expected, err := CodeChallenge(verifier, method)
	if err != nil {
		return false
	}
	return expected == challenge
}

// ValidateCodeVerifier checks that the code verifier is non-empty, meets the
// RFC 7636 length limits, and only contains unreserved characters
// (ALPHA / DIGIT / "-" / "." / "_" / "~").
func ValidateCodeVerifier(verifier string) error {
	if verifier == "" {
		return errors.New("code verifier is empty")
	}

	if len(verifier) < CodeVerifierMinLength {
		return fmt.Errorf("code verifier is too short (minimum %d characters)", CodeVerifierMinLength)
	}

	if len(verifier) > CodeVerifierMaxLength {
		return fmt.Errorf("code verifier is too long (maximum %d characters)", CodeVerifierMaxLength)
	}

	for _, char := range verifier {
		if !isUnreservedChar(char) {
			return fmt.Errorf("code verifier contains invalid character: %c", char)
		}
	}

	return nil
}

// isUnreservedChar reports whether the rune is an unreserved character per
// RFC 7636 (allowed in code verifiers).
func isUnreservedChar(char rune) bool {
	return (char >= 'A' && char <= 'Z') ||
		(char >= 'a' && char <= 'z') ||
		(char >= '0' && char <= '9') ||
		char == '-' || char == '.' || char == '_' || char == '~'
}
