package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/arklim/identity-link-service/internal/core/port"
)

// RefreshTokenBytes is the entropy of an issued refresh token.
const RefreshTokenBytes = 64

// GenerateSecureToken returns a base64 URL-safe random string using the specified number of random bytes.
func GenerateSecureToken(byteLength int) (string, error) {
	buf, err := randomBytes(byteLength)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateRefreshToken returns a standard base64 encoding of RefreshTokenBytes random bytes.
func GenerateRefreshToken() (string, error) {
	buf, err := randomBytes(RefreshTokenBytes)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func randomBytes(length int) ([]byte, error) {
	if length <= 0 {
		return nil, fmt.Errorf("length must be positive")
	}

	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}
	return buf, nil
}

// HashToken calculates a SHA-256 hash of the provided value.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}

// SHA256TokenHasher stores refresh tokens as hex SHA-256 digests.
type SHA256TokenHasher struct{}

// Hash implements port.TokenHasher.
func (SHA256TokenHasher) Hash(token string) string {
	return HashToken(token)
}

var _ port.TokenHasher = SHA256TokenHasher{}
