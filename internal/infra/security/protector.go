package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/arklim/identity-link-service/internal/core/port"
)

var (
	// ErrEmptyInput indicates Protect or Unprotect received an empty value.
	ErrEmptyInput = errors.New("protector: empty input")
	// ErrProtectionKeyMissing indicates the master key or purpose was not configured.
	ErrProtectionKeyMissing = errors.New("protector: key not configured")
	// ErrUnprotectFailed indicates the payload could not be authenticated under this purpose.
	ErrUnprotectFailed = errors.New("protector: unable to unprotect payload")
)

const protectorKeyBytes = 32

// AESGCMProtector seals provider secrets with AES-256-GCM under a key derived per purpose
// with HKDF-SHA256. Payload is base64(nonce||ciphertext).
type AESGCMProtector struct {
	aead    cipher.AEAD
	purpose string
}

// NewAESGCMProtector derives the purpose key from masterKey.
func NewAESGCMProtector(masterKey, purpose string) (*AESGCMProtector, error) {
	masterKey = strings.TrimSpace(masterKey)
	purpose = strings.TrimSpace(purpose)
	if masterKey == "" || purpose == "" {
		return nil, ErrProtectionKeyMissing
	}

	key := make([]byte, protectorKeyBytes)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("protector: derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("protector: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("protector: init gcm: %w", err)
	}

	return &AESGCMProtector{aead: aead, purpose: purpose}, nil
}

// Purpose returns the purpose string the key was derived for.
func (p *AESGCMProtector) Purpose() string {
	return p.purpose
}

// Protect encrypts plaintext.
func (p *AESGCMProtector) Protect(plaintext string) (string, error) {
	if plaintext == "" {
		return "", ErrEmptyInput
	}

	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("protector: generate nonce: %w", err)
	}

	sealed := p.aead.Seal(nonce, nonce, []byte(plaintext), []byte(p.purpose))
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Unprotect decrypts a payload produced by Protect with the same purpose.
func (p *AESGCMProtector) Unprotect(ciphertext string) (string, error) {
	ciphertext = strings.TrimSpace(ciphertext)
	if ciphertext == "" {
		return "", ErrEmptyInput
	}

	payload, err := base64.RawStdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnprotectFailed, err)
	}

	nonceSize := p.aead.NonceSize()
	if len(payload) < nonceSize+p.aead.Overhead() {
		return "", ErrUnprotectFailed
	}

	plaintext, err := p.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], []byte(p.purpose))
	if err != nil {
		return "", ErrUnprotectFailed
	}
	return string(plaintext), nil
}

var _ port.TokenProtector = (*AESGCMProtector)(nil)
