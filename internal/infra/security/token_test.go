package security

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"
)

func TestGenerateRefreshTokenLengthAndUniqueness(t *testing.T) {
	first, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct tokens")
	}

	raw, err := base64.StdEncoding.DecodeString(first)
	if err != nil {
		t.Fatalf("expected std base64 token: %v", err)
	}
	if len(raw) != RefreshTokenBytes {
		t.Fatalf("expected %d bytes, got %d", RefreshTokenBytes, len(raw))
	}
}

func TestGenerateSecureTokenIsURLSafe(t *testing.T) {
	token, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if strings.ContainsAny(token, "+/=") {
		t.Fatalf("expected url-safe token, got %q", token)
	}
	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatalf("expected error for zero length")
	}
}

func TestSHA256TokenHasherDeterministic(t *testing.T) {
	hasher := SHA256TokenHasher{}

	if hasher.Hash("abc") != hasher.Hash("abc") {
		t.Fatalf("expected deterministic digest")
	}
	if hasher.Hash("abc") == hasher.Hash("abd") {
		t.Fatalf("expected different digests")
	}
	// sha256("abc")
	if got := hasher.Hash("abc"); got != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Fatalf("unexpected digest %s", got)
	}
}

func TestFixedClock(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	if !FixedClock(at).Now().Equal(at) {
		t.Fatalf("expected frozen time")
	}
	if (SystemClock{}).Now().Location() != time.UTC {
		t.Fatalf("expected utc system clock")
	}
}
