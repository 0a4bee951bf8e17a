package security

import (
	"strings"
	"testing"
)

func testArgon2Hasher(t *testing.T) *Argon2Hasher {
	t.Helper()
	hasher, err := NewArgon2Hasher(Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("new hasher: %v", err)
	}
	return hasher
}

func TestArgon2HashAndVerify(t *testing.T) {
	hasher := testArgon2Hasher(t)

	hash, err := hasher.Hash("Passw0rd!")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !strings.HasPrefix(hash, argon2Variant+"$"+argon2Version+"$") {
		t.Fatalf("unexpected encoding %q", hash)
	}

	ok, err := hasher.Verify("Passw0rd!", hash)
	if err != nil || !ok {
		t.Fatalf("expected password to verify, ok=%v err=%v", ok, err)
	}

	ok, err = hasher.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if ok {
		t.Fatalf("expected mismatch for wrong password")
	}
}

func TestArgon2HashesAreSalted(t *testing.T) {
	hasher := testArgon2Hasher(t)

	first, _ := hasher.Hash("same")
	second, _ := hasher.Hash("same")
	if first == second {
		t.Fatalf("expected different hashes for identical input")
	}
}

func TestArgon2VerifyRejectsMalformedHash(t *testing.T) {
	hasher := testArgon2Hasher(t)

	if _, err := hasher.Verify("pw", "not-a-hash"); err == nil {
		t.Fatalf("expected format error")
	}
	if _, err := hasher.Verify("pw", "bcrypt$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA"); err == nil {
		t.Fatalf("expected variant error")
	}
	ok, err := hasher.Verify("", "argon2id$v=19$m=8192,t=1,p=1$c2FsdA$aGFzaA")
	if err != nil || ok {
		t.Fatalf("expected empty password to fail quietly, ok=%v err=%v", ok, err)
	}
}

func TestNewArgon2HasherValidatesConfig(t *testing.T) {
	cfg := DefaultArgon2Config()
	cfg.Iterations = 0
	if _, err := NewArgon2Hasher(cfg); err == nil {
		t.Fatalf("expected config error")
	}
}
