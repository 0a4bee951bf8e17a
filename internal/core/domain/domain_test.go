package domain

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestSessionValidity(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		session Session
		valid   bool
	}{
		{name: "active", session: Session{ExpiresAt: now.Add(time.Minute)}, valid: true},
		{name: "expires exactly now", session: Session{ExpiresAt: now}, valid: false},
		{name: "revoked flag", session: Session{ExpiresAt: now.Add(time.Hour), IsRevoked: true}, valid: false},
		{name: "revoked timestamp only", session: Session{ExpiresAt: now.Add(time.Hour), RevokedAt: &now}, valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.IsValid(now); got != tt.valid {
				t.Fatalf("IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestSessionRevokeIsIdempotent(t *testing.T) {
	first := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := Session{ExpiresAt: first.Add(time.Hour)}

	if !s.Revoke(first) {
		t.Fatalf("expected first revoke to change state")
	}
	if s.Revoke(first.Add(time.Minute)) {
		t.Fatalf("expected second revoke to be a no-op")
	}
	if !s.RevokedAt.Equal(first) {
		t.Fatalf("revocation time moved to %v", s.RevokedAt)
	}
}

func TestSessionRotateClearsRevocationAndCopiesMetadata(t *testing.T) {
	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	s := Session{RefreshTokenHash: "old", ExpiresAt: now.Add(-time.Minute), IsRevoked: true, RevokedAt: &now}

	ip := "192.0.2.8"
	s.Rotate("new", now.Add(time.Hour), now, &ip, nil)
	ip = "changed"

	if s.RefreshTokenHash != "new" || !s.IsValid(now) {
		t.Fatalf("unexpected session after rotate: %+v", s)
	}
	if s.IPAddress == nil || *s.IPAddress != "192.0.2.8" {
		t.Fatalf("expected ip to be copied, got %v", s.IPAddress)
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if got := NormalizeIdentifier("  Alice@Example.com "); got != "ALICE@EXAMPLE.COM" {
		t.Fatalf("unexpected normalized value %q", got)
	}
	if NormalizeIdentifier("alice") != NormalizeIdentifier("ALICE") {
		t.Fatalf("expected case-insensitive normalization")
	}
}

func TestUserStatus(t *testing.T) {
	hash := "argon2id$..."
	empty := ""

	if !(User{PasswordHash: &hash}).HasPassword() {
		t.Fatalf("expected password to be set")
	}
	if (User{PasswordHash: &empty}).HasPassword() {
		t.Fatalf("expected blank hash to count as no password")
	}
	if (User{IsLocked: true}).IsActive() || (User{IsDeleted: true}).IsActive() {
		t.Fatalf("expected locked and deleted users to be inactive")
	}
}

func TestOptional(t *testing.T) {
	if _, ok := None[string]().Get(); ok {
		t.Fatalf("expected None to be absent")
	}
	value, ok := Some("").Get()
	if !ok || value != "" {
		t.Fatalf("expected blank Some to be present")
	}
}

func TestExternalProviderValidation(t *testing.T) {
	valid := []string{"google", "github", "azure-ad", "x_1"}
	for _, name := range valid {
		p, err := NewExternalProvider(name)
		if err != nil {
			t.Fatalf("NewExternalProvider(%q) returned %v", name, err)
		}
		if p.String() != name {
			t.Fatalf("expected %q, got %q", name, p.String())
		}
	}

	invalid := []string{"", "Google", "has space", strings.Repeat("a", 65), "name!"}
	for _, name := range invalid {
		if _, err := NewExternalProvider(name); !errors.Is(err, ErrInvalidProvider) {
			t.Fatalf("NewExternalProvider(%q) = %v, want ErrInvalidProvider", name, err)
		}
	}

	google, _ := NewExternalProvider("google")
	again, _ := NewExternalProvider(" google ")
	if google != again {
		t.Fatalf("expected providers to compare equal by value")
	}
	if !(ExternalProvider{}).IsZero() {
		t.Fatalf("expected zero provider")
	}
}

func TestExternalSubjectIDValidation(t *testing.T) {
	if _, err := NewExternalSubjectID("   "); !errors.Is(err, ErrInvalidSubjectID) {
		t.Fatalf("expected blank subject to fail, got %v", err)
	}
	if _, err := NewExternalSubjectID(strings.Repeat("9", 256)); !errors.Is(err, ErrInvalidSubjectID) {
		t.Fatalf("expected oversized subject to fail, got %v", err)
	}
	s, err := NewExternalSubjectID(" 1049231 ")
	if err != nil || s.String() != "1049231" {
		t.Fatalf("unexpected subject %q err=%v", s.String(), err)
	}
}

func TestGrantSetUnion(t *testing.T) {
	set := NewGrantSet()
	for _, role := range []string{"editor", "admin", "editor", ""} {
		set.AddRole(role)
	}
	for _, perm := range []string{"posts.write", "posts.read", "posts.write"} {
		set.AddPermission(perm)
	}

	got := set.Grants()
	want := AccessGrants{
		Roles:       []string{"admin", "editor"},
		Permissions: []string{"posts.read", "posts.write"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Grants() = %+v, want %+v", got, want)
	}

	if empty := NewGrantSet().Grants(); empty.Roles != nil || empty.Permissions != nil {
		t.Fatalf("expected empty grant set to produce nil slices, got %+v", empty)
	}
}
