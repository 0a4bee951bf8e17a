package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxSubjectIDLength = 255

var (
	// ErrInvalidProvider indicates the provider name is empty or malformed.
	ErrInvalidProvider = errors.New("invalid external provider")
	// ErrInvalidSubjectID indicates the provider subject identifier is empty or too long.
	ErrInvalidSubjectID = errors.New("invalid external subject id")

	providerPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)
)

// ExternalProvider names an OAuth provider such as "google".
// Values are immutable and compare by their underlying string, case-sensitively.
type ExternalProvider struct {
	value string
}

// NewExternalProvider validates and wraps a provider name.
func NewExternalProvider(value string) (ExternalProvider, error) {
	trimmed := strings.TrimSpace(value)
	if !providerPattern.MatchString(trimmed) {
		return ExternalProvider{}, fmt.Errorf("%w: %q", ErrInvalidProvider, value)
	}
	return ExternalProvider{value: trimmed}, nil
}

// String returns the provider name.
func (p ExternalProvider) String() string {
	return p.value
}

// IsZero reports whether the provider was never set.
func (p ExternalProvider) IsZero() bool {
	return p.value == ""
}

// ExternalSubjectID is the stable account identifier assigned by a provider.
type ExternalSubjectID struct {
	value string
}

// NewExternalSubjectID validates and wraps a provider subject identifier.
func NewExternalSubjectID(value string) (ExternalSubjectID, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || len(trimmed) > maxSubjectIDLength {
		return ExternalSubjectID{}, ErrInvalidSubjectID
	}
	return ExternalSubjectID{value: trimmed}, nil
}

// String returns the subject identifier.
func (s ExternalSubjectID) String() string {
	return s.value
}

// IsZero reports whether the subject was never set.
func (s ExternalSubjectID) IsZero() bool {
	return s.value == ""
}

// ExternalIdentity links a local user to an account at an external provider.
// (UserID, Provider) and (Provider, SubjectID) are each unique.
type ExternalIdentity struct {
	ID          string
	UserID      string
	Provider    ExternalProvider
	SubjectID   ExternalSubjectID
	Email       *string
	DisplayName *string
	LinkedAt    time.Time
	UpdatedAt   time.Time
}

// ExternalToken stores provider credentials for a (user, provider) pair.
// Token fields always hold protected ciphertext, never raw secrets.
type ExternalToken struct {
	ID                    string
	UserID                string
	Provider              ExternalProvider
	EncryptedAccessToken  string
	EncryptedRefreshToken string
	ExpiresAt             *time.Time
	Scopes                []string
	UpdatedAt             time.Time
}

// ProviderTokens is the result of an authorization code exchange.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	Scopes       []string
}

// ProviderProfile is the subset of the provider user-info payload that is retained.
type ProviderProfile struct {
	SubjectID   string
	Email       string
	DisplayName string
}
