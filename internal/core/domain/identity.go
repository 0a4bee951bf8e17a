package domain

import (
	"strings"
	"time"
)

// User mirrors the persisted representation in the users table.
type User struct {
	ID                          string
	Username                    string
	NormalizedUsername          string
	Email                       string
	NormalizedEmail             string
	PasswordHash                *string
	AccessFailedCount           int
	IsLocked                    bool
	IsDeleted                   bool
	PasswordResetToken          *string
	PasswordResetTokenExpiresAt *time.Time
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// IsActive reports whether the account may authenticate or be linked.
func (u User) IsActive() bool {
	return !u.IsDeleted && !u.IsLocked
}

// HasPassword reports whether a local credential exists for the user.
func (u User) HasPassword() bool {
	return u.PasswordHash != nil && *u.PasswordHash != ""
}

// NormalizeIdentifier produces the lookup form of a username or email.
// Only normalized values are used for lookup and uniqueness.
func NormalizeIdentifier(value string) string {
	return strings.ToUpper(strings.TrimSpace(value))
}

// LoginFailureReason captures the internal audit reason for a failed login.
type LoginFailureReason string

const (
	LoginFailureUserNotFound    LoginFailureReason = "user_not_found"
	LoginFailureUserInactive    LoginFailureReason = "user_inactive"
	LoginFailurePasswordNotSet  LoginFailureReason = "password_not_set"
	LoginFailureInvalidPassword LoginFailureReason = "invalid_password"
)

// LoginAttempt records authentication attempts for audit. Rows are never updated.
type LoginAttempt struct {
	ID            string
	UserID        *string
	Identifier    string
	IsSuccessful  bool
	FailureReason *string
	IPAddress     *string
	UserAgent     *string
	AttemptedAt   time.Time
}

// Optional distinguishes an absent value from a present but blank one.
type Optional[T any] struct {
	Set   bool
	Value T
}

// Some wraps a present value.
func Some[T any](value T) Optional[T] {
	return Optional[T]{Set: true, Value: value}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it was present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}
