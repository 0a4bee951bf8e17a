package repository

import (
	"errors"
	"fmt"
)

// Unique constraint names enforced by the schema. The service layer maps conflicts on them to domain errors.
const (
	ConstraintUsersNormalizedUsername         = "users_normalized_username_key"
	ConstraintUsersNormalizedEmail            = "users_normalized_email_key"
	ConstraintSessionsRefreshTokenHash        = "sessions_refresh_token_hash_key"
	ConstraintExternalIdentityProviderSubject = "external_identities_provider_subject_key"
	ConstraintExternalIdentityUserProvider    = "external_identities_user_provider_key"
	ConstraintExternalTokensUserProvider      = "external_tokens_user_provider_key"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
)

// ConflictError carries the name of the violated constraint. It matches ErrConflict.
type ConflictError struct {
	Constraint string
	Err        error
}

func (e *ConflictError) Error() string {
	if e.Constraint == "" {
		return fmt.Sprintf("repository: conflict: %v", e.Err)
	}
	return fmt.Sprintf("repository: conflict on %s: %v", e.Constraint, e.Err)
}

// Unwrap exposes the underlying driver error.
func (e *ConflictError) Unwrap() error {
	return e.Err
}

// Is reports ErrConflict equivalence.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ConstraintOf returns the violated constraint name when err is a conflict.
func ConstraintOf(err error) (string, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict.Constraint, true
	}
	return "", false
}
