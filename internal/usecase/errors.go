package usecase

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates malformed input rejected before any side effect.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidCredentials is the only failure Login reports, whatever the underlying cause.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrInvalidRefreshToken is the only failure RefreshToken reports.
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	// ErrAuthUnavailable indicates token issuance is misconfigured, e.g. a missing signing key.
	ErrAuthUnavailable = errors.New("authentication unavailable")
	// ErrUsernameTaken indicates another account already uses the normalized username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrEmailTaken indicates another account already uses the normalized email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrPasswordPolicyViolation indicates the password does not satisfy strength requirements.
	ErrPasswordPolicyViolation = errors.New("password does not meet complexity requirements")
	// ErrPasswordResetTokenInvalid indicates the reset token is wrong, expired or already used.
	ErrPasswordResetTokenInvalid = errors.New("password reset token invalid")
	// ErrUserNotFound indicates the referenced user does not exist or was deleted.
	ErrUserNotFound = errors.New("user not found")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
