package port

import (
	"context"
	"time"

	"github.com/arklim/identity-link-service/internal/core/domain"
)

// UserRepository exposes persistence behavior for users.
// Lookups take already normalized identifiers.
type UserRepository interface {
	Create(ctx context.Context, user domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByNormalizedIdentifier(ctx context.Context, normalized string) (*domain.User, error)
	GetByNormalizedEmail(ctx context.Context, normalizedEmail string) (*domain.User, error)
	ExistsByNormalizedUsername(ctx context.Context, normalizedUsername string) (bool, error)
	ExistsByNormalizedEmail(ctx context.Context, normalizedEmail string) (bool, error)
	UpdateAccessFailedCount(ctx context.Context, id string, count int, at time.Time) error
	// IncrementAccessFailedCount adds one to the counter in a single write and returns the new value.
	IncrementAccessFailedCount(ctx context.Context, id string, at time.Time) (int, error)
	SetPasswordResetToken(ctx context.Context, id string, token *string, expiresAt *time.Time, at time.Time) error
	// UpdatePassword stores a new hash, clears the failed counter, the lock and the reset token.
	UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error
}
