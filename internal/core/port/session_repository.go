package port

import (
	"context"
	"time"

	"github.com/arklim/identity-link-service/internal/core/domain"
)

// SessionRepository persists refresh-token sessions keyed by token hash.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	// Rotate overwrites the session only while it still carries previousHash and is
	// not revoked; it returns repository.ErrNotFound when another writer won.
	Rotate(ctx context.Context, session domain.Session, previousHash string) error
	Revoke(ctx context.Context, sessionID string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error)
}

// LoginAttemptRepository is the append-only audit log of authentication attempts.
type LoginAttemptRepository interface {
	Record(ctx context.Context, attempt domain.LoginAttempt) error
}
