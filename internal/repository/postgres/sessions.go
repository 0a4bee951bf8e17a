package postgres

import (
	"context"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/repository"
)

var sessionColumns = []string{
	"id",
	"user_id",
	"refresh_token_hash",
	"expires_at",
	"revoked_at",
	"is_revoked",
	"ip_address",
	"user_agent",
	"device_name",
	"created_at",
	"updated_at",
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
// Sessions are looked up by refresh token hash, which carries a unique index.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{exec: tx, builder: r.builder}
}

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	stmt, args, err := r.builder.Insert("iam.sessions").
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.UserID,
			session.RefreshTokenHash,
			session.ExpiresAt,
			session.RevokedAt,
			session.IsRevoked,
			session.IPAddress,
			session.UserAgent,
			session.DeviceName,
			session.CreatedAt,
			session.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return writeError("insert session", err)
	}
	return nil
}

// GetByTokenHash retrieves the session owning the refresh token hash.
func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From("iam.sessions").
		Where(squirrel.Eq{"refresh_token_hash": tokenHash}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	var session domain.Session
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshTokenHash,
		&session.ExpiresAt,
		&session.RevokedAt,
		&session.IsRevoked,
		&session.IPAddress,
		&session.UserAgent,
		&session.DeviceName,
		&session.CreatedAt,
		&session.UpdatedAt,
	); err != nil {
		return nil, readError("scan session", err)
	}

	return &session, nil
}

// Rotate overwrites hash, expiry and client metadata and clears revocation. The update only
// applies while the row still carries previousHash and is not revoked, so of two concurrent
// rotations of the same token exactly one succeeds; the loser gets repository.ErrNotFound.
func (r *SessionRepository) Rotate(ctx context.Context, session domain.Session, previousHash string) error {
	stmt, args, err := r.builder.Update("iam.sessions").
		SetMap(map[string]any{
			"refresh_token_hash": session.RefreshTokenHash,
			"expires_at":         session.ExpiresAt,
			"revoked_at":         nil,
			"is_revoked":         false,
			"ip_address":         session.IPAddress,
			"user_agent":         session.UserAgent,
			"updated_at":         session.UpdatedAt,
		}).
		Where(squirrel.Eq{
			"id":                 session.ID,
			"refresh_token_hash": previousHash,
			"is_revoked":         false,
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build rotate session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return writeError("rotate session", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Revoke flags the session revoked. Already revoked or unknown sessions are left untouched.
func (r *SessionRepository) Revoke(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.revoke(ctx, squirrel.Eq{"id": sessionID, "is_revoked": false}, at)
	if err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every active session of the user and returns how many changed.
func (r *SessionRepository) RevokeAllForUser(ctx context.Context, userID string, at time.Time) (int, error) {
	count, err := r.revoke(ctx, squirrel.Eq{"user_id": userID, "is_revoked": false}, at)
	if err != nil {
		return 0, fmt.Errorf("revoke sessions for user: %w", err)
	}
	return count, nil
}

func (r *SessionRepository) revoke(ctx context.Context, where squirrel.Eq, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("iam.sessions").
		SetMap(map[string]any{
			"is_revoked": true,
			"revoked_at": at,
			"updated_at": at,
		}).
		Where(where).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build revoke session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
