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

var userColumns = []string{
	"id",
	"username",
	"normalized_username",
	"email",
	"normalized_email",
	"password_hash",
	"access_failed_count",
	"is_locked",
	"is_deleted",
	"password_reset_token",
	"password_reset_token_expires_at",
	"created_at",
	"updated_at",
}

// UserRepository implements port.UserRepository using PostgreSQL.
type UserRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewUserRepository wires a PostgreSQL-backed user repository.
func NewUserRepository(exec pgExecutor) *UserRepository {
	return &UserRepository{
		exec:    exec,
		builder: newBuilder(),
	}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	if tx == nil {
		return r
	}
	return &UserRepository{exec: tx, builder: r.builder}
}

// Create inserts a new user row. Unique violations surface as *repository.ConflictError.
func (r *UserRepository) Create(ctx context.Context, user domain.User) error {
	stmt, args, err := r.builder.Insert("iam.users").
		Columns(userColumns...).
		Values(
			user.ID,
			user.Username,
			user.NormalizedUsername,
			user.Email,
			user.NormalizedEmail,
			user.PasswordHash,
			user.AccessFailedCount,
			user.IsLocked,
			user.IsDeleted,
			user.PasswordResetToken,
			user.PasswordResetTokenExpiresAt,
			user.CreatedAt,
			user.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert user sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return writeError("insert user", err)
	}
	return nil
}

// GetByID retrieves a user by identifier.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"id": id})
}

// GetByNormalizedIdentifier matches either the normalized username or the normalized email.
func (r *UserRepository) GetByNormalizedIdentifier(ctx context.Context, normalized string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Or{
		squirrel.Eq{"normalized_username": normalized},
		squirrel.Eq{"normalized_email": normalized},
	})
}

// GetByNormalizedEmail retrieves a user by normalized email.
func (r *UserRepository) GetByNormalizedEmail(ctx context.Context, normalizedEmail string) (*domain.User, error) {
	return r.getOne(ctx, squirrel.Eq{"normalized_email": normalizedEmail})
}

func (r *UserRepository) getOne(ctx context.Context, where squirrel.Sqlizer) (*domain.User, error) {
	stmt, args, err := r.builder.
		Select(userColumns...).
		From("iam.users").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select user sql: %w", err)
	}

	user, err := scanUser(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, readError("scan user", err)
	}
	return user, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var user domain.User
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.NormalizedUsername,
		&user.Email,
		&user.NormalizedEmail,
		&user.PasswordHash,
		&user.AccessFailedCount,
		&user.IsLocked,
		&user.IsDeleted,
		&user.PasswordResetToken,
		&user.PasswordResetTokenExpiresAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &user, nil
}

// ExistsByNormalizedUsername reports whether the normalized username is taken.
func (r *UserRepository) ExistsByNormalizedUsername(ctx context.Context, normalizedUsername string) (bool, error) {
	return r.exists(ctx, squirrel.Eq{"normalized_username": normalizedUsername})
}

// ExistsByNormalizedEmail reports whether the normalized email is taken.
func (r *UserRepository) ExistsByNormalizedEmail(ctx context.Context, normalizedEmail string) (bool, error) {
	return r.exists(ctx, squirrel.Eq{"normalized_email": normalizedEmail})
}

func (r *UserRepository) exists(ctx context.Context, where squirrel.Sqlizer) (bool, error) {
	stmt, args, err := r.builder.
		Select("1").
		From("iam.users").
		Where(where).
		Prefix("SELECT EXISTS (").
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build user exists sql: %w", err)
	}

	var exists bool
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("query user exists: %w", err)
	}
	return exists, nil
}

// UpdateAccessFailedCount stores the failed login counter.
func (r *UserRepository) UpdateAccessFailedCount(ctx context.Context, id string, count int, at time.Time) error {
	return r.update(ctx, id, "update access failed count", map[string]any{
		"access_failed_count": count,
		"updated_at":          at,
	})
}

// IncrementAccessFailedCount bumps the failed login counter in the database so concurrent
// failures are all counted.
func (r *UserRepository) IncrementAccessFailedCount(ctx context.Context, id string, at time.Time) (int, error) {
	stmt, args, err := r.builder.Update("iam.users").
		Set("access_failed_count", squirrel.Expr("access_failed_count + 1")).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": id}).
		Suffix("RETURNING access_failed_count").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build increment access failed count sql: %w", err)
	}

	var count int
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, readError("increment access failed count", err)
	}
	return count, nil
}

// SetPasswordResetToken stores or clears the pending reset token.
func (r *UserRepository) SetPasswordResetToken(ctx context.Context, id string, token *string, expiresAt *time.Time, at time.Time) error {
	return r.update(ctx, id, "set password reset token", map[string]any{
		"password_reset_token":            token,
		"password_reset_token_expires_at": expiresAt,
		"updated_at":                      at,
	})
}

// UpdatePassword stores the new hash and clears the failed counter, the lock and the reset token.
func (r *UserRepository) UpdatePassword(ctx context.Context, id string, passwordHash string, at time.Time) error {
	return r.update(ctx, id, "update password", map[string]any{
		"password_hash":                   passwordHash,
		"access_failed_count":             0,
		"is_locked":                       false,
		"password_reset_token":            nil,
		"password_reset_token_expires_at": nil,
		"updated_at":                      at,
	})
}

func (r *UserRepository) update(ctx context.Context, id, op string, values map[string]any) error {
	stmt, args, err := r.builder.Update("iam.users").
		SetMap(values).
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s sql: %w", op, err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return writeError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

var _ port.UserRepository = (*UserRepository)(nil)
