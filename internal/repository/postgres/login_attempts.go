package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
)

// LoginAttemptRepository appends audit rows to iam.login_attempts. It never updates or deletes.
type LoginAttemptRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewLoginAttemptRepository constructs the login attempt recorder.
func NewLoginAttemptRepository(exec pgExecutor) *LoginAttemptRepository {
	return &LoginAttemptRepository{exec: exec, builder: newBuilder()}
}

// Record inserts one attempt.
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt domain.LoginAttempt) error {
	stmt, args, err := r.builder.Insert("iam.login_attempts").
		Columns(
			"id",
			"user_id",
			"identifier",
			"is_successful",
			"failure_reason",
			"ip_address",
			"user_agent",
			"attempted_at",
		).
		Values(
			attempt.ID,
			attempt.UserID,
			attempt.Identifier,
			attempt.IsSuccessful,
			attempt.FailureReason,
			attempt.IPAddress,
			attempt.UserAgent,
			attempt.AttemptedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert login attempt sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert login attempt: %w", err)
	}
	return nil
}

var _ port.LoginAttemptRepository = (*LoginAttemptRepository)(nil)
