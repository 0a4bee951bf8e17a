package postgres

import (
	"context"
	"errors"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/identity-link-service/internal/repository"
)

const pgUniqueViolation = "23505"

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func newBuilder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// writeError wraps a failed write, surfacing unique violations as *repository.ConflictError.
func writeError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return &repository.ConflictError{Constraint: pgErr.ConstraintName, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// readError maps pgx.ErrNoRows to repository.ErrNotFound.
func readError(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}
