package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
)

var externalTokenColumns = []string{
	"id",
	"user_id",
	"provider",
	"encrypted_access_token",
	"encrypted_refresh_token",
	"expires_at",
	"scopes",
	"updated_at",
}

// ExternalTokenRepository stores protected provider tokens, one row per (user_id, provider).
type ExternalTokenRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewExternalTokenRepository constructs an ExternalTokenRepository.
func NewExternalTokenRepository(exec pgExecutor) *ExternalTokenRepository {
	return &ExternalTokenRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *ExternalTokenRepository) WithTx(tx pgx.Tx) *ExternalTokenRepository {
	if tx == nil {
		return r
	}
	return &ExternalTokenRepository{exec: tx, builder: r.builder}
}

// GetByUserProvider returns the stored token row.
func (r *ExternalTokenRepository) GetByUserProvider(ctx context.Context, userID string, provider domain.ExternalProvider) (*domain.ExternalToken, error) {
	stmt, args, err := r.builder.
		Select(externalTokenColumns...).
		From("iam.external_tokens").
		Where(squirrel.Eq{"user_id": userID, "provider": provider.String()}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select external token sql: %w", err)
	}

	var (
		token        domain.ExternalToken
		providerName string
	)
	if err := r.exec.QueryRow(ctx, stmt, args...).Scan(
		&token.ID,
		&token.UserID,
		&providerName,
		&token.EncryptedAccessToken,
		&token.EncryptedRefreshToken,
		&token.ExpiresAt,
		&token.Scopes,
		&token.UpdatedAt,
	); err != nil {
		return nil, readError("scan external token", err)
	}

	if token.Provider, err = domain.NewExternalProvider(providerName); err != nil {
		return nil, fmt.Errorf("stored provider: %w", err)
	}
	return &token, nil
}

// Upsert inserts the token row or overwrites the existing row for (user_id, provider).
func (r *ExternalTokenRepository) Upsert(ctx context.Context, token domain.ExternalToken) error {
	scopes := token.Scopes
	if scopes == nil {
		scopes = []string{}
	}

	stmt, args, err := r.builder.Insert("iam.external_tokens").
		Columns(externalTokenColumns...).
		Values(
			token.ID,
			token.UserID,
			token.Provider.String(),
			token.EncryptedAccessToken,
			token.EncryptedRefreshToken,
			token.ExpiresAt,
			scopes,
			token.UpdatedAt,
		).
		Suffix(`ON CONFLICT (user_id, provider) DO UPDATE SET
			encrypted_access_token = EXCLUDED.encrypted_access_token,
			encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
			expires_at = EXCLUDED.expires_at,
			scopes = EXCLUDED.scopes,
			updated_at = EXCLUDED.updated_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert external token sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return writeError("upsert external token", err)
	}
	return nil
}

// Delete removes the token row and reports whether one existed.
func (r *ExternalTokenRepository) Delete(ctx context.Context, userID string, provider domain.ExternalProvider) (bool, error) {
	stmt, args, err := r.builder.Delete("iam.external_tokens").
		Where(squirrel.Eq{"user_id": userID, "provider": provider.String()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete external token sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("delete external token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ port.ExternalTokenRepository = (*ExternalTokenRepository)(nil)
