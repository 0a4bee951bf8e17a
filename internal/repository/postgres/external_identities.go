package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
	"github.com/arklim/identity-link-service/internal/repository"
)

var externalIdentityColumns = []string{
	"id",
	"user_id",
	"provider",
	"subject_id",
	"email",
	"display_name",
	"linked_at",
	"updated_at",
}

// ExternalIdentityRepository persists provider account links.
// (user_id, provider) and (provider, subject_id) each carry a unique index.
type ExternalIdentityRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewExternalIdentityRepository constructs an ExternalIdentityRepository.
func NewExternalIdentityRepository(exec pgExecutor) *ExternalIdentityRepository {
	return &ExternalIdentityRepository{exec: exec, builder: newBuilder()}
}

// WithTx returns a repository instance operating within the supplied transaction.
func (r *ExternalIdentityRepository) WithTx(tx pgx.Tx) *ExternalIdentityRepository {
	if tx == nil {
		return r
	}
	return &ExternalIdentityRepository{exec: tx, builder: r.builder}
}

// GetByProviderSubject finds the link owning the provider account.
func (r *ExternalIdentityRepository) GetByProviderSubject(ctx context.Context, provider domain.ExternalProvider, subject domain.ExternalSubjectID) (*domain.ExternalIdentity, error) {
	return r.getOne(ctx, squirrel.Eq{"provider": provider.String(), "subject_id": subject.String()})
}

// GetByUserProvider finds the user's link for provider.
func (r *ExternalIdentityRepository) GetByUserProvider(ctx context.Context, userID string, provider domain.ExternalProvider) (*domain.ExternalIdentity, error) {
	return r.getOne(ctx, squirrel.Eq{"user_id": userID, "provider": provider.String()})
}

func (r *ExternalIdentityRepository) getOne(ctx context.Context, where squirrel.Eq) (*domain.ExternalIdentity, error) {
	stmt, args, err := r.builder.
		Select(externalIdentityColumns...).
		From("iam.external_identities").
		Where(where).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select external identity sql: %w", err)
	}

	identity, err := scanExternalIdentity(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		return nil, readError("scan external identity", err)
	}
	return identity, nil
}

// ListByUser returns every link of the user ordered by provider.
func (r *ExternalIdentityRepository) ListByUser(ctx context.Context, userID string) ([]domain.ExternalIdentity, error) {
	stmt, args, err := r.builder.
		Select(externalIdentityColumns...).
		From("iam.external_identities").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("provider").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list external identities sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query external identities: %w", err)
	}

	identities, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ExternalIdentity, error) {
		identity, err := scanExternalIdentity(row)
		if err != nil {
			return domain.ExternalIdentity{}, err
		}
		return *identity, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan external identities: %w", err)
	}
	return identities, nil
}

func scanExternalIdentity(row pgx.Row) (*domain.ExternalIdentity, error) {
	var (
		identity domain.ExternalIdentity
		provider string
		subject  string
	)
	if err := row.Scan(
		&identity.ID,
		&identity.UserID,
		&provider,
		&subject,
		&identity.Email,
		&identity.DisplayName,
		&identity.LinkedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if identity.Provider, err = domain.NewExternalProvider(provider); err != nil {
		return nil, fmt.Errorf("stored provider: %w", err)
	}
	if identity.SubjectID, err = domain.NewExternalSubjectID(subject); err != nil {
		return nil, fmt.Errorf("stored subject: %w", err)
	}
	return &identity, nil
}

// Create inserts a new link. Unique violations surface as *repository.ConflictError.
func (r *ExternalIdentityRepository) Create(ctx context.Context, identity domain.ExternalIdentity) error {
	stmt, args, err := r.builder.Insert("iam.external_identities").
		Columns(externalIdentityColumns...).
		Values(
			identity.ID,
			identity.UserID,
			identity.Provider.String(),
			identity.SubjectID.String(),
			identity.Email,
			identity.DisplayName,
			identity.LinkedAt,
			identity.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert external identity sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return writeError("insert external identity", err)
	}
	return nil
}

// Update refreshes the profile snapshot of an existing link.
func (r *ExternalIdentityRepository) Update(ctx context.Context, identity domain.ExternalIdentity) error {
	stmt, args, err := r.builder.Update("iam.external_identities").
		SetMap(map[string]any{
			"email":        identity.Email,
			"display_name": identity.DisplayName,
			"updated_at":   identity.UpdatedAt,
		}).
		Where(squirrel.Eq{"id": identity.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update external identity sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return writeError("update external identity", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Delete removes the user's link for provider and reports whether a row existed.
func (r *ExternalIdentityRepository) Delete(ctx context.Context, userID string, provider domain.ExternalProvider) (bool, error) {
	stmt, args, err := r.builder.Delete("iam.external_identities").
		Where(squirrel.Eq{"user_id": userID, "provider": provider.String()}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete external identity sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("delete external identity: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

var _ port.ExternalIdentityRepository = (*ExternalIdentityRepository)(nil)
