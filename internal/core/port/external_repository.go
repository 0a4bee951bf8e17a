package port

import (
	"context"

	"github.com/arklim/identity-link-service/internal/core/domain"
)

// ExternalIdentityRepository persists links between local users and provider accounts.
type ExternalIdentityRepository interface {
	GetByProviderSubject(ctx context.Context, provider domain.ExternalProvider, subject domain.ExternalSubjectID) (*domain.ExternalIdentity, error)
	GetByUserProvider(ctx context.Context, userID string, provider domain.ExternalProvider) (*domain.ExternalIdentity, error)
	ListByUser(ctx context.Context, userID string) ([]domain.ExternalIdentity, error)
	Create(ctx context.Context, identity domain.ExternalIdentity) error
	Update(ctx context.Context, identity domain.ExternalIdentity) error
	Delete(ctx context.Context, userID string, provider domain.ExternalProvider) (bool, error)
}

// ExternalTokenRepository persists protected provider tokens, one row per (user, provider).
type ExternalTokenRepository interface {
	GetByUserProvider(ctx context.Context, userID string, provider domain.ExternalProvider) (*domain.ExternalToken, error)
	Upsert(ctx context.Context, token domain.ExternalToken) error
	Delete(ctx context.Context, userID string, provider domain.ExternalProvider) (bool, error)
}
