package port

import (
	"context"
	"time"

	"github.com/arklim/identity-link-service/internal/core/domain"
)

// RoleRepository reads role and permission assignments.
type RoleRepository interface {
	ListDirectRoles(ctx context.Context, userID string) ([]domain.Role, error)
	ListGroupRoles(ctx context.Context, userID string) ([]domain.Role, error)
	ListPermissionsForRoles(ctx context.Context, roleIDs []string) ([]domain.Permission, error)
}

// AccessGrantResolver flattens a user's roles and permissions for token issuance.
type AccessGrantResolver interface {
	ResolveGrants(ctx context.Context, userID string) (domain.AccessGrants, error)
}

// AccessTokenIssuer builds signed access tokens.
type AccessTokenIssuer interface {
	Issue(user domain.User, grants domain.AccessGrants) (token string, expiresAt time.Time, err error)
}
