package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
)

// AccessGrantService flattens a user's direct roles, group roles and their permissions.
type AccessGrantService struct {
	roles port.RoleRepository
}

// NewAccessGrantService constructs an AccessGrantService.
func NewAccessGrantService(roles port.RoleRepository) *AccessGrantService {
	return &AccessGrantService{roles: roles}
}

// ResolveGrants returns the sorted union of role names and permission names granted to the user.
func (s *AccessGrantService) ResolveGrants(ctx context.Context, userID string) (domain.AccessGrants, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.AccessGrants{}, fmt.Errorf("user id is required")
	}
	if s.roles == nil {
		return domain.AccessGrants{}, nil
	}

	direct, err := s.roles.ListDirectRoles(ctx, userID)
	if err != nil {
		return domain.AccessGrants{}, fmt.Errorf("list direct roles: %w", err)
	}
	viaGroups, err := s.roles.ListGroupRoles(ctx, userID)
	if err != nil {
		return domain.AccessGrants{}, fmt.Errorf("list group roles: %w", err)
	}

	set := domain.NewGrantSet()
	roleIDs := make(map[string]struct{}, len(direct)+len(viaGroups))
	for _, roles := range [][]domain.Role{direct, viaGroups} {
		for _, role := range roles {
			set.AddRole(role.Name)
			if role.ID != "" {
				roleIDs[role.ID] = struct{}{}
			}
		}
	}

	if len(roleIDs) == 0 {
		return set.Grants(), nil
	}

	ids := make([]string, 0, len(roleIDs))
	for id := range roleIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	permissions, err := s.roles.ListPermissionsForRoles(ctx, ids)
	if err != nil {
		return domain.AccessGrants{}, fmt.Errorf("list role permissions: %w", err)
	}
	for _, permission := range permissions {
		set.AddPermission(permission.Name)
	}

	return set.Grants(), nil
}

var _ port.AccessGrantResolver = (*AccessGrantService)(nil)
