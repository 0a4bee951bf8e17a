package postgres

import (
	"context"
	"fmt"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/arklim/identity-link-service/internal/core/domain"
	"github.com/arklim/identity-link-service/internal/core/port"
)

// RoleRepository reads direct, group-derived and permission assignments.
type RoleRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewRoleRepository constructs a RoleRepository.
func NewRoleRepository(exec pgExecutor) *RoleRepository {
	return &RoleRepository{exec: exec, builder: newBuilder()}
}

// ListDirectRoles returns roles assigned to the user directly.
func (r *RoleRepository) ListDirectRoles(ctx context.Context, userID string) ([]domain.Role, error) {
	stmt, args, err := r.builder.
		Select("r.id", "r.name", "r.description").
		From("iam.roles r").
		Join("iam.user_roles ur ON ur.role_id = r.id").
		Where(squirrel.Eq{"ur.user_id": userID}).
		OrderBy("r.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list direct roles sql: %w", err)
	}
	return r.queryRoles(ctx, stmt, args)
}

// ListGroupRoles returns roles inherited through group membership.
func (r *RoleRepository) ListGroupRoles(ctx context.Context, userID string) ([]domain.Role, error) {
	stmt, args, err := r.builder.
		Select("r.id", "r.name", "r.description").
		Distinct().
		From("iam.roles r").
		Join("iam.group_roles gr ON gr.role_id = r.id").
		Join("iam.group_members gm ON gm.group_id = gr.group_id").
		Where(squirrel.Eq{"gm.user_id": userID}).
		OrderBy("r.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list group roles sql: %w", err)
	}
	return r.queryRoles(ctx, stmt, args)
}

func (r *RoleRepository) queryRoles(ctx context.Context, stmt string, args []any) ([]domain.Role, error) {
	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}

	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Role, error) {
		var role domain.Role
		err := row.Scan(&role.ID, &role.Name, &role.Description)
		return role, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan roles: %w", err)
	}
	return roles, nil
}

// ListPermissionsForRoles returns the distinct permissions granted by any of roleIDs.
func (r *RoleRepository) ListPermissionsForRoles(ctx context.Context, roleIDs []string) ([]domain.Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}

	stmt, args, err := r.builder.
		Select("p.id", "p.name", "p.description").
		Distinct().
		From("iam.permissions p").
		Join("iam.role_permissions rp ON rp.permission_id = p.id").
		Where(squirrel.Eq{"rp.role_id": roleIDs}).
		OrderBy("p.name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list permissions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}

	permissions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Permission, error) {
		var permission domain.Permission
		err := row.Scan(&permission.ID, &permission.Name, &permission.Description)
		return permission, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan permissions: %w", err)
	}
	return permissions, nil
}

var _ port.RoleRepository = (*RoleRepository)(nil)
