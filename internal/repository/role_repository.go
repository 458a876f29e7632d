package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agrariahq/agraria-api/internal/models"
)

// RoleRepository provides database access for roles, permissions and the
// reverse lookups the eligibility resolver relies on.
type RoleRepository struct {
	db *sqlx.DB
}

// NewRoleRepository creates a new instance of RoleRepository.
func NewRoleRepository(db *sqlx.DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// List returns all roles ordered by name.
func (r *RoleRepository) List(ctx context.Context) ([]models.Role, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM roles ORDER BY name ASC`
	var roles []models.Role
	if err := r.db.SelectContext(ctx, &roles, query); err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}

// FindByName loads a role by its unique name.
func (r *RoleRepository) FindByName(ctx context.Context, name string) (*models.Role, error) {
	const query = `SELECT id, name, description, created_at, updated_at FROM roles WHERE name = $1 LIMIT 1`
	var role models.Role
	if err := r.db.GetContext(ctx, &role, query, name); err != nil {
		return nil, err
	}
	return &role, nil
}

// Create inserts a role record.
func (r *RoleRepository) Create(ctx context.Context, role *models.Role) error {
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if role.CreatedAt.IsZero() {
		role.CreatedAt = now
	}
	role.UpdatedAt = now

	const query = `INSERT INTO roles (id, name, description, created_at, updated_at) VALUES (:id, :name, :description, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, role); err != nil {
		return fmt.Errorf("create role: %w", err)
	}
	return nil
}

// SetPermissions replaces the role's permission grants in one transaction.
func (r *RoleRepository) SetPermissions(ctx context.Context, roleID string, permissions []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set permissions tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return fmt.Errorf("clear role permissions: %w", err)
	}
	for _, perm := range permissions {
		if _, err = tx.ExecContext(ctx, `INSERT INTO role_permissions (role_id, permission) VALUES ($1, $2)`, roleID, perm); err != nil {
			return fmt.Errorf("grant permission: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set permissions tx: %w", err)
	}
	return nil
}

// SetUserRoles replaces a user's role assignments in one transaction.
func (r *RoleRepository) SetUserRoles(ctx context.Context, userID string, roleIDs []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set user roles tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear user roles: %w", err)
	}
	for _, roleID := range roleIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID); err != nil {
			return fmt.Errorf("assign role: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set user roles tx: %w", err)
	}
	return nil
}

// RoleNamesForUser returns the role names assigned to a user.
func (r *RoleRepository) RoleNamesForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT ro.name FROM roles ro JOIN user_roles ur ON ur.role_id = ro.id WHERE ur.user_id = $1 ORDER BY ro.name ASC`
	var names []string
	if err := r.db.SelectContext(ctx, &names, query, userID); err != nil {
		return nil, fmt.Errorf("role names for user: %w", err)
	}
	return names, nil
}

// PermissionNamesForUser returns all permission names a user holds through
// any of their roles.
func (r *RoleRepository) PermissionNamesForUser(ctx context.Context, userID string) ([]string, error) {
	const query = `SELECT DISTINCT rp.permission FROM role_permissions rp JOIN user_roles ur ON ur.role_id = rp.role_id WHERE ur.user_id = $1 ORDER BY rp.permission ASC`
	var names []string
	if err := r.db.SelectContext(ctx, &names, query, userID); err != nil {
		return nil, fmt.Errorf("permission names for user: %w", err)
	}
	return names, nil
}

// PermissionNamesForRole returns the permission names granted by a role.
func (r *RoleRepository) PermissionNamesForRole(ctx context.Context, roleID string) ([]string, error) {
	const query = `SELECT permission FROM role_permissions WHERE role_id = $1 ORDER BY permission ASC`
	var names []string
	if err := r.db.SelectContext(ctx, &names, query, roleID); err != nil {
		return nil, fmt.Errorf("permission names for role: %w", err)
	}
	return names, nil
}

// ActiveUserIDs filters the given ids down to users that exist and are active.
func (r *RoleRepository) ActiveUserIDs(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT id FROM users WHERE active = TRUE AND id = ANY($1)`
	var out []string
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("active user ids: %w", err)
	}
	return out, nil
}

// UserIDsWithAnyRole returns active user ids holding at least one of the
// given role names.
func (r *RoleRepository) UserIDsWithAnyRole(ctx context.Context, roleNames []string) ([]string, error) {
	if len(roleNames) == 0 {
		return nil, nil
	}
	const query = `SELECT DISTINCT u.id FROM users u JOIN user_roles ur ON ur.user_id = u.id JOIN roles ro ON ro.id = ur.role_id WHERE u.active = TRUE AND ro.name = ANY($1)`
	var out []string
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(roleNames)); err != nil {
		return nil, fmt.Errorf("user ids with roles: %w", err)
	}
	return out, nil
}

// UserIDsWithAnyPermission returns active user ids holding at least one of
// the given permission names through any role.
func (r *RoleRepository) UserIDsWithAnyPermission(ctx context.Context, permissions []string) ([]string, error) {
	if len(permissions) == 0 {
		return nil, nil
	}
	const query = `SELECT DISTINCT u.id FROM users u JOIN user_roles ur ON ur.user_id = u.id JOIN role_permissions rp ON rp.role_id = ur.role_id WHERE u.active = TRUE AND rp.permission = ANY($1)`
	var out []string
	if err := r.db.SelectContext(ctx, &out, query, pq.Array(permissions)); err != nil {
		return nil, fmt.Errorf("user ids with permissions: %w", err)
	}
	return out, nil
}
