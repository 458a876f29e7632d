package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrariahq/agraria-api/internal/models"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
)

type roleStore interface {
	List(ctx context.Context) ([]models.Role, error)
	FindByName(ctx context.Context, name string) (*models.Role, error)
	Create(ctx context.Context, role *models.Role) error
	SetPermissions(ctx context.Context, roleID string, permissions []string) error
	PermissionNamesForRole(ctx context.Context, roleID string) ([]string, error)
}

// RoleInput is the write payload for roles.
type RoleInput struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=500"`
	Permissions []string `json:"permissions"`
}

// RoleService manages roles and their permission grants. Role and permission
// names double as approver identifiers in workflow steps.
type RoleService struct {
	roles     roleStore
	validator *validator.Validate
	logger    *zap.Logger
}

func NewRoleService(roles roleStore, validate *validator.Validate, logger *zap.Logger) *RoleService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &RoleService{roles: roles, validator: validate, logger: logger}
}

// List returns every role with its permission names.
func (s *RoleService) List(ctx context.Context) ([]models.Role, error) {
	roles, err := s.roles.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range roles {
		permissions, err := s.roles.PermissionNamesForRole(ctx, roles[i].ID)
		if err != nil {
			return nil, fmt.Errorf("load permissions for role %s: %w", roles[i].ID, err)
		}
		roles[i].Permissions = permissions
	}
	return roles, nil
}

// Create registers a role and grants its initial permissions.
func (s *RoleService) Create(ctx context.Context, input RoleInput) (*models.Role, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid role payload")
	}

	if _, err := s.roles.FindByName(ctx, input.Name); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a role with this name already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check role name: %w", err)
	}

	role := &models.Role{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
	}
	if err := s.roles.Create(ctx, role); err != nil {
		return nil, fmt.Errorf("create role: %w", err)
	}
	if len(input.Permissions) > 0 {
		if err := s.roles.SetPermissions(ctx, role.ID, input.Permissions); err != nil {
			return nil, fmt.Errorf("grant permissions: %w", err)
		}
		role.Permissions = input.Permissions
	}
	s.logger.Info("role created", zap.String("role_id", role.ID), zap.String("name", role.Name))
	return role, nil
}

// SetPermissions replaces a role's permission grants.
func (s *RoleService) SetPermissions(ctx context.Context, roleID string, permissions []string) error {
	if err := s.roles.SetPermissions(ctx, roleID, permissions); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	s.logger.Info("role permissions updated", zap.String("role_id", roleID), zap.Int("count", len(permissions)))
	return nil
}
