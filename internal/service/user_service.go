package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/agrariahq/agraria-api/internal/models"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
)

type userStore interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type userRoleStore interface {
	RoleNamesForUser(ctx context.Context, userID string) ([]string, error)
	SetUserRoles(ctx context.Context, userID string, roleIDs []string) error
}

type identifierInvalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// CreateUserInput is the admin payload for provisioning a user.
type CreateUserInput struct {
	SiteID   string   `json:"site_id" validate:"required,uuid"`
	Email    string   `json:"email" validate:"required,email"`
	Password string   `json:"password" validate:"required,min=6"`
	FullName string   `json:"full_name" validate:"required,max=200"`
	RoleIDs  []string `json:"role_ids" validate:"dive,uuid"`
}

// UpdateUserInput is the admin payload for editing a user.
type UpdateUserInput struct {
	FullName string `json:"full_name" validate:"required,max=200"`
	Active   *bool  `json:"active,omitempty"`
}

// UserService provides user administration use cases.
type UserService struct {
	users     userStore
	roles     userRoleStore
	resolver  identifierInvalidator
	validator *validator.Validate
	logger    *zap.Logger
}

func NewUserService(users userStore, roles userRoleStore, resolver identifierInvalidator, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{users: users, roles: roles, resolver: resolver, validator: validate, logger: logger}
}

// List pages through users, attaching role names to each row.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	users, total, err := s.users.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for i := range users {
		roleNames, err := s.roles.RoleNamesForUser(ctx, users[i].ID)
		if err != nil {
			return nil, 0, fmt.Errorf("load roles for user %s: %w", users[i].ID, err)
		}
		users[i].Roles = roleNames
	}
	return users, total, nil
}

// Get loads one user with role names.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	roleNames, err := s.roles.RoleNamesForUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	user.Roles = roleNames
	return user, nil
}

// Create provisions a user and assigns their initial roles.
func (s *UserService) Create(ctx context.Context, input CreateUserInput, actorID string) (*models.User, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}

	if _, err := s.users.FindByEmail(ctx, input.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a user with this email already exists")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check email: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		SiteID:       input.SiteID,
		Email:        input.Email,
		PasswordHash: string(hash),
		FullName:     input.FullName,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if len(input.RoleIDs) > 0 {
		if err := s.roles.SetUserRoles(ctx, user.ID, input.RoleIDs); err != nil {
			return nil, fmt.Errorf("assign roles: %w", err)
		}
	}

	s.audit(ctx, actorID, models.AuditActionUserCreate, user.ID)
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("site_id", user.SiteID))
	return s.Get(ctx, user.ID)
}

// Update edits a user's profile and active flag.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput, actorID string) (*models.User, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	user.FullName = input.FullName
	if input.Active != nil {
		user.Active = *input.Active
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	// Deactivation changes who counts as an eligible actor.
	s.resolver.Invalidate(ctx, id)
	s.audit(ctx, actorID, models.AuditActionUserUpdate, id)
	return user, nil
}

// AssignRoles replaces a user's role set and drops their cached identifier
// set so eligibility checks see the change immediately.
func (s *UserService) AssignRoles(ctx context.Context, id string, roleIDs []string, actorID string) (*models.User, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.roles.SetUserRoles(ctx, id, roleIDs); err != nil {
		return nil, fmt.Errorf("assign roles: %w", err)
	}
	s.resolver.Invalidate(ctx, id)
	s.audit(ctx, actorID, models.AuditActionUserUpdate, id)
	return s.Get(ctx, id)
}

// Delete removes a user account.
func (s *UserService) Delete(ctx context.Context, id, actorID string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.users.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	s.resolver.Invalidate(ctx, id)
	s.audit(ctx, actorID, models.AuditActionUserDelete, id)
	s.logger.Info("user deleted", zap.String("user_id", id))
	return nil
}

func (s *UserService) audit(ctx context.Context, actorID, action, resourceID string) {
	log := &models.AuditLog{
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		CreatedAt:  time.Now().UTC(),
	}
	if actorID != "" {
		log.UserID = &actorID
	}
	if err := s.users.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to record user audit log", zap.Error(err))
	}
}
