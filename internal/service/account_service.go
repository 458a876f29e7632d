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

type accountStore interface {
	List(ctx context.Context, filter models.AccountFilter) ([]models.Account, int, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	ExistsByCode(ctx context.Context, siteID, code, excludeID string) (bool, error)
	Create(ctx context.Context, account *models.Account) error
	Update(ctx context.Context, account *models.Account) error
	SetActive(ctx context.Context, id string, active bool) error
	CountChildren(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

// AccountInput is the write payload for chart-of-accounts entries.
type AccountInput struct {
	SiteID      string             `json:"site_id" validate:"required,uuid"`
	Code        string             `json:"code" validate:"required,max=30"`
	Name        string             `json:"name" validate:"required,max=200"`
	Type        models.AccountType `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY REVENUE EXPENSE"`
	ParentID    *string            `json:"parent_id,omitempty" validate:"omitempty,uuid"`
	Description string             `json:"description" validate:"max=1000"`
}

// AccountService manages the chart of accounts. New entries are created
// inactive and activated through the approval engine.
type AccountService struct {
	accounts  accountStore
	engine    approvalStarter
	validator *validator.Validate
	logger    *zap.Logger
}

func NewAccountService(accounts accountStore, engine approvalStarter, validate *validator.Validate, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &AccountService{accounts: accounts, engine: engine, validator: validate, logger: logger}
}

// ApprovableHandler exposes the lifecycle callbacks the engine registry
// binds under the account type tag.
func (s *AccountService) ApprovableHandler() ApprovableHandler {
	return newEntityApprovable(models.ApprovableTypeAccount, s.accounts, snapshotFunc(func(ctx context.Context, id string) (map[string]interface{}, error) {
		account, err := s.accounts.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return account.Snapshot(), nil
	}), s.logger)
}

// List pages through accounts.
func (s *AccountService) List(ctx context.Context, filter models.AccountFilter) ([]models.Account, int, error) {
	return s.accounts.List(ctx, filter)
}

// Get loads one account together with its active approval instance, if any.
func (s *AccountService) Get(ctx context.Context, id string) (*models.Account, *models.ApprovalInstance, error) {
	account, err := s.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrNotFound
		}
		return nil, nil, err
	}
	inst, err := s.engine.InstanceForApprovable(ctx, models.ApprovableTypeAccount, id)
	if err != nil {
		return nil, nil, err
	}
	return account, inst, nil
}

// Create persists a new inactive account and submits it for approval. When
// no workflow is configured for accounts the record activates immediately.
func (s *AccountService) Create(ctx context.Context, input AccountInput, creatorID string) (*models.Account, *models.ApprovalInstance, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid account payload")
	}

	taken, err := s.accounts.ExistsByCode(ctx, input.SiteID, input.Code, "")
	if err != nil {
		return nil, nil, fmt.Errorf("check account code: %w", err)
	}
	if taken {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "an account with this code already exists for the site")
	}
	if input.ParentID != nil {
		parent, err := s.accounts.FindByID(ctx, *input.ParentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, appErrors.Clone(appErrors.ErrValidation, "parent account does not exist")
			}
			return nil, nil, err
		}
		if parent.SiteID != input.SiteID {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "parent account belongs to a different site")
		}
		if parent.Type != input.Type {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "parent account has a different account type")
		}
	}

	account := &models.Account{
		ID:          uuid.NewString(),
		SiteID:      input.SiteID,
		Code:        input.Code,
		Name:        input.Name,
		Type:        input.Type,
		ParentID:    input.ParentID,
		Description: input.Description,
		IsActive:    false,
		CreatedBy:   creatorID,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, nil, fmt.Errorf("create account: %w", err)
	}

	inst, err := s.engine.Initialize(ctx, models.ApprovableTypeAccount, account.ID, creatorID)
	if err != nil {
		if errors.Is(err, ErrNoActiveWorkflow) {
			s.logger.Info("no account workflow configured, activating directly", zap.String("account_id", account.ID))
			if err := s.accounts.SetActive(ctx, account.ID, true); err != nil {
				return nil, nil, fmt.Errorf("activate account: %w", err)
			}
			account.IsActive = true
			return account, nil, nil
		}
		return nil, nil, err
	}
	if _, err := s.engine.Submit(ctx, inst.ID, creatorID); err != nil {
		return nil, nil, err
	}
	return account, inst, nil
}

// Update edits an account's descriptive fields.
func (s *AccountService) Update(ctx context.Context, id string, input AccountInput) (*models.Account, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid account payload")
	}

	account, _, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Code != account.Code {
		taken, err := s.accounts.ExistsByCode(ctx, account.SiteID, input.Code, id)
		if err != nil {
			return nil, fmt.Errorf("check account code: %w", err)
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an account with this code already exists for the site")
		}
	}

	account.Code = input.Code
	account.Name = input.Name
	account.Description = input.Description
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("update account: %w", err)
	}
	return account, nil
}

// Delete removes an account. Refused while children exist or an approval
// run is open.
func (s *AccountService) Delete(ctx context.Context, id string) error {
	_, inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst != nil {
		return appErrors.Clone(appErrors.ErrConflict, "cancel the open approval before deleting this account")
	}
	children, err := s.accounts.CountChildren(ctx, id)
	if err != nil {
		return fmt.Errorf("count child accounts: %w", err)
	}
	if children > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "account has child accounts")
	}
	if err := s.accounts.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.logger.Info("account deleted", zap.String("account_id", id))
	return nil
}
