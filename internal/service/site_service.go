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

type siteStore interface {
	List(ctx context.Context, filter models.SiteFilter) ([]models.Site, int, error)
	FindByID(ctx context.Context, id string) (*models.Site, error)
	ExistsByCode(ctx context.Context, code, excludeID string) (bool, error)
	Create(ctx context.Context, site *models.Site) error
	Update(ctx context.Context, site *models.Site) error
	SetActive(ctx context.Context, id string, active bool) error
}

// SiteInput is the write payload for sites.
type SiteInput struct {
	Code    string `json:"code" validate:"required,max=20"`
	Name    string `json:"name" validate:"required,max=200"`
	Region  string `json:"region" validate:"max=100"`
	Address string `json:"address" validate:"max=300"`
}

// SiteService manages tenant sites.
type SiteService struct {
	sites     siteStore
	validator *validator.Validate
	logger    *zap.Logger
}

func NewSiteService(sites siteStore, validate *validator.Validate, logger *zap.Logger) *SiteService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &SiteService{sites: sites, validator: validate, logger: logger}
}

func (s *SiteService) List(ctx context.Context, filter models.SiteFilter) ([]models.Site, int, error) {
	return s.sites.List(ctx, filter)
}

func (s *SiteService) Get(ctx context.Context, id string) (*models.Site, error) {
	site, err := s.sites.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	return site, nil
}

func (s *SiteService) Create(ctx context.Context, input SiteInput) (*models.Site, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid site payload")
	}

	taken, err := s.sites.ExistsByCode(ctx, input.Code, "")
	if err != nil {
		return nil, fmt.Errorf("check site code: %w", err)
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a site with this code already exists")
	}

	site := &models.Site{
		ID:      uuid.NewString(),
		Code:    input.Code,
		Name:    input.Name,
		Region:  input.Region,
		Address: input.Address,
		Active:  true,
	}
	if err := s.sites.Create(ctx, site); err != nil {
		return nil, fmt.Errorf("create site: %w", err)
	}
	s.logger.Info("site created", zap.String("site_id", site.ID), zap.String("code", site.Code))
	return site, nil
}

func (s *SiteService) Update(ctx context.Context, id string, input SiteInput) (*models.Site, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid site payload")
	}

	site, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Code != site.Code {
		taken, err := s.sites.ExistsByCode(ctx, input.Code, id)
		if err != nil {
			return nil, fmt.Errorf("check site code: %w", err)
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a site with this code already exists")
		}
	}

	site.Code = input.Code
	site.Name = input.Name
	site.Region = input.Region
	site.Address = input.Address
	if err := s.sites.Update(ctx, site); err != nil {
		return nil, fmt.Errorf("update site: %w", err)
	}
	return site, nil
}

// SetActive toggles a site. Deactivated sites stay queryable; they only stop
// accepting new records.
func (s *SiteService) SetActive(ctx context.Context, id string, active bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.sites.SetActive(ctx, id, active); err != nil {
		return fmt.Errorf("set site active: %w", err)
	}
	s.logger.Info("site active flag changed", zap.String("site_id", id), zap.Bool("active", active))
	return nil
}
