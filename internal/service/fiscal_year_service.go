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

	"github.com/agrariahq/agraria-api/internal/models"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
)

type fiscalYearStore interface {
	List(ctx context.Context, filter models.FiscalYearFilter) ([]models.FiscalYear, int, error)
	FindByID(ctx context.Context, id string) (*models.FiscalYear, error)
	FindActiveBySite(ctx context.Context, siteID string) (*models.FiscalYear, error)
	ExistsByName(ctx context.Context, siteID, name, excludeID string) (bool, error)
	Create(ctx context.Context, fy *models.FiscalYear) error
	Update(ctx context.Context, fy *models.FiscalYear) error
	SetActive(ctx context.Context, siteID, id string) error
	CountRevenues(ctx context.Context, id string) (int, error)
	Delete(ctx context.Context, id string) error
}

// FiscalYearInput is the write payload for fiscal years.
type FiscalYearInput struct {
	SiteID    string    `json:"site_id" validate:"required,uuid"`
	Name      string    `json:"name" validate:"required,max=50"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// FiscalYearService manages accounting periods. At most one fiscal year is
// active per site at a time.
type FiscalYearService struct {
	years     fiscalYearStore
	validator *validator.Validate
	logger    *zap.Logger
}

func NewFiscalYearService(years fiscalYearStore, validate *validator.Validate, logger *zap.Logger) *FiscalYearService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &FiscalYearService{years: years, validator: validate, logger: logger}
}

func (s *FiscalYearService) List(ctx context.Context, filter models.FiscalYearFilter) ([]models.FiscalYear, int, error) {
	return s.years.List(ctx, filter)
}

func (s *FiscalYearService) Get(ctx context.Context, id string) (*models.FiscalYear, error) {
	fy, err := s.years.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	return fy, nil
}

// ActiveForSite returns the currently active fiscal year for a site, or a
// not-found error when none is active.
func (s *FiscalYearService) ActiveForSite(ctx context.Context, siteID string) (*models.FiscalYear, error) {
	fy, err := s.years.FindActiveBySite(ctx, siteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no active fiscal year for this site")
		}
		return nil, err
	}
	return fy, nil
}

func (s *FiscalYearService) Create(ctx context.Context, input FiscalYearInput) (*models.FiscalYear, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fiscal year payload")
	}

	if !input.EndDate.After(input.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	taken, err := s.years.ExistsByName(ctx, input.SiteID, input.Name, "")
	if err != nil {
		return nil, fmt.Errorf("check fiscal year name: %w", err)
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a fiscal year with this name already exists for the site")
	}

	fy := &models.FiscalYear{
		ID:        uuid.NewString(),
		SiteID:    input.SiteID,
		Name:      input.Name,
		StartDate: input.StartDate,
		EndDate:   input.EndDate,
		IsActive:  false,
		Closed:    false,
	}
	if err := s.years.Create(ctx, fy); err != nil {
		return nil, fmt.Errorf("create fiscal year: %w", err)
	}
	s.logger.Info("fiscal year created", zap.String("fiscal_year_id", fy.ID), zap.String("site_id", fy.SiteID))
	return fy, nil
}

func (s *FiscalYearService) Update(ctx context.Context, id string, input FiscalYearInput) (*models.FiscalYear, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid fiscal year payload")
	}

	fy, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fy.Closed {
		return nil, appErrors.Clone(appErrors.ErrConflict, "fiscal year is closed")
	}
	if !input.EndDate.After(input.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date")
	}
	if input.Name != fy.Name {
		taken, err := s.years.ExistsByName(ctx, fy.SiteID, input.Name, id)
		if err != nil {
			return nil, fmt.Errorf("check fiscal year name: %w", err)
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a fiscal year with this name already exists for the site")
		}
	}

	fy.Name = input.Name
	fy.StartDate = input.StartDate
	fy.EndDate = input.EndDate
	if err := s.years.Update(ctx, fy); err != nil {
		return nil, fmt.Errorf("update fiscal year: %w", err)
	}
	return fy, nil
}

// Activate makes the fiscal year the single active period for its site,
// deactivating any sibling in the same transaction.
func (s *FiscalYearService) Activate(ctx context.Context, id string) error {
	fy, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if fy.Closed {
		return appErrors.Clone(appErrors.ErrConflict, "cannot activate a closed fiscal year")
	}
	if err := s.years.SetActive(ctx, fy.SiteID, fy.ID); err != nil {
		return fmt.Errorf("activate fiscal year: %w", err)
	}
	s.logger.Info("fiscal year activated", zap.String("fiscal_year_id", id), zap.String("site_id", fy.SiteID))
	return nil
}

// Close marks a fiscal year as closed. Closed years reject new revenue
// postings but remain readable for reporting.
func (s *FiscalYearService) Close(ctx context.Context, id string) error {
	fy, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if fy.Closed {
		return appErrors.Clone(appErrors.ErrConflict, "fiscal year is already closed")
	}
	fy.Closed = true
	fy.IsActive = false
	if err := s.years.Update(ctx, fy); err != nil {
		return fmt.Errorf("close fiscal year: %w", err)
	}
	s.logger.Info("fiscal year closed", zap.String("fiscal_year_id", id))
	return nil
}

// Delete removes an empty fiscal year. Years with revenue postings are kept
// for audit history.
func (s *FiscalYearService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	count, err := s.years.CountRevenues(ctx, id)
	if err != nil {
		return fmt.Errorf("count revenues: %w", err)
	}
	if count > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "fiscal year has revenue records")
	}
	if err := s.years.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete fiscal year: %w", err)
	}
	s.logger.Info("fiscal year deleted", zap.String("fiscal_year_id", id))
	return nil
}
