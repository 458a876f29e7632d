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
	"github.com/agrariahq/agraria-api/pkg/export"
)

type revenueStore interface {
	List(ctx context.Context, filter models.RevenueFilter) ([]models.Revenue, int, error)
	ListAll(ctx context.Context, filter models.RevenueFilter, maxRows int) ([]models.Revenue, error)
	SumByFiscalYear(ctx context.Context, fiscalYearID string) (int64, error)
	FindByID(ctx context.Context, id string) (*models.Revenue, error)
	Create(ctx context.Context, revenue *models.Revenue) error
	Update(ctx context.Context, revenue *models.Revenue) error
	Delete(ctx context.Context, id string) error
}

type revenueAccountSource interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

type revenueYearSource interface {
	FindByID(ctx context.Context, id string) (*models.FiscalYear, error)
}

// RevenueInput is the write payload for revenue postings.
type RevenueInput struct {
	SiteID       string  `json:"site_id" validate:"required,uuid"`
	FiscalYearID string  `json:"fiscal_year_id" validate:"required,uuid"`
	AccountID    string  `json:"account_id" validate:"required,uuid"`
	ProgramID    *string `json:"program_id,omitempty" validate:"omitempty,uuid"`
	Reference    string  `json:"reference" validate:"required,max=50"`
	Payor        string  `json:"payor" validate:"required,max=200"`
	AmountCents  int64   `json:"amount_cents" validate:"required,gt=0"`
	ReceivedAt   string  `json:"received_at" validate:"required,datetime=2006-01-02"`
	Remarks      string  `json:"remarks" validate:"max=1000"`
}

// RevenueService records income against active revenue accounts within open
// fiscal years.
type RevenueService struct {
	revenues  revenueStore
	accounts  revenueAccountSource
	years     revenueYearSource
	csv       *export.CSVExporter
	maxRows   int
	validator *validator.Validate
	logger    *zap.Logger
}

func NewRevenueService(revenues revenueStore, accounts revenueAccountSource, years revenueYearSource, maxRows int, validate *validator.Validate, logger *zap.Logger) *RevenueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if maxRows <= 0 {
		maxRows = 10000
	}
	return &RevenueService{
		revenues:  revenues,
		accounts:  accounts,
		years:     years,
		csv:       export.NewCSVExporter(),
		maxRows:   maxRows,
		validator: validate,
		logger:    logger,
	}
}

func (s *RevenueService) List(ctx context.Context, filter models.RevenueFilter) ([]models.Revenue, int, error) {
	return s.revenues.List(ctx, filter)
}

func (s *RevenueService) Get(ctx context.Context, id string) (*models.Revenue, error) {
	revenue, err := s.revenues.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	return revenue, nil
}

// TotalForFiscalYear sums recorded revenue for a period.
func (s *RevenueService) TotalForFiscalYear(ctx context.Context, fiscalYearID string) (int64, error) {
	return s.revenues.SumByFiscalYear(ctx, fiscalYearID)
}

func (s *RevenueService) Create(ctx context.Context, input RevenueInput, recorderID string) (*models.Revenue, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revenue payload")
	}

	receivedAt, err := parseDate(input.ReceivedAt)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "received_at must be a YYYY-MM-DD date")
	}
	if err := s.validatePosting(ctx, input.SiteID, input.FiscalYearID, input.AccountID); err != nil {
		return nil, err
	}

	revenue := &models.Revenue{
		ID:           uuid.NewString(),
		SiteID:       input.SiteID,
		FiscalYearID: input.FiscalYearID,
		AccountID:    input.AccountID,
		ProgramID:    input.ProgramID,
		Reference:    input.Reference,
		Payor:        input.Payor,
		AmountCents:  input.AmountCents,
		ReceivedAt:   receivedAt,
		Remarks:      input.Remarks,
		RecordedBy:   recorderID,
	}
	if err := s.revenues.Create(ctx, revenue); err != nil {
		return nil, fmt.Errorf("create revenue: %w", err)
	}
	s.logger.Info("revenue recorded",
		zap.String("revenue_id", revenue.ID),
		zap.String("fiscal_year_id", revenue.FiscalYearID),
		zap.Int64("amount_cents", revenue.AmountCents))
	return revenue, nil
}

func (s *RevenueService) Update(ctx context.Context, id string, input RevenueInput) (*models.Revenue, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid revenue payload")
	}

	revenue, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	receivedAt, err := parseDate(input.ReceivedAt)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "received_at must be a YYYY-MM-DD date")
	}
	if err := s.validatePosting(ctx, revenue.SiteID, revenue.FiscalYearID, input.AccountID); err != nil {
		return nil, err
	}

	revenue.AccountID = input.AccountID
	revenue.ProgramID = input.ProgramID
	revenue.Reference = input.Reference
	revenue.Payor = input.Payor
	revenue.AmountCents = input.AmountCents
	revenue.ReceivedAt = receivedAt
	revenue.Remarks = input.Remarks
	if err := s.revenues.Update(ctx, revenue); err != nil {
		return nil, fmt.Errorf("update revenue: %w", err)
	}
	return revenue, nil
}

func (s *RevenueService) Delete(ctx context.Context, id string) error {
	revenue, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	fy, err := s.years.FindByID(ctx, revenue.FiscalYearID)
	if err == nil && fy.Closed {
		return appErrors.Clone(appErrors.ErrConflict, "fiscal year is closed")
	}
	if err := s.revenues.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete revenue: %w", err)
	}
	s.logger.Info("revenue deleted", zap.String("revenue_id", id))
	return nil
}

// ExportCSV renders the filtered revenue register as CSV.
func (s *RevenueService) ExportCSV(ctx context.Context, filter models.RevenueFilter) ([]byte, error) {
	revenues, err := s.revenues.ListAll(ctx, filter, s.maxRows)
	if err != nil {
		return nil, fmt.Errorf("load revenues: %w", err)
	}

	dataset := export.Dataset{
		Headers: []string{"reference", "payor", "account_id", "program_id", "amount", "received_at", "remarks"},
	}
	for _, r := range revenues {
		programID := ""
		if r.ProgramID != nil {
			programID = *r.ProgramID
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"reference":   r.Reference,
			"payor":       r.Payor,
			"account_id":  r.AccountID,
			"program_id":  programID,
			"amount":      formatCents(r.AmountCents),
			"received_at": r.ReceivedAt.Format("2006-01-02"),
			"remarks":     r.Remarks,
		})
	}
	return s.csv.Render(dataset)
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

func (s *RevenueService) validatePosting(ctx context.Context, siteID, fiscalYearID, accountID string) error {
	fy, err := s.years.FindByID(ctx, fiscalYearID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "fiscal year does not exist")
		}
		return err
	}
	if fy.SiteID != siteID {
		return appErrors.Clone(appErrors.ErrValidation, "fiscal year belongs to a different site")
	}
	if fy.Closed {
		return appErrors.Clone(appErrors.ErrConflict, "fiscal year is closed")
	}

	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrValidation, "account does not exist")
		}
		return err
	}
	if account.SiteID != siteID {
		return appErrors.Clone(appErrors.ErrValidation, "account belongs to a different site")
	}
	if !account.IsActive {
		return appErrors.Clone(appErrors.ErrValidation, "account is not active")
	}
	if account.Type != models.AccountRevenue {
		return appErrors.Clone(appErrors.ErrValidation, "account is not a revenue account")
	}
	return nil
}
