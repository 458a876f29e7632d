package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrariahq/agraria-api/internal/models"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
	"github.com/agrariahq/agraria-api/pkg/export"
)

type programStore interface {
	List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error)
	FindByID(ctx context.Context, id string) (*models.Program, error)
	ExistsByCode(ctx context.Context, siteID, code, excludeID string) (bool, error)
	Create(ctx context.Context, program *models.Program) error
	Update(ctx context.Context, program *models.Program) error
	SetActive(ctx context.Context, id string, active bool) error
	Delete(ctx context.Context, id string) error
}

// approvalStarter is the slice of the engine domain services use to route
// new records through approval.
type approvalStarter interface {
	Initialize(ctx context.Context, approvableType, approvableID, submitterID string) (*models.ApprovalInstance, error)
	Submit(ctx context.Context, instanceID, actorID string) (bool, error)
	InstanceForApprovable(ctx context.Context, approvableType, approvableID string) (*models.ApprovalInstance, error)
}

// ProgramInput is the write payload for research programs.
type ProgramInput struct {
	SiteID       string `json:"site_id" validate:"required,uuid"`
	FiscalYearID string `json:"fiscal_year_id" validate:"required,uuid"`
	Code         string `json:"code" validate:"required,max=30"`
	Title        string `json:"title" validate:"required,max=200"`
	Description  string `json:"description" validate:"max=1000"`
	BudgetCents  int64  `json:"budget_cents" validate:"min=0"`
}

// ProgramService manages research programs. New programs are created
// inactive and routed through the approval engine; approval flips them
// active via the lifecycle hook.
type ProgramService struct {
	programs  programStore
	engine    approvalStarter
	pdf       *export.PDFExporter
	maxRows   int
	validator *validator.Validate
	logger    *zap.Logger
}

func NewProgramService(programs programStore, engine approvalStarter, pdf *export.PDFExporter, maxRows int, validate *validator.Validate, logger *zap.Logger) *ProgramService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if maxRows <= 0 {
		maxRows = 10000
	}
	return &ProgramService{programs: programs, engine: engine, pdf: pdf, maxRows: maxRows, validator: validate, logger: logger}
}

// ApprovableHandler exposes the lifecycle callbacks the engine registry
// binds under the program type tag.
func (s *ProgramService) ApprovableHandler() ApprovableHandler {
	return newEntityApprovable(models.ApprovableTypeProgram, s.programs, snapshotFunc(func(ctx context.Context, id string) (map[string]interface{}, error) {
		program, err := s.programs.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return program.Snapshot(), nil
	}), s.logger)
}

// List pages through programs.
func (s *ProgramService) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error) {
	return s.programs.List(ctx, filter)
}

// Get loads one program together with its active approval instance, if any.
func (s *ProgramService) Get(ctx context.Context, id string) (*models.Program, *models.ApprovalInstance, error) {
	program, err := s.programs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrNotFound
		}
		return nil, nil, err
	}
	inst, err := s.engine.InstanceForApprovable(ctx, models.ApprovableTypeProgram, id)
	if err != nil {
		return nil, nil, err
	}
	return program, inst, nil
}

// Create persists a new inactive program and submits it for approval. When
// no workflow is configured for programs the record activates immediately.
func (s *ProgramService) Create(ctx context.Context, input ProgramInput, creatorID string) (*models.Program, *models.ApprovalInstance, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid program payload")
	}

	taken, err := s.programs.ExistsByCode(ctx, input.SiteID, input.Code, "")
	if err != nil {
		return nil, nil, fmt.Errorf("check program code: %w", err)
	}
	if taken {
		return nil, nil, appErrors.Clone(appErrors.ErrConflict, "a program with this code already exists for the site")
	}

	program := &models.Program{
		ID:           uuid.NewString(),
		SiteID:       input.SiteID,
		FiscalYearID: input.FiscalYearID,
		Code:         input.Code,
		Title:        input.Title,
		Description:  input.Description,
		BudgetCents:  input.BudgetCents,
		IsActive:     false,
		CreatedBy:    creatorID,
	}
	if err := s.programs.Create(ctx, program); err != nil {
		return nil, nil, fmt.Errorf("create program: %w", err)
	}

	inst, err := s.startApproval(ctx, program.ID, creatorID)
	if err != nil {
		return nil, nil, err
	}
	if inst == nil {
		program.IsActive = true
	}
	return program, inst, nil
}

func (s *ProgramService) startApproval(ctx context.Context, programID, creatorID string) (*models.ApprovalInstance, error) {
	inst, err := s.engine.Initialize(ctx, models.ApprovableTypeProgram, programID, creatorID)
	if err != nil {
		if errors.Is(err, ErrNoActiveWorkflow) {
			s.logger.Info("no program workflow configured, activating directly", zap.String("program_id", programID))
			if err := s.programs.SetActive(ctx, programID, true); err != nil {
				return nil, fmt.Errorf("activate program: %w", err)
			}
			return nil, nil
		}
		return nil, err
	}
	if _, err := s.engine.Submit(ctx, inst.ID, creatorID); err != nil {
		return nil, err
	}
	return inst, nil
}

// Update edits a program's descriptive fields. Activation state is owned by
// the approval engine and never changed here.
func (s *ProgramService) Update(ctx context.Context, id string, input ProgramInput) (*models.Program, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid program payload")
	}

	program, _, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Code != program.Code {
		taken, err := s.programs.ExistsByCode(ctx, program.SiteID, input.Code, id)
		if err != nil {
			return nil, fmt.Errorf("check program code: %w", err)
		}
		if taken {
			return nil, appErrors.Clone(appErrors.ErrConflict, "a program with this code already exists for the site")
		}
	}

	program.Code = input.Code
	program.Title = input.Title
	program.Description = input.Description
	program.BudgetCents = input.BudgetCents
	if err := s.programs.Update(ctx, program); err != nil {
		return nil, fmt.Errorf("update program: %w", err)
	}
	return program, nil
}

// Delete removes a program. Refused while an approval run is open.
func (s *ProgramService) Delete(ctx context.Context, id string) error {
	_, inst, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst != nil {
		return appErrors.Clone(appErrors.ErrConflict, "cancel the open approval before deleting this program")
	}
	if err := s.programs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	s.logger.Info("program deleted", zap.String("program_id", id))
	return nil
}

// ExportBudgetPDF renders the program budget table for a site as a PDF
// report.
func (s *ProgramService) ExportBudgetPDF(ctx context.Context, filter models.ProgramFilter) ([]byte, error) {
	filter.Page = 1
	filter.PageSize = s.maxRows
	programs, _, err := s.programs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("load programs: %w", err)
	}

	dataset := export.Dataset{Headers: []string{"Code", "Title", "Budget", "Status"}}
	var total int64
	for _, p := range programs {
		status := "inactive"
		if p.IsActive {
			status = "active"
		}
		total += p.BudgetCents
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Code":   p.Code,
			"Title":  p.Title,
			"Budget": formatCents(p.BudgetCents),
			"Status": status,
		})
	}
	dataset.Rows = append(dataset.Rows, map[string]string{
		"Code":   "",
		"Title":  "TOTAL",
		"Budget": formatCents(total),
		"Status": "",
	})
	return s.pdf.Render(dataset, "Program Budgets")
}

func formatCents(cents int64) string {
	whole := cents / 100
	frac := cents % 100
	if frac < 0 {
		frac = -frac
	}
	return strconv.FormatInt(whole, 10) + "." + fmt.Sprintf("%02d", frac)
}
