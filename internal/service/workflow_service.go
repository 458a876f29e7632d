package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrariahq/agraria-api/internal/models"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
	"github.com/agrariahq/agraria-api/pkg/export"
)

type workflowStore interface {
	List(ctx context.Context, filter models.ApprovalWorkflowFilter) ([]models.ApprovalWorkflow, int, error)
	FindByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error)
	ExistsByName(ctx context.Context, name, excludeID string) (bool, error)
	Create(ctx context.Context, wf *models.ApprovalWorkflow) error
	Update(ctx context.Context, wf *models.ApprovalWorkflow) error
	SetActive(ctx context.Context, id, modelType string) error
	Deactivate(ctx context.Context, id string) error
	SoftDelete(ctx context.Context, id string) error
}

type actionLedgerStore interface {
	ListAllActions(ctx context.Context, maxRows int) ([]models.ApprovalAction, error)
}

// WorkflowInput is the write payload for creating or updating a workflow.
type WorkflowInput struct {
	Name        string      `json:"name" validate:"required,min=3,max=150"`
	Description string      `json:"description" validate:"max=500"`
	ModelType   string      `json:"model_type" validate:"required"`
	Steps       []StepInput `json:"steps" validate:"required,min=1,dive"`
}

// StepInput is the write payload for one workflow step.
type StepInput struct {
	StepOrder           int                     `json:"step_order" validate:"required,min=1"`
	Name                string                  `json:"name" validate:"required,max=150"`
	Description         string                  `json:"description" validate:"max=500"`
	StepType            models.StepType         `json:"step_type" validate:"required,oneof=sequential parallel"`
	StepPurpose         models.StepPurpose      `json:"step_purpose" validate:"required,oneof=approval action"`
	ApproverType        models.ApproverType     `json:"approver_type" validate:"required,oneof=user role permission"`
	ApproverIdentifiers []string                `json:"approver_identifiers"`
	RequiredApprovals   int                     `json:"required_approvals" validate:"min=0"`
	ConditionalRule     *models.ConditionalRule `json:"conditional_rule,omitempty"`
}

// WorkflowService owns the admin surface for workflow definitions: CRUD,
// activation, duplication and the action-ledger export.
type WorkflowService struct {
	workflows workflowStore
	actions   actionLedgerStore
	registry  *ApprovableRegistry
	csv       *export.CSVExporter
	maxRows   int
	validator *validator.Validate
	logger    *zap.Logger
}

func NewWorkflowService(workflows workflowStore, actions actionLedgerStore, registry *ApprovableRegistry, maxRows int, validate *validator.Validate, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if maxRows <= 0 {
		maxRows = 10000
	}
	return &WorkflowService{
		workflows: workflows,
		actions:   actions,
		registry:  registry,
		csv:       export.NewCSVExporter(),
		maxRows:   maxRows,
		validator: validate,
		logger:    logger,
	}
}

// List pages through workflow definitions.
func (s *WorkflowService) List(ctx context.Context, filter models.ApprovalWorkflowFilter) ([]models.ApprovalWorkflow, int, error) {
	return s.workflows.List(ctx, filter)
}

// Get loads one workflow with its steps.
func (s *WorkflowService) Get(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	wf, err := s.workflows.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	return wf, nil
}

// Create validates and persists a new workflow. New workflows start inactive;
// activation is a separate, explicit operation.
func (s *WorkflowService) Create(ctx context.Context, input WorkflowInput) (*models.ApprovalWorkflow, error) {
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	taken, err := s.workflows.ExistsByName(ctx, input.Name, "")
	if err != nil {
		return nil, fmt.Errorf("check workflow name: %w", err)
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a workflow with this name already exists")
	}

	wf := s.buildWorkflow(input)
	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	s.logger.Info("workflow created", zap.String("workflow_id", wf.ID), zap.String("model_type", wf.ModelType))
	return wf, nil
}

// Update replaces a workflow's definition and step set atomically. In-flight
// instances keep the workflow id they were created with, so edits affect new
// runs only.
func (s *WorkflowService) Update(ctx context.Context, id string, input WorkflowInput) (*models.ApprovalWorkflow, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing.IsActive {
		return nil, appErrors.Clone(appErrors.ErrConflict, "deactivate the workflow before editing it")
	}
	if err := s.validateInput(input); err != nil {
		return nil, err
	}
	taken, err := s.workflows.ExistsByName(ctx, input.Name, id)
	if err != nil {
		return nil, fmt.Errorf("check workflow name: %w", err)
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a workflow with this name already exists")
	}

	wf := s.buildWorkflow(input)
	wf.ID = existing.ID
	wf.IsActive = existing.IsActive
	for i := range wf.Steps {
		wf.Steps[i].WorkflowID = wf.ID
	}
	if err := s.workflows.Update(ctx, wf); err != nil {
		return nil, fmt.Errorf("update workflow: %w", err)
	}
	s.logger.Info("workflow updated", zap.String("workflow_id", wf.ID))
	return wf, nil
}

// Duplicate clones a workflow and its steps under a new name. The clone is
// always created inactive.
func (s *WorkflowService) Duplicate(ctx context.Context, id, name string) (*models.ApprovalWorkflow, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = src.Name + " (copy)"
	}
	taken, err := s.workflows.ExistsByName(ctx, name, "")
	if err != nil {
		return nil, fmt.Errorf("check workflow name: %w", err)
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "a workflow with this name already exists")
	}

	clone := &models.ApprovalWorkflow{
		ID:          uuid.NewString(),
		Name:        name,
		Description: src.Description,
		ModelType:   src.ModelType,
		IsActive:    false,
	}
	for _, step := range src.Steps {
		copied := step
		copied.ID = uuid.NewString()
		copied.WorkflowID = clone.ID
		clone.Steps = append(clone.Steps, copied)
	}
	if err := s.workflows.Create(ctx, clone); err != nil {
		return nil, fmt.Errorf("duplicate workflow: %w", err)
	}
	s.logger.Info("workflow duplicated", zap.String("source_id", id), zap.String("workflow_id", clone.ID))
	return clone, nil
}

// Activate makes the workflow the single active definition for its model
// type, deactivating any sibling in the same statement.
func (s *WorkflowService) Activate(ctx context.Context, id string) error {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if len(wf.Steps) == 0 {
		return appErrors.Clone(appErrors.ErrWorkflowConfig, "cannot activate a workflow with no steps")
	}
	if err := s.workflows.SetActive(ctx, wf.ID, wf.ModelType); err != nil {
		return fmt.Errorf("activate workflow: %w", err)
	}
	s.logger.Info("workflow activated", zap.String("workflow_id", wf.ID), zap.String("model_type", wf.ModelType))
	return nil
}

// Deactivate turns a workflow off. In-flight instances continue under it.
func (s *WorkflowService) Deactivate(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := s.workflows.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("deactivate workflow: %w", err)
	}
	s.logger.Info("workflow deactivated", zap.String("workflow_id", id))
	return nil
}

// Delete soft-deletes a workflow definition. Instances keep their history.
func (s *WorkflowService) Delete(ctx context.Context, id string) error {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if wf.IsActive {
		return appErrors.Clone(appErrors.ErrConflict, "deactivate the workflow before deleting it")
	}
	if err := s.workflows.SoftDelete(ctx, id); err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	s.logger.Info("workflow deleted", zap.String("workflow_id", id))
	return nil
}

// ExportActionLedgerCSV renders the append-only action ledger for audit
// review.
func (s *WorkflowService) ExportActionLedgerCSV(ctx context.Context) ([]byte, error) {
	actions, err := s.actions.ListAllActions(ctx, s.maxRows)
	if err != nil {
		return nil, fmt.Errorf("load action ledger: %w", err)
	}
	dataset := export.Dataset{
		Headers: []string{"id", "instance_id", "step_id", "actor_id", "action_type", "comments", "created_at"},
	}
	for _, a := range actions {
		comments := ""
		if a.Comments != nil {
			comments = *a.Comments
		}
		stepID := ""
		if a.StepID != nil {
			stepID = *a.StepID
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"id":          a.ID,
			"instance_id": a.InstanceID,
			"step_id":     stepID,
			"actor_id":    a.ActorID,
			"action_type": string(a.ActionType),
			"comments":    comments,
			"created_at":  a.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	return s.csv.Render(dataset)
}

func (s *WorkflowService) validateInput(input WorkflowInput) error {
	if err := s.validator.Struct(input); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid workflow payload")
	}
	if _, err := s.registry.Handler(input.ModelType); err != nil {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown model type %q", input.ModelType))
	}
	if len(input.Steps) == 0 {
		return appErrors.Clone(appErrors.ErrWorkflowConfig, "a workflow needs at least one step")
	}

	orders := make([]int, 0, len(input.Steps))
	for _, step := range input.Steps {
		orders = append(orders, step.StepOrder)
		if step.RequiredApprovals < 0 {
			return appErrors.Clone(appErrors.ErrValidation, "required_approvals cannot be negative")
		}
		if !step.StepPurpose.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown step purpose %q", step.StepPurpose))
		}
		if !step.ApproverType.Valid() {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown approver type %q", step.ApproverType))
		}
	}
	sort.Ints(orders)
	for i, order := range orders {
		if order != i+1 {
			return appErrors.Clone(appErrors.ErrValidation, "step orders must be unique and contiguous starting from 1, got position "+strconv.Itoa(order))
		}
	}
	return nil
}

func (s *WorkflowService) buildWorkflow(input WorkflowInput) *models.ApprovalWorkflow {
	wf := &models.ApprovalWorkflow{
		ID:          uuid.NewString(),
		Name:        input.Name,
		Description: input.Description,
		ModelType:   input.ModelType,
		IsActive:    false,
	}
	steps := make([]models.ApprovalStep, 0, len(input.Steps))
	for _, in := range input.Steps {
		stepType := in.StepType
		if stepType == "" {
			stepType = models.StepSequential
		}
		steps = append(steps, models.ApprovalStep{
			ID:                  uuid.NewString(),
			WorkflowID:          wf.ID,
			StepOrder:           in.StepOrder,
			Name:                in.Name,
			Description:         in.Description,
			StepType:            stepType,
			StepPurpose:         in.StepPurpose,
			ApproverType:        in.ApproverType,
			ApproverIdentifiers: in.ApproverIdentifiers,
			RequiredApprovals:   in.RequiredApprovals,
			ConditionalRule:     in.ConditionalRule,
		})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepOrder < steps[j].StepOrder })
	wf.Steps = steps
	return wf
}
