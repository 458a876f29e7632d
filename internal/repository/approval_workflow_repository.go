package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agrariahq/agraria-api/internal/models"
)

// ApprovalWorkflowRepository handles persistence for workflow definitions
// and their ordered steps.
type ApprovalWorkflowRepository struct {
	db *sqlx.DB
}

// NewApprovalWorkflowRepository instantiates a workflow repository.
func NewApprovalWorkflowRepository(db *sqlx.DB) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: db}
}

const workflowColumns = `id, name, description, model_type, is_active, deleted_at, created_at, updated_at`
const stepColumns = `id, workflow_id, step_order, name, description, step_type, step_purpose, approver_type, approver_identifiers, required_approvals, conditional_rule, created_at, updated_at`

// List returns workflows matching provided filters. Soft-deleted workflows
// are excluded.
func (r *ApprovalWorkflowRepository) List(ctx context.Context, filter models.ApprovalWorkflowFilter) ([]models.ApprovalWorkflow, int, error) {
	base := "FROM approval_workflows WHERE deleted_at IS NULL"
	var conditions []string
	var args []interface{}

	if filter.ModelType != "" {
		conditions = append(conditions, fmt.Sprintf("model_type = $%d", len(args)+1))
		args = append(args, filter.ModelType)
	}
	if filter.IsActive != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.IsActive)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(name) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"name": true, "model_type": true, "created_at": true}
	if !allowedSorts[sortBy] {
		sortBy = "name"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", workflowColumns, base, sortBy, order, size, offset)

	var workflows []models.ApprovalWorkflow
	if err := r.db.SelectContext(ctx, &workflows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list workflows: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count workflows: %w", err)
	}

	return workflows, total, nil
}

// FindByID loads a workflow and its steps sorted by step_order.
func (r *ApprovalWorkflowRepository) FindByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_workflows WHERE id = $1`, workflowColumns)
	var wf models.ApprovalWorkflow
	if err := r.db.GetContext(ctx, &wf, query, id); err != nil {
		return nil, err
	}
	steps, err := r.stepsForWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return &wf, nil
}

// FindActiveByModelType returns the single active workflow bound to a model
// type, with its steps.
func (r *ApprovalWorkflowRepository) FindActiveByModelType(ctx context.Context, modelType string) (*models.ApprovalWorkflow, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_workflows WHERE model_type = $1 AND is_active = TRUE AND deleted_at IS NULL LIMIT 1`, workflowColumns)
	var wf models.ApprovalWorkflow
	if err := r.db.GetContext(ctx, &wf, query, modelType); err != nil {
		return nil, err
	}
	steps, err := r.stepsForWorkflow(ctx, wf.ID)
	if err != nil {
		return nil, err
	}
	wf.Steps = steps
	return &wf, nil
}

func (r *ApprovalWorkflowRepository) stepsForWorkflow(ctx context.Context, workflowID string) ([]models.ApprovalStep, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_steps WHERE workflow_id = $1 ORDER BY step_order ASC`, stepColumns)
	var steps []models.ApprovalStep
	if err := r.db.SelectContext(ctx, &steps, query, workflowID); err != nil {
		return nil, fmt.Errorf("load workflow steps: %w", err)
	}
	return steps, nil
}

// ExistsByName checks name uniqueness among non-deleted workflows.
func (r *ApprovalWorkflowRepository) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	base := "SELECT 1 FROM approval_workflows WHERE name = $1 AND deleted_at IS NULL"
	args := []interface{}{name}
	if excludeID != "" {
		base += " AND id <> $2"
		args = append(args, excludeID)
	}
	var exists int
	if err := r.db.GetContext(ctx, &exists, base+" LIMIT 1", args...); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check workflow name: %w", err)
	}
	return true, nil
}

// Create inserts the workflow and all steps in a single transaction.
func (r *ApprovalWorkflowRepository) Create(ctx context.Context, wf *models.ApprovalWorkflow) error {
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if wf.CreatedAt.IsZero() {
		wf.CreatedAt = now
	}
	wf.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create workflow tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const wfQuery = `INSERT INTO approval_workflows (id, name, description, model_type, is_active, created_at, updated_at) VALUES (:id, :name, :description, :model_type, :is_active, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, wfQuery, wf); err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}

	if err = insertSteps(ctx, tx, wf.ID, wf.Steps, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create workflow tx: %w", err)
	}
	return nil
}

func insertSteps(ctx context.Context, tx *sqlx.Tx, workflowID string, steps []models.ApprovalStep, now time.Time) error {
	const stepQuery = `INSERT INTO approval_steps (id, workflow_id, step_order, name, description, step_type, step_purpose, approver_type, approver_identifiers, required_approvals, conditional_rule, created_at, updated_at) VALUES (:id, :workflow_id, :step_order, :name, :description, :step_type, :step_purpose, :approver_type, :approver_identifiers, :required_approvals, :conditional_rule, :created_at, :updated_at)`
	for i := range steps {
		step := &steps[i]
		if step.ID == "" {
			step.ID = uuid.NewString()
		}
		step.WorkflowID = workflowID
		if step.CreatedAt.IsZero() {
			step.CreatedAt = now
		}
		step.UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, stepQuery, step); err != nil {
			return fmt.Errorf("create workflow step: %w", err)
		}
	}
	return nil
}

// Update modifies workflow metadata and replaces its steps atomically.
func (r *ApprovalWorkflowRepository) Update(ctx context.Context, wf *models.ApprovalWorkflow) error {
	now := time.Now().UTC()
	wf.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update workflow tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const wfQuery = `UPDATE approval_workflows SET name = :name, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err = tx.NamedExecContext(ctx, wfQuery, wf); err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM approval_steps WHERE workflow_id = $1`, wf.ID); err != nil {
		return fmt.Errorf("clear workflow steps: %w", err)
	}
	for i := range wf.Steps {
		wf.Steps[i].ID = ""
	}
	if err = insertSteps(ctx, tx, wf.ID, wf.Steps, now); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit update workflow tx: %w", err)
	}
	return nil
}

// SetActive activates a workflow and deactivates every other workflow bound
// to the same model type, as one atomic step.
func (r *ApprovalWorkflowRepository) SetActive(ctx context.Context, id, modelType string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set active workflow tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `UPDATE approval_workflows SET is_active = FALSE, updated_at = $1 WHERE model_type = $2 AND is_active = TRUE AND id <> $3`, time.Now().UTC(), modelType, id); err != nil {
		return fmt.Errorf("deactivate other workflows: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE approval_workflows SET is_active = TRUE, updated_at = $2 WHERE id = $1`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("activate workflow: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit set active workflow tx: %w", err)
	}
	return nil
}

// Deactivate clears the active flag on a workflow.
func (r *ApprovalWorkflowRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE approval_workflows SET is_active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate workflow: %w", err)
	}
	return nil
}

// SoftDelete logically removes a workflow. Instances referencing it stay
// valid for audit.
func (r *ApprovalWorkflowRepository) SoftDelete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	const query = `UPDATE approval_workflows SET deleted_at = $2, is_active = FALSE, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, id, now); err != nil {
		return fmt.Errorf("soft delete workflow: %w", err)
	}
	return nil
}
