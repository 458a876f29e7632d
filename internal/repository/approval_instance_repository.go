package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/agrariahq/agraria-api/internal/models"
)

// ApprovalInstanceTx is the transactional view of a locked instance handed
// to the workflow engine. The backing row stays locked until the callback
// returns, which serializes the read-count-then-transition sequence.
type ApprovalInstanceTx interface {
	// Instance returns the row as read under the lock.
	Instance() *models.ApprovalInstance
	// UpdateInstance persists status, current step and completion time.
	UpdateInstance(ctx context.Context, inst *models.ApprovalInstance) error
	// InsertAction appends one immutable entry to the action ledger.
	InsertAction(ctx context.Context, action *models.ApprovalAction) error
	// CountApprovals counts distinct approving actors for a step in the
	// current review round, replayed from the ledger rather than any
	// cached counter.
	CountApprovals(ctx context.Context, stepID string) (int, error)
}

// ApprovalInstanceRepository handles persistence for approval instances and
// their action ledger.
type ApprovalInstanceRepository struct {
	db *sqlx.DB
}

// NewApprovalInstanceRepository instantiates an instance repository.
func NewApprovalInstanceRepository(db *sqlx.DB) *ApprovalInstanceRepository {
	return &ApprovalInstanceRepository{db: db}
}

const instanceColumns = `id, workflow_id, approvable_type, approvable_id, status, current_step_id, submitted_by, completed_at, created_at, updated_at`
const actionColumns = `id, instance_id, step_id, actor_id, action_type, comments, created_at`

// FindByID loads an instance by identifier.
func (r *ApprovalInstanceRepository) FindByID(ctx context.Context, id string) (*models.ApprovalInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_instances WHERE id = $1`, instanceColumns)
	var inst models.ApprovalInstance
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		return nil, err
	}
	return &inst, nil
}

// FindActiveByApprovable returns the non-terminal instance occupying an
// approvable entity, if any.
func (r *ApprovalInstanceRepository) FindActiveByApprovable(ctx context.Context, approvableType, approvableID string) (*models.ApprovalInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_instances WHERE approvable_type = $1 AND approvable_id = $2 AND status NOT IN ('approved', 'rejected', 'cancelled') LIMIT 1`, instanceColumns)
	var inst models.ApprovalInstance
	if err := r.db.GetContext(ctx, &inst, query, approvableType, approvableID); err != nil {
		return nil, err
	}
	return &inst, nil
}

// List returns instances matching provided filters.
func (r *ApprovalInstanceRepository) List(ctx context.Context, filter models.ApprovalInstanceFilter) ([]models.ApprovalInstance, int, error) {
	base := "FROM approval_instances WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.WorkflowID != "" {
		conditions = append(conditions, fmt.Sprintf("workflow_id = $%d", len(args)+1))
		args = append(args, filter.WorkflowID)
	}
	if filter.ApprovableType != "" {
		conditions = append(conditions, fmt.Sprintf("approvable_type = $%d", len(args)+1))
		args = append(args, filter.ApprovableType)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.SubmittedBy != "" {
		conditions = append(conditions, fmt.Sprintf("submitted_by = $%d", len(args)+1))
		args = append(args, filter.SubmittedBy)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	allowedSorts := map[string]bool{"created_at": true, "updated_at": true, "status": true}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
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

	query := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", instanceColumns, base, sortBy, order, size, offset)

	var instances []models.ApprovalInstance
	if err := r.db.SelectContext(ctx, &instances, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list instances: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count instances: %w", err)
	}

	return instances, total, nil
}

// ListPendingForIdentifiers returns in-progress instances whose current step
// matches the caller's identifier sets. The OR across user/role/permission
// identifiers mirrors the single-user canAct predicate.
func (r *ApprovalInstanceRepository) ListPendingForIdentifiers(ctx context.Context, userID string, roleNames, permissionNames []string) ([]models.ApprovalInstance, error) {
	query := fmt.Sprintf(`SELECT i.%s FROM approval_instances i
		JOIN approval_steps s ON s.id = i.current_step_id
		WHERE i.status = 'in_progress' AND (
			(s.approver_type = 'user' AND $1 = ANY(s.approver_identifiers))
			OR (s.approver_type = 'role' AND s.approver_identifiers && $2)
			OR (s.approver_type = 'permission' AND s.approver_identifiers && $3)
		)
		ORDER BY i.created_at ASC`,
		strings.ReplaceAll(instanceColumns, ", ", ", i."))

	var instances []models.ApprovalInstance
	if err := r.db.SelectContext(ctx, &instances, query, userID, pq.Array(roleNames), pq.Array(permissionNames)); err != nil {
		return nil, fmt.Errorf("list pending instances: %w", err)
	}
	return instances, nil
}

// Create inserts a new instance record.
func (r *ApprovalInstanceRepository) Create(ctx context.Context, inst *models.ApprovalInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now

	const query = `INSERT INTO approval_instances (id, workflow_id, approvable_type, approvable_id, status, current_step_id, submitted_by, completed_at, created_at, updated_at) VALUES (:id, :workflow_id, :approvable_type, :approvable_id, :status, :current_step_id, :submitted_by, :completed_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("create instance: %w", err)
	}
	return nil
}

// ListActions returns the action ledger for an instance, oldest first.
func (r *ApprovalInstanceRepository) ListActions(ctx context.Context, instanceID string) ([]models.ApprovalAction, error) {
	query := fmt.Sprintf(`SELECT %s FROM approval_actions WHERE instance_id = $1 ORDER BY created_at ASC`, actionColumns)
	var actions []models.ApprovalAction
	if err := r.db.SelectContext(ctx, &actions, query, instanceID); err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	return actions, nil
}

// ListAllActions returns the full ledger across instances for export,
// bounded by maxRows.
func (r *ApprovalInstanceRepository) ListAllActions(ctx context.Context, maxRows int) ([]models.ApprovalAction, error) {
	if maxRows <= 0 {
		maxRows = 10000
	}
	query := fmt.Sprintf(`SELECT %s FROM approval_actions ORDER BY created_at DESC LIMIT %d`, actionColumns, maxRows)
	var actions []models.ApprovalAction
	if err := r.db.SelectContext(ctx, &actions, query); err != nil {
		return nil, fmt.Errorf("export actions: %w", err)
	}
	return actions, nil
}

// WithInstanceLock loads the instance under SELECT ... FOR UPDATE and runs
// fn within the same transaction. Concurrent callers against the same
// instance serialize here, which is what keeps "the Nth approval advances
// exactly once" true under racing requests.
func (r *ApprovalInstanceRepository) WithInstanceLock(ctx context.Context, instanceID string, fn func(ctx context.Context, tx ApprovalInstanceTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin instance tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := fmt.Sprintf(`SELECT %s FROM approval_instances WHERE id = $1 FOR UPDATE`, instanceColumns)
	var inst models.ApprovalInstance
	if err = tx.GetContext(ctx, &inst, query, instanceID); err != nil {
		if err == sql.ErrNoRows {
			return err
		}
		return fmt.Errorf("lock instance: %w", err)
	}

	if err = fn(ctx, &instanceTx{tx: tx, inst: &inst}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit instance tx: %w", err)
	}
	return nil
}

type instanceTx struct {
	tx   *sqlx.Tx
	inst *models.ApprovalInstance
}

func (t *instanceTx) Instance() *models.ApprovalInstance {
	return t.inst
}

func (t *instanceTx) UpdateInstance(ctx context.Context, inst *models.ApprovalInstance) error {
	inst.UpdatedAt = time.Now().UTC()
	const query = `UPDATE approval_instances SET status = :status, current_step_id = :current_step_id, completed_at = :completed_at, updated_at = :updated_at WHERE id = :id`
	if _, err := t.tx.NamedExecContext(ctx, query, inst); err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	return nil
}

func (t *instanceTx) InsertAction(ctx context.Context, action *models.ApprovalAction) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO approval_actions (id, instance_id, step_id, actor_id, action_type, comments, created_at) VALUES (:id, :instance_id, :step_id, :actor_id, :action_type, :comments, :created_at)`
	if _, err := t.tx.NamedExecContext(ctx, query, action); err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (t *instanceTx) CountApprovals(ctx context.Context, stepID string) (int, error) {
	// Approvals recorded before the latest request_changes belong to a
	// previous review round and must not satisfy the current quorum.
	const query = `SELECT COUNT(DISTINCT actor_id) FROM approval_actions WHERE instance_id = $1 AND step_id = $2 AND action_type = 'approve' AND created_at > COALESCE((SELECT MAX(created_at) FROM approval_actions WHERE instance_id = $1 AND action_type = 'request_changes'), 'epoch'::timestamptz)`
	var count int
	if err := t.tx.GetContext(ctx, &count, query, t.inst.ID, stepID); err != nil {
		return 0, fmt.Errorf("count step approvals: %w", err)
	}
	return count, nil
}
