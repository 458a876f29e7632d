package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrariahq/agraria-api/internal/models"
	"github.com/agrariahq/agraria-api/internal/repository"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
)

// ErrNoActiveWorkflow is returned by Initialize when the approvable type has
// no active workflow configured. Domain services treat it as "no approval
// required" and activate the record directly.
var ErrNoActiveWorkflow = appErrors.New("NO_ACTIVE_WORKFLOW", http.StatusUnprocessableEntity, "no active approval workflow for this type")

type engineWorkflowStore interface {
	FindByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error)
	FindActiveByModelType(ctx context.Context, modelType string) (*models.ApprovalWorkflow, error)
}

type engineInstanceStore interface {
	FindByID(ctx context.Context, id string) (*models.ApprovalInstance, error)
	FindActiveByApprovable(ctx context.Context, approvableType, approvableID string) (*models.ApprovalInstance, error)
	List(ctx context.Context, filter models.ApprovalInstanceFilter) ([]models.ApprovalInstance, int, error)
	ListActions(ctx context.Context, instanceID string) ([]models.ApprovalAction, error)
	ListPendingForIdentifiers(ctx context.Context, userID string, roleNames, permissionNames []string) ([]models.ApprovalInstance, error)
	Create(ctx context.Context, inst *models.ApprovalInstance) error
	WithInstanceLock(ctx context.Context, instanceID string, fn func(ctx context.Context, tx repository.ApprovalInstanceTx) error) error
}

type engineEligibility interface {
	ResolveIdentifiers(ctx context.Context, userID string) (IdentifierSet, error)
	CanAct(ctx context.Context, userID string, step *models.ApprovalStep) (bool, error)
	HasEligibleActors(ctx context.Context, step *models.ApprovalStep) (bool, error)
	EligibleUserIDs(ctx context.Context, step *models.ApprovalStep) ([]string, error)
}

type approvalNotifier interface {
	Publish(ctx context.Context, n Notification)
}

type transitionObserver interface {
	ObserveTransition(approvableType, from, to string)
	ObserveAction(approvableType, action string)
}

// ApprovalEngine drives approval instances through the workflow state
// machine. All mutating operations serialise on a row lock held for the
// whole read-count-decide-write cycle, so two concurrent actions on the same
// instance cannot both observe the pre-action state. Side effects (lifecycle
// hooks, notifications, metrics) run after the transaction commits, exactly
// once per committed transition.
type ApprovalEngine struct {
	workflows   engineWorkflowStore
	instances   engineInstanceStore
	eligibility engineEligibility
	registry    *ApprovableRegistry
	notifier    approvalNotifier
	metrics     transitionObserver
	logger      *zap.Logger
}

func NewApprovalEngine(
	workflows engineWorkflowStore,
	instances engineInstanceStore,
	eligibility engineEligibility,
	registry *ApprovableRegistry,
	notifier approvalNotifier,
	metrics transitionObserver,
	logger *zap.Logger,
) *ApprovalEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalEngine{
		workflows:   workflows,
		instances:   instances,
		eligibility: eligibility,
		registry:    registry,
		notifier:    notifier,
		metrics:     metrics,
		logger:      logger,
	}
}

// Initialize binds an approvable record to the active workflow for its type
// and creates a Pending instance. It refuses to create a second active
// instance for the same record, and errors loudly on misconfiguration
// (unknown type tag, workflow with zero steps).
func (e *ApprovalEngine) Initialize(ctx context.Context, approvableType, approvableID, submitterID string) (*models.ApprovalInstance, error) {
	if _, err := e.registry.Handler(approvableType); err != nil {
		return nil, err
	}

	wf, err := e.workflows.FindActiveByModelType(ctx, approvableType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveWorkflow
		}
		return nil, fmt.Errorf("load active workflow: %w", err)
	}
	if len(wf.Steps) == 0 {
		return nil, appErrors.Clone(appErrors.ErrWorkflowConfig, fmt.Sprintf("workflow %s has no steps", wf.ID))
	}

	existing, err := e.instances.FindActiveByApprovable(ctx, approvableType, approvableID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check active instance: %w", err)
	}
	if existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "an active approval instance already exists for this record")
	}

	inst := &models.ApprovalInstance{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		ApprovableType: approvableType,
		ApprovableID:   approvableID,
		Status:         models.StatusPending,
		SubmittedBy:    submitterID,
	}
	if err := e.instances.Create(ctx, inst); err != nil {
		return nil, fmt.Errorf("create approval instance: %w", err)
	}

	e.logger.Info("approval instance created",
		zap.String("instance_id", inst.ID),
		zap.String("approvable_type", approvableType),
		zap.String("approvable_id", approvableID),
		zap.String("workflow_id", wf.ID))
	return inst, nil
}

// Submit activates a Pending instance: the first non-skipped step becomes
// current, or the run completes as approved when every step skips. Only the
// original submitter may submit. Returns false without side effects when the
// precondition does not hold.
func (e *ApprovalEngine) Submit(ctx context.Context, instanceID, actorID string) (bool, error) {
	var (
		ok    bool
		after []func(context.Context)
	)
	err := e.instances.WithInstanceLock(ctx, instanceID, func(ctx context.Context, tx repository.ApprovalInstanceTx) error {
		inst := tx.Instance()
		if inst.Status != models.StatusPending || inst.SubmittedBy != actorID {
			return nil
		}
		wf, err := e.workflows.FindByID(ctx, inst.WorkflowID)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		if err := e.advance(ctx, tx, wf, inst, 0, models.EventSubmit, &after); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	e.runEffects(ctx, after)
	return ok, nil
}

// ProcessAction records one actor decision on the instance's current step and
// applies the resulting transition, if any. Returns false without recording
// anything when the instance is not in progress, the step is stale, or the
// actor is not eligible.
func (e *ApprovalEngine) ProcessAction(ctx context.Context, instanceID, stepID string, action models.ActionType, actorID, comments string) (bool, error) {
	switch action {
	case models.ActionApprove, models.ActionReject, models.ActionRequestChanges:
	default:
		return false, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown action type %q", action))
	}

	var (
		acted bool
		after []func(context.Context)
	)
	err := e.instances.WithInstanceLock(ctx, instanceID, func(ctx context.Context, tx repository.ApprovalInstanceTx) error {
		inst := tx.Instance()
		if inst.Status != models.StatusInProgress {
			return nil
		}
		if inst.CurrentStepID == nil || *inst.CurrentStepID != stepID {
			return nil
		}

		wf, err := e.workflows.FindByID(ctx, inst.WorkflowID)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		step := wf.StepByID(stepID)
		if step == nil {
			return nil
		}

		// Action checkpoints accept any authenticated actor; approval
		// steps gate on the step's approver configuration.
		if !step.IsActionStep() {
			eligible, err := e.eligibility.CanAct(ctx, actorID, step)
			if err != nil {
				return fmt.Errorf("check eligibility: %w", err)
			}
			if !eligible {
				return nil
			}
		}

		stepRef := step.ID
		record := &models.ApprovalAction{
			ID:         uuid.NewString(),
			InstanceID: inst.ID,
			StepID:     &stepRef,
			ActorID:    actorID,
			ActionType: action,
		}
		if comments != "" {
			record.Comments = &comments
		}
		if err := tx.InsertAction(ctx, record); err != nil {
			return fmt.Errorf("record action: %w", err)
		}
		acted = true
		after = append(after, func(context.Context) {
			e.observeAction(inst.ApprovableType, string(action))
		})

		switch action {
		case models.ActionApprove:
			count, err := tx.CountApprovals(ctx, step.ID)
			if err != nil {
				return fmt.Errorf("count approvals: %w", err)
			}
			if count < step.RequiredApprovals {
				// Quorum not yet reached; the instance stays on
				// this step.
				return nil
			}
			return e.advance(ctx, tx, wf, inst, step.StepOrder, models.EventApprove, &after)

		case models.ActionReject:
			return e.finish(ctx, tx, inst, models.EventReject, actorID, comments, &after)

		case models.ActionRequestChanges:
			return e.finish(ctx, tx, inst, models.EventRequestChanges, actorID, comments, &after)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	e.runEffects(ctx, after)
	return acted, nil
}

// Resubmit re-enters the workflow from the first step after the submitter
// addressed a change request. Per-step approvals restart from zero because
// progression counts only actions recorded against the current activation.
func (e *ApprovalEngine) Resubmit(ctx context.Context, instanceID, actorID string) (bool, error) {
	var (
		ok    bool
		after []func(context.Context)
	)
	err := e.instances.WithInstanceLock(ctx, instanceID, func(ctx context.Context, tx repository.ApprovalInstanceTx) error {
		inst := tx.Instance()
		if inst.Status != models.StatusChangesRequested || inst.SubmittedBy != actorID {
			return nil
		}
		wf, err := e.workflows.FindByID(ctx, inst.WorkflowID)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		if err := e.advance(ctx, tx, wf, inst, 0, models.EventResubmit, &after); err != nil {
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}
	e.runEffects(ctx, after)
	return ok, nil
}

// Cancel abandons a pending or in-progress run. No lifecycle hook fires; the
// approvable record simply stays dormant.
func (e *ApprovalEngine) Cancel(ctx context.Context, instanceID, actorID string) (bool, error) {
	var (
		ok    bool
		after []func(context.Context)
	)
	err := e.instances.WithInstanceLock(ctx, instanceID, func(ctx context.Context, tx repository.ApprovalInstanceTx) error {
		inst := tx.Instance()
		next, valid := models.NextStatus(inst.Status, models.EventCancel)
		if !valid {
			return nil
		}
		from := inst.Status
		now := time.Now().UTC()
		record := &models.ApprovalAction{
			ID:         uuid.NewString(),
			InstanceID: inst.ID,
			StepID:     inst.CurrentStepID,
			ActorID:    actorID,
			ActionType: models.ActionCancel,
		}
		if err := tx.InsertAction(ctx, record); err != nil {
			return fmt.Errorf("record cancellation: %w", err)
		}
		inst.Status = next
		inst.CurrentStepID = nil
		inst.CompletedAt = &now
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return fmt.Errorf("cancel instance: %w", err)
		}
		ok = true
		snapshot := *inst
		after = append(after, func(ctx context.Context) {
			e.observeTransition(snapshot.ApprovableType, string(from), string(next))
			if actorID == snapshot.SubmittedBy {
				// Submitters cancelling their own request need no
				// notification about it.
				return
			}
			e.publish(ctx, Notification{
				Event:          NotifyCancelled,
				InstanceID:     snapshot.ID,
				ApprovableType: snapshot.ApprovableType,
				ApprovableID:   snapshot.ApprovableID,
				ActorID:        actorID,
				Recipients:     []string{snapshot.SubmittedBy},
			})
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	e.runEffects(ctx, after)
	return ok, nil
}

// Instance loads an instance with its full action ledger.
func (e *ApprovalEngine) Instance(ctx context.Context, instanceID string) (*models.ApprovalInstance, error) {
	inst, err := e.instances.FindByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, err
	}
	actions, err := e.instances.ListActions(ctx, inst.ID)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	inst.Actions = actions
	return inst, nil
}

// InstanceForApprovable returns the active instance bound to a record, or
// nil when no run is open.
func (e *ApprovalEngine) InstanceForApprovable(ctx context.Context, approvableType, approvableID string) (*models.ApprovalInstance, error) {
	inst, err := e.instances.FindActiveByApprovable(ctx, approvableType, approvableID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return inst, nil
}

// ListInstances pages through instances for the admin surface.
func (e *ApprovalEngine) ListInstances(ctx context.Context, filter models.ApprovalInstanceFilter) ([]models.ApprovalInstance, int, error) {
	return e.instances.List(ctx, filter)
}

// PendingForUser returns the in-progress instances whose current step the
// user can act on, resolved through the same identifier set canAct uses.
func (e *ApprovalEngine) PendingForUser(ctx context.Context, userID string) ([]models.ApprovalInstance, error) {
	set, err := e.eligibility.ResolveIdentifiers(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.instances.ListPendingForIdentifiers(ctx, set.UserID, set.Roles, set.Permissions)
}

// advance walks the workflow forward from fromOrder, skipping steps whose
// conditional rule is false, whose required approval count is zero, or which
// have no eligible actors. It either lands on the next live step or completes
// the run as approved.
func (e *ApprovalEngine) advance(
	ctx context.Context,
	tx repository.ApprovalInstanceTx,
	wf *models.ApprovalWorkflow,
	inst *models.ApprovalInstance,
	fromOrder int,
	entryEvent models.InstanceEvent,
	after *[]func(context.Context),
) error {
	handler, err := e.registry.Handler(inst.ApprovableType)
	if err != nil {
		return err
	}
	snapshot, err := handler.Snapshot(ctx, inst.ApprovableID)
	if err != nil {
		return fmt.Errorf("snapshot approvable: %w", err)
	}

	order := fromOrder
	for {
		step := wf.StepAfter(order)
		if step == nil {
			return e.finish(ctx, tx, inst, models.EventComplete, "", "", after)
		}
		skipped, err := e.stepSkipped(ctx, step, snapshot)
		if err != nil {
			return err
		}
		if skipped {
			e.logger.Debug("step skipped",
				zap.String("instance_id", inst.ID),
				zap.String("step_id", step.ID),
				zap.Int("step_order", step.StepOrder))
			order = step.StepOrder
			continue
		}

		next, valid := models.NextStatus(inst.Status, entryEvent)
		if !valid {
			return appErrors.Clone(appErrors.ErrActionNotAllowed, fmt.Sprintf("cannot %s from status %s", entryEvent, inst.Status))
		}
		from := inst.Status
		inst.Status = next
		inst.CurrentStepID = &step.ID
		if err := tx.UpdateInstance(ctx, inst); err != nil {
			return fmt.Errorf("activate step: %w", err)
		}

		stepCopy := *step
		snapshotInst := *inst
		event := NotifyStepAdvanced
		if entryEvent == models.EventSubmit || entryEvent == models.EventResubmit {
			event = NotifySubmitted
		}
		*after = append(*after, func(ctx context.Context) {
			e.observeTransition(snapshotInst.ApprovableType, string(from), string(next))
			recipients, err := e.eligibility.EligibleUserIDs(ctx, &stepCopy)
			if err != nil {
				e.logger.Warn("resolve step recipients failed", zap.Error(err))
			}
			e.publish(ctx, Notification{
				Event:          event,
				InstanceID:     snapshotInst.ID,
				ApprovableType: snapshotInst.ApprovableType,
				ApprovableID:   snapshotInst.ApprovableID,
				StepID:         stepCopy.ID,
				StepName:       stepCopy.Name,
				Recipients:     recipients,
			})
		})
		return nil
	}
}

// finish applies a run-ending event (complete, reject, request_changes) and
// schedules the matching lifecycle hook and notification.
func (e *ApprovalEngine) finish(
	ctx context.Context,
	tx repository.ApprovalInstanceTx,
	inst *models.ApprovalInstance,
	event models.InstanceEvent,
	actorID, comments string,
	after *[]func(context.Context),
) error {
	next, valid := models.NextStatus(inst.Status, event)
	if !valid {
		return appErrors.Clone(appErrors.ErrActionNotAllowed, fmt.Sprintf("cannot %s from status %s", event, inst.Status))
	}
	from := inst.Status
	inst.Status = next
	inst.CurrentStepID = nil
	if next.Terminal() {
		now := time.Now().UTC()
		inst.CompletedAt = &now
	}
	if err := tx.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("finish instance: %w", err)
	}

	snapshot := *inst
	*after = append(*after, func(ctx context.Context) {
		e.observeTransition(snapshot.ApprovableType, string(from), string(next))
		e.runHook(ctx, &snapshot, next)
		e.publish(ctx, Notification{
			Event:          notifyEventFor(next),
			InstanceID:     snapshot.ID,
			ApprovableType: snapshot.ApprovableType,
			ApprovableID:   snapshot.ApprovableID,
			ActorID:        actorID,
			Recipients:     []string{snapshot.SubmittedBy},
			Comments:       comments,
		})
	})
	return nil
}

// stepSkipped implements the auto-skip rule. Action checkpoints are never
// skipped for lack of eligible actors since any actor may complete them.
func (e *ApprovalEngine) stepSkipped(ctx context.Context, step *models.ApprovalStep, snapshot map[string]interface{}) (bool, error) {
	if step.RequiredApprovals <= 0 {
		return true, nil
	}
	if step.ConditionalRule != nil && !step.ConditionalRule.Applies(snapshot) {
		return true, nil
	}
	if step.IsActionStep() {
		return false, nil
	}
	hasActors, err := e.eligibility.HasEligibleActors(ctx, step)
	if err != nil {
		return false, fmt.Errorf("check eligible actors: %w", err)
	}
	return !hasActors, nil
}

// runHook dispatches the lifecycle callback for a committed transition. Hook
// failures are logged, never propagated: the state change already happened.
func (e *ApprovalEngine) runHook(ctx context.Context, inst *models.ApprovalInstance, status models.InstanceStatus) {
	handler, err := e.registry.Handler(inst.ApprovableType)
	if err != nil {
		e.logger.Error("lifecycle hook lookup failed", zap.String("instance_id", inst.ID), zap.Error(err))
		return
	}
	switch status {
	case models.StatusApproved:
		err = handler.OnApproved(ctx, inst.ApprovableID)
	case models.StatusRejected:
		err = handler.OnRejected(ctx, inst.ApprovableID)
	case models.StatusChangesRequested:
		err = handler.OnChangesRequested(ctx, inst.ApprovableID)
	default:
		return
	}
	if err != nil {
		e.logger.Error("lifecycle hook failed",
			zap.String("instance_id", inst.ID),
			zap.String("status", string(status)),
			zap.Error(err))
	}
}

func notifyEventFor(status models.InstanceStatus) string {
	switch status {
	case models.StatusApproved:
		return NotifyApproved
	case models.StatusRejected:
		return NotifyRejected
	case models.StatusChangesRequested:
		return NotifyChangesRequested
	}
	return NotifyStepAdvanced
}

func (e *ApprovalEngine) runEffects(ctx context.Context, effects []func(context.Context)) {
	for _, fn := range effects {
		fn(ctx)
	}
}

func (e *ApprovalEngine) publish(ctx context.Context, n Notification) {
	if e.notifier != nil {
		e.notifier.Publish(ctx, n)
	}
}

func (e *ApprovalEngine) observeTransition(approvableType, from, to string) {
	if e.metrics != nil {
		e.metrics.ObserveTransition(approvableType, from, to)
	}
}

func (e *ApprovalEngine) observeAction(approvableType, action string) {
	if e.metrics != nil {
		e.metrics.ObserveAction(approvableType, action)
	}
}
