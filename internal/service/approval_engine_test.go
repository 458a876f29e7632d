package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrariahq/agraria-api/internal/models"
	"github.com/agrariahq/agraria-api/internal/repository"
)

type engineWorkflowStub struct {
	workflows map[string]*models.ApprovalWorkflow
	active    map[string]*models.ApprovalWorkflow
}

func (s *engineWorkflowStub) FindByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	if wf, ok := s.workflows[id]; ok {
		return wf, nil
	}
	return nil, sql.ErrNoRows
}

func (s *engineWorkflowStub) FindActiveByModelType(ctx context.Context, modelType string) (*models.ApprovalWorkflow, error) {
	if wf, ok := s.active[modelType]; ok {
		return wf, nil
	}
	return nil, sql.ErrNoRows
}

type engineInstanceStub struct {
	instances map[string]*models.ApprovalInstance
	actions   []models.ApprovalAction
}

func (s *engineInstanceStub) FindByID(ctx context.Context, id string) (*models.ApprovalInstance, error) {
	if inst, ok := s.instances[id]; ok {
		copied := *inst
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *engineInstanceStub) FindActiveByApprovable(ctx context.Context, approvableType, approvableID string) (*models.ApprovalInstance, error) {
	for _, inst := range s.instances {
		if inst.ApprovableType == approvableType && inst.ApprovableID == approvableID && inst.Active() {
			copied := *inst
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *engineInstanceStub) List(ctx context.Context, filter models.ApprovalInstanceFilter) ([]models.ApprovalInstance, int, error) {
	var out []models.ApprovalInstance
	for _, inst := range s.instances {
		out = append(out, *inst)
	}
	return out, len(out), nil
}

func (s *engineInstanceStub) ListActions(ctx context.Context, instanceID string) ([]models.ApprovalAction, error) {
	var out []models.ApprovalAction
	for _, a := range s.actions {
		if a.InstanceID == instanceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *engineInstanceStub) ListPendingForIdentifiers(ctx context.Context, userID string, roleNames, permissionNames []string) ([]models.ApprovalInstance, error) {
	return nil, nil
}

func (s *engineInstanceStub) Create(ctx context.Context, inst *models.ApprovalInstance) error {
	if s.instances == nil {
		s.instances = make(map[string]*models.ApprovalInstance)
	}
	copied := *inst
	s.instances[inst.ID] = &copied
	return nil
}

func (s *engineInstanceStub) WithInstanceLock(ctx context.Context, instanceID string, fn func(ctx context.Context, tx repository.ApprovalInstanceTx) error) error {
	inst, ok := s.instances[instanceID]
	if !ok {
		return sql.ErrNoRows
	}
	working := *inst
	tx := &engineTxStub{store: s, inst: &working}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	// fn returning nil stands in for a committed transaction
	*inst = working
	s.actions = append(s.actions, tx.pending...)
	return nil
}

type engineTxStub struct {
	store   *engineInstanceStub
	inst    *models.ApprovalInstance
	pending []models.ApprovalAction
}

func (t *engineTxStub) Instance() *models.ApprovalInstance { return t.inst }

func (t *engineTxStub) UpdateInstance(ctx context.Context, inst *models.ApprovalInstance) error {
	*t.inst = *inst
	return nil
}

func (t *engineTxStub) InsertAction(ctx context.Context, action *models.ApprovalAction) error {
	t.pending = append(t.pending, *action)
	return nil
}

// CountApprovals mirrors the repository query: distinct approving actors for
// the step, ignoring approvals recorded before the latest request_changes.
func (t *engineTxStub) CountApprovals(ctx context.Context, stepID string) (int, error) {
	all := append(append([]models.ApprovalAction{}, t.store.actions...), t.pending...)
	round := -1
	for i, a := range all {
		if a.ActionType == models.ActionRequestChanges {
			round = i
		}
	}
	actors := map[string]struct{}{}
	for i, a := range all {
		if i > round && a.StepID != nil && *a.StepID == stepID && a.ActionType == models.ActionApprove {
			actors[a.ActorID] = struct{}{}
		}
	}
	return len(actors), nil
}

type eligibilityStub struct {
	eligible  map[string]bool
	hasActors map[string]bool
}

func (s *eligibilityStub) ResolveIdentifiers(ctx context.Context, userID string) (IdentifierSet, error) {
	return IdentifierSet{UserID: userID}, nil
}

func (s *eligibilityStub) CanAct(ctx context.Context, userID string, step *models.ApprovalStep) (bool, error) {
	return s.eligible[userID+"/"+step.ID], nil
}

func (s *eligibilityStub) HasEligibleActors(ctx context.Context, step *models.ApprovalStep) (bool, error) {
	allowed, ok := s.hasActors[step.ID]
	if !ok {
		return true, nil
	}
	return allowed, nil
}

func (s *eligibilityStub) EligibleUserIDs(ctx context.Context, step *models.ApprovalStep) ([]string, error) {
	return []string{"approver-1"}, nil
}

type approvableStub struct {
	snapshot         map[string]interface{}
	approved         []string
	rejected         []string
	changesRequested []string
}

func (s *approvableStub) Snapshot(ctx context.Context, id string) (map[string]interface{}, error) {
	if s.snapshot == nil {
		return map[string]interface{}{}, nil
	}
	return s.snapshot, nil
}

func (s *approvableStub) OnApproved(ctx context.Context, id string) error {
	s.approved = append(s.approved, id)
	return nil
}

func (s *approvableStub) OnRejected(ctx context.Context, id string) error {
	s.rejected = append(s.rejected, id)
	return nil
}

func (s *approvableStub) OnChangesRequested(ctx context.Context, id string) error {
	s.changesRequested = append(s.changesRequested, id)
	return nil
}

type notifierStub struct {
	published []Notification
}

func (s *notifierStub) Publish(ctx context.Context, n Notification) {
	s.published = append(s.published, n)
}

type metricsStub struct {
	transitions []string
	actions     []string
}

func (s *metricsStub) ObserveTransition(approvableType, from, to string) {
	s.transitions = append(s.transitions, from+">"+to)
}

func (s *metricsStub) ObserveAction(approvableType, action string) {
	s.actions = append(s.actions, action)
}

type engineFixture struct {
	engine     *ApprovalEngine
	workflows  *engineWorkflowStub
	instances  *engineInstanceStub
	eligible   *eligibilityStub
	handler    *approvableStub
	notifier   *notifierStub
	metrics    *metricsStub
	workflowID string
}

func approvalStep(id string, order, required int) models.ApprovalStep {
	return models.ApprovalStep{
		ID:                  id,
		StepOrder:           order,
		Name:                id,
		StepType:            models.StepSequential,
		StepPurpose:         models.PurposeApproval,
		ApproverType:        models.ApproverRole,
		ApproverIdentifiers: []string{"FINANCE"},
		RequiredApprovals:   required,
	}
}

func newEngineFixture(t *testing.T, steps []models.ApprovalStep) *engineFixture {
	t.Helper()
	wf := &models.ApprovalWorkflow{
		ID:        "wf-1",
		Name:      "program review",
		ModelType: "program",
		IsActive:  true,
		Steps:     steps,
	}
	workflows := &engineWorkflowStub{
		workflows: map[string]*models.ApprovalWorkflow{wf.ID: wf},
		active:    map[string]*models.ApprovalWorkflow{"program": wf},
	}
	instances := &engineInstanceStub{instances: map[string]*models.ApprovalInstance{}}
	eligible := &eligibilityStub{eligible: map[string]bool{}, hasActors: map[string]bool{}}
	handler := &approvableStub{}
	notifier := &notifierStub{}
	metrics := &metricsStub{}

	registry := NewApprovableRegistry()
	registry.Register("program", handler)

	engine := NewApprovalEngine(workflows, instances, eligible, registry, notifier, metrics, nil)
	return &engineFixture{
		engine:     engine,
		workflows:  workflows,
		instances:  instances,
		eligible:   eligible,
		handler:    handler,
		notifier:   notifier,
		metrics:    metrics,
		workflowID: wf.ID,
	}
}

func (f *engineFixture) submitNew(t *testing.T) *models.ApprovalInstance {
	t.Helper()
	ctx := context.Background()
	inst, err := f.engine.Initialize(ctx, "program", "prog-1", "submitter")
	require.NoError(t, err)
	ok, err := f.engine.Submit(ctx, inst.ID, "submitter")
	require.NoError(t, err)
	require.True(t, ok)
	return f.instances.instances[inst.ID]
}

func TestEngineInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("creates pending instance", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst, err := f.engine.Initialize(ctx, "program", "prog-1", "submitter")
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, inst.Status)
		assert.Equal(t, f.workflowID, inst.WorkflowID)
		assert.Nil(t, inst.CurrentStepID)
	})

	t.Run("no active workflow", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		delete(f.workflows.active, "program")
		_, err := f.engine.Initialize(ctx, "program", "prog-1", "submitter")
		assert.ErrorIs(t, err, ErrNoActiveWorkflow)
	})

	t.Run("unknown approvable type", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		_, err := f.engine.Initialize(ctx, "shipment", "x", "submitter")
		assert.Error(t, err)
	})

	t.Run("refuses second active instance", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		_, err := f.engine.Initialize(ctx, "program", "prog-1", "submitter")
		require.NoError(t, err)
		_, err = f.engine.Initialize(ctx, "program", "prog-1", "submitter")
		assert.Error(t, err)
	})
}

func TestEngineSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("activates first step", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{
			approvalStep("s1", 1, 1),
			approvalStep("s2", 2, 1),
		})
		inst := f.submitNew(t)
		assert.Equal(t, models.StatusInProgress, inst.Status)
		require.NotNil(t, inst.CurrentStepID)
		assert.Equal(t, "s1", *inst.CurrentStepID)
	})

	t.Run("only submitter may submit", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst, err := f.engine.Initialize(ctx, "program", "prog-1", "submitter")
		require.NoError(t, err)
		ok, err := f.engine.Submit(ctx, inst.ID, "someone-else")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, models.StatusPending, f.instances.instances[inst.ID].Status)
	})

	t.Run("double submit is a no-op", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst := f.submitNew(t)
		ok, err := f.engine.Submit(ctx, inst.ID, "submitter")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("skips zero-approval step", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{
			approvalStep("s1", 1, 0),
			approvalStep("s2", 2, 1),
		})
		inst := f.submitNew(t)
		require.NotNil(t, inst.CurrentStepID)
		assert.Equal(t, "s2", *inst.CurrentStepID)
	})

	t.Run("skips step whose rule does not apply", func(t *testing.T) {
		steps := []models.ApprovalStep{
			approvalStep("s1", 1, 1),
			approvalStep("s2", 2, 1),
		}
		steps[0].ConditionalRule = &models.ConditionalRule{Field: "budget_cents", Operator: "gt", Operand: 1_000_000}
		f := newEngineFixture(t, steps)
		f.handler.snapshot = map[string]interface{}{"budget_cents": int64(500)}
		inst := f.submitNew(t)
		require.NotNil(t, inst.CurrentStepID)
		assert.Equal(t, "s2", *inst.CurrentStepID)
	})

	t.Run("skips step with no eligible actors", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{
			approvalStep("s1", 1, 1),
			approvalStep("s2", 2, 1),
		})
		f.eligible.hasActors["s1"] = false
		inst := f.submitNew(t)
		require.NotNil(t, inst.CurrentStepID)
		assert.Equal(t, "s2", *inst.CurrentStepID)
	})

	t.Run("action step survives empty approver pool", func(t *testing.T) {
		steps := []models.ApprovalStep{
			approvalStep("s1", 1, 1),
			approvalStep("s2", 2, 1),
		}
		steps[0].StepPurpose = models.PurposeAction
		f := newEngineFixture(t, steps)
		f.eligible.hasActors["s1"] = false
		inst := f.submitNew(t)
		require.NotNil(t, inst.CurrentStepID)
		assert.Equal(t, "s1", *inst.CurrentStepID)
	})

	t.Run("all steps skip approves immediately", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{
			approvalStep("s1", 1, 0),
			approvalStep("s2", 2, 0),
		})
		inst := f.submitNew(t)
		assert.Equal(t, models.StatusApproved, inst.Status)
		assert.Nil(t, inst.CurrentStepID)
		assert.NotNil(t, inst.CompletedAt)
		assert.Equal(t, []string{"prog-1"}, f.handler.approved)
	})
}

func TestEngineProcessAction(t *testing.T) {
	ctx := context.Background()

	t.Run("approval chain to approved", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{
			approvalStep("s1", 1, 1),
			approvalStep("s2", 2, 1),
		})
		inst := f.submitNew(t)
		f.eligible.eligible["alice/s1"] = true
		f.eligible.eligible["bob/s2"] = true

		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "alice", "fine")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.StatusInProgress, inst.Status)
		assert.Equal(t, "s2", *inst.CurrentStepID)

		// advancing announces the newly activated step to its approvers
		advanced := f.notifier.published[len(f.notifier.published)-1]
		assert.Equal(t, NotifyStepAdvanced, advanced.Event)
		assert.Equal(t, "s2", advanced.StepID)
		assert.Equal(t, []string{"approver-1"}, advanced.Recipients)

		ok, err = f.engine.ProcessAction(ctx, inst.ID, "s2", models.ActionApprove, "bob", "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.StatusApproved, inst.Status)
		assert.Nil(t, inst.CurrentStepID)
		assert.Equal(t, []string{"prog-1"}, f.handler.approved)
		assert.Len(t, f.instances.actions, 2)
	})

	t.Run("quorum requires distinct actors", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 2)})
		inst := f.submitNew(t)
		f.eligible.eligible["alice/s1"] = true
		f.eligible.eligible["bob/s1"] = true

		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "alice", "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.StatusInProgress, inst.Status)
		assert.Equal(t, "s1", *inst.CurrentStepID)

		// same actor again does not reach quorum
		ok, err = f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "alice", "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "s1", *inst.CurrentStepID)

		ok, err = f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "bob", "")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.StatusApproved, inst.Status)
	})

	t.Run("reject terminates the run", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{
			approvalStep("s1", 1, 1),
			approvalStep("s2", 2, 1),
		})
		inst := f.submitNew(t)
		f.eligible.eligible["alice/s1"] = true

		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionReject, "alice", "not viable")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.StatusRejected, inst.Status)
		assert.NotNil(t, inst.CompletedAt)
		assert.Equal(t, []string{"prog-1"}, f.handler.rejected)

		rejection := f.notifier.published[len(f.notifier.published)-1]
		assert.Equal(t, NotifyRejected, rejection.Event)
		assert.Equal(t, []string{"submitter"}, rejection.Recipients)
	})

	t.Run("request changes then resubmit", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst := f.submitNew(t)
		f.eligible.eligible["alice/s1"] = true

		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionRequestChanges, "alice", "needs budget detail")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.StatusChangesRequested, inst.Status)
		assert.Nil(t, inst.CompletedAt)
		assert.Equal(t, []string{"prog-1"}, f.handler.changesRequested)

		requested := f.notifier.published[len(f.notifier.published)-1]
		assert.Equal(t, NotifyChangesRequested, requested.Event)
		assert.Equal(t, []string{"submitter"}, requested.Recipients)

		ok, err = f.engine.Resubmit(ctx, inst.ID, "submitter")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, models.StatusInProgress, inst.Status)
		assert.Equal(t, "s1", *inst.CurrentStepID)

		resubmitted := f.notifier.published[len(f.notifier.published)-1]
		assert.Equal(t, NotifySubmitted, resubmitted.Event)
		assert.Equal(t, "s1", resubmitted.StepID)
		assert.Equal(t, []string{"approver-1"}, resubmitted.Recipients)
	})

	t.Run("resubmit by non-submitter refused", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst := f.submitNew(t)
		f.eligible.eligible["alice/s1"] = true
		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionRequestChanges, "alice", "")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = f.engine.Resubmit(ctx, inst.ID, "alice")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, models.StatusChangesRequested, inst.Status)
	})

	t.Run("ineligible actor refused without a ledger entry", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst := f.submitNew(t)

		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "mallory", "")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, f.instances.actions)
	})

	t.Run("stale step refused", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{
			approvalStep("s1", 1, 1),
			approvalStep("s2", 2, 1),
		})
		inst := f.submitNew(t)
		f.eligible.eligible["alice/s2"] = true

		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s2", models.ActionApprove, "alice", "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("action on terminal instance refused", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst := f.submitNew(t)
		f.eligible.eligible["alice/s1"] = true
		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionReject, "alice", "")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "alice", "")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("unknown action type errors", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst := f.submitNew(t)
		_, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionType("escalate"), "alice", "")
		assert.Error(t, err)
	})

	t.Run("any actor may complete an action step", func(t *testing.T) {
		steps := []models.ApprovalStep{
			approvalStep("s1", 1, 1),
			approvalStep("s2", 2, 1),
		}
		steps[0].StepPurpose = models.PurposeAction
		f := newEngineFixture(t, steps)
		inst := f.submitNew(t)
		f.eligible.eligible["bob/s2"] = true

		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "anyone", "soil samples archived")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "s2", *inst.CurrentStepID)
	})
}

func TestEngineCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancel pending", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst, err := f.engine.Initialize(ctx, "program", "prog-1", "submitter")
		require.NoError(t, err)

		ok, err := f.engine.Cancel(ctx, inst.ID, "submitter")
		require.NoError(t, err)
		assert.True(t, ok)
		stored := f.instances.instances[inst.ID]
		assert.Equal(t, models.StatusCancelled, stored.Status)
		assert.NotNil(t, stored.CompletedAt)
		// cancellation lands in the ledger; a pending instance has no step
		require.Len(t, f.instances.actions, 1)
		assert.Equal(t, models.ActionCancel, f.instances.actions[0].ActionType)
		assert.Nil(t, f.instances.actions[0].StepID)
		// no lifecycle hook on cancel
		assert.Empty(t, f.handler.approved)
		assert.Empty(t, f.handler.rejected)
		// own cancellation is not announced back to the submitter
		for _, n := range f.notifier.published {
			assert.NotEqual(t, NotifyCancelled, n.Event)
		}
	})

	t.Run("cancel by another actor notifies the submitter", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst := f.submitNew(t)

		ok, err := f.engine.Cancel(ctx, inst.ID, "site-admin")
		require.NoError(t, err)
		require.True(t, ok)

		cancelled := f.notifier.published[len(f.notifier.published)-1]
		assert.Equal(t, NotifyCancelled, cancelled.Event)
		assert.Equal(t, "site-admin", cancelled.ActorID)
		assert.Equal(t, []string{"submitter"}, cancelled.Recipients)
	})

	t.Run("cancel after changes requested refused", func(t *testing.T) {
		f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
		inst := f.submitNew(t)
		f.eligible.eligible["alice/s1"] = true
		ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionRequestChanges, "alice", "")
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = f.engine.Cancel(ctx, inst.ID, "submitter")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestEngineSideEffects(t *testing.T) {
	ctx := context.Background()

	f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
	inst := f.submitNew(t)
	f.eligible.eligible["alice/s1"] = true

	submittedEvents := 0
	for _, n := range f.notifier.published {
		if n.Event == NotifySubmitted {
			submittedEvents++
		}
	}
	assert.Equal(t, 1, submittedEvents)
	assert.Equal(t, []string{"pending>in_progress"}, f.metrics.transitions)

	ok, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	last := f.notifier.published[len(f.notifier.published)-1]
	assert.Equal(t, NotifyApproved, last.Event)
	assert.Equal(t, []string{"submitter"}, last.Recipients)
	assert.Equal(t, []string{"approve"}, f.metrics.actions)
	assert.Equal(t, []string{"pending>in_progress", "in_progress>approved"}, f.metrics.transitions)
}

func TestEngineInstanceQueries(t *testing.T) {
	ctx := context.Background()

	f := newEngineFixture(t, []models.ApprovalStep{approvalStep("s1", 1, 1)})
	inst := f.submitNew(t)
	f.eligible.eligible["alice/s1"] = true
	_, err := f.engine.ProcessAction(ctx, inst.ID, "s1", models.ActionApprove, "alice", "ok")
	require.NoError(t, err)

	loaded, err := f.engine.Instance(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Actions, 1)
	assert.Equal(t, models.ActionApprove, loaded.Actions[0].ActionType)

	open, err := f.engine.InstanceForApprovable(ctx, "program", "prog-1")
	require.NoError(t, err)
	assert.Nil(t, open)

	_, err = f.engine.Instance(ctx, "missing")
	assert.Error(t, err)
}
