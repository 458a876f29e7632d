package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrariahq/agraria-api/internal/models"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
)

type workflowStoreStub struct {
	workflows     map[string]*models.ApprovalWorkflow
	activatedID   string
	deactivatedID string
	deletedID     string
}

func newWorkflowStoreStub() *workflowStoreStub {
	return &workflowStoreStub{workflows: make(map[string]*models.ApprovalWorkflow)}
}

func (s *workflowStoreStub) List(ctx context.Context, filter models.ApprovalWorkflowFilter) ([]models.ApprovalWorkflow, int, error) {
	var out []models.ApprovalWorkflow
	for _, wf := range s.workflows {
		out = append(out, *wf)
	}
	return out, len(out), nil
}

func (s *workflowStoreStub) FindByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	if wf, ok := s.workflows[id]; ok {
		copied := *wf
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *workflowStoreStub) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	for _, wf := range s.workflows {
		if wf.Name == name && wf.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *workflowStoreStub) Create(ctx context.Context, wf *models.ApprovalWorkflow) error {
	copied := *wf
	s.workflows[wf.ID] = &copied
	return nil
}

func (s *workflowStoreStub) Update(ctx context.Context, wf *models.ApprovalWorkflow) error {
	copied := *wf
	s.workflows[wf.ID] = &copied
	return nil
}

func (s *workflowStoreStub) SetActive(ctx context.Context, id, modelType string) error {
	for _, wf := range s.workflows {
		if wf.ModelType == modelType {
			wf.IsActive = wf.ID == id
		}
	}
	s.activatedID = id
	return nil
}

func (s *workflowStoreStub) Deactivate(ctx context.Context, id string) error {
	if wf, ok := s.workflows[id]; ok {
		wf.IsActive = false
	}
	s.deactivatedID = id
	return nil
}

func (s *workflowStoreStub) SoftDelete(ctx context.Context, id string) error {
	delete(s.workflows, id)
	s.deletedID = id
	return nil
}

type actionLedgerStub struct {
	actions []models.ApprovalAction
}

func (s *actionLedgerStub) ListAllActions(ctx context.Context, maxRows int) ([]models.ApprovalAction, error) {
	if maxRows < len(s.actions) {
		return s.actions[:maxRows], nil
	}
	return s.actions, nil
}

func programRegistry() *ApprovableRegistry {
	registry := NewApprovableRegistry()
	registry.Register("program", &approvableStub{})
	return registry
}

func validWorkflowInput() WorkflowInput {
	return WorkflowInput{
		Name:      "program review",
		ModelType: "program",
		Steps: []StepInput{
			{
				StepOrder:           1,
				Name:                "site review",
				StepType:            models.StepSequential,
				StepPurpose:         models.PurposeApproval,
				ApproverType:        models.ApproverRole,
				ApproverIdentifiers: []string{"SITE_ADMIN"},
				RequiredApprovals:   1,
			},
			{
				StepOrder:           2,
				Name:                "finance sign-off",
				StepType:            models.StepParallel,
				StepPurpose:         models.PurposeApproval,
				ApproverType:        models.ApproverRole,
				ApproverIdentifiers: []string{"FINANCE"},
				RequiredApprovals:   2,
			},
		},
	}
}

func TestWorkflowServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates inactive with sorted steps", func(t *testing.T) {
		store := newWorkflowStoreStub()
		svc := NewWorkflowService(store, &actionLedgerStub{}, programRegistry(), 0, nil, nil)

		input := validWorkflowInput()
		input.Steps[0], input.Steps[1] = input.Steps[1], input.Steps[0]

		wf, err := svc.Create(ctx, input)
		require.NoError(t, err)
		assert.False(t, wf.IsActive)
		require.Len(t, wf.Steps, 2)
		assert.Equal(t, 1, wf.Steps[0].StepOrder)
		assert.Equal(t, "site review", wf.Steps[0].Name)
		assert.Equal(t, wf.ID, wf.Steps[0].WorkflowID)
	})

	t.Run("rejects unknown model type", func(t *testing.T) {
		svc := NewWorkflowService(newWorkflowStoreStub(), &actionLedgerStub{}, programRegistry(), 0, nil, nil)
		input := validWorkflowInput()
		input.ModelType = "shipment"
		_, err := svc.Create(ctx, input)
		assert.Error(t, err)
	})

	t.Run("rejects non-contiguous step orders", func(t *testing.T) {
		svc := NewWorkflowService(newWorkflowStoreStub(), &actionLedgerStub{}, programRegistry(), 0, nil, nil)
		input := validWorkflowInput()
		input.Steps[1].StepOrder = 5
		_, err := svc.Create(ctx, input)
		assert.Error(t, err)
	})

	t.Run("rejects duplicate step orders", func(t *testing.T) {
		svc := NewWorkflowService(newWorkflowStoreStub(), &actionLedgerStub{}, programRegistry(), 0, nil, nil)
		input := validWorkflowInput()
		input.Steps[1].StepOrder = 1
		_, err := svc.Create(ctx, input)
		assert.Error(t, err)
	})

	t.Run("rejects malformed payload", func(t *testing.T) {
		svc := NewWorkflowService(newWorkflowStoreStub(), &actionLedgerStub{}, programRegistry(), 0, nil, nil)

		input := validWorkflowInput()
		input.Name = "ab"
		_, err := svc.Create(ctx, input)
		assert.Error(t, err)

		input = validWorkflowInput()
		input.Steps = nil
		_, err = svc.Create(ctx, input)
		assert.Error(t, err)

		input = validWorkflowInput()
		input.Steps[0].ApproverType = "committee"
		_, err = svc.Create(ctx, input)
		assert.Error(t, err)
	})

	t.Run("rejects duplicate name", func(t *testing.T) {
		store := newWorkflowStoreStub()
		svc := NewWorkflowService(store, &actionLedgerStub{}, programRegistry(), 0, nil, nil)
		_, err := svc.Create(ctx, validWorkflowInput())
		require.NoError(t, err)
		_, err = svc.Create(ctx, validWorkflowInput())
		assert.Error(t, err)
	})
}

func TestWorkflowServiceUpdate(t *testing.T) {
	ctx := context.Background()
	store := newWorkflowStoreStub()
	svc := NewWorkflowService(store, &actionLedgerStub{}, programRegistry(), 0, nil, nil)

	wf, err := svc.Create(ctx, validWorkflowInput())
	require.NoError(t, err)
	require.NoError(t, svc.Activate(ctx, wf.ID))

	// an active workflow is immutable until deactivated
	input := validWorkflowInput()
	input.Description = "tightened thresholds"
	_, err = svc.Update(ctx, wf.ID, input)
	require.Error(t, err)

	require.NoError(t, svc.Deactivate(ctx, wf.ID))
	updated, err := svc.Update(ctx, wf.ID, input)
	require.NoError(t, err)
	assert.Equal(t, "tightened thresholds", updated.Description)
	assert.False(t, updated.IsActive)
}

func TestWorkflowServiceActivation(t *testing.T) {
	ctx := context.Background()
	store := newWorkflowStoreStub()
	svc := NewWorkflowService(store, &actionLedgerStub{}, programRegistry(), 0, nil, nil)

	first, err := svc.Create(ctx, validWorkflowInput())
	require.NoError(t, err)

	secondInput := validWorkflowInput()
	secondInput.Name = "program review v2"
	second, err := svc.Create(ctx, secondInput)
	require.NoError(t, err)

	require.NoError(t, svc.Activate(ctx, first.ID))
	assert.True(t, store.workflows[first.ID].IsActive)

	// activating the sibling deactivates the first
	require.NoError(t, svc.Activate(ctx, second.ID))
	assert.False(t, store.workflows[first.ID].IsActive)
	assert.True(t, store.workflows[second.ID].IsActive)

	// active workflows cannot be deleted
	err = svc.Delete(ctx, second.ID)
	require.Error(t, err)

	require.NoError(t, svc.Deactivate(ctx, second.ID))
	require.NoError(t, svc.Delete(ctx, second.ID))
	_, err = svc.Get(ctx, second.ID)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestWorkflowServiceDuplicate(t *testing.T) {
	ctx := context.Background()
	store := newWorkflowStoreStub()
	svc := NewWorkflowService(store, &actionLedgerStub{}, programRegistry(), 0, nil, nil)

	src, err := svc.Create(ctx, validWorkflowInput())
	require.NoError(t, err)
	require.NoError(t, svc.Activate(ctx, src.ID))

	clone, err := svc.Duplicate(ctx, src.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "program review (copy)", clone.Name)
	assert.False(t, clone.IsActive)
	require.Len(t, clone.Steps, len(src.Steps))
	for i := range clone.Steps {
		assert.NotEqual(t, src.Steps[i].ID, clone.Steps[i].ID)
		assert.Equal(t, clone.ID, clone.Steps[i].WorkflowID)
		assert.Equal(t, src.Steps[i].Name, clone.Steps[i].Name)
	}

	_, err = svc.Duplicate(ctx, src.ID, clone.Name)
	assert.Error(t, err)
}

func TestWorkflowServiceExportActionLedger(t *testing.T) {
	ctx := context.Background()
	comment := "approved with reservations"
	stepID := "s1"
	ledger := &actionLedgerStub{actions: []models.ApprovalAction{
		{ID: "a1", InstanceID: "i1", StepID: &stepID, ActorID: "u1", ActionType: models.ActionApprove, Comments: &comment},
		{ID: "a2", InstanceID: "i1", StepID: &stepID, ActorID: "u2", ActionType: models.ActionReject},
	}}
	svc := NewWorkflowService(newWorkflowStoreStub(), ledger, programRegistry(), 0, nil, nil)

	data, err := svc.ExportActionLedgerCSV(ctx)
	require.NoError(t, err)

	out := string(data)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "action_type")
	assert.Contains(t, out, "approved with reservations")
	assert.Contains(t, out, "reject")
}
