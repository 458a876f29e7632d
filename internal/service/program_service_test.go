package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrariahq/agraria-api/internal/models"
)

type programStoreStub struct {
	programs map[string]*models.Program
}

func newProgramStoreStub() *programStoreStub {
	return &programStoreStub{programs: make(map[string]*models.Program)}
}

func (s *programStoreStub) List(ctx context.Context, filter models.ProgramFilter) ([]models.Program, int, error) {
	var out []models.Program
	for _, p := range s.programs {
		out = append(out, *p)
	}
	return out, len(out), nil
}

func (s *programStoreStub) FindByID(ctx context.Context, id string) (*models.Program, error) {
	if p, ok := s.programs[id]; ok {
		copied := *p
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *programStoreStub) ExistsByCode(ctx context.Context, siteID, code, excludeID string) (bool, error) {
	for _, p := range s.programs {
		if p.SiteID == siteID && p.Code == code && p.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (s *programStoreStub) Create(ctx context.Context, program *models.Program) error {
	copied := *program
	s.programs[program.ID] = &copied
	return nil
}

func (s *programStoreStub) Update(ctx context.Context, program *models.Program) error {
	copied := *program
	s.programs[program.ID] = &copied
	return nil
}

func (s *programStoreStub) SetActive(ctx context.Context, id string, active bool) error {
	if p, ok := s.programs[id]; ok {
		p.IsActive = active
		return nil
	}
	return sql.ErrNoRows
}

func (s *programStoreStub) Delete(ctx context.Context, id string) error {
	delete(s.programs, id)
	return nil
}

type approvalStarterStub struct {
	initErr     error
	initialized []string
	submitted   []string
	open        map[string]*models.ApprovalInstance
}

func (s *approvalStarterStub) Initialize(ctx context.Context, approvableType, approvableID, submitterID string) (*models.ApprovalInstance, error) {
	if s.initErr != nil {
		return nil, s.initErr
	}
	s.initialized = append(s.initialized, approvableID)
	inst := &models.ApprovalInstance{
		ID:             "inst-" + approvableID,
		ApprovableType: approvableType,
		ApprovableID:   approvableID,
		Status:         models.StatusPending,
		SubmittedBy:    submitterID,
	}
	if s.open == nil {
		s.open = make(map[string]*models.ApprovalInstance)
	}
	s.open[approvableID] = inst
	return inst, nil
}

func (s *approvalStarterStub) Submit(ctx context.Context, instanceID, actorID string) (bool, error) {
	s.submitted = append(s.submitted, instanceID)
	return true, nil
}

func (s *approvalStarterStub) InstanceForApprovable(ctx context.Context, approvableType, approvableID string) (*models.ApprovalInstance, error) {
	if inst, ok := s.open[approvableID]; ok {
		return inst, nil
	}
	return nil, nil
}

func programInput() ProgramInput {
	return ProgramInput{
		SiteID:       "f0b9c1d2-0000-0000-0000-000000000001",
		FiscalYearID: "f0b9c1d2-0000-0000-0000-000000000002",
		Code:         "AGR-001",
		Title:        "Drought resistant maize",
		BudgetCents:  12_500_00,
	}
}

func TestProgramServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("created inactive and routed through approval", func(t *testing.T) {
		store := newProgramStoreStub()
		engine := &approvalStarterStub{}
		svc := NewProgramService(store, engine, nil, 0, nil, nil)

		program, inst, err := svc.Create(ctx, programInput(), "creator")
		require.NoError(t, err)
		require.NotNil(t, inst)
		assert.False(t, program.IsActive)
		assert.False(t, store.programs[program.ID].IsActive)
		assert.Equal(t, []string{program.ID}, engine.initialized)
		assert.Equal(t, []string{inst.ID}, engine.submitted)
	})

	t.Run("no workflow activates directly", func(t *testing.T) {
		store := newProgramStoreStub()
		engine := &approvalStarterStub{initErr: ErrNoActiveWorkflow}
		svc := NewProgramService(store, engine, nil, 0, nil, nil)

		program, inst, err := svc.Create(ctx, programInput(), "creator")
		require.NoError(t, err)
		assert.Nil(t, inst)
		assert.True(t, program.IsActive)
		assert.True(t, store.programs[program.ID].IsActive)
		assert.Empty(t, engine.submitted)
	})

	t.Run("engine failure propagates", func(t *testing.T) {
		store := newProgramStoreStub()
		engine := &approvalStarterStub{initErr: errors.New("registry misconfigured")}
		svc := NewProgramService(store, engine, nil, 0, nil, nil)

		_, _, err := svc.Create(ctx, programInput(), "creator")
		assert.Error(t, err)
	})

	t.Run("invalid payload refused", func(t *testing.T) {
		store := newProgramStoreStub()
		engine := &approvalStarterStub{}
		svc := NewProgramService(store, engine, nil, 0, nil, nil)

		input := ProgramInput{BudgetCents: -5}
		_, _, err := svc.Create(ctx, input, "creator")
		require.Error(t, err)
		assert.Empty(t, store.programs)
		assert.Empty(t, engine.initialized)

		input = programInput()
		input.SiteID = "not-a-uuid"
		_, _, err = svc.Create(ctx, input, "creator")
		assert.Error(t, err)
	})

	t.Run("duplicate code within site refused", func(t *testing.T) {
		store := newProgramStoreStub()
		engine := &approvalStarterStub{initErr: ErrNoActiveWorkflow}
		svc := NewProgramService(store, engine, nil, 0, nil, nil)

		_, _, err := svc.Create(ctx, programInput(), "creator")
		require.NoError(t, err)
		_, _, err = svc.Create(ctx, programInput(), "creator")
		assert.Error(t, err)
	})
}

func TestProgramServiceLifecycleHandler(t *testing.T) {
	ctx := context.Background()
	store := newProgramStoreStub()
	engine := &approvalStarterStub{}
	svc := NewProgramService(store, engine, nil, 0, nil, nil)

	program, _, err := svc.Create(ctx, programInput(), "creator")
	require.NoError(t, err)

	handler := svc.ApprovableHandler()

	snapshot, err := handler.Snapshot(ctx, program.ID)
	require.NoError(t, err)
	assert.Equal(t, program.Code, snapshot["code"])

	require.NoError(t, handler.OnApproved(ctx, program.ID))
	assert.True(t, store.programs[program.ID].IsActive)

	require.NoError(t, handler.OnRejected(ctx, program.ID))
	assert.False(t, store.programs[program.ID].IsActive)

	// changes requested leaves activation untouched
	store.programs[program.ID].IsActive = true
	require.NoError(t, handler.OnChangesRequested(ctx, program.ID))
	assert.True(t, store.programs[program.ID].IsActive)
}

func TestProgramServiceDelete(t *testing.T) {
	ctx := context.Background()
	store := newProgramStoreStub()
	engine := &approvalStarterStub{}
	svc := NewProgramService(store, engine, nil, 0, nil, nil)

	program, inst, err := svc.Create(ctx, programInput(), "creator")
	require.NoError(t, err)
	require.NotNil(t, inst)

	// open approval blocks deletion
	err = svc.Delete(ctx, program.ID)
	require.Error(t, err)

	delete(engine.open, program.ID)
	require.NoError(t, svc.Delete(ctx, program.ID))
	_, _, err = svc.Get(ctx, program.ID)
	assert.Error(t, err)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "0.00", formatCents(0))
	assert.Equal(t, "12.34", formatCents(1234))
	assert.Equal(t, "1250.00", formatCents(125000))
	assert.Equal(t, "-3.05", formatCents(-305))
}
