package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/agrariahq/agraria-api/internal/models"
	"github.com/agrariahq/agraria-api/internal/service"
)

type workflowStoreMock struct {
	source  *models.ApprovalWorkflow
	created *models.ApprovalWorkflow
}

func (m *workflowStoreMock) List(ctx context.Context, filter models.ApprovalWorkflowFilter) ([]models.ApprovalWorkflow, int, error) {
	return nil, 0, nil
}

func (m *workflowStoreMock) FindByID(ctx context.Context, id string) (*models.ApprovalWorkflow, error) {
	return m.source, nil
}

func (m *workflowStoreMock) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	return false, nil
}

func (m *workflowStoreMock) Create(ctx context.Context, wf *models.ApprovalWorkflow) error {
	m.created = wf
	return nil
}

func (m *workflowStoreMock) Update(ctx context.Context, wf *models.ApprovalWorkflow) error {
	return nil
}

func (m *workflowStoreMock) SetActive(ctx context.Context, id, modelType string) error {
	return nil
}

func (m *workflowStoreMock) Deactivate(ctx context.Context, id string) error {
	return nil
}

func (m *workflowStoreMock) SoftDelete(ctx context.Context, id string) error {
	return nil
}

func newWorkflowHandlerFixture() (*WorkflowHandler, *workflowStoreMock) {
	store := &workflowStoreMock{
		source: &models.ApprovalWorkflow{
			ID:        "wf-1",
			Name:      "Budget review",
			ModelType: "program",
		},
	}
	svc := service.NewWorkflowService(store, nil, nil, 0, nil, nil)
	return NewWorkflowHandler(svc), store
}

func TestWorkflowHandlerDuplicateRejectsMalformedBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, store := newWorkflowHandlerFixture()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/workflows/wf-1/duplicate", strings.NewReader(`{"name":`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}}

	handler.Duplicate(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "VALIDATION_ERROR")
	require.Nil(t, store.created)
}

func TestWorkflowHandlerDuplicateAllowsEmptyBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, store := newWorkflowHandlerFixture()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/workflows/wf-1/duplicate", nil)
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}}

	handler.Duplicate(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, store.created)
	require.Equal(t, "Budget review (copy)", store.created.Name)
	require.False(t, store.created.IsActive)
}

func TestWorkflowHandlerDuplicateUsesProvidedName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler, store := newWorkflowHandlerFixture()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/workflows/wf-1/duplicate", strings.NewReader(`{"name":"Budget review v2"}`))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "wf-1"}}

	handler.Duplicate(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, store.created)
	require.Equal(t, "Budget review v2", store.created.Name)
}
