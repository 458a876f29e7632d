package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agrariahq/agraria-api/internal/models"
	"github.com/agrariahq/agraria-api/internal/service"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
	"github.com/agrariahq/agraria-api/pkg/response"
)

// WorkflowHandler wires workflow administration to HTTP routes.
type WorkflowHandler struct {
	workflows *service.WorkflowService
}

// NewWorkflowHandler constructs a new WorkflowHandler.
func NewWorkflowHandler(workflows *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflows: workflows}
}

// List godoc
// @Summary List workflow definitions
// @Tags Workflows
// @Produce json
// @Param type query string false "Filter by model type"
// @Param active query bool false "Filter by active flag"
// @Success 200 {object} response.Envelope
// @Router /workflows [get]
func (h *WorkflowHandler) List(c *gin.Context) {
	filter := models.ApprovalWorkflowFilter{
		ModelType: strings.TrimSpace(c.Query("type")),
		Search:    strings.TrimSpace(c.Query("search")),
		IsActive:  parseBoolQuery(c, "active"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = parsePaging(c)

	workflows, total, err := h.workflows.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, workflows, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get a workflow with its steps
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 200 {object} response.Envelope
// @Router /workflows/{id} [get]
func (h *WorkflowHandler) Get(c *gin.Context) {
	wf, err := h.workflows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, wf, nil)
}

// Create godoc
// @Summary Create a workflow definition
// @Tags Workflows
// @Accept json
// @Produce json
// @Param payload body service.WorkflowInput true "Workflow payload"
// @Success 201 {object} response.Envelope
// @Router /workflows [post]
func (h *WorkflowHandler) Create(c *gin.Context) {
	var input service.WorkflowInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid workflow payload"))
		return
	}
	wf, err := h.workflows.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, wf)
}

// Update godoc
// @Summary Replace a workflow definition and its steps
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Param payload body service.WorkflowInput true "Workflow payload"
// @Success 200 {object} response.Envelope
// @Router /workflows/{id} [put]
func (h *WorkflowHandler) Update(c *gin.Context) {
	var input service.WorkflowInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid workflow payload"))
		return
	}
	wf, err := h.workflows.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, wf, nil)
}

// Duplicate godoc
// @Summary Duplicate a workflow as an inactive copy
// @Tags Workflows
// @Accept json
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 201 {object} response.Envelope
// @Router /workflows/{id}/duplicate [post]
func (h *WorkflowHandler) Duplicate(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}
	// the body is optional, but when one is sent it has to parse
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid duplicate payload"))
			return
		}
	}

	wf, err := h.workflows.Duplicate(c.Request.Context(), c.Param("id"), body.Name)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, wf)
}

// Activate godoc
// @Summary Activate a workflow for its model type
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 204
// @Router /workflows/{id}/activate [put]
func (h *WorkflowHandler) Activate(c *gin.Context) {
	if err := h.workflows.Activate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Deactivate godoc
// @Summary Deactivate a workflow
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 204
// @Router /workflows/{id}/deactivate [put]
func (h *WorkflowHandler) Deactivate(c *gin.Context) {
	if err := h.workflows.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Soft-delete a workflow
// @Tags Workflows
// @Produce json
// @Param id path string true "Workflow ID"
// @Success 204
// @Router /workflows/{id} [delete]
func (h *WorkflowHandler) Delete(c *gin.Context) {
	if err := h.workflows.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportActions godoc
// @Summary Export the approval action ledger as CSV
// @Tags Workflows
// @Produce text/csv
// @Success 200 {file} file
// @Router /workflows/export/actions.csv [get]
func (h *WorkflowHandler) ExportActions(c *gin.Context) {
	data, err := h.workflows.ExportActionLedgerCSV(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := "approval-actions-" + time.Now().UTC().Format("20060102") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", data)
}
