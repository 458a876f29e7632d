package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agrariahq/agraria-api/internal/models"
	"github.com/agrariahq/agraria-api/internal/service"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
	"github.com/agrariahq/agraria-api/pkg/response"
)

// ActionRequest is the payload for acting on an approval step.
type ActionRequest struct {
	StepID  string `json:"step_id" binding:"required"`
	Action  string `json:"action" binding:"required,oneof=approve reject request_changes"`
	Comment string `json:"comment"`
}

// ApprovalHandler wires the approval engine to HTTP routes.
type ApprovalHandler struct {
	engine *service.ApprovalEngine
}

// NewApprovalHandler constructs a new ApprovalHandler.
func NewApprovalHandler(engine *service.ApprovalEngine) *ApprovalHandler {
	return &ApprovalHandler{engine: engine}
}

// List godoc
// @Summary List approval instances
// @Tags Approvals
// @Produce json
// @Param status query string false "Filter by status"
// @Param type query string false "Filter by approvable type"
// @Param page query int false "Page number"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /approval-instances [get]
func (h *ApprovalHandler) List(c *gin.Context) {
	filter := models.ApprovalInstanceFilter{
		Status:         models.InstanceStatus(strings.TrimSpace(c.Query("status"))),
		ApprovableType: strings.TrimSpace(c.Query("type")),
		WorkflowID:     strings.TrimSpace(c.Query("workflow_id")),
		SubmittedBy:    strings.TrimSpace(c.Query("submitted_by")),
		SortBy:         c.Query("sort"),
		SortOrder:      c.Query("order"),
	}
	filter.Page, filter.PageSize = parsePaging(c)

	instances, total, err := h.engine.ListInstances(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, instances, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get an approval instance with its action history
// @Tags Approvals
// @Produce json
// @Param id path string true "Instance ID"
// @Success 200 {object} response.Envelope
// @Router /approval-instances/{id} [get]
func (h *ApprovalHandler) Get(c *gin.Context) {
	inst, err := h.engine.Instance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, inst, nil)
}

// PendingForMe godoc
// @Summary List instances awaiting the caller's decision
// @Tags Approvals
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /approval-instances/pending [get]
func (h *ApprovalHandler) PendingForMe(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	instances, err := h.engine.PendingForUser(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, instances, nil)
}

// Act godoc
// @Summary Approve, reject or request changes on the current step
// @Tags Approvals
// @Accept json
// @Produce json
// @Param id path string true "Instance ID"
// @Param payload body ActionRequest true "Action payload"
// @Success 200 {object} response.Envelope
// @Router /approval-instances/{id}/actions [post]
func (h *ApprovalHandler) Act(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid action payload"))
		return
	}

	ok, err := h.engine.ProcessAction(c.Request.Context(), c.Param("id"), req.StepID, models.ActionType(req.Action), claims.UserID, req.Comment)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrActionNotAllowed, "action not allowed for this instance, step or actor"))
		return
	}

	inst, err := h.engine.Instance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, inst, nil)
}

// Submit godoc
// @Summary Submit a pending instance into its first step
// @Tags Approvals
// @Produce json
// @Param id path string true "Instance ID"
// @Success 200 {object} response.Envelope
// @Router /approval-instances/{id}/submit [post]
func (h *ApprovalHandler) Submit(c *gin.Context) {
	h.transition(c, h.engine.Submit, "instance cannot be submitted")
}

// Resubmit godoc
// @Summary Resubmit an instance after requested changes
// @Tags Approvals
// @Produce json
// @Param id path string true "Instance ID"
// @Success 200 {object} response.Envelope
// @Router /approval-instances/{id}/resubmit [post]
func (h *ApprovalHandler) Resubmit(c *gin.Context) {
	h.transition(c, h.engine.Resubmit, "instance cannot be resubmitted")
}

// Cancel godoc
// @Summary Cancel a pending or in-progress instance
// @Tags Approvals
// @Produce json
// @Param id path string true "Instance ID"
// @Success 200 {object} response.Envelope
// @Router /approval-instances/{id}/cancel [post]
func (h *ApprovalHandler) Cancel(c *gin.Context) {
	h.transition(c, h.engine.Cancel, "instance cannot be cancelled")
}

func (h *ApprovalHandler) transition(c *gin.Context, op func(ctx context.Context, instanceID, actorID string) (bool, error), refusal string) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	ok, err := op(c.Request.Context(), c.Param("id"), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !ok {
		response.Error(c, appErrors.Clone(appErrors.ErrActionNotAllowed, refusal))
		return
	}

	inst, err := h.engine.Instance(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, inst, nil)
}
