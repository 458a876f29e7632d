package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agrariahq/agraria-api/internal/service"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
	"github.com/agrariahq/agraria-api/pkg/response"
)

// RoleHandler exposes role and permission administration endpoints.
type RoleHandler struct {
	roles *service.RoleService
}

// NewRoleHandler constructs a new RoleHandler.
func NewRoleHandler(roles *service.RoleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

// List godoc
// @Summary List roles with their permissions
// @Tags Roles
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /roles [get]
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.roles.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles, nil)
}

// Create godoc
// @Summary Create a role
// @Tags Roles
// @Accept json
// @Produce json
// @Param payload body service.RoleInput true "Role payload"
// @Success 201 {object} response.Envelope
// @Router /roles [post]
func (h *RoleHandler) Create(c *gin.Context) {
	var input service.RoleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid role payload"))
		return
	}

	role, err := h.roles.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, role, nil)
}

// SetPermissions godoc
// @Summary Replace a role's permission grants
// @Tags Roles
// @Accept json
// @Produce json
// @Param id path string true "Role ID"
// @Param payload body handler.SetPermissionsRequest true "Permission names"
// @Success 204
// @Router /roles/{id}/permissions [put]
func (h *RoleHandler) SetPermissions(c *gin.Context) {
	var req SetPermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid permissions payload"))
		return
	}

	if err := h.roles.SetPermissions(c.Request.Context(), c.Param("id"), req.Permissions); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetPermissionsRequest carries the full permission set for a role.
type SetPermissionsRequest struct {
	Permissions []string `json:"permissions" binding:"required"`
}
