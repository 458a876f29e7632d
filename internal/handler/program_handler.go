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

// ProgramHandler wires program services to HTTP routes.
type ProgramHandler struct {
	programs *service.ProgramService
}

// NewProgramHandler constructs a new ProgramHandler.
func NewProgramHandler(programs *service.ProgramService) *ProgramHandler {
	return &ProgramHandler{programs: programs}
}

func programFilterFromQuery(c *gin.Context) models.ProgramFilter {
	filter := models.ProgramFilter{
		SiteID:       strings.TrimSpace(c.Query("site_id")),
		FiscalYearID: strings.TrimSpace(c.Query("fiscal_year_id")),
		Search:       strings.TrimSpace(c.Query("search")),
		IsActive:     parseBoolQuery(c, "active"),
		SortBy:       c.Query("sort"),
		SortOrder:    c.Query("order"),
	}
	filter.Page, filter.PageSize = parsePaging(c)
	return filter
}

// List godoc
// @Summary List research programs
// @Tags Programs
// @Produce json
// @Param site_id query string false "Filter by site"
// @Param fiscal_year_id query string false "Filter by fiscal year"
// @Param active query bool false "Filter by active flag"
// @Success 200 {object} response.Envelope
// @Router /programs [get]
func (h *ProgramHandler) List(c *gin.Context) {
	filter := programFilterFromQuery(c)
	programs, total, err := h.programs.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, programs, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get a program with its active approval instance
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 200 {object} response.Envelope
// @Router /programs/{id} [get]
func (h *ProgramHandler) Get(c *gin.Context) {
	program, inst, err := h.programs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"program": program, "approval": inst}, nil)
}

// Create godoc
// @Summary Create a program and submit it for approval
// @Tags Programs
// @Accept json
// @Produce json
// @Param payload body service.ProgramInput true "Program payload"
// @Success 201 {object} response.Envelope
// @Router /programs [post]
func (h *ProgramHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var input service.ProgramInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid program payload"))
		return
	}

	program, inst, err := h.programs.Create(c.Request.Context(), input, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"program": program, "approval": inst})
}

// Update godoc
// @Summary Update a program's descriptive fields
// @Tags Programs
// @Accept json
// @Produce json
// @Param id path string true "Program ID"
// @Param payload body service.ProgramInput true "Program payload"
// @Success 200 {object} response.Envelope
// @Router /programs/{id} [put]
func (h *ProgramHandler) Update(c *gin.Context) {
	var input service.ProgramInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid program payload"))
		return
	}
	program, err := h.programs.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, program, nil)
}

// Delete godoc
// @Summary Delete a program
// @Tags Programs
// @Produce json
// @Param id path string true "Program ID"
// @Success 204
// @Router /programs/{id} [delete]
func (h *ProgramHandler) Delete(c *gin.Context) {
	if err := h.programs.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportBudgetPDF godoc
// @Summary Export program budgets as a PDF report
// @Tags Programs
// @Produce application/pdf
// @Param site_id query string false "Filter by site"
// @Success 200 {file} file
// @Router /programs/export/budget.pdf [get]
func (h *ProgramHandler) ExportBudgetPDF(c *gin.Context) {
	data, err := h.programs.ExportBudgetPDF(c.Request.Context(), programFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := "program-budgets-" + time.Now().UTC().Format("20060102") + ".pdf"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", data)
}
