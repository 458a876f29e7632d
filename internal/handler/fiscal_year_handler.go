package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agrariahq/agraria-api/internal/models"
	"github.com/agrariahq/agraria-api/internal/service"
	appErrors "github.com/agrariahq/agraria-api/pkg/errors"
	"github.com/agrariahq/agraria-api/pkg/response"
)

// FiscalYearHandler wires fiscal year services to HTTP routes.
type FiscalYearHandler struct {
	years *service.FiscalYearService
}

// NewFiscalYearHandler constructs a new FiscalYearHandler.
func NewFiscalYearHandler(years *service.FiscalYearService) *FiscalYearHandler {
	return &FiscalYearHandler{years: years}
}

// List godoc
// @Summary List fiscal years
// @Tags FiscalYears
// @Produce json
// @Param site_id query string false "Filter by site"
// @Param active query bool false "Filter by active flag"
// @Success 200 {object} response.Envelope
// @Router /fiscal-years [get]
func (h *FiscalYearHandler) List(c *gin.Context) {
	filter := models.FiscalYearFilter{
		SiteID:    strings.TrimSpace(c.Query("site_id")),
		IsActive:  parseBoolQuery(c, "active"),
		Closed:    parseBoolQuery(c, "closed"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = parsePaging(c)

	years, total, err := h.years.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, years, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get fiscal year detail
// @Tags FiscalYears
// @Produce json
// @Param id path string true "Fiscal year ID"
// @Success 200 {object} response.Envelope
// @Router /fiscal-years/{id} [get]
func (h *FiscalYearHandler) Get(c *gin.Context) {
	fy, err := h.years.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fy, nil)
}

// Create godoc
// @Summary Create a fiscal year
// @Tags FiscalYears
// @Accept json
// @Produce json
// @Param payload body service.FiscalYearInput true "Fiscal year payload"
// @Success 201 {object} response.Envelope
// @Router /fiscal-years [post]
func (h *FiscalYearHandler) Create(c *gin.Context) {
	var input service.FiscalYearInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fiscal year payload"))
		return
	}
	fy, err := h.years.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, fy)
}

// Update godoc
// @Summary Update a fiscal year
// @Tags FiscalYears
// @Accept json
// @Produce json
// @Param id path string true "Fiscal year ID"
// @Param payload body service.FiscalYearInput true "Fiscal year payload"
// @Success 200 {object} response.Envelope
// @Router /fiscal-years/{id} [put]
func (h *FiscalYearHandler) Update(c *gin.Context) {
	var input service.FiscalYearInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid fiscal year payload"))
		return
	}
	fy, err := h.years.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, fy, nil)
}

// Activate godoc
// @Summary Make a fiscal year the active period for its site
// @Tags FiscalYears
// @Produce json
// @Param id path string true "Fiscal year ID"
// @Success 204
// @Router /fiscal-years/{id}/activate [put]
func (h *FiscalYearHandler) Activate(c *gin.Context) {
	if err := h.years.Activate(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Close godoc
// @Summary Close a fiscal year
// @Tags FiscalYears
// @Produce json
// @Param id path string true "Fiscal year ID"
// @Success 204
// @Router /fiscal-years/{id}/close [put]
func (h *FiscalYearHandler) Close(c *gin.Context) {
	if err := h.years.Close(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Delete godoc
// @Summary Delete an empty fiscal year
// @Tags FiscalYears
// @Produce json
// @Param id path string true "Fiscal year ID"
// @Success 204
// @Router /fiscal-years/{id} [delete]
func (h *FiscalYearHandler) Delete(c *gin.Context) {
	if err := h.years.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
