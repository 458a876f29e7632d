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

// RevenueHandler wires revenue services to HTTP routes.
type RevenueHandler struct {
	revenues *service.RevenueService
}

// NewRevenueHandler constructs a new RevenueHandler.
func NewRevenueHandler(revenues *service.RevenueService) *RevenueHandler {
	return &RevenueHandler{revenues: revenues}
}

func revenueFilterFromQuery(c *gin.Context) models.RevenueFilter {
	filter := models.RevenueFilter{
		SiteID:       strings.TrimSpace(c.Query("site_id")),
		FiscalYearID: strings.TrimSpace(c.Query("fiscal_year_id")),
		AccountID:    strings.TrimSpace(c.Query("account_id")),
		ProgramID:    strings.TrimSpace(c.Query("program_id")),
		Search:       strings.TrimSpace(c.Query("search")),
		SortBy:       c.Query("sort"),
		SortOrder:    c.Query("order"),
	}
	if from, err := time.Parse("2006-01-02", c.Query("from")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse("2006-01-02", c.Query("to")); err == nil {
		filter.To = &to
	}
	filter.Page, filter.PageSize = parsePaging(c)
	return filter
}

// List godoc
// @Summary List revenue postings
// @Tags Revenues
// @Produce json
// @Param site_id query string false "Filter by site"
// @Param fiscal_year_id query string false "Filter by fiscal year"
// @Param from query string false "Received from date (YYYY-MM-DD)"
// @Param to query string false "Received to date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /revenues [get]
func (h *RevenueHandler) List(c *gin.Context) {
	filter := revenueFilterFromQuery(c)
	revenues, total, err := h.revenues.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, revenues, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get revenue detail
// @Tags Revenues
// @Produce json
// @Param id path string true "Revenue ID"
// @Success 200 {object} response.Envelope
// @Router /revenues/{id} [get]
func (h *RevenueHandler) Get(c *gin.Context) {
	revenue, err := h.revenues.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, revenue, nil)
}

// Create godoc
// @Summary Record a revenue posting
// @Tags Revenues
// @Accept json
// @Produce json
// @Param payload body service.RevenueInput true "Revenue payload"
// @Success 201 {object} response.Envelope
// @Router /revenues [post]
func (h *RevenueHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var input service.RevenueInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid revenue payload"))
		return
	}

	revenue, err := h.revenues.Create(c.Request.Context(), input, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, revenue)
}

// Update godoc
// @Summary Update a revenue posting
// @Tags Revenues
// @Accept json
// @Produce json
// @Param id path string true "Revenue ID"
// @Param payload body service.RevenueInput true "Revenue payload"
// @Success 200 {object} response.Envelope
// @Router /revenues/{id} [put]
func (h *RevenueHandler) Update(c *gin.Context) {
	var input service.RevenueInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid revenue payload"))
		return
	}
	revenue, err := h.revenues.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, revenue, nil)
}

// Delete godoc
// @Summary Delete a revenue posting
// @Tags Revenues
// @Produce json
// @Param id path string true "Revenue ID"
// @Success 204
// @Router /revenues/{id} [delete]
func (h *RevenueHandler) Delete(c *gin.Context) {
	if err := h.revenues.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportCSV godoc
// @Summary Export the filtered revenue register as CSV
// @Tags Revenues
// @Produce text/csv
// @Success 200 {file} file
// @Router /revenues/export.csv [get]
func (h *RevenueHandler) ExportCSV(c *gin.Context) {
	data, err := h.revenues.ExportCSV(c.Request.Context(), revenueFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := "revenues-" + time.Now().UTC().Format("20060102") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", data)
}

// TotalForFiscalYear godoc
// @Summary Total recorded revenue for a fiscal year
// @Tags Revenues
// @Produce json
// @Param id path string true "Fiscal year ID"
// @Success 200 {object} response.Envelope
// @Router /fiscal-years/{id}/revenue-total [get]
func (h *RevenueHandler) TotalForFiscalYear(c *gin.Context) {
	total, err := h.revenues.TotalForFiscalYear(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"fiscal_year_id": c.Param("id"), "total_cents": total}, nil)
}
