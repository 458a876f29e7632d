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

// SiteHandler wires site services to HTTP routes.
type SiteHandler struct {
	sites *service.SiteService
}

// NewSiteHandler constructs a new SiteHandler.
func NewSiteHandler(sites *service.SiteService) *SiteHandler {
	return &SiteHandler{sites: sites}
}

// List godoc
// @Summary List sites
// @Tags Sites
// @Produce json
// @Param search query string false "Search by code/name"
// @Param active query bool false "Filter by active flag"
// @Success 200 {object} response.Envelope
// @Router /sites [get]
func (h *SiteHandler) List(c *gin.Context) {
	filter := models.SiteFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		Active:    parseBoolQuery(c, "active"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = parsePaging(c)

	sites, total, err := h.sites.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sites, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get site detail
// @Tags Sites
// @Produce json
// @Param id path string true "Site ID"
// @Success 200 {object} response.Envelope
// @Router /sites/{id} [get]
func (h *SiteHandler) Get(c *gin.Context) {
	site, err := h.sites.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, site, nil)
}

// Create godoc
// @Summary Create a site
// @Tags Sites
// @Accept json
// @Produce json
// @Param payload body service.SiteInput true "Site payload"
// @Success 201 {object} response.Envelope
// @Router /sites [post]
func (h *SiteHandler) Create(c *gin.Context) {
	var input service.SiteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid site payload"))
		return
	}
	site, err := h.sites.Create(c.Request.Context(), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, site)
}

// Update godoc
// @Summary Update a site
// @Tags Sites
// @Accept json
// @Produce json
// @Param id path string true "Site ID"
// @Param payload body service.SiteInput true "Site payload"
// @Success 200 {object} response.Envelope
// @Router /sites/{id} [put]
func (h *SiteHandler) Update(c *gin.Context) {
	var input service.SiteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid site payload"))
		return
	}
	site, err := h.sites.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, site, nil)
}

// SetActive godoc
// @Summary Activate or deactivate a site
// @Tags Sites
// @Accept json
// @Produce json
// @Param id path string true "Site ID"
// @Success 204
// @Router /sites/{id}/active [put]
func (h *SiteHandler) SetActive(c *gin.Context) {
	var body struct {
		Active *bool `json:"active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if err := h.sites.SetActive(c.Request.Context(), c.Param("id"), *body.Active); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
