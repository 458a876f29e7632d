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

// AccountHandler wires chart-of-accounts services to HTTP routes.
type AccountHandler struct {
	accounts *service.AccountService
}

// NewAccountHandler constructs a new AccountHandler.
func NewAccountHandler(accounts *service.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// List godoc
// @Summary List chart-of-accounts entries
// @Tags Accounts
// @Produce json
// @Param site_id query string false "Filter by site"
// @Param type query string false "Filter by account type"
// @Param active query bool false "Filter by active flag"
// @Success 200 {object} response.Envelope
// @Router /accounts [get]
func (h *AccountHandler) List(c *gin.Context) {
	filter := models.AccountFilter{
		SiteID:    strings.TrimSpace(c.Query("site_id")),
		Type:      models.AccountType(strings.ToUpper(strings.TrimSpace(c.Query("type")))),
		Search:    strings.TrimSpace(c.Query("search")),
		IsActive:  parseBoolQuery(c, "active"),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}
	filter.Page, filter.PageSize = parsePaging(c)

	accounts, total, err := h.accounts.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, accounts, paginationMeta(filter.Page, filter.PageSize, total))
}

// Get godoc
// @Summary Get an account with its active approval instance
// @Tags Accounts
// @Produce json
// @Param id path string true "Account ID"
// @Success 200 {object} response.Envelope
// @Router /accounts/{id} [get]
func (h *AccountHandler) Get(c *gin.Context) {
	account, inst, err := h.accounts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"account": account, "approval": inst}, nil)
}

// Create godoc
// @Summary Create an account and submit it for approval
// @Tags Accounts
// @Accept json
// @Produce json
// @Param payload body service.AccountInput true "Account payload"
// @Success 201 {object} response.Envelope
// @Router /accounts [post]
func (h *AccountHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var input service.AccountInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid account payload"))
		return
	}

	account, inst, err := h.accounts.Create(c.Request.Context(), input, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"account": account, "approval": inst})
}

// Update godoc
// @Summary Update an account's descriptive fields
// @Tags Accounts
// @Accept json
// @Produce json
// @Param id path string true "Account ID"
// @Param payload body service.AccountInput true "Account payload"
// @Success 200 {object} response.Envelope
// @Router /accounts/{id} [put]
func (h *AccountHandler) Update(c *gin.Context) {
	var input service.AccountInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid account payload"))
		return
	}
	account, err := h.accounts.Update(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, account, nil)
}

// Delete godoc
// @Summary Delete an account
// @Tags Accounts
// @Produce json
// @Param id path string true "Account ID"
// @Success 204
// @Router /accounts/{id} [delete]
func (h *AccountHandler) Delete(c *gin.Context) {
	if err := h.accounts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
