package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/agrariahq/agraria-api/internal/middleware"
	"github.com/agrariahq/agraria-api/internal/models"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

func parseBoolQuery(c *gin.Context, name string) *bool {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	switch strings.ToLower(raw) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}

func parsePaging(c *gin.Context) (page, size int) {
	page = 1
	size = 20
	if p, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = p
	}
	if s, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil && s > 0 {
		size = s
	}
	return page, size
}

func paginationMeta(page, size, total int) *models.Pagination {
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
