package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/scrapedeck/internal/domain"
	"github.com/timmy/scrapedeck/internal/service"
)

// AnalyticsHandler handles session data-quality endpoints.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
}

// NewAnalyticsHandler creates a new analytics handler.
// Parameters:
//   - analytics: analytics service instance.
//
// Returns:
//   - *AnalyticsHandler: initialized handler.
func NewAnalyticsHandler(analytics *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// Statistics handles GET /api/v1/sessions/:id/statistics.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AnalyticsHandler) Statistics(c *gin.Context) {
	report, err := h.analytics.FieldCompletion(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to build statistics: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// Column handles GET /api/v1/sessions/:id/columns/:column.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *AnalyticsHandler) Column(c *gin.Context) {
	column := c.Param("column")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	values, err := h.analytics.ColumnValues(c.Request.Context(), c.Param("id"), column, limit)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load column values: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"column": column,
		"values": values,
		"count":  len(values),
	})
}
