package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/timmy/scrapedeck/internal/domain"
	"github.com/timmy/scrapedeck/internal/service"
)

// SessionHandler handles scraping session endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	progress *service.ProgressService
}

// NewSessionHandler creates a new session handler.
// Parameters:
//   - sessions: session service instance.
//   - progress: progress service instance.
//
// Returns:
//   - *SessionHandler: initialized handler.
func NewSessionHandler(sessions *service.SessionService, progress *service.ProgressService) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		progress: progress,
	}
}

// Create handles POST /api/v1/sessions.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *SessionHandler) Create(c *gin.Context) {
	var req service.CreateSessionInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	session, err := h.sessions.Create(c.Request.Context(), req)
	if err != nil {
		var verr *service.ValidationError
		if errors.As(err, &verr) || errors.Is(err, domain.ErrInvalidPlan) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create session: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// List handles GET /api/v1/sessions.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *SessionHandler) List(c *gin.Context) {
	status := domain.SessionStatus(c.Query("status"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	sessions, err := h.sessions.List(c.Request.Context(), status, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list sessions: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

// Get handles GET /api/v1/sessions/:id.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load session: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, session)
}

// Progress handles GET /api/v1/sessions/:id/progress.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *SessionHandler) Progress(c *gin.Context) {
	report, err := h.progress.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to build progress report: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

// Cancel handles POST /api/v1/sessions/:id/cancel.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *SessionHandler) Cancel(c *gin.Context) {
	session, err := h.sessions.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel session: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, session)
}

// Data handles GET /api/v1/sessions/:id/data.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes CSV or JSON response).
func (h *SessionHandler) Data(c *gin.Context) {
	id := c.Param("id")
	records, err := h.sessions.Data(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load session data: " + err.Error(),
		})
		return
	}

	switch c.DefaultQuery("format", "json") {
	case "csv":
		data, err := service.EncodeRecordsCSV(records)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode CSV: " + err.Error(),
			})
			return
		}
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", id))
		c.Data(http.StatusOK, "text/csv", data)
	case "json":
		data, err := service.EncodeRecordsJSON(records)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to encode JSON: " + err.Error(),
			})
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported format, use csv or json"})
	}
}
