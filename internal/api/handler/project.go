package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/scrapedeck/internal/provider"
	"github.com/timmy/scrapedeck/internal/service"
)

// ProjectHandler proxies provider project listings so the dashboard can offer
// a project picker without holding provider credentials.
type ProjectHandler struct {
	provider service.ProviderAPI
}

// NewProjectHandler creates a new project handler.
// Parameters:
//   - providerAPI: provider client instance.
//
// Returns:
//   - *ProjectHandler: initialized handler.
func NewProjectHandler(providerAPI service.ProviderAPI) *ProjectHandler {
	return &ProjectHandler{provider: providerAPI}
}

// List handles GET /api/v1/projects.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *ProjectHandler) List(c *gin.Context) {
	projects, err := h.provider.ListProjects(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to list provider projects: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"projects": projects,
		"count":    len(projects),
	})
}

// Get handles GET /api/v1/projects/:token.
// Parameters:
//   - c: Gin request context.
//
// Returns: none (writes JSON response).
func (h *ProjectHandler) Get(c *gin.Context) {
	project, err := h.provider.GetProject(c.Request.Context(), c.Param("token"))
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) && perr.Type == provider.ErrorTypeNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Failed to load provider project: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, project)
}
