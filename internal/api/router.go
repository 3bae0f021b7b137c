package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/timmy/scrapedeck/internal/api/handler"
	"github.com/timmy/scrapedeck/internal/api/middleware"
	"github.com/timmy/scrapedeck/internal/logger"
	"github.com/timmy/scrapedeck/internal/service"
)

// RouterConfig bundles the dependencies the HTTP surface needs.
type RouterConfig struct {
	Sessions  *service.SessionService
	Progress  *service.ProgressService
	Analytics *service.AnalyticsService
	Provider  service.ProviderAPI
	DB        *gorm.DB
	Logger    *logger.Logger
	Mode      string
	APIKey    string
	CORS      middleware.CORSConfig
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(cfg RouterConfig) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(cfg.DB)
	sessionHandler := handler.NewSessionHandler(cfg.Sessions, cfg.Progress)
	analyticsHandler := handler.NewAnalyticsHandler(cfg.Analytics)
	projectHandler := handler.NewProjectHandler(cfg.Provider)

	// Health check stays unauthenticated for load balancer probes
	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	v1.Use(middleware.BearerAuth(cfg.APIKey))
	{
		// Sessions
		v1.POST("/sessions", sessionHandler.Create)
		v1.GET("/sessions", sessionHandler.List)
		v1.GET("/sessions/:id", sessionHandler.Get)
		v1.GET("/sessions/:id/progress", sessionHandler.Progress)
		v1.POST("/sessions/:id/cancel", sessionHandler.Cancel)
		v1.GET("/sessions/:id/data", sessionHandler.Data)
		v1.GET("/sessions/:id/statistics", analyticsHandler.Statistics)
		v1.GET("/sessions/:id/columns/:column", analyticsHandler.Column)

		// Provider projects
		v1.GET("/projects", projectHandler.List)
		v1.GET("/projects/:token", projectHandler.Get)
	}

	return r
}
