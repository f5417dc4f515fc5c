package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mealforge/mealforge-backend/internal/handlers"
	"github.com/mealforge/mealforge-backend/internal/middleware"
	"github.com/mealforge/mealforge-backend/internal/pkg/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	AllowedOrigins []string
	PlansHandler   *handlers.PlansHandler
	StreamHandler  *handlers.StreamHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestContext(cfg.Log))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		api.POST("/plans", cfg.PlansHandler.Submit)
		api.GET("/plans/jobs/:id", cfg.PlansHandler.GetJobByID)
		api.GET("/plans/jobs/:id/events", cfg.StreamHandler.Events)
	}

	return router
}
