package httpapi

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"user-service/internal/auth"
)

const serviceName = "user-service"

// MetricsGatherer supplies collected counter values for the metrics
// route. GET /metrics pulls through it so every scrape runs a real
// collection cycle; nil falls back to the engine's raw snapshot.
type MetricsGatherer interface {
	Gather(ctx context.Context) (map[string]uint64, error)
}

// Server holds handler dependencies.
type Server struct {
	engine   *auth.Engine
	gatherer MetricsGatherer
}

// NewRouter builds the service router.
func NewRouter(engine *auth.Engine, allowOrigins []string, gatherer MetricsGatherer) *gin.Engine {
	s := &Server{engine: engine, gatherer: gatherer}

	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}))

	router.GET("/health", s.health)
	router.GET("/metrics", s.metrics)

	api := router.Group("/auth")
	{
		api.POST("/register", s.register)
		api.POST("/login", s.login)
		api.POST("/refresh", s.refresh)
		api.POST("/logout", s.logout)
	}

	authed := router.Group("/auth")
	authed.Use(s.requireAuth())
	{
		authed.GET("/me", s.me)
		authed.POST("/logout-all", s.logoutAll)
	}

	return router
}
