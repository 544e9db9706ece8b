package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nulzo/chat-gateway/internal/server/middleware"
	v1 "github.com/nulzo/chat-gateway/internal/server/v1"
)

const serviceName = "chat-gateway"

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler(serviceName)
	s.router.GET("/health", healthHandler.Health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger)

	api := s.router.Group("/v1")
	api.Use(limiter.Middleware())
	api.Use(middleware.Auth(s.config.Server.APIKeys))
	api.Use(middleware.Identity())
	{
		chatHandler := v1.NewChatHandler(s.deps.Agent, s.deps.Ingestor, s.logger.Named("chat"))
		api.POST("/chat/completions", chatHandler.CreateCompletion)

		modelsHandler := v1.NewModelHandler(s.deps.Agent)
		api.GET("/models", modelsHandler.ListModels)
	}

	admin := s.router.Group("/v1/admin")
	admin.Use(middleware.Admin(s.config.Server.AdminKeys))
	{
		tokens := v1.NewTokenHandler(s.deps.Agent, s.deps.Repo, s.logger.Named("admin"))
		admin.GET("/tokens", tokens.List)
		admin.POST("/tokens", tokens.Put)
		admin.GET("/tokens/:supplier/:id", tokens.Get)
		admin.DELETE("/tokens/:supplier/:id", tokens.Delete)

		usage := v1.NewAnalyticsHandler(s.deps.Analytics)
		admin.GET("/usage", usage.GetUsage)
		admin.GET("/requests", usage.GetRecent)
	}
}
