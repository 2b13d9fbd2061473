package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/classmeet-api/internal/handler"
	"github.com/noah-isme/classmeet-api/internal/middleware"
	"github.com/noah-isme/classmeet-api/internal/service"
	"github.com/noah-isme/classmeet-api/pkg/config"
	"github.com/noah-isme/classmeet-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/classmeet-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/classmeet-api/pkg/middleware/requestid"
)

type routerDeps struct {
	sessions      *handler.SessionHandler
	notifications *handler.NotificationHandler
	metrics       *handler.MetricsHandler
	metricsSvc    *service.MetricsService
}

func newRouter(cfg *config.Config, logr *zap.Logger, deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metricsSvc, "/metrics", "/health", "/ready"))

	r.GET("/health", deps.metrics.Health)
	r.GET("/ready", deps.metrics.Ready)
	r.GET("/metrics", deps.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	sessions := api.Group("/sessions")
	sessions.POST("", deps.sessions.Schedule)
	sessions.GET("", deps.sessions.List)
	sessions.GET("/board", deps.sessions.Board)
	sessions.GET("/:id", deps.sessions.Get)
	sessions.PATCH("/:id", deps.sessions.Edit)
	sessions.POST("/:id/cancel", deps.sessions.Cancel)
	sessions.POST("/:id/start", deps.sessions.Start)
	sessions.POST("/:id/end", deps.sessions.End)
	sessions.POST("/:id/recording", deps.sessions.AttachRecording)
	sessions.PUT("/:id/attendance/:studentId", deps.sessions.MarkAttendance)
	sessions.GET("/:id/attendance/export", deps.sessions.ExportAttendance)

	api.POST("/sweeps", deps.sessions.Sweep)

	api.GET("/notifications", deps.notifications.List)
	api.POST("/notifications/:id/read", deps.notifications.MarkRead)

	api.GET("/metrics/summary", deps.metrics.Summary)

	return r
}
