package handler

import (
	"net/http"

	"github.com/SergeiKhy/shortlink/internal/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterDeps всё, что нужно для сборки роутера
type RouterDeps struct {
	Links       *LinkHandler
	Events      *EventsHandler
	Health      *HealthHandler
	RateLimiter *middleware.RateLimiter
	Auth        gin.HandlerFunc
	Media       http.FileSystem // nil отключает /media
	Logger      *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(deps.Logger))

	// Rate limiting для всех запросов
	router.Use(deps.RateLimiter.Middleware())

	// API v.1
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", deps.Health.HealthCheck)

		authed := v1.Group("")
		authed.Use(deps.Auth)

		authed.POST("/links", deps.Links.CreateLink)
		authed.GET("/links", deps.Links.ListLinks)
		authed.GET("/links/events", deps.Events.Stream)
		authed.GET("/links/:code", deps.Links.GetLink)
		authed.PATCH("/links/:code", deps.Links.UpdateLink)
		authed.DELETE("/links/:code", deps.Links.DeleteLink)
		authed.DELETE("/me", deps.Links.DeleteOwner)
	}

	router.GET("/ws/links", deps.Events.WebSocket)

	if deps.Media != nil {
		router.StaticFS("/media", deps.Media)
	}

	// Редирект (корневой путь) - без аутентификации
	router.GET("/:code", deps.Links.Redirect)

	return router
}
