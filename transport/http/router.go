package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RouterOptions struct {
	ControlToken string
	Metrics      http.Handler
	Logger       logrus.FieldLogger
}

// SetupRouter sets up the Gin router
func SetupRouter(agent Agent, opts RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if opts.Logger != nil {
		router.Use(LoggerMiddleware(opts.Logger))
	}

	// Create handlers
	handlers := NewSessionHandlers(agent)

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	// Read-only routes
	session := router.Group("/session")
	{
		session.GET("", handlers.Status)
		session.GET("/events", handlers.Events)
	}

	// Protected routes
	control := router.Group("")
	control.Use(ControlAuthMiddleware(opts.ControlToken))
	{
		control.GET("/session/token", handlers.Token)
		control.POST("/session/login", handlers.Login)
		control.POST("/session/refresh", handlers.Refresh)
		control.POST("/session/logout", handlers.Logout)
		control.POST("/session/check-storage", handlers.CheckStorage)
		control.PUT("/signals/:name", handlers.SetSignal)
	}

	return router
}
