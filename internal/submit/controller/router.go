package controller

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the submission API on router.
func RegisterRoutes(router gin.IRouter, submit *SubmitController, streams *StreamController, health *HealthController) {
	router.GET("/healthz", health.Live)
	router.GET("/readyz", health.Ready)

	api := router.Group("/api/v1")
	api.POST("/submissions", submit.Create)
	api.GET("/submissions/:id", submit.Get)
	api.GET("/submissions/:id/stream", streams.Events)
	api.GET("/submissions/:id/ws", streams.WebSocket)
	api.GET("/users/:id/score", submit.Score)
}
