package api

import (
	"Chimp/backend/go/pkg/httpmiddleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all the routes for the serving service.
func RegisterRoutes(router *gin.Engine, api *API, jwtSecret string) {
	router.GET("/ping", api.PingHandler)

	protected := router.Group("/")
	if jwtSecret != "" {
		protected.Use(httpmiddleware.JWTAuth(jwtSecret))
	}
	{
		protected.POST("/model/:name/infer", api.InferHandler)
		protected.POST("/invocations", api.InvocationsHandler)
		protected.POST("/models/refresh", api.RefreshHandler)
	}
}
