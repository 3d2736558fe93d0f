package api

import (
	"Chimp/backend/go/pkg/httpmiddleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all the routes for the training service. When
// jwtSecret is set every route except /ping and /health requires a bearer token.
func RegisterRoutes(router *gin.Engine, api *API, jwtSecret string) {
	router.GET("/ping", api.PingHandler)
	router.GET("/health", api.HealthHandler)

	protected := router.Group("/")
	if jwtSecret != "" {
		protected.Use(httpmiddleware.JWTAuth(jwtSecret))
	}
	{
		protected.GET("/plugins", api.ListPluginsHandler)

		protected.POST("/tasks/run/:name", api.RunTaskHandler)
		protected.GET("/tasks/poll/:id", api.PollTaskHandler)

		protected.GET("/datasets", api.ListDatasetsHandler)
		protected.POST("/datasets", api.UploadDatasetHandler)
		protected.GET("/datasets/:name", api.DatasetFilesHandler)

		protected.GET("/models", api.ListModelsHandler)
		protected.POST("/models/:name/stages/:stage", api.TransitionStageHandler)
	}
}
