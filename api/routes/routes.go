package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ufindi/docintel/api/handlers"
	"github.com/ufindi/docintel/api/middleware"
)

// SetupRoutes wires every endpoint.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	docs := v1.Group("/documents")
	{
		docs.POST("", h.Document.Upload)
		docs.GET("", h.Document.List)
		docs.GET("/:id", h.Document.Get)
		docs.GET("/:id/extraction", h.Document.Extraction)
		docs.GET("/:id/validations", h.Document.Validations)
		docs.GET("/:id/logs", h.Document.Logs)
		docs.POST("/:id/reprocess", h.Document.Reprocess)

		docs.POST("/:id/corrections", h.Review.ApplyCorrection)
		docs.GET("/:id/corrections", h.Review.Corrections)
		docs.GET("/:id/suggestions", h.Review.Suggestions)
	}

	v1.GET("/tasks/:taskId", h.Document.TaskStatus)
	v1.GET("/review", h.Review.Queue)
	v1.GET("/review/clusters", h.Review.Clusters)
	v1.GET("/metrics", h.Review.Metrics)
}
