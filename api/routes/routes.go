package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/pagewise/reader/api/handlers"
	"github.com/pagewise/reader/api/middleware"
)

// SetupRoutes wires all HTTP routes.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.Use(middleware.CORS())

	v1 := r.Group("/api/v1")

	v1.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1.GET("/tasks/:id", h.Document.TaskStatus)

	docs := v1.Group("/documents")
	{
		docs.POST("/upload/init", h.Document.InitUpload)
		docs.POST("/upload", h.Document.Upload)
		docs.GET("", h.Document.List)
		docs.GET("/:id", h.Document.Get)
		docs.DELETE("/:id", h.Document.Delete)
		docs.POST("/:id/process", h.Document.Reprocess)
		docs.GET("/:id/pages", h.Document.Pages)

		docs.POST("/:id/convert", h.Document.RequestConversion)
		docs.GET("/:id/convert", h.Document.ConversionStatus)
		docs.POST("/:id/convert/retry", h.Document.RetryConversion)

		docs.GET("/:id/render", h.Render.StreamPages)
	}
}
