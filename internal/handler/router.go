package handler

import (
	"github.com/gin-gonic/gin"

	"docqa-go/internal/service"
)

// RegisterRoutes 在 r 上注册所有 HTTP 路由。
func RegisterRoutes(r *gin.Engine, app *service.App) {
	docs := NewDocumentHandler(app)
	query := NewQueryHandler(app)

	r.GET("/healthz", query.Health)

	apiV1 := r.Group("/api/v1")
	{
		documents := apiV1.Group("/documents")
		{
			documents.POST("/upload", docs.Upload)
			documents.GET("", docs.List)
			documents.GET("/:id", docs.Get)
			documents.GET("/:id/download", docs.Download)
		}

		apiV1.GET("/upload/supported-types", docs.SupportedTypes)
		apiV1.POST("/query", query.Query)

		index := apiV1.Group("/index")
		{
			index.GET("/stats", query.Stats)
			index.DELETE("", query.Reset)
		}
	}
}
