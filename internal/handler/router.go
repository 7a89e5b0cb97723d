package handler

import (
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Documents *DocumentHandler
	Search    *SearchHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/documents", deps.Documents.Ingest)
	api.POST("/documents/preview", deps.Documents.Preview)
	api.GET("/documents/:source", deps.Documents.Get)
	api.DELETE("/documents/:source", deps.Documents.Delete)

	api.POST("/search", deps.Search.Search)
	api.POST("/context", deps.Search.Context)
}
