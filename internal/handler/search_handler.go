package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragcore/internal/pkg/errcode"
	"github.com/xxxsen/ragcore/internal/pkg/response"
	"github.com/xxxsen/ragcore/internal/service"
)

type SearchHandler struct {
	retrieval *service.RetrievalService
}

func NewSearchHandler(retrieval *service.RetrievalService) *SearchHandler {
	return &SearchHandler{retrieval: retrieval}
}

type searchRequest struct {
	Namespace      string  `json:"namespace"`
	Query          string  `json:"query"`
	TopK           int     `json:"top_k"`
	SemanticWeight float64 `json:"semantic_weight"`
	KeywordWeight  float64 `json:"keyword_weight"`
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	results, err := h.retrieval.HybridSearch(c.Request.Context(), namespaceOrDefault(req.Namespace), req.Query, req.TopK, req.SemanticWeight, req.KeywordWeight)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, results)
}

type contextRequest struct {
	Namespace        string `json:"namespace"`
	Query            string `json:"query"`
	MaxContextLength int    `json:"max_context_length"`
}

func (h *SearchHandler) Context(c *gin.Context) {
	var req contextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	bundle, err := h.retrieval.RelevantContext(c.Request.Context(), namespaceOrDefault(req.Namespace), req.Query, req.MaxContextLength)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, bundle)
}
