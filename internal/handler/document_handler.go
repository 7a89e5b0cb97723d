package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/ragcore/internal/pkg/errcode"
	"github.com/xxxsen/ragcore/internal/pkg/response"
	"github.com/xxxsen/ragcore/internal/service"
)

type DocumentHandler struct {
	retrieval *service.RetrievalService
}

func NewDocumentHandler(retrieval *service.RetrievalService) *DocumentHandler {
	return &DocumentHandler{retrieval: retrieval}
}

type ingestRequest struct {
	Namespace      string                 `json:"namespace"`
	SourceDocument string                 `json:"source_document"`
	Content        string                 `json:"content"`
	Metadata       map[string]interface{} `json:"metadata"`
}

type ingestResponse struct {
	SourceDocument string `json:"source_document"`
	ChunkCount     int    `json:"chunk_count"`
	ChunkIDs       []string `json:"chunk_ids"`
}

func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.SourceDocument == "" {
		response.Error(c, errcode.ErrInvalid, "source_document required")
		return
	}
	chunks, err := h.retrieval.IngestDocument(c.Request.Context(), namespaceOrDefault(req.Namespace), req.Content, req.SourceDocument, req.Metadata)
	if err != nil {
		handleError(c, err)
		return
	}
	ids := make([]string, 0, len(chunks))
	for _, ck := range chunks {
		ids = append(ids, ck.ID)
	}
	response.Success(c, ingestResponse{
		SourceDocument: req.SourceDocument,
		ChunkCount:     len(chunks),
		ChunkIDs:       ids,
	})
}

// Preview chunks a document without embedding or storing anything.
func (h *DocumentHandler) Preview(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.SourceDocument == "" {
		response.Error(c, errcode.ErrInvalid, "source_document required")
		return
	}
	chunks, err := h.retrieval.ChunkDocument(c.Request.Context(), req.Content, req.SourceDocument, req.Metadata)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, chunks)
}

// Get serves the archived raw document.
func (h *DocumentHandler) Get(c *gin.Context) {
	sourceDocument := c.Param("source")
	if sourceDocument == "" {
		response.Error(c, errcode.ErrInvalid, "source document required")
		return
	}
	ns := namespaceOrDefault(c.Query("namespace"))
	data, err := h.retrieval.GetDocument(c.Request.Context(), ns, sourceDocument)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{
		"source_document": sourceDocument,
		"content":         string(data),
	})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	sourceDocument := c.Param("source")
	if sourceDocument == "" {
		response.Error(c, errcode.ErrInvalid, "source document required")
		return
	}
	ns := namespaceOrDefault(c.Query("namespace"))
	if err := h.retrieval.DeleteDocument(c.Request.Context(), ns, sourceDocument); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"deleted": sourceDocument})
}
