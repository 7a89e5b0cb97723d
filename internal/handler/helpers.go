package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/ragcore/internal/pkg/dbutil"
	"github.com/xxxsen/ragcore/internal/pkg/errcode"
	appErr "github.com/xxxsen/ragcore/internal/pkg/errors"
	"github.com/xxxsen/ragcore/internal/pkg/response"
)

const defaultNamespace = "default"

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return defaultNamespace
	}
	return ns
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	logutil.GetLogger(c.Request.Context()).Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err))
	switch {
	case appErr.IsInvalid(err):
		response.Error(c, errcode.ErrInvalid, err.Error())
	case appErr.IsNotFound(err):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrConflict), dbutil.IsConflict(err):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrEmbedFailed):
		response.Error(c, errcode.ErrEmbedFailed, "embedding failed")
	case errors.Is(err, appErr.ErrSearchFailed):
		response.Error(c, errcode.ErrSearchFailed, "search failed")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, "too many requests")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}
