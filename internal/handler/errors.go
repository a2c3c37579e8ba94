// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa-go/internal/apperr"
	"docqa-go/pkg/log"
)

// statusFor 把错误种类映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrUnsupportedFormat),
		errors.Is(err, apperr.ErrNotReady),
		errors.Is(err, apperr.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrGeneration),
		errors.Is(err, apperr.ErrEmbeddingService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError 写出统一的错误响应体 {"code": ..., "message": ...}。
func writeError(c *gin.Context, op string, err error) {
	status := statusFor(err)
	code := apperr.Code(err)
	if status >= http.StatusInternalServerError {
		log.Errorw(op+": failed", "code", code, "status", status, "error", err)
	} else {
		log.Warnw(op+": rejected", "code", code, "status", status, "error", err)
	}
	c.JSON(status, gin.H{
		"code":    code,
		"message": err.Error(),
	})
}
