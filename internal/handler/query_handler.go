package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa-go/internal/apperr"
	"docqa-go/internal/service"
)

// QueryHandler 负责问答与索引管理。
type QueryHandler struct {
	app *service.App
}

// NewQueryHandler 创建一个新的 QueryHandler。
func NewQueryHandler(app *service.App) *QueryHandler {
	return &QueryHandler{app: app}
}

type queryRequest struct {
	Query string `json:"query"`
}

// Query 处理 {"query": "..."}，返回答案与出处。
func (h *QueryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, "Query", apperr.Wrap(apperr.ErrInvalidInput, err, "request body must be JSON with a 'query' field"))
		return
	}
	res, err := h.app.Query(c.Request.Context(), req.Query)
	if err != nil {
		writeError(c, "Query", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Stats 返回索引统计信息。
func (h *QueryHandler) Stats(c *gin.Context) {
	st, err := h.app.IndexStats(c.Request.Context())
	if err != nil {
		writeError(c, "IndexStats", err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// Reset 删除整个向量索引。
func (h *QueryHandler) Reset(c *gin.Context) {
	if err := h.app.ResetIndex(c.Request.Context()); err != nil {
		writeError(c, "ResetIndex", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "index reset"})
}

// Health 报告服务是否存活以及索引是否可查询。
func (h *QueryHandler) Health(c *gin.Context) {
	st, err := h.app.IndexStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "ready": st.Ready})
}
