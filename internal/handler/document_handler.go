package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"docqa-go/internal/apperr"
	"docqa-go/internal/service"
	"docqa-go/pkg/log"
)

// DocumentHandler 负责文档上传与查询文档状态。
type DocumentHandler struct {
	app *service.App
}

// NewDocumentHandler 创建一个新的 DocumentHandler。
func NewDocumentHandler(app *service.App) *DocumentHandler {
	return &DocumentHandler{app: app}
}

// Upload 接收 multipart 字段 file，可选 name 与 on_duplicate。
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, "Upload", apperr.Wrap(apperr.ErrInvalidInput, err, "multipart field 'file' is required"))
		return
	}
	mode, err := service.ParseDuplicateMode(c.PostForm("on_duplicate"))
	if err != nil {
		writeError(c, "Upload", err)
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, "Upload", apperr.Wrap(apperr.ErrInvalidInput, err, "cannot read uploaded file"))
		return
	}
	defer file.Close()

	res, err := h.app.Upload(c.Request.Context(), service.UploadRequest{
		Filename:    fileHeader.Filename,
		Name:        c.PostForm("name"),
		Size:        fileHeader.Size,
		Content:     file,
		OnDuplicate: mode,
	})
	if err != nil {
		writeError(c, "Upload", err)
		return
	}

	switch res.Status {
	case service.UploadProcessing:
		c.JSON(http.StatusAccepted, res)
	case service.UploadFailed:
		log.Warnf("Upload: 文档 %s 入库失败: %s", res.DocumentID, res.Error)
		c.JSON(http.StatusUnprocessableEntity, res)
	default:
		c.JSON(http.StatusOK, res)
	}
}

// List 返回所有文档记录。
func (h *DocumentHandler) List(c *gin.Context) {
	docs := h.app.Documents()
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}

// Get 返回单个文档记录。
func (h *DocumentHandler) Get(c *gin.Context) {
	rec, err := h.app.Document(c.Param("id"))
	if err != nil {
		writeError(c, "GetDocument", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Download 返回文档的原始文件；MinIO 后端时重定向到预签名链接。
func (h *DocumentHandler) Download(c *gin.Context) {
	f, err := h.app.DocumentFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, "Download", err)
		return
	}
	if f.URL != "" {
		c.Redirect(http.StatusFound, f.URL)
		return
	}
	defer f.Body.Close()
	c.DataFromReader(http.StatusOK, -1, "application/octet-stream", f.Body, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=%q", f.Record.OriginalFilename),
	})
}

// SupportedTypes 返回支持上传的文件类型。
func (h *DocumentHandler) SupportedTypes(c *gin.Context) {
	c.JSON(http.StatusOK, h.app.SupportedTypes())
}
