package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"docqa-go/internal/apperr"
	"docqa-go/internal/loader"
	"docqa-go/internal/model"
	"docqa-go/internal/registry"
	"docqa-go/internal/vectorindex"
	"docqa-go/internal/worker"
	"docqa-go/pkg/log"
	"docqa-go/pkg/storage"
	"docqa-go/pkg/tasks"
)

// DuplicateMode 决定同名文件再次上传时的行为。
type DuplicateMode string

const (
	DuplicateAppend  DuplicateMode = "append"
	DuplicateReject  DuplicateMode = "reject"
	DuplicateReplace DuplicateMode = "replace"
)

// ParseDuplicateMode 解析 on_duplicate 参数，空值视为 append。
func ParseDuplicateMode(s string) (DuplicateMode, error) {
	switch DuplicateMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", DuplicateAppend:
		return DuplicateAppend, nil
	case DuplicateReject:
		return DuplicateReject, nil
	case DuplicateReplace:
		return DuplicateReplace, nil
	default:
		return "", apperr.New(apperr.ErrInvalidInput, "on_duplicate must be one of append, reject, replace, got %q", s)
	}
}

// Upload 状态
const (
	UploadSuccess    = "success"
	UploadProcessing = "processing"
	UploadFailed     = "failed"
)

// UploadRequest 描述一次上传。
type UploadRequest struct {
	Filename    string
	Name        string
	Size        int64
	Content     io.Reader
	OnDuplicate DuplicateMode
}

// UploadResult 是上传的结果。Status 为 processing 时可以通过 Future 等待后台处理结束。
type UploadResult struct {
	Status          string         `json:"status"`
	DocumentID      string         `json:"document_id"`
	ChunksProcessed int            `json:"chunks_processed,omitempty"`
	Error           string         `json:"error,omitempty"`
	Future          *worker.Future `json:"-"`
}

// Upload 保存文件并入库。小文件同步处理；超过阈值的文件交给后台，立即返回 processing。
// 同步入库失败不返回 error，而是返回 Status 为 failed 的结果。
func (a *App) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	filename := filepath.Base(strings.ReplaceAll(req.Filename, "\\", "/"))
	if filename == "" || filename == "." || filename == "/" {
		return nil, apperr.New(apperr.ErrInvalidInput, "file name is required")
	}
	ext := loader.NormalizeExt(filepath.Ext(filename))
	if !a.loader.Supports(ext) {
		log.Warnf("[Upload] 拒绝不支持的文件类型: %s", filename)
		return nil, apperr.New(apperr.ErrUnsupportedFormat, "unsupported file extension %q, supported: %s",
			ext, strings.Join(a.loader.SupportedExtensions(), ", "))
	}
	mode := req.OnDuplicate
	if mode == "" {
		mode = DuplicateAppend
	}

	// 1. 处理重名
	var replaceID string
	if existing, found := a.registry.FindCompletedByFilename(filename); found {
		switch mode {
		case DuplicateReject:
			return nil, apperr.New(apperr.ErrDuplicateDocument, "document %q has already been ingested as %s", filename, existing.ID)
		case DuplicateReplace:
			replaceID = existing.ID
		}
	}

	// 2. 保存原始文件
	id := registry.NewID()
	key := fmt.Sprintf("uploads/%s/%s", id, filename)
	if err := a.store.Save(ctx, key, req.Content, req.Size); err != nil {
		log.Errorf("[Upload] 保存文件失败, key: %s, error: %v", key, err)
		return nil, apperr.Wrap(apperr.ErrStorage, err, "save uploaded file")
	}

	// 3. 登记
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = filename
	}
	if err := a.registry.RegisterWithID(id, name, filename, key); err != nil {
		return nil, err
	}
	if err := a.registry.MarkProcessing(id); err != nil {
		return nil, err
	}
	task := tasks.IngestTask{
		DocumentID:   id,
		DocumentName: name,
		FileName:     filename,
		StoragePath:  key,
		Extension:    ext,
		ReplaceID:    replaceID,
	}

	// 4. 入库，已开始的入库不随请求取消
	if req.Size > a.cfg.Ingestion.LargeFileThreshold {
		log.Infof("[Upload] 文件 %s 大小 %d 超过阈值, 转入后台处理, DocumentID: %s", filename, req.Size, id)
		f, err := a.dispatcher.Dispatch(ctx, task)
		if err != nil {
			if markErr := a.registry.MarkFailed(id, err.Error()); markErr != nil {
				log.Errorf("[Upload] 标记文档 %s 失败状态出错: %v", id, markErr)
			}
			return nil, fmt.Errorf("提交后台入库任务失败: %w", err)
		}
		return &UploadResult{Status: UploadProcessing, DocumentID: id, Future: f}, nil
	}

	if err := a.processor.Process(context.WithoutCancel(ctx), task); err != nil {
		return &UploadResult{Status: UploadFailed, DocumentID: id, Error: err.Error()}, nil
	}
	rec, err := a.registry.Get(id)
	if err != nil {
		return nil, err
	}
	res := &UploadResult{Status: UploadSuccess, DocumentID: id}
	if rec.ChunkCount != nil {
		res.ChunksProcessed = *rec.ChunkCount
	}
	return res, nil
}

// Query 回答一个问题。
func (a *App) Query(ctx context.Context, query string) (*model.QueryResult, error) {
	return a.engine.Answer(ctx, query)
}

// Documents 按上传顺序返回所有文档记录。
func (a *App) Documents() []*model.DocumentRecord {
	return a.registry.List()
}

// Document 返回单个文档记录。
func (a *App) Document(id string) (*model.DocumentRecord, error) {
	return a.registry.Get(id)
}

// IndexStats 汇总索引与文档状态。
type IndexStats struct {
	vectorindex.Stats
	Documents map[model.DocumentStatus]int `json:"documents"`
}

// IndexStats 返回索引状态。
func (a *App) IndexStats(ctx context.Context) (*IndexStats, error) {
	st, err := a.index.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &IndexStats{Stats: st, Documents: a.registry.Counts()}, nil
}

// ResetIndex 删除整个向量索引。registry 中的记录保持不变。
func (a *App) ResetIndex(ctx context.Context) error {
	log.Warnf("[Index] 收到重置索引请求")
	return a.index.Reset(ctx)
}

// SupportedTypes 描述可上传的文件类型。
type SupportedTypes struct {
	Extensions         []string `json:"extensions"`
	LargeFileThreshold int64    `json:"large_file_threshold"`
	DuplicateModes     []string `json:"duplicate_modes"`
}

// SupportedTypes 返回支持的扩展名列表。
func (a *App) SupportedTypes() SupportedTypes {
	return SupportedTypes{
		Extensions:         a.loader.SupportedExtensions(),
		LargeFileThreshold: a.cfg.Ingestion.LargeFileThreshold,
		DuplicateModes:     []string{string(DuplicateAppend), string(DuplicateReject), string(DuplicateReplace)},
	}
}

// DocumentFile 是下载原始文件的结果：URL 非空时客户端应跳转，否则读取 Body。
type DocumentFile struct {
	Record *model.DocumentRecord
	URL    string
	Body   io.ReadCloser
}

// DownloadExpiry 是预签名下载链接的有效期。
const DownloadExpiry = time.Hour

// DocumentFile 返回文档的原始文件。存储后端支持预签名时只返回链接。
func (a *App) DocumentFile(ctx context.Context, id string) (*DocumentFile, error) {
	rec, err := a.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if p, ok := a.store.(storage.Presigner); ok {
		u, err := p.PresignedURL(ctx, rec.StoragePath, DownloadExpiry)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrStorage, err, "presign %s", rec.StoragePath)
		}
		return &DocumentFile{Record: rec, URL: u}, nil
	}
	body, err := a.store.Open(ctx, rec.StoragePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrStorage, err, "open %s", rec.StoragePath)
	}
	return &DocumentFile{Record: rec, Body: body}, nil
}
