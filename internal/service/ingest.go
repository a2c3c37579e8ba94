package service

import (
	"context"
	"os"
	"path/filepath"

	"docqa-go/pkg/log"
)

// IngestOutcome 是本地文件导入的结果。
type IngestOutcome struct {
	Path   string
	Result *UploadResult
	Err    error
}

// IngestFile 通过标准上传流程导入一个本地文件，并等待后台处理结束。
func (a *App) IngestFile(ctx context.Context, path string, mode DuplicateMode) (*UploadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	res, err := a.Upload(ctx, UploadRequest{
		Filename:    info.Name(),
		Size:        info.Size(),
		Content:     f,
		OnDuplicate: mode,
	})
	if err != nil {
		return nil, err
	}
	if res.Status == UploadProcessing && res.Future != nil {
		if werr := res.Future.Wait(ctx); werr != nil {
			res.Status = UploadFailed
			res.Error = werr.Error()
		} else if rec, gerr := a.registry.Get(res.DocumentID); gerr == nil {
			res.Status = UploadSuccess
			if rec.ChunkCount != nil {
				res.ChunksProcessed = *rec.ChunkCount
			}
		}
	}
	return res, nil
}

// IngestPaths 导入给定的文件；目录会被递归遍历，不支持的扩展名直接跳过。
func (a *App) IngestPaths(ctx context.Context, paths []string, mode DuplicateMode) []IngestOutcome {
	var out []IngestOutcome
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			out = append(out, IngestOutcome{Path: root, Err: err})
			continue
		}
		if !info.IsDir() {
			res, err := a.IngestFile(ctx, root, mode)
			out = append(out, IngestOutcome{Path: root, Result: res, Err: err})
			continue
		}
		walkErr := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				log.Warnf("[Ingest] 访问 %s 失败: %v", path, err)
				return nil
			}
			if fi.IsDir() || !a.loader.Supports(filepath.Ext(path)) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res, err := a.IngestFile(ctx, path, mode)
			out = append(out, IngestOutcome{Path: path, Result: res, Err: err})
			return nil
		})
		if walkErr != nil {
			log.Warnf("[Ingest] 遍历目录 %s 发生错误: %v", root, walkErr)
		}
	}
	return out
}
