// Package pipeline 定义了文档入库的核心流程：加载、切分、写入向量索引。
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"docqa-go/internal/apperr"
	"docqa-go/internal/chunker"
	"docqa-go/internal/model"
	"docqa-go/internal/registry"
	"docqa-go/pkg/log"
	"docqa-go/pkg/tasks"
)

// DocumentLoader 把存储中的文件解析为带元数据的文本段落。
type DocumentLoader interface {
	Load(ctx context.Context, path, declaredExtension string) ([]model.Section, error)
}

// Indexer 是流程需要的向量索引写能力。
type Indexer interface {
	Upsert(ctx context.Context, chunks []model.Chunk) (int, error)
	DeleteDocument(ctx context.Context, documentID string) (int64, error)
}

// Processor 封装了文档处理的所有依赖和逻辑。
type Processor struct {
	loader   DocumentLoader
	splitter *chunker.Splitter
	index    Indexer
	registry *registry.Registry
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(loader DocumentLoader, splitter *chunker.Splitter, index Indexer, reg *registry.Registry) *Processor {
	if splitter == nil {
		splitter = chunker.New()
	}
	return &Processor{
		loader:   loader,
		splitter: splitter,
		index:    index,
		registry: reg,
	}
}

var _ tasks.Processor = (*Processor)(nil)

// Process 是文档处理的主函数。无论成功、失败还是 panic，结束时都会更新 registry 中的记录。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) (err error) {
	start := time.Now()
	log.Infof("[Processor] 开始处理文档, DocumentID: %s, FileName: %s", task.DocumentID, task.FileName)

	if err := p.ensureProcessing(task.DocumentID); err != nil {
		return err
	}

	written := 0
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Processor] 处理文档 panic, DocumentID: %s: %v\n%s", task.DocumentID, r, debug.Stack())
			err = fmt.Errorf("ingestion panicked: %v", r)
		}
		p.finish(ctx, task, written, err)
		log.Infof("[Processor] 文档处理结束, DocumentID: %s, 耗时: %s", task.DocumentID, time.Since(start))
	}()

	// 1. 加载并解析文件
	log.Infof("[Processor] 步骤1: 加载文件, Path: %s", task.StoragePath)
	sections, err := p.loader.Load(ctx, task.StoragePath, task.Extension)
	if err != nil {
		log.Errorf("[Processor] 加载文件失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		return err
	}
	log.Infof("[Processor] 步骤1: 加载完成, 共 %d 个段落", len(sections))

	// 2. 切分
	chunks := p.splitter.Split(sections)
	for i := range chunks {
		chunks[i].DocumentID = task.DocumentID
		chunks[i].DocumentName = task.DocumentName
		chunks[i].Source = task.StoragePath
	}
	log.Infof("[Processor] 步骤2: 文本分块完成, 共 %d 个分块", len(chunks))
	if len(chunks) == 0 {
		log.Warnf("[Processor] 文件 '%s' 没有可索引的文本, 处理中止", task.FileName)
		return apperr.New(apperr.ErrExtraction, "no text could be extracted from %s", task.FileName)
	}

	// 3. 向量化并写入索引
	log.Infof("[Processor] 步骤3: 向量化并写入索引")
	n, err := p.index.Upsert(ctx, chunks)
	if err != nil {
		log.Errorf("[Processor] 写入向量索引失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		return err
	}
	written = n
	log.Infof("[Processor] 步骤3: 写入 %d 条向量", n)
	return nil
}

// ensureProcessing 允许直接以 pending 记录调用 Process。
func (p *Processor) ensureProcessing(id string) error {
	rec, err := p.registry.Get(id)
	if err != nil {
		return err
	}
	if rec.Status == model.StatusPending {
		return p.registry.MarkProcessing(id)
	}
	if rec.Status != model.StatusProcessing {
		return apperr.New(apperr.ErrInvalidTransition, "document %s is already %s", id, rec.Status)
	}
	return nil
}

// finish 更新 registry；replace 模式下新文档成功后删除旧文档的向量。
func (p *Processor) finish(ctx context.Context, task tasks.IngestTask, written int, procErr error) {
	if procErr != nil {
		if err := p.registry.MarkFailed(task.DocumentID, procErr.Error()); err != nil {
			log.Errorf("[Processor] 更新文档状态为 failed 失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		}
		return
	}
	if err := p.registry.MarkCompleted(task.DocumentID, written); err != nil {
		log.Errorf("[Processor] 更新文档状态为 completed 失败, DocumentID: %s, Error: %v", task.DocumentID, err)
		return
	}
	if task.ReplaceID == "" || task.ReplaceID == task.DocumentID {
		return
	}
	removed, err := p.index.DeleteDocument(ctx, task.ReplaceID)
	if err != nil {
		log.Errorf("[Processor] 删除被替换文档的向量失败, DocumentID: %s, Error: %v", task.ReplaceID, err)
		return
	}
	if err := p.registry.MarkSuperseded(task.ReplaceID, task.DocumentID); err != nil {
		log.Warnf("[Processor] 标记文档 %s 被替换失败: %v", task.ReplaceID, err)
	}
	log.Infof("[Processor] 文档 %s 已被 %s 替换, 删除 %d 条旧向量", task.ReplaceID, task.DocumentID, removed)
}
