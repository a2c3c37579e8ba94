// Package registry 维护每个上传文档的生命周期状态。
// 状态只保存在进程内存中，服务重启后丢失。
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
)

// Registry 是文档记录的唯一持有者。所有读取都返回拷贝。
type Registry struct {
	mu      sync.RWMutex
	records map[string]*model.DocumentRecord
	order   []string
	now     func() time.Time
}

// New 创建空的 Registry。
func New() *Registry {
	return &Registry{
		records: make(map[string]*model.DocumentRecord),
		now:     time.Now,
	}
}

// NewID 生成新的文档 ID。
func NewID() string {
	return uuid.NewString()
}

// Register 以新生成的 ID 创建 pending 状态的记录。
func (r *Registry) Register(name, filename, path string) (string, error) {
	id := NewID()
	if err := r.RegisterWithID(id, name, filename, path); err != nil {
		return "", err
	}
	return id, nil
}

// RegisterWithID 使用调用方给定的 ID 创建记录，ID 已存在时返回 ErrDuplicateUpload。
func (r *Registry) RegisterWithID(id, name, filename, path string) error {
	if id == "" {
		return apperr.New(apperr.ErrInvalidInput, "document id must not be empty")
	}
	if name == "" {
		name = filename
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[id]; ok {
		return apperr.New(apperr.ErrDuplicateUpload, "document %s already registered", id)
	}
	ts := r.now()
	r.records[id] = &model.DocumentRecord{
		ID:               id,
		Name:             name,
		OriginalFilename: filename,
		StoragePath:      path,
		Status:           model.StatusPending,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
	r.order = append(r.order, id)
	return nil
}

// MarkProcessing 把记录从 pending 推进到 processing。
func (r *Registry) MarkProcessing(id string) error {
	return r.transition(id, model.StatusProcessing, nil)
}

// MarkCompleted 把记录推进到 completed 并写入 chunk 数。
func (r *Registry) MarkCompleted(id string, chunkCount int) error {
	return r.transition(id, model.StatusCompleted, func(rec *model.DocumentRecord) {
		n := chunkCount
		rec.ChunkCount = &n
		rec.ErrorMessage = nil
	})
}

// MarkFailed 把记录推进到 failed 并记录错误信息。
func (r *Registry) MarkFailed(id, errMsg string) error {
	return r.transition(id, model.StatusFailed, func(rec *model.DocumentRecord) {
		m := errMsg
		rec.ErrorMessage = &m
	})
}

// MarkSuperseded 标记 completed 记录已被 byID 取代，状态保持不变。
func (r *Registry) MarkSuperseded(id, byID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apperr.New(apperr.ErrNotFound, "document %s not found", id)
	}
	if rec.Status != model.StatusCompleted {
		return apperr.New(apperr.ErrInvalidTransition, "document %s is %s, only completed documents can be superseded", id, rec.Status)
	}
	by := byID
	rec.SupersededBy = &by
	rec.UpdatedAt = r.now()
	return nil
}

func (r *Registry) transition(id string, next model.DocumentStatus, mutate func(*model.DocumentRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apperr.New(apperr.ErrNotFound, "document %s not found", id)
	}
	if !rec.Status.CanTransition(next) {
		return apperr.New(apperr.ErrInvalidTransition, "document %s: %s -> %s is not allowed", id, rec.Status, next)
	}
	rec.Status = next
	if mutate != nil {
		mutate(rec)
	}
	rec.UpdatedAt = r.now()
	return nil
}

// Get 返回记录的拷贝。
func (r *Registry) Get(id string) (*model.DocumentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperr.New(apperr.ErrNotFound, "document %s not found", id)
	}
	return rec.Clone(), nil
}

// List 按创建顺序返回所有记录的拷贝。
func (r *Registry) List() []*model.DocumentRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.DocumentRecord, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].Clone())
	}
	return out
}

// HasCompleted 报告是否至少有一个文档已完成入库。
func (r *Registry) HasCompleted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.Status == model.StatusCompleted {
			return true
		}
	}
	return false
}

// FindCompletedByFilename 返回最近一个同名且未被取代的 completed 记录。
func (r *Registry) FindCompletedByFilename(filename string) (*model.DocumentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if rec.OriginalFilename == filename && rec.Status == model.StatusCompleted && rec.SupersededBy == nil {
			return rec.Clone(), true
		}
	}
	return nil, false
}

// Counts 按状态统计记录数。
func (r *Registry) Counts() map[model.DocumentStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.DocumentStatus]int, 4)
	for _, rec := range r.records {
		out[rec.Status]++
	}
	return out
}
