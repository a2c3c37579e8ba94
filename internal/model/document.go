// Package model 定义了文档入库与问答流程中流转的数据结构。
package model

import "time"

// DocumentStatus 表示文档在入库流程中的生命周期状态。
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal 报告状态是否为终态。
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s DocumentStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition 判断 s -> next 是否合法。状态只能单调前进，
// pending 可以直接进入 failed，但不能跳过 processing 进入 completed。
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	if s.Terminal() || next.rank() <= s.rank() {
		return false
	}
	if next == StatusCompleted && s != StatusProcessing {
		return false
	}
	return true
}

// DocumentRecord 记录一次上传的元数据和处理状态。
type DocumentRecord struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	OriginalFilename string         `json:"filename"`
	StoragePath      string         `json:"path"`
	Status           DocumentStatus `json:"status"`
	ChunkCount       *int           `json:"chunk_count"`
	ErrorMessage     *string        `json:"error"`
	SupersededBy     *string        `json:"superseded_by,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Clone 返回记录的深拷贝，指针字段不与原记录共享。
func (r *DocumentRecord) Clone() *DocumentRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ChunkCount != nil {
		n := *r.ChunkCount
		c.ChunkCount = &n
	}
	if r.ErrorMessage != nil {
		m := *r.ErrorMessage
		c.ErrorMessage = &m
	}
	if r.SupersededBy != nil {
		s := *r.SupersededBy
		c.SupersededBy = &s
	}
	return &c
}
