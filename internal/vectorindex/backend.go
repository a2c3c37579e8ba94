// Package vectorindex 管理 embedding 客户端与向量索引句柄。
package vectorindex

import (
	"context"

	"docqa-go/internal/model"
)

// Backend 是持久化向量索引的最小接口，Elasticsearch 与内存实现都满足它。
type Backend interface {
	Exists(ctx context.Context) (bool, error)
	// Dimensions 返回已有索引的向量维度，索引不存在时返回 0。
	Dimensions(ctx context.Context) (int, error)
	Create(ctx context.Context, dims int) error
	Upsert(ctx context.Context, entries []model.VectorEntry) error
	Search(ctx context.Context, vector []float32, k int) ([]model.Match, error)
	Count(ctx context.Context) (int64, error)
	DeleteDocument(ctx context.Context, documentID string) (int64, error)
	Drop(ctx context.Context) error
}
