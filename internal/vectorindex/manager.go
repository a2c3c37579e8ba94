package vectorindex

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
	"docqa-go/pkg/embedding"
	"docqa-go/pkg/log"
)

const (
	defaultTopK        = 3
	defaultConcurrency = 4
	probeText          = "dimension probe"
)

// Handle 是当前索引的不可变快照。每次重建索引都会得到新的 Generation。
type Handle struct {
	Generation   uint64
	Dimensions   int
	ModelVersion string
}

// Stats 汇总索引状态，供管理接口使用。
type Stats struct {
	Ready      bool   `json:"ready"`
	Restored   bool   `json:"restored"`
	Generation uint64 `json:"generation"`
	Dimensions int    `json:"dimensions"`
	Chunks     int64  `json:"chunks"`
}

// Manager 持有 embedding 客户端和索引句柄。写操作（建索引、写入、删除、重置）
// 互斥执行；检索只读取当前句柄，可能看不到正在写入的数据。
type Manager struct {
	backend      Backend
	embedder     embedding.Client
	modelVersion string
	concurrency  int

	writeMu sync.Mutex

	mu         sync.RWMutex
	current    *Handle
	generation uint64
	restored   bool
	probedDims int
}

// Option 配置 Manager。
type Option func(*Manager)

// WithEmbedConcurrency 设置写入时并发请求 embedding 的上限。
func WithEmbedConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithDimensions 预先给定向量维度，跳过探测请求。
func WithDimensions(dims int) Option {
	return func(m *Manager) {
		if dims > 0 {
			m.probedDims = dims
		}
	}
}

// NewManager 创建 Manager。modelVersion 会写入每条向量的元数据。
func NewManager(backend Backend, embedder embedding.Client, modelVersion string, opts ...Option) *Manager {
	m := &Manager{
		backend:      backend,
		embedder:     embedder,
		modelVersion: modelVersion,
		concurrency:  defaultConcurrency,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open 在启动时接管已存在的索引。索引不存在不是错误。
func (m *Manager) Open(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	exists, err := m.backend.Exists(ctx)
	if err != nil {
		return apperr.Wrap(apperr.ErrIndexBackend, err, "check index")
	}
	if !exists {
		log.Info("[IndexManager] 未发现已有索引, 将在首次入库时创建")
		return nil
	}
	dims, err := m.backend.Dimensions(ctx)
	if err != nil {
		return apperr.Wrap(apperr.ErrIndexBackend, err, "read index dimensions")
	}
	count, err := m.backend.Count(ctx)
	if err != nil {
		return apperr.Wrap(apperr.ErrIndexBackend, err, "count index")
	}

	m.mu.Lock()
	m.installLocked(dims)
	m.restored = count > 0
	m.mu.Unlock()
	log.Infof("[IndexManager] 已接管现有索引, 维度: %d, 向量数: %d", dims, count)
	return nil
}

// installLocked 安装新句柄，调用方持有 m.mu。
func (m *Manager) installLocked(dims int) *Handle {
	m.generation++
	m.current = &Handle{Generation: m.generation, Dimensions: dims, ModelVersion: m.modelVersion}
	if m.probedDims == 0 {
		m.probedDims = dims
	}
	return m.current
}

// Current 返回当前句柄，没有索引时返回 nil。
func (m *Manager) Current() *Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return nil
	}
	h := *m.current
	return &h
}

// Restored 报告启动时接管的索引是否已有数据。
func (m *Manager) Restored() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restored && m.current != nil
}

// EnsureIndex 幂等地创建索引。维度未知时向 embedding 服务发一次探测请求。
func (m *Manager) EnsureIndex(ctx context.Context) (*Handle, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	h, err := m.ensureLocked(ctx, 0)
	if err != nil {
		return nil, err
	}
	cp := *h
	return &cp, nil
}

// ensureLocked 调用方持有 writeMu。dims 为 0 时使用探测得到的维度。
func (m *Manager) ensureLocked(ctx context.Context, dims int) (*Handle, error) {
	if h := m.Current(); h != nil {
		return h, nil
	}
	if dims == 0 {
		var err error
		if dims, err = m.probe(ctx); err != nil {
			return nil, err
		}
	}

	exists, err := m.backend.Exists(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrIndexBackend, err, "check index")
	}
	if exists {
		if d, err := m.backend.Dimensions(ctx); err == nil && d > 0 {
			dims = d
		}
	} else if err := m.backend.Create(ctx, dims); err != nil {
		return nil, apperr.Wrap(apperr.ErrIndexBackend, err, "create index")
	}

	m.mu.Lock()
	h := m.installLocked(dims)
	m.mu.Unlock()
	log.Infof("[IndexManager] 索引就绪, generation: %d, 维度: %d", h.Generation, h.Dimensions)
	cp := *h
	return &cp, nil
}

func (m *Manager) probe(ctx context.Context) (int, error) {
	m.mu.RLock()
	dims := m.probedDims
	m.mu.RUnlock()
	if dims > 0 {
		return dims, nil
	}
	vec, err := m.embedder.CreateEmbedding(ctx, probeText)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrEmbeddingService, err, "probe embedding dimensions")
	}
	if len(vec) == 0 {
		return 0, apperr.New(apperr.ErrEmbeddingService, "embedding service returned an empty vector")
	}
	m.mu.Lock()
	m.probedDims = len(vec)
	m.mu.Unlock()
	log.Infof("[IndexManager] 探测到 embedding 维度: %d", len(vec))
	return len(vec), nil
}

// Upsert 为每个 chunk 计算向量并写入索引，返回写入条数。
// 向量全部计算成功后才会加写锁；任何失败都不会写入部分数据。
func (m *Manager) Upsert(ctx context.Context, chunks []model.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			vec, err := m.embedder.CreateEmbedding(gctx, chunks[i].Text)
			if err != nil {
				return fmt.Errorf("chunk %d: %w", chunks[i].Index, err)
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, apperr.Wrap(apperr.ErrEmbeddingService, err, "embed chunks")
	}
	dims := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 || len(v) != dims {
			return 0, apperr.New(apperr.ErrEmbeddingService, "chunk %d has dimension %d, expected %d", chunks[i].Index, len(v), dims)
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	h, err := m.ensureLocked(ctx, dims)
	if err != nil {
		return 0, err
	}
	if h.Dimensions != dims {
		return 0, apperr.New(apperr.ErrIndexBackend, "index dimension %d does not match embedding dimension %d", h.Dimensions, dims)
	}

	entries := make([]model.VectorEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = model.VectorEntry{
			ID:     model.VectorID(c.DocumentID, c.Index),
			Text:   c.Text,
			Vector: vectors[i],
			Payload: model.ChunkPayload{
				DocumentID:   c.DocumentID,
				DocumentName: c.DocumentName,
				Source:       c.Source,
				ChunkIndex:   c.Index,
				StartOffset:  c.StartOffset,
				Length:       c.Length,
				Page:         c.Page(),
				ModelVersion: h.ModelVersion,
			},
		}
	}
	if err := m.backend.Upsert(ctx, entries); err != nil {
		return 0, apperr.Wrap(apperr.ErrIndexBackend, err, "upsert %d entries", len(entries))
	}
	log.Infof("[IndexManager] 写入 %d 条向量, generation: %d", len(entries), h.Generation)
	return len(entries), nil
}

// Search 返回与 query 最相似的 k 条记录。
func (m *Manager) Search(ctx context.Context, query string, k int) ([]model.Match, error) {
	if k <= 0 {
		k = defaultTopK
	}
	if m.Current() == nil {
		return nil, apperr.New(apperr.ErrIndexNotReady, "vector index has not been created")
	}
	vec, err := m.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrEmbeddingService, err, "embed query")
	}
	matches, err := m.backend.Search(ctx, vec, k)
	if err != nil {
		// 检索期间索引被重置
		if m.Current() == nil {
			return nil, apperr.New(apperr.ErrIndexNotReady, "vector index was reset")
		}
		return nil, apperr.Wrap(apperr.ErrIndexBackend, err, "search index")
	}
	return matches, nil
}

// Count 返回索引中的向量条数，没有索引时返回 0。
func (m *Manager) Count(ctx context.Context) (int64, error) {
	if m.Current() == nil {
		return 0, nil
	}
	n, err := m.backend.Count(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrIndexBackend, err, "count index")
	}
	return n, nil
}

// DeleteDocument 删除某个文档的全部向量。
func (m *Manager) DeleteDocument(ctx context.Context, documentID string) (int64, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if m.Current() == nil {
		return 0, nil
	}
	n, err := m.backend.DeleteDocument(ctx, documentID)
	if err != nil {
		return 0, apperr.Wrap(apperr.ErrIndexBackend, err, "delete vectors of %s", documentID)
	}
	log.Infof("[IndexManager] 删除文档 %s 的 %d 条向量", documentID, n)
	return n, nil
}

// Reset 删除整个索引并清空句柄，下一次写入会以新的 generation 重建。
func (m *Manager) Reset(ctx context.Context) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := m.backend.Drop(ctx); err != nil {
		return apperr.Wrap(apperr.ErrIndexBackend, err, "drop index")
	}
	m.mu.Lock()
	m.current = nil
	m.restored = false
	m.mu.Unlock()
	log.Warnf("[IndexManager] 索引已重置")
	return nil
}

// Stats 返回索引状态汇总。
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	h := m.Current()
	st := Stats{Ready: h != nil, Restored: m.Restored()}
	if h == nil {
		return st, nil
	}
	st.Generation = h.Generation
	st.Dimensions = h.Dimensions
	n, err := m.Count(ctx)
	if err != nil {
		return st, err
	}
	st.Chunks = n
	return st, nil
}
