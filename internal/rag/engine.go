// Package rag 把向量检索结果与提示词模板组合起来，调用一次生成服务得到回答。
package rag

import (
	"context"
	"errors"
	"strings"
	"sync"

	"docqa-go/internal/apperr"
	"docqa-go/internal/config"
	"docqa-go/internal/model"
	"docqa-go/internal/vectorindex"
	"docqa-go/pkg/llm"
	"docqa-go/pkg/log"
)

const (
	defaultTopK          = 3
	defaultExcerptLength = 300
	unknownDocument      = "unknown"
)

// Index 是检索所需的索引能力，由 vectorindex.Manager 实现。
type Index interface {
	Current() *vectorindex.Handle
	Restored() bool
	Search(ctx context.Context, query string, k int) ([]model.Match, error)
}

// Documents 提供文档名查询与就绪判断，由 registry.Registry 实现。
type Documents interface {
	Get(id string) (*model.DocumentRecord, error)
	HasCompleted() bool
}

// Engine 是检索增强问答引擎。
type Engine struct {
	index     Index
	docs      Documents
	generator llm.Client
	counter   TokenCounter
	retrieval config.RetrievalConfig
	prompt    config.LLMPromptConfig
	gen       *llm.GenerationParams

	mu     sync.Mutex
	chain  *chain
	builds int
}

// Option 配置 Engine。
type Option func(*Engine)

// WithTokenCounter 替换默认的 token 计数器。
func WithTokenCounter(c TokenCounter) Option {
	return func(e *Engine) {
		if c != nil {
			e.counter = c
		}
	}
}

// WithGenerationParams 设置每次生成使用的参数。
func WithGenerationParams(p *llm.GenerationParams) Option {
	return func(e *Engine) { e.gen = p }
}

// NewEngine 创建问答引擎。
func NewEngine(index Index, docs Documents, generator llm.Client, retrieval config.RetrievalConfig, prompt config.LLMPromptConfig, opts ...Option) *Engine {
	if retrieval.TopK <= 0 {
		retrieval.TopK = defaultTopK
	}
	if retrieval.ExcerptLength <= 0 {
		retrieval.ExcerptLength = defaultExcerptLength
	}
	e := &Engine{
		index:     index,
		docs:      docs,
		generator: generator,
		retrieval: retrieval,
		prompt:    prompt,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.counter == nil {
		e.counter = NewTokenCounter(retrieval.TokenizerEncoding)
	}
	return e
}

// chain 绑定到某一代索引句柄。索引重建后 generation 变化，chain 随之重建。
type chain struct {
	generation uint64
	topK       int
	template   promptTemplate
}

// chainFor 返回与句柄匹配的 chain，必要时重建。
func (e *Engine) chainFor(h *vectorindex.Handle) *chain {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.chain != nil && e.chain.generation == h.Generation {
		return e.chain
	}
	e.chain = &chain{
		generation: h.Generation,
		topK:       e.retrieval.TopK,
		template:   newPromptTemplate(e.prompt, e.counter, e.retrieval.MaxContextTokens),
	}
	e.builds++
	log.Infof("[QueryEngine] 构建检索链, generation: %d, top_k: %d", h.Generation, e.retrieval.TopK)
	return e.chain
}

// Ready 判断当前是否可以回答问题，不可用时返回 NotReady 错误。
func (e *Engine) Ready() error {
	if e.index.Current() == nil {
		return apperr.Wrap(apperr.ErrNotReady,
			apperr.New(apperr.ErrIndexNotReady, "vector index has not been created"),
			"no documents have been indexed yet, upload a document first")
	}
	// 处理中的文档不算可查询；重启后恢复的索引即使 registry 为空也可查询
	if !e.docs.HasCompleted() && !e.index.Restored() {
		return apperr.New(apperr.ErrNotReady, "no document has finished ingestion yet")
	}
	return nil
}

// Answer 检索相关片段并生成回答。查询失败不会修改 registry 或索引。
func (e *Engine) Answer(ctx context.Context, query string) (*model.QueryResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.New(apperr.ErrInvalidInput, "query must not be empty")
	}
	if err := e.Ready(); err != nil {
		return nil, err
	}
	h := e.index.Current()
	if h == nil {
		// Ready 之后索引被重置
		return nil, apperr.New(apperr.ErrNotReady, "vector index was reset")
	}
	ch := e.chainFor(h)
	if err := ch.template.checkQuery(query); err != nil {
		return nil, err
	}

	// 1. 检索
	matches, err := e.index.Search(ctx, query, ch.topK)
	if err != nil {
		if errors.Is(err, apperr.ErrIndexNotReady) {
			return nil, apperr.Wrap(apperr.ErrNotReady, err, "vector index is not available")
		}
		return nil, err
	}
	log.Infof("[QueryEngine] 检索到 %d 个片段, query: %q", len(matches), truncateRunes(query, 80))

	// 2. 组装提示词
	refs := make([]reference, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, reference{label: e.documentName(m.Payload), text: m.Text})
	}
	systemMsg, used := ch.template.build(refs, query)
	messages := []llm.Message{
		{Role: "system", Content: systemMsg},
		{Role: "user", Content: query},
	}

	// 3. 调用生成服务，只调用一次
	answer, err := e.generator.Generate(ctx, messages, e.gen)
	if err != nil {
		log.Errorf("[QueryEngine] 生成回答失败: %v", err)
		return nil, apperr.Wrap(apperr.ErrGeneration, err, "generation service failed")
	}

	// 4. 附带出处
	sources := make([]model.SourceDocument, 0, used)
	for i := 0; i < used; i++ {
		m := matches[i]
		src := model.SourceDocument{
			Content:      truncateRunes(m.Text, e.retrieval.ExcerptLength),
			DocumentName: refs[i].label,
		}
		if m.Payload.Page > 0 {
			p := m.Payload.Page
			src.Page = &p
		}
		sources = append(sources, src)
	}
	return &model.QueryResult{Answer: answer, SourceDocuments: sources}, nil
}

// documentName 优先使用 registry 中的名称，其次是写入时记录的名称。
func (e *Engine) documentName(p model.ChunkPayload) string {
	if p.DocumentID != "" {
		if rec, err := e.docs.Get(p.DocumentID); err == nil && rec.Name != "" {
			return rec.Name
		}
	}
	if p.DocumentName != "" {
		return p.DocumentName
	}
	return unknownDocument
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
