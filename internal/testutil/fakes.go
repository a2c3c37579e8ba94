// Package testutil 提供测试共用的 embedding 与 LLM 替身。
package testutil

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"docqa-go/pkg/llm"
)

// HashEmbedder 把每个单词哈希到固定维度并做 L2 归一化，包含相同单词的文本向量更接近。
type HashEmbedder struct {
	Dims  int
	calls int64

	mu      sync.Mutex
	failOn  string
	failAll bool
}

// NewHashEmbedder 创建 dims 维的 HashEmbedder。
func NewHashEmbedder(dims int) *HashEmbedder {
	return &HashEmbedder{Dims: dims}
}

// ErrEmbedFailed 是替身在被要求失败时返回的错误。
var ErrEmbedFailed = errors.New("fake embedding failure")

// FailAll 让之后的所有调用失败。
func (e *HashEmbedder) FailAll(fail bool) {
	e.mu.Lock()
	e.failAll = fail
	e.mu.Unlock()
}

// FailOn 让包含 substr 的文本调用失败。
func (e *HashEmbedder) FailOn(substr string) {
	e.mu.Lock()
	e.failOn = substr
	e.mu.Unlock()
}

// Calls 返回累计调用次数。
func (e *HashEmbedder) Calls() int {
	return int(atomic.LoadInt64(&e.calls))
}

func (e *HashEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt64(&e.calls, 1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	fail := e.failAll || (e.failOn != "" && strings.Contains(text, e.failOn))
	e.mu.Unlock()
	if fail {
		return nil, ErrEmbedFailed
	}

	vec := make([]float32, e.Dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.Dims)] += 1
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

// ScriptedLLM 返回固定答案并记录收到的消息。
type ScriptedLLM struct {
	mu       sync.Mutex
	Answer   string
	Err      error
	Requests [][]llm.Message
}

func (s *ScriptedLLM) Generate(ctx context.Context, messages []llm.Message, _ *llm.GenerationParams) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]llm.Message, len(messages))
	copy(cp, messages)
	s.Requests = append(s.Requests, cp)
	if s.Err != nil {
		return "", s.Err
	}
	return s.Answer, nil
}

// Calls 返回 Generate 被调用的次数。
func (s *ScriptedLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

// Last 返回最近一次调用的消息。
func (s *ScriptedLLM) Last() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Requests) == 0 {
		return nil
	}
	return s.Requests[len(s.Requests)-1]
}
