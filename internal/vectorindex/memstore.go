package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"docqa-go/internal/model"
	"docqa-go/pkg/log"
)

var errNoIndex = errors.New("index does not exist")

// MemStore 是进程内的暴力余弦检索实现。设置 snapshotPath 后每次写入都会落盘，
// 重启时从快照恢复。
type MemStore struct {
	mu           sync.RWMutex
	snapshotPath string
	created      bool
	dims         int
	entries      []model.VectorEntry
	byID         map[string]int
}

type snapshot struct {
	Dimensions int                 `json:"dimensions"`
	Entries    []model.VectorEntry `json:"entries"`
}

// NewMemStore 创建内存索引。snapshotPath 为空时不持久化。
func NewMemStore(snapshotPath string) (*MemStore, error) {
	s := &MemStore{snapshotPath: snapshotPath, byID: map[string]int{}}
	if snapshotPath == "" {
		return s, nil
	}
	data, err := os.ReadFile(snapshotPath)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取向量快照失败: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("解析向量快照失败: %w", err)
	}
	s.created = true
	s.dims = snap.Dimensions
	for _, e := range snap.Entries {
		s.entries = putEntry(s.entries, s.byID, e)
	}
	log.Infof("[MemStore] 从快照 %s 恢复 %d 条向量, 维度: %d", snapshotPath, len(s.entries), s.dims)
	return s, nil
}

func (s *MemStore) Exists(_ context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created, nil
}

func (s *MemStore) Dimensions(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims, nil
}

func (s *MemStore) Create(_ context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid dimension %d", dims)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return nil
	}
	if err := s.persistLocked(dims, nil); err != nil {
		return err
	}
	s.created = true
	s.dims = dims
	s.entries = nil
	s.byID = map[string]int{}
	return nil
}

// Upsert 按 ID 覆盖或追加。
func (s *MemStore) Upsert(_ context.Context, entries []model.VectorEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return errNoIndex
	}
	for _, e := range entries {
		if len(e.Vector) != s.dims {
			return fmt.Errorf("vector %s has dimension %d, index expects %d", e.ID, len(e.Vector), s.dims)
		}
	}
	// 在副本上写入，快照成功后才替换，失败时检索结果保持不变
	next := make([]model.VectorEntry, len(s.entries), len(s.entries)+len(entries))
	copy(next, s.entries)
	byID := make(map[string]int, len(s.byID)+len(entries))
	for id, i := range s.byID {
		byID[id] = i
	}
	for _, e := range entries {
		next = putEntry(next, byID, e)
	}
	if err := s.persistLocked(s.dims, next); err != nil {
		return err
	}
	s.entries, s.byID = next, byID
	return nil
}

func putEntry(entries []model.VectorEntry, byID map[string]int, e model.VectorEntry) []model.VectorEntry {
	if i, ok := byID[e.ID]; ok {
		entries[i] = e
		return entries
	}
	byID[e.ID] = len(entries)
	return append(entries, e)
}

func (s *MemStore) Search(_ context.Context, vector []float32, k int) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.created {
		return nil, errNoIndex
	}
	scores := make([]float64, len(s.entries))
	idxs := make([]int, len(s.entries))
	for i, e := range s.entries {
		scores[i] = cosine(e.Vector, vector)
		idxs[i] = i
	}
	// 分数相同按写入顺序，保证结果稳定
	sort.SliceStable(idxs, func(a, b int) bool { return scores[idxs[a]] > scores[idxs[b]] })
	if k > len(idxs) {
		k = len(idxs)
	}
	out := make([]model.Match, 0, k)
	for _, j := range idxs[:k] {
		e := s.entries[j]
		out = append(out, model.Match{ID: e.ID, Text: e.Text, Score: scores[j], Payload: e.Payload})
	}
	return out, nil
}

func (s *MemStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.entries)), nil
}

func (s *MemStore) DeleteDocument(_ context.Context, documentID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return 0, errNoIndex
	}
	kept := make([]model.VectorEntry, 0, len(s.entries))
	var removed int64
	for _, e := range s.entries {
		if e.Payload.DocumentID == documentID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.persistLocked(s.dims, kept); err != nil {
		return 0, err
	}
	s.entries = kept
	s.byID = make(map[string]int, len(kept))
	for i, e := range kept {
		s.byID[e.ID] = i
	}
	return removed, nil
}

func (s *MemStore) Drop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = false
	s.dims = 0
	s.entries = nil
	s.byID = map[string]int{}
	if s.snapshotPath == "" {
		return nil
	}
	if err := os.Remove(s.snapshotPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除向量快照失败: %w", err)
	}
	return nil
}

// persistLocked 先写临时文件再 rename，避免留下半截快照。
func (s *MemStore) persistLocked(dims int, entries []model.VectorEntry) error {
	if s.snapshotPath == "" {
		return nil
	}
	data, err := json.Marshal(snapshot{Dimensions: dims, Entries: entries})
	if err != nil {
		return fmt.Errorf("序列化向量快照失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.snapshotPath), 0o755); err != nil {
		return fmt.Errorf("创建快照目录失败: %w", err)
	}
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入向量快照失败: %w", err)
	}
	return os.Rename(tmp, s.snapshotPath)
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
