package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
	"docqa-go/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunksFor(docID string, texts ...string) []model.Chunk {
	out := make([]model.Chunk, 0, len(texts))
	for i, t := range texts {
		out = append(out, model.Chunk{
			DocumentID:   docID,
			DocumentName: docID + ".txt",
			Source:       "uploads/" + docID,
			Index:        i,
			Text:         t,
			Length:       len([]rune(t)),
			Metadata:     map[string]interface{}{"page": i + 1},
		})
	}
	return out
}

func newManager(t *testing.T, snapshot string) (*Manager, *testutil.HashEmbedder) {
	t.Helper()
	store, err := NewMemStore(snapshot)
	require.NoError(t, err)
	emb := testutil.NewHashEmbedder(64)
	return NewManager(store, emb, "test-model", WithEmbedConcurrency(2)), emb
}

func TestManager_SearchBeforeIndex(t *testing.T) {
	m, emb := newManager(t, "")
	_, err := m.Search(context.Background(), "anything", 3)

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrIndexNotReady))
	assert.Equal(t, 0, emb.Calls())
	assert.Nil(t, m.Current())

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestManager_EnsureIndexProbesOnce(t *testing.T) {
	m, emb := newManager(t, "")
	ctx := context.Background()

	h1, err := m.EnsureIndex(ctx)
	require.NoError(t, err)
	h2, err := m.EnsureIndex(ctx)
	require.NoError(t, err)

	assert.Equal(t, 64, h1.Dimensions)
	assert.Equal(t, h1.Generation, h2.Generation)
	assert.Equal(t, 1, emb.Calls())

	// 重置后重建不再探测
	require.NoError(t, m.Reset(ctx))
	h3, err := m.EnsureIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, emb.Calls())
	assert.Greater(t, h3.Generation, h1.Generation)
}

func TestManager_UpsertCreatesIndexFromFirstBatch(t *testing.T) {
	m, emb := newManager(t, "")
	n, err := m.Upsert(context.Background(), chunksFor("a", "alpha one", "alpha two"))

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, emb.Calls())
	require.NotNil(t, m.Current())
	assert.Equal(t, 64, m.Current().Dimensions)
}

func TestManager_CumulativeAndIdempotent(t *testing.T) {
	m, _ := newManager(t, "")
	ctx := context.Background()
	count := func() int64 {
		n, err := m.Count(ctx)
		require.NoError(t, err)
		return n
	}

	_, err := m.Upsert(ctx, chunksFor("a", "apples are red", "apples are sweet"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count())

	_, err = m.Upsert(ctx, chunksFor("b", "bananas are yellow", "bananas are long", "bananas grow"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count())

	// 同一文档再次写入覆盖原有条目
	_, err = m.Upsert(ctx, chunksFor("a", "apples are red", "apples are sweet"))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count())

	// 新上传（新 ID）的相同内容会累加
	_, err = m.Upsert(ctx, chunksFor("a2", "apples are red", "apples are sweet"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), count())

	matches, err := m.Search(ctx, "yellow bananas", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].Payload.DocumentID)
	assert.Equal(t, "test-model", matches[0].Payload.ModelVersion)
}

func TestManager_EmbeddingFailureWritesNothing(t *testing.T) {
	m, emb := newManager(t, "")
	ctx := context.Background()
	_, err := m.Upsert(ctx, chunksFor("a", "first doc"))
	require.NoError(t, err)

	emb.FailOn("poison")
	_, err = m.Upsert(ctx, chunksFor("b", "fine chunk", "poison chunk", "another fine chunk"))

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrEmbeddingService))
	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestManager_EmptyUpsert(t *testing.T) {
	m, emb := newManager(t, "")
	n, err := m.Upsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, emb.Calls())
	assert.Nil(t, m.Current())
}

func TestManager_PayloadCarriesChunkMetadata(t *testing.T) {
	m, _ := newManager(t, "")
	ctx := context.Background()
	chunks := chunksFor("doc", "zero page", "second page text")
	chunks[1].StartOffset = 42
	_, err := m.Upsert(ctx, chunks)
	require.NoError(t, err)

	matches, err := m.Search(ctx, "second page text", 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	p := matches[0].Payload
	assert.Equal(t, "doc_1", matches[0].ID)
	assert.Equal(t, 1, p.ChunkIndex)
	assert.Equal(t, 42, p.StartOffset)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, "doc.txt", p.DocumentName)
	assert.Equal(t, "uploads/doc", p.Source)
}

func TestManager_DeleteDocument(t *testing.T) {
	m, _ := newManager(t, "")
	ctx := context.Background()
	_, _ = m.Upsert(ctx, chunksFor("a", "a1", "a2"))
	_, _ = m.Upsert(ctx, chunksFor("b", "b1"))

	removed, err := m.DeleteDocument(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
	n, _ := m.Count(ctx)
	assert.Equal(t, int64(1), n)
}

func TestManager_ResetStartsNewGeneration(t *testing.T) {
	m, _ := newManager(t, "")
	ctx := context.Background()
	_, err := m.Upsert(ctx, chunksFor("a", "alpha"))
	require.NoError(t, err)
	gen := m.Current().Generation

	require.NoError(t, m.Reset(ctx))
	assert.Nil(t, m.Current())
	_, err = m.Search(ctx, "alpha", 1)
	assert.True(t, errors.Is(err, apperr.ErrIndexNotReady))

	_, err = m.Upsert(ctx, chunksFor("b", "beta"))
	require.NoError(t, err)
	assert.Greater(t, m.Current().Generation, gen)
	n, _ := m.Count(ctx)
	assert.Equal(t, int64(1), n)
}

func TestManager_OpenRestoresSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector_db", "index.json")
	ctx := context.Background()

	m1, _ := newManager(t, path)
	require.NoError(t, m1.Open(ctx))
	assert.Nil(t, m1.Current())
	var texts []string
	for i := 0; i < 4; i++ {
		texts = append(texts, fmt.Sprintf("persistent chunk %d", i))
	}
	_, err := m1.Upsert(ctx, chunksFor("kept", texts...))
	require.NoError(t, err)

	m2, emb := newManager(t, path)
	require.NoError(t, m2.Open(ctx))
	require.NotNil(t, m2.Current())
	assert.True(t, m2.Restored())
	assert.Equal(t, 64, m2.Current().Dimensions)

	matches, err := m2.Search(ctx, "persistent chunk 2", 4)
	require.NoError(t, err)
	assert.Len(t, matches, 4)
	assert.Equal(t, 1, emb.Calls())

	st, err := m2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Ready: true, Restored: true, Generation: 1, Dimensions: 64, Chunks: 4}, st)

	require.NoError(t, m2.Reset(ctx))
	m3, _ := newManager(t, path)
	require.NoError(t, m3.Open(ctx))
	assert.Nil(t, m3.Current())
	assert.False(t, m3.Restored())
}
