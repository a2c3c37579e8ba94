package chunker

import (
	"strings"
	"testing"
	"unicode"

	"docqa-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sections(texts ...string) []model.Section {
	out := make([]model.Section, 0, len(texts))
	for _, t := range texts {
		out = append(out, model.Section{Text: t})
	}
	return out
}

func words(n int) string {
	vocab := []string{"alpha", "beta", "gamma", "delta", "eps", "zeta", "eta", "theta"}
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			if i%11 == 0 {
				b.WriteString(". ")
			} else {
				b.WriteString(" ")
			}
		}
		b.WriteString(vocab[i%len(vocab)])
	}
	return b.String()
}

// reconstruct 把 chunk 按偏移拼回原文。
func reconstruct(chunks []model.Chunk) string {
	var out []rune
	for _, c := range chunks {
		r := []rune(c.Text)
		skip := len(out) - c.StartOffset
		if skip < 0 {
			skip = 0
		}
		if skip < len(r) {
			out = append(out, r[skip:]...)
		}
	}
	return string(out)
}

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := New()
		assert.Equal(t, DefaultChunkSize, s.ChunkSize())
		assert.Equal(t, DefaultChunkOverlap, s.Overlap())
	})
	t.Run("non-positive size uses default", func(t *testing.T) {
		s := New(WithChunkSize(0), WithOverlap(10))
		assert.Equal(t, DefaultChunkSize, s.ChunkSize())
		assert.Equal(t, 10, s.Overlap())
	})
	t.Run("overlap not smaller than size disables overlap", func(t *testing.T) {
		s := New(WithChunkSize(100), WithOverlap(100))
		assert.Equal(t, 0, s.Overlap())
	})
}

func TestSplit_EmptyAndBlank(t *testing.T) {
	assert.Empty(t, Split(sections(""), 100, 10))
	assert.Empty(t, Split(sections("   \n\t \n"), 100, 10))
	assert.Empty(t, Split(nil, 100, 10))
}

func TestSplit_ShortSectionYieldsOneChunk(t *testing.T) {
	chunks := Split(sections("hello world"), 100, 20)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 11, chunks[0].Length)
}

func TestSplit_PrefersParagraphBreak(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n\n" + strings.Repeat("b", 40)
	chunks := Split(sections(text), 50, 0)

	require.Len(t, chunks, 2)
	assert.Equal(t, strings.Repeat("a", 30)+"\n\n", chunks[0].Text)
	assert.Equal(t, 32, chunks[1].StartOffset)
	assert.Equal(t, strings.Repeat("b", 40), chunks[1].Text)
}

func TestSplit_SentenceBeforeWhitespace(t *testing.T) {
	text := "one two three four five. six seven eight nine ten eleven twelve"
	chunks := Split(sections(text), 40, 0)

	require.NotEmpty(t, chunks)
	assert.Equal(t, "one two three four five. ", chunks[0].Text)
}

func TestSplit_HardCutWithoutBoundaries(t *testing.T) {
	text := strings.Repeat("x", 120)
	chunks := Split(sections(text), 50, 10)

	require.Len(t, chunks, 3)
	assert.Equal(t, []int{0, 40, 80}, []int{chunks[0].StartOffset, chunks[1].StartOffset, chunks[2].StartOffset})
	assert.Equal(t, []int{50, 50, 40}, []int{chunks[0].Length, chunks[1].Length, chunks[2].Length})
	assert.Equal(t, text, reconstruct(chunks))
}

func TestSplit_ReconstructionAndBounds(t *testing.T) {
	text := words(600)
	runes := []rune(text)
	chunks := Split(sections(text), 200, 40)

	require.Greater(t, len(chunks), 3)
	prevEnd := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, c.Length, 200)
		assert.Equal(t, string(runes[c.StartOffset:c.StartOffset+c.Length]), c.Text)
		if i > 0 {
			assert.LessOrEqual(t, c.StartOffset, prevEnd, "gap before chunk %d", i)
			assert.Greater(t, c.StartOffset, chunks[i-1].StartOffset)
			// 重叠区域从单词开头开始
			assert.True(t, unicode.IsSpace(runes[c.StartOffset-1]), "chunk %d starts mid-word", i)
		}
		prevEnd = c.StartOffset + c.Length
	}
	assert.Equal(t, len(runes), prevEnd)
	assert.Equal(t, text, reconstruct(chunks))
}

func TestSplit_Deterministic(t *testing.T) {
	secs := sections(words(400), words(150))
	a := Split(secs, 120, 30)
	b := Split(secs, 120, 30)
	assert.Equal(t, a, b)
}

func TestSplit_CJKCountsRunes(t *testing.T) {
	text := strings.Repeat("中文句子。", 30)
	chunks := Split(sections(text), 40, 5)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c.Text)), 40)
		assert.True(t, strings.HasSuffix(c.Text, "。") || c.StartOffset+c.Length == len([]rune(text)))
	}
	assert.Equal(t, text, reconstruct(chunks))
}

func TestSplit_MetadataAndSectionIndex(t *testing.T) {
	secs := []model.Section{
		{Text: "first page", Metadata: map[string]interface{}{"page": 1}},
		{Text: "second page", Metadata: map[string]interface{}{"page": 2}},
	}
	chunks := Split(secs, 100, 10)

	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[1].Index)
	assert.Equal(t, 1, chunks[1].SectionIndex)
	assert.Equal(t, 2, chunks[1].Page())
	assert.Equal(t, 1, chunks[1].Metadata["section"])

	// 修改 chunk 元数据不影响 section
	chunks[0].Metadata["page"] = 99
	assert.Equal(t, 1, secs[0].Metadata["page"])
}
