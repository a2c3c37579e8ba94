// Package chunker 把 Loader 产出的文本段切分为带重叠的 chunk。
package chunker

import (
	"strings"
	"unicode"

	"docqa-go/internal/model"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// 切分点优先级：段落 > 换行 > 句末 > 空白。
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "), []rune("! "), []rune("? "),
	[]rune("。"), []rune("！"), []rune("？"),
	[]rune(" "), []rune("\t"),
}

// Splitter 按 rune 长度切分文本，优先在自然边界处截断。
type Splitter struct {
	chunkSize int
	overlap   int
}

// Option 配置 Splitter。
type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		s.chunkSize = size
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		s.overlap = overlap
	}
}

// New 创建 Splitter。chunkSize <= 0 使用默认值；overlap >= chunkSize 时关闭重叠。
func New(opts ...Option) *Splitter {
	s := &Splitter{chunkSize: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkSize <= 0 {
		s.chunkSize = DefaultChunkSize
	}
	if s.overlap < 0 || s.overlap >= s.chunkSize {
		s.overlap = 0
	}
	return s
}

// Split 是 New(WithChunkSize(size), WithOverlap(overlap)).Split(sections) 的简写。
func Split(sections []model.Section, chunkSize, chunkOverlap int) []model.Chunk {
	return New(WithChunkSize(chunkSize), WithOverlap(chunkOverlap)).Split(sections)
}

// ChunkSize 返回生效的窗口大小。
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap 返回生效的重叠大小。
func (s *Splitter) Overlap() int { return s.overlap }

// Split 依次切分每个 section。chunk 序号在所有 section 间连续编号。
// 调用方负责填写 DocumentID、Source 与 DocumentName。
func (s *Splitter) Split(sections []model.Section) []model.Chunk {
	var chunks []model.Chunk
	for si, sec := range sections {
		for _, sp := range s.spans([]rune(sec.Text)) {
			md := make(map[string]interface{}, len(sec.Metadata)+1)
			for k, v := range sec.Metadata {
				md[k] = v
			}
			md["section"] = si
			chunks = append(chunks, model.Chunk{
				Index:        len(chunks),
				SectionIndex: si,
				Text:         sp.text,
				Length:       sp.length,
				StartOffset:  sp.start,
				Metadata:     md,
			})
		}
	}
	return chunks
}

type span struct {
	start  int
	length int
	text   string
}

func (s *Splitter) spans(r []rune) []span {
	n := len(r)
	if n == 0 || isBlank(r) {
		return nil
	}

	var out []span
	start := 0
	for start < n {
		end := start + s.chunkSize
		cut := n
		if end < n {
			lo := start + s.chunkSize/2
			if lo < start+s.overlap+1 {
				lo = start + s.overlap + 1
			}
			if lo > end {
				lo = end
			}
			cut = boundary(r, lo, end)
		}

		piece := r[start:cut]
		if !isBlank(piece) {
			out = append(out, span{start: start, length: len(piece), text: string(piece)})
		}
		if cut >= n {
			break
		}
		start = s.nextStart(r, start, cut)
	}
	return out
}

// boundary 在 [lo, end] 内寻找最靠后的切分点，切在分隔符之后；找不到时在 end 处硬切。
func boundary(r []rune, lo, end int) int {
	for _, sep := range separators {
		for i := end - len(sep); i >= lo; i-- {
			if hasPrefixAt(r, i, sep) {
				return i + len(sep)
			}
		}
	}
	return end
}

// nextStart 从 cut 回退 overlap 个 rune，并前移到第一个单词起点。
func (s *Splitter) nextStart(r []rune, start, cut int) int {
	next := cut - s.overlap
	if next <= start {
		next = start + 1
	}
	if s.overlap == 0 || next == 0 || unicode.IsSpace(r[next-1]) {
		return next
	}
	for j := next; j < cut-1; j++ {
		if unicode.IsSpace(r[j]) {
			return j + 1
		}
	}
	return next
}

func hasPrefixAt(r []rune, i int, sep []rune) bool {
	if i < 0 || i+len(sep) > len(r) {
		return false
	}
	for k, c := range sep {
		if r[i+k] != c {
			return false
		}
	}
	return true
}

func isBlank(r []rune) bool {
	return strings.TrimSpace(string(r)) == ""
}
