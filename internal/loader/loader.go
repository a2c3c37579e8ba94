// Package loader 按文件类型把上传文件转换为统一的文本段序列。
package loader

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
	"docqa-go/pkg/log"
)

// DocumentKind 标记文件所属的提取方式。
type DocumentKind int

const (
	KindUnknown DocumentKind = iota
	KindPDF
	KindDOCX
	KindText
	KindFallback
)

func (k DocumentKind) String() string {
	switch k {
	case KindPDF:
		return "pdf"
	case KindDOCX:
		return "docx"
	case KindText:
		return "text"
	case KindFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// 没有 Tika 时无法提取文本的扩展名。
var tikaOnlyExtensions = map[string]struct{}{
	".pdf": {}, ".doc": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {}, ".rtf": {},
}

// 使用通用提取器的扩展名。
var fallbackExtensions = map[string]struct{}{
	".doc": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".md": {}, ".html": {}, ".htm": {}, ".csv": {}, ".rtf": {},
}

// NormalizeExt 统一为带点的小写扩展名。
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// KindOf 根据扩展名返回 DocumentKind。
func KindOf(ext string) DocumentKind {
	switch ext = NormalizeExt(ext); ext {
	case ".pdf":
		return KindPDF
	case ".docx":
		return KindDOCX
	case ".txt":
		return KindText
	}
	if _, ok := fallbackExtensions[ext]; ok {
		return KindFallback
	}
	return KindUnknown
}

// Opener 打开存储中的文件。
type Opener interface {
	Open(ctx context.Context, path string) (io.ReadCloser, error)
}

// TextExtractor 是 Tika 客户端提供的能力。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
	ExtractPages(ctx context.Context, r io.Reader, fileName string) ([]string, error)
}

type osOpener struct{}

func (osOpener) Open(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

// Loader 读取文件并分派给对应的提取器。
type Loader struct {
	opener Opener
	tika   TextExtractor
}

// New 创建 Loader。opener 为 nil 时直接读本地文件；tika 为 nil 时只接受
// 内置提取器能处理的格式。
func New(opener Opener, tika TextExtractor) *Loader {
	if opener == nil {
		opener = osOpener{}
	}
	return &Loader{opener: opener, tika: tika}
}

// Supports 报告扩展名是否在上传白名单中。未配置 Tika 时二进制办公格式与 PDF 不在其中。
func (l *Loader) Supports(ext string) bool {
	ext = NormalizeExt(ext)
	if KindOf(ext) == KindUnknown {
		return false
	}
	if _, ok := tikaOnlyExtensions[ext]; ok {
		return l.tika != nil
	}
	return true
}

// SupportedExtensions 返回排好序的白名单扩展名。
func (l *Loader) SupportedExtensions() []string {
	var exts []string
	for _, ext := range []string{".pdf", ".docx", ".txt"} {
		if l.Supports(ext) {
			exts = append(exts, ext)
		}
	}
	for ext := range fallbackExtensions {
		if l.Supports(ext) {
			exts = append(exts, ext)
		}
	}
	sort.Strings(exts)
	return exts
}

// Load 读取 path 指向的文件并返回文本段。declaredExtension 为空时取 path 的扩展名。
func (l *Loader) Load(ctx context.Context, path, declaredExtension string) ([]model.Section, error) {
	ext := NormalizeExt(declaredExtension)
	if ext == "" {
		ext = NormalizeExt(filepath.Ext(path))
	}
	kind := KindOf(ext)
	if kind != KindUnknown && !l.Supports(ext) {
		return nil, apperr.New(apperr.ErrUnsupportedFormat, "extension %q requires a tika server", ext)
	}

	data, err := l.read(ctx, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "read %s", path)
	}
	name := filepath.Base(path)
	log.Debugf("[Loader] 加载文件 %s, kind: %s, 大小: %d 字节", name, kind, len(data))

	var sections []model.Section
	switch kind {
	case KindPDF:
		sections, err = l.loadPDF(ctx, data, name)
	case KindDOCX:
		sections, err = loadDOCX(data)
	case KindText:
		sections, err = loadText(data)
	case KindFallback:
		sections, err = l.loadFallback(ctx, data, name, ext)
	case KindUnknown:
		sections, err = l.loadFallback(ctx, data, name, ext)
		if err != nil {
			log.Warnf("[Loader] 未知扩展名 %q 的通用提取失败: %v", ext, err)
			return nil, apperr.Wrap(apperr.ErrUnsupportedFormat, err, "unsupported file extension %q", ext)
		}
	}
	if err != nil {
		return nil, err
	}
	for i := range sections {
		if sections[i].Metadata == nil {
			sections[i].Metadata = map[string]interface{}{}
		}
		sections[i].Metadata["format"] = strings.TrimPrefix(ext, ".")
	}
	return sections, nil
}

func (l *Loader) read(ctx context.Context, path string) ([]byte, error) {
	rc, err := l.opener.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (l *Loader) loadPDF(ctx context.Context, data []byte, name string) ([]model.Section, error) {
	pages, err := l.tika.ExtractPages(ctx, bytes.NewReader(data), name)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "extract pdf %s", name)
	}
	sections := make([]model.Section, 0, len(pages))
	for i, p := range pages {
		if strings.TrimSpace(p) == "" {
			continue
		}
		sections = append(sections, model.Section{
			Text:     p,
			Metadata: map[string]interface{}{"page": i + 1},
		})
	}
	return sections, nil
}

func (l *Loader) loadFallback(ctx context.Context, data []byte, name, ext string) ([]model.Section, error) {
	if l.tika != nil {
		text, err := l.tika.ExtractText(ctx, bytes.NewReader(data), name)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrExtraction, err, "extract %s", name)
		}
		return []model.Section{{Text: normalizeNewlines(text)}}, nil
	}
	switch ext {
	case ".html", ".htm":
		return loadHTML(data)
	case ".md":
		return loadMarkdown(data)
	}
	return loadText(data)
}
