package loader

import (
	"bytes"
	"unicode/utf8"

	"github.com/go-enry/go-enry/v2"
	"github.com/yuin/goldmark"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
)

// loadMarkdown 把 Markdown 渲染为 HTML 后提取可见文本，去掉标题符号、强调和链接语法。
func loadMarkdown(data []byte) ([]model.Section, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if enry.IsBinary(data) || !utf8.Valid(data) {
		return nil, apperr.New(apperr.ErrExtraction, "markdown content is not utf-8 text")
	}
	var buf bytes.Buffer
	if err := goldmark.Convert(data, &buf); err != nil {
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "render markdown")
	}
	return loadHTML(buf.Bytes())
}
