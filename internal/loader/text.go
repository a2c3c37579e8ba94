package loader

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/go-enry/go-enry/v2"
	"golang.org/x/net/html"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func loadText(data []byte) ([]model.Section, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if enry.IsBinary(data) {
		return nil, apperr.New(apperr.ErrExtraction, "file content is binary")
	}
	if !utf8.Valid(data) {
		return nil, apperr.New(apperr.ErrExtraction, "file content is not valid utf-8")
	}
	return []model.Section{{Text: normalizeNewlines(string(data))}}, nil
}

// loadHTML 在没有 Tika 时提取 HTML 的可见文本。
func loadHTML(data []byte) ([]model.Section, error) {
	if enry.IsBinary(data) {
		return nil, apperr.New(apperr.ErrExtraction, "file content is binary")
	}
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "parse html")
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if b.Len() > 0 {
					b.WriteString("\n")
				}
				b.WriteString(t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlockElement(n.Data) && b.Len() > 0 {
			b.WriteString("\n")
		}
	}
	walk(doc)
	return []model.Section{{Text: collapseBlankLines(b.String())}}, nil
}

func isBlockElement(tag string) bool {
	switch tag {
	case "p", "div", "section", "article", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "blockquote":
		return true
	}
	return false
}

func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// collapseBlankLines 把连续空行压缩为一个段落分隔。
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, ln := range lines {
		if strings.TrimSpace(ln) == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, ln)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
