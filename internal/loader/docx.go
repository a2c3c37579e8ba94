package loader

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"docqa-go/internal/apperr"
	"docqa-go/internal/model"
)

// loadDOCX 解析 OOXML 压缩包中的 word/document.xml。
func loadDOCX(data []byte) ([]model.Section, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "open docx archive")
	}

	var body []byte
	var core []byte
	for _, f := range reader.File {
		switch f.Name {
		case "word/document.xml":
			if body, err = readZipFile(f); err != nil {
				return nil, apperr.Wrap(apperr.ErrExtraction, err, "read word/document.xml")
			}
		case "docProps/core.xml":
			core, _ = readZipFile(f)
		}
	}
	if body == nil {
		return nil, apperr.New(apperr.ErrExtraction, "docx archive has no word/document.xml")
	}

	paragraphs, err := parseParagraphs(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrExtraction, err, "parse word/document.xml")
	}

	md := map[string]interface{}{}
	if title := parseTitle(core); title != "" {
		md["title"] = title
	}
	return []model.Section{{Text: strings.Join(paragraphs, "\n\n"), Metadata: md}}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// parseParagraphs 按 token 遍历，表格中的段落也会被收集。
func parseParagraphs(content []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(content))
	var (
		paragraphs []string
		cur        strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				cur.WriteString("\t")
			case "br", "cr":
				cur.WriteString("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if p := strings.TrimSpace(cur.String()); p != "" {
					paragraphs = append(paragraphs, p)
				}
				cur.Reset()
			}
		case xml.CharData:
			if inText {
				cur.Write(t)
			}
		}
	}
	return paragraphs, nil
}

type coreProperties struct {
	Title string `xml:"title"`
}

func parseTitle(core []byte) string {
	if len(core) == 0 {
		return ""
	}
	var props coreProperties
	if err := xml.Unmarshal(core, &props); err != nil {
		return ""
	}
	return strings.TrimSpace(props.Title)
}
