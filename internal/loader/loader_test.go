package loader

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"docqa-go/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTika struct {
	pages    []string
	text     string
	err      error
	calls    int
	lastName string
}

func (f *fakeTika) ExtractText(_ context.Context, r io.Reader, fileName string) (string, error) {
	f.calls++
	f.lastName = fileName
	_, _ = io.ReadAll(r)
	return f.text, f.err
}

func (f *fakeTika) ExtractPages(_ context.Context, r io.Reader, fileName string) ([]string, error) {
	f.calls++
	f.lastName = fileName
	_, _ = io.ReadAll(r)
	return f.pages, f.err
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func buildDOCX(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

const documentXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Quarterly</w:t></w:r><w:r><w:t xml:space="preserve"> report</w:t></w:r></w:p>
    <w:p></w:p>
    <w:tbl><w:tr><w:tc><w:p><w:r><w:t>cell text</w:t></w:r></w:p></w:tc></w:tr></w:tbl>
    <w:p><w:r><w:t>Revenue</w:t><w:tab/><w:t>grew</w:t></w:r></w:p>
  </w:body>
</w:document>`

const coreXML = `<?xml version="1.0" encoding="UTF-8"?>
<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/">
  <dc:title>Q3 Report</dc:title>
</cp:coreProperties>`

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindPDF, KindOf(".PDF"))
	assert.Equal(t, KindDOCX, KindOf("docx"))
	assert.Equal(t, KindText, KindOf(".txt"))
	assert.Equal(t, KindFallback, KindOf(".md"))
	assert.Equal(t, KindFallback, KindOf(".pptx"))
	assert.Equal(t, KindUnknown, KindOf(".exe"))
	assert.Equal(t, KindUnknown, KindOf(""))
}

func TestSupports_DependsOnTika(t *testing.T) {
	plain := New(nil, nil)
	assert.True(t, plain.Supports(".html"))
	assert.True(t, plain.Supports("MD"))
	assert.True(t, plain.Supports(".docx"))
	assert.False(t, plain.Supports(".exe"))
	for _, ext := range []string{".pdf", ".doc", ".xls", ".xlsx", ".ppt", ".pptx", ".rtf"} {
		assert.False(t, plain.Supports(ext), ext)
		assert.NotContains(t, plain.SupportedExtensions(), ext)
	}
	assert.Equal(t, []string{".csv", ".docx", ".htm", ".html", ".md", ".txt"}, plain.SupportedExtensions())

	withTika := New(nil, &fakeTika{})
	assert.True(t, withTika.Supports(".pdf"))
	assert.True(t, withTika.Supports(".pptx"))
	assert.False(t, withTika.Supports(".exe"))
	assert.Contains(t, withTika.SupportedExtensions(), ".pdf")
	assert.Len(t, withTika.SupportedExtensions(), 13)
}

func TestLoad_Text(t *testing.T) {
	p := writeFile(t, "notes.txt", []byte("\xEF\xBB\xBFline one\r\nline two\r\n"))
	sections, err := New(nil, nil).Load(context.Background(), p, ".txt")

	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "line one\nline two\n", sections[0].Text)
	assert.Equal(t, "txt", sections[0].Metadata["format"])
}

func TestLoad_TextRejectsBinary(t *testing.T) {
	p := writeFile(t, "blob.txt", []byte{'a', 0x00, 0x01, 0x02, 'b'})
	_, err := New(nil, nil).Load(context.Background(), p, "")

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrExtraction))
}

func TestLoad_TextRejectsInvalidUTF8(t *testing.T) {
	p := writeFile(t, "latin1.txt", []byte{'c', 'a', 'f', 0xE9, ' ', 'x'})
	_, err := New(nil, nil).Load(context.Background(), p, ".txt")

	assert.True(t, errors.Is(err, apperr.ErrExtraction))
}

func TestLoad_DOCX(t *testing.T) {
	data := buildDOCX(t, map[string]string{
		"word/document.xml": documentXML,
		"docProps/core.xml": coreXML,
	})
	p := writeFile(t, "report.docx", data)

	sections, err := New(nil, nil).Load(context.Background(), p, ".docx")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "Quarterly report\n\ncell text\n\nRevenue\tgrew", sections[0].Text)
	assert.Equal(t, "Q3 Report", sections[0].Metadata["title"])
	assert.Equal(t, "docx", sections[0].Metadata["format"])
}

func TestLoad_CorruptDOCX(t *testing.T) {
	p := writeFile(t, "broken.docx", []byte("this is not a zip archive"))
	_, err := New(nil, nil).Load(context.Background(), p, ".docx")

	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrExtraction))
}

func TestLoad_DOCXWithoutBody(t *testing.T) {
	data := buildDOCX(t, map[string]string{"docProps/core.xml": coreXML})
	p := writeFile(t, "empty.docx", data)
	_, err := New(nil, nil).Load(context.Background(), p, ".docx")

	assert.True(t, errors.Is(err, apperr.ErrExtraction))
}

func TestLoad_PDFPages(t *testing.T) {
	tika := &fakeTika{pages: []string{"page one text", "   ", "page three text"}}
	p := writeFile(t, "paper.pdf", []byte("%PDF-1.4 fake"))

	sections, err := New(nil, tika).Load(context.Background(), p, ".pdf")
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, 1, sections[0].Metadata["page"])
	assert.Equal(t, 3, sections[1].Metadata["page"])
	assert.Equal(t, "paper.pdf", tika.lastName)
}

func TestLoad_PDFWithoutTika(t *testing.T) {
	p := writeFile(t, "paper.pdf", []byte("%PDF-1.4 fake"))
	_, err := New(nil, nil).Load(context.Background(), p, ".pdf")

	assert.True(t, errors.Is(err, apperr.ErrUnsupportedFormat))
	assert.Contains(t, err.Error(), ".pdf")
}

func TestLoad_OfficeFormatWithoutTika(t *testing.T) {
	p := writeFile(t, "slides.pptx", []byte("PK\x03\x04 fake"))
	_, err := New(nil, nil).Load(context.Background(), p, "")

	assert.True(t, errors.Is(err, apperr.ErrUnsupportedFormat))
	assert.Contains(t, err.Error(), ".pptx")
}

func TestLoad_PDFTikaFailure(t *testing.T) {
	tika := &fakeTika{err: errors.New("tika returned 422")}
	p := writeFile(t, "paper.pdf", []byte("%PDF-1.4 fake"))
	_, err := New(nil, tika).Load(context.Background(), p, ".pdf")

	assert.True(t, errors.Is(err, apperr.ErrExtraction))
}

func TestLoad_FallbackUsesTika(t *testing.T) {
	tika := &fakeTika{text: "slide one\r\nslide two"}
	p := writeFile(t, "deck.pptx", []byte("PK fake"))

	sections, err := New(nil, tika).Load(context.Background(), p, ".pptx")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Equal(t, "slide one\nslide two", sections[0].Text)
	assert.Equal(t, 1, tika.calls)
}

func TestLoad_FallbackHTMLWithoutTika(t *testing.T) {
	page := `<html><head><title>t</title><style>p{}</style></head>
<body><h1>Heading</h1><p>First <b>bold</b> para.</p><script>var x=1;</script><p>Second para.</p></body></html>`
	p := writeFile(t, "page.html", []byte(page))

	sections, err := New(nil, nil).Load(context.Background(), p, "")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	assert.Contains(t, sections[0].Text, "Heading")
	assert.Contains(t, sections[0].Text, "bold")
	assert.Contains(t, sections[0].Text, "Second para.")
	assert.NotContains(t, sections[0].Text, "var x")
	assert.Equal(t, "html", sections[0].Metadata["format"])
}

func TestLoad_MarkdownWithoutTika(t *testing.T) {
	md := "# Release notes\n\nThe **lighthouse** now runs on [solar power](https://example.com).\n\n- item one\n- item two\n"
	p := writeFile(t, "notes.md", []byte(md))

	sections, err := New(nil, nil).Load(context.Background(), p, "")
	require.NoError(t, err)
	require.Len(t, sections, 1)
	text := sections[0].Text
	assert.Contains(t, text, "Release notes")
	assert.Contains(t, text, "lighthouse")
	assert.Contains(t, text, "solar power")
	assert.Contains(t, text, "item two")
	assert.NotContains(t, text, "**")
	assert.NotContains(t, text, "https://example.com")
	assert.NotContains(t, text, "# ")
	assert.Equal(t, "md", sections[0].Metadata["format"])
}

func TestLoad_UnknownExtension(t *testing.T) {
	t.Run("binary content is unsupported", func(t *testing.T) {
		p := writeFile(t, "tool.exe", []byte{'M', 'Z', 0x00, 0x00, 0x90})
		_, err := New(nil, nil).Load(context.Background(), p, ".exe")

		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrUnsupportedFormat))
	})
	t.Run("readable text falls back", func(t *testing.T) {
		p := writeFile(t, "server.log", []byte("started\nstopped\n"))
		sections, err := New(nil, nil).Load(context.Background(), p, "")

		require.NoError(t, err)
		assert.Equal(t, "started\nstopped\n", sections[0].Text)
	})
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := New(nil, nil).Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), ".txt")
	assert.True(t, errors.Is(err, apperr.ErrExtraction))
}

func TestLoad_DoesNotModifySource(t *testing.T) {
	original := []byte("keep me\r\nas is")
	p := writeFile(t, "keep.txt", original)
	_, err := New(nil, nil).Load(context.Background(), p, ".txt")
	require.NoError(t, err)

	after, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, original, after)
}
