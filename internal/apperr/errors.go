// Package apperr 定义了文档问答服务内部统一使用的错误类型。
package apperr

import (
	"errors"
	"fmt"
)

// 错误种类。通过 errors.Is 与 *Error 比较种类。
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtraction        = errors.New("extraction failed")
	ErrEmbeddingService  = errors.New("embedding service failed")
	ErrIndexBackend      = errors.New("index backend failed")
	ErrGeneration        = errors.New("generation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotReady          = errors.New("not ready")
	ErrIndexNotReady     = errors.New("index not ready")
	ErrDuplicateUpload   = errors.New("duplicate upload id")
	ErrDuplicateDocument = errors.New("duplicate document")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrStorage           = errors.New("storage failed")
)

var codes = map[error]string{
	ErrUnsupportedFormat: "UNSUPPORTED_FORMAT",
	ErrExtraction:        "EXTRACTION_ERROR",
	ErrEmbeddingService:  "EMBEDDING_SERVICE_ERROR",
	ErrIndexBackend:      "INDEX_BACKEND_ERROR",
	ErrGeneration:        "GENERATION_ERROR",
	ErrInvalidTransition: "INVALID_TRANSITION",
	ErrNotReady:          "NOT_READY",
	ErrIndexNotReady:     "INDEX_NOT_READY",
	ErrDuplicateUpload:   "DUPLICATE_UPLOAD",
	ErrDuplicateDocument: "DUPLICATE_DOCUMENT",
	ErrNotFound:          "NOT_FOUND",
	ErrInvalidInput:      "INVALID_INPUT",
	ErrStorage:           "STORAGE_ERROR",
}

// Error 携带错误种类、说明和底层原因。
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Unwrap 同时暴露种类与原因，errors.Is 可以匹配其中任意一个。
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// New 创建一个不带原因的错误。
func New(kind error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap 用指定种类包装 err。
func Wrap(kind error, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Code 返回适合放入响应体的稳定错误码。
func Code(err error) string {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		if c, ok := codes[ae.Kind]; ok {
			return c
		}
	}
	for kind, c := range codes {
		if errors.Is(err, kind) {
			return c
		}
	}
	return "INTERNAL_ERROR"
}
