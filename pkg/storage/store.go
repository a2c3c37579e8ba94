// Package storage 保存上传的原始文件，支持本地目录与 MinIO 两种后端。
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"docqa-go/internal/config"
)

// FileStore 按 key 保存和读取文件。key 使用 "/" 分隔。
type FileStore interface {
	Save(ctx context.Context, key string, r io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Presigner 由能生成临时下载链接的后端实现。
type Presigner interface {
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// New 根据配置创建 FileStore。
func New(ctx context.Context, cfg config.StorageConfig, minioCfg config.MinIOConfig) (FileStore, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "local":
		return NewLocalStore(cfg.LocalDir)
	case "minio":
		return NewMinioStore(ctx, minioCfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// CleanKey 校验并规范化 key，拒绝绝对路径和 ".." 逃逸。
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid file key %q", key)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid file key %q", key)
	}
	return cleaned, nil
}

// LocalStore 把文件保存在本地目录下。
type LocalStore struct {
	dir string
}

// NewLocalStore 创建本地存储，目录不存在时自动创建。
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(ctx context.Context, key string, r io.Reader, _ int64) error {
	p, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	out, err := os.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, readerWithContext(ctx, r)); err != nil {
		out.Close()
		_ = os.Remove(p)
		return err
	}
	return out.Close()
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}

// Path 返回 key 对应的本地路径。
func (s *LocalStore) Path(key string) (string, error) {
	return s.resolve(key)
}

func (s *LocalStore) resolve(key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.dir, filepath.FromSlash(cleaned)), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return ctxReader{ctx: ctx, r: r}
}
