package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"docqa-go/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	ok := map[string]string{
		"uploads/abc/file.txt":    "uploads/abc/file.txt",
		"uploads//abc/./file.txt": "uploads/abc/file.txt",
		`uploads\abc\file.txt`:    "uploads/abc/file.txt",
	}
	for in, want := range ok {
		got, err := CleanKey(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	for _, bad := range []string{"", "/etc/passwd", "../x", "a/../../x", ".."} {
		_, err := CleanKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestLocalStore_SaveOpen(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, "uploads/doc-1/notes.txt", strings.NewReader("hello"), 5))
	rc, err := s.Open(ctx, "uploads/doc-1/notes.txt")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = s.Open(ctx, "uploads/missing.txt")
	assert.Error(t, err)
	assert.Error(t, s.Save(ctx, "../escape.txt", strings.NewReader("x"), 1))
}

func TestLocalStore_SaveHonoursCancelledContext(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, s.Save(ctx, "a.txt", strings.NewReader("data"), 4))
	_, err = s.Open(context.Background(), "a.txt")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Type: "local", LocalDir: t.TempDir()}, config.MinIOConfig{})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = New(context.Background(), config.StorageConfig{Type: "ftp"}, config.MinIOConfig{})
	assert.Error(t, err)
	_, err = NewLocalStore("")
	assert.Error(t, err)
}
